package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

func TestNextRequestID(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mock.ExpectQuery(`INSERT INTO sequences`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))

	requestID, err := repo.NextRequestID(context.Background(), "site1")
	require.NoError(t, err)
	assert.Equal(t, "site1-42", requestID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNextRequestID_NoSite(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mock.ExpectQuery(`INSERT INTO sequences`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))

	requestID, err := repo.NextRequestID(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "7", requestID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapRequestCreate(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	geometry := geo.NewPoint(22.9, 40.5)
	mr := &domain.MapRequest{
		Title:      "Burned area",
		Parameters: map[string]interface{}{"start": "2022-01-01"},
		Geometry:   &geometry,
	}
	dataTypes := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectQuery(`INSERT INTO sequences`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO map_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO map_request_data_types`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO map_request_data_types`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), mr, "site1", dataTypes)
	require.NoError(t, err)
	assert.Equal(t, "site1-1", mr.RequestID)
	assert.Equal(t, "POINT (22.9 40.5)", mr.GeometryWKT)
	assert.NotEqual(t, uuid.Nil, mr.ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapRequestCreate_KeepsAssignedRequestID(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mr := &domain.MapRequest{
		RequestID:  "site1-99",
		Parameters: map[string]interface{}{},
	}

	mock.ExpectExec(`INSERT INTO map_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), mr, "site1", nil)
	require.NoError(t, err)
	assert.Equal(t, "site1-99", mr.RequestID, "request_id is assigned exactly once")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapRequestGetByRequestID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT (.+) FROM map_requests WHERE request_id`).
		WithArgs("site1-404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByRequestID(context.Background(), "site1-404")
	assert.ErrorIs(t, err, domain.ErrMapRequestNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapRequestGetDataType_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT (.+) FROM data_types WHERE datatype_id`).
		WithArgs("99999").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetDataType(context.Background(), "99999")
	assert.ErrorIs(t, err, domain.ErrDataTypeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLayerStatuses(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"status"}).
		AddRow("PROCESSING").
		AddRow(nil).
		AddRow("AVAILABLE")
	mock.ExpectQuery(`SELECT status FROM map_request_data_types`).
		WillReturnRows(rows)

	statuses, err := repo.LayerStatuses(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	require.NotNil(t, statuses[0])
	assert.Equal(t, domain.MapRequestStatusProcessing, *statuses[0])
	assert.Nil(t, statuses[1])
	require.NotNil(t, statuses[2])
	assert.Equal(t, domain.MapRequestStatusAvailable, *statuses[2])

	assert.True(t, domain.AnyLayersUnset(statuses))
	assert.False(t, domain.AllLayersAvailable(statuses))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetLayerStatus_Updates(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	mock.ExpectExec(`UPDATE map_request_data_types`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.SetLayerStatus(context.Background(),
		uuid.New(), uuid.New(), domain.MapRequestStatusProcessing, "")
	require.NoError(t, err)
	assert.True(t, updated)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetLayerStatus_TerminalStateIsNotReverted(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewMapRequestsRepository(db, zap.NewNop())

	// The guard in the WHERE clause filters out rows already terminal.
	mock.ExpectExec(`UPDATE map_request_data_types`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.SetLayerStatus(context.Background(),
		uuid.New(), uuid.New(), domain.MapRequestStatusProcessing, "")
	require.NoError(t, err)
	assert.False(t, updated)

	assert.NoError(t, mock.ExpectationsWereMet())
}
