package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func testAlert() *domain.Alert {
	return &domain.Alert{
		Type:      domain.AlertTypeUnvalidated,
		Timestamp: time.Date(2022, 1, 27, 9, 48, 0, 0, time.UTC),
		Status:    "Actual",
		Source:    "EFFIS",
		Scope:     "Public",
		Category:  "Fire",
		Geometries: []domain.AlertGeometry{
			{Description: "hotspot", Geometry: geo.NewPoint(22.9, 40.5)},
		},
	}
}

func TestAlertsSave_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	alert := testAlert()

	mock.ExpectQuery(`SELECT id FROM alerts WHERE hash`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alert_geometries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Save(context.Background(), alert)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, uuid.Nil, alert.ID)
	assert.NotEmpty(t, alert.Hash)
	assert.Equal(t, alert.ID, alert.Geometries[0].AlertID)
	// Point geometries get no bounding box.
	assert.Nil(t, alert.Geometries[0].BoundingBox)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsSave_DuplicateFingerprintIsNoOp(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	alert := testAlert()
	existingID := uuid.New()

	mock.ExpectQuery(`SELECT id FROM alerts WHERE hash`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existingID.String()))

	created, err := repo.Save(context.Background(), alert)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existingID, alert.ID, "no-op save must surface the existing record id")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsSave_NoGeometries(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	alert := testAlert()
	alert.Geometries = nil

	_, err := repo.Save(context.Background(), alert)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsSave_PolygonGetsBoundingBox(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	alert := testAlert()
	alert.Geometries[0].Geometry = geo.NewPolygon([][]geo.Position{{
		{0, 0}, {4, 0}, {4, 2}, {0, 0},
	}})

	mock.ExpectQuery(`SELECT id FROM alerts WHERE hash`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO alerts`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO alert_geometries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := repo.Save(context.Background(), alert)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, alert.Geometries[0].BoundingBox)
	assert.Equal(t, geo.TypePolygon, alert.Geometries[0].BoundingBox.Type)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsGetByID(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	id := uuid.New()
	ts := time.Date(2022, 1, 27, 9, 48, 0, 0, time.UTC)
	columns := []string{
		"id", "created", "modified", "type", "timestamp", "status", "source",
		"scope", "category", "event", "urgency", "severity", "certainty",
		"description", "media", "message", "hash", "event_id",
	}

	mock.ExpectQuery(`SELECT (.+) FROM alerts WHERE id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), ts, ts, "UNVALIDATED", ts, "Actual", "EFFIS",
			"Public", "Fire", "Wildfire hotspot", "Immediate", "Severe",
			"Likely", "", []byte(`{}`), []byte(`{"sent":"x"}`), "abc123", nil,
		))
	mock.ExpectQuery(`SELECT (.+) FROM alert_geometries WHERE alert_id`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "alert_id", "description", "geometry", "bounding_box"}).
			AddRow(uuid.New().String(), id.String(), "hotspot",
				[]byte(`{"type":"Point","coordinates":[22.9,40.5]}`), nil))

	alert, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, alert.ID)
	assert.Equal(t, domain.AlertTypeUnvalidated, alert.Type)
	assert.Nil(t, alert.EventID)
	require.Len(t, alert.Geometries, 1)
	assert.Equal(t, geo.NewPoint(22.9, 40.5), alert.Geometries[0].Geometry)
	assert.Nil(t, alert.Geometries[0].BoundingBox)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsGetByID_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT (.+) FROM alerts WHERE id`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsValidate_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(`UPDATE alerts SET type`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.Validate(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsValidate_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(`UPDATE alerts SET type`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT type FROM alerts`).
		WillReturnError(sql.ErrNoRows)

	err := repo.Validate(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrAlertNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertsValidate_AlreadyValidated(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewAlertsRepository(db, zap.NewNop())

	id := uuid.New()
	mock.ExpectExec(`UPDATE alerts SET type`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT type FROM alerts`).
		WillReturnRows(sqlmock.NewRows([]string{"type"}).AddRow("VALIDATED"))

	err := repo.Validate(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrAlreadyValidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
