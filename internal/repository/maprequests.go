package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
)

// requestIDSeparator joins the site code and the sequence number.
const requestIDSeparator = "-"

// MapRequestsRepository persists map requests, their per-datatype status
// rows and the durable request-id sequence.
type MapRequestsRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewMapRequestsRepository(db DBTX, logger *zap.Logger) *MapRequestsRepository {
	return &MapRequestsRepository{db: db, logger: logger}
}

// NextRequestID advances the durable map_requests counter and returns the
// site-scoped external identifier. The counter row survives restarts and
// the atomic upsert keeps it safe under concurrent requesters.
func (r *MapRequestsRepository) NextRequestID(ctx context.Context, site string) (string, error) {
	var value int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sequences (name, value) VALUES ('map_requests', 1)
		 ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("failed to advance map_requests sequence: %w", err)
	}

	if site == "" {
		return fmt.Sprintf("%d", value), nil
	}
	return fmt.Sprintf("%s%s%d", site, requestIDSeparator, value), nil
}

// Create persists a map request and one status row per requested data type
// (status unset until the first status message arrives). The request_id is
// assigned exactly once, lazily, and the WKT cache is recomputed from the
// geometry.
func (r *MapRequestsRepository) Create(ctx context.Context, mr *domain.MapRequest, site string, dataTypeIDs []uuid.UUID) error {
	if mr.ID == uuid.Nil {
		mr.ID = uuid.New()
	}
	if mr.RequestID == "" {
		requestID, err := r.NextRequestID(ctx, site)
		if err != nil {
			return err
		}
		mr.RequestID = requestID
	}
	now := time.Now().UTC()
	mr.Created = now
	mr.Modified = now

	if mr.Geometry == nil {
		mr.GeometryWKT = ""
	} else {
		mr.GeometryWKT = mr.Geometry.WKT()
	}

	parametersJSON, err := json.Marshal(mr.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode map request parameters: %w", err)
	}
	var geometryJSON []byte
	if mr.Geometry != nil {
		geometryJSON, err = json.Marshal(mr.Geometry)
		if err != nil {
			return fmt.Errorf("failed to encode map request geometry: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO map_requests (
			id, request_id, created, modified, user_id, title,
			parameters, geometry, geometry_wkt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		mr.ID, mr.RequestID, mr.Created, mr.Modified, mr.UserID, mr.Title,
		parametersJSON, geometryJSON, mr.GeometryWKT,
	)
	if err != nil {
		return fmt.Errorf("failed to insert map request: %w", err)
	}

	for _, dataTypeID := range dataTypeIDs {
		_, err = r.db.ExecContext(ctx,
			`INSERT INTO map_request_data_types (map_request_id, data_type_id)
			 VALUES ($1, $2)`,
			mr.ID, dataTypeID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert map request data type: %w", err)
		}
	}

	return nil
}

// GetByRequestID resolves a map request by its external identifier.
func (r *MapRequestsRepository) GetByRequestID(ctx context.Context, requestID string) (*domain.MapRequest, error) {
	var (
		mr             domain.MapRequest
		userID         uuid.NullUUID
		parametersJSON []byte
		geometryJSON   []byte
		geometryWKT    sql.NullString
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, request_id, created, modified, user_id, title,
		        parameters, geometry, geometry_wkt
		 FROM map_requests WHERE request_id = $1`,
		requestID,
	).Scan(
		&mr.ID, &mr.RequestID, &mr.Created, &mr.Modified, &userID, &mr.Title,
		&parametersJSON, &geometryJSON, &geometryWKT,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMapRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load map request %s: %w", requestID, err)
	}

	if userID.Valid {
		mr.UserID = &userID.UUID
	}
	if geometryWKT.Valid {
		mr.GeometryWKT = geometryWKT.String
	}
	if err := json.Unmarshal(parametersJSON, &mr.Parameters); err != nil {
		return nil, fmt.Errorf("failed to decode map request parameters: %w", err)
	}
	mr.Geometry, err = geometryOrNil(geometryJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode map request geometry: %w", err)
	}

	return &mr, nil
}

// GetDataType resolves a data type by its external datatype code.
func (r *MapRequestsRepository) GetDataType(ctx context.Context, datatypeID string) (*domain.DataType, error) {
	var dt domain.DataType
	err := r.db.QueryRowContext(ctx,
		`SELECT id, datatype_id, description FROM data_types WHERE datatype_id = $1`,
		datatypeID,
	).Scan(&dt.ID, &dt.DatatypeID, &dt.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDataTypeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load data type %s: %w", datatypeID, err)
	}
	return &dt, nil
}

// DataTypesFor returns the data types requested by a map request.
func (r *MapRequestsRepository) DataTypesFor(ctx context.Context, mapRequestID uuid.UUID) ([]domain.DataType, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dt.id, dt.datatype_id, dt.description
		 FROM data_types dt
		 JOIN map_request_data_types mrdt ON mrdt.data_type_id = dt.id
		 WHERE mrdt.map_request_id = $1
		 ORDER BY dt.datatype_id`,
		mapRequestID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query requested data types: %w", err)
	}
	defer rows.Close()

	var dataTypes []domain.DataType
	for rows.Next() {
		var dt domain.DataType
		if err := rows.Scan(&dt.ID, &dt.DatatypeID, &dt.Description); err != nil {
			return nil, fmt.Errorf("failed to scan data type: %w", err)
		}
		dataTypes = append(dataTypes, dt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data types: %w", err)
	}
	return dataTypes, nil
}

// LayerStatuses returns the per-datatype statuses of a map request, nil
// entries standing for "no status yet".
func (r *MapRequestsRepository) LayerStatuses(ctx context.Context, mapRequestID uuid.UUID) ([]*domain.MapRequestStatus, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status FROM map_request_data_types WHERE map_request_id = $1`,
		mapRequestID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query layer statuses: %w", err)
	}
	defer rows.Close()

	var statuses []*domain.MapRequestStatus
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan layer status: %w", err)
		}
		if s.Valid {
			status := domain.MapRequestStatus(s.String)
			statuses = append(statuses, &status)
		} else {
			statuses = append(statuses, nil)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate layer statuses: %w", err)
	}
	return statuses, nil
}

// SetLayerStatus records a status transition for one (request, datatype)
// pair. AVAILABLE and FAILED are terminal: rows already in a terminal state
// are left untouched and updated reports false.
func (r *MapRequestsRepository) SetLayerStatus(ctx context.Context, mapRequestID, dataTypeID uuid.UUID, status domain.MapRequestStatus, url string) (updated bool, err error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE map_request_data_types
		 SET status = $1, url = COALESCE(NULLIF($2, ''), url)
		 WHERE map_request_id = $3 AND data_type_id = $4
		   AND (status IS NULL OR status NOT IN ($5, $6))`,
		status, url, mapRequestID, dataTypeID,
		domain.MapRequestStatusAvailable, domain.MapRequestStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set layer status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}
