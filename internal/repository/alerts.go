package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
)

// AlertsRepository persists alerts and their geometries.
type AlertsRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewAlertsRepository(db DBTX, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{db: db, logger: logger}
}

// Save persists a new alert with its geometries. The write is guarded by
// the content fingerprint: if an alert with the same fingerprint already
// exists the save is a no-op, the existing id is set on the record and
// created is false. Bounding boxes are recomputed here on every save, never
// hand-set.
func (r *AlertsRepository) Save(ctx context.Context, alert *domain.Alert) (created bool, err error) {
	if len(alert.Geometries) == 0 {
		return false, fmt.Errorf("alert has no geometries")
	}

	for i := range alert.Geometries {
		alert.Geometries[i].BoundingBox = alert.Geometries[i].Geometry.Envelope()
	}
	alert.Hash = domain.Fingerprint(alert.HashSource())

	var existingID uuid.UUID
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM alerts WHERE hash = $1`,
		alert.Hash,
	).Scan(&existingID)
	if err == nil {
		r.logger.Debug("Alert fingerprint unchanged, skipping save",
			zap.String("alert_id", existingID.String()),
		)
		alert.ID = existingID
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check alert fingerprint: %w", err)
	}

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	now := time.Now().UTC()
	alert.Created = now
	alert.Modified = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO alerts (
			id, created, modified, type, timestamp, status, source, scope,
			category, event, urgency, severity, certainty, description,
			media, message, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		alert.ID, alert.Created, alert.Modified, alert.Type, alert.Timestamp,
		alert.Status, alert.Source, alert.Scope,
		alert.Category, alert.Event, alert.Urgency, alert.Severity,
		alert.Certainty, alert.Description,
		pq.Array(alert.Media), []byte(alert.Message), alert.Hash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}

	for i := range alert.Geometries {
		g := &alert.Geometries[i]
		if g.ID == uuid.Nil {
			g.ID = uuid.New()
		}
		g.AlertID = alert.ID

		geometryJSON, err := json.Marshal(g.Geometry)
		if err != nil {
			return false, fmt.Errorf("failed to encode alert geometry: %w", err)
		}
		var boundingBoxJSON []byte
		if g.BoundingBox != nil {
			boundingBoxJSON, err = json.Marshal(g.BoundingBox)
			if err != nil {
				return false, fmt.Errorf("failed to encode bounding box: %w", err)
			}
		}

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO alert_geometries (id, alert_id, description, geometry, bounding_box)
			 VALUES ($1, $2, $3, $4, $5)`,
			g.ID, g.AlertID, g.Description, geometryJSON, boundingBoxJSON,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert alert geometry: %w", err)
		}
	}

	return true, nil
}

// GetByID loads an alert with its geometries.
func (r *AlertsRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	var (
		alert   domain.Alert
		message []byte
		eventID uuid.NullUUID
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created, modified, type, timestamp, status, source, scope,
		        category, event, urgency, severity, certainty, description,
		        media, message, hash, event_id
		 FROM alerts WHERE id = $1`,
		id,
	).Scan(
		&alert.ID, &alert.Created, &alert.Modified, &alert.Type, &alert.Timestamp,
		&alert.Status, &alert.Source, &alert.Scope,
		&alert.Category, &alert.Event, &alert.Urgency, &alert.Severity,
		&alert.Certainty, &alert.Description,
		pq.Array(&alert.Media), &message, &alert.Hash, &eventID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert %s: %w", id, err)
	}
	alert.Message = message
	if eventID.Valid {
		alert.EventID = &eventID.UUID
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, alert_id, description, geometry, bounding_box
		 FROM alert_geometries WHERE alert_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert geometries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			g               domain.AlertGeometry
			geometryJSON    []byte
			boundingBoxJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.AlertID, &g.Description, &geometryJSON, &boundingBoxJSON); err != nil {
			return nil, fmt.Errorf("failed to scan alert geometry: %w", err)
		}
		if err := json.Unmarshal(geometryJSON, &g.Geometry); err != nil {
			return nil, fmt.Errorf("failed to decode alert geometry: %w", err)
		}
		g.BoundingBox, err = geometryOrNil(boundingBoxJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode alert bounding box: %w", err)
		}
		alert.Geometries = append(alert.Geometries, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert geometries: %w", err)
	}

	return &alert, nil
}

// Validate moves an alert from UNVALIDATED to VALIDATED. Validating an
// alert in any other state is a conflict.
func (r *AlertsRepository) Validate(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET type = $1, modified = $2 WHERE id = $3 AND type = $4`,
		domain.AlertTypeValidated, time.Now().UTC(), id, domain.AlertTypeUnvalidated,
	)
	if err != nil {
		return fmt.Errorf("failed to validate alert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current domain.AlertType
	err = r.db.QueryRowContext(ctx, `SELECT type FROM alerts WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrAlertNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load alert type: %w", err)
	}
	return domain.ErrAlreadyValidated
}
