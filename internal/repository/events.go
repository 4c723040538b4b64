package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// EventsRepository persists incident events and the alert membership.
type EventsRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewEventsRepository(db DBTX, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{db: db, logger: logger}
}

// Open returns ongoing events (end_date is null), most recently updated
// first, each carrying the timestamp of its latest member alert.
func (r *EventsRepository) Open(ctx context.Context) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.created, e.modified, e.name, e.description,
		        e.start_date, e.country, e.geometry, e.center, e.bounding_box,
		        COALESCE(MAX(a.timestamp), e.start_date) AS last_alert_at
		 FROM events e
		 LEFT JOIN alerts a ON a.event_id = e.id
		 WHERE e.end_date IS NULL
		 GROUP BY e.id
		 ORDER BY e.modified DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open events: %w", err)
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		var (
			ev              domain.Event
			geometryJSON    []byte
			centerJSON      []byte
			boundingBoxJSON []byte
		)
		err := rows.Scan(
			&ev.ID, &ev.Created, &ev.Modified, &ev.Name, &ev.Description,
			&ev.StartDate, &ev.Country, &geometryJSON, &centerJSON,
			&boundingBoxJSON, &ev.LastAlertAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := json.Unmarshal(geometryJSON, &ev.Geometry); err != nil {
			return nil, fmt.Errorf("failed to decode event geometry: %w", err)
		}
		if err := json.Unmarshal(centerJSON, &ev.Center); err != nil {
			return nil, fmt.Errorf("failed to decode event center: %w", err)
		}
		ev.BoundingBox, err = geometryOrNil(boundingBoxJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event bounding box: %w", err)
		}

		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open events: %w", err)
	}
	return events, nil
}

// Create persists a new event.
func (r *EventsRepository) Create(ctx context.Context, ev *domain.Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := time.Now().UTC()
	ev.Created = now
	ev.Modified = now

	geometryJSON, centerJSON, boundingBoxJSON, err := encodeEventAggregates(ev)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO events (
			id, created, modified, name, description, start_date, end_date,
			people_affected, casualties, estimated_damage, country,
			geometry, center, bounding_box
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		ev.ID, ev.Created, ev.Modified, ev.Name, ev.Description,
		ev.StartDate, ev.EndDate,
		ev.PeopleAffected, ev.Casualties, ev.EstimatedDamage, ev.Country,
		geometryJSON, centerJSON, boundingBoxJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// AttachAlert records the alert's membership. An alert belongs to at most
// one event.
func (r *EventsRepository) AttachAlert(ctx context.Context, eventID, alertID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET event_id = $1, modified = $2 WHERE id = $3`,
		eventID, time.Now().UTC(), alertID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach alert to event: %w", err)
	}
	return nil
}

// MemberGeometries returns the geometries of every alert in the event, for
// aggregate recomputation.
func (r *EventsRepository) MemberGeometries(ctx context.Context, eventID uuid.UUID) ([]geo.Geometry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT g.geometry
		 FROM alert_geometries g
		 JOIN alerts a ON a.id = g.alert_id
		 WHERE a.event_id = $1`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query member geometries: %w", err)
	}
	defer rows.Close()

	var geometries []geo.Geometry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan member geometry: %w", err)
		}
		var g geo.Geometry
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("failed to decode member geometry: %w", err)
		}
		geometries = append(geometries, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate member geometries: %w", err)
	}
	return geometries, nil
}

// UpdateAggregates writes the recomputed geometry, centre and bounding box.
func (r *EventsRepository) UpdateAggregates(ctx context.Context, ev *domain.Event) error {
	ev.Modified = time.Now().UTC()

	geometryJSON, centerJSON, boundingBoxJSON, err := encodeEventAggregates(ev)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE events SET geometry = $1, center = $2, bounding_box = $3, modified = $4
		 WHERE id = $5`,
		geometryJSON, centerJSON, boundingBoxJSON, ev.Modified, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update event aggregates: %w", err)
	}
	return nil
}

func encodeEventAggregates(ev *domain.Event) (geometryJSON, centerJSON, boundingBoxJSON []byte, err error) {
	geometryJSON, err = json.Marshal(ev.Geometry)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode event geometry: %w", err)
	}
	centerJSON, err = json.Marshal(ev.Center)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to encode event center: %w", err)
	}
	if ev.BoundingBox != nil {
		boundingBoxJSON, err = json.Marshal(ev.BoundingBox)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode event bounding box: %w", err)
		}
	}
	return geometryJSON, centerJSON, boundingBoxJSON, nil
}
