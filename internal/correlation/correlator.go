// Package correlation decides whether a newly validated alert extends an
// existing incident event or starts a new one, based on spatial distance
// and temporal proximity.
package correlation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// EventStore is the slice of event persistence the correlator needs. It is
// satisfied by *repository.EventsRepository.
type EventStore interface {
	Open(ctx context.Context) ([]*domain.Event, error)
	Create(ctx context.Context, ev *domain.Event) error
	AttachAlert(ctx context.Context, eventID, alertID uuid.UUID) error
	MemberGeometries(ctx context.Context, eventID uuid.UUID) ([]geo.Geometry, error)
	UpdateAggregates(ctx context.Context, ev *domain.Event) error
}

// Correlator holds the merge thresholds.
type Correlator struct {
	distanceKm float64
	timerange  time.Duration
	logger     *zap.Logger
}

func NewCorrelator(distanceKm float64, timerange time.Duration, logger *zap.Logger) *Correlator {
	return &Correlator{
		distanceKm: distanceKm,
		timerange:  timerange,
		logger:     logger,
	}
}

// Correlate attaches the alert to the first open event within the distance
// radius and time window (open events are ordered most-recently-updated
// first, which also breaks ties) or creates a new single-alert event.
// Returns the event and whether it was newly created.
func (c *Correlator) Correlate(ctx context.Context, events EventStore, alert *domain.Alert) (*domain.Event, bool, error) {
	open, err := events.Open(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load open events: %w", err)
	}

	center := alert.Center()
	for _, ev := range open {
		if !c.qualifies(center, alert.Timestamp, ev) {
			continue
		}

		if err := events.AttachAlert(ctx, ev.ID, alert.ID); err != nil {
			return nil, false, err
		}
		members, err := events.MemberGeometries(ctx, ev.ID)
		if err != nil {
			return nil, false, err
		}
		ev.RecomputeAggregates(members)
		if err := events.UpdateAggregates(ctx, ev); err != nil {
			return nil, false, err
		}

		c.logger.Info("Alert added to existing event",
			zap.String("alert_id", alert.ID.String()),
			zap.String("event_id", ev.ID.String()),
		)
		return ev, false, nil
	}

	ev := &domain.Event{
		Name:      alert.Event,
		StartDate: alert.Timestamp,
	}
	ev.RecomputeAggregates(alert.GeometryList())
	if err := events.Create(ctx, ev); err != nil {
		return nil, false, err
	}
	if err := events.AttachAlert(ctx, ev.ID, alert.ID); err != nil {
		return nil, false, err
	}

	c.logger.Info("Alert added to new event",
		zap.String("alert_id", alert.ID.String()),
		zap.String("event_id", ev.ID.String()),
	)
	return ev, true, nil
}

// qualifies applies the merge rule: within the distance radius (geodesic)
// of the event's centre and within the time window of its latest member
// alert.
func (c *Correlator) qualifies(center geo.Position, at time.Time, ev *domain.Event) bool {
	if geo.HaversineKm(center, ev.Center) > c.distanceKm {
		return false
	}
	delta := at.Sub(ev.LastAlertAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= c.timerange
}
