package handler

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/correlation"
	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/notify"
	"github.com/astrosat/safers-dashboard-api/internal/repository"
)

// AlertValidator performs the UNVALIDATED to VALIDATED transition. It is
// validation, not ingestion, that decides event membership: the newly
// validated alert is handed to event correlation inside the same
// transaction. Exposed for the API layer alongside the map-request fan-out.
type AlertValidator struct {
	db         *sql.DB
	correlator *correlation.Correlator
	feed       *notify.Feed
	logger     *zap.Logger
}

func NewAlertValidator(db *sql.DB, correlator *correlation.Correlator, feed *notify.Feed, logger *zap.Logger) *AlertValidator {
	return &AlertValidator{
		db:         db,
		correlator: correlator,
		feed:       feed,
		logger:     logger,
	}
}

// Validate marks the alert VALIDATED and attaches it to an open event within
// the merge thresholds, or opens a new one. Returns the event and whether it
// was newly created. Validating a missing alert or one already validated is
// an error and leaves everything untouched.
func (v *AlertValidator) Validate(ctx context.Context, alertID uuid.UUID) (*domain.Event, bool, error) {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	alerts := repository.NewAlertsRepository(tx, v.logger)
	events := repository.NewEventsRepository(tx, v.logger)

	if err := alerts.Validate(ctx, alertID); err != nil {
		return nil, false, err
	}
	alert, err := alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, false, err
	}

	event, created, err := v.correlator.Correlate(ctx, events, alert)
	if err != nil {
		return nil, false, fmt.Errorf("unable to correlate alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if v.feed != nil {
		kind := notify.ActivityEventExtended
		if created {
			kind = notify.ActivityEventOpened
		}
		v.feed.Publish(ctx, kind, map[string]interface{}{
			"event_id": event.ID.String(),
			"alert_id": alertID.String(),
		})
	}

	v.logger.Info("Validated alert",
		zap.String("alert_id", alertID.String()),
		zap.String("event_id", event.ID.String()),
		zap.Bool("event_created", created),
	)
	return event, created, nil
}
