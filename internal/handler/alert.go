// Package handler contains the message handlers behind the bus adapter
// (CAP alert ingestion, camera detections, map-request status updates) and
// the alert validation operation. Each inbound message is handled inside a
// single all-or-nothing transaction.
package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
	"github.com/astrosat/safers-dashboard-api/internal/notify"
	"github.com/astrosat/safers-dashboard-api/internal/repository"
)

// CAPMessage is the inbound CAP-shaped alert message body.
type CAPMessage struct {
	Sent   string    `json:"sent"`
	Status string    `json:"status"`
	Source string    `json:"source"`
	Scope  string    `json:"scope"`
	Info   []CAPInfo `json:"info"`
}

// CAPInfo is one hazard classification block with its area list.
type CAPInfo struct {
	Category    string     `json:"category"`
	Event       string     `json:"event"`
	Urgency     string     `json:"urgency"`
	Severity    string     `json:"severity"`
	Certainty   string     `json:"certainty"`
	Description string     `json:"description"`
	Area        []geo.Area `json:"area"`
}

// timestampLayouts covers the formats providers actually send: RFC3339 and
// the zone-without-colon variant the camera service uses.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ingestOutcome is what one CAP message produced.
type ingestOutcome struct {
	Alerts  []*domain.Alert
	Details []string
}

// ingestCAP turns a CAP message into persisted alerts and geometries inside
// the caller's transaction. Alerts are created UNVALIDATED and are not
// correlated here: event membership is decided later, when an alert is
// validated. Any parse or validation failure aborts the whole message:
// partial alert creation from one malformed message is worse than total
// rejection.
func ingestCAP(
	ctx context.Context,
	tx repository.DBTX,
	msg CAPMessage,
	raw json.RawMessage,
	logger *zap.Logger,
) (*ingestOutcome, error) {
	alertsRepo := repository.NewAlertsRepository(tx, logger)

	sent, err := parseTimestamp(msg.Sent)
	if err != nil {
		return nil, fmt.Errorf("invalid sent timestamp: %w", err)
	}

	outcome := &ingestOutcome{}
	for _, info := range msg.Info {
		collection, err := geo.CAPAreaToGeoJSON(info.Area)
		if err != nil {
			return nil, fmt.Errorf("unable to convert area: %w", err)
		}
		if len(collection.Features) == 0 {
			return nil, fmt.Errorf("alert info block has no geometry")
		}

		alert := &domain.Alert{
			Type:        domain.AlertTypeUnvalidated,
			Timestamp:   sent,
			Status:      msg.Status,
			Source:      msg.Source,
			Scope:       msg.Scope,
			Category:    info.Category,
			Event:       info.Event,
			Urgency:     info.Urgency,
			Severity:    info.Severity,
			Certainty:   info.Certainty,
			Description: info.Description,
			Message:     raw,
		}
		for _, feature := range collection.Features {
			description, _ := feature.Properties["description"].(string)
			alert.Geometries = append(alert.Geometries, domain.AlertGeometry{
				Description: description,
				Geometry:    feature.Geometry,
			})
		}

		created, err := alertsRepo.Save(ctx, alert)
		if err != nil {
			return nil, fmt.Errorf("unable to save alert: %w", err)
		}
		if !created {
			outcome.Details = append(outcome.Details, fmt.Sprintf("skipped duplicate alert: %s", alert.ID))
			continue
		}

		outcome.Alerts = append(outcome.Alerts, alert)
		outcome.Details = append(outcome.Details, fmt.Sprintf("created alert: %s", alert.ID))
	}

	return outcome, nil
}

// AlertHandler ingests CAP alert messages from the bus.
type AlertHandler struct {
	db     *sql.DB
	feed   *notify.Feed
	logger *zap.Logger
}

func NewAlertHandler(db *sql.DB, feed *notify.Feed, logger *zap.Logger) *AlertHandler {
	return &AlertHandler{
		db:     db,
		feed:   feed,
		logger: logger,
	}
}

// Handle processes one CAP message inside one transaction.
func (h *AlertHandler) Handle(routingKey string, payload []byte) error {
	ctx := context.Background()

	var msg CAPMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("unable to parse CAP message: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	outcome, err := ingestCAP(ctx, tx, msg, payload, h.logger)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	publishIngestOutcome(ctx, h.feed, outcome)
	for _, detail := range outcome.Details {
		h.logger.Info(detail, zap.String("routing_key", routingKey))
	}
	return nil
}

// publishIngestOutcome pushes post-commit activity entries for the alerts
// one message produced.
func publishIngestOutcome(ctx context.Context, feed *notify.Feed, outcome *ingestOutcome) {
	if feed == nil {
		return
	}
	for _, alert := range outcome.Alerts {
		feed.Publish(ctx, notify.ActivityAlertCreated, map[string]interface{}{
			"alert_id": alert.ID.String(),
			"category": alert.Category,
			"source":   alert.Source,
		})
	}
}
