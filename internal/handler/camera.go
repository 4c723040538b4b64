package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/domain"
	"github.com/astrosat/safers-dashboard-api/internal/geo"
	"github.com/astrosat/safers-dashboard-api/internal/notify"
	"github.com/astrosat/safers-dashboard-api/internal/repository"
)

// tagMap translates detection flags to media tags; flags not listed here
// (like not_available) carry no tag.
var tagMap = map[string]string{
	"fire":  domain.TagFire,
	"smoke": domain.TagSmoke,
}

// fireClassMap translates class_of_fire flags to fire-severity classes.
var fireClassMap = map[string]string{
	"class_1": domain.FireClass1,
	"class_2": domain.FireClass2,
	"class_3": domain.FireClass3,
}

// CameraMessage is the inbound detection message from the camera service.
type CameraMessage struct {
	Timestamp string `json:"timestamp"`
	Camera    struct {
		ID           string  `json:"ID"`
		Owner        string  `json:"owner"`
		CamDirection float64 `json:"cam_direction"`
		Model        string  `json:"model"`
		Type         string  `json:"type"`
		Latitude     float64 `json:"latitude"`
		Longitude    float64 `json:"longitude"`
		Altitude     float64 `json:"altitude"`
	} `json:"camera"`
	Detection    map[string]bool `json:"detection"`
	ClassOfFire  map[string]bool `json:"class_of_fire"`
	FireLocation struct {
		NotAvailable bool     `json:"not_available"`
		Direction    *float64 `json:"direction"`
		Distance     *float64 `json:"distance"`
		Latitude     *float64 `json:"latitude"`
		Longitude    *float64 `json:"longitude"`
	} `json:"fire_location"`
	Link string `json:"link"`
}

// CameraHandler ingests camera detection messages: it records the media,
// sweeps stale undetected records and synthesizes an alert when the
// cooldown rule fires.
type CameraHandler struct {
	db     *sql.DB
	feed   *notify.Feed
	logger *zap.Logger

	// cooldown suppresses repeat alerts from the same camera; retention
	// bounds how long undetected media are kept.
	cooldown  time.Duration
	retention time.Duration
}

func NewCameraHandler(
	db *sql.DB,
	feed *notify.Feed,
	cooldown, retention time.Duration,
	logger *zap.Logger,
) *CameraHandler {
	return &CameraHandler{
		db:        db,
		feed:      feed,
		logger:    logger,
		cooldown:  cooldown,
		retention: retention,
	}
}

// Handle processes one detection message inside one transaction. Messages
// from cameras that were never registered are rejected so they get
// redelivered once the registry catches up.
func (h *CameraHandler) Handle(routingKey string, payload []byte) error {
	ctx := context.Background()

	var msg CameraMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("unable to parse camera message: %w", err)
	}

	timestamp, err := parseTimestamp(msg.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid detection timestamp: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cameras := repository.NewCamerasRepository(tx, h.logger)

	camera, err := cameras.GetByCameraID(ctx, msg.Camera.ID)
	if err != nil {
		return fmt.Errorf("unable to resolve camera %q: %w", msg.Camera.ID, err)
	}

	media := buildMedia(camera, &msg, timestamp, payload)

	created, err := cameras.SaveMedia(ctx, media)
	if err != nil {
		return fmt.Errorf("unable to save camera media: %w", err)
	}

	cutoff := time.Now().UTC().Add(-h.retention)
	deleted, err := cameras.DeleteStaleUndetected(ctx, camera.ID, cutoff, media.ID)
	if err != nil {
		return fmt.Errorf("unable to sweep stale camera media: %w", err)
	}

	var outcome *ingestOutcome
	if created && media.IsDetected() {
		outcome, err = h.maybeTriggerAlert(ctx, tx, cameras, camera, media, payload)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if h.feed != nil && created {
		h.feed.Publish(ctx, notify.ActivityCameraMediaCreated, map[string]interface{}{
			"camera_id":       camera.CameraID,
			"camera_media_id": media.ID.String(),
			"tags":            media.Tags,
		})
	}
	if outcome != nil {
		publishIngestOutcome(ctx, h.feed, outcome)
	}

	h.logger.Info("Processed camera message",
		zap.String("camera_id", camera.CameraID),
		zap.Bool("media_created", created),
		zap.Int64("media_deleted", deleted),
		zap.Bool("alert_triggered", outcome != nil && len(outcome.Alerts) > 0),
	)
	return nil
}

// maybeTriggerAlert applies the cooldown rule and, when it fires, runs the
// synthesized CAP message through alert ingestion within the same
// transaction, linking the resulting alert back to the media.
func (h *CameraHandler) maybeTriggerAlert(
	ctx context.Context,
	tx repository.DBTX,
	cameras *repository.CamerasRepository,
	camera *domain.Camera,
	media *domain.CameraMedia,
	payload []byte,
) (*ingestOutcome, error) {
	lastAlertedAt, err := cameras.LatestAlertedDetectionAt(ctx, camera.ID, media.ID)
	if err != nil {
		return nil, fmt.Errorf("unable to load camera alert history: %w", err)
	}
	if !media.TriggersAlert(lastAlertedAt, h.cooldown) {
		return nil, nil
	}

	capMsg := synthesizeCameraAlert(camera, media)
	outcome, err := ingestCAP(ctx, tx, capMsg, payload, h.logger)
	if err != nil {
		return nil, fmt.Errorf("unable to ingest synthesized alert: %w", err)
	}
	if len(outcome.Alerts) == 0 {
		return outcome, nil
	}

	alert := outcome.Alerts[0]
	if err := cameras.LinkAlert(ctx, media.ID, alert.ID); err != nil {
		return nil, err
	}
	media.AlertID = &alert.ID
	return outcome, nil
}

// buildMedia maps the wire message onto a media record. The hazard location
// is the reported fire location when present, the camera's own position
// otherwise.
func buildMedia(camera *domain.Camera, msg *CameraMessage, timestamp time.Time, payload []byte) *domain.CameraMedia {
	var tags []string
	for flag, set := range msg.Detection {
		if !set {
			continue
		}
		if tag, ok := tagMap[flag]; ok {
			tags = append(tags, tag)
		}
	}
	var fireClasses []string
	for flag, set := range msg.ClassOfFire {
		if !set {
			continue
		}
		if class, ok := fireClassMap[flag]; ok {
			fireClasses = append(fireClasses, class)
		}
	}

	geometry := camera.Geometry
	if msg.FireLocation.Latitude != nil && msg.FireLocation.Longitude != nil {
		geometry = geo.NewPoint(*msg.FireLocation.Longitude, *msg.FireLocation.Latitude)
	}

	direction := camera.Direction
	if msg.FireLocation.Direction != nil {
		direction = *msg.FireLocation.Direction
	}

	return &domain.CameraMedia{
		CameraID:    camera.ID,
		Type:        domain.CameraMediaTypeImage,
		Timestamp:   timestamp,
		Tags:        tags,
		FireClasses: fireClasses,
		Direction:   &direction,
		Distance:    msg.FireLocation.Distance,
		Geometry:    geometry,
		Message:     payload,
		RemoteURL:   msg.Link,
	}
}

// synthesizeCameraAlert builds the CAP message for a triggered detection.
// The alert is anchored at the camera's own position: the reported fire
// location is an estimate and stays on the media record only.
func synthesizeCameraAlert(camera *domain.Camera, media *domain.CameraMedia) CAPMessage {
	point := fmt.Sprintf("%s %s",
		strconv.FormatFloat(camera.Geometry.Point.Lat(), 'f', -1, 64),
		strconv.FormatFloat(camera.Geometry.Point.Lon(), 'f', -1, 64),
	)
	area := geo.Area{
		"areaDesc": mustRawJSON(camera.CameraID),
		"point":    mustRawJSON(point),
	}

	return CAPMessage{
		Sent:   media.Timestamp.Format(time.RFC3339Nano),
		Status: "Actual",
		Source: domain.AlertSourceInSitu,
		Scope:  "Public",
		Info: []CAPInfo{{
			Category:    "Fire",
			Event:       "Camera detection",
			Description: fmt.Sprintf("detection from camera %s", camera.CameraID),
			Area:        []geo.Area{area},
		}},
	}
}

func mustRawJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
