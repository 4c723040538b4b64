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
	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// detectedTags is the tag set that classifies a media as a detection.
var detectedTags = []string{domain.TagFire, domain.TagSmoke}

// CamerasRepository persists cameras and their detection media.
type CamerasRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewCamerasRepository(db DBTX, logger *zap.Logger) *CamerasRepository {
	return &CamerasRepository{db: db, logger: logger}
}

// GetByCameraID resolves a camera by its external device identifier.
func (r *CamerasRepository) GetByCameraID(ctx context.Context, cameraID string) (*domain.Camera, error) {
	var (
		camera       domain.Camera
		geometryJSON []byte
		altitude     sql.NullFloat64
		lastUpdate   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, camera_id, is_active, name, model, owner, nation,
		        altitude, direction, geometry, last_update
		 FROM cameras WHERE camera_id = $1`,
		cameraID,
	).Scan(
		&camera.ID, &camera.CameraID, &camera.IsActive,
		&camera.Name, &camera.Model, &camera.Owner, &camera.Nation,
		&altitude, &camera.Direction, &geometryJSON, &lastUpdate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCameraNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load camera %s: %w", cameraID, err)
	}

	if altitude.Valid {
		camera.Altitude = &altitude.Float64
	}
	if lastUpdate.Valid {
		t := lastUpdate.Time
		camera.LastUpdate = &t
	}
	if err := json.Unmarshal(geometryJSON, &camera.Geometry); err != nil {
		return nil, fmt.Errorf("failed to decode camera geometry: %w", err)
	}

	return &camera, nil
}

// SaveMedia persists a detection media record, guarded by the content
// fingerprint (redelivered device messages are no-ops). A successful insert
// refreshes the parent camera's last_update.
func (r *CamerasRepository) SaveMedia(ctx context.Context, media *domain.CameraMedia) (created bool, err error) {
	media.BoundingBox = media.Geometry.Envelope()
	media.Hash = domain.Fingerprint(media.HashSource())

	var existingID uuid.UUID
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM camera_media WHERE hash = $1`,
		media.Hash,
	).Scan(&existingID)
	if err == nil {
		r.logger.Debug("Camera media fingerprint unchanged, skipping save",
			zap.String("camera_media_id", existingID.String()),
		)
		media.ID = existingID
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check camera media fingerprint: %w", err)
	}

	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}
	now := time.Now().UTC()
	media.Created = now
	media.Modified = now

	geometryJSON, err := json.Marshal(media.Geometry)
	if err != nil {
		return false, fmt.Errorf("failed to encode camera media geometry: %w", err)
	}
	var boundingBoxJSON []byte
	if media.BoundingBox != nil {
		boundingBoxJSON, err = json.Marshal(media.BoundingBox)
		if err != nil {
			return false, fmt.Errorf("failed to encode bounding box: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO camera_media (
			id, camera_id, created, modified, type, timestamp, description,
			tags, fire_classes, direction, distance, geometry, bounding_box,
			message, alert_id, remote_url, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		media.ID, media.CameraID, media.Created, media.Modified,
		media.Type, media.Timestamp, media.Description,
		pq.Array(media.Tags), pq.Array(media.FireClasses),
		media.Direction, media.Distance, geometryJSON, boundingBoxJSON,
		[]byte(media.Message), media.AlertID, media.RemoteURL, media.Hash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert camera media: %w", err)
	}

	if err := r.touchLastUpdate(ctx, media.CameraID, media.Timestamp); err != nil {
		return false, err
	}

	return true, nil
}

// LatestAlertedDetectionAt returns the timestamp of the most recent
// detected media for the camera that produced an alert, or nil.
func (r *CamerasRepository) LatestAlertedDetectionAt(ctx context.Context, cameraID, exclude uuid.UUID) (*time.Time, error) {
	var t time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT timestamp FROM camera_media
		 WHERE camera_id = $1 AND id <> $2 AND alert_id IS NOT NULL AND tags && $3
		 ORDER BY timestamp DESC LIMIT 1`,
		cameraID, exclude, pq.Array(detectedTags),
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest alerted detection: %w", err)
	}
	return &t, nil
}

// DeleteStaleUndetected purges undetected media older than the cutoff,
// excluding the just-created record, to bound storage growth. Deletions
// refresh the camera's last_update, same as creations.
func (r *CamerasRepository) DeleteStaleUndetected(ctx context.Context, cameraID uuid.UUID, cutoff time.Time, exclude uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM camera_media
		 WHERE camera_id = $1 AND id <> $2 AND timestamp < $3 AND NOT (tags && $4)`,
		cameraID, exclude, cutoff, pq.Array(detectedTags),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale camera media: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if deleted > 0 {
		if err := r.touchLastUpdate(ctx, cameraID, time.Now().UTC()); err != nil {
			return 0, err
		}
	}
	return deleted, nil
}

// LinkAlert attaches a synthesized alert back onto the media that
// triggered it.
func (r *CamerasRepository) LinkAlert(ctx context.Context, mediaID, alertID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE camera_media SET alert_id = $1, modified = $2 WHERE id = $3`,
		alertID, time.Now().UTC(), mediaID,
	)
	if err != nil {
		return fmt.Errorf("failed to link alert to camera media: %w", err)
	}
	return nil
}

func (r *CamerasRepository) touchLastUpdate(ctx context.Context, cameraID uuid.UUID, t time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE cameras SET last_update = $1 WHERE id = $2`,
		t, cameraID,
	)
	if err != nil {
		return fmt.Errorf("failed to refresh camera last_update: %w", err)
	}
	return nil
}

// geometryOrNil is a scan helper for nullable jsonb geometry columns.
func geometryOrNil(raw []byte) (*geo.Geometry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var g geo.Geometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}
