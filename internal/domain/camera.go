package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

var ErrCameraNotFound = errors.New("camera not found")

// Detection tags and fire-severity classes form closed sets, kept as
// constants rather than catalog tables.
const (
	TagFire  = "fire"
	TagSmoke = "smoke"

	FireClass1 = "CL1"
	FireClass2 = "CL2"
	FireClass3 = "CL3"
)

// Camera is a registered in-situ detection device.
type Camera struct {
	ID       uuid.UUID
	CameraID string // stable external device identifier, unique
	IsActive bool

	Name     string
	Model    string
	Owner    string
	Nation   string
	Altitude *float64

	// Direction is the orientation angle: 0 North, 90 East, 180 South,
	// 270 West. Must stay within [0, 360].
	Direction float64
	Geometry  geo.Geometry

	// LastUpdate is maintained by the media-creation and sweep side
	// effects, never set directly by callers.
	LastUpdate *time.Time
}

// Validate checks the camera's own invariants.
func (c *Camera) Validate() error {
	if c.Direction < 0 || c.Direction > 360 {
		return fmt.Errorf("camera direction %f out of range [0, 360]", c.Direction)
	}
	return nil
}

// CameraMediaType distinguishes image and video artifacts.
type CameraMediaType string

const (
	CameraMediaTypeImage CameraMediaType = "IMAGE"
	CameraMediaTypeVideo CameraMediaType = "VIDEO"
)

// CameraMedia is one detection artifact from a camera.
type CameraMedia struct {
	ID       uuid.UUID
	CameraID uuid.UUID
	Created  time.Time
	Modified time.Time

	Type        CameraMediaType
	Timestamp   time.Time
	Description string

	Tags        []string
	FireClasses []string

	// Direction/Distance locate the detected hazard relative to the camera.
	Direction *float64
	Distance  *float64

	Geometry    geo.Geometry
	BoundingBox *geo.Geometry

	Message   json.RawMessage
	AlertID   *uuid.UUID
	RemoteURL string

	Hash string
}

var _ Hashable = (*CameraMedia)(nil)

// HashSource covers the camera, the detection timestamp and the canonical
// geometry encoding, so redelivered messages dedupe while distinct
// detections at the same spot persist.
func (m *CameraMedia) HashSource() string {
	return strings.Join([]string{
		m.CameraID.String(),
		m.Timestamp.UTC().Format(time.RFC3339Nano),
		m.Geometry.WKBHex(),
	}, "|")
}

// IsDetected reports whether the media carries a fire or smoke tag.
func (m *CameraMedia) IsDetected() bool {
	for _, tag := range m.Tags {
		if tag == TagFire || tag == TagSmoke {
			return true
		}
	}
	return false
}

// TriggersAlert implements the cooldown rule: a detected media triggers a
// new alert iff no prior alerted detection exists for the camera, or the
// most recent one is older than the cooldown window.
func (m *CameraMedia) TriggersAlert(lastAlertedAt *time.Time, cooldown time.Duration) bool {
	if !m.IsDetected() {
		return false
	}
	if lastAlertedAt == nil {
		return true
	}
	return m.Timestamp.Sub(*lastAlertedAt) > cooldown
}
