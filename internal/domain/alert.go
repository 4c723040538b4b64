// Package domain holds the records the ingestion pipeline persists and the
// pure rules attached to them (fingerprints, trigger windows, layer-status
// predicates). Repositories and handlers depend on this package, never the
// other way round.
package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// AlertType is the validation lifecycle stage of an alert.
type AlertType string

const (
	AlertTypeUnvalidated   AlertType = "UNVALIDATED"
	AlertTypeValidated     AlertType = "VALIDATED"
	AlertTypePossibleEvent AlertType = "POSSIBLE_EVENT"
)

// AlertSourceInSitu marks alerts synthesized from in-situ camera detections.
const AlertSourceInSitu = "IN_SITU"

var (
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlreadyValidated rejects re-validation of a validated alert.
	ErrAlreadyValidated = errors.New("alert is already validated")
)

// Alert is a validated-or-unvalidated report of a hazard occurrence, parsed
// from one CAP info block. An alert owns one geometry per CAP area.
type Alert struct {
	ID       uuid.UUID
	Created  time.Time
	Modified time.Time

	Type      AlertType
	Timestamp time.Time
	Status    string
	Source    string
	Scope     string

	Category    string
	Event       string
	Urgency     string
	Severity    string
	Certainty   string
	Description string

	Media []string

	// Message preserves the raw inbound payload for audit and replay.
	Message json.RawMessage

	Hash    string
	EventID *uuid.UUID

	Geometries []AlertGeometry
}

// AlertGeometry is one spatial feature belonging to an alert. The bounding
// box is derived on save and is nil for point geometries.
type AlertGeometry struct {
	ID          uuid.UUID
	AlertID     uuid.UUID
	Description string
	Geometry    geo.Geometry
	BoundingBox *geo.Geometry
}

var _ Hashable = (*Alert)(nil)

// HashSource identifies the alert's defining content: its sent timestamp,
// source and the canonical encoding of every geometry.
func (a *Alert) HashSource() string {
	parts := make([]string, 0, len(a.Geometries)+2)
	parts = append(parts, a.Timestamp.UTC().Format(time.RFC3339Nano), a.Source)
	for _, g := range a.Geometries {
		parts = append(parts, g.Geometry.WKBHex())
	}
	return strings.Join(parts, "|")
}

// GeometryList returns the bare geometries, for aggregate computations.
func (a *Alert) GeometryList() []geo.Geometry {
	geometries := make([]geo.Geometry, 0, len(a.Geometries))
	for _, g := range a.Geometries {
		geometries = append(geometries, g.Geometry)
	}
	return geometries
}

// Center is the alert's representative point: the centre of the combined
// envelope of its geometries.
func (a *Alert) Center() geo.Position {
	return geo.CollectionCenter(a.GeometryList())
}
