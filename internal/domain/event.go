package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// EventStatus is derived from end-date nullity, never stored.
type EventStatus string

const (
	EventStatusOngoing EventStatus = "ONGOING"
	EventStatusClosed  EventStatus = "CLOSED"
)

// Event aggregates alerts believed to describe the same real-world
// occurrence. Its geometry, centre and bounding box are recomputed from the
// member alerts whenever one is attached.
type Event struct {
	ID       uuid.UUID
	Created  time.Time
	Modified time.Time

	Name        string
	Description string
	StartDate   time.Time
	EndDate     *time.Time

	PeopleAffected  *int
	Casualties      *int
	EstimatedDamage *float64
	Country         string

	Geometry    geo.FeatureCollection
	Center      geo.Position
	BoundingBox *geo.Geometry

	// LastAlertAt is the timestamp of the most recent member alert, loaded
	// alongside open events for the correlation time window.
	LastAlertAt time.Time
}

// Status derives the lifecycle state from end-date nullity.
func (e *Event) Status() EventStatus {
	if e.EndDate == nil {
		return EventStatusOngoing
	}
	return EventStatusClosed
}

// RecomputeAggregates rebuilds the event's feature collection, centre and
// bounding box from the geometries of its member alerts.
func (e *Event) RecomputeAggregates(memberGeometries []geo.Geometry) {
	features := make([]geo.Feature, 0, len(memberGeometries))
	for _, g := range memberGeometries {
		features = append(features, geo.Feature{
			Type:       "Feature",
			Properties: map[string]interface{}{},
			Geometry:   g,
		})
	}
	e.Geometry = geo.NewFeatureCollection(features)
	e.Center = geo.CollectionCenter(memberGeometries)
	envelope := geo.CollectionEnvelope(memberGeometries)
	e.BoundingBox = &envelope
}
