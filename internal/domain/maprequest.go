package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

// MapRequestStatus is the per-(request, datatype) fulfillment state. A nil
// status means no status message has arrived yet (the implicit fourth
// state).
type MapRequestStatus string

const (
	MapRequestStatusProcessing MapRequestStatus = "PROCESSING"
	MapRequestStatusFailed     MapRequestStatus = "FAILED"
	MapRequestStatusAvailable  MapRequestStatus = "AVAILABLE"
)

// Terminal reports whether the status admits no further transitions.
func (s MapRequestStatus) Terminal() bool {
	return s == MapRequestStatusFailed || s == MapRequestStatusAvailable
}

var (
	ErrMapRequestNotFound = errors.New("map request not found")
	ErrDataTypeNotFound   = errors.New("data type not found")
)

// DataType is one externally computable geospatial data product kind.
type DataType struct {
	ID          uuid.UUID
	DatatypeID  string // external numeric-ish code used in routing keys
	Description string
}

// MapRequest tracks fulfillment of an externally computed data product.
// One request fans out into one trackable sub-request per data type.
type MapRequest struct {
	ID       uuid.UUID
	Created  time.Time
	Modified time.Time

	// RequestID is the site-scoped, sequence-generated external identifier,
	// assigned exactly once on first save.
	RequestID string
	UserID    *uuid.UUID
	Title     string

	Parameters map[string]interface{}

	Geometry *geo.Geometry
	// GeometryWKT caches the WKT rendering of Geometry, recomputed on save.
	GeometryWKT string
}

// MapRequestDataType is the linking row carrying per-datatype status.
type MapRequestDataType struct {
	MapRequestID uuid.UUID
	DataTypeID   uuid.UUID
	Status       *MapRequestStatus
	URL          string
}

// Layer-status predicates over the (request, datatype-status) relationship.
// Each is a named, independently testable function over the tri-state
// statuses plus "no status yet".

func countLayers(statuses []*MapRequestStatus) (processing, failed, available, unset int) {
	for _, s := range statuses {
		switch {
		case s == nil:
			unset++
		case *s == MapRequestStatusProcessing:
			processing++
		case *s == MapRequestStatusFailed:
			failed++
		case *s == MapRequestStatusAvailable:
			available++
		}
	}
	return processing, failed, available, unset
}

func AnyLayersProcessing(statuses []*MapRequestStatus) bool {
	p, _, _, _ := countLayers(statuses)
	return p > 0
}

func AnyLayersFailed(statuses []*MapRequestStatus) bool {
	_, f, _, _ := countLayers(statuses)
	return f > 0
}

func AnyLayersAvailable(statuses []*MapRequestStatus) bool {
	_, _, a, _ := countLayers(statuses)
	return a > 0
}

func AnyLayersUnset(statuses []*MapRequestStatus) bool {
	_, _, _, u := countLayers(statuses)
	return u > 0
}

func NoneLayersProcessing(statuses []*MapRequestStatus) bool {
	return !AnyLayersProcessing(statuses)
}

func NoneLayersFailed(statuses []*MapRequestStatus) bool {
	return !AnyLayersFailed(statuses)
}

func NoneLayersAvailable(statuses []*MapRequestStatus) bool {
	return !AnyLayersAvailable(statuses)
}

func NoneLayersUnset(statuses []*MapRequestStatus) bool {
	return !AnyLayersUnset(statuses)
}

func AllLayersProcessing(statuses []*MapRequestStatus) bool {
	p, f, a, u := countLayers(statuses)
	return p > 0 && f == 0 && a == 0 && u == 0
}

func AllLayersFailed(statuses []*MapRequestStatus) bool {
	p, f, a, u := countLayers(statuses)
	return f > 0 && p == 0 && a == 0 && u == 0
}

func AllLayersAvailable(statuses []*MapRequestStatus) bool {
	p, f, a, u := countLayers(statuses)
	return a > 0 && p == 0 && f == 0 && u == 0
}

func AllLayersUnset(statuses []*MapRequestStatus) bool {
	p, f, a, u := countLayers(statuses)
	return u > 0 && p == 0 && f == 0 && a == 0
}
