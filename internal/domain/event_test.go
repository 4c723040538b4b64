package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

func TestEventStatus(t *testing.T) {
	ev := &Event{}
	assert.Equal(t, EventStatusOngoing, ev.Status())

	ended := time.Now()
	ev.EndDate = &ended
	assert.Equal(t, EventStatusClosed, ev.Status())
}

func TestEventRecomputeAggregates(t *testing.T) {
	ev := &Event{}
	ev.RecomputeAggregates([]geo.Geometry{
		geo.NewPoint(0, 0),
		geo.NewPoint(10, 4),
	})

	assert.Len(t, ev.Geometry.Features, 2)
	assert.Equal(t, geo.Position{5, 2}, ev.Center)
	require.NotNil(t, ev.BoundingBox)
	assert.Equal(t, geo.TypePolygon, ev.BoundingBox.Type)
}
