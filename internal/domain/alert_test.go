package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astrosat/safers-dashboard-api/internal/geo"
)

func TestFingerprintStable(t *testing.T) {
	assert.Equal(t, Fingerprint("abc"), Fingerprint("abc"))
	assert.NotEqual(t, Fingerprint("abc"), Fingerprint("abd"))
	assert.Len(t, Fingerprint("abc"), 64)
}

func TestAlertHashSource(t *testing.T) {
	sent := time.Date(2022, 1, 27, 9, 48, 0, 0, time.UTC)

	a := &Alert{
		Timestamp: sent,
		Source:    "EFFIS",
		Geometries: []AlertGeometry{
			{Geometry: geo.NewPoint(22.9, 40.5)},
		},
	}
	b := &Alert{
		Timestamp: sent,
		Source:    "EFFIS",
		Geometries: []AlertGeometry{
			{Geometry: geo.NewPoint(22.9, 40.5)},
		},
	}
	assert.Equal(t, a.HashSource(), b.HashSource(),
		"alerts with identical content must fingerprint identically")

	// Record identity must not leak into the fingerprint.
	b.Description = "different free text"
	assert.Equal(t, a.HashSource(), b.HashSource())

	b.Geometries[0].Geometry = geo.NewPoint(23.0, 40.5)
	assert.NotEqual(t, a.HashSource(), b.HashSource())
}

func TestAlertCenter(t *testing.T) {
	a := &Alert{
		Geometries: []AlertGeometry{
			{Geometry: geo.NewPoint(0, 0)},
			{Geometry: geo.NewPoint(10, 4)},
		},
	}
	assert.Equal(t, geo.Position{5, 2}, a.Center())
}
