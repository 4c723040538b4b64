package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometryJSONRoundTrip(t *testing.T) {
	point := NewPoint(22.95255, 40.648142)
	data, err := json.Marshal(point)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point","coordinates":[22.95255,40.648142]}`, string(data))

	var decoded Geometry
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, point, decoded)
}

func TestGeometryUnmarshalUnknownType(t *testing.T) {
	var g Geometry
	err := json.Unmarshal([]byte(`{"type":"LineString","coordinates":[[0,0],[1,1]]}`), &g)
	assert.Error(t, err)
}

func TestEnvelope(t *testing.T) {
	polygon := NewPolygon([][]Position{{
		{0, 0}, {4, 0}, {4, 2}, {0, 2}, {0, 0},
	}})

	env := polygon.Envelope()
	require.NotNil(t, env)
	require.Len(t, env.Polygon, 1)
	ring := env.Polygon[0]
	require.Len(t, ring, 5)
	assert.Equal(t, ring[0], ring[4], "envelope ring must be closed")
	assert.Equal(t, Position{0, 0}, ring[0])
	assert.Equal(t, Position{4, 2}, ring[2])

	// Points have no useful envelope.
	point := NewPoint(1, 2)
	assert.Nil(t, point.Envelope())
}

func TestCenter(t *testing.T) {
	point := NewPoint(5, 6)
	assert.Equal(t, Position{5, 6}, point.Center())

	polygon := NewPolygon([][]Position{{
		{0, 0}, {4, 0}, {4, 2}, {0, 2}, {0, 0},
	}})
	assert.Equal(t, Position{2, 1}, polygon.Center())
}

func TestCollectionAggregates(t *testing.T) {
	geometries := []Geometry{
		NewPoint(0, 0),
		NewPoint(10, 4),
	}

	assert.Equal(t, Position{5, 2}, CollectionCenter(geometries))

	env := CollectionEnvelope(geometries)
	require.Len(t, env.Polygon, 1)
	assert.Equal(t, Position{0, 0}, env.Polygon[0][0])
	assert.Equal(t, Position{10, 4}, env.Polygon[0][2])
}

func TestBuffer(t *testing.T) {
	circle := Buffer(Position{10, 20}, 0.5)

	require.Equal(t, TypePolygon, circle.Type)
	require.Len(t, circle.Polygon, 1)
	ring := circle.Polygon[0]
	assert.Len(t, ring, bufferSegments+1)
	assert.Equal(t, ring[0], ring[len(ring)-1], "buffer ring must be closed")

	for _, p := range ring {
		dx := p.Lon() - 10
		dy := p.Lat() - 20
		assert.InDelta(t, 0.25, dx*dx+dy*dy, 1e-9)
	}
}

func TestHaversineKm(t *testing.T) {
	// Thessaloniki to Athens, roughly 300 km.
	thessaloniki := Position{22.9444, 40.6401}
	athens := Position{23.7275, 37.9838}

	d := HaversineKm(thessaloniki, athens)
	assert.InDelta(t, 302, d, 5)

	assert.Zero(t, HaversineKm(thessaloniki, thessaloniki))
}

func TestWKBHex(t *testing.T) {
	point := NewPoint(1, 2)
	assert.Equal(t, "0101000000000000000000f03f0000000000000040", point.WKBHex())

	polygon := NewPolygon([][]Position{{
		{0, 0}, {1, 0}, {1, 1}, {0, 0},
	}})
	hexStr := polygon.WKBHex()
	// byte order + type + ring count + point count + 4 coordinate pairs
	assert.Equal(t, 2*(1+4+4+4+4*16), len(hexStr))
	assert.Equal(t, "0103000000", hexStr[:10])
}

func TestWKT(t *testing.T) {
	point := NewPoint(22.95255, 40.648142)
	assert.Equal(t, "POINT (22.95255 40.648142)", point.WKT())

	polygon := NewPolygon([][]Position{{
		{0, 0}, {1, 0}, {1, 1}, {0, 0},
	}})
	assert.Equal(t, "POLYGON ((0 0, 1 0, 1 1, 0 0))", polygon.WKT())
}
