// Package geo holds the geometry types the ingestion pipeline produces and
// the conversions it needs: CAP area descriptions to GeoJSON-like features,
// envelope derivation, and the WKB/WKT encodings used for fingerprints and
// map-request parameters. It deliberately carries no external dependency.
package geo

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	TypePoint   = "Point"
	TypePolygon = "Polygon"
)

// Position is a single coordinate pair in GeoJSON order: [lon, lat].
type Position [2]float64

func (p Position) Lon() float64 { return p[0] }
func (p Position) Lat() float64 { return p[1] }

// Geometry is a GeoJSON geometry restricted to the two types the pipeline
// stores: Point and Polygon (circles are buffered into polygons upstream).
type Geometry struct {
	Type    string
	Point   Position     // set when Type == Point
	Polygon [][]Position // linear rings, set when Type == Polygon
}

func NewPoint(lon, lat float64) Geometry {
	return Geometry{Type: TypePoint, Point: Position{lon, lat}}
}

func NewPolygon(rings [][]Position) Geometry {
	return Geometry{Type: TypePolygon, Polygon: rings}
}

type geometryJSON struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (g Geometry) MarshalJSON() ([]byte, error) {
	var coords interface{}
	switch g.Type {
	case TypePoint:
		coords = g.Point
	case TypePolygon:
		coords = g.Polygon
	default:
		return nil, fmt.Errorf("cannot marshal geometry of type %q", g.Type)
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return nil, err
	}
	return json.Marshal(geometryJSON{Type: g.Type, Coordinates: raw})
}

func (g *Geometry) UnmarshalJSON(data []byte) error {
	var gj geometryJSON
	if err := json.Unmarshal(data, &gj); err != nil {
		return err
	}
	switch gj.Type {
	case TypePoint:
		g.Type = TypePoint
		return json.Unmarshal(gj.Coordinates, &g.Point)
	case TypePolygon:
		g.Type = TypePolygon
		return json.Unmarshal(gj.Coordinates, &g.Polygon)
	default:
		return fmt.Errorf("cannot unmarshal geometry of type %q", gj.Type)
	}
}

// Feature is a GeoJSON feature wrapping one geometry.
type Feature struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Geometry   Geometry               `json:"geometry"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func NewFeatureCollection(features []Feature) FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Bounds returns the min/max coordinates of the geometry.
func (g Geometry) Bounds() (minX, minY, maxX, maxY float64) {
	if g.Type == TypePoint {
		return g.Point.Lon(), g.Point.Lat(), g.Point.Lon(), g.Point.Lat()
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, ring := range g.Polygon {
		for _, p := range ring {
			minX = math.Min(minX, p.Lon())
			minY = math.Min(minY, p.Lat())
			maxX = math.Max(maxX, p.Lon())
			maxY = math.Max(maxY, p.Lat())
		}
	}
	return minX, minY, maxX, maxY
}

// Envelope returns the axis-aligned bounding rectangle as a closed polygon.
// Point geometries have no useful envelope and yield nil.
func (g Geometry) Envelope() *Geometry {
	if g.Type == TypePoint {
		return nil
	}
	minX, minY, maxX, maxY := g.Bounds()
	env := NewPolygon([][]Position{{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}})
	return &env
}

// Center returns the representative point of the geometry: the point itself,
// or the centre of the envelope for polygons.
func (g Geometry) Center() Position {
	if g.Type == TypePoint {
		return g.Point
	}
	minX, minY, maxX, maxY := g.Bounds()
	return Position{(minX + maxX) / 2, (minY + maxY) / 2}
}

// CollectionBounds folds the bounds of several geometries into one.
func CollectionBounds(geometries []Geometry) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, g := range geometries {
		gMinX, gMinY, gMaxX, gMaxY := g.Bounds()
		minX = math.Min(minX, gMinX)
		minY = math.Min(minY, gMinY)
		maxX = math.Max(maxX, gMaxX)
		maxY = math.Max(maxY, gMaxY)
	}
	return minX, minY, maxX, maxY
}

// CollectionCenter returns the centre of the combined envelope.
func CollectionCenter(geometries []Geometry) Position {
	minX, minY, maxX, maxY := CollectionBounds(geometries)
	return Position{(minX + maxX) / 2, (minY + maxY) / 2}
}

// CollectionEnvelope returns the combined envelope as a closed polygon.
func CollectionEnvelope(geometries []Geometry) Geometry {
	minX, minY, maxX, maxY := CollectionBounds(geometries)
	return NewPolygon([][]Position{{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}})
}

// bufferSegments is the number of segments used to approximate a circle.
const bufferSegments = 32

// Buffer approximates a circle of the given radius (in coordinate units)
// around the centre as a regular polygon.
func Buffer(center Position, radius float64) Geometry {
	ring := make([]Position, 0, bufferSegments+1)
	for i := 0; i < bufferSegments; i++ {
		angle := 2 * math.Pi * float64(i) / bufferSegments
		ring = append(ring, Position{
			center.Lon() + radius*math.Cos(angle),
			center.Lat() + radius*math.Sin(angle),
		})
	}
	ring = append(ring, ring[0])
	return NewPolygon([][]Position{ring})
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two positions in km.
func HaversineKm(a, b Position) float64 {
	lat1 := a.Lat() * math.Pi / 180
	lat2 := b.Lat() * math.Pi / 180
	dLat := (b.Lat() - a.Lat()) * math.Pi / 180
	dLon := (b.Lon() - a.Lon()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// WKB geometry type codes.
const (
	wkbPoint   uint32 = 1
	wkbPolygon uint32 = 3
)

// WKBHex returns the little-endian WKB encoding of the geometry as a hex
// string. Used as the stable hash source for fingerprinted records.
func (g Geometry) WKBHex() string {
	var buf bytes.Buffer
	buf.WriteByte(1) // little endian
	switch g.Type {
	case TypePoint:
		binary.Write(&buf, binary.LittleEndian, wkbPoint)
		binary.Write(&buf, binary.LittleEndian, g.Point.Lon())
		binary.Write(&buf, binary.LittleEndian, g.Point.Lat())
	case TypePolygon:
		binary.Write(&buf, binary.LittleEndian, wkbPolygon)
		binary.Write(&buf, binary.LittleEndian, uint32(len(g.Polygon)))
		for _, ring := range g.Polygon {
			binary.Write(&buf, binary.LittleEndian, uint32(len(ring)))
			for _, p := range ring {
				binary.Write(&buf, binary.LittleEndian, p.Lon())
				binary.Write(&buf, binary.LittleEndian, p.Lat())
			}
		}
	}
	return hex.EncodeToString(buf.Bytes())
}

// WKT returns the well-known-text rendering of the geometry.
func (g Geometry) WKT() string {
	switch g.Type {
	case TypePoint:
		return fmt.Sprintf("POINT (%s %s)", formatCoord(g.Point.Lon()), formatCoord(g.Point.Lat()))
	case TypePolygon:
		rings := make([]string, 0, len(g.Polygon))
		for _, ring := range g.Polygon {
			points := make([]string, 0, len(ring))
			for _, p := range ring {
				points = append(points, formatCoord(p.Lon())+" "+formatCoord(p.Lat()))
			}
			rings = append(rings, "("+strings.Join(points, ", ")+")")
		}
		return "POLYGON (" + strings.Join(rings, ", ") + ")"
	}
	return ""
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
