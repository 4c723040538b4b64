package geo

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Area is one provider-format area description from a CAP info block. Keys
// vary in case between providers, so lookups are case-insensitive.
type Area map[string]json.RawMessage

func (a Area) lookup(name string) (json.RawMessage, bool) {
	for k, v := range a {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func (a Area) description() string {
	raw, ok := a.lookup("areaDesc")
	if !ok {
		return ""
	}
	var desc string
	if err := json.Unmarshal(raw, &desc); err != nil {
		return ""
	}
	return desc
}

// parseLatLonString parses space-separated decimal coordinate strings such
// as "40.648142 22.95255" (CAP order: lat first) or "lat lon radius".
func parseLatLonString(raw json.RawMessage, want int) ([]float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("coordinate value is not a string: %w", err)
	}
	fields := strings.Fields(s)
	if len(fields) != want {
		return nil, fmt.Errorf("expected %d coordinate fields, got %d in %q", want, len(fields), s)
	}
	values := make([]float64, 0, want)
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable coordinate %q: %w", f, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// CAPAreaToGeoJSON converts the "area" list of a CAP info block into a
// feature collection. Polygons pass through, points become Point features
// and circles are buffered into approximating polygons. Any unsupported or
// unparseable area fails the whole conversion: a partially converted
// multi-area alert must roll back the caller's transaction.
func CAPAreaToGeoJSON(areas []Area) (FeatureCollection, error) {
	features := make([]Feature, 0, len(areas))

	for _, area := range areas {
		feature := Feature{
			Type: "Feature",
			Properties: map[string]interface{}{
				"description": area.description(),
			},
		}

		switch {
		case hasKey(area, "polygon"):
			raw, _ := area.lookup("polygon")
			var ring []Position
			if err := json.Unmarshal(raw, &ring); err != nil {
				return FeatureCollection{}, fmt.Errorf("unparseable polygon: %w", err)
			}
			feature.Geometry = NewPolygon([][]Position{ring})

		case hasKey(area, "point"):
			raw, _ := area.lookup("point")
			coords, err := parseLatLonString(raw, 2)
			if err != nil {
				return FeatureCollection{}, fmt.Errorf("unparseable point: %w", err)
			}
			lat, lon := coords[0], coords[1]
			feature.Geometry = NewPoint(lon, lat)

		case hasKey(area, "circle"):
			raw, _ := area.lookup("circle")
			coords, err := parseLatLonString(raw, 3)
			if err != nil {
				return FeatureCollection{}, fmt.Errorf("unparseable circle: %w", err)
			}
			lat, lon, radius := coords[0], coords[1], coords[2]
			feature.Geometry = Buffer(Position{lon, lat}, radius)

		case hasKey(area, "geocode"):
			return FeatureCollection{}, fmt.Errorf("don't know how to cope w/ geocode yet")

		default:
			return FeatureCollection{}, fmt.Errorf("unknown area type")
		}

		features = append(features, feature)
	}

	return NewFeatureCollection(features), nil
}

func hasKey(area Area, name string) bool {
	_, ok := area.lookup(name)
	return ok
}
