package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrUnsupportedPolygon is returned for GeoJSON geometries that are neither
// a Polygon nor a MultiPolygon.
var ErrUnsupportedPolygon = errors.New("polygon geometry must be a GeoJSON Polygon or MultiPolygon")

// PolygonGeometry is the GeoJSON polygon attached to area selections.
//
// Decoding accepts standard GeoJSON as well as payloads whose coordinates
// are encoded as strings; such values are parsed with strconv and may come
// out as NaN or ±Inf, which the geometry deriver filters later.
type PolygonGeometry struct {
	// CRS is the code named by the legacy GeoJSON "crs" member, or empty
	// when the payload does not name one.
	CRS   string
	Parts orb.MultiPolygon
}

// Rings returns the outer ring of every polygon part.
func (p *PolygonGeometry) Rings() []orb.Ring {
	if p == nil {
		return nil
	}
	rings := make([]orb.Ring, 0, len(p.Parts))
	for _, part := range p.Parts {
		if len(part) > 0 {
			rings = append(rings, part[0])
		}
	}
	return rings
}

type namedCRS struct {
	Type       string `json:"type"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// MarshalJSON encodes the geometry as GeoJSON.
func (p PolygonGeometry) MarshalJSON() ([]byte, error) {
	var g *geojson.Geometry
	if len(p.Parts) == 1 {
		g = geojson.NewGeometry(p.Parts[0])
	} else {
		g = geojson.NewGeometry(p.Parts)
	}
	raw, err := json.Marshal(g)
	if err != nil || p.CRS == "" {
		return raw, err
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	crs := namedCRS{Type: "name"}
	crs.Properties.Name = p.CRS
	doc["crs"] = crs
	return json.Marshal(doc)
}

// UnmarshalJSON decodes a GeoJSON Polygon or MultiPolygon.
func (p *PolygonGeometry) UnmarshalJSON(data []byte) error {
	var head struct {
		Type        string          `json:"type"`
		CRS         *namedCRS       `json:"crs"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.CRS != nil {
		p.CRS = head.CRS.Properties.Name
	}

	if g, err := geojson.UnmarshalGeometry(data); err == nil {
		switch c := g.Coordinates.(type) {
		case orb.Polygon:
			p.Parts = orb.MultiPolygon{c}
			return nil
		case orb.MultiPolygon:
			p.Parts = c
			return nil
		default:
			return fmt.Errorf("%w: got %s", ErrUnsupportedPolygon, g.Type)
		}
	}

	// Fall back to a lenient walk for string-encoded coordinates.
	var coords any
	dec := json.NewDecoder(bytes.NewReader(head.Coordinates))
	dec.UseNumber()
	if err := dec.Decode(&coords); err != nil {
		return fmt.Errorf("decode polygon coordinates: %w", err)
	}

	switch head.Type {
	case "Polygon":
		poly, err := lenientPolygon(coords)
		if err != nil {
			return err
		}
		p.Parts = orb.MultiPolygon{poly}
	case "MultiPolygon":
		parts, ok := coords.([]any)
		if !ok {
			return fmt.Errorf("multipolygon coordinates must be an array")
		}
		p.Parts = make(orb.MultiPolygon, 0, len(parts))
		for _, part := range parts {
			poly, err := lenientPolygon(part)
			if err != nil {
				return err
			}
			p.Parts = append(p.Parts, poly)
		}
	default:
		return fmt.Errorf("%w: got %q", ErrUnsupportedPolygon, head.Type)
	}
	return nil
}

func lenientPolygon(v any) (orb.Polygon, error) {
	rings, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("polygon coordinates must be an array of rings")
	}
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		verts, ok := r.([]any)
		if !ok {
			return nil, fmt.Errorf("polygon ring must be an array of positions")
		}
		ring := make(orb.Ring, 0, len(verts))
		for _, vert := range verts {
			pos, ok := vert.([]any)
			if !ok || len(pos) < 2 {
				return nil, fmt.Errorf("polygon position must have at least two values")
			}
			x, err := lenientFloat(pos[0])
			if err != nil {
				return nil, err
			}
			y, err := lenientFloat(pos[1])
			if err != nil {
				return nil, err
			}
			ring = append(ring, orb.Point{x, y})
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

func lenientFloat(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(t, 64)
	default:
		return 0, fmt.Errorf("unexpected coordinate value %v", v)
	}
}
