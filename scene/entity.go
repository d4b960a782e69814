package scene

import "github.com/signalsfoundry/terrainview/geo"

// EntityKind tags which of an Entity's graphics is set.
type EntityKind string

const (
	KindMarker   EntityKind = "marker"
	KindPolyline EntityKind = "polyline"
	KindVolume   EntityKind = "volume"
)

// Color is an RGBA colour with components in [0,1].
type Color struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
	A float64 `json:"a" yaml:"a"`
}

// WithAlpha returns c with its alpha replaced.
func (c Color) WithAlpha(a float64) Color {
	c.A = a
	return c
}

var (
	Black       = Color{A: 1}
	White       = Color{R: 1, G: 1, B: 1, A: 1}
	Transparent = Color{}
)

// MarkerAsset describes the billboard drawn for a point selection. It is
// passed through to the renderer untouched.
type MarkerAsset struct {
	Image  string  `json:"image" yaml:"image"`
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	Scale  float64 `json:"scale" yaml:"scale"`
}

// Entity is a renderable object positioned in the scene.
type Entity struct {
	ID       string           `json:"id"`
	Kind     EntityKind       `json:"kind"`
	Position geo.Cartographic `json:"position"`
	Marker   *MarkerAsset     `json:"marker,omitempty"`
	Polyline *Polyline        `json:"polyline,omitempty"`
	Volume   *PolygonVolume   `json:"volume,omitempty"`
}

// Polyline is a line through 3D positions, width in pixels.
type Polyline struct {
	Positions []geo.Cartographic `json:"positions"`
	Width     float64            `json:"width"`
	Show      bool               `json:"show"`
	Color     Color              `json:"color"`
}

// PolygonHierarchy is an outer ring with optional holes, each hole itself a
// hierarchy.
type PolygonHierarchy struct {
	Positions []geo.LonLat       `json:"positions"`
	Holes     []PolygonHierarchy `json:"holes,omitempty"`
}

// PolygonVolume is a polygon extruded between Height and ExtrudedHeight.
type PolygonVolume struct {
	Hierarchy      PolygonHierarchy `json:"hierarchy"`
	Height         float64          `json:"height"`
	ExtrudedHeight float64          `json:"extrudedHeight"`
	Material       Color            `json:"material"`
	Outline        bool             `json:"outline"`
}

// ClassificationType selects what a ground primitive drapes onto.
type ClassificationType int

const (
	ClassifyTerrain ClassificationType = iota
	ClassifyTiles3D
	ClassifyBoth
)

func (c ClassificationType) String() string {
	switch c {
	case ClassifyTerrain:
		return "terrain"
	case ClassifyTiles3D:
		return "tiles3d"
	case ClassifyBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseClassification maps a config string to a ClassificationType,
// defaulting to ClassifyBoth.
func ParseClassification(s string) ClassificationType {
	switch s {
	case "terrain":
		return ClassifyTerrain
	case "tiles3d", "3dtiles":
		return ClassifyTiles3D
	default:
		return ClassifyBoth
	}
}

// MarshalText encodes the classification by name.
func (c ClassificationType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// GroundPrimitive is a polygon draped onto the surface below it.
type GroundPrimitive struct {
	ID             string             `json:"id"`
	Hierarchy      PolygonHierarchy   `json:"hierarchy"`
	Color          Color              `json:"color"`
	Classification ClassificationType `json:"classification"`
}
