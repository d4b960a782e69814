package model

import (
	"encoding/json"

	"github.com/signalsfoundry/terrainview/geo"
)

// Point2 is a coordinate pair in the selection's source CRS.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SelectionItem is a search or gazetteer result emitted by the selection
// store. Items are immutable once emitted.
type SelectionItem struct {
	Position        Point2 `json:"position"`
	SourceCRS       string `json:"sourceCrs,omitempty"`
	IsAreaSelection bool   `json:"isAreaSelection"`
	// SelectionTimestamp is the Unix time in milliseconds at which the user
	// made the selection, or nil when the item was restored from persisted
	// or shared state.
	SelectionTimestamp *int64          `json:"selectionTimestamp"`
	SortKey            float64         `json:"sortKey"`
	More               SelectionExtras `json:"more"`
}

// SelectionExtras carries optional hints attached to a selection.
type SelectionExtras struct {
	ZoomHint *float64         `json:"zoomHint,omitempty"`
	Polygon  *PolygonGeometry `json:"polygon,omitempty"`
}

// DerivedGeometry is the canonical WGS84 target computed from a selection.
type DerivedGeometry struct {
	Position geo.LonLat `json:"position"`
	Zoom     float64    `json:"zoom"`
	// Polygon holds the outer ring of every polygon part, already filtered
	// of non-finite vertices. Nil for point selections.
	Polygon [][]geo.LonLat `json:"polygon,omitempty"`
}

// HasPolygon reports whether the geometry carries at least one ring.
func (d DerivedGeometry) HasPolygon() bool {
	return len(d.Polygon) > 0
}

// DecodeSelectionItem parses a JSON encoded selection item.
func DecodeSelectionItem(data []byte) (*SelectionItem, error) {
	var item SelectionItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Int64Ptr is a helper for building items with a timestamp.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr is a helper for building items with a zoom hint.
func Float64Ptr(v float64) *float64 { return &v }
