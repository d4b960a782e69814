// Package selection turns selection items into canonical WGS84 targets and
// classifies them for the orchestrator.
package selection

import (
	"context"
	"math"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/reproject"
)

// DefaultZoom is used when a selection carries no zoom hint.
const DefaultZoom = 16

// DefaultPolygonCRS applies to polygons without a "crs" member, following
// the GeoJSON default of WGS84 longitude/latitude.
const DefaultPolygonCRS = reproject.Canonical

// Deriver computes DerivedGeometry from selection items. It is safe for
// concurrent use; transforms are shared through the reprojection cache.
type Deriver struct {
	transforms  *reproject.Cache
	defaultZoom float64
	log         logging.Logger
}

// DeriverOption configures a Deriver.
type DeriverOption func(*Deriver)

// WithDefaultZoom overrides DefaultZoom.
func WithDefaultZoom(z float64) DeriverOption {
	return func(d *Deriver) { d.defaultZoom = z }
}

// WithLogger attaches a logger for dropped geometry.
func WithLogger(log logging.Logger) DeriverOption {
	return func(d *Deriver) { d.log = log }
}

// NewDeriver builds a Deriver around the given transform cache. A nil cache
// gets a fresh one.
func NewDeriver(cache *reproject.Cache, opts ...DeriverOption) *Deriver {
	if cache == nil {
		cache = reproject.NewCache()
	}
	d := &Deriver{
		transforms:  cache,
		defaultZoom: DefaultZoom,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = logging.Component(d.log, "deriver")
	return d
}

// DeriveGeometry reprojects the item's point and polygon into WGS84.
//
// ok is false only when the point itself cannot be placed: its CRS is unknown
// and the raw coordinates are not plausible lon/lat, or the result is not
// finite. Polygon problems never fail the derivation; offending vertices and
// rings are dropped and the selection degrades to a point.
func (d *Deriver) DeriveGeometry(item model.SelectionItem) (derived model.DerivedGeometry, ok bool) {
	ctx := context.Background()

	zoom := d.defaultZoom
	if item.More.ZoomHint != nil && isFinite(*item.More.ZoomHint) {
		zoom = *item.More.ZoomHint
	}

	pos, ok := d.projectPoint(ctx, item.SourceCRS, orb.Point{item.Position.X, item.Position.Y})
	if !ok {
		return model.DerivedGeometry{}, false
	}

	derived = model.DerivedGeometry{Position: pos, Zoom: zoom}
	if item.More.Polygon != nil {
		derived.Polygon = d.projectRings(ctx, item.More.Polygon)
	}
	return derived, true
}

func (d *Deriver) projectPoint(ctx context.Context, crs string, p orb.Point) (geo.LonLat, bool) {
	t, err := d.transforms.Get(crs)
	var out orb.Point
	switch {
	case err == nil:
		out = t.Forward(p)
	case plausibleLonLat(p):
		d.log.Debug(ctx, "unknown selection CRS; using coordinates as lon/lat",
			logging.String("crs", crs), logging.Err(err))
		out = p
	default:
		d.log.Warn(ctx, "cannot place selection in unknown CRS",
			logging.String("crs", crs), logging.Err(err))
		return geo.LonLat{}, false
	}

	ll := geo.LonLat{Lon: out.Lon(), Lat: out.Lat()}
	if !ll.IsFinite() {
		d.log.Warn(ctx, "selection point is not finite after reprojection",
			logging.String("crs", crs), logging.Float64("x", p.X()), logging.Float64("y", p.Y()))
		return geo.LonLat{}, false
	}
	return ll, true
}

func (d *Deriver) projectRings(ctx context.Context, poly *model.PolygonGeometry) [][]geo.LonLat {
	crs := poly.CRS
	if crs == "" {
		crs = DefaultPolygonCRS
	}
	t, err := d.transforms.Get(crs)
	if err != nil {
		d.log.Debug(ctx, "dropping polygon in unknown CRS", logging.String("crs", crs), logging.Err(err))
		return nil
	}

	var (
		rings   [][]geo.LonLat
		dropped int
	)
	for _, ring := range poly.Rings() {
		out := make([]geo.LonLat, 0, len(ring))
		for _, p := range ring {
			if !isFinite(p.X()) || !isFinite(p.Y()) {
				dropped++
				continue
			}
			q := t.Forward(p)
			ll := geo.LonLat{Lon: q.Lon(), Lat: q.Lat()}
			if !ll.IsFinite() {
				dropped++
				continue
			}
			out = append(out, ll)
		}
		if distinctVertices(out) < 3 {
			continue
		}
		rings = append(rings, out)
	}
	if dropped > 0 {
		d.log.Debug(ctx, "dropped non-finite polygon vertices", logging.Int("count", dropped))
	}
	return rings
}

// distinctVertices counts vertices ignoring a closing vertex equal to the
// first one.
func distinctVertices(ring []geo.LonLat) int {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		n--
	}
	return n
}

func plausibleLonLat(p orb.Point) bool {
	return isFinite(p.X()) && isFinite(p.Y()) &&
		math.Abs(p.X()) <= 180 && math.Abs(p.Y()) <= 90
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
