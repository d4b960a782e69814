// Package polygon renders area selections: a transparent extruded volume
// used for framing and picking, and an inverted mask that dims everything
// outside the selection.
package polygon

import (
	"errors"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/scene"
)

// ErrNoRings is returned when there is nothing to render.
var ErrNoRings = errors.New("polygon has no usable rings")

// Options controls the rendered selection.
type Options struct {
	Classification   scene.ClassificationType
	MaskColor        scene.Color
	Extrusion        float64 // metres above the base height
	DefaultElevation float64 // base height when no elevation is known
	Margin           float64 // fraction added around the bounding sphere when framing
}

// DefaultOptions returns the standard mask styling.
func DefaultOptions() Options {
	return Options{
		Classification: scene.ClassifyBoth,
		MaskColor:      scene.Black.WithAlpha(0.66),
		Extrusion:      1,
		Margin:         0.2,
	}
}

// Selection is a rendered area selection.
type Selection struct {
	Volume string
	Mask   string
	Sphere geo.BoundingSphere
}

// Cleanup removes the volume and mask. It is a no-op on nil selections and
// destroyed scenes.
func (sel *Selection) Cleanup(s scene.Scene) {
	if sel == nil || !scene.Alive(s) {
		return
	}
	s.RemoveEntity(sel.Volume)
	s.RemoveGroundPrimitive(sel.Mask)
}

// Renderer draws area selections.
type Renderer struct {
	log logging.Logger
}

// NewRenderer builds a Renderer; log may be nil.
func NewRenderer(log logging.Logger) *Renderer {
	return &Renderer{log: logging.Component(log, "polygon")}
}

// Render adds the selection volume and inverted mask for rings to s.
// elevation is the ground height under the selection, or nil when unknown.
func (r *Renderer) Render(s scene.Scene, rings [][]geo.LonLat, elevation *float64, opts Options) (*Selection, error) {
	if !scene.Alive(s) {
		return nil, scene.ErrSceneDestroyed
	}
	rings = usableRings(rings)
	if len(rings) == 0 {
		return nil, ErrNoRings
	}

	base := opts.DefaultElevation
	if elevation != nil && !math.IsNaN(*elevation) && !math.IsInf(*elevation, 0) {
		base = *elevation
	}
	sphere, ok := BoundingSphere(rings, base)
	if !ok {
		return nil, ErrNoRings
	}

	// The volume only needs the largest part; it exists for framing and
	// picking and is never visible.
	volumeID, err := s.AddEntity(scene.Entity{
		Kind:     scene.KindVolume,
		Position: sphere.CenterCartographic(),
		Volume: &scene.PolygonVolume{
			Hierarchy:      scene.PolygonHierarchy{Positions: oriented(largestRing(rings), orb.CCW)},
			Height:         base,
			ExtrudedHeight: base + opts.Extrusion,
			Material:       scene.Transparent,
			Outline:        false,
		},
	})
	if err != nil {
		return nil, err
	}

	maskID, err := s.AddGroundPrimitive(scene.GroundPrimitive{
		Hierarchy:      InvertedHierarchy(rings),
		Color:          opts.MaskColor,
		Classification: opts.Classification,
	})
	if err != nil {
		s.RemoveEntity(volumeID)
		return nil, err
	}

	s.RequestRender()
	return &Selection{Volume: volumeID, Mask: maskID, Sphere: sphere}, nil
}

// worldRing is the outer boundary of the inverted mask.
var worldRing = []geo.LonLat{
	{Lon: -180, Lat: -90},
	{Lon: 180, Lat: -90},
	{Lon: 180, Lat: 90},
	{Lon: -180, Lat: 90},
}

// InvertedHierarchy returns the whole globe with every ring cut out as a
// hole, i.e. everything except the selection. The outer ring winds
// counter-clockwise and the holes clockwise.
func InvertedHierarchy(rings [][]geo.LonLat) scene.PolygonHierarchy {
	h := scene.PolygonHierarchy{Positions: append([]geo.LonLat(nil), worldRing...)}
	for _, ring := range rings {
		h.Holes = append(h.Holes, scene.PolygonHierarchy{Positions: oriented(ring, orb.CW)})
	}
	return h
}

// oriented returns a copy of ring wound in the requested direction.
func oriented(ring []geo.LonLat, want orb.Orientation) []geo.LonLat {
	out := append([]geo.LonLat(nil), ring...)
	if toOrb(ring).Orientation() == want {
		return out
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// BoundingSphere encloses every ring vertex at height.
func BoundingSphere(rings [][]geo.LonLat, height float64) (geo.BoundingSphere, bool) {
	var positions []geo.Cartographic
	for _, ring := range rings {
		for _, p := range ring {
			positions = append(positions, p.WithHeight(height))
		}
	}
	return geo.SphereFromPositions(positions)
}

// FullViewDistance is how far the camera must be from the sphere centre for
// the whole sphere, padded by margin, to fit the view. The narrower of the
// horizontal and vertical fields of view decides.
func FullViewDistance(sphere geo.BoundingSphere, cam scene.CameraState, margin float64) float64 {
	fov := math.Min(cam.FovY, cam.FovX())
	if fov <= 0 || math.IsNaN(fov) {
		fov = math.Pi / 3
	}
	return sphere.Radius * (1 + margin) / math.Sin(fov/2)
}

func usableRings(rings [][]geo.LonLat) [][]geo.LonLat {
	out := make([][]geo.LonLat, 0, len(rings))
	for _, ring := range rings {
		clean := make([]geo.LonLat, 0, len(ring))
		for _, p := range ring {
			if p.IsFinite() {
				clean = append(clean, p)
			}
		}
		if len(clean) >= 3 {
			out = append(out, clean)
		}
	}
	return out
}

func largestRing(rings [][]geo.LonLat) []geo.LonLat {
	var (
		best     []geo.LonLat
		bestArea = -1.0
	)
	for _, ring := range rings {
		if a := math.Abs(planar.Area(toOrb(ring))); a > bestArea {
			best, bestArea = ring, a
		}
	}
	return best
}

func toOrb(ring []geo.LonLat) orb.Ring {
	r := make(orb.Ring, 0, len(ring)+1)
	for _, p := range ring {
		r = append(r, orb.Point{p.Lon, p.Lat})
	}
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}
