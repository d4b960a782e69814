package geo

import (
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"
)

// BoundingSphere encloses a set of ECEF points.
type BoundingSphere struct {
	Center Vec3    `json:"center"`
	Radius float64 `json:"radius"`
}

// CenterCartographic returns the sphere centre as a geodetic position.
func (b BoundingSphere) CenterCartographic() Cartographic {
	return FromECEF(b.Center)
}

// SphereFromPositions builds a bounding sphere around the given positions.
//
// The centre is placed on the mean surface direction at the mean height of
// the inputs rather than at the chordal ECEF average, so that the sphere
// centre stays on the ground for wide polygons. The radius is the largest
// distance from that centre to any input. Non-finite positions are ignored;
// ok is false when nothing usable remains.
func SphereFromPositions(positions []Cartographic) (sphere BoundingSphere, ok bool) {
	var (
		sum     r3.Vector
		heights float64
		used    []Vec3
	)
	for _, p := range positions {
		if !p.IsFinite() {
			continue
		}
		ll := s2.LatLngFromDegrees(p.Lat, p.Lon)
		if !ll.IsValid() {
			continue
		}
		sum = sum.Add(s2.PointFromLatLng(ll).Vector)
		heights += p.Height
		used = append(used, p.ToECEF())
	}
	if len(used) == 0 {
		return BoundingSphere{}, false
	}

	meanHeight := heights / float64(len(used))
	var center Vec3
	if sum.Norm() == 0 {
		// Antipodal inputs cancel out; fall back to the chordal mean.
		for _, v := range used {
			center = center.Add(v)
		}
		center = center.Scale(1 / float64(len(used)))
	} else {
		ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
		center = Cartographic{
			Lon:    ll.Lng.Degrees(),
			Lat:    ll.Lat.Degrees(),
			Height: meanHeight,
		}.ToECEF()
	}

	var radius float64
	for _, v := range used {
		if d := center.DistanceTo(v); d > radius {
			radius = d
		}
	}
	return BoundingSphere{Center: center, Radius: radius}, true
}
