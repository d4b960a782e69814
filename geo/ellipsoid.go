package geo

import (
	"math"

	"github.com/golang/geo/s1"
)

// WGS84 ellipsoid parameters.
const (
	WGS84SemiMajorAxis = 6378137.0
	wgs84E2            = 6.69437999014e-3
)

// LonLat is a WGS84 position in degrees.
type LonLat struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// IsFinite reports whether both coordinates are finite.
func (p LonLat) IsFinite() bool {
	return isFinite(p.Lon) && isFinite(p.Lat)
}

// WithHeight lifts the position to a Cartographic at height h.
func (p LonLat) WithHeight(h float64) Cartographic {
	return Cartographic{Lon: p.Lon, Lat: p.Lat, Height: h}
}

// Cartographic is a WGS84 position in degrees with an ellipsoid height in
// metres.
type Cartographic struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

// LonLat drops the height.
func (c Cartographic) LonLat() LonLat {
	return LonLat{Lon: c.Lon, Lat: c.Lat}
}

// IsFinite reports whether every component is finite.
func (c Cartographic) IsFinite() bool {
	return isFinite(c.Lon) && isFinite(c.Lat) && isFinite(c.Height)
}

// Raised returns c with dh added to its height.
func (c Cartographic) Raised(dh float64) Cartographic {
	c.Height += dh
	return c
}

// ToECEF converts a geodetic position to ECEF metres.
func (c Cartographic) ToECEF() Vec3 {
	lon := radians(c.Lon)
	lat := radians(c.Lat)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	return Vec3{
		X: (n + c.Height) * cosLat * cosLon,
		Y: (n + c.Height) * cosLat * sinLon,
		Z: (n*(1-wgs84E2) + c.Height) * sinLat,
	}
}

// FromECEF converts ECEF metres back to a geodetic position.
func FromECEF(v Vec3) Cartographic {
	lon := math.Atan2(v.Y, v.X)
	r := math.Hypot(v.X, v.Y)
	if r < 1e-3 {
		// On the polar axis latitude is ±90 and the height is measured from
		// the semi-minor axis.
		b := WGS84SemiMajorAxis * math.Sqrt(1-wgs84E2)
		lat := 90.0
		if v.Z < 0 {
			lat = -90
		}
		return Cartographic{Lon: 0, Lat: lat, Height: math.Abs(v.Z) - b}
	}

	lat := math.Atan2(v.Z, r*(1-wgs84E2))
	var h float64
	for i := 0; i < 6; i++ {
		sinLat := math.Sin(lat)
		n := WGS84SemiMajorAxis / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		h = r/math.Cos(lat) - n
		lat = math.Atan2(v.Z, r*(1-wgs84E2*(n/(n+h))))
	}
	return Cartographic{Lon: degrees(lon), Lat: degrees(lat), Height: h}
}

// ENU is a local east/north/up frame expressed in ECEF unit vectors.
type ENU struct {
	Origin Vec3
	East   Vec3
	North  Vec3
	Up     Vec3
}

// LocalFrame returns the east/north/up frame anchored at c.
func LocalFrame(c Cartographic) ENU {
	lon := radians(c.Lon)
	lat := radians(c.Lat)
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)
	return ENU{
		Origin: c.ToECEF(),
		East:   Vec3{X: -sinLon, Y: cosLon, Z: 0},
		North:  Vec3{X: -sinLat * cosLon, Y: -sinLat * sinLon, Z: cosLat},
		Up:     Vec3{X: cosLat * cosLon, Y: cosLat * sinLon, Z: sinLat},
	}
}

// ToECEF maps local east/north/up offsets in metres to an ECEF position.
func (f ENU) ToECEF(e, n, u float64) Vec3 {
	return f.Origin.
		Add(f.East.Scale(e)).
		Add(f.North.Scale(n)).
		Add(f.Up.Scale(u))
}

// HeadingPitchRange describes a camera placement relative to a target.
// Heading is clockwise from north and pitch is negative when looking down,
// both in radians. Range is in metres.
type HeadingPitchRange struct {
	Heading float64 `json:"heading"`
	Pitch   float64 `json:"pitch"`
	Range   float64 `json:"range"`
}

// CameraPosition returns where a camera must sit to look at target with
// the given heading/pitch/range offset.
func (o HeadingPitchRange) CameraPosition(target Cartographic) Vec3 {
	pitch := Clamp(o.Pitch, -math.Pi/2, math.Pi/2)
	sinH, cosH := math.Sin(o.Heading), math.Cos(o.Heading)
	sinP, cosP := math.Sin(pitch), math.Cos(pitch)

	// The view direction is (sinH·cosP, cosH·cosP, sinP) in ENU; the camera
	// sits Range metres behind the target along it.
	frame := LocalFrame(target)
	return frame.ToECEF(-o.Range*sinH*cosP, -o.Range*cosH*cosP, -o.Range*sinP)
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return radians(deg) }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return degrees(rad) }

func radians(deg float64) float64 {
	return (s1.Angle(deg) * s1.Degree).Radians()
}

func degrees(rad float64) float64 {
	return s1.Angle(rad).Degrees()
}
