// Package camera flies the scene camera to selection targets.
package camera

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/scene"
)

// Flight modes used as metric labels.
const (
	ModePoint   = "point"
	ModePolygon = "polygon"
)

// DefaultMaxDuration caps every flight.
const DefaultMaxDuration = 10 * time.Second

// mercatorResolution is the Web-Mercator ground resolution at zoom 0 on the
// equator, in metres per pixel.
const mercatorResolution = 2 * math.Pi * geo.WGS84SemiMajorAxis / 256

// viewportPixels is the nominal viewport width a zoom level is fitted to.
const viewportPixels = 1000

// PointOptions controls a point-mode flight.
type PointOptions struct {
	Zoom float64
	// MaintainHeight keeps the camera's current height above the target and
	// derives the range from it instead of from Zoom.
	MaintainHeight bool
	DurationFactor float64
	MaxDuration    time.Duration
}

// PolygonOptions controls a polygon-mode flight.
type PolygonOptions struct {
	DurationFactor float64
	MaxDuration    time.Duration
}

// Flight describes a started flight.
type Flight struct {
	Mode     string
	Target   geo.BoundingSphere
	Offset   geo.HeadingPitchRange
	Duration time.Duration
}

// Controller starts camera flights and tracks whether one is in progress.
type Controller struct {
	log     logging.Logger
	metrics *observability.TargetingCollector

	mu       sync.Mutex
	inFlight bool
	seq      uint64
}

// NewController builds a Controller; both arguments may be nil.
func NewController(log logging.Logger, metrics *observability.TargetingCollector) *Controller {
	return &Controller{log: logging.Component(log, "camera"), metrics: metrics}
}

// InFlight reports whether a flight started by this controller has not yet
// completed or been cancelled. Callers only report it; a new flight always
// cancels the running one.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// FlyToPoint flies to target from a heading/pitch/range offset derived from
// the zoom level, or from the current camera height with MaintainHeight.
// It returns false without touching the scene when s is not alive.
func (c *Controller) FlyToPoint(s scene.Scene, target geo.Cartographic, opts PointOptions) (Flight, bool) {
	ctx := context.Background()
	if !scene.Alive(s) {
		c.log.Debug(ctx, "scene unavailable; skipping point flight")
		return Flight{}, false
	}

	cam := s.Camera()
	targetECEF := target.ToECEF()
	currentRange := cam.Position.ToECEF().DistanceTo(targetECEF)

	offset := geo.HeadingPitchRange{
		Heading: cam.Heading,
		Pitch:   PitchForZoom(opts.Zoom),
		Range:   ZoomToDistance(opts.Zoom, target.Lat),
	}
	if opts.MaintainHeight {
		if hpr, ok := maintainHeight(cam, target); ok {
			offset = hpr
		}
	}

	f := Flight{
		Mode:     ModePoint,
		Target:   geo.BoundingSphere{Center: targetECEF},
		Offset:   offset,
		Duration: FlightDuration(currentRange/1000, currentRange, offset.Range, opts.DurationFactor, opts.MaxDuration),
	}
	return f, c.start(ctx, s, f)
}

// FlyToPolygon frames sphere from fullViewDistance with heading 0 and the
// camera's current pitch.
func (c *Controller) FlyToPolygon(s scene.Scene, sphere geo.BoundingSphere, fullViewDistance float64, opts PolygonOptions) (Flight, bool) {
	ctx := context.Background()
	if !scene.Alive(s) {
		c.log.Debug(ctx, "scene unavailable; skipping polygon flight")
		return Flight{}, false
	}

	cam := s.Camera()
	currentRange := cam.Position.ToECEF().DistanceTo(sphere.Center)
	f := Flight{
		Mode:     ModePolygon,
		Target:   sphere,
		Offset:   geo.HeadingPitchRange{Heading: 0, Pitch: cam.Pitch, Range: fullViewDistance},
		Duration: FlightDuration(currentRange/1000, currentRange, fullViewDistance, opts.DurationFactor, opts.MaxDuration),
	}
	return f, c.start(ctx, s, f)
}

func (c *Controller) start(ctx context.Context, s scene.Scene, f Flight) bool {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.inFlight = true
	c.mu.Unlock()

	done := func(completed bool) {
		c.mu.Lock()
		if c.seq == seq {
			c.inFlight = false
		}
		c.mu.Unlock()
		c.log.Debug(ctx, "camera flight finished",
			logging.String("mode", f.Mode), logging.Bool("completed", completed))
	}

	if err := s.FlyToBoundingSphere(f.Target, f.Offset, f.Duration, done); err != nil {
		// The flight never started, so no completion callback will come.
		c.mu.Lock()
		if c.seq == seq {
			c.inFlight = false
		}
		c.mu.Unlock()
		c.log.Debug(ctx, "camera flight rejected", logging.String("mode", f.Mode), logging.Err(err))
		return false
	}

	c.metrics.FlightStarted(f.Mode, f.Duration)
	c.log.Debug(ctx, "camera flight started",
		logging.String("mode", f.Mode),
		logging.Float64("range_m", f.Offset.Range),
		logging.Duration("duration", f.Duration))
	return true
}

func maintainHeight(cam scene.CameraState, target geo.Cartographic) (geo.HeadingPitchRange, bool) {
	h := cam.Position.Height - target.Height
	pitch := cam.Pitch
	if h <= 0 || pitch >= -geo.Radians(1) {
		return geo.HeadingPitchRange{}, false
	}
	return geo.HeadingPitchRange{
		Heading: cam.Heading,
		Pitch:   pitch,
		Range:   h / math.Sin(-pitch),
	}, true
}

// ZoomToDistance converts a map zoom level into a camera range in metres: the
// Web-Mercator ground resolution at lat times a 1000 px viewport.
func ZoomToDistance(zoom, lat float64) float64 {
	res := mercatorResolution * math.Cos(geo.Radians(lat)) / math.Pow(2, zoom)
	return math.Max(1, res*viewportPixels)
}

// PitchForZoom returns the camera pitch in radians for a zoom level: straight
// down at zoom 10 and below, easing to -35° as the view gets closer.
func PitchForZoom(zoom float64) float64 {
	deg := geo.Clamp(90-(zoom-10)*7.5, 35, 90)
	return -geo.Radians(deg)
}

// FlightDuration returns cbrt(distanceKm + |currentRange-targetRange| /
// currentRange) * factor, clamped to [0, maxDuration]. factor defaults to 1
// and maxDuration to DefaultMaxDuration.
func FlightDuration(distanceKm, currentRange, targetRange, factor float64, maxDuration time.Duration) time.Duration {
	if factor <= 0 {
		factor = 1
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	ratio := 0.0
	if currentRange > 0 {
		ratio = math.Abs(currentRange-targetRange) / currentRange
	}
	secs := math.Cbrt(math.Max(0, distanceKm)+ratio) * factor
	if math.IsNaN(secs) {
		return 0
	}
	secs = geo.Clamp(secs, 0, maxDuration.Seconds())
	return time.Duration(secs * float64(time.Second))
}
