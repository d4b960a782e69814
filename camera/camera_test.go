package camera

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/scene/memscene"
)

func TestZoomToDistance(t *testing.T) {
	d16 := ZoomToDistance(16, 50)
	if d16 < 1400 || d16 > 1700 {
		t.Fatalf("zoom 16 at 50°N = %v m, want ~1.5 km", d16)
	}
	if d15 := ZoomToDistance(15, 50); math.Abs(d15-2*d16) > 1e-6 {
		t.Fatalf("one zoom level out should double the range: %v vs %v", d15, d16)
	}
}

func TestPitchForZoom(t *testing.T) {
	cases := []struct {
		zoom float64
		deg  float64
	}{
		{5, -90},
		{10, -90},
		{14, -60},
		{16, -45},
		{20, -35},
	}
	for _, tc := range cases {
		if got := geo.Degrees(PitchForZoom(tc.zoom)); math.Abs(got-tc.deg) > 1e-9 {
			t.Fatalf("PitchForZoom(%v) = %v°, want %v°", tc.zoom, got, tc.deg)
		}
	}
}

func TestFlightDuration(t *testing.T) {
	// cbrt(8 + 0) = 2
	if got := FlightDuration(8, 1000, 1000, 1, 0); got != 2*time.Second {
		t.Fatalf("duration = %v, want 2s", got)
	}
	if got := FlightDuration(8, 1000, 1000, 0.5, 0); got != time.Second {
		t.Fatalf("factor 0.5 duration = %v, want 1s", got)
	}
	if got := FlightDuration(1e9, 1, 1, 1, 0); got != DefaultMaxDuration {
		t.Fatalf("long flight = %v, want ceiling %v", got, DefaultMaxDuration)
	}
	if got := FlightDuration(1e9, 1, 1, 1, 3*time.Second); got != 3*time.Second {
		t.Fatalf("custom ceiling = %v, want 3s", got)
	}
	if got := FlightDuration(0, 0, 1000, 1, 0); got != 0 {
		t.Fatalf("zero distance = %v, want 0", got)
	}
}

func TestFlyToPointFromZoom(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewTargetingCollector(reg)
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	s := memscene.New()
	c := NewController(logging.Noop(), metrics)
	target := geo.Cartographic{Lon: 6.29, Lat: 49.73, Height: 300}

	f, ok := c.FlyToPoint(s, target, PointOptions{Zoom: 16})
	if !ok {
		t.Fatalf("FlyToPoint returned false")
	}
	if f.Offset.Range != ZoomToDistance(16, target.Lat) || f.Offset.Pitch != PitchForZoom(16) {
		t.Fatalf("offset = %+v", f.Offset)
	}
	if f.Duration <= 0 || f.Duration > DefaultMaxDuration {
		t.Fatalf("duration = %v", f.Duration)
	}

	flights := s.Flights()
	if len(flights) != 1 || flights[0].Duration != f.Duration {
		t.Fatalf("scene flights = %+v", flights)
	}
	if got := testutil.ToFloat64(metrics.CameraFlights.WithLabelValues(ModePoint)); got != 1 {
		t.Fatalf("camera_flights_total = %v, want 1", got)
	}
}

func TestFlyToPointMaintainHeight(t *testing.T) {
	s := memscene.New()
	cam := s.Camera()
	cam.Position = geo.Cartographic{Lon: 7.4, Lat: 46.9, Height: 5300}
	cam.Pitch = geo.Radians(-30)
	s.SetCamera(cam)

	target := geo.Cartographic{Lon: 7.45, Lat: 46.95, Height: 300}
	f, ok := NewController(nil, nil).FlyToPoint(s, target, PointOptions{Zoom: 16, MaintainHeight: true})
	if !ok {
		t.Fatalf("FlyToPoint returned false")
	}
	// 5000 m above the target at -30° pitch puts the camera 10 km away.
	if math.Abs(f.Offset.Range-10000) > 1e-6 || f.Offset.Pitch != cam.Pitch {
		t.Fatalf("offset = %+v, want range 10000 at current pitch", f.Offset)
	}
}

func TestInFlightClearedOnlyOnCompletion(t *testing.T) {
	s := memscene.New()
	c := NewController(nil, nil)
	target := geo.Cartographic{Lon: 8, Lat: 47}

	if _, ok := c.FlyToPoint(s, target, PointOptions{Zoom: 14}); !ok {
		t.Fatalf("first flight not started")
	}
	if !c.InFlight() {
		t.Fatalf("flight should be in progress")
	}

	// A second flight cancels the first; the cancellation must not clear
	// the flag for the flight that replaced it.
	if _, ok := c.FlyToPoint(s, target, PointOptions{Zoom: 15}); !ok {
		t.Fatalf("second flight not started")
	}
	if !c.InFlight() {
		t.Fatalf("cancelled predecessor cleared the in-flight flag")
	}

	s.CompleteFlight()
	if c.InFlight() {
		t.Fatalf("flag should clear once the flight lands")
	}
}

func TestFlyToPolygon(t *testing.T) {
	s := memscene.New()
	cam := s.Camera()
	cam.Pitch = geo.Radians(-60)
	cam.Heading = geo.Radians(45)
	s.SetCamera(cam)

	sphere := geo.BoundingSphere{Center: geo.Cartographic{Lon: 7.45, Lat: 46.95}.ToECEF(), Radius: 5000}
	f, ok := NewController(nil, nil).FlyToPolygon(s, sphere, 12000, PolygonOptions{})
	if !ok {
		t.Fatalf("FlyToPolygon returned false")
	}
	if f.Offset.Heading != 0 || f.Offset.Pitch != cam.Pitch || f.Offset.Range != 12000 {
		t.Fatalf("offset = %+v", f.Offset)
	}
	if s.Flights()[0].Sphere != sphere {
		t.Fatalf("flight target mismatch")
	}
}

func TestDestroyedSceneIsNoop(t *testing.T) {
	s := memscene.New()
	s.Destroy()
	c := NewController(nil, nil)

	if _, ok := c.FlyToPoint(s, geo.Cartographic{}, PointOptions{Zoom: 10}); ok {
		t.Fatalf("flight on destroyed scene reported started")
	}
	if _, ok := c.FlyToPolygon(nil, geo.BoundingSphere{}, 100, PolygonOptions{}); ok {
		t.Fatalf("flight on nil scene reported started")
	}
	if c.InFlight() {
		t.Fatalf("no flight should be in progress")
	}
}
