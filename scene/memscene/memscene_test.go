package memscene

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/scene"
)

type namedProvider string

func (p namedProvider) Source() string { return string(p) }

func TestEntityLifecycle(t *testing.T) {
	s := New()
	var events []EventType
	s.Subscribe(func(ev Event) { events = append(events, ev.Type) })

	id, err := s.AddEntity(scene.Entity{Kind: scene.KindMarker})
	if err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
	if _, err := s.AddEntity(scene.Entity{ID: id}); err == nil {
		t.Fatalf("expected duplicate id error")
	}

	if err := s.UpdateEntity(id, func(e *scene.Entity) { e.Position.Height = 42 }); err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	e, _ := s.Entity(id)
	if e.Position.Height != 42 {
		t.Fatalf("height = %v, want 42", e.Position.Height)
	}
	if err := s.UpdateEntity("missing", func(*scene.Entity) {}); !errors.Is(err, scene.ErrEntityNotFound) {
		t.Fatalf("UpdateEntity(missing) err = %v", err)
	}

	if !s.RemoveEntity(id) {
		t.Fatalf("RemoveEntity returned false")
	}
	if s.RemoveEntity(id) {
		t.Fatalf("second RemoveEntity should return false")
	}
	want := []EventType{EventEntityAdded, EventEntityUpdated, EventEntityRemoved}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestDestroyedSceneRejectsMutation(t *testing.T) {
	s := New()
	s.Destroy()

	if !s.IsDestroyed() || scene.Alive(s) {
		t.Fatalf("scene should report destroyed")
	}
	if _, err := s.AddEntity(scene.Entity{}); !errors.Is(err, scene.ErrSceneDestroyed) {
		t.Fatalf("AddEntity err = %v", err)
	}
	if _, err := s.AddGroundPrimitive(scene.GroundPrimitive{}); !errors.Is(err, scene.ErrSceneDestroyed) {
		t.Fatalf("AddGroundPrimitive err = %v", err)
	}
	if err := s.SetTerrainProvider(namedProvider("x")); !errors.Is(err, scene.ErrSceneDestroyed) {
		t.Fatalf("SetTerrainProvider err = %v", err)
	}
	if err := s.FlyToBoundingSphere(geo.BoundingSphere{}, geo.HeadingPitchRange{}, 0, nil); !errors.Is(err, scene.ErrSceneDestroyed) {
		t.Fatalf("FlyToBoundingSphere err = %v", err)
	}
}

func TestCameraListeners(t *testing.T) {
	s := New()
	calls := 0
	remove := s.OnCameraChanged(func() { calls++ })

	cam := s.Camera()
	cam.Position.Height = 5000
	s.SetCamera(cam)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	remove()
	s.SetCamera(cam)
	if calls != 1 {
		t.Fatalf("listener still attached after remove")
	}
	if s.ListenerCount() != 0 {
		t.Fatalf("ListenerCount = %d", s.ListenerCount())
	}
}

func TestFlightCancelledByNewerFlight(t *testing.T) {
	s := New()
	target := geo.Cartographic{Lon: 8, Lat: 47, Height: 500}
	sphere := geo.BoundingSphere{Center: target.ToECEF()}
	offset := geo.HeadingPitchRange{Pitch: geo.Radians(-90), Range: 1000}

	var first, second []bool
	if err := s.FlyToBoundingSphere(sphere, offset, 0, func(ok bool) { first = append(first, ok) }); err != nil {
		t.Fatalf("fly: %v", err)
	}
	if err := s.FlyToBoundingSphere(sphere, offset, 0, func(ok bool) { second = append(second, ok) }); err != nil {
		t.Fatalf("fly: %v", err)
	}
	if len(first) != 1 || first[0] {
		t.Fatalf("first flight callbacks = %v, want [false]", first)
	}
	if len(second) != 0 {
		t.Fatalf("second flight should still be pending")
	}

	if !s.CompleteFlight() {
		t.Fatalf("CompleteFlight returned false")
	}
	if len(second) != 1 || !second[0] {
		t.Fatalf("second flight callbacks = %v, want [true]", second)
	}
	if s.CompleteFlight() {
		t.Fatalf("no flight should be pending")
	}

	cam := s.Camera()
	if math.Abs(cam.Position.Height-1500) > 1e-3 {
		t.Fatalf("camera height = %v, want 1500", cam.Position.Height)
	}
	flights := s.Flights()
	if !flights[0].Cancelled || !flights[1].Completed {
		t.Fatalf("flight records = %+v", flights)
	}
}

func TestAutoCompleteAndDestroyCancels(t *testing.T) {
	auto := New(WithAutoComplete(true))
	landed := false
	_ = auto.FlyToBoundingSphere(geo.BoundingSphere{Center: geo.Cartographic{Lon: 1, Lat: 1}.ToECEF()},
		geo.HeadingPitchRange{Pitch: -1, Range: 100}, 0, func(ok bool) { landed = ok })
	if !landed {
		t.Fatalf("auto-complete flight did not land")
	}

	s := New()
	var got []bool
	_ = s.FlyToBoundingSphere(geo.BoundingSphere{}, geo.HeadingPitchRange{}, 0, func(ok bool) { got = append(got, ok) })
	s.Destroy()
	if len(got) != 1 || got[0] {
		t.Fatalf("destroy should cancel pending flight, got %v", got)
	}
}

func TestSnapshot(t *testing.T) {
	s := New()
	_, _ = s.AddEntity(scene.Entity{Kind: scene.KindMarker})
	_, _ = s.AddGroundPrimitive(scene.GroundPrimitive{Color: scene.Black})
	_ = s.SetTerrainProvider(namedProvider("https://terrain.example/alps"))
	_ = s.ApplyStyle(scene.Style{GlobeTranslucency: 0.5})
	s.RequestRender()

	snap := s.Snapshot()
	if len(snap.Entities) != 1 || len(snap.Primitives) != 1 {
		t.Fatalf("snapshot counts: %+v", snap)
	}
	if snap.Terrain != "https://terrain.example/alps" || snap.Style == nil || snap.Renders != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}
