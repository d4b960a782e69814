package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/terrainview/camera"
	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/scene/memscene"
	"github.com/signalsfoundry/terrainview/store"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/timectrl"
)

var pin = &scene.MarkerAsset{Image: "pin.png", Width: 32, Height: 48, Scale: 1}

type harness struct {
	scene   *memscene.Scene
	ref     *scene.Ref
	clock   *timectrl.ManualClock
	metrics *observability.TargetingCollector
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	metrics, err := observability.NewTargetingCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	s := memscene.New()
	if err := s.SetTerrainProvider(terrain.Flat{Name: "flat", Height: 400}); err != nil {
		t.Fatalf("SetTerrainProvider: %v", err)
	}
	clock := timectrl.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	mopts := marker.DefaultOptions()
	mopts.Asset = pin
	ref := scene.NewRef(s)
	orch := New(ref, Deps{
		Markers: marker.NewManager(mopts, clock, logging.Noop()),
		Clock:   clock,
	}, DefaultOptions(), logging.Noop(), metrics)
	return &harness{scene: s, ref: ref, clock: clock, metrics: metrics, orch: orch}
}

func (h *harness) pointItem(sortKey float64, ts *int64) *model.SelectionItem {
	return &model.SelectionItem{
		Position:           model.Point2{X: 700000, Y: 6.4e6},
		SourceCRS:          "3857",
		SelectionTimestamp: ts,
		SortKey:            sortKey,
	}
}

func (h *harness) now() *int64 {
	return model.Int64Ptr(h.clock.Now().UnixMilli())
}

func (h *harness) processed(kind string) float64 {
	return testutil.ToFloat64(h.metrics.SelectionsProcessed.WithLabelValues(kind))
}

func TestEndToEndWebMercatorPoint(t *testing.T) {
	h := newHarness(t)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))

	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
	entity, _ := h.orch.Current()
	if entity == nil {
		t.Fatalf("orchestrator should own the marker pair")
	}
	ground := entity.Ground()
	if math.Abs(ground.Lon-6.2882) > 1e-3 || math.Abs(ground.Lat-49.7320) > 1e-3 {
		t.Fatalf("ground = %+v, want ~(6.288, 49.732)", ground)
	}
	if ground.Height != 400 {
		t.Fatalf("ground height = %v, want sampled 400", ground.Height)
	}

	flights := h.scene.Flights()
	if len(flights) != 1 {
		t.Fatalf("flights = %d, want 1", len(flights))
	}
	if flights[0].Duration <= 0 || flights[0].Duration > camera.DefaultMaxDuration {
		t.Fatalf("flight duration = %v", flights[0].Duration)
	}
	if want := camera.ZoomToDistance(16, ground.Lat); math.Abs(flights[0].Offset.Range-want) > 1e-6 {
		t.Fatalf("flight range = %v, want zoom 16 range %v", flights[0].Offset.Range, want)
	}
	if !h.orch.InFlight() {
		t.Fatalf("flight should be in progress until the scene completes it")
	}
	if got := h.processed(observability.SelectionPoint); got != 1 {
		t.Fatalf("point selections = %v, want 1", got)
	}
}

func TestDuplicateSelectionIsNoop(t *testing.T) {
	h := newHarness(t)
	added := 0
	h.scene.Subscribe(func(ev memscene.Event) {
		if ev.Type == memscene.EventEntityAdded {
			added++
		}
	})

	ts := h.now()
	h.orch.OnSelection(context.Background(), h.pointItem(3, ts))
	h.orch.OnSelection(context.Background(), h.pointItem(3, model.Int64Ptr(*ts)))

	if added != 2 {
		t.Fatalf("entities added = %d, want one marker pair", added)
	}
	if len(h.scene.Flights()) != 1 {
		t.Fatalf("flights = %d, want 1", len(h.scene.Flights()))
	}
	if got := h.processed(observability.SelectionDuplicate); got != 1 {
		t.Fatalf("duplicates = %v, want 1", got)
	}
}

func TestCleanupBeforeCreate(t *testing.T) {
	h := newHarness(t)
	h.scene.Subscribe(func(ev memscene.Event) {
		if m := h.scene.CountKind(scene.KindMarker); m > 1 {
			t.Errorf("%d markers in scene after %s", m, ev.Type)
		}
		if p := h.scene.CountKind(scene.KindPolyline); p > 1 {
			t.Errorf("%d highlights in scene after %s", p, ev.Type)
		}
	})

	for i := 0; i < 4; i++ {
		item := h.pointItem(float64(i), h.now())
		item.Position.X += float64(i) * 1000
		h.orch.OnSelection(context.Background(), item)
		h.clock.Advance(time.Second)
	}
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
}

func TestFreshnessGate(t *testing.T) {
	h := newHarness(t)
	old := model.Int64Ptr(h.clock.Now().UnixMilli() - 5000)
	h.orch.OnSelection(context.Background(), h.pointItem(1, old))

	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("restored selection should still place a marker, got %d", got)
	}
	if len(h.scene.Flights()) != 0 {
		t.Fatalf("restored selection must not fly the camera")
	}

	h.orch.OnSelection(context.Background(), h.pointItem(2, nil))
	if len(h.scene.Flights()) != 0 {
		t.Fatalf("selection without timestamp must not fly the camera")
	}

	h.orch.OnSelection(context.Background(), h.pointItem(3, h.now()))
	if len(h.scene.Flights()) != 1 {
		t.Fatalf("fresh selection should fly the camera, flights = %d", len(h.scene.Flights()))
	}
}

func TestClearRemovesEverything(t *testing.T) {
	h := newHarness(t)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))
	h.orch.OnSelection(context.Background(), nil)

	if n := len(h.scene.Entities()); n != 0 {
		t.Fatalf("entities after clear = %d, want 0", n)
	}
	if h.scene.ListenerCount() != 0 {
		t.Fatalf("camera listener left behind")
	}
	if got := h.processed(observability.SelectionCleared); got != 1 {
		t.Fatalf("cleared = %v, want 1", got)
	}

	// Dedup memory is reset, so the same selection draws again.
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers after re-selection = %d, want 1", got)
	}
}

func TestSceneNotReadyDefersSelection(t *testing.T) {
	h := newHarness(t)
	h.ref.Set(nil)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))
	if n := len(h.scene.Entities()); n != 0 {
		t.Fatalf("entities drawn without a ready scene: %d", n)
	}

	h.ref.Set(h.scene)
	h.orch.OnSceneReady(context.Background())
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers after scene ready = %d, want 1", got)
	}

	// A second readiness signal for the same scene changes nothing.
	h.orch.OnSceneReady(context.Background())
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
}

func TestSceneReplacedRedrawsSelection(t *testing.T) {
	h := newHarness(t)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))

	next := memscene.New()
	if err := next.SetTerrainProvider(terrain.Flat{Name: "flat", Height: 10}); err != nil {
		t.Fatalf("SetTerrainProvider: %v", err)
	}
	h.ref.Set(next)
	h.orch.OnSceneReady(context.Background())

	if got := h.scene.CountKind(scene.KindMarker); got != 0 {
		t.Fatalf("old scene still has %d markers", got)
	}
	if got := next.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("new scene markers = %d, want 1", got)
	}
	entity, _ := h.orch.Current()
	if entity.Ground().Height != 10 {
		t.Fatalf("marker should sit on the new scene's terrain, got %v", entity.Ground().Height)
	}
}

// hookProvider runs hook during its first sample.
type hookProvider struct {
	terrain.Flat
	hook  func()
	calls int
}

func (p *hookProvider) SampleMostDetailed(ctx context.Context, positions []geo.LonLat) ([]geo.Cartographic, error) {
	p.calls++
	if p.calls == 1 && p.hook != nil {
		p.hook()
	}
	return p.Flat.SampleMostDetailed(ctx, positions)
}

func TestStaleCycleIsDiscarded(t *testing.T) {
	h := newHarness(t)
	second := h.pointItem(2, h.now())
	second.Position.X = 800000

	p := &hookProvider{Flat: terrain.Flat{Name: "hook", Height: 100}}
	p.hook = func() {
		// A newer selection lands while the first is still sampling.
		h.orch.OnSelection(context.Background(), second)
	}
	if err := h.scene.SetTerrainProvider(p); err != nil {
		t.Fatalf("SetTerrainProvider: %v", err)
	}

	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))

	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
	entity, _ := h.orch.Current()
	if entity == nil || entity.Ground().Lon < 7 {
		t.Fatalf("the surviving marker should belong to the newer selection, got %+v", entity)
	}
	if len(h.scene.Flights()) != 1 {
		t.Fatalf("flights = %d, want only the newer selection's", len(h.scene.Flights()))
	}
	if got := h.processed(observability.SelectionStale); got != 1 {
		t.Fatalf("stale = %v, want 1", got)
	}
}

// reentrantScene runs hook when the first marker entity is added.
type reentrantScene struct {
	*memscene.Scene
	once sync.Once
	hook func()

	mu         sync.Mutex
	maxMarkers int
}

func (s *reentrantScene) AddEntity(e scene.Entity) (string, error) {
	id, err := s.Scene.AddEntity(e)
	if e.Kind == scene.KindMarker {
		s.mu.Lock()
		s.maxMarkers = max(s.maxMarkers, s.Scene.CountKind(scene.KindMarker))
		s.mu.Unlock()
		s.once.Do(s.hook)
	}
	return id, err
}

func TestSupersededCycleStopsBeforeLaterMutations(t *testing.T) {
	h := newHarness(t)
	second := h.pointItem(2, h.now())
	second.Position.X = 800000

	wrapped := &reentrantScene{Scene: h.scene}
	wrapped.hook = func() {
		// A newer selection lands while the first cycle is drawing its marker.
		h.orch.OnSelection(context.Background(), second)
	}
	h.ref.Set(wrapped)

	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))

	if wrapped.maxMarkers != 1 {
		t.Fatalf("scene held %d markers at once, want 1", wrapped.maxMarkers)
	}
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
	entity, _ := h.orch.Current()
	if entity == nil || entity.Ground().Lon < 7 {
		t.Fatalf("the surviving marker should belong to the newer selection, got %+v", entity)
	}
	flights := h.scene.Flights()
	if len(flights) != 1 {
		t.Fatalf("flights = %d, want only the newer selection's", len(flights))
	}
	if lon := flights[0].Sphere.CenterCartographic().Lon; math.Abs(lon-entity.Ground().Lon) > 1e-6 {
		t.Fatalf("camera flew to lon %v, want the newer target %v", lon, entity.Ground().Lon)
	}
	if got := h.processed(observability.SelectionStale); got != 1 {
		t.Fatalf("stale = %v, want 1", got)
	}
}

func TestConcurrentSelectionsKeepOnePair(t *testing.T) {
	h := newHarness(t)
	var (
		mu      sync.Mutex
		tooMany int
	)
	h.scene.Subscribe(func(memscene.Event) {
		if h.scene.CountKind(scene.KindMarker) > 1 {
			mu.Lock()
			tooMany++
			mu.Unlock()
		}
	})

	var wg sync.WaitGroup
	for i := range 16 {
		item := h.pointItem(float64(i), h.now())
		item.Position.X += float64(i) * 5000
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.orch.OnSelection(context.Background(), item)
		}()
	}
	wg.Wait()

	if tooMany != 0 {
		t.Fatalf("scene held more than one marker %d times", tooMany)
	}
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("markers = %d, want 1", got)
	}
	entity, _ := h.orch.Current()
	if entity == nil {
		t.Fatalf("the latest selection should own a marker pair")
	}
	flights := h.scene.Flights()
	last := flights[len(flights)-1]
	if lon := last.Sphere.CenterCartographic().Lon; math.Abs(lon-entity.Ground().Lon) > 1e-6 {
		t.Fatalf("last flight went to lon %v, owned marker is at %v", lon, entity.Ground().Lon)
	}
}

func TestFreshSelectionDuringFlightCancelsIt(t *testing.T) {
	h := newHarness(t)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))
	if !h.orch.InFlight() {
		t.Fatalf("first flight should be in progress")
	}

	second := h.pointItem(2, h.now())
	second.Position.X = 800000
	h.orch.OnSelection(context.Background(), second)

	flights := h.scene.Flights()
	if len(flights) != 2 || !flights[0].Cancelled {
		t.Fatalf("flights = %+v, want the first cancelled by the second", flights)
	}
	if !h.orch.InFlight() {
		t.Fatalf("second flight should be in progress")
	}
	h.scene.CompleteFlight()
	if h.orch.InFlight() {
		t.Fatalf("no flight should be in progress after completion")
	}
}

func TestCycleQueueRunsReentrantCyclesAfterCurrent(t *testing.T) {
	var (
		q     cycleQueue
		order []string
	)
	q.run(func() {
		order = append(order, "first:start")
		q.run(func() { order = append(order, "second") })
		order = append(order, "first:end")
	})
	q.run(func() { order = append(order, "third") })

	want := []string{"first:start", "first:end", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func areaItem(t *testing.T, ts *int64) *model.SelectionItem {
	t.Helper()
	raw := `{"type":"Polygon","coordinates":[[[7.40,46.90],[7.50,46.90],[7.50,47.00],[7.40,47.00],[7.40,46.90]]]}`
	var poly model.PolygonGeometry
	if err := json.Unmarshal([]byte(raw), &poly); err != nil {
		t.Fatalf("polygon: %v", err)
	}
	return &model.SelectionItem{
		Position:           model.Point2{X: 7.45, Y: 46.95},
		SourceCRS:          "EPSG:4326",
		IsAreaSelection:    true,
		SelectionTimestamp: ts,
		SortKey:            9,
		More:               model.SelectionExtras{Polygon: &poly},
	}
}

func TestAreaSelection(t *testing.T) {
	h := newHarness(t)
	h.orch.OnSelection(context.Background(), h.pointItem(1, h.now()))
	h.orch.OnSelection(context.Background(), areaItem(t, h.now()))

	if got := h.scene.CountKind(scene.KindMarker); got != 0 {
		t.Fatalf("marker should be removed for an area selection, got %d", got)
	}
	if got := h.scene.CountKind(scene.KindVolume); got != 1 {
		t.Fatalf("volumes = %d, want 1", got)
	}
	if got := len(h.scene.Primitives()); got != 1 {
		t.Fatalf("mask primitives = %d, want 1", got)
	}
	_, area := h.orch.Current()
	if area == nil {
		t.Fatalf("orchestrator should own the area selection")
	}
	vol, _ := h.scene.Entity(area.Volume)
	if vol.Volume.Height != 400 {
		t.Fatalf("volume base = %v, want sampled 400", vol.Volume.Height)
	}

	flights := h.scene.Flights()
	last := flights[len(flights)-1]
	if last.Offset.Heading != 0 || last.Sphere != area.Sphere {
		t.Fatalf("polygon flight = %+v", last)
	}
	if got := h.processed(observability.SelectionArea); got != 1 {
		t.Fatalf("area selections = %v, want 1", got)
	}

	h.orch.OnSelection(context.Background(), nil)
	if len(h.scene.Primitives()) != 0 || len(h.scene.Entities()) != 0 {
		t.Fatalf("clear left %d primitives and %d entities", len(h.scene.Primitives()), len(h.scene.Entities()))
	}
}

func TestBindFollowsStore(t *testing.T) {
	h := newHarness(t)
	st := store.New()
	st.Set(h.pointItem(1, h.now()))

	unsubscribe := h.orch.Bind(context.Background(), st)
	defer unsubscribe()
	if got := h.scene.CountKind(scene.KindMarker); got != 1 {
		t.Fatalf("current store value not processed on bind")
	}

	st.Clear()
	if got := h.scene.CountKind(scene.KindMarker); got != 0 {
		t.Fatalf("markers after store clear = %d, want 0", got)
	}
}

func TestResolveSelectionWithoutElevation(t *testing.T) {
	s := memscene.New()
	mopts := marker.DefaultOptions()
	mopts.Asset = pin
	var set []*marker.EntityData

	derived := model.DerivedGeometry{Position: geo.LonLat{Lon: 8.5, Lat: 47.4}, Zoom: 14}
	res := ResolveSelection(context.Background(), s, Flags{Fresh: true}, nil,
		func(d *marker.EntityData) { set = append(set, d) },
		derived,
		ResolveOptions{
			Resolver: terrain.NewElevationResolver(nil, nil),
			Markers:  marker.NewManager(mopts, timectrl.NewManualClock(time.Unix(0, 0)), nil),
			Camera:   camera.NewController(nil, nil),
		})

	if res.Sampled {
		t.Fatalf("scene has no terrain provider, nothing should be sampled")
	}
	if s.CountKind(scene.KindMarker) != 0 {
		t.Fatalf("marker must be skipped without an elevation")
	}
	if len(set) != 1 || set[0] != nil {
		t.Fatalf("setEntityData calls = %v, want a single nil", set)
	}
	if res.Flight == nil {
		t.Fatalf("a fresh selection still flies without elevation")
	}
	target := res.Flight.Target.CenterCartographic()
	if math.Abs(target.Height) > 1e-3 {
		t.Fatalf("flight target height = %v, want 0", target.Height)
	}
}

func TestResolveSelectionOnDestroyedScene(t *testing.T) {
	s := memscene.New()
	s.Destroy()
	res := ResolveSelection(context.Background(), s, Flags{Fresh: true}, nil, nil,
		model.DerivedGeometry{Position: geo.LonLat{Lon: 8, Lat: 47}, Zoom: 16},
		ResolveOptions{Camera: camera.NewController(nil, nil)})
	if !res.Aborted || res.Flight != nil {
		t.Fatalf("result = %+v, want aborted without flight", res)
	}
}
