package terrain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/scene/memscene"
	"github.com/signalsfoundry/terrainview/timectrl"
)

const base = 100 * time.Millisecond

var (
	testKeys = KeyTable{
		"flood": {Default: "A", Alternate: "A-alt"},
		"storm": {Default: "B"},
		"quake": {Default: "C"},
	}
	testURLs = URLTable{
		"A": "https://terrain.example/a",
		"B": "https://terrain.example/b",
	}
)

type stubProvider struct{ src string }

func (p stubProvider) Source() string        { return p.src }
func (p stubProvider) VerticalDatum() string { return "" }
func (p stubProvider) SampleMostDetailed(_ context.Context, pos []geo.LonLat) ([]geo.Cartographic, error) {
	out := make([]geo.Cartographic, len(pos))
	for i, p := range pos {
		out[i] = p.WithHeight(0)
	}
	return out, nil
}

// gatedFactory blocks each URL's load until release is called for it.
type gatedFactory struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	calls map[string]int
	fail  map[string]error
}

func newGatedFactory() *gatedFactory {
	return &gatedFactory{
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

func (f *gatedFactory) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.gates[url]
	if !ok {
		ch = make(chan struct{})
		f.gates[url] = ch
	}
	return ch
}

func (f *gatedFactory) release(url string) { close(f.gate(url)) }

func (f *gatedFactory) FromURL(ctx context.Context, url string) (Provider, error) {
	f.mu.Lock()
	f.calls[url]++
	err := f.fail[url]
	f.mu.Unlock()

	<-f.gate(url)
	if err != nil {
		return nil, err
	}
	return stubProvider{src: url}, nil
}

func (f *gatedFactory) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// instantFactory loads every URL without blocking.
func instantFactory() *gatedFactory {
	f := newGatedFactory()
	for _, url := range testURLs {
		f.release(url)
	}
	return f
}

func newTestManager(t *testing.T, ref *scene.Ref, f Factory, opts ManagerOptions) (*ProviderManager, *timectrl.ManualClock, *observability.TargetingCollector) {
	t.Helper()
	metrics, err := observability.NewTargetingCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	if opts.RetryBase == 0 {
		opts.RetryBase = base
	}
	return NewProviderManager(ref, f, opts, clock, logging.Noop(), metrics), clock, metrics
}

func activeSource(s scene.Scene) string {
	if p := s.TerrainProvider(); p != nil {
		return p.Source()
	}
	return ""
}

func TestRetryBackoffUntilSceneReady(t *testing.T) {
	ref := scene.NewRef(nil)
	m, clock, metrics := newTestManager(t, ref, instantFactory(), ManagerOptions{MaxAttempts: 5})
	ctx := context.Background()

	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	if m.State() != StateRetryScheduled {
		t.Fatalf("state = %v, want retry_scheduled", m.State())
	}

	// Polls 2 and 3 still find no scene.
	clock.Advance(base)
	clock.Advance(2 * base)

	s := memscene.New()
	ref.Set(s)
	clock.Advance(4 * base)
	m.Wait()

	want := []time.Duration{base, 2 * base, 4 * base}
	got := clock.Scheduled()
	if len(got) != len(want) {
		t.Fatalf("scheduled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("scheduled = %v, want %v", got, want)
		}
	}
	if m.State() != StateSuccess {
		t.Fatalf("state = %v, want success", m.State())
	}
	if src := activeSource(s); src != testURLs["A"] {
		t.Fatalf("active provider = %q, want %q", src, testURLs["A"])
	}
	if s.Renders() == 0 {
		t.Fatalf("expected a redraw after applying the provider")
	}
	if got := testutil.ToFloat64(metrics.TerrainRetries.WithLabelValues("A")); got != 3 {
		t.Fatalf("retries metric = %v, want 3", got)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	ref := scene.NewRef(nil)
	f := instantFactory()
	m, clock, metrics := newTestManager(t, ref, f, ManagerOptions{MaxAttempts: 2})

	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	for clock.AdvanceToNext() {
	}

	if m.State() != StateGaveUp {
		t.Fatalf("state = %v, want gave_up", m.State())
	}
	if got := clock.Scheduled(); len(got) != 2 || got[0] != base || got[1] != 2*base {
		t.Fatalf("scheduled = %v, want [base 2*base]", got)
	}
	if f.callCount(testURLs["A"]) != 0 {
		t.Fatalf("no load should be attempted without a scene")
	}
	if got := testutil.ToFloat64(metrics.TerrainLoads.WithLabelValues("A", observability.LoadGaveUp)); got != 1 {
		t.Fatalf("gave_up metric = %v, want 1", got)
	}

	// A new input change starts over.
	ref.Set(memscene.New())
	m.UseTerrainForScenario(context.Background(), "storm", false, testKeys, testURLs)
	m.Wait()
	if m.State() != StateSuccess {
		t.Fatalf("state after input change = %v, want success", m.State())
	}
}

func TestStaleAttemptIsDiscarded(t *testing.T) {
	s := memscene.New()
	ref := scene.NewRef(s)
	f := newGatedFactory()
	m, _, metrics := newTestManager(t, ref, f, ManagerOptions{})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		applied []string
	)
	s.Subscribe(func(ev memscene.Event) {
		if ev.Type == memscene.EventTerrainChanged {
			mu.Lock()
			applied = append(applied, activeSource(s))
			mu.Unlock()
		}
	})

	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	tokenA := m.Token()
	m.UseTerrainForScenario(ctx, "storm", false, testKeys, testURLs)
	if m.Token() == tokenA {
		t.Fatalf("input change must mint a new attempt token")
	}

	f.release(testURLs["A"])
	f.release(testURLs["B"])
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 || applied[0] != testURLs["B"] {
		t.Fatalf("applied providers = %v, want only B", applied)
	}
	if src := activeSource(s); src != testURLs["B"] {
		t.Fatalf("active provider = %q, want B", src)
	}
	if got := testutil.ToFloat64(metrics.TerrainLoads.WithLabelValues("A", observability.LoadDiscarded)); got != 1 {
		t.Fatalf("discarded metric = %v, want 1", got)
	}

	// A's provider was cached for this scene, so switching back needs no
	// second load.
	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	if m.State() != StateSuccess {
		t.Fatalf("state = %v, want synchronous success from cache", m.State())
	}
	if f.callCount(testURLs["A"]) != 1 {
		t.Fatalf("A loads = %d, want 1", f.callCount(testURLs["A"]))
	}
	if got := testutil.ToFloat64(metrics.TerrainCacheHits.WithLabelValues("A")); got != 1 {
		t.Fatalf("cache hit metric = %v, want 1", got)
	}
}

func TestIdenticalInputsAreNoop(t *testing.T) {
	ref := scene.NewRef(memscene.New())
	f := instantFactory()
	m, _, _ := newTestManager(t, ref, f, ManagerOptions{})

	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	token := m.Token()
	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	m.Wait()

	if m.Token() != token {
		t.Fatalf("identical inputs must not mint a new token")
	}
	if f.callCount(testURLs["A"]) != 1 {
		t.Fatalf("loads = %d, want 1", f.callCount(testURLs["A"]))
	}
}

func TestMissingKeyOrURLIsTerminal(t *testing.T) {
	s := memscene.New()
	f := instantFactory()
	m, clock, metrics := newTestManager(t, scene.NewRef(s), f, ManagerOptions{})

	m.UseTerrainForScenario(context.Background(), "storm", true, testKeys, testURLs)
	if m.State() != StateIdle {
		t.Fatalf("missing key: state = %v, want idle", m.State())
	}

	m.UseTerrainForScenario(context.Background(), "quake", false, testKeys, testURLs)
	m.Wait()
	if m.State() != StateIdle {
		t.Fatalf("missing url: state = %v, want idle", m.State())
	}
	if got := testutil.ToFloat64(metrics.TerrainLoads.WithLabelValues("C", observability.LoadNoURL)); got != 1 {
		t.Fatalf("no_url metric = %v, want 1", got)
	}
	if s.TerrainProvider() != nil || clock.Pending() != 0 {
		t.Fatalf("nothing should be loaded or scheduled")
	}
}

func TestLoadFailureLeavesProviderUnchanged(t *testing.T) {
	s := memscene.New()
	f := instantFactory()
	f.fail[testURLs["B"]] = errors.New("connection refused")
	m, _, _ := newTestManager(t, scene.NewRef(s), f, ManagerOptions{})

	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	m.Wait()
	m.UseTerrainForScenario(context.Background(), "storm", false, testKeys, testURLs)
	m.Wait()

	if m.State() != StateFailed {
		t.Fatalf("state = %v, want failed", m.State())
	}
	if src := activeSource(s); src != testURLs["A"] {
		t.Fatalf("active provider = %q, want A unchanged", src)
	}
}

func TestScenarioStyleAppliedAfterSettleDelay(t *testing.T) {
	s := memscene.New()
	style := scene.Style{Background: scene.Black, GlobeTranslucency: 0.3}
	m, clock, _ := newTestManager(t, scene.NewRef(s), instantFactory(), ManagerOptions{
		StyleSettleDelay: 100 * time.Millisecond,
		Styles:           StyleTable{"A": style},
	})

	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	m.Wait()
	if _, ok := s.Style(); ok {
		t.Fatalf("style must wait for the settle delay")
	}

	clock.Advance(100 * time.Millisecond)
	got, ok := s.Style()
	if !ok || got != style {
		t.Fatalf("style = %+v, %v; want %+v", got, ok, style)
	}
}

func TestSetStylesAppliesToLaterLoads(t *testing.T) {
	s := memscene.New()
	m, clock, _ := newTestManager(t, scene.NewRef(s), instantFactory(), ManagerOptions{
		StyleSettleDelay: 100 * time.Millisecond,
	})

	m.UseTerrainForScenario(context.Background(), "flood", false, testKeys, testURLs)
	m.Wait()
	clock.Advance(100 * time.Millisecond)
	if _, ok := s.Style(); ok {
		t.Fatalf("no style configured yet")
	}

	style := scene.Style{Background: scene.Black, GlobeTranslucency: 0.5}
	m.SetStyles(StyleTable{"A": style})
	m.Retry(context.Background())
	m.Wait()
	clock.Advance(100 * time.Millisecond)
	if got, ok := s.Style(); !ok || got != style {
		t.Fatalf("style = %+v, %v; want %+v", got, ok, style)
	}
}

func TestCachePrunedForDestroyedScene(t *testing.T) {
	first := memscene.New()
	ref := scene.NewRef(first)
	f := instantFactory()
	m, _, _ := newTestManager(t, ref, f, ManagerOptions{})
	ctx := context.Background()

	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	m.Wait()
	if m.CachedScenes() != 1 {
		t.Fatalf("cached scenes = %d, want 1", m.CachedScenes())
	}

	first.Destroy()
	second := memscene.New()
	ref.Set(second)
	if m.CachedScenes() != 0 {
		t.Fatalf("destroyed scene still cached")
	}

	m.Retry(ctx)
	m.Wait()
	if f.callCount(testURLs["A"]) != 2 {
		t.Fatalf("new scene must load its own provider, loads = %d", f.callCount(testURLs["A"]))
	}
	if activeSource(second) != testURLs["A"] {
		t.Fatalf("second scene has no provider")
	}

	m.Forget(second)
	if m.CachedScenes() != 0 {
		t.Fatalf("Forget did not drop the scene")
	}
}

// gatedScene blocks its first SetTerrainProvider until proceed is closed.
type gatedScene struct {
	*memscene.Scene
	once    sync.Once
	entered chan struct{}
	proceed chan struct{}
}

func (s *gatedScene) SetTerrainProvider(p scene.TerrainProvider) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.proceed
	})
	return s.Scene.SetTerrainProvider(p)
}

func TestSupersededApplyCannotOverwriteNewerProvider(t *testing.T) {
	s := &gatedScene{Scene: memscene.New(), entered: make(chan struct{}), proceed: make(chan struct{})}
	m, _, _ := newTestManager(t, scene.NewRef(s), instantFactory(), ManagerOptions{})
	ctx := context.Background()

	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	// A passed its token check and is now setting its provider.
	<-s.entered

	m.UseTerrainForScenario(ctx, "storm", false, testKeys, testURLs)
	close(s.proceed)
	m.Wait()

	if src := activeSource(s); src != testURLs["B"] {
		t.Fatalf("active provider = %q, want B", src)
	}
	if m.Scenario() != "B" || m.State() != StateSuccess {
		t.Fatalf("manager = %s/%s, want B/success", m.Scenario(), m.State())
	}
}

func TestReplacedSceneIsForgotten(t *testing.T) {
	s := memscene.New()
	ref := scene.NewRef(s)
	m, _, _ := newTestManager(t, ref, instantFactory(), ManagerOptions{})
	ctx := context.Background()

	m.UseTerrainForScenario(ctx, "flood", false, testKeys, testURLs)
	m.Wait()
	if m.CachedScenes() != 1 {
		t.Fatalf("cached scenes = %d, want 1", m.CachedScenes())
	}

	next := memscene.New()
	m.ReplaceScene(ctx, next)
	m.Wait()
	if m.CachedScenes() != 1 {
		t.Fatalf("cached scenes after replace = %d, want only the new scene", m.CachedScenes())
	}
	if ref.Get() != next || activeSource(next) != testURLs["A"] {
		t.Fatalf("replacement scene terrain = %q", activeSource(next))
	}
}
