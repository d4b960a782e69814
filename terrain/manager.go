package terrain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/timectrl"
)

// State is the provider manager's position in its load cycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateRetryScheduled
	StateSuccess
	StateFailed
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	case StateGaveUp:
		return "gave_up"
	default:
		return "unknown"
	}
}

// AttemptToken identifies one logical "resolve the provider for these inputs"
// operation.
type AttemptToken string

// ManagerOptions tunes the retry loop.
type ManagerOptions struct {
	// RetryBase is the first backoff delay; retry n waits RetryBase * 2^n.
	RetryBase time.Duration
	// MaxAttempts is how many retries are scheduled while the scene is not
	// ready before giving up.
	MaxAttempts int
	// StyleSettleDelay separates applying a provider from applying the
	// scenario style.
	StyleSettleDelay time.Duration
	Styles           StyleTable
}

// DefaultManagerOptions returns the production retry settings.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		RetryBase:        200 * time.Millisecond,
		MaxAttempts:      8,
		StyleSettleDelay: 100 * time.Millisecond,
	}
}

type inputs struct {
	simulation string
	alternate  bool
	key        string
	url        string
}

// ProviderManager keeps the scene's terrain provider in line with the
// selected scenario. Loads are retried with exponential backoff while the
// scene is not ready, providers are cached per scene, and results of
// superseded attempts never reach the live scene.
type ProviderManager struct {
	scenes  *scene.Ref
	factory Factory
	clock   timectrl.Clock
	log     logging.Logger
	metrics *observability.TargetingCollector
	opts    ManagerOptions
	cache   *providerCache

	mu      sync.Mutex
	started bool
	current inputs
	token   AttemptToken
	attempt int
	timer   timectrl.Timer
	state   State

	// applyMu is held from the token check through the scene mutation, so a
	// superseded attempt cannot land after the attempt that replaced it.
	applyMu sync.Mutex

	wg sync.WaitGroup
}

// NewProviderManager wires a manager to the scene handle and provider
// factory. clock, log and metrics may be nil.
func NewProviderManager(scenes *scene.Ref, factory Factory, opts ManagerOptions, clock timectrl.Clock, log logging.Logger, metrics *observability.TargetingCollector) *ProviderManager {
	def := DefaultManagerOptions()
	if opts.RetryBase <= 0 {
		opts.RetryBase = def.RetryBase
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.StyleSettleDelay < 0 {
		opts.StyleSettleDelay = def.StyleSettleDelay
	}
	return &ProviderManager{
		scenes:  scenes,
		factory: factory,
		clock:   timectrl.OrReal(clock),
		log:     logging.Component(log, "terrain"),
		metrics: metrics,
		opts:    opts,
		cache:   newProviderCache(),
	}
}

// UseTerrainForScenario drives the manager from the selected simulation and
// map style. Calling it again with inputs that resolve to the same scenario
// key and URL is a no-op; any other change supersedes the running attempt.
func (m *ProviderManager) UseTerrainForScenario(ctx context.Context, simulation string, alternate bool, keys KeyTable, urls URLTable) {
	ctx = context.WithoutCancel(ctx)

	key, hasKey := keys.Lookup(simulation, alternate)
	in := inputs{simulation: simulation, alternate: alternate, key: key, url: urls[key]}

	m.mu.Lock()
	if m.started && in == m.current {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.current = in
	m.resetLocked()
	token := m.token

	switch {
	case !hasKey:
		m.state = StateIdle
		m.mu.Unlock()
		m.log.Debug(ctx, "no terrain scenario for selection",
			logging.String("simulation", simulation), logging.Bool("alternate", alternate))
		return
	case in.url == "":
		m.state = StateIdle
		m.mu.Unlock()
		m.metrics.TerrainLoad(key, observability.LoadNoURL)
		m.log.Warn(ctx, "no terrain URL configured for scenario", logging.String("scenario", key))
		return
	}
	m.mu.Unlock()

	m.attemptLoad(ctx, token, 0)
}

// resetLocked mints a new attempt token and drops the pending retry.
func (m *ProviderManager) resetLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.attempt = 0
	m.token = AttemptToken(uuid.NewString())
}

func (m *ProviderManager) attemptLoad(ctx context.Context, token AttemptToken, n int) {
	m.mu.Lock()
	if token != m.token {
		m.mu.Unlock()
		return
	}
	key, url := m.current.key, m.current.url
	m.attempt = n

	s, ready := m.scenes.Ready()
	if !ready {
		if n >= m.opts.MaxAttempts {
			m.state = StateGaveUp
			m.timer = nil
			m.mu.Unlock()
			m.metrics.TerrainLoad(key, observability.LoadGaveUp)
			m.log.Warn(ctx, "scene never became ready; giving up terrain load",
				logging.String("scenario", key), logging.Int("attempts", n))
			return
		}
		delay := m.opts.RetryBase << n
		m.state = StateRetryScheduled
		m.timer = m.clock.AfterFunc(delay, func() { m.attemptLoad(ctx, token, n+1) })
		m.mu.Unlock()
		m.metrics.TerrainRetry(key)
		m.log.Debug(ctx, "scene not ready; retrying terrain load",
			logging.String("scenario", key), logging.Int("attempt", n+1), logging.Duration("delay", delay))
		return
	}
	m.timer = nil

	if p, ok := m.cache.get(s, key); ok {
		m.state = StateSuccess
		m.mu.Unlock()
		m.metrics.TerrainCacheHit(key)
		m.apply(ctx, s, token, key, p)
		return
	}

	m.state = StateLoading
	m.wg.Add(1)
	m.mu.Unlock()

	go m.load(ctx, s, token, key, url, n)
}

func (m *ProviderManager) load(ctx context.Context, s scene.Scene, token AttemptToken, key, url string, n int) {
	defer m.wg.Done()

	ctx, span := observability.StartSpan(ctx, "terrain.provider.load",
		attribute.String("scenario", key), attribute.String("url", url))
	defer span.End()

	p, err := m.factory.FromURL(ctx, url)
	if err != nil {
		span.RecordError(err)
		m.mu.Lock()
		if token == m.token {
			m.state = StateFailed
		}
		m.mu.Unlock()
		m.metrics.TerrainLoad(key, observability.LoadFailed)
		m.log.Warn(ctx, "terrain provider failed to load",
			logging.String("scenario", key), logging.String("url", url), logging.Err(err))
		return
	}

	// The provider is worth keeping for the scene that asked for it even if
	// this attempt has been superseded.
	m.cache.put(s, key, p)

	m.mu.Lock()
	if token != m.token {
		m.mu.Unlock()
		m.metrics.TerrainLoad(key, observability.LoadDiscarded)
		m.log.Debug(ctx, "discarding terrain provider from superseded attempt", logging.String("scenario", key))
		return
	}
	if !scene.Alive(s) {
		m.mu.Unlock()
		m.log.Debug(ctx, "scene destroyed during terrain load; retrying", logging.String("scenario", key))
		m.attemptLoad(ctx, token, n)
		return
	}
	m.state = StateSuccess
	m.mu.Unlock()

	m.apply(ctx, s, token, key, p)
}

func (m *ProviderManager) apply(ctx context.Context, s scene.Scene, token AttemptToken, key string, p Provider) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if !m.isCurrent(token) {
		m.metrics.TerrainLoad(key, observability.LoadDiscarded)
		m.log.Debug(ctx, "discarding terrain provider from superseded attempt", logging.String("scenario", key))
		return
	}
	if !scene.Alive(s) {
		return
	}
	if err := s.SetTerrainProvider(p); err != nil {
		m.log.Debug(ctx, "could not apply terrain provider", logging.String("scenario", key), logging.Err(err))
		return
	}
	s.RequestRender()
	m.metrics.TerrainLoad(key, observability.LoadSuccess)
	m.log.Info(ctx, "terrain provider active", logging.String("scenario", key), logging.String("source", p.Source()))

	m.mu.Lock()
	style, ok := m.opts.Styles[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.clock.AfterFunc(m.opts.StyleSettleDelay, func() {
		m.applyMu.Lock()
		defer m.applyMu.Unlock()
		if !m.isCurrent(token) || !scene.Alive(s) {
			return
		}
		if err := s.ApplyStyle(style); err != nil {
			m.log.Debug(ctx, "could not apply scenario style", logging.String("scenario", key), logging.Err(err))
			return
		}
		s.RequestRender()
	})
}

func (m *ProviderManager) isCurrent(token AttemptToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return token == m.token
}

// State returns the current load state.
func (m *ProviderManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the current attempt token.
func (m *ProviderManager) Token() AttemptToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Scenario returns the scenario key the manager is currently driving.
func (m *ProviderManager) Scenario() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.key
}

// Retry restarts the load cycle for the current inputs, for example after
// the scene has been replaced or a load failed.
func (m *ProviderManager) Retry(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	if !m.started || m.current.key == "" || m.current.url == "" {
		m.mu.Unlock()
		return
	}
	m.resetLocked()
	token := m.token
	m.mu.Unlock()

	m.attemptLoad(ctx, token, 0)
}

// SetStyles replaces the per-scenario style table used by later loads.
func (m *ProviderManager) SetStyles(styles StyleTable) {
	m.mu.Lock()
	m.opts.Styles = styles
	m.mu.Unlock()
}

// ReplaceScene points the scene handle at next, drops the providers cached
// for the scene it replaces and reloads the current scenario onto next.
func (m *ProviderManager) ReplaceScene(ctx context.Context, next scene.Scene) {
	if prev := m.scenes.Get(); prev != nil && prev != next {
		m.Forget(prev)
	}
	m.scenes.Set(next)
	m.Retry(ctx)
}

// Forget drops every cached provider for s.
func (m *ProviderManager) Forget(s scene.Scene) {
	m.cache.forget(s)
}

// CachedScenes returns how many live scenes have cached providers. It is
// reported by the scenario status endpoint.
func (m *ProviderManager) CachedScenes() int {
	return m.cache.scenes()
}

// Wait blocks until every in-flight provider load has finished.
func (m *ProviderManager) Wait() {
	m.wg.Wait()
}

// Close stops any pending retry and supersedes the running attempt.
func (m *ProviderManager) Close() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}
