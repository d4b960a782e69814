package observability

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Selection kinds recorded by selections_processed_total.
const (
	SelectionPoint     = "point"
	SelectionArea      = "area"
	SelectionCleared   = "cleared"
	SelectionDuplicate = "duplicate"
	SelectionStale     = "stale"
)

// Terrain load results recorded by terrain_provider_loads_total.
const (
	LoadSuccess   = "success"
	LoadFailed    = "failed"
	LoadDiscarded = "discarded"
	LoadGaveUp    = "gave_up"
	LoadNoURL     = "no_url"
)

// TargetingCollector bundles Prometheus metrics for selection targeting,
// camera flights and terrain provider management. A nil collector is valid
// and records nothing.
type TargetingCollector struct {
	gatherer prometheus.Gatherer

	SelectionsProcessed *prometheus.CounterVec

	CameraFlights        *prometheus.CounterVec
	CameraFlightDuration prometheus.Histogram

	ElevationSampleDuration *prometheus.HistogramVec

	TerrainLoads     *prometheus.CounterVec
	TerrainRetries   *prometheus.CounterVec
	TerrainCacheHits *prometheus.CounterVec

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewTargetingCollector registers the targeting metrics on reg, or on the
// default registry when reg is nil. Collectors already registered under the
// same name are reused so several pipelines can share one registry.
func NewTargetingCollector(reg prometheus.Registerer) (*TargetingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &registrar{reg: reg}
	c := &TargetingCollector{gatherer: prometheus.DefaultGatherer}
	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	c.SelectionsProcessed = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selections_processed_total",
		Help: "Selections handled by the orchestrator, labeled by outcome kind.",
	}, []string{"kind"}))
	c.CameraFlights = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "camera_flights_total",
		Help: "Camera flights started, labeled by flight mode.",
	}, []string{"mode"}))
	c.CameraFlightDuration = register(r, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "camera_flight_duration_seconds",
		Help:    "Planned duration of started camera flights.",
		Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 4, 5, 7.5, 10},
	}))
	c.ElevationSampleDuration = register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "elevation_sample_duration_seconds",
		Help:    "Latency of most-detailed terrain height samples, labeled by result.",
		Buckets: prometheus.ExponentialBucketsRange(0.005, 5, 10),
	}, []string{"result"}))
	c.TerrainLoads = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_provider_loads_total",
		Help: "Terrain provider load outcomes, labeled by scenario and result.",
	}, []string{"scenario", "result"}))
	c.TerrainRetries = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_provider_retries_total",
		Help: "Scheduled terrain provider load retries while the scene was not ready.",
	}, []string{"scenario"}))
	c.TerrainCacheHits = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_provider_cache_hits_total",
		Help: "Terrain providers reused from the per-scene cache.",
	}, []string{"scenario"}))
	c.HTTPRequests = register(r, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Handled HTTP requests, labeled by route, method, and status code.",
	}, []string{"route", "method", "code"}))
	c.HTTPDurations = register(r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"}))

	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TargetingCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SelectionProcessed counts one orchestrator outcome.
func (c *TargetingCollector) SelectionProcessed(kind string) {
	if c == nil || c.SelectionsProcessed == nil {
		return
	}
	c.SelectionsProcessed.WithLabelValues(kind).Inc()
}

// FlightStarted counts a camera flight and observes its planned duration.
func (c *TargetingCollector) FlightStarted(mode string, d time.Duration) {
	if c == nil {
		return
	}
	if c.CameraFlights != nil {
		c.CameraFlights.WithLabelValues(mode).Inc()
	}
	if c.CameraFlightDuration != nil {
		c.CameraFlightDuration.Observe(d.Seconds())
	}
}

// ElevationSampled observes one terrain height sample.
func (c *TargetingCollector) ElevationSampled(ok bool, d time.Duration) {
	if c == nil || c.ElevationSampleDuration == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.ElevationSampleDuration.WithLabelValues(result).Observe(d.Seconds())
}

// TerrainLoad counts a terrain provider load outcome.
func (c *TargetingCollector) TerrainLoad(scenario, result string) {
	if c == nil || c.TerrainLoads == nil {
		return
	}
	c.TerrainLoads.WithLabelValues(scenario, result).Inc()
}

// TerrainRetry counts a scheduled provider load retry.
func (c *TargetingCollector) TerrainRetry(scenario string) {
	if c == nil || c.TerrainRetries == nil {
		return
	}
	c.TerrainRetries.WithLabelValues(scenario).Inc()
}

// TerrainCacheHit counts a provider reused from the per-scene cache.
func (c *TargetingCollector) TerrainCacheHit(scenario string) {
	if c == nil || c.TerrainCacheHits == nil {
		return
	}
	c.TerrainCacheHits.WithLabelValues(scenario).Inc()
}

// registrar keeps the first registration error so NewTargetingCollector can
// register everything before checking.
type registrar struct {
	reg prometheus.Registerer
	err error
}

func register[C prometheus.Collector](r *registrar, c C) C {
	if r.err != nil {
		return c
	}
	err := r.reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		r.err = fmt.Errorf("collector %T already registered with an incompatible type", are.ExistingCollector)
		return c
	}
	r.err = err
	return c
}
