// Package config loads runtime configuration from the environment and the
// scenario tables from YAML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/signalsfoundry/terrainview/camera"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/orchestrator"
	"github.com/signalsfoundry/terrainview/polygon"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/terrain"
)

// Prefix is the environment variable prefix, e.g. TERRAINVIEW_HTTP_ADDR.
const Prefix = "terrainview"

// Terrain backends.
const (
	BackendHTTP = "http"
	BackendFlat = "flat"
)

// Config is the process configuration.
type Config struct {
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	ScenarioFile string `envconfig:"SCENARIO_FILE"`
	WatchTables  bool   `envconfig:"WATCH_TABLES" default:"true"`

	TerrainBackend string        `envconfig:"TERRAIN_BACKEND" default:"http"` // http | flat
	TerrainTimeout time.Duration `envconfig:"TERRAIN_TIMEOUT" default:"30s"`
	FlatHeight     float64       `envconfig:"FLAT_HEIGHT" default:"0"`

	FreshWindow time.Duration `envconfig:"FRESH_WINDOW" default:"150ms"`
	DefaultZoom float64       `envconfig:"DEFAULT_ZOOM" default:"16"`

	RetryBase        time.Duration `envconfig:"RETRY_BASE" default:"200ms"`
	MaxAttempts      int           `envconfig:"MAX_ATTEMPTS" default:"8"`
	StyleSettleDelay time.Duration `envconfig:"STYLE_SETTLE_DELAY" default:"100ms"`

	HighlightDebounce time.Duration `envconfig:"HIGHLIGHT_DEBOUNCE" default:"50ms"`
	MinShowDistance   float64       `envconfig:"MIN_SHOW_DISTANCE" default:"1500"`
	MaxHighlightWidth float64       `envconfig:"MAX_HIGHLIGHT_WIDTH" default:"10"`
	MarkerImage       string        `envconfig:"MARKER_IMAGE"`
	MarkerWidth       int           `envconfig:"MARKER_WIDTH" default:"32"`
	MarkerHeight      int           `envconfig:"MARKER_HEIGHT" default:"48"`

	FlightFactor   float64       `envconfig:"FLIGHT_FACTOR" default:"1"`
	FlightMax      time.Duration `envconfig:"FLIGHT_MAX" default:"10s"`
	MaintainHeight bool          `envconfig:"MAINTAIN_HEIGHT" default:"false"`

	Classification string  `envconfig:"CLASSIFICATION" default:"both"` // terrain | 3dtiles | both
	MaskAlpha      float64 `envconfig:"MASK_ALPHA" default:"0.66"`

	Log     logging.Config               `envconfig:"LOG"`
	Tracing observability.TracingConfig `envconfig:"TRACING"`
}

// Load reads the configuration from TERRAINVIEW_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot work with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.TerrainBackend) {
	case BackendHTTP, BackendFlat:
	default:
		return fmt.Errorf("unknown terrain backend %q", c.TerrainBackend)
	}
	if c.FreshWindow <= 0 {
		return fmt.Errorf("fresh window must be positive, got %v", c.FreshWindow)
	}
	if c.DefaultZoom < 0 || c.DefaultZoom > 24 {
		return fmt.Errorf("default zoom %v outside [0,24]", c.DefaultZoom)
	}
	if c.RetryBase <= 0 || c.MaxAttempts <= 0 {
		return fmt.Errorf("retry base and max attempts must be positive")
	}
	if c.MaskAlpha < 0 || c.MaskAlpha > 1 {
		return fmt.Errorf("mask alpha %v outside [0,1]", c.MaskAlpha)
	}
	return nil
}

// ManagerOptions returns the provider manager settings with styles.
func (c *Config) ManagerOptions(styles terrain.StyleTable) terrain.ManagerOptions {
	return terrain.ManagerOptions{
		RetryBase:        c.RetryBase,
		MaxAttempts:      c.MaxAttempts,
		StyleSettleDelay: c.StyleSettleDelay,
		Styles:           styles,
	}
}

// MarkerOptions returns the marker settings. The asset is nil unless
// MarkerImage is set.
func (c *Config) MarkerOptions() marker.Options {
	opts := marker.DefaultOptions()
	opts.MinShowDistance = c.MinShowDistance
	opts.MaxWidth = c.MaxHighlightWidth
	opts.Debounce = c.HighlightDebounce
	if c.MarkerImage != "" {
		opts.Asset = &scene.MarkerAsset{
			Image:  c.MarkerImage,
			Width:  c.MarkerWidth,
			Height: c.MarkerHeight,
			Scale:  1,
		}
	}
	return opts
}

// OrchestratorOptions returns the selection handling settings.
func (c *Config) OrchestratorOptions() orchestrator.Options {
	poly := polygon.DefaultOptions()
	poly.Classification = scene.ParseClassification(c.Classification)
	poly.MaskColor = scene.Black.WithAlpha(c.MaskAlpha)
	return orchestrator.Options{
		FreshWindow: c.FreshWindow,
		Polygon:     poly,
		PointFlight: camera.PointOptions{
			MaintainHeight: c.MaintainHeight,
			DurationFactor: c.FlightFactor,
			MaxDuration:    c.FlightMax,
		},
		AreaFlight: camera.PolygonOptions{
			DurationFactor: c.FlightFactor,
			MaxDuration:    c.FlightMax,
		},
	}
}
