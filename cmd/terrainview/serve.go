package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/terrainview/internal/config"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/internal/server"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/orchestrator"
	"github.com/signalsfoundry/terrainview/reproject"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/scene/memscene"
	"github.com/signalsfoundry/terrainview/selection"
	"github.com/signalsfoundry/terrainview/store"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/terrain/httpterrain"
	"github.com/signalsfoundry/terrainview/timectrl"
)

func newServeCmd() *cobra.Command {
	var addr, scenarios string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the targeting HTTP API over a headless scene",
		Long: `Serve loads its settings from TERRAINVIEW_* environment variables.
Flags override the listen address and the scenario table file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if scenarios != "" {
				cfg.ScenarioFile = scenarios
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logging.New(cfg.Log))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides TERRAINVIEW_HTTP_ADDR)")
	cmd.Flags().StringVar(&scenarios, "scenarios", "", "scenario table YAML (overrides TERRAINVIEW_SCENARIO_FILE)")
	return cmd
}

// app is the wired pipeline shared by serve and its tests.
type app struct {
	scenes  *scene.Ref
	store   *store.Store
	orch    *orchestrator.Orchestrator
	manager *terrain.ProviderManager
	server  *server.Server
	metrics *observability.TargetingCollector
}

func newApp(cfg *config.Config, tables *config.ScenarioTables, clock timectrl.Clock, log logging.Logger, metrics *observability.TargetingCollector) *app {
	s := memscene.New()
	scenes := scene.NewRef(s)

	var factory terrain.Factory
	switch strings.ToLower(cfg.TerrainBackend) {
	case config.BackendFlat:
		factory = terrain.FlatFactory(cfg.FlatHeight)
		_ = s.SetTerrainProvider(terrain.Flat{Name: "flat", Height: cfg.FlatHeight})
	default:
		factory = httpterrain.NewFactory(&http.Client{Timeout: cfg.TerrainTimeout}, log)
	}

	deriver := selection.NewDeriver(reproject.NewCache(),
		selection.WithDefaultZoom(cfg.DefaultZoom),
		selection.WithLogger(log))

	var markers *marker.Manager
	if mopts := cfg.MarkerOptions(); mopts.Asset != nil {
		markers = marker.NewManager(mopts, clock, log)
	}

	st := store.New()
	orch := orchestrator.New(scenes, orchestrator.Deps{
		Deriver: deriver,
		Markers: markers,
		Clock:   clock,
	}, cfg.OrchestratorOptions(), log, metrics)

	mgr := terrain.NewProviderManager(scenes, factory, cfg.ManagerOptions(tables.Styles), clock, log, metrics)

	srv := server.New(server.Deps{
		Scenes:       scenes,
		Store:        st,
		Orchestrator: orch,
		Terrain:      mgr,
		Deriver:      deriver,
		Tables:       tables,
		Clock:        clock,
		Metrics:      metrics,
		Log:          log,
	})
	return &app{scenes: scenes, store: st, orch: orch, manager: mgr, server: srv, metrics: metrics}
}

// reloadTables swaps in new scenario tables.
func (a *app) reloadTables(t *config.ScenarioTables) {
	a.server.SetTables(t)
	a.manager.SetStyles(t.Styles)
}

func serve(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	metrics, err := observability.NewTargetingCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	tables, err := loadTables(ctx, cfg.ScenarioFile, log)
	if err != nil {
		return err
	}

	a := newApp(cfg, tables, timectrl.Real{}, log, metrics)
	unbind := a.orch.Bind(ctx, a.store)
	defer unbind()
	defer a.manager.Close()

	if cfg.ScenarioFile != "" && cfg.WatchTables {
		w, err := config.WatchScenarioTables(cfg.ScenarioFile, config.DefaultReloadDebounce, log, a.reloadTables)
		if err != nil {
			log.Warn(ctx, "scenario tables will not be reloaded", logging.Err(err))
		} else {
			defer w.Close()
		}
	}

	if err := a.server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
		log.Error(ctx, "http server failed", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		return err
	}
	return nil
}

func loadTables(ctx context.Context, path string, log logging.Logger) (*config.ScenarioTables, error) {
	if path == "" {
		log.Info(ctx, "no scenario tables configured; terrain stays unmanaged")
		return config.ParseScenarioTables(nil)
	}
	tables, err := config.LoadScenarioTables(path)
	if err != nil {
		return nil, err
	}
	if missing := tables.MissingURLs(); len(missing) > 0 {
		log.Warn(ctx, "scenario keys without terrain URL",
			logging.String("path", path), logging.String("keys", strings.Join(missing, ",")))
	}
	log.Info(ctx, "scenario tables loaded",
		logging.String("path", path),
		logging.Int("simulations", len(tables.Keys)),
		logging.Int("urls", len(tables.URLs)))
	return tables, nil
}
