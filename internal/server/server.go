// Package server exposes the targeting pipeline over HTTP: selections go in
// through the selection store, scenario changes drive the terrain provider
// manager, and the headless scene can be inspected or streamed.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/terrainview/internal/config"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/orchestrator"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/selection"
	"github.com/signalsfoundry/terrainview/store"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/timectrl"
)

// Deps are the components the server fronts.
type Deps struct {
	Scenes       *scene.Ref
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Terrain      *terrain.ProviderManager
	Deriver      *selection.Deriver
	Tables       *config.ScenarioTables
	Clock        timectrl.Clock
	Metrics      *observability.TargetingCollector
	Log          logging.Logger
}

// Server is the HTTP surface.
type Server struct {
	deps     Deps
	log      logging.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
	tables   atomic.Pointer[config.ScenarioTables]

	closeOnce sync.Once
	closing   chan struct{}
}

// New builds a Server and its routes.
func New(deps Deps) *Server {
	if deps.Scenes == nil {
		deps.Scenes = scene.NewRef(nil)
	}
	if deps.Store == nil {
		deps.Store = store.New()
	}
	if deps.Deriver == nil {
		deps.Deriver = selection.NewDeriver(nil)
	}
	deps.Clock = timectrl.OrReal(deps.Clock)

	s := &Server{
		deps:   deps,
		log:    logging.Component(deps.Log, "http"),
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	tables := deps.Tables
	if tables == nil {
		tables, _ = config.ParseScenarioTables(nil)
	}
	s.tables.Store(tables)
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.deps.Metrics.Middleware(routeTemplate), s.requestLogger)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/selection", s.handleGetSelection).Methods(http.MethodGet)
	api.HandleFunc("/selection", s.handlePutSelection).Methods(http.MethodPut)
	api.HandleFunc("/selection", s.handleDeleteSelection).Methods(http.MethodDelete)
	api.HandleFunc("/scenario", s.handleGetScenario).Methods(http.MethodGet)
	api.HandleFunc("/scenario", s.handlePutScenario).Methods(http.MethodPut)
	api.HandleFunc("/scenario/retry", s.handleRetryScenario).Methods(http.MethodPost)
	api.HandleFunc("/scene", s.handleGetScene).Methods(http.MethodGet)
	api.HandleFunc("/derive", s.handleDerive).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
}

func routeTemplate(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return ""
	}
	tpl, err := route.GetPathTemplate()
	if err != nil {
		return ""
	}
	return tpl
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetTables swaps the scenario tables used by later scenario requests.
func (s *Server) SetTables(t *config.ScenarioTables) {
	if t != nil {
		s.tables.Store(t)
	}
}

// Tables returns the scenario tables in effect.
func (s *Server) Tables() *config.ScenarioTables {
	return s.tables.Load()
}

// Close ends open event streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "http server listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info(ctx, "http server stopped")
	return nil
}
