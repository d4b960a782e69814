// Package orchestrator turns selection changes into scene updates: it
// deduplicates selections, cleans up the previous marker or area mask and
// drives one resolve cycle per new selection.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/terrainview/camera"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/polygon"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/selection"
	"github.com/signalsfoundry/terrainview/store"
	"github.com/signalsfoundry/terrainview/terrain"
	"github.com/signalsfoundry/terrainview/timectrl"
)

// Options tune the orchestrator.
type Options struct {
	FreshWindow time.Duration
	Polygon     polygon.Options
	PointFlight camera.PointOptions
	AreaFlight  camera.PolygonOptions
}

// DefaultOptions returns the standard window and styling.
func DefaultOptions() Options {
	return Options{
		FreshWindow: selection.DefaultFreshWindow,
		Polygon:     polygon.DefaultOptions(),
	}
}

// Deps are the collaborators an Orchestrator drives. Nil fields are built
// with defaults, except Markers which stays nil when no marker should be
// drawn.
type Deps struct {
	Deriver  *selection.Deriver
	Resolver *terrain.ElevationResolver
	Markers  *marker.Manager
	Polygons *polygon.Renderer
	Camera   *camera.Controller
	Clock    timectrl.Clock
}

type processed struct {
	key   selection.Key
	scene scene.Scene
}

// Orchestrator reacts to selection and scene-readiness changes.
type Orchestrator struct {
	scenes  *scene.Ref
	deps    Deps
	opts    Options
	log     logging.Logger
	metrics *observability.TargetingCollector

	cycles cycleQueue

	mu      sync.Mutex
	pending *model.SelectionItem
	done    *processed
	gen     uint64

	entity      *marker.EntityData
	entityScene scene.Scene
	area        *polygon.Selection
	areaScene   scene.Scene
}

// New builds an Orchestrator over the scene handle.
func New(scenes *scene.Ref, deps Deps, opts Options, log logging.Logger, metrics *observability.TargetingCollector) *Orchestrator {
	log = logging.Component(log, "orchestrator")
	if deps.Deriver == nil {
		deps.Deriver = selection.NewDeriver(nil, selection.WithLogger(log))
	}
	if deps.Resolver == nil {
		deps.Resolver = terrain.NewElevationResolver(log, metrics)
	}
	if deps.Polygons == nil {
		deps.Polygons = polygon.NewRenderer(log)
	}
	if deps.Camera == nil {
		deps.Camera = camera.NewController(log, metrics)
	}
	deps.Clock = timectrl.OrReal(deps.Clock)
	if opts.FreshWindow <= 0 {
		opts.FreshWindow = selection.DefaultFreshWindow
	}
	if scenes == nil {
		scenes = scene.NewRef(nil)
	}
	return &Orchestrator{
		scenes:  scenes,
		deps:    deps,
		opts:    opts,
		log:     log,
		metrics: metrics,
	}
}

// Bind subscribes the orchestrator to st and processes its current value.
// The returned func unsubscribes.
func (o *Orchestrator) Bind(ctx context.Context, st *store.Store) (unsubscribe func()) {
	unsubscribe = st.Subscribe(func(item *model.SelectionItem) {
		o.OnSelection(ctx, item)
	})
	if item := st.Current(); item != nil {
		o.OnSelection(ctx, item)
	}
	return unsubscribe
}

// OnSelection handles a new selection value; nil clears the selection.
// Cycles run one at a time on the caller's goroutine and block for the
// elevation sample. When another cycle is already running, the new one is
// queued behind it and OnSelection returns at once; the running goroutine
// picks it up.
func (o *Orchestrator) OnSelection(ctx context.Context, item *model.SelectionItem) {
	if item == nil {
		o.clear(ctx)
		return
	}
	o.mu.Lock()
	o.pending = item
	o.mu.Unlock()
	o.evaluate(ctx)
}

// OnSceneReady re-evaluates the pending selection after the scene became
// ready or was replaced.
func (o *Orchestrator) OnSceneReady(ctx context.Context) {
	o.evaluate(ctx)
}

// Current returns the marker pair and area selection currently owned.
func (o *Orchestrator) Current() (*marker.EntityData, *polygon.Selection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entity, o.area
}

// InFlight reports whether a camera flight is in progress. It is for
// observers such as the HTTP status; cycles never consult it because a new
// flight always cancels the running one.
func (o *Orchestrator) InFlight() bool {
	return o.deps.Camera.InFlight()
}

func (o *Orchestrator) clear(ctx context.Context) {
	o.mu.Lock()
	o.pending = nil
	o.done = nil
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	o.metrics.SelectionProcessed(observability.SelectionCleared)
	o.cycles.run(func() {
		if !o.takeAndRemove(gen) {
			return
		}
		if s, ok := o.scenes.Ready(); ok {
			s.RequestRender()
		}
		o.log.Debug(ctx, "selection cleared")
	})
}

// takeAndRemove removes the marker pair and area owned by earlier cycles,
// provided gen is still the latest cycle. It runs inside the cycle queue so
// nothing new is drawn while the old state is being removed.
func (o *Orchestrator) takeAndRemove(gen uint64) bool {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return false
	}
	entity, entityScene := o.entity, o.entityScene
	area, areaScene := o.area, o.areaScene
	o.entity, o.entityScene, o.area, o.areaScene = nil, nil, nil, nil
	o.mu.Unlock()

	entity.Remove(entityScene)
	area.Cleanup(areaScene)
	return true
}

func (o *Orchestrator) evaluate(ctx context.Context) {
	o.mu.Lock()
	item := o.pending
	if item == nil {
		o.mu.Unlock()
		return
	}
	s, ok := o.scenes.Ready()
	if !ok {
		o.mu.Unlock()
		o.log.Debug(ctx, "scene not ready; selection deferred")
		return
	}
	key := selection.KeyOf(item)
	if o.done != nil && o.done.key == key && o.done.scene == s {
		o.mu.Unlock()
		o.metrics.SelectionProcessed(observability.SelectionDuplicate)
		return
	}
	o.done = &processed{key: key, scene: s}
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	o.cycles.run(func() {
		// Previous state goes before anything new is created.
		if !o.takeAndRemove(gen) {
			o.metrics.SelectionProcessed(observability.SelectionStale)
			o.log.Debug(ctx, "selection superseded before its cycle started")
			return
		}
		o.process(ctx, s, gen, item)
	})
}

func (o *Orchestrator) process(ctx context.Context, s scene.Scene, gen uint64, item *model.SelectionItem) {
	ctx, span := observability.StartSpan(ctx, "selection.resolve",
		attribute.Float64("selection.sort_key", item.SortKey),
		attribute.Bool("selection.area", item.IsAreaSelection))
	defer span.End()

	fresh := selection.IsFresh(item, o.deps.Clock.Now(), o.opts.FreshWindow)
	derived, ok := o.deps.Deriver.DeriveGeometry(*item)
	if !ok {
		o.log.Warn(ctx, "selection position could not be derived",
			logging.String("crs", item.SourceCRS))
		return
	}
	span.SetAttributes(
		attribute.Bool("selection.fresh", fresh),
		attribute.Float64("selection.lon", derived.Position.Lon),
		attribute.Float64("selection.lat", derived.Position.Lat))

	res := ResolveSelection(ctx, s,
		Flags{Fresh: fresh, Current: func() bool { return o.isCurrent(gen) }},
		nil,
		func(data *marker.EntityData) { o.setEntity(gen, s, data) },
		derived,
		ResolveOptions{
			Resolver:    o.deps.Resolver,
			Markers:     o.deps.Markers,
			Polygons:    o.deps.Polygons,
			Camera:      o.deps.Camera,
			Polygon:     o.opts.Polygon,
			PointFlight: o.opts.PointFlight,
			AreaFlight:  o.opts.AreaFlight,
			Log:         o.log,
		})

	if res.Area != nil && !o.setArea(gen, s, res.Area) {
		res.Stale = true
	}
	switch {
	case res.Stale:
		o.metrics.SelectionProcessed(observability.SelectionStale)
	case res.Aborted:
	case res.Mode == ModeArea:
		o.metrics.SelectionProcessed(observability.SelectionArea)
	default:
		o.metrics.SelectionProcessed(observability.SelectionPoint)
	}
	o.log.Debug(ctx, "selection resolved",
		logging.String("mode", res.Mode),
		logging.Bool("fresh", fresh),
		logging.Bool("sampled", res.Sampled),
		logging.Bool("flight", res.Flight != nil))
}

func (o *Orchestrator) isCurrent(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen == gen
}

// setEntity stores data for cycle gen, or removes it when a newer cycle has
// started in the meantime.
func (o *Orchestrator) setEntity(gen uint64, s scene.Scene, data *marker.EntityData) {
	if data == nil {
		return
	}
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		data.Remove(s)
		return
	}
	o.entity, o.entityScene = data, s
	o.mu.Unlock()
}

func (o *Orchestrator) setArea(gen uint64, s scene.Scene, sel *polygon.Selection) bool {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		sel.Cleanup(s)
		return false
	}
	o.area, o.areaScene = sel, s
	o.mu.Unlock()
	return true
}
