package orchestrator

import (
	"context"
	"errors"

	"github.com/signalsfoundry/terrainview/camera"
	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/marker"
	"github.com/signalsfoundry/terrainview/model"
	"github.com/signalsfoundry/terrainview/polygon"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/terrain"
)

// Resolution modes.
const (
	ModePoint = "point"
	ModeArea  = "area"
)

// Flags describe the selection cycle being resolved.
type Flags struct {
	// Fresh selections were made interactively and get a camera flight.
	Fresh bool
	// Current reports whether the cycle is still the latest one. It is
	// checked after the elevation sample and again before each scene
	// mutation; nil means always current.
	Current func() bool
}

func (f Flags) current() bool {
	return f.Current == nil || f.Current()
}

// ResolveOptions carries the collaborators and styling for one cycle. Nil
// collaborators switch the corresponding step off.
type ResolveOptions struct {
	Resolver *terrain.ElevationResolver
	Markers  *marker.Manager
	Polygons *polygon.Renderer
	Camera   *camera.Controller

	Polygon     polygon.Options
	PointFlight camera.PointOptions
	AreaFlight  camera.PolygonOptions

	Log logging.Logger
}

// Result reports what a cycle did to the scene.
type Result struct {
	Mode    string
	Ground  geo.Cartographic
	Sampled bool
	Area    *polygon.Selection
	Flight  *camera.Flight
	// Aborted is set when the scene went away or the cycle was superseded
	// before anything was drawn.
	Aborted bool
	Stale   bool
}

// ResolveSelection runs one selection cycle against s: it removes prior,
// samples the ground under derived, then draws either the area selection or
// the marker pair and flies the camera when flags.Fresh is set.
// setEntityData receives nil once prior is gone and the new marker pair if
// one is created.
func ResolveSelection(
	ctx context.Context,
	s scene.Scene,
	flags Flags,
	prior *marker.EntityData,
	setEntityData func(*marker.EntityData),
	derived model.DerivedGeometry,
	opts ResolveOptions,
) Result {
	log := logging.OrNoop(opts.Log)
	if setEntityData == nil {
		setEntityData = func(*marker.EntityData) {}
	}

	prior.Remove(s)
	setEntityData(nil)

	if !scene.Alive(s) {
		log.Debug(ctx, "scene unavailable; dropping selection")
		return Result{Aborted: true}
	}

	res := Result{Ground: derived.Position.WithHeight(0)}
	if opts.Resolver != nil {
		provider, _ := terrain.FromScene(s)
		if ground, ok := opts.Resolver.Resolve(ctx, provider, derived.Position); ok {
			res.Ground = ground
			res.Sampled = true
		}
	}

	if !flags.current() {
		log.Debug(ctx, "selection superseded while sampling elevation")
		res.Aborted, res.Stale = true, true
		return res
	}
	if !scene.Alive(s) {
		log.Debug(ctx, "scene destroyed while sampling elevation")
		res.Aborted = true
		return res
	}

	superseded := func(step string) bool {
		if flags.current() {
			return false
		}
		log.Debug(ctx, "selection superseded", logging.String("before", step))
		res.Stale = true
		return true
	}

	if derived.HasPolygon() && opts.Polygons != nil {
		if superseded("area") {
			res.Aborted = true
			return res
		}
		var elevation *float64
		if res.Sampled {
			h := res.Ground.Height
			elevation = &h
		}
		sel, err := opts.Polygons.Render(s, derived.Polygon, elevation, opts.Polygon)
		switch {
		case err == nil:
			res.Mode = ModeArea
			res.Area = sel
			if flags.Fresh && opts.Camera != nil && !superseded("area flight") {
				dist := polygon.FullViewDistance(sel.Sphere, s.Camera(), opts.Polygon.Margin)
				if f, ok := opts.Camera.FlyToPolygon(s, sel.Sphere, dist, opts.AreaFlight); ok {
					res.Flight = &f
				}
			}
			return res
		case errors.Is(err, scene.ErrSceneDestroyed):
			log.Debug(ctx, "scene destroyed before the area selection was drawn")
			res.Aborted = true
			return res
		default:
			log.Debug(ctx, "area selection not drawable; treating as point", logging.Err(err))
		}
	}

	res.Mode = ModePoint
	if superseded("marker") {
		res.Aborted = true
		return res
	}
	if res.Sampled && opts.Markers != nil && opts.Markers.HasAsset() {
		data, err := opts.Markers.Update(s, res.Ground, nil)
		if err != nil {
			log.Debug(ctx, "marker not placed", logging.Err(err))
		} else {
			setEntityData(data)
		}
	}

	if flags.Fresh && opts.Camera != nil && !superseded("point flight") {
		point := opts.PointFlight
		point.Zoom = derived.Zoom
		if f, ok := opts.Camera.FlyToPoint(s, res.Ground, point); ok {
			res.Flight = &f
		}
	}
	return res
}
