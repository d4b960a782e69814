// Package memscene is an in-memory, headless scene.Scene. It records every
// entity, ground primitive, camera flight, terrain provider and style applied
// to it, and emits change events to subscribers.
package memscene

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/scene"
)

// EventType indicates what changed in the scene.
type EventType string

const (
	EventEntityAdded      EventType = "entity.added"
	EventEntityRemoved    EventType = "entity.removed"
	EventEntityUpdated    EventType = "entity.updated"
	EventPrimitiveAdded   EventType = "primitive.added"
	EventPrimitiveRemoved EventType = "primitive.removed"
	EventFlightStarted    EventType = "flight.started"
	EventFlightFinished   EventType = "flight.finished"
	EventTerrainChanged   EventType = "terrain.changed"
	EventStyleApplied     EventType = "style.applied"
	EventDestroyed        EventType = "scene.destroyed"
)

// Event is emitted to subscribers after a scene change.
type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// Flight records one FlyToBoundingSphere call.
type Flight struct {
	Seq       int                   `json:"seq"`
	Sphere    geo.BoundingSphere    `json:"sphere"`
	Offset    geo.HeadingPitchRange `json:"offset"`
	Duration  time.Duration         `json:"duration"`
	Completed bool                  `json:"completed"`
	Cancelled bool                  `json:"cancelled"`
}

// Option configures a Scene.
type Option func(*Scene)

// WithCamera sets the initial camera.
func WithCamera(c scene.CameraState) Option {
	return func(s *Scene) { s.camera = c }
}

// WithAutoComplete makes flights land immediately instead of waiting for
// CompleteFlight.
func WithAutoComplete(on bool) Option {
	return func(s *Scene) { s.autoComplete = on }
}

// DefaultCamera looks straight down on Bern from 20 km with a 60° vertical
// field of view.
func DefaultCamera() scene.CameraState {
	return scene.CameraState{
		Position:    geo.Cartographic{Lon: 7.44, Lat: 46.95, Height: 20000},
		Heading:     0,
		Pitch:       geo.Radians(-90),
		FovY:        geo.Radians(60),
		AspectRatio: 16.0 / 9.0,
	}
}

// Scene is the in-memory implementation of scene.Scene.
type Scene struct {
	mu sync.Mutex

	destroyed    bool
	autoComplete bool

	entities   map[string]scene.Entity
	order      []string
	primitives map[string]scene.GroundPrimitive

	camera    scene.CameraState
	listeners map[int]func()
	nextL     int

	flights    []Flight
	pendingFly func(bool)

	terrain scene.TerrainProvider
	style   *scene.Style
	renders int

	subs    map[int]func(Event)
	nextSub int
}

var _ scene.Scene = (*Scene)(nil)

// New constructs a live scene.
func New(opts ...Option) *Scene {
	s := &Scene{
		entities:   make(map[string]scene.Entity),
		primitives: make(map[string]scene.GroundPrimitive),
		listeners:  make(map[int]func()),
		subs:       make(map[int]func(Event)),
		camera:     DefaultCamera(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for change events. Events are delivered
// synchronously, in subscription order, after the scene lock is released.
// The returned func unsubscribes.
func (s *Scene) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Scene) IsDestroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Destroy tears the scene down. A pending flight is cancelled and camera
// listeners are dropped.
func (s *Scene) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	done := s.takePendingLocked(false)
	s.listeners = make(map[int]func())
	s.mu.Unlock()

	if done != nil {
		done(false)
	}
	s.emit(Event{Type: EventDestroyed})
}

func (s *Scene) AddEntity(e scene.Entity) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", scene.ErrSceneDestroyed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, exists := s.entities[e.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("entity with ID %q already exists", e.ID)
	}
	s.entities[e.ID] = e
	s.order = append(s.order, e.ID)
	s.mu.Unlock()

	s.emit(Event{Type: EventEntityAdded, ID: e.ID})
	return e.ID, nil
}

func (s *Scene) RemoveEntity(id string) bool {
	s.mu.Lock()
	if _, ok := s.entities[id]; !ok || s.destroyed {
		s.mu.Unlock()
		return false
	}
	delete(s.entities, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventEntityRemoved, ID: id})
	return true
}

func (s *Scene) UpdateEntity(id string, fn func(*scene.Entity)) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return scene.ErrSceneDestroyed
	}
	e, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", scene.ErrEntityNotFound, id)
	}
	e = cloneEntity(e)
	fn(&e)
	e.ID = id
	s.entities[id] = e
	s.mu.Unlock()

	s.emit(Event{Type: EventEntityUpdated, ID: id})
	return nil
}

// cloneEntity copies the pointer fields of e so that updates never touch
// values already handed out by Entity or Entities.
func cloneEntity(e scene.Entity) scene.Entity {
	if e.Marker != nil {
		m := *e.Marker
		e.Marker = &m
	}
	if e.Polyline != nil {
		pl := *e.Polyline
		pl.Positions = append([]geo.Cartographic(nil), pl.Positions...)
		e.Polyline = &pl
	}
	if e.Volume != nil {
		v := *e.Volume
		e.Volume = &v
	}
	return e
}

func (s *Scene) AddGroundPrimitive(p scene.GroundPrimitive) (string, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return "", scene.ErrSceneDestroyed
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.primitives[p.ID] = p
	s.mu.Unlock()

	s.emit(Event{Type: EventPrimitiveAdded, ID: p.ID})
	return p.ID, nil
}

func (s *Scene) RemoveGroundPrimitive(id string) bool {
	s.mu.Lock()
	if _, ok := s.primitives[id]; !ok || s.destroyed {
		s.mu.Unlock()
		return false
	}
	delete(s.primitives, id)
	s.mu.Unlock()

	s.emit(Event{Type: EventPrimitiveRemoved, ID: id})
	return true
}

func (s *Scene) Camera() scene.CameraState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera
}

// SetCamera moves the camera and notifies camera listeners.
func (s *Scene) SetCamera(c scene.CameraState) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.camera = c
	fns := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (s *Scene) OnCameraChanged(fn func()) (remove func()) {
	s.mu.Lock()
	id := s.nextL
	s.nextL++
	if !s.destroyed {
		s.listeners[id] = fn
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ListenerCount returns the number of attached camera listeners.
func (s *Scene) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Scene) FlyToBoundingSphere(sphere geo.BoundingSphere, offset geo.HeadingPitchRange, duration time.Duration, done func(completed bool)) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return scene.ErrSceneDestroyed
	}
	cancelled := s.takePendingLocked(false)
	seq := len(s.flights)
	s.flights = append(s.flights, Flight{
		Seq:      seq,
		Sphere:   sphere,
		Offset:   offset,
		Duration: duration,
	})
	if done == nil {
		done = func(bool) {}
	}
	s.pendingFly = done
	auto := s.autoComplete
	s.mu.Unlock()

	if cancelled != nil {
		cancelled(false)
	}
	s.emit(Event{Type: EventFlightStarted, ID: fmt.Sprint(seq)})
	if auto {
		s.CompleteFlight()
	}
	return nil
}

// CompleteFlight lands the pending flight: the camera jumps to the flight's
// destination, camera listeners run and the completion callback receives
// true. It reports whether a flight was pending.
func (s *Scene) CompleteFlight() bool {
	s.mu.Lock()
	if s.pendingFly == nil || s.destroyed {
		s.mu.Unlock()
		return false
	}
	f := s.flights[len(s.flights)-1]
	target := f.Sphere.CenterCartographic()
	s.camera.Position = geo.FromECEF(f.Offset.CameraPosition(target))
	s.camera.Heading = f.Offset.Heading
	s.camera.Pitch = f.Offset.Pitch
	done := s.takePendingLocked(true)
	fns := s.listenersLocked()
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	done(true)
	s.emit(Event{Type: EventFlightFinished, ID: fmt.Sprint(f.Seq)})
	return true
}

// takePendingLocked detaches the pending flight callback and marks the last
// flight as completed or cancelled.
func (s *Scene) takePendingLocked(completed bool) func(bool) {
	done := s.pendingFly
	if done == nil {
		return nil
	}
	s.pendingFly = nil
	last := &s.flights[len(s.flights)-1]
	last.Completed = completed
	last.Cancelled = !completed
	return done
}

// Flights returns every flight started on this scene, oldest first.
func (s *Scene) Flights() []Flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Flight(nil), s.flights...)
}

func (s *Scene) RequestRender() {
	s.mu.Lock()
	s.renders++
	s.mu.Unlock()
}

// Renders returns how many redraws were requested.
func (s *Scene) Renders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renders
}

func (s *Scene) TerrainProvider() scene.TerrainProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terrain
}

func (s *Scene) SetTerrainProvider(p scene.TerrainProvider) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return scene.ErrSceneDestroyed
	}
	s.terrain = p
	s.mu.Unlock()

	s.emit(Event{Type: EventTerrainChanged})
	return nil
}

func (s *Scene) ApplyStyle(st scene.Style) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return scene.ErrSceneDestroyed
	}
	s.style = &st
	s.mu.Unlock()

	s.emit(Event{Type: EventStyleApplied})
	return nil
}

// Style returns the last applied style.
func (s *Scene) Style() (scene.Style, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.style == nil {
		return scene.Style{}, false
	}
	return *s.style, true
}

// Entity returns the entity with the given id.
func (s *Scene) Entity(id string) (scene.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return e, ok
}

// Entities returns a snapshot of all entities in insertion order.
func (s *Scene) Entities() []scene.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]scene.Entity, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.entities[id])
	}
	return res
}

// CountKind returns the number of entities of the given kind.
func (s *Scene) CountKind(kind scene.EntityKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entities {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Primitives returns a snapshot of all ground primitives sorted by id.
func (s *Scene) Primitives() []scene.GroundPrimitive {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]scene.GroundPrimitive, 0, len(s.primitives))
	for _, p := range s.primitives {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (s *Scene) listenersLocked() []func() {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	return fns
}

func (s *Scene) emit(ev Event) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
