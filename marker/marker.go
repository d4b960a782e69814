// Package marker places the point-selection marker and its highlight line,
// and keeps the highlight's width and visibility in step with the camera.
package marker

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/scene"
	"github.com/signalsfoundry/terrainview/timectrl"
)

// ErrNoAsset is returned by Update when no marker asset is configured.
var ErrNoAsset = errors.New("no marker asset configured")

// widthEpsilon is the smallest highlight width change worth a scene update.
const widthEpsilon = 0.1

// Options controls marker placement and highlight styling.
type Options struct {
	Asset              *scene.MarkerAsset
	AnchorHeightOffset float64 // metres above ground for the marker anchor
	MinShowDistance    float64 // metres; the highlight hides closer than this
	MaxWidth           float64 // pixels
	HighlightHeight    float64 // metres
	HighlightColor     scene.Color
	Debounce           time.Duration
}

// DefaultOptions returns the standard highlight geometry without an asset.
func DefaultOptions() Options {
	return Options{
		MinShowDistance: 1500,
		MaxWidth:        10,
		HighlightHeight: 300,
		HighlightColor:  scene.Color{R: 1, G: 0.84, B: 0, A: 1},
		Debounce:        50 * time.Millisecond,
	}
}

// HighlightWidth returns the highlight line width and visibility for a camera
// at distance metres from the ground point. The width grows with the square
// root of the distance beyond MinShowDistance and saturates at MaxWidth.
func HighlightWidth(distance float64, opts Options) (width float64, visible bool) {
	visible = distance > opts.MinShowDistance
	width = math.Sqrt(math.Abs(distance-opts.MinShowDistance)+1) / 5
	return math.Min(opts.MaxWidth, width), visible
}

// EntityData owns one marker and highlight pair on a scene.
type EntityData struct {
	Marker    string
	Highlight string

	mu      sync.Mutex
	ground  geo.Cartographic
	width   float64
	visible bool
	cleanup func()
	once    sync.Once
}

// Ground returns the ground position the pair is anchored to.
func (d *EntityData) Ground() geo.Cartographic {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ground
}

// Width returns the highlight width last written to the scene.
func (d *EntityData) Width() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width
}

// Cleanup detaches the camera listener. It is safe to call more than once.
func (d *EntityData) Cleanup() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		if d.cleanup != nil {
			d.cleanup()
		}
	})
}

// Remove runs Cleanup and removes both entities from s when s is alive.
func (d *EntityData) Remove(s scene.Scene) {
	if d == nil {
		return
	}
	d.Cleanup()
	if !scene.Alive(s) {
		return
	}
	s.RemoveEntity(d.Marker)
	s.RemoveEntity(d.Highlight)
}

// Manager creates and restyles marker pairs.
type Manager struct {
	opts  Options
	clock timectrl.Clock
	log   logging.Logger
}

// NewManager builds a Manager. Zero-valued distance and width options take
// their defaults.
func NewManager(opts Options, clock timectrl.Clock, log logging.Logger) *Manager {
	def := DefaultOptions()
	if opts.MinShowDistance <= 0 {
		opts.MinShowDistance = def.MinShowDistance
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.HighlightHeight <= 0 {
		opts.HighlightHeight = def.HighlightHeight
	}
	if opts.HighlightColor == (scene.Color{}) {
		opts.HighlightColor = def.HighlightColor
	}
	if opts.Debounce <= 0 {
		opts.Debounce = def.Debounce
	}
	return &Manager{
		opts:  opts,
		clock: timectrl.OrReal(clock),
		log:   logging.Component(log, "marker"),
	}
}

// Options returns the effective options.
func (m *Manager) Options() Options { return m.opts }

// HasAsset reports whether a marker asset is configured.
func (m *Manager) HasAsset() bool { return m.opts.Asset != nil }

// Update replaces prior with a new marker pair at ground. prior is fully
// removed before anything is added, so the scene never holds two pairs.
func (m *Manager) Update(s scene.Scene, ground geo.Cartographic, prior *EntityData) (*EntityData, error) {
	prior.Remove(s)

	if !scene.Alive(s) {
		return nil, scene.ErrSceneDestroyed
	}
	if m.opts.Asset == nil {
		return nil, ErrNoAsset
	}

	asset := *m.opts.Asset
	markerID, err := s.AddEntity(scene.Entity{
		Kind:     scene.KindMarker,
		Position: ground.Raised(m.opts.AnchorHeightOffset),
		Marker:   &asset,
	})
	if err != nil {
		return nil, err
	}

	width, visible := HighlightWidth(cameraDistance(s, ground), m.opts)
	highlightID, err := s.AddEntity(scene.Entity{
		Kind:     scene.KindPolyline,
		Position: ground,
		Polyline: &scene.Polyline{
			Positions: highlightPositions(ground, m.opts),
			Width:     width,
			Show:      visible,
			Color:     m.opts.HighlightColor,
		},
	})
	if err != nil {
		s.RemoveEntity(markerID)
		return nil, err
	}

	data := &EntityData{
		Marker:    markerID,
		Highlight: highlightID,
		ground:    ground,
		width:     width,
		visible:   visible,
	}
	deb := newDebouncer(m.clock, m.opts.Debounce, func() { m.restyle(s, data) })
	detach := s.OnCameraChanged(deb.Trigger)
	data.cleanup = func() {
		detach()
		deb.Stop()
	}

	s.RequestRender()
	return data, nil
}

// Move repositions data's pair to ground and restyles the highlight for the
// new distance.
func (m *Manager) Move(s scene.Scene, data *EntityData, ground geo.Cartographic) error {
	if err := UpdateMarkerPosition(s, data.Marker, data.Highlight, ground, m.opts); err != nil {
		return err
	}
	data.mu.Lock()
	data.ground = ground
	data.mu.Unlock()
	m.restyle(s, data)
	return nil
}

// restyle recomputes the highlight for the current camera distance and writes
// it to the scene if it changed noticeably.
func (m *Manager) restyle(s scene.Scene, data *EntityData) {
	if !scene.Alive(s) {
		return
	}
	ground := data.Ground()
	width, visible := HighlightWidth(cameraDistance(s, ground), m.opts)

	data.mu.Lock()
	widthChanged := math.Abs(width-data.width) >= widthEpsilon || (width < widthEpsilon && width != data.width)
	if !widthChanged && visible == data.visible {
		data.mu.Unlock()
		return
	}
	data.width, data.visible = width, visible
	data.mu.Unlock()

	err := s.UpdateEntity(data.Highlight, func(e *scene.Entity) {
		if e.Polyline == nil {
			return
		}
		e.Polyline.Width = width
		e.Polyline.Show = visible
	})
	if err != nil {
		return
	}
	s.RequestRender()
}

// UpdateMarkerPosition moves an existing marker and highlight pair to ground.
func UpdateMarkerPosition(s scene.Scene, markerID, highlightID string, ground geo.Cartographic, opts Options) error {
	if !scene.Alive(s) {
		return scene.ErrSceneDestroyed
	}
	if opts.HighlightHeight <= 0 {
		opts.HighlightHeight = DefaultOptions().HighlightHeight
	}
	if err := s.UpdateEntity(markerID, func(e *scene.Entity) {
		e.Position = ground.Raised(opts.AnchorHeightOffset)
	}); err != nil {
		return err
	}
	if err := s.UpdateEntity(highlightID, func(e *scene.Entity) {
		e.Position = ground
		if e.Polyline != nil {
			e.Polyline.Positions = highlightPositions(ground, opts)
		}
	}); err != nil {
		return err
	}
	s.RequestRender()
	return nil
}

func highlightPositions(ground geo.Cartographic, opts Options) []geo.Cartographic {
	return []geo.Cartographic{ground, ground.Raised(opts.HighlightHeight)}
}

func cameraDistance(s scene.Scene, ground geo.Cartographic) float64 {
	return s.Camera().Position.ToECEF().DistanceTo(ground.ToECEF())
}
