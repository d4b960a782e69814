// Package scene defines the 3D scene collaborator the targeting subsystem
// drives: entities, ground primitives, the camera and the active terrain
// source. The renderer itself lives elsewhere; memscene provides a headless
// implementation.
package scene

import (
	"errors"
	"math"
	"time"

	"github.com/signalsfoundry/terrainview/geo"
)

var (
	// ErrSceneDestroyed is returned by mutations on a destroyed scene.
	ErrSceneDestroyed = errors.New("scene destroyed")
	// ErrEntityNotFound is returned when an entity id is not in the scene.
	ErrEntityNotFound = errors.New("entity not found")
)

// Scene is a live, externally owned 3D scene. A Scene may be destroyed at any
// time by its owner; callers must check Alive before every mutation.
type Scene interface {
	IsDestroyed() bool

	// AddEntity inserts e and returns its id. An empty e.ID is replaced by a
	// generated one.
	AddEntity(e Entity) (string, error)
	RemoveEntity(id string) bool
	// UpdateEntity applies fn to the stored entity. fn must not call back
	// into the scene.
	UpdateEntity(id string, fn func(*Entity)) error

	AddGroundPrimitive(p GroundPrimitive) (string, error)
	RemoveGroundPrimitive(id string) bool

	Camera() CameraState
	// OnCameraChanged registers fn to run after every camera move. The
	// returned func detaches it.
	OnCameraChanged(fn func()) (remove func())
	// FlyToBoundingSphere starts a camera flight framing sphere from offset.
	// done runs exactly once: with true when the flight lands, false when it
	// is cancelled by a newer flight or the scene going away.
	FlyToBoundingSphere(sphere geo.BoundingSphere, offset geo.HeadingPitchRange, duration time.Duration, done func(completed bool)) error

	RequestRender()

	TerrainProvider() TerrainProvider
	SetTerrainProvider(p TerrainProvider) error
	ApplyStyle(st Style) error
}

// TerrainProvider is the scene-facing view of a terrain source.
type TerrainProvider interface {
	// Source identifies where the provider was loaded from.
	Source() string
}

// Alive reports whether s is non-nil and not destroyed.
func Alive(s Scene) bool {
	return s != nil && !s.IsDestroyed()
}

// CameraState is a snapshot of the camera. Heading and pitch are in radians,
// FovY is the vertical field of view in radians.
type CameraState struct {
	Position    geo.Cartographic `json:"position"`
	Heading     float64          `json:"heading"`
	Pitch       float64          `json:"pitch"`
	FovY        float64          `json:"fovY"`
	AspectRatio float64          `json:"aspectRatio"`
}

// FovX returns the horizontal field of view derived from FovY and the aspect
// ratio.
func (c CameraState) FovX() float64 {
	return 2 * math.Atan(c.AspectRatio*math.Tan(c.FovY/2))
}

// Style holds scenario-specific scene tuning.
type Style struct {
	Background        Color   `json:"background" yaml:"background"`
	GlobeTranslucency float64 `json:"globeTranslucency" yaml:"globeTranslucency"`
}
