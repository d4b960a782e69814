// Package terrain resolves ground elevation through terrain providers and
// manages which provider is active on the scene for the current scenario.
package terrain

import (
	"context"
	"errors"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/scene"
)

// ErrNoProvider is returned when an operation needs a terrain provider and
// none is available.
var ErrNoProvider = errors.New("no terrain provider")

// Vertical datums reported by providers.
const (
	DatumEllipsoid = "WGS84"
	DatumEGM96     = "EGM96"
)

// Sampler samples ground heights at the most detailed level available.
type Sampler interface {
	// SampleMostDetailed returns one position per input, with Height set to
	// the ground height. Positions the source has no data for come back with
	// a non-finite height.
	SampleMostDetailed(ctx context.Context, positions []geo.LonLat) ([]geo.Cartographic, error)
}

// Provider is a loaded terrain source: something the scene can render and
// the resolver can sample.
type Provider interface {
	scene.TerrainProvider
	Sampler
	// VerticalDatum names the reference heights are expressed against;
	// DatumEllipsoid when empty.
	VerticalDatum() string
}

// Factory constructs providers from a terrain service URL.
type Factory interface {
	FromURL(ctx context.Context, url string) (Provider, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, url string) (Provider, error)

func (f FactoryFunc) FromURL(ctx context.Context, url string) (Provider, error) {
	return f(ctx, url)
}

// FromScene returns the scene's active terrain provider when it can be
// sampled.
func FromScene(s scene.Scene) (Provider, bool) {
	if !scene.Alive(s) {
		return nil, false
	}
	p, ok := s.TerrainProvider().(Provider)
	return p, ok && p != nil
}
