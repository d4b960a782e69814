package terrain

import (
	"context"

	"github.com/signalsfoundry/terrainview/geo"
)

// Flat is a provider whose ground is a constant height everywhere. It backs
// offline runs and demos where no terrain service is reachable.
type Flat struct {
	Name   string
	Height float64
}

func (f Flat) Source() string        { return f.Name }
func (f Flat) VerticalDatum() string { return DatumEllipsoid }

func (f Flat) SampleMostDetailed(ctx context.Context, positions []geo.LonLat) ([]geo.Cartographic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]geo.Cartographic, len(positions))
	for i, p := range positions {
		out[i] = p.WithHeight(f.Height)
	}
	return out, nil
}

// FlatFactory returns a Factory producing Flat providers at height, named
// after the requested URL.
func FlatFactory(height float64) Factory {
	return FactoryFunc(func(ctx context.Context, url string) (Provider, error) {
		return Flat{Name: url, Height: height}, nil
	})
}
