package terrain

import (
	"context"
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/internal/observability"
)

// ElevationResolver samples the ground height under a position. It performs
// exactly one sample per call; retrying is the provider manager's concern.
type ElevationResolver struct {
	log     logging.Logger
	metrics *observability.TargetingCollector
}

// NewElevationResolver builds a resolver. Both arguments may be nil.
func NewElevationResolver(log logging.Logger, metrics *observability.TargetingCollector) *ElevationResolver {
	return &ElevationResolver{
		log:     logging.Component(log, "elevation"),
		metrics: metrics,
	}
}

// Resolve returns the ground position under pos in ellipsoid heights. ok is
// false when there is no provider, the sample fails or it comes back empty.
func (r *ElevationResolver) Resolve(ctx context.Context, provider Provider, pos geo.LonLat) (ground geo.Cartographic, ok bool) {
	if provider == nil {
		r.log.Warn(ctx, "no terrain provider; skipping elevation sample",
			logging.Float64("lon", pos.Lon), logging.Float64("lat", pos.Lat))
		return geo.Cartographic{}, false
	}

	ctx, span := observability.StartSpan(ctx, "terrain.sample",
		attribute.String("terrain.source", provider.Source()))
	defer span.End()

	start := time.Now()
	samples, err := provider.SampleMostDetailed(ctx, []geo.LonLat{pos})
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.ElevationSampled(false, elapsed)
		span.RecordError(err)
		r.log.Warn(ctx, "terrain sample failed",
			logging.String("source", provider.Source()), logging.Err(err))
		return geo.Cartographic{}, false
	}
	if len(samples) == 0 || !samples[0].IsFinite() {
		r.metrics.ElevationSampled(false, elapsed)
		r.log.Debug(ctx, "terrain sample returned no height",
			logging.String("source", provider.Source()))
		return geo.Cartographic{}, false
	}
	r.metrics.ElevationSampled(true, elapsed)

	ground = samples[0]
	if provider.VerticalDatum() == DatumEGM96 {
		ground.Height = EllipsoidHeight(ground.Lat, ground.Lon, ground.Height)
	}
	return ground, true
}

// EllipsoidHeight converts a height above mean sea level (EGM96 geoid) into
// a height above the WGS84 ellipsoid. The input is returned unchanged when
// the geoid model cannot be evaluated.
func EllipsoidHeight(lat, lon, mslHeight float64) float64 {
	// At ellipsoid height 0 the height above MSL is minus the geoid
	// undulation.
	aboveMSL, err := egm96.NewLocationGeodetic(lat, lon, 0).HeightAboveMSL()
	if err != nil || math.IsNaN(aboveMSL) {
		return mslHeight
	}
	return mslHeight - aboveMSL
}
