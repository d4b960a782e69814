// Package httpterrain loads terrain providers from HTTP terrain services.
//
// A service publishes its metadata at {url}/layer.json and answers height
// queries posted to {url}/heights as {"points":[[lon,lat],...]} with
// {"heights":[h,...]}, where a null height means the service has no data for
// that point.
package httpterrain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/signalsfoundry/terrainview/geo"
	"github.com/signalsfoundry/terrainview/internal/logging"
	"github.com/signalsfoundry/terrainview/terrain"
)

// DefaultMaxBatch caps how many points are sent per height query when the
// service does not advertise its own limit.
const DefaultMaxBatch = 512

// Metadata is the layer.json document.
type Metadata struct {
	Name          string    `json:"name"`
	VerticalDatum string    `json:"verticalDatum,omitempty"`
	Bounds        []float64 `json:"bounds,omitempty"` // west, south, east, north
	MaxBatch      int       `json:"maxBatch,omitempty"`
}

type heightsRequest struct {
	Points [][2]float64 `json:"points"`
}

type heightsResponse struct {
	Heights []*float64 `json:"heights"`
}

// Factory builds Providers by fetching a service's metadata.
type Factory struct {
	client *http.Client
	log    logging.Logger
}

var _ terrain.Factory = (*Factory)(nil)

// NewFactory returns a Factory using client, or a client with a 30 second
// timeout when nil.
func NewFactory(client *http.Client, log logging.Logger) *Factory {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Factory{client: client, log: logging.Component(log, "httpterrain")}
}

// FromURL fetches {url}/layer.json and returns a provider for the service.
func (f *Factory) FromURL(ctx context.Context, url string) (terrain.Provider, error) {
	base := strings.TrimRight(url, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/layer.json", nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch terrain metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch terrain metadata: unexpected status %s", resp.Status)
	}

	var meta Metadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode terrain metadata: %w", err)
	}
	if meta.MaxBatch <= 0 {
		meta.MaxBatch = DefaultMaxBatch
	}
	if len(meta.Bounds) != 0 && len(meta.Bounds) != 4 {
		return nil, fmt.Errorf("terrain metadata bounds must have 4 values, got %d", len(meta.Bounds))
	}

	f.log.Debug(ctx, "terrain service metadata loaded",
		logging.String("url", base), logging.String("name", meta.Name),
		logging.String("datum", meta.VerticalDatum))
	return &Provider{base: base, client: f.client, meta: meta}, nil
}

// Provider samples heights from one terrain service.
type Provider struct {
	base   string
	client *http.Client
	meta   Metadata
}

var _ terrain.Provider = (*Provider)(nil)

func (p *Provider) Source() string { return p.base }

func (p *Provider) VerticalDatum() string {
	if p.meta.VerticalDatum == "" {
		return terrain.DatumEllipsoid
	}
	return strings.ToUpper(p.meta.VerticalDatum)
}

// Metadata returns the service metadata.
func (p *Provider) Metadata() Metadata { return p.meta }

// SampleMostDetailed queries the service in batches. Points outside the
// advertised bounds are not sent and come back with a NaN height.
func (p *Provider) SampleMostDetailed(ctx context.Context, positions []geo.LonLat) ([]geo.Cartographic, error) {
	out := make([]geo.Cartographic, len(positions))
	var (
		batch []int
		pts   [][2]float64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		heights, err := p.query(ctx, pts)
		if err != nil {
			return err
		}
		if len(heights) != len(batch) {
			return fmt.Errorf("terrain service returned %d heights for %d points", len(heights), len(batch))
		}
		for i, idx := range batch {
			out[idx].Height = math.NaN()
			if heights[i] != nil {
				out[idx].Height = *heights[i]
			}
		}
		batch, pts = batch[:0], pts[:0]
		return nil
	}

	for i, pos := range positions {
		out[i] = pos.WithHeight(math.NaN())
		if !pos.IsFinite() || !p.covers(pos) {
			continue
		}
		batch = append(batch, i)
		pts = append(pts, [2]float64{pos.Lon, pos.Lat})
		if len(batch) >= p.meta.MaxBatch {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) covers(pos geo.LonLat) bool {
	if len(p.meta.Bounds) != 4 {
		return true
	}
	b := p.meta.Bounds
	return pos.Lon >= b[0] && pos.Lat >= b[1] && pos.Lon <= b[2] && pos.Lat <= b[3]
}

func (p *Provider) query(ctx context.Context, pts [][2]float64) ([]*float64, error) {
	body, err := json.Marshal(heightsRequest{Points: pts})
	if err != nil {
		return nil, fmt.Errorf("encode height query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/heights", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build height query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query heights: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("query heights: status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var decoded heightsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode heights: %w", err)
	}
	if decoded.Heights == nil {
		return nil, errors.New("terrain service response has no heights")
	}
	return decoded.Heights, nil
}
