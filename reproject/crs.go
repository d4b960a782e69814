// Package reproject converts coordinates from the projected and geographic
// reference systems used by search results into WGS84 longitude/latitude.
package reproject

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Canonical is the reference system every Transform projects into.
const Canonical = "EPSG:4326"

// DefaultSource is assumed for selections that do not name a CRS.
const DefaultSource = "EPSG:3857"

// ErrUnknownCRS is returned when no transform is registered for a code.
var ErrUnknownCRS = errors.New("unknown coordinate reference system")

// Transform projects points from one source CRS into WGS84 lon/lat degrees.
type Transform interface {
	// CRS returns the normalised source code, e.g. "EPSG:2056".
	CRS() string
	// Forward converts a source coordinate pair into lon/lat degrees.
	Forward(p orb.Point) orb.Point
}

type projection struct {
	code    string
	toWGS84 orb.Projection
}

func (p projection) CRS() string                    { return p.code }
func (p projection) Forward(pt orb.Point) orb.Point { return project.Point(pt, p.toWGS84) }

// NormalizeCRS maps the spellings found in search payloads onto "EPSG:<n>".
// An empty code resolves to DefaultSource.
func NormalizeCRS(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return DefaultSource
	}
	switch c {
	case "WGS84", "CRS84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84":
		return Canonical
	}
	if i := strings.LastIndex(c, ":"); i >= 0 {
		c = c[i+1:]
	}
	if _, err := strconv.Atoi(c); err == nil {
		return "EPSG:" + c
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// New constructs the transform for the given CRS code.
func New(code string) (Transform, error) {
	norm := NormalizeCRS(code)
	epsg, err := strconv.Atoi(strings.TrimPrefix(norm, "EPSG:"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCRS, code)
	}

	switch {
	case epsg == 4326 || epsg == 4258:
		return projection{code: norm, toWGS84: identity}, nil
	case epsg == 3857 || epsg == 900913 || epsg == 102100:
		return projection{code: norm, toWGS84: project.Mercator.ToWGS84}, nil
	case epsg == 2056:
		return projection{code: norm, toWGS84: lv95ToWGS84}, nil
	case epsg == 21781:
		return projection{code: norm, toWGS84: lv03ToWGS84}, nil
	case epsg > 32600 && epsg <= 32660:
		return projection{code: norm, toWGS84: utmToWGS84(epsg-32600, true)}, nil
	case epsg > 32700 && epsg <= 32760:
		return projection{code: norm, toWGS84: utmToWGS84(epsg-32700, false)}, nil
	case epsg >= 25828 && epsg <= 25838:
		// ETRS89 / UTM zones 28N–38N; ETRS89 and WGS84 differ by well under a
		// metre, which is below what a camera target needs.
		return projection{code: norm, toWGS84: utmToWGS84(epsg-25800, true)}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCRS, code)
}

func identity(p orb.Point) orb.Point { return p }
