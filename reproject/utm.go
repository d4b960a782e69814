package reproject

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	utmScale     = 0.9996
	utmFalseE    = 500000.0
	utmFalseN    = 10000000.0
	wgs84A       = 6378137.0
	wgs84E2      = 6.69437999014e-3
	wgs84EPrime2 = wgs84E2 / (1 - wgs84E2)
)

// utmToWGS84 returns the inverse transverse Mercator projection for a UTM
// zone, using the series expansion from Snyder, "Map Projections: A Working
// Manual" (USGS 1395), pp. 63–64.
func utmToWGS84(zone int, north bool) orb.Projection {
	lon0 := float64(zone-1)*6 - 180 + 3

	e1 := (1 - math.Sqrt(1-wgs84E2)) / (1 + math.Sqrt(1-wgs84E2))
	e4 := wgs84E2 * wgs84E2
	e6 := e4 * wgs84E2

	return func(p orb.Point) orb.Point {
		x := p[0] - utmFalseE
		y := p[1]
		if !north {
			y -= utmFalseN
		}

		m := y / utmScale
		mu := m / (wgs84A * (1 - wgs84E2/4 - 3*e4/64 - 5*e6/256))

		phi1 := mu +
			(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
			(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
			(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
			(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

		sinPhi, cosPhi, tanPhi := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
		c1 := wgs84EPrime2 * cosPhi * cosPhi
		t1 := tanPhi * tanPhi
		n1 := wgs84A / math.Sqrt(1-wgs84E2*sinPhi*sinPhi)
		r1 := wgs84A * (1 - wgs84E2) / math.Pow(1-wgs84E2*sinPhi*sinPhi, 1.5)
		d := x / (n1 * utmScale)

		lat := phi1 - (n1*tanPhi/r1)*(d*d/2-
			(5+3*t1+10*c1-4*c1*c1-9*wgs84EPrime2)*math.Pow(d, 4)/24+
			(61+90*t1+298*c1+45*t1*t1-252*wgs84EPrime2-3*c1*c1)*math.Pow(d, 6)/720)
		lon := (d -
			(1+2*t1+c1)*math.Pow(d, 3)/6 +
			(5-2*c1+28*t1-3*c1*c1+8*wgs84EPrime2+24*t1*t1)*math.Pow(d, 5)/120) / cosPhi

		return orb.Point{lon0 + lon*180/math.Pi, lat * 180 / math.Pi}
	}
}
