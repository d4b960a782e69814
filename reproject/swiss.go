package reproject

import "github.com/paulmach/orb"

// lv95ToWGS84 implements the swisstopo approximate formulas for CH1903+/LV95.
// Accuracy is about one metre inside Switzerland.
func lv95ToWGS84(p orb.Point) orb.Point {
	return swissToWGS84((p[0]-2600000)/1e6, (p[1]-1200000)/1e6)
}

// lv03ToWGS84 is the same series for the older CH1903/LV03 false origin.
func lv03ToWGS84(p orb.Point) orb.Point {
	return swissToWGS84((p[0]-600000)/1e6, (p[1]-200000)/1e6)
}

// swissToWGS84 takes easting/northing already shifted to the Bern origin and
// scaled to 1000 km units.
func swissToWGS84(y, x float64) orb.Point {
	lon := 2.6779094 +
		4.728982*y +
		0.791484*y*x +
		0.1306*y*x*x -
		0.0436*y*y*y
	lat := 16.9023892 +
		3.238272*x -
		0.270978*y*y -
		0.002528*x*x -
		0.0447*y*y*x -
		0.0140*x*x*x

	// Results are in units of 10000"; convert to degrees.
	return orb.Point{lon * 100 / 36, lat * 100 / 36}
}
