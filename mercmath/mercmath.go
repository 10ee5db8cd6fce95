/*
Copyright © 2023 mapknit authors
*/
package mercmath

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	TileSizePx = 256

	// EarthRadius is the sphere radius of the internal Mercator projection.
	EarthRadius = 6371000.0

	// EarthHalfCircumference is half the equatorial circumference of the
	// internal Mercator sphere. The world square spans
	// [-EarthHalfCircumference, EarthHalfCircumference] on both axes.
	EarthHalfCircumference = math.Pi * EarthRadius
)

// WGSToMercator projects a lon/lat point into internal Mercator meters.
func WGSToMercator(p orb.Point) orb.Point {
	x := EarthRadius * p[0] * math.Pi / 180.0
	y := EarthRadius * math.Log(math.Tan(math.Pi/4.0+p[1]*math.Pi/360.0))
	return orb.Point{x, y}
}

// MercatorToWGS is the inverse of WGSToMercator.
func MercatorToWGS(p orb.Point) orb.Point {
	lon := p[0] / EarthRadius * 180.0 / math.Pi
	lat := (2.0*math.Atan(math.Exp(p[1]/EarthRadius)) - math.Pi/2.0) * 180.0 / math.Pi
	return orb.Point{lon, lat}
}

// TileToMercatorAtZoom returns the internal Mercator rectangle covered by a
// tile of the fixed 256px internal tiling scheme. Zoom level 1 holds a single
// tile covering the full world square, each level quarters the tiles of the
// previous one.
func TileToMercatorAtZoom(col, row, zoom int) orb.Bound {
	arc := 2.0 * EarthHalfCircumference / math.Pow(2, float64(zoom-1))

	minX := float64(col)*arc - EarthHalfCircumference
	maxY := EarthHalfCircumference - float64(row)*arc

	return orb.Bound{
		Min: orb.Point{minX, maxY - arc},
		Max: orb.Point{minX + arc, maxY},
	}
}

// Width returns the horizontal span of a bound.
func Width(b orb.Bound) float64 {
	return b.Max[0] - b.Min[0]
}

// Height returns the vertical span of a bound.
func Height(b orb.Bound) float64 {
	return b.Max[1] - b.Min[1]
}

// ZoomFactor is the representative resolution of a request: the Euclidean
// norm of meters-per-pixel along each axis.
func ZoomFactor(b orb.Bound, pxWidth, pxHeight int) float64 {
	dx := Width(b) / float64(pxWidth)
	dy := Height(b) / float64(pxHeight)
	return math.Sqrt(dx*dx + dy*dy)
}

// Inflate grows a bound around its center by the given factor
// (1.0 keeps it unchanged).
func Inflate(b orb.Bound, factor float64) orb.Bound {
	cx := (b.Min[0] + b.Max[0]) / 2.0
	cy := (b.Min[1] + b.Max[1]) / 2.0
	hw := Width(b) / 2.0 * factor
	hh := Height(b) / 2.0 * factor

	return orb.Bound{
		Min: orb.Point{cx - hw, cy - hh},
		Max: orb.Point{cx + hw, cy + hh},
	}
}

// Intersect clips a bound to the given limits.
func Intersect(b, limits orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(b.Min[0], limits.Min[0]), math.Max(b.Min[1], limits.Min[1])},
		Max: orb.Point{math.Min(b.Max[0], limits.Max[0]), math.Min(b.Max[1], limits.Max[1])},
	}
}

// Contains reports whether outer fully covers inner.
func Contains(outer, inner orb.Bound) bool {
	return outer.Min[0] <= inner.Min[0] && outer.Min[1] <= inner.Min[1] &&
		outer.Max[0] >= inner.Max[0] && outer.Max[1] >= inner.Max[1]
}

// IsFinite reports whether all four corners of a bound are finite numbers
// and the bound is not degenerate.
func IsFinite(b orb.Bound) bool {
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Max[0] > b.Min[0] && b.Max[1] > b.Min[1]
}
