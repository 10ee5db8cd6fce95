/*
Copyright © 2023 mapknit authors
*/

// Package tilesource resolves bounding-box image requests against tiled and
// untiled map services. All entry points return an image: network and decode
// failures are rendered into diagnostic placeholders rather than propagated.
package tilesource

import (
	"context"
	"image"
	"math"

	"github.com/paulmach/orb"

	"github.com/mapknit/mapknit/mercmath"
)

// Rendering is a working image tagged with the logical rectangle it covers
// in the source CRS. Err carries a connectivity loss for the facade to
// optionally re-signal; Image is valid either way.
type Rendering struct {
	Image image.Image
	Bound orb.Bound
	Err   error
}

// Source renders map imagery covering a bound in its native CRS. The tiled
// and untiled service shapes both satisfy this, keeping the reprojection and
// caching layers source-shape-agnostic.
type Source interface {
	CRS() string
	Render(ctx context.Context, bound orb.Bound, pxWidth, pxHeight int) Rendering
}

// Coordinate limits requests are clamped to before any network call.
var defaultLimits = orb.Bound{
	Min: orb.Point{-20000000, -10000000},
	Max: orb.Point{20000000, 20000000},
}

// minUsablePx is the smallest clipped request worth fetching; anything
// smaller short-circuits to a blank image.
const minUsablePx = 32

// Fetcher shapes raw bounding-box requests (border inflation, coordinate
// clamping, degenerate short-circuit) before handing them to a Source.
type Fetcher struct {
	src    Source
	limits orb.Bound
}

// NewFetcher wraps a source with the default coordinate limits.
func NewFetcher(src Source) *Fetcher {
	return &Fetcher{src: src, limits: defaultLimits}
}

// NewFetcherWithLimits wraps a source with custom coordinate limits.
func NewFetcherWithLimits(src Source, limits orb.Bound) *Fetcher {
	return &Fetcher{src: src, limits: limits}
}

// Source returns the wrapped source.
func (f *Fetcher) Source() Source { return f.src }

// Fetch resolves a bounding-box request to an image. A borderPx > 0 inflates
// the request by borderPx/pxWidth on each side before clamping. If the
// clamped request degenerates below 32x32 pixels, a blank image of the
// originally requested size is returned without touching the network.
func (f *Fetcher) Fetch(ctx context.Context, bound orb.Bound, pxWidth, pxHeight, borderPx int) Rendering {
	if pxWidth < 1 || pxHeight < 1 || !mercmath.IsFinite(bound) {
		return Rendering{Image: Blank(pxWidth, pxHeight), Bound: bound}
	}

	req := bound
	reqPxW, reqPxH := pxWidth, pxHeight
	if borderPx > 0 {
		frac := float64(borderPx) / float64(pxWidth)
		dx := mercmath.Width(bound) * frac
		dy := mercmath.Height(bound) * frac
		req = orb.Bound{
			Min: orb.Point{bound.Min[0] - dx, bound.Min[1] - dy},
			Max: orb.Point{bound.Max[0] + dx, bound.Max[1] + dy},
		}
		reqPxW = pxWidth + 2*borderPx
		reqPxH = pxHeight + 2*borderPx
	}

	clipped := mercmath.Intersect(req, f.limits)
	if clipped.Max[0] <= clipped.Min[0] || clipped.Max[1] <= clipped.Min[1] {
		return Rendering{Image: Blank(pxWidth, pxHeight), Bound: bound}
	}

	clipPxW, clipPxH := reqPxW, reqPxH
	if clipped != req {
		// Recompute pixel dimensions proportionally. Plain rounding here is
		// a known source of sub-pixel aspect distortion at deep zoom under
		// clipping; downstream visual parity depends on this exact rounding.
		clipPxW = int(math.Round(float64(reqPxW) * mercmath.Width(clipped) / mercmath.Width(req)))
		clipPxH = int(math.Round(float64(reqPxH) * mercmath.Height(clipped) / mercmath.Height(req)))
	}

	if clipPxW < minUsablePx || clipPxH < minUsablePx {
		return Rendering{Image: Blank(pxWidth, pxHeight), Bound: bound}
	}

	return f.src.Render(ctx, clipped, clipPxW, clipPxH)
}
