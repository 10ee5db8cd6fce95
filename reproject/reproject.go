/*
Copyright © 2023 mapknit authors
*/

// Package reproject warps source rasters into a destination CRS and viewport.
// The warp approximates the per-pixel coordinate mapping with per-block affine
// transforms: exact at three block corners, interpolated inside, resampled
// with Catmull-Rom.
package reproject

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"strings"

	"github.com/paulmach/orb"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/mercmath"
)

// DefaultBlockSize is the side length, in destination pixels, of the square
// blocks the affine approximation is computed over.
const DefaultBlockSize = 64

// Raster couples pixels with the logical rectangle they cover in a CRS.
type Raster struct {
	Image image.Image
	Bound orb.Bound
	CRS   string
}

// Engine warps rasters between coordinate reference systems.
type Engine struct {
	blockSize int
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBlockSize sets the affine approximation block side in destination
// pixels. A degenerate value is corrected at warp time to one block covering
// the whole canvas.
func WithBlockSize(px int) Option {
	return func(e *Engine) { e.blockSize = px }
}

// New creates a reprojection engine.
func New(opts ...Option) *Engine {
	e := &Engine{blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warp renders the part of src visible in the destination viewport into a new
// image of dstPxW x dstPxH pixels. Destination regions the source does not
// cover stay fully transparent. Blocks whose corner mapping degenerates are
// skipped rather than extrapolated.
func (e *Engine) Warp(src Raster, dstBound orb.Bound, dstCRS string, dstPxW, dstPxH int) (*image.NRGBA, error) {
	if src.Image == nil {
		return nil, fmt.Errorf("warp: nil source image")
	}
	if dstPxW < 1 || dstPxH < 1 {
		return nil, fmt.Errorf("warp: degenerate destination size %dx%d", dstPxW, dstPxH)
	}
	if !mercmath.IsFinite(src.Bound) || !mercmath.IsFinite(dstBound) {
		return nil, fmt.Errorf("warp: non-finite bound")
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, dstPxW, dstPxH))

	toSrc := newPixelMapper(src, dstBound, dstPxW, dstPxH)

	if strings.EqualFold(src.CRS, dstCRS) {
		e.warpLinear(canvas, src, toSrc)
		return canvas, nil
	}

	tr, err := crs.GetTransform(dstCRS, src.CRS)
	if err != nil {
		return nil, err
	}
	e.warpBlocks(canvas, src, toSrc, tr)
	return canvas, nil
}

// pixelMapper converts destination pixel centers to logical destination
// coordinates and logical source coordinates to source pixel positions.
type pixelMapper struct {
	dstBound           orb.Bound
	dstUnitX, dstUnitY float64

	srcBound         orb.Bound
	srcPxX, srcPxY   float64
	srcOffX, srcOffY float64
}

func newPixelMapper(src Raster, dstBound orb.Bound, dstPxW, dstPxH int) pixelMapper {
	sb := src.Image.Bounds()
	return pixelMapper{
		dstBound: dstBound,
		dstUnitX: mercmath.Width(dstBound) / float64(dstPxW),
		dstUnitY: mercmath.Height(dstBound) / float64(dstPxH),
		srcBound: src.Bound,
		srcPxX:   float64(sb.Dx()) / mercmath.Width(src.Bound),
		srcPxY:   float64(sb.Dy()) / mercmath.Height(src.Bound),
		srcOffX:  float64(sb.Min.X),
		srcOffY:  float64(sb.Min.Y),
	}
}

// dstLogical maps a destination pixel position to logical destination
// coordinates; the Y axis points down in pixel space and up in logical space.
func (m pixelMapper) dstLogical(px, py float64) (float64, float64) {
	return m.dstBound.Min[0] + px*m.dstUnitX, m.dstBound.Max[1] - py*m.dstUnitY
}

// srcPixel maps logical source coordinates to source pixel positions.
func (m pixelMapper) srcPixel(x, y float64) (float64, float64) {
	return m.srcOffX + (x-m.srcBound.Min[0])*m.srcPxX,
		m.srcOffY + (m.srcBound.Max[1]-y)*m.srcPxY
}

// warpLinear handles the same-CRS case: the full pixel mapping is one global
// affine, so no block decomposition is needed. An exact identity mapping is
// copied without resampling so unscaled pass-through stays pixel-identical.
func (e *Engine) warpLinear(canvas *image.NRGBA, src Raster, m pixelMapper) {
	// destination pixel -> source pixel, composed from the two linear maps
	a00 := m.dstUnitX * m.srcPxX
	a11 := m.dstUnitY * m.srcPxY
	lx, ly := m.dstLogical(0, 0)
	a02, a12 := m.srcPixel(lx, ly)

	if offX, offY, ok := unscaledCrop(a00, a11, a02, a12); ok {
		sp := image.Pt(offX, offY)
		draw.Draw(canvas, canvas.Bounds(), src.Image, sp, draw.Src)
		return
	}

	inv, ok := invertAffine(a00, 0, a02, 0, a11, a12)
	if !ok {
		return
	}
	xdraw.CatmullRom.Transform(canvas, inv, src.Image, src.Image.Bounds(), xdraw.Src, nil)
}

// unscaledCrop detects a 1:1 pixel mapping at an integer offset, where a
// direct copy of the covered sub-rectangle is exact and resampling would only
// blur.
func unscaledCrop(scaleX, scaleY, offX, offY float64) (int, int, bool) {
	const eps = 1e-9
	if math.Abs(scaleX-1) > eps || math.Abs(scaleY-1) > eps {
		return 0, 0, false
	}
	rx := math.Round(offX)
	ry := math.Round(offY)
	if math.Abs(offX-rx) > eps || math.Abs(offY-ry) > eps {
		return 0, 0, false
	}
	return int(rx), int(ry), true
}

// warpBlocks decomposes the destination into square blocks and warps each with
// the affine fixed by mapping the block's top-left, top-right and bottom-left
// corners through the exact coordinate chain.
func (e *Engine) warpBlocks(canvas *image.NRGBA, src Raster, m pixelMapper, tr crs.Transform) {
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()

	bs := resolveBlockSize(e.blockSize, w, h)

	corner := func(px, py float64) (float64, float64, bool) {
		lx, ly := m.dstLogical(px, py)
		p := tr(orb.Point{lx, ly})
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) || math.IsInf(p[0], 0) || math.IsInf(p[1], 0) {
			return 0, 0, false
		}
		sx, sy := m.srcPixel(p[0], p[1])
		return sx, sy, true
	}

	for by := 0; by < h; by += bs {
		for bx := 0; bx < w; bx += bs {
			x1 := minInt(bx+bs, w)
			y1 := minInt(by+bs, h)

			s0x, s0y, ok0 := corner(float64(bx), float64(by))
			s1x, s1y, ok1 := corner(float64(x1), float64(by))
			s2x, s2y, ok2 := corner(float64(bx), float64(y1))
			if !ok0 || !ok1 || !ok2 {
				continue
			}

			fx := float64(x1 - bx)
			fy := float64(y1 - by)

			// destination pixel -> source pixel over this block
			a00 := (s1x - s0x) / fx
			a01 := (s2x - s0x) / fy
			a10 := (s1y - s0y) / fx
			a11 := (s2y - s0y) / fy
			a02 := s0x - a00*float64(bx) - a01*float64(by)
			a12 := s0y - a10*float64(bx) - a11*float64(by)

			inv, ok := invertAffine(a00, a01, a02, a10, a11, a12)
			if !ok {
				continue
			}

			block := canvas.SubImage(image.Rect(bx, by, x1, y1)).(*image.NRGBA)
			xdraw.CatmullRom.Transform(block, inv, src.Image, src.Image.Bounds(), xdraw.Src, nil)
		}
	}
}

// resolveBlockSize corrects a degenerate or oversized block side up to
// max(w, h), i.e. one block covering the whole canvas.
func resolveBlockSize(bs, w, h int) int {
	if bs < 1 || (bs > w && bs > h) {
		return maxInt(w, h)
	}
	return bs
}

// invertAffine inverts a 2D affine map given row-major coefficients. ok is
// false for a (near-)singular map.
func invertAffine(a00, a01, a02, a10, a11, a12 float64) (f64.Aff3, bool) {
	det := a00*a11 - a01*a10
	if math.Abs(det) < 1e-12 {
		return f64.Aff3{}, false
	}
	i00 := a11 / det
	i01 := -a01 / det
	i10 := -a10 / det
	i11 := a00 / det
	i02 := -(i00*a02 + i01*a12)
	i12 := -(i10*a02 + i11*a12)
	return f64.Aff3{i00, i01, i02, i10, i11, i12}, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
