/*
Copyright © 2023 mapknit authors
*/
package tilesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/paulmach/orb"

	"github.com/mapknit/mapknit/matrixset"
	"github.com/mapknit/mapknit/tilecache"
)

const (
	// DefaultCacheBudget bounds the raw encoded tile bytes kept in memory.
	DefaultCacheBudget = 16 * 1024 * 1024

	// MaxConcurrency bounds parallel per-cell fetches.
	MaxConcurrency = 8
)

// TileGetter resolves one tile-matrix cell to its raw encoded image bytes.
type TileGetter interface {
	GetTile(ctx context.Context, matrixID string, col, row int) ([]byte, error)
}

// HTTPTileGetter fetches cells from a URL template with {z}, {x}, {y}
// placeholders, where {z} is the matrix identifier.
type HTTPTileGetter struct {
	urlTemplate string
	getter      httpGetter
}

// NewHTTPTileGetter creates a getter for a tile URL template. The hook, if
// not nil, runs once per outgoing request.
func NewHTTPTileGetter(urlTemplate string, hook RequestHook) *HTTPTileGetter {
	return &HTTPTileGetter{
		urlTemplate: urlTemplate,
		getter:      newHTTPGetter(hook),
	}
}

// URLFor expands the template for one cell.
func (g *HTTPTileGetter) URLFor(matrixID string, col, row int) string {
	u := strings.ReplaceAll(g.urlTemplate, "{z}", matrixID)
	u = strings.ReplaceAll(u, "{x}", fmt.Sprintf("%d", col))
	u = strings.ReplaceAll(u, "{y}", fmt.Sprintf("%d", row))
	return u
}

func (g *HTTPTileGetter) GetTile(ctx context.Context, matrixID string, col, row int) ([]byte, error) {
	return g.getter.get(ctx, g.URLFor(matrixID, col, row))
}

// TiledSource composes a tile-grid service: it selects the best matrix for a
// request, fetches the covering cells (cache first), and stitches them into
// one working raster.
type TiledSource struct {
	crsID       string
	matrices    *matrixset.TileMatrixSet
	getter      TileGetter
	cache       *tilecache.Cache[string, []byte]
	transparent *color.NRGBA
	concurrency int
}

// TiledSourceOption customizes a TiledSource.
type TiledSourceOption func(*TiledSource)

// WithCacheBudget sets the tile byte cache capacity.
func WithCacheBudget(budget int64) TiledSourceOption {
	return func(s *TiledSource) {
		s.cache = tilecache.New[string, []byte](budget, tilecache.Bytes)
	}
}

// WithTransparentColor remaps an opaque "no data" placeholder color to fully
// transparent after fetch.
func WithTransparentColor(c color.NRGBA) TiledSourceOption {
	return func(s *TiledSource) { s.transparent = &c }
}

// WithConcurrency bounds parallel cell fetches.
func WithConcurrency(n int) TiledSourceOption {
	return func(s *TiledSource) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewTiledSource creates a source over a tile matrix set.
func NewTiledSource(matrices *matrixset.TileMatrixSet, getter TileGetter, opts ...TiledSourceOption) *TiledSource {
	s := &TiledSource{
		crsID:       matrices.CRS,
		matrices:    matrices,
		getter:      getter,
		cache:       tilecache.New[string, []byte](DefaultCacheBudget, tilecache.Bytes),
		concurrency: MaxConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TiledSource) CRS() string { return s.crsID }

// Render stitches the covering cells of the best-resolution matrix into one
// working raster. Independent cells write disjoint regions of the canvas;
// all cells complete before the rendering is returned.
func (s *TiledSource) Render(ctx context.Context, bound orb.Bound, pxWidth, pxHeight int) Rendering {
	tm, ok := s.matrices.SelectTileMatrix(bound, pxWidth, pxHeight)
	if !ok {
		return Rendering{Image: Blank(pxWidth, pxHeight), Bound: bound}
	}

	rng, ok := tm.Range(bound)
	if !ok {
		return Rendering{Image: Blank(pxWidth, pxHeight), Bound: bound}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, rng.Cols()*tm.TileWidthPx, rng.Rows()*tm.TileHeightPx))
	topLeftTile := tm.TileBound(rng.MinCol, rng.MinRow)
	bottomRightTile := tm.TileBound(rng.MaxCol, rng.MaxRow)
	canvasBound := orb.Bound{
		Min: orb.Point{topLeftTile.Min[0], bottomRightTile.Min[1]},
		Max: orb.Point{bottomRightTile.Max[0], topLeftTile.Max[1]},
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex

		unavailable error
	)
	sem := make(chan bool, s.concurrency)

	dt1 := time.Now()
	for row := rng.MinRow; row <= rng.MaxRow; row++ {
		for col := rng.MinCol; col <= rng.MaxCol; col++ {
			wg.Add(1)
			sem <- true

			col, row := col, row
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()

				img, err := s.cellImage(ctx, tm, col, row)
				if err != nil {
					mu.Lock()
					unavailable = err
					mu.Unlock()
				}

				// each cell owns a disjoint destination rectangle
				x0 := (col - rng.MinCol) * tm.TileWidthPx
				y0 := (row - rng.MinRow) * tm.TileHeightPx
				rect := image.Rect(x0, y0, x0+tm.TileWidthPx, y0+tm.TileHeightPx)
				draw.Draw(canvas, rect, img, img.Bounds().Min, draw.Src)
			}()
		}
	}
	wg.Wait()

	log.Printf("stitched %dx%d cells of matrix %s in %v",
		rng.Cols(), rng.Rows(), tm.Identifier, time.Since(dt1))

	return Rendering{Image: canvas, Bound: canvasBound, Err: unavailable}
}

// cellImage returns the decoded image for one cell; failures come back as a
// diagnostic tile plus the connectivity error when one occurred.
func (s *TiledSource) cellImage(ctx context.Context, tm *matrixset.TileMatrix, col, row int) (image.Image, error) {
	key := fmt.Sprintf("%s/%d/%d", tm.Identifier, col, row)

	data, ok := s.cache.Get(key)
	if !ok {
		var err error
		data, err = s.getter.GetTile(ctx, tm.Identifier, col, row)
		if err != nil {
			log.Printf("cell %s: %v", key, err)
			var unavail error
			if isTransient(err) || isUnavailable(err) {
				unavail = err
			}
			return Diagnostic(tm.TileWidthPx, tm.TileHeightPx, err.Error(), isTransient(err)), unavail
		}
		s.cache.Put(key, data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Diagnostic(tm.TileWidthPx, tm.TileHeightPx, fmt.Sprintf("decode: %v", err), false), nil
	}

	if s.transparent != nil {
		img = remapTransparent(img, *s.transparent)
	}
	return img, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}

// remapTransparent converts the source's opaque "no data" color to fully
// transparent pixels.
func remapTransparent(img image.Image, nodata color.NRGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] == nodata.R && out.Pix[i+1] == nodata.G && out.Pix[i+2] == nodata.B {
			out.Pix[i+3] = 0
		}
	}
	return out
}
