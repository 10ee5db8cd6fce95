/*
Copyright © 2023 mapknit authors
*/

// Package tileservice is the outward face of the rendering pipeline: it turns
// tile addresses and map viewports into encoded PNG bytes, composing fetch,
// reprojection and encoding behind one call.
package tileservice

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/mercmath"
	"github.com/mapknit/mapknit/reproject"
	"github.com/mapknit/mapknit/tilesource"
)

const (
	// MaxRequestPx bounds one rendered dimension.
	MaxRequestPx = 8192

	defaultMinZoom = 1
	defaultMaxZoom = 19

	// defaultBorderPx is the fetch margin feeding the resampling kernel at
	// viewport edges.
	defaultBorderPx = 4
)

// Service renders map tiles and arbitrary viewports from one configured
// source. Rendering failures inside the pipeline degrade to diagnostic or
// blank imagery; an error return is reserved for invalid requests and, in
// strict mode, source connectivity loss.
type Service struct {
	fetcher  *tilesource.Fetcher
	engine   *reproject.Engine
	mapCRS   string
	borderPx int
	minZoom  int
	maxZoom  int
	strict   bool
}

// Option customizes a Service.
type Option func(*Service)

// WithZoomRange restricts RenderTile to the given zoom levels.
func WithZoomRange(min, max int) Option {
	return func(s *Service) {
		if min >= 1 {
			s.minZoom = min
		}
		if max >= s.minZoom {
			s.maxZoom = max
		}
	}
}

// WithBorderPx sets the fetch margin in pixels.
func WithBorderPx(px int) Option {
	return func(s *Service) {
		if px >= 0 {
			s.borderPx = px
		}
	}
}

// WithEngine substitutes the reprojection engine.
func WithEngine(e *reproject.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithStrictUnavailable makes source connectivity loss an error instead of a
// diagnostic image.
func WithStrictUnavailable() Option {
	return func(s *Service) { s.strict = true }
}

// New creates a service rendering in the internal Mercator plane from the
// given fetcher.
func New(fetcher *tilesource.Fetcher, opts ...Option) *Service {
	s := &Service{
		fetcher:  fetcher,
		engine:   reproject.New(),
		mapCRS:   crs.InternalMercator,
		borderPx: defaultBorderPx,
		minZoom:  defaultMinZoom,
		maxZoom:  defaultMaxZoom,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RenderTile renders the 256x256 PNG tile at the given grid address.
func (s *Service) RenderTile(ctx context.Context, col, row, zoom int) ([]byte, error) {
	if zoom < s.minZoom || zoom > s.maxZoom {
		return nil, fmt.Errorf("zoom %d outside %d..%d", zoom, s.minZoom, s.maxZoom)
	}
	n := 1 << (zoom - 1)
	if col < 0 || col >= n || row < 0 || row >= n {
		return nil, fmt.Errorf("tile %d/%d outside zoom %d grid", col, row, zoom)
	}

	bound := mercmath.TileToMercatorAtZoom(col, row, zoom)
	return s.RenderMap(ctx, bound, mercmath.TileSizePx, mercmath.TileSizePx)
}

// RenderMap renders a viewport of the internal Mercator plane to PNG bytes.
// The returned bytes are always a decodable image of the requested size when
// err is nil.
func (s *Service) RenderMap(ctx context.Context, bound orb.Bound, pxWidth, pxHeight int) (data []byte, err error) {
	if pxWidth < 1 || pxHeight < 1 || pxWidth > MaxRequestPx || pxHeight > MaxRequestPx {
		return nil, fmt.Errorf("invalid size %dx%d", pxWidth, pxHeight)
	}
	if !mercmath.IsFinite(bound) || bound.Max[0] <= bound.Min[0] || bound.Max[1] <= bound.Min[1] {
		return nil, fmt.Errorf("invalid bound")
	}

	// the pipeline must not take the process down over one request
	defer func() {
		if r := recover(); r != nil {
			log.Printf("render %v %dx%d: panic: %v", bound, pxWidth, pxHeight, r)
			data, err = nil, fmt.Errorf("render failed: %v", r)
		}
	}()

	dt1 := time.Now()

	srcCRS := s.fetcher.Source().CRS()

	fetchBound := bound
	if !strings.EqualFold(srcCRS, s.mapCRS) {
		tr, trErr := crs.GetTransform(s.mapCRS, srcCRS)
		if trErr != nil {
			return nil, trErr
		}
		fetchBound = crs.TransformBound(bound, tr, 8)
	}

	r := s.fetcher.Fetch(ctx, fetchBound, pxWidth, pxHeight, s.borderPx)
	if s.strict && r.Err != nil {
		return nil, r.Err
	}

	warped, warpErr := s.engine.Warp(
		reproject.Raster{Image: r.Image, Bound: r.Bound, CRS: srcCRS},
		bound, s.mapCRS, pxWidth, pxHeight)
	if warpErr != nil {
		return nil, warpErr
	}

	var buf bytes.Buffer
	if encErr := png.Encode(&buf, warped); encErr != nil {
		return nil, encErr
	}

	log.Printf("rendered %dx%d in %v", pxWidth, pxHeight, time.Since(dt1))
	return buf.Bytes(), nil
}
