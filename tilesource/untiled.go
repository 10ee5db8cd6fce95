/*
Copyright © 2023 mapknit authors
*/
package tilesource

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// UntiledSource invokes a bounding-box-parameterized service (WMS-style)
// directly. The URL template takes {minx}, {miny}, {maxx}, {maxy}, {width}
// and {height} placeholders.
type UntiledSource struct {
	crsID       string
	urlTemplate string
	getter      httpGetter
	transparent *color.NRGBA
}

// NewUntiledSource creates a bounding-box source in the given CRS.
func NewUntiledSource(crsID, urlTemplate string, hook RequestHook) *UntiledSource {
	return &UntiledSource{
		crsID:       crsID,
		urlTemplate: urlTemplate,
		getter:      newHTTPGetter(hook),
	}
}

// SetTransparentColor remaps an opaque "no data" color to transparent.
func (s *UntiledSource) SetTransparentColor(c color.NRGBA) {
	s.transparent = &c
}

func (s *UntiledSource) CRS() string { return s.crsID }

// URLFor expands the template for one request.
func (s *UntiledSource) URLFor(bound orb.Bound, pxWidth, pxHeight int) string {
	fl := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	u := strings.ReplaceAll(s.urlTemplate, "{minx}", fl(bound.Min[0]))
	u = strings.ReplaceAll(u, "{miny}", fl(bound.Min[1]))
	u = strings.ReplaceAll(u, "{maxx}", fl(bound.Max[0]))
	u = strings.ReplaceAll(u, "{maxy}", fl(bound.Max[1]))
	u = strings.ReplaceAll(u, "{width}", strconv.Itoa(pxWidth))
	u = strings.ReplaceAll(u, "{height}", strconv.Itoa(pxHeight))
	return u
}

func (s *UntiledSource) Render(ctx context.Context, bound orb.Bound, pxWidth, pxHeight int) Rendering {
	url := s.URLFor(bound, pxWidth, pxHeight)

	data, err := s.getter.get(ctx, url)
	if err != nil {
		log.Printf("untiled fetch: %v", err)
		var unavail error
		if isTransient(err) || isUnavailable(err) {
			unavail = err
		}
		return Rendering{
			Image: Diagnostic(pxWidth, pxHeight, err.Error(), isTransient(err)),
			Bound: bound,
			Err:   unavail,
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Rendering{
			Image: Diagnostic(pxWidth, pxHeight, fmt.Sprintf("decode: %v", err), false),
			Bound: bound,
		}
	}

	if s.transparent != nil {
		img = remapTransparent(img, *s.transparent)
	}
	return Rendering{Image: img, Bound: bound}
}
