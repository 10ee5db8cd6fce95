/*
Copyright © 2023 mapknit authors
*/
package crs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/terrascope/geometry"
	"github.com/terrascope/proj4go"

	"github.com/mapknit/mapknit/mercmath"
)

// Well-known identifiers handled with closed-form transforms.
const (
	WGS84            = "EPSG:4326"
	InternalMercator = "MAP:MERCATOR"
)

// Transform converts a single point between two coordinate reference systems.
type Transform func(orb.Point) orb.Point

var (
	projMu sync.RWMutex

	// proj4 definitions for CRS ids that take the general path. The internal
	// Mercator entry lets foreign CRS pairs reach the internal projection
	// through the geodesy library as well.
	projDefs = map[string]string{
		"EPSG:4326":      "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs",
		"EPSG:3857":      "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
		"EPSG:25832":     "+proj=utm +zone=32 +ellps=GRS80 +units=m +no_defs",
		"EPSG:31467":     "+proj=tmerc +lat_0=0 +lon_0=9 +k=1 +x_0=3500000 +y_0=0 +ellps=bessel +datum=potsdam +units=m +no_defs",
		"EPSG:2056":      "+proj=somerc +lat_0=46.95240555555556 +lon_0=7.439583333333333 +k_0=1 +x_0=2600000 +y_0=1200000 +ellps=bessel +towgs84=674.374,15.056,405.346,0,0,0,0 +units=m +no_defs",
		InternalMercator: "+proj=merc +a=6371000 +b=6371000 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +no_defs",
	}
)

// RegisterProjection adds or overrides the proj4 definition used for a CRS id
// on the general transform path.
func RegisterProjection(id, proj4 string) {
	projMu.Lock()
	defer projMu.Unlock()
	projDefs[strings.ToUpper(id)] = proj4
}

func projDef(id string) (string, bool) {
	projMu.RLock()
	defer projMu.RUnlock()
	def, ok := projDefs[strings.ToUpper(id)]
	return def, ok
}

// IsGeographic reports whether a CRS id denotes a degree-based system.
func IsGeographic(id string) bool {
	if strings.EqualFold(id, WGS84) {
		return true
	}
	def, ok := projDef(id)
	return ok && strings.Contains(def, "+proj=longlat")
}

// GetTransform resolves a transform between two CRS ids. The identity and the
// internal Mercator <-> WGS84 pair are closed-form; everything else is
// delegated to the proj4 library.
func GetTransform(source, target string) (Transform, error) {
	if strings.EqualFold(source, target) {
		return func(p orb.Point) orb.Point { return p }, nil
	}

	if strings.EqualFold(source, WGS84) && strings.EqualFold(target, InternalMercator) {
		return mercmath.WGSToMercator, nil
	}
	if strings.EqualFold(source, InternalMercator) && strings.EqualFold(target, WGS84) {
		return mercmath.MercatorToWGS, nil
	}

	srcDef, ok := projDef(source)
	if !ok {
		return nil, fmt.Errorf("no projection definition for %q", source)
	}
	dstDef, ok := projDef(target)
	if !ok {
		return nil, fmt.Errorf("no projection definition for %q", target)
	}

	srcGeog := IsGeographic(source)
	dstGeog := IsGeographic(target)

	tr := func(p orb.Point) orb.Point {
		pts := []geometry.Point{{X: p[0], Y: p[1]}}
		if !srcGeog {
			proj4go.Inverse(srcDef, pts)
		}
		if !dstGeog {
			proj4go.Forwards(dstDef, pts)
		}
		return orb.Point{pts[0].X, pts[0].Y}
	}
	return tr, nil
}

// TransformBound maps a bound between CRS by sampling nPoints supporting
// points along each edge and taking the bound of the images. Edge sampling
// keeps non-linear projections from under-covering the true area.
func TransformBound(b orb.Bound, tr Transform, nPoints int) orb.Bound {
	if nPoints < 2 {
		nPoints = 2
	}

	var out orb.Bound
	first := true
	extend := func(p orb.Point) {
		q := tr(p)
		if first {
			out = orb.Bound{Min: q, Max: q}
			first = false
			return
		}
		if q[0] < out.Min[0] {
			out.Min[0] = q[0]
		}
		if q[1] < out.Min[1] {
			out.Min[1] = q[1]
		}
		if q[0] > out.Max[0] {
			out.Max[0] = q[0]
		}
		if q[1] > out.Max[1] {
			out.Max[1] = q[1]
		}
	}

	for i := 0; i < nPoints; i++ {
		f := float64(i) / float64(nPoints-1)
		x := b.Min[0] + f*(b.Max[0]-b.Min[0])
		y := b.Min[1] + f*(b.Max[1]-b.Min[1])

		extend(orb.Point{x, b.Min[1]})
		extend(orb.Point{x, b.Max[1]})
		extend(orb.Point{b.Min[0], y})
		extend(orb.Point{b.Max[0], y})
	}

	return out
}
