/*
Copyright © 2023 mapknit authors
*/

// Package matrixset models WMTS-style tile matrix sets: per-zoom tile grids
// whose geometry derives from a scale denominator, plus selection of the
// grid best matching a requested viewport.
package matrixset

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/mercmath"
)

// standardizedRenderingPixel is the OGC pixel size used to derive cell sizes
// from scale denominators (0.28 mm).
const standardizedRenderingPixel = 0.28e-3

// degreeMetersPerUnit is the meter length of one degree on the WGS84 equator.
const degreeMetersPerUnit = math.Pi * 6378137.0 / 180.0

// TileMatrix is one zoom level's grid definition. Immutable after
// construction.
type TileMatrix struct {
	Identifier   string
	MatrixWidth  int
	MatrixHeight int
	TileWidthPx  int
	TileHeightPx int
	TopLeft      orb.Point

	// optional index clamps; nil means unrestricted on that side
	MinTileCol *int
	MaxTileCol *int
	MinTileRow *int
	MaxTileRow *int

	pixelSpan   float64
	bottomRight orb.Point
}

// NewTileMatrix derives a matrix geometry from its scale denominator:
// pixelSpan = scaleDenominator * 0.28e-3 / metersPerUnit.
func NewTileMatrix(identifier string, scaleDenominator, metersPerUnit float64,
	topLeft orb.Point, matrixWidth, matrixHeight, tileWidthPx, tileHeightPx int) (TileMatrix, error) {

	if scaleDenominator <= 0 || metersPerUnit <= 0 {
		return TileMatrix{}, fmt.Errorf("tile matrix %q: non-positive scale", identifier)
	}
	if matrixWidth < 1 || matrixHeight < 1 || tileWidthPx < 1 || tileHeightPx < 1 {
		return TileMatrix{}, fmt.Errorf("tile matrix %q: degenerate dimensions", identifier)
	}

	pixelSpan := scaleDenominator * standardizedRenderingPixel / metersPerUnit

	tm := TileMatrix{
		Identifier:   identifier,
		MatrixWidth:  matrixWidth,
		MatrixHeight: matrixHeight,
		TileWidthPx:  tileWidthPx,
		TileHeightPx: tileHeightPx,
		TopLeft:      topLeft,
		pixelSpan:    pixelSpan,
	}
	tm.bottomRight = orb.Point{
		topLeft[0] + float64(matrixWidth)*tm.TileSpanX(),
		topLeft[1] - float64(matrixHeight)*tm.TileSpanY(),
	}
	return tm, nil
}

// PixelSpan returns the CRS units covered by one pixel.
func (tm *TileMatrix) PixelSpan() float64 { return tm.pixelSpan }

// TileSpanX returns the CRS units covered by one tile horizontally.
func (tm *TileMatrix) TileSpanX() float64 { return float64(tm.TileWidthPx) * tm.pixelSpan }

// TileSpanY returns the CRS units covered by one tile vertically.
func (tm *TileMatrix) TileSpanY() float64 { return float64(tm.TileHeightPx) * tm.pixelSpan }

// BottomRight returns the derived lower-right corner of the grid.
func (tm *TileMatrix) BottomRight() orb.Point { return tm.bottomRight }

// Bound returns the full extent of the grid.
func (tm *TileMatrix) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{tm.TopLeft[0], tm.bottomRight[1]},
		Max: orb.Point{tm.bottomRight[0], tm.TopLeft[1]},
	}
}

// TileBound returns the extent of the tile at (col, row); row 0 is the top.
func (tm *TileMatrix) TileBound(col, row int) orb.Bound {
	minX := tm.TopLeft[0] + float64(col)*tm.TileSpanX()
	maxY := tm.TopLeft[1] - float64(row)*tm.TileSpanY()
	return orb.Bound{
		Min: orb.Point{minX, maxY - tm.TileSpanY()},
		Max: orb.Point{minX + tm.TileSpanX(), maxY},
	}
}

// ZoomFactor is the matrix resolution as the Euclidean norm of CRS units per
// pixel along each axis, comparable to mercmath.ZoomFactor of a request.
func (tm *TileMatrix) ZoomFactor() float64 {
	dx := tm.TileSpanX() / float64(tm.TileWidthPx)
	dy := tm.TileSpanY() / float64(tm.TileHeightPx)
	return math.Sqrt(dx*dx + dy*dy)
}

// TileRange is an inclusive rectangle of tile indices.
type TileRange struct {
	MinCol, MaxCol int
	MinRow, MaxRow int
}

// Cols returns the number of columns in the range.
func (r TileRange) Cols() int { return r.MaxCol - r.MinCol + 1 }

// Rows returns the number of rows in the range.
func (r TileRange) Rows() int { return r.MaxRow - r.MinRow + 1 }

// Range computes the tile indices covering a bound, clamped to the matrix
// dimensions and the optional configured index limits. ok is false when the
// clamped range is empty.
func (tm *TileMatrix) Range(b orb.Bound) (TileRange, bool) {
	minCol := int(math.Floor((b.Min[0] - tm.TopLeft[0]) / tm.TileSpanX()))
	maxCol := int(math.Ceil((b.Max[0]-tm.TopLeft[0])/tm.TileSpanX())) - 1
	minRow := int(math.Floor((tm.TopLeft[1] - b.Max[1]) / tm.TileSpanY()))
	maxRow := int(math.Ceil((tm.TopLeft[1]-b.Min[1])/tm.TileSpanY())) - 1

	loCol, hiCol := tm.colLimits()
	loRow, hiRow := tm.rowLimits()

	r := TileRange{
		MinCol: clampInt(minCol, loCol, hiCol),
		MaxCol: clampInt(maxCol, loCol, hiCol),
		MinRow: clampInt(minRow, loRow, hiRow),
		MaxRow: clampInt(maxRow, loRow, hiRow),
	}

	if maxCol < loCol || minCol > hiCol || maxRow < loRow || minRow > hiRow {
		return r, false
	}
	return r, true
}

// colLimits resolves the effective column bounds:
// max(0, configured) .. min(width-1, configured).
func (tm *TileMatrix) colLimits() (int, int) {
	lo, hi := 0, tm.MatrixWidth-1
	if tm.MinTileCol != nil && *tm.MinTileCol > lo {
		lo = *tm.MinTileCol
	}
	if tm.MaxTileCol != nil && *tm.MaxTileCol < hi {
		hi = *tm.MaxTileCol
	}
	return lo, hi
}

func (tm *TileMatrix) rowLimits() (int, int) {
	lo, hi := 0, tm.MatrixHeight-1
	if tm.MinTileRow != nil && *tm.MinTileRow > lo {
		lo = *tm.MinTileRow
	}
	if tm.MaxTileRow != nil && *tm.MaxTileRow < hi {
		hi = *tm.MaxTileRow
	}
	return lo, hi
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TileMatrixSet is an ordered collection of tile matrices sharing one CRS.
// Built once at configuration time, read-only afterwards.
type TileMatrixSet struct {
	Identifier string
	CRS        string
	Matrices   []TileMatrix
}

// SelectTileMatrix picks the matrix whose zoom factor is closest to the
// requested viewport's. Exact ties resolve to the first matrix in collection
// order. ok is false only for an empty set.
func (s *TileMatrixSet) SelectTileMatrix(b orb.Bound, pxWidth, pxHeight int) (*TileMatrix, bool) {
	if len(s.Matrices) == 0 {
		return nil, false
	}

	want := mercmath.ZoomFactor(b, pxWidth, pxHeight)

	best := 0
	bestDist := math.Abs(s.Matrices[0].ZoomFactor() - want)
	for i := 1; i < len(s.Matrices); i++ {
		d := math.Abs(s.Matrices[i].ZoomFactor() - want)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return &s.Matrices[best], true
}

// defaultResizeFactor inflates approximated coverage as a safety margin
// against sampling error.
const defaultResizeFactor = 1.025

// ApproximateBound reprojects the union extent of all matrices into
// targetCRS by sampling nPoints supporting points along each edge and
// inflating the result by resizeFactor (<=0 selects the 1.025 default).
func (s *TileMatrixSet) ApproximateBound(targetCRS string, nPoints int, resizeFactor float64) (orb.Bound, error) {
	if len(s.Matrices) == 0 {
		return orb.Bound{}, fmt.Errorf("tile matrix set %q is empty", s.Identifier)
	}
	if resizeFactor <= 0 {
		resizeFactor = defaultResizeFactor
	}

	union := s.Matrices[0].Bound()
	for i := 1; i < len(s.Matrices); i++ {
		b := s.Matrices[i].Bound()
		union = orb.Bound{
			Min: orb.Point{math.Min(union.Min[0], b.Min[0]), math.Min(union.Min[1], b.Min[1])},
			Max: orb.Point{math.Max(union.Max[0], b.Max[0]), math.Max(union.Max[1], b.Max[1])},
		}
	}

	tr, err := crs.GetTransform(s.CRS, targetCRS)
	if err != nil {
		return orb.Bound{}, err
	}

	out := crs.TransformBound(union, tr, nPoints)
	return mercmath.Inflate(out, resizeFactor), nil
}

// MetersPerUnit returns the meter length of one CRS unit: 1 for projected
// systems, the equatorial degree length for geographic ones.
func MetersPerUnit(crsID string) float64 {
	if crs.IsGeographic(crsID) {
		return degreeMetersPerUnit
	}
	return 1.0
}

// InternalMercatorSet builds the matrix set of the fixed internal tiling
// scheme for the given zoom levels, inverting the scale denominator formula
// so that each matrix reproduces mercmath.TileToMercatorAtZoom geometry.
func InternalMercatorSet(minZoom, maxZoom int) (*TileMatrixSet, error) {
	if minZoom < 1 {
		minZoom = 1
	}
	if maxZoom < minZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d", minZoom, maxZoom)
	}

	topLeft := orb.Point{-mercmath.EarthHalfCircumference, mercmath.EarthHalfCircumference}

	set := TileMatrixSet{
		Identifier: "internal-mercator",
		CRS:        crs.InternalMercator,
	}
	for z := minZoom; z <= maxZoom; z++ {
		n := 1 << (z - 1)
		tileSpan := 2.0 * mercmath.EarthHalfCircumference / float64(n)
		pixelSpan := tileSpan / float64(mercmath.TileSizePx)
		sd := pixelSpan / standardizedRenderingPixel

		tm, err := NewTileMatrix(fmt.Sprintf("%d", z), sd, 1.0, topLeft, n, n,
			mercmath.TileSizePx, mercmath.TileSizePx)
		if err != nil {
			return nil, err
		}
		set.Matrices = append(set.Matrices, tm)
	}
	return &set, nil
}
