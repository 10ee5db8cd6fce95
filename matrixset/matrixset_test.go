package matrixset

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/mercmath"
)

const (
	epsilon = 0.000001
)

func mustMatrix(t *testing.T, id string, sd float64, topLeft orb.Point, w, h int) TileMatrix {
	t.Helper()
	tm, err := NewTileMatrix(id, sd, 1.0, topLeft, w, h, 256, 256)
	require.NoError(t, err)
	return tm
}

func Test_matrixGeometry(t *testing.T) {
	topLeft := orb.Point{-20000000, 20000000}
	tm := mustMatrix(t, "5", 1e6, topLeft, 4, 4)

	// pixelSpan = 1e6 * 0.28e-3 / 1 = 280
	assert.InDelta(t, 280.0, tm.PixelSpan(), epsilon)
	assert.InDelta(t, 280.0*256, tm.TileSpanX(), epsilon)

	br := tm.BottomRight()
	assert.Greater(t, br[0], topLeft[0])
	assert.Less(t, br[1], topLeft[1])

	b := tm.TileBound(0, 0)
	assert.InDelta(t, topLeft[0], b.Min[0], epsilon)
	assert.InDelta(t, topLeft[1], b.Max[1], epsilon)
	assert.InDelta(t, tm.TileSpanX(), mercmath.Width(b), epsilon)
}

func Test_matrixInvalidInputs(t *testing.T) {
	_, err := NewTileMatrix("bad", 0, 1.0, orb.Point{0, 0}, 1, 1, 256, 256)
	assert.Error(t, err)

	_, err = NewTileMatrix("bad", 1e6, 1.0, orb.Point{0, 0}, 0, 1, 256, 256)
	assert.Error(t, err)
}

func Test_selectTileMatrix(t *testing.T) {
	set := &TileMatrixSet{
		CRS: crs.InternalMercator,
		Matrices: []TileMatrix{
			mustMatrix(t, "coarse", 4e6, orb.Point{-20000000, 20000000}, 2, 2),
			mustMatrix(t, "mid", 1e6, orb.Point{-20000000, 20000000}, 8, 8),
			mustMatrix(t, "fine", 0.25e6, orb.Point{-20000000, 20000000}, 32, 32),
		},
	}

	// request whose meters-per-pixel matches the mid matrix exactly
	mid := set.Matrices[1]
	b := orb.Bound{
		Min: orb.Point{0, 0},
		Max: orb.Point{mid.TileSpanX(), mid.TileSpanY()},
	}
	got, ok := set.SelectTileMatrix(b, 256, 256)
	require.True(t, ok)
	assert.Equal(t, "mid", got.Identifier)

	// much coarser request picks the coarse matrix
	world := orb.Bound{Min: orb.Point{-2e7, -2e7}, Max: orb.Point{2e7, 2e7}}
	got, ok = set.SelectTileMatrix(world, 256, 256)
	require.True(t, ok)
	assert.Equal(t, "coarse", got.Identifier)
}

func Test_selectTileMatrixEmptySet(t *testing.T) {
	set := &TileMatrixSet{CRS: crs.InternalMercator}
	_, ok := set.SelectTileMatrix(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}, 256, 256)
	assert.False(t, ok)
}

func Test_selectTileMatrixSingle(t *testing.T) {
	set := &TileMatrixSet{
		CRS:      crs.InternalMercator,
		Matrices: []TileMatrix{mustMatrix(t, "only", 1e6, orb.Point{0, 0}, 1, 1)},
	}

	for _, span := range []float64{1.0, 1e3, 1e9} {
		got, ok := set.SelectTileMatrix(
			orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{span, span}}, 64, 64)
		require.True(t, ok)
		assert.Equal(t, "only", got.Identifier)
	}
}

func Test_selectTileMatrixTieBreak(t *testing.T) {
	// two matrices with identical zoom factor: first in order wins
	set := &TileMatrixSet{
		CRS: crs.InternalMercator,
		Matrices: []TileMatrix{
			mustMatrix(t, "first", 1e6, orb.Point{0, 0}, 4, 4),
			mustMatrix(t, "second", 1e6, orb.Point{-100, 100}, 8, 8),
		},
	}

	got, ok := set.SelectTileMatrix(
		orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1000, 1000}}, 256, 256)
	require.True(t, ok)
	assert.Equal(t, "first", got.Identifier)
}

func Test_tileRangeClamping(t *testing.T) {
	tm := mustMatrix(t, "5", 1e6, orb.Point{0, 0}, 4, 4)
	span := tm.TileSpanX()

	// covers tiles (0..1, 0..1)
	r, ok := tm.Range(orb.Bound{
		Min: orb.Point{span * 0.5, -span * 1.5},
		Max: orb.Point{span * 1.5, -span * 0.5},
	})
	require.True(t, ok)
	assert.Equal(t, TileRange{MinCol: 0, MaxCol: 1, MinRow: 0, MaxRow: 1}, r)

	// far outside the grid on the right
	_, ok = tm.Range(orb.Bound{
		Min: orb.Point{span * 10, -span},
		Max: orb.Point{span * 11, 0},
	})
	assert.False(t, ok)

	// request overshooting the grid clamps to the full matrix
	r, ok = tm.Range(orb.Bound{
		Min: orb.Point{-span * 2, -span * 10},
		Max: orb.Point{span * 10, span * 2},
	})
	require.True(t, ok)
	assert.Equal(t, TileRange{MinCol: 0, MaxCol: 3, MinRow: 0, MaxRow: 3}, r)
}

func Test_tileRangeConfiguredLimits(t *testing.T) {
	tm := mustMatrix(t, "5", 1e6, orb.Point{0, 0}, 8, 8)
	minCol, maxCol := 2, 5
	minRow, maxRow := 1, 20 // max beyond the grid: effective max stays 7
	tm.MinTileCol, tm.MaxTileCol = &minCol, &maxCol
	tm.MinTileRow, tm.MaxTileRow = &minRow, &maxRow

	r, ok := tm.Range(tm.Bound())
	require.True(t, ok)
	assert.Equal(t, TileRange{MinCol: 2, MaxCol: 5, MinRow: 1, MaxRow: 7}, r)
	assert.Equal(t, 4, r.Cols())
	assert.Equal(t, 7, r.Rows())
}

func Test_internalMercatorSet(t *testing.T) {
	set, err := InternalMercatorSet(1, 5)
	require.NoError(t, err)
	require.Len(t, set.Matrices, 5)

	// matrix geometry must reproduce the fixed internal tiling
	for z := 1; z <= 5; z++ {
		tm := set.Matrices[z-1]
		want := mercmath.TileToMercatorAtZoom(0, 0, z)
		got := tm.TileBound(0, 0)
		assert.InDelta(t, want.Min[0], got.Min[0], 0.01, "zoom %d", z)
		assert.InDelta(t, want.Max[1], got.Max[1], 0.01, "zoom %d", z)
		assert.InDelta(t, mercmath.Width(want), mercmath.Width(got), 0.01, "zoom %d", z)
	}
}

func Test_approximateBound(t *testing.T) {
	set, err := InternalMercatorSet(1, 3)
	require.NoError(t, err)

	// identity CRS: the approximated bound is the inflated union extent
	b, err := set.ApproximateBound(crs.InternalMercator, 8, 0)
	require.NoError(t, err)

	world := 2 * mercmath.EarthHalfCircumference
	assert.InDelta(t, world*1.025, mercmath.Width(b), 1.0)
	assert.InDelta(t, world*1.025, mercmath.Height(b), 1.0)
}

func Test_approximateBoundEmptySet(t *testing.T) {
	set := &TileMatrixSet{Identifier: "empty", CRS: crs.InternalMercator}
	_, err := set.ApproximateBound(crs.WGS84, 8, 0)
	assert.Error(t, err)
}

const capsDoc = `<?xml version="1.0" encoding="UTF-8"?>
<Capabilities xmlns="http://www.opengis.net/wmts/1.0" xmlns:ows="http://www.opengis.net/ows/1.1">
  <Contents>
    <TileMatrixSet>
      <ows:Identifier>grid25832</ows:Identifier>
      <ows:SupportedCRS>urn:ogc:def:crs:EPSG::25832</ows:SupportedCRS>
      <TileMatrix>
        <ows:Identifier>00</ows:Identifier>
        <ScaleDenominator>17471320.75089743</ScaleDenominator>
        <TopLeftCorner>-46133.17 6301219.54</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <TileHeight>256</TileHeight>
        <MatrixWidth>1</MatrixWidth>
        <MatrixHeight>1</MatrixHeight>
      </TileMatrix>
      <TileMatrix>
        <ows:Identifier>01</ows:Identifier>
        <ScaleDenominator>8735660.375448715</ScaleDenominator>
        <TopLeftCorner>-46133.17 6301219.54</TopLeftCorner>
        <TileWidth>256</TileWidth>
        <TileHeight>256</TileHeight>
        <MatrixWidth>2</MatrixWidth>
        <MatrixHeight>2</MatrixHeight>
      </TileMatrix>
    </TileMatrixSet>
  </Contents>
</Capabilities>`

func Test_loadWMTSCapabilities(t *testing.T) {
	set, err := LoadWMTSCapabilities(strings.NewReader(capsDoc), "grid25832")
	require.NoError(t, err)

	assert.Equal(t, "grid25832", set.Identifier)
	assert.Equal(t, "EPSG:25832", set.CRS)
	require.Len(t, set.Matrices, 2)

	tm := set.Matrices[0]
	assert.Equal(t, "00", tm.Identifier)
	assert.Equal(t, 1, tm.MatrixWidth)
	assert.InDelta(t, 17471320.75089743*0.28e-3, tm.PixelSpan(), epsilon)
	assert.InDelta(t, -46133.17, tm.TopLeft[0], epsilon)

	// level 01 halves the pixel span
	assert.InDelta(t, tm.PixelSpan()/2, set.Matrices[1].PixelSpan(), epsilon)
}

func Test_loadWMTSCapabilitiesFirstSet(t *testing.T) {
	set, err := LoadWMTSCapabilities(strings.NewReader(capsDoc), "")
	require.NoError(t, err)
	assert.Equal(t, "grid25832", set.Identifier)
}

func Test_loadWMTSCapabilitiesMissingSet(t *testing.T) {
	_, err := LoadWMTSCapabilities(strings.NewReader(capsDoc), "nope")
	assert.Error(t, err)
}

func Test_normalizeCRS(t *testing.T) {
	testData := []struct {
		in  string
		out string
	}{
		{"urn:ogc:def:crs:EPSG::25832", "EPSG:25832"},
		{"urn:ogc:def:crs:EPSG:6.18:3857", "EPSG:3857"},
		{"EPSG:4326", "EPSG:4326"},
		{"CRS:84", "CRS:84"},
	}
	for _, tst := range testData {
		assert.Equal(t, tst.out, normalizeCRS(tst.in))
	}
}
