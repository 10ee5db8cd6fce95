package cmd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapknit/mapknit/crs"
	"github.com/mapknit/mapknit/tileservice"
	"github.com/mapknit/mapknit/tilesource"
)

type fakeSource struct {
	renders int32
}

func (s *fakeSource) CRS() string { return crs.InternalMercator }

func (s *fakeSource) Render(ctx context.Context, bound orb.Bound, w, h int) tilesource.Rendering {
	atomic.AddInt32(&s.renders, 1)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+1] = 180
		img.Pix[i+3] = 255
	}
	return tilesource.Rendering{Image: img, Bound: bound}
}

func newTestServer(t *testing.T) (*tileServer, *fakeSource) {
	t.Helper()
	src := &fakeSource{}
	svc := tileservice.New(tilesource.NewFetcher(src))
	ts, err := newTileServer(svc, 10)
	require.NoError(t, err)
	return ts, src
}

func testRouter(ts *tileServer) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/tiles/{z}/{x}/{y}.png", ts.tilesHandler)
	r.HandleFunc("/map", ts.mapHandler)
	return r
}

func Test_tilesHandler(t *testing.T) {
	ts, src := newTestServer(t)
	r := testRouter(ts)

	req := httptest.NewRequest("GET", "/tiles/2/1/0.png", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.NotZero(t, w.Body.Len())
	firstRenders := atomic.LoadInt32(&src.renders)
	assert.NotZero(t, firstRenders)

	// second request is served from the encoded-tile cache
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/tiles/2/1/0.png", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, firstRenders, atomic.LoadInt32(&src.renders))
}

func Test_tilesHandlerRejectsBadAddress(t *testing.T) {
	ts, _ := newTestServer(t)
	r := testRouter(ts)

	for _, path := range []string{
		"/tiles/abc/1/0.png",
		"/tiles/2/9/0.png", // column beyond the zoom-2 grid
		"/tiles/99/0/0.png",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func Test_mapHandler(t *testing.T) {
	ts, _ := newTestServer(t)
	r := testRouter(ts)

	url := fmt.Sprintf("/map?bbox=%d,%d,%d,%d&width=320&height=240", 0, 0, 1000000, 750000)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", url, nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
}

func Test_mapHandlerValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	r := testRouter(ts)

	for _, url := range []string{
		"/map?bbox=1,2,3&width=100&height=100",
		"/map?bbox=0,0,100,100&width=x&height=100",
		"/map?bbox=0,0,100,100&width=100",
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", url, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, url)
	}
}

func Test_parseBBox(t *testing.T) {
	b, err := parseBBox("-10.5, 0 ,20,30")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{-10.5, 0}, Max: orb.Point{20, 30}}, b)

	_, err = parseBBox("1,2,3")
	assert.Error(t, err)

	_, err = parseBBox("1,2,3,x")
	assert.Error(t, err)
}

func Test_fetcherFromConfig(t *testing.T) {
	src := &fakeSource{}

	viper.Set("source.limits", "")
	f, err := fetcherFromConfig(src)
	require.NoError(t, err)
	require.NotNil(t, f)

	// fetch outside the configured coverage never reaches the source
	viper.Set("source.limits", "0,0,5000,5000")
	defer viper.Set("source.limits", "")
	f, err = fetcherFromConfig(src)
	require.NoError(t, err)

	outside := orb.Bound{Min: orb.Point{1000000, 1000000}, Max: orb.Point{2000000, 2000000}}
	f.Fetch(context.Background(), outside, 128, 128, 0)
	assert.Zero(t, atomic.LoadInt32(&src.renders))

	viper.Set("source.limits", "not,a,bbox")
	_, err = fetcherFromConfig(src)
	assert.Error(t, err)
}

func Test_transparentFromConfig(t *testing.T) {
	c, ok := parseTransparent("FFFEB9")
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{255, 254, 185, 255}, c)

	_, ok = parseTransparent("")
	assert.False(t, ok)

	_, ok = parseTransparent("nothex")
	assert.False(t, ok)
}
