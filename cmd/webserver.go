/*
Copyright © 2023 mapknit authors
*/
package cmd

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	lrucache "github.com/hashicorp/golang-lru"

	"github.com/mapknit/mapknit/matrixset"
	"github.com/mapknit/mapknit/tileservice"
	"github.com/mapknit/mapknit/tilesource"
)

// webserverCmd represents the webserver command
var webserverCmd = &cobra.Command{
	Use:   "webserver",
	Short: "Reprojecting tile server",
	Long:  `Serves rendered map tiles and viewports over HTTP.`,
	Run:   mainCmd,
}

func init() {
	rootCmd.AddCommand(webserverCmd)

	webserverCmd.Flags().Int("port", 8000, "listen port")
	viper.BindPFlag("server.port", webserverCmd.Flags().Lookup("port"))

	viper.SetDefault("server.cache-entries", 500)
	viper.SetDefault("zoom.min", 1)
	viper.SetDefault("zoom.max", 19)
}

// tileServer couples the rendering service with a cache of encoded tiles.
type tileServer struct {
	svc       *tileservice.Service
	tileCache *lrucache.Cache
}

func newTileServer(svc *tileservice.Service, cacheEntries int) (*tileServer, error) {
	tileCache, err := lrucache.New(cacheEntries)
	if err != nil {
		return nil, err
	}
	t := tileServer{
		svc:       svc,
		tileCache: tileCache,
	}
	return &t, nil
}

func mainCmd(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	src, err := sourceFromConfig(ctx)
	if err != nil {
		log.Fatalf("source config: %v", err)
	}

	fetcher, err := fetcherFromConfig(src)
	if err != nil {
		log.Fatalf("source config: %v", err)
	}

	svc := tileservice.New(fetcher,
		tileservice.WithZoomRange(viper.GetInt("zoom.min"), viper.GetInt("zoom.max")))

	t, err := newTileServer(svc, viper.GetInt("server.cache-entries"))
	if err != nil {
		log.Fatalf("tile cache: %v", err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/tiles/{z}/{x}/{y}.png", t.tilesHandler)
	r.HandleFunc("/map", t.mapHandler)

	// Where ORIGIN_ALLOWED is like `scheme://dns[:port]`, or `*` (insecure)
	headersOk := handlers.AllowedHeaders([]string{"X-Requested-With", "content-type", "username", "password", "Referer"})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "PUT", "OPTIONS"})

	addr := fmt.Sprintf("0.0.0.0:%d", viper.GetInt("server.port"))
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, handlers.CORS(originsOk, headersOk, methodsOk)(r)))
}

func (h *tileServer) tilesHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	vars := mux.Vars(r)

	z, err := strconv.Atoi(vars["z"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(vars["x"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(vars["y"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("%d/%d/%d", z, x, y)

	var out []byte
	dt1 := time.Now()
	if obj, ok := h.tileCache.Get(key); ok {
		out, ok = obj.([]byte)
		if !ok {
			http.Error(w, "cache error", http.StatusInternalServerError)
			return
		}
		log.Printf("cache hit: %s, %d bytes in %v", key, len(out), time.Since(dt1))
	} else {
		out, err = h.svc.RenderTile(ctx, x, y, z)
		if err != nil {
			log.Printf("tile %s: %v", key, err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.tileCache.Add(key, out)
		log.Printf("rendered: %s, %d bytes in %v", key, len(out), time.Since(dt1))
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(out)
}

// mapHandler renders an arbitrary viewport:
// /map?bbox=minx,miny,maxx,maxy&width=800&height=600
func (h *tileServer) mapHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query()

	bound, err := parseBBox(q.Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	width, err := strconv.Atoi(q.Get("width"))
	if err != nil {
		http.Error(w, "bad width", http.StatusBadRequest)
		return
	}
	height, err := strconv.Atoi(q.Get("height"))
	if err != nil {
		http.Error(w, "bad height", http.StatusBadRequest)
		return
	}

	out, err := h.svc.RenderMap(ctx, bound, width, height)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(out)
}

// sourceFromConfig builds the configured map source. Supported types:
//
//	wms    bounding-box service, source.url with {minx}..{height} placeholders
//	tiled  HTTP tile pyramid, source.url with {z}/{x}/{y} placeholders
//	s3     tile pyramid in a bucket, source.bucket and source.key-template
func sourceFromConfig(ctx context.Context) (tilesource.Source, error) {
	typ := viper.GetString("source.type")
	crsID := viper.GetString("source.crs")
	url := viper.GetString("source.url")
	hook := hookFromConfig()

	switch typ {
	case "wms":
		src := tilesource.NewUntiledSource(crsID, url, hook)
		if c, ok := transparentFromConfig(); ok {
			src.SetTransparentColor(c)
		}
		return src, nil

	case "tiled":
		set, err := matrixSetFromConfig()
		if err != nil {
			return nil, err
		}
		getter := tilesource.NewHTTPTileGetter(url, hook)
		return tiledFromConfig(set, getter), nil

	case "s3":
		set, err := matrixSetFromConfig()
		if err != nil {
			return nil, err
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(viper.GetString("source.region")))
		if err != nil {
			return nil, err
		}
		getter, err := tilesource.NewS3TileGetter(s3.NewFromConfig(awsCfg),
			viper.GetString("source.bucket"), viper.GetString("source.key-template"))
		if err != nil {
			return nil, err
		}
		return tiledFromConfig(set, getter), nil
	}
	return nil, fmt.Errorf("unknown source type %q", typ)
}

func tiledFromConfig(set *matrixset.TileMatrixSet, getter tilesource.TileGetter) tilesource.Source {
	var opts []tilesource.TiledSourceOption
	if budget := viper.GetInt64("source.cache-budget"); budget > 0 {
		opts = append(opts, tilesource.WithCacheBudget(budget))
	}
	if c, ok := transparentFromConfig(); ok {
		opts = append(opts, tilesource.WithTransparentColor(c))
	}
	return tilesource.NewTiledSource(set, getter, opts...)
}

// matrixSetFromConfig loads the tile grid from WMTS capabilities when
// source.capabilities is set, otherwise it uses the internal scheme.
func matrixSetFromConfig() (*matrixset.TileMatrixSet, error) {
	capURL := viper.GetString("source.capabilities")
	if capURL == "" {
		return matrixset.InternalMercatorSet(viper.GetInt("zoom.min"), viper.GetInt("zoom.max"))
	}

	rc, err := openCapabilities(capURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return matrixset.LoadWMTSCapabilities(rc, viper.GetString("source.matrix-set"))
}

// openCapabilities reads a capabilities document from an http(s) URL or a
// local file path.
func openCapabilities(loc string) (io.ReadCloser, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(loc)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("capabilities %s: HTTP %d", loc, resp.StatusCode)
		}
		return resp.Body, nil
	}
	return os.Open(loc)
}

// fetcherFromConfig wraps the source, applying the coverage limits from
// source.limits ("minx,miny,maxx,maxy" in the source CRS) when configured.
func fetcherFromConfig(src tilesource.Source) (*tilesource.Fetcher, error) {
	spec := viper.GetString("source.limits")
	if spec == "" {
		return tilesource.NewFetcher(src), nil
	}
	limits, err := parseBBox(spec)
	if err != nil {
		return nil, fmt.Errorf("source.limits: %w", err)
	}
	return tilesource.NewFetcherWithLimits(src, limits), nil
}

// parseBBox parses a "minx,miny,maxx,maxy" string.
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox must be minx,miny,maxx,maxy")
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox component %q: %w", p, err)
		}
		vals[i] = v
	}
	return orb.Bound{
		Min: orb.Point{vals[0], vals[1]},
		Max: orb.Point{vals[2], vals[3]},
	}, nil
}

// hookFromConfig builds the per-request customization hook. source.headers
// is a map of header name to value added to every outgoing fetch.
func hookFromConfig() tilesource.RequestHook {
	headers := viper.GetStringMapString("source.headers")
	if len(headers) == 0 {
		return nil
	}
	return func(req *http.Request) {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}
}

// transparentFromConfig parses source.transparent as RRGGBB hex.
func transparentFromConfig() (color.NRGBA, bool) {
	return parseTransparent(viper.GetString("source.transparent"))
}

func parseTransparent(hex string) (color.NRGBA, bool) {
	if len(hex) != 6 {
		return color.NRGBA{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, false
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 255,
	}, true
}
