package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/geoai"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
	"github.com/mohammed-shakir/geonav-cache/internal/tiles"
	"github.com/mohammed-shakir/geonav-cache/internal/viewport"
)

type fakeGeo struct {
	err     error
	offline bool
}

func (f *fakeGeo) Geocode(_ context.Context, name string) (geoai.Result[model.Point], error) {
	if f.err != nil {
		return geoai.Result[model.Point]{}, f.err
	}
	if name == "" {
		return geoai.Result[model.Point]{}, apperr.Invalid("empty query")
	}
	return geoai.Result[model.Point]{Value: model.Point{Lat: -15.4, Lng: 28.3}, Offline: f.offline}, nil
}

func (f *fakeGeo) Directions(_ context.Context, start, end model.Point, mode model.TravelMode) (geoai.Result[model.Route], error) {
	if !mode.Valid() {
		return geoai.Result[model.Route]{}, apperr.Invalid("mode %q", mode)
	}
	return geoai.Result[model.Route]{Value: model.Route{ETA: "5 min", Polyline: []model.Point{start, end}}}, nil
}

func (f *fakeGeo) Suggestions(context.Context, string) geoai.Result[[]string] {
	return geoai.Result[[]string]{Value: []string{"Lusaka", "Livingstone"}}
}

func (f *fakeGeo) Assistant(_ context.Context, q string, _ *model.Point) (geoai.Result[string], error) {
	return geoai.Result[string]{Value: "answer to " + q}, nil
}

type fakeTiles struct{ err error }

func (f fakeTiles) Layers() []tiles.Layer { return tiles.DefaultLayers() }

func (f fakeTiles) Fetch(_ context.Context, layer string, z, x, y int) (tiles.Tile, error) {
	if f.err != nil {
		return tiles.Tile{}, f.err
	}
	if err := tiles.Validate(z, x, y); err != nil {
		return tiles.Tile{}, err
	}
	return tiles.Tile{Data: []byte("png:" + layer), ContentType: "image/png", CacheStatus: "geonav; hit"}, nil
}

type fakeActivator struct{ purged []string }

func (f fakeActivator) Activate(context.Context) ([]string, error) { return f.purged, nil }

type staticFetcher []model.POI

func (s staticFetcher) FetchPOIs(context.Context, model.Bounds) ([]model.POI, error) { return s, nil }

func newTestServer(t *testing.T, g Geo, tl Tiles) http.Handler {
	t.Helper()
	pois := staticFetcher{
		{ID: "1", Name: "Airport", Category: model.CategoryAirport, Lat: -15.39, Lng: 28.32},
		{ID: "2", Name: "Stop", Category: model.CategoryBusStop, Lat: -15.39, Lng: 28.33},
	}
	cfg := viewport.DefaultConfig()
	cfg.Debounce = time.Millisecond
	reg := viewport.NewRegistry(8, func(id string) *viewport.Coordinator {
		return viewport.New(pois, cfg,
			viewport.WithSession(id),
			viewport.WithRetrier(retry.New(retry.Config{Attempts: 1, Factor: 1})))
	})
	t.Cleanup(reg.Close)

	api := New(slog.New(slog.NewTextHandler(io.Discard, nil)), g, tl, fakeActivator{purged: []string{"tile-cache-v0"}}, reg)
	r := chi.NewRouter()
	api.Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, rd))
	return rr
}

func TestTile_ServesBytesAndCacheStatus(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})

	rr := do(t, h, http.MethodGet, "/tiles/light/3/1/2.png", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "png:light" || rr.Header().Get("Cache-Status") != "geonav; hit" {
		t.Fatalf("body=%q cache-status=%q", rr.Body.String(), rr.Header().Get("Cache-Status"))
	}

	if rr := do(t, h, http.MethodGet, "/tiles/light/3/9/2", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("out-of-grid status=%d want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/tiles/light/z/1/2", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric status=%d want 400", rr.Code)
	}
}

func TestTile_UpstreamFailureIsBadGateway(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{err: apperr.Transport("status 500")})
	if rr := do(t, h, http.MethodGet, "/tiles/dark/1/0/0", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
}

func TestGeocode(t *testing.T) {
	h := newTestServer(t, &fakeGeo{offline: true}, fakeTiles{})

	rr := do(t, h, http.MethodPost, "/api/geocode", `{"query":"Lusaka"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var out geoai.Result[model.Point]
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Value.Lat != -15.4 || !out.Offline {
		t.Fatalf("got %+v", out)
	}

	if rr := do(t, h, http.MethodPost, "/api/geocode", `{"query":""}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty query status=%d want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/geocode", `{"q":"x"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d want 400", rr.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&apperr.UnavailableError{Message: "offline"}, http.StatusServiceUnavailable},
		{apperr.Configuration("missing key"), http.StatusServiceUnavailable},
		{apperr.Malformed("bad json"), http.StatusBadGateway},
		{apperr.Transport("down"), http.StatusBadGateway},
		{apperr.ErrCanceled, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		h := newTestServer(t, &fakeGeo{err: tc.err}, fakeTiles{})
		rr := do(t, h, http.MethodPost, "/api/geocode", `{"query":"x"}`)
		if rr.Code != tc.want {
			t.Fatalf("%v: status=%d want %d", tc.err, rr.Code, tc.want)
		}
	}

	h := newTestServer(t, &fakeGeo{err: &apperr.UnavailableError{Message: "You are offline"}}, fakeTiles{})
	rr := do(t, h, http.MethodPost, "/api/geocode", `{"query":"x"}`)
	if !strings.Contains(rr.Body.String(), `"offline":true`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestDirectionsSuggestAssistant(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})

	body := `{"start":{"lat":1,"lng":2},"end":{"lat":3,"lng":4},"mode":"walk"}`
	if rr := do(t, h, http.MethodPost, "/api/directions", body); rr.Code != http.StatusOK {
		t.Fatalf("directions status=%d", rr.Code)
	}
	bad := `{"start":{"lat":1,"lng":2},"end":{"lat":3,"lng":4},"mode":"fly"}`
	if rr := do(t, h, http.MethodPost, "/api/directions", bad); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad mode status=%d want 400", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/api/suggest", `{"query":"Lu"}`); !strings.Contains(rr.Body.String(), "Livingstone") {
		t.Fatalf("suggest body=%s", rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/assistant", `{"query":"where","location":{"lat":1,"lng":1}}`); !strings.Contains(rr.Body.String(), "answer to where") {
		t.Fatalf("assistant body=%s", rr.Body.String())
	}
}

func TestViewportThenPOIs(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})

	req := ViewportRequest{
		Seq: 1,
		Bounds: model.Bounds{
			SouthWest: model.Point{Lat: -15.40, Lng: 28.30},
			NorthEast: model.Point{Lat: -15.38, Lng: 28.34},
		},
		Zoom: 14,
	}
	b, _ := json.Marshal(req)
	rr := do(t, h, http.MethodPost, "/viewport", string(b))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var vr viewportResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &vr); err != nil {
		t.Fatal(err)
	}
	if vr.Session == "" || !vr.Applied {
		t.Fatalf("viewport response %+v", vr)
	}

	// same seq again is stale
	req.Session = vr.Session
	b, _ = json.Marshal(req)
	rr = do(t, h, http.MethodPost, "/viewport", string(b))
	_ = json.Unmarshal(rr.Body.Bytes(), &vr)
	if vr.Applied {
		t.Fatal("repeated seq must not apply")
	}

	var out poisResponse
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr = do(t, h, http.MethodGet, "/pois?session="+vr.Session, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("pois status=%d", rr.Code)
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		if out.Total > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if out.Total != 2 {
		t.Fatalf("total=%d want 2", out.Total)
	}
	// the bus stop needs zoom 16
	if len(out.Visible) != 1 || out.Visible[0].ID != "1" {
		t.Fatalf("visible=%+v want only the airport", out.Visible)
	}
}

func TestViewport_Rejects(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})
	bad := []string{
		`{"bounds":{"south_west":{"lat":1,"lng":1},"north_east":{"lat":0,"lng":2}},"zoom":14}`,
		`{"bounds":{"south_west":{"lat":0,"lng":1},"north_east":{"lat":1,"lng":2}},"zoom":40}`,
		`not json`,
	}
	for _, body := range bad {
		if rr := do(t, h, http.MethodPost, "/viewport", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", body, rr.Code)
		}
	}
}

func TestPOIs_UnknownSession(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})
	if rr := do(t, h, http.MethodGet, "/pois?session=nope", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/pois", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestActivateAndLayers(t *testing.T) {
	h := newTestServer(t, &fakeGeo{}, fakeTiles{})
	rr := do(t, h, http.MethodPost, "/cache/activate", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "tile-cache-v0") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/tiles", "")
	var layers []tiles.Layer
	if err := json.NewDecoder(bytes.NewReader(rr.Body.Bytes())).Decode(&layers); err != nil || len(layers) != 3 {
		t.Fatalf("layers=%v err=%v", layers, err)
	}
}
