// Package router holds the HTTP handlers of the navigation engine.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/geo"
	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/declutter"
	"github.com/mohammed-shakir/geonav-cache/internal/geoai"
	"github.com/mohammed-shakir/geonav-cache/internal/tiles"
	"github.com/mohammed-shakir/geonav-cache/internal/viewport"
)

const maxBodyBytes = 1 << 20

// Geo answers the location questions of the map front-end.
type Geo interface {
	Geocode(ctx context.Context, name string) (geoai.Result[model.Point], error)
	Directions(ctx context.Context, start, end model.Point, mode model.TravelMode) (geoai.Result[model.Route], error)
	Suggestions(ctx context.Context, query string) geoai.Result[[]string]
	Assistant(ctx context.Context, query string, at *model.Point) (geoai.Result[string], error)
}

type Tiles interface {
	Layers() []tiles.Layer
	Fetch(ctx context.Context, layer string, z, x, y int) (tiles.Tile, error)
}

// Activator purges cache tiers left over from earlier versions.
type Activator interface {
	Activate(ctx context.Context) ([]string, error)
}

type Sessions interface {
	Publish(id string, seq uint64, vp model.Viewport) bool
	Get(id string) (*viewport.Coordinator, bool)
}

type API struct {
	log      *slog.Logger
	geo      Geo
	tiles    Tiles
	cache    Activator
	sessions Sessions
}

func New(log *slog.Logger, g Geo, t Tiles, c Activator, s Sessions) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{log: log, geo: g, tiles: t, cache: c, sessions: s}
}

// Mount registers every engine route on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/tiles", a.HandleLayers)
	r.Get("/tiles/{layer}/{z}/{x}/{y}", a.HandleTile)
	r.Route("/api", func(r chi.Router) {
		r.Post("/geocode", a.HandleGeocode)
		r.Post("/directions", a.HandleDirections)
		r.Post("/suggest", a.HandleSuggest)
		r.Post("/assistant", a.HandleAssistant)
	})
	r.Post("/viewport", a.HandleViewport)
	r.Get("/pois", a.HandlePOIs)
	r.Post("/cache/activate", a.HandleActivate)
}

func (a *API) HandleLayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.tiles.Layers())
}

func (a *API) HandleTile(w http.ResponseWriter, r *http.Request) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	// the y segment may carry an image extension
	yRaw, _, _ := strings.Cut(chi.URLParam(r, "y"), ".")
	y, errY := strconv.Atoi(yRaw)
	if err := errors.Join(errZ, errX, errY); err != nil {
		a.writeError(w, r, apperr.Invalid("tile address: %v", err))
		return
	}

	tile, err := a.tiles.Fetch(r.Context(), chi.URLParam(r, "layer"), z, x, y)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if tile.ContentType != "" {
		w.Header().Set("Content-Type", tile.ContentType)
	}
	if tile.CacheStatus != "" {
		w.Header().Set("Cache-Status", tile.CacheStatus)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(tile.Data)
}

type geocodeRequest struct {
	Query string `json:"query"`
}

func (a *API) HandleGeocode(w http.ResponseWriter, r *http.Request) {
	var in geocodeRequest
	if !a.decode(w, r, &in) {
		return
	}
	res, err := a.geo.Geocode(r.Context(), in.Query)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type directionsRequest struct {
	Start model.Point      `json:"start"`
	End   model.Point      `json:"end"`
	Mode  model.TravelMode `json:"mode"`
}

func (a *API) HandleDirections(w http.ResponseWriter, r *http.Request) {
	var in directionsRequest
	if !a.decode(w, r, &in) {
		return
	}
	res, err := a.geo.Directions(r.Context(), in.Start, in.End, in.Mode)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	var in geocodeRequest
	if !a.decode(w, r, &in) {
		return
	}
	writeJSON(w, http.StatusOK, a.geo.Suggestions(r.Context(), in.Query))
}

type assistantRequest struct {
	Query    string       `json:"query"`
	Location *model.Point `json:"location,omitempty"`
}

func (a *API) HandleAssistant(w http.ResponseWriter, r *http.Request) {
	var in assistantRequest
	if !a.decode(w, r, &in) {
		return
	}
	res, err := a.geo.Assistant(r.Context(), in.Query, in.Location)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ViewportRequest is one map move reported by a client.
type ViewportRequest struct {
	Session string       `json:"session,omitempty"`
	Seq     uint64       `json:"seq,omitempty"`
	Bounds  model.Bounds `json:"bounds"`
	Zoom    int          `json:"zoom"`
}

type viewportResponse struct {
	Session string `json:"session"`
	Applied bool   `json:"applied"`
	State   string `json:"state"`
}

func (a *API) HandleViewport(w http.ResponseWriter, r *http.Request) {
	var in ViewportRequest
	if !a.decode(w, r, &in) {
		return
	}
	if err := in.Bounds.Validate(); err != nil {
		a.writeError(w, r, apperr.Invalid("%v", err))
		return
	}
	if in.Zoom < tiles.MinZoom || in.Zoom > tiles.MaxZoom {
		a.writeError(w, r, apperr.Invalid("zoom %d outside %d..%d", in.Zoom, tiles.MinZoom, tiles.MaxZoom))
		return
	}
	if in.Session == "" {
		in.Session = uuid.NewString()
	}

	applied := a.sessions.Publish(in.Session, in.Seq, model.Viewport{
		Bounds:    in.Bounds,
		Zoom:      in.Zoom,
		Projector: geo.NewProjection(in.Bounds, in.Zoom),
	})
	out := viewportResponse{Session: in.Session, Applied: applied}
	if c, ok := a.sessions.Get(in.Session); ok {
		out.State = c.State().String()
	}
	writeJSON(w, http.StatusAccepted, out)
}

type poisResponse struct {
	Session string             `json:"session"`
	State   string             `json:"state"`
	Total   int                `json:"total"`
	Visible []declutter.Placed `json:"visible"`
}

func (a *API) HandlePOIs(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session"))
	if id == "" {
		a.writeError(w, r, apperr.Invalid("missing required parameter: session"))
		return
	}
	c, ok := a.sessions.Get(id)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	visible := c.Visible()
	if visible == nil {
		visible = []declutter.Placed{}
	}
	writeJSON(w, http.StatusOK, poisResponse{
		Session: id,
		State:   c.State().String(),
		Total:   len(c.Points()),
		Visible: visible,
	})
}

func (a *API) HandleActivate(w http.ResponseWriter, r *http.Request) {
	purged, err := a.cache.Activate(r.Context())
	if purged == nil {
		purged = []string{}
	}
	if err != nil {
		a.log.ErrorContext(r.Context(), "cache activate", "err", err, "purged", purged)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"purged": purged, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": purged})
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		a.writeError(w, r, apperr.Invalid("request body: %v", err))
		return false
	}
	return true
}

type errorBody struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline,omitempty"`
}

// writeError maps the error taxonomy onto status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var unavailable *apperr.UnavailableError
	code := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.As(err, &unavailable):
		code = http.StatusServiceUnavailable
		body = errorBody{Error: unavailable.Message, Offline: true}
	case errors.Is(err, apperr.ErrConfiguration):
		code = http.StatusServiceUnavailable
	case errors.Is(err, apperr.ErrCanceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrMalformedResponse), errors.Is(err, apperr.ErrTransport):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		a.log.WarnContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
