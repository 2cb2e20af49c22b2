// Package tiles fetches map tile imagery for the configured base layers.
// Requests go through the resource cache, so tiles seen once stay
// available offline.
package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
	"github.com/mohammed-shakir/geonav-cache/internal/core/observability"
)

const (
	MinZoom = 0
	MaxZoom = 20

	maxTileBytes = 4 << 20
)

// Layer is one base map style.
type Layer struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	// URL template with {s}, {z}, {x}, {y} and optionally {r} placeholders.
	URL         string   `json:"url" yaml:"url"`
	Subdomains  []string `json:"subdomains,omitempty" yaml:"subdomains"`
	Attribution string   `json:"attribution" yaml:"attribution"`
}

func DefaultLayers() []Layer {
	return []Layer{
		{
			ID:          "light",
			Name:        "Light",
			URL:         "https://{s}.basemaps.cartocdn.com/light_all/{z}/{x}/{y}{r}.png",
			Subdomains:  []string{"a", "b", "c", "d"},
			Attribution: "© OpenStreetMap contributors © CARTO",
		},
		{
			ID:          "dark",
			Name:        "Dark",
			URL:         "https://{s}.basemaps.cartocdn.com/dark_all/{z}/{x}/{y}{r}.png",
			Subdomains:  []string{"a", "b", "c", "d"},
			Attribution: "© OpenStreetMap contributors © CARTO",
		},
		{
			ID:          "satellite",
			Name:        "Satellite",
			URL:         "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
			Attribution: "Tiles © Esri",
		},
	}
}

// Tile is a fetched image.
type Tile struct {
	Data        []byte
	ContentType string
	// CacheStatus is the Cache-Status header the cache attached, if any.
	CacheStatus string
}

type Client struct {
	hc     *http.Client
	layers map[string]Layer
	order  []string
	retina bool
}

type Option func(*Client)

// WithRetina requests @2x tiles from layers that support it.
func WithRetina(on bool) Option {
	return func(c *Client) { c.retina = on }
}

func New(hc *http.Client, layers []Layer, opts ...Option) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if len(layers) == 0 {
		layers = DefaultLayers()
	}
	c := &Client{hc: hc, layers: make(map[string]Layer, len(layers))}
	for _, l := range layers {
		if _, dup := c.layers[l.ID]; !dup {
			c.order = append(c.order, l.ID)
		}
		c.layers[l.ID] = l
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Layers lists the configured layers in declaration order.
func (c *Client) Layers() []Layer {
	out := make([]Layer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.layers[id])
	}
	return out
}

// Validate checks a tile address.
func Validate(z, x, y int) error {
	if z < MinZoom || z > MaxZoom {
		return apperr.Invalid("zoom %d outside %d..%d", z, MinZoom, MaxZoom)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return apperr.Invalid("tile %d/%d/%d outside the grid", z, x, y)
	}
	return nil
}

// URL expands the layer template for one tile.
func (c *Client) URL(layer string, z, x, y int) (string, error) {
	l, ok := c.layers[layer]
	if !ok {
		return "", apperr.Invalid("unknown layer %q", layer)
	}
	if err := Validate(z, x, y); err != nil {
		return "", err
	}

	sub := ""
	if len(l.Subdomains) > 0 {
		sub = l.Subdomains[(x+y)%len(l.Subdomains)]
	}
	r := ""
	if c.retina {
		r = "@2x"
	}
	return strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{r}", r,
	).Replace(l.URL), nil
}

// Fetch returns the tile image. Non-200 answers are transport errors; the
// map shows a blank tile for them.
func (c *Client) Fetch(ctx context.Context, layer string, z, x, y int) (Tile, error) {
	u, err := c.URL(layer, z, x, y)
	if err != nil {
		return Tile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Tile{}, fmt.Errorf("build tile request: %w", err)
	}

	start := time.Now()
	res, err := c.hc.Do(req)
	observability.ObserveUpstreamLatency("tiles_"+layer, time.Since(start).Seconds())
	if err != nil {
		return Tile{}, fmt.Errorf("fetch tile %s %d/%d/%d: %w", layer, z, x, y, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, res.Body)
		return Tile{}, apperr.Transport("tile %s %d/%d/%d: status %d", layer, z, x, y, res.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, maxTileBytes+1))
	if err != nil {
		return Tile{}, apperr.Transport("read tile: %v", err)
	}
	if len(data) > maxTileBytes {
		return Tile{}, apperr.Transport("tile %s %d/%d/%d: larger than %d bytes", layer, z, x, y, maxTileBytes)
	}
	return Tile{
		Data:        data,
		ContentType: res.Header.Get("Content-Type"),
		CacheStatus: res.Header.Get("Cache-Status"),
	}, nil
}
