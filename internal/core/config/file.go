package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/tiles"
)

// FileConfig is the optional YAML overlay. Only set fields override the
// environment.
type FileConfig struct {
	Cache struct {
		Version      string   `yaml:"version"`
		TilePrefixes []string `yaml:"tile_prefixes"`
		APIPrefixes  []string `yaml:"api_prefixes"`
		ShellURLs    []string `yaml:"shell_urls"`
	} `yaml:"cache"`
	Zoom struct {
		MinZoom  map[string]int `yaml:"min_zoom"`
		Fallback int            `yaml:"fallback"`
	} `yaml:"zoom"`
	Viewport struct {
		Debounce        time.Duration `yaml:"debounce"`
		MoveFraction    float64       `yaml:"move_fraction"`
		MinSeparationPx float64       `yaml:"min_separation_px"`
	} `yaml:"viewport"`
	Tiles []tiles.Layer `yaml:"tiles"`
}

func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) validate() error {
	for name, z := range fc.Zoom.MinZoom {
		if !model.Category(name).Known() {
			return fmt.Errorf("zoom.min_zoom: unknown category %q", name)
		}
		if z < tiles.MinZoom || z > tiles.MaxZoom {
			return fmt.Errorf("zoom.min_zoom.%s: %d outside %d..%d", name, z, tiles.MinZoom, tiles.MaxZoom)
		}
	}
	seen := map[string]bool{}
	for i, l := range fc.Tiles {
		if l.ID == "" || l.URL == "" {
			return fmt.Errorf("tiles[%d]: id and url are required", i)
		}
		if seen[l.ID] {
			return fmt.Errorf("tiles[%d]: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	if fc.Cache.Version != "" {
		cfg.Cache.Version = fc.Cache.Version
	}
	if len(fc.Cache.TilePrefixes) > 0 {
		cfg.Cache.TilePrefixes = fc.Cache.TilePrefixes
	}
	if len(fc.Cache.APIPrefixes) > 0 {
		cfg.Cache.APIPrefixes = fc.Cache.APIPrefixes
	}
	if len(fc.Cache.ShellURLs) > 0 {
		cfg.Cache.ShellURLs = fc.Cache.ShellURLs
	}
	if len(fc.Zoom.MinZoom) > 0 {
		mz := make(map[model.Category]int, len(fc.Zoom.MinZoom))
		for k, v := range fc.Zoom.MinZoom {
			mz[model.Category(k)] = v
		}
		cfg.Viewport.Zoom.MinZoom = mz
	}
	if fc.Zoom.Fallback > 0 {
		cfg.Viewport.Zoom.Fallback = fc.Zoom.Fallback
	}
	if fc.Viewport.Debounce > 0 {
		cfg.Viewport.Debounce = fc.Viewport.Debounce
	}
	if fc.Viewport.MoveFraction > 0 {
		cfg.Viewport.MoveFraction = fc.Viewport.MoveFraction
	}
	if fc.Viewport.MinSeparationPx > 0 {
		cfg.Viewport.MinSeparationPx = fc.Viewport.MinSeparationPx
	}
	if len(fc.Tiles) > 0 {
		cfg.Tiles = fc.Tiles
	}
}
