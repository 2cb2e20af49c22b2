// Package config reads service settings from the environment, optionally
// overlaid by a YAML file named in CONFIG_FILE.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/core/model"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
	"github.com/mohammed-shakir/geonav-cache/internal/tiles"
)

// Cache store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type AICfg struct {
	BaseURL        string
	APIKey         string
	Model          string
	RateLimitRPS   float64
	RateLimitBurst int
	Timeout        time.Duration
}

type CacheCfg struct {
	Version           string
	Store             string
	RedisAddr         string
	RedisNamespace    string
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisDialTimeout  time.Duration
	SQLitePath        string
	OpTimeout         time.Duration
	RevalidateTimeout time.Duration
	TilePrefixes      []string
	APIPrefixes       []string
	ShellURLs         []string
}

type ViewportCfg struct {
	Debounce        time.Duration
	MoveFraction    float64
	MinSeparationPx float64
	Zoom            model.ZoomRules
	// MaxSessions bounds the live viewport sessions kept by the server.
	MaxSessions int
}

type FetchEventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr        string
	LogLevel    string
	LogConsole  bool
	LogSampleN  int
	AppOrigin   string
	ConfigFile  string
	AI          AICfg
	Cache       CacheCfg
	Retry       retry.Config
	Viewport    ViewportCfg
	Tiles       []tiles.Layer
	RetinaTiles bool
	FetchEvents FetchEventsCfg
	Metrics     MetricsCfg
}

func FromEnv() Config {
	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		AppOrigin:  getenv("APP_ORIGIN", "*"),
		ConfigFile: getenv("CONFIG_FILE", ""),
		AI: AICfg{
			BaseURL:        getenv("AI_BASE_URL", "https://generativelanguage.googleapis.com"),
			APIKey:         getenv("AI_API_KEY", ""),
			Model:          getenv("AI_MODEL", "gemini-2.5-flash"),
			RateLimitRPS:   getfloat("AI_RATE_LIMIT_RPS", 2),
			RateLimitBurst: getint("AI_RATE_LIMIT_BURST", 5),
			Timeout:        getduration("AI_TIMEOUT", 30*time.Second),
		},
		Cache: CacheCfg{
			Version:           getenv("CACHE_VERSION", "v1"),
			Store:             strings.ToLower(getenv("CACHE_STORE", StoreMemory)),
			RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
			RedisNamespace:    getenv("REDIS_NAMESPACE", "geonav"),
			RedisPoolSize:     getint("REDIS_POOL_SIZE", 16),
			RedisMinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			RedisDialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			SQLitePath:        getenv("SQLITE_PATH", "geonav-cache.db"),
			OpTimeout:         getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			RevalidateTimeout: getduration("CACHE_REVALIDATE_TIMEOUT", 30*time.Second),
			TilePrefixes:      getlist("CACHE_TILE_PREFIXES"),
			APIPrefixes:       getlist("CACHE_API_PREFIXES"),
			ShellURLs:         getlist("CACHE_SHELL_URLS"),
		},
		Retry: retry.Config{
			Attempts: getint("RETRY_ATTEMPTS", retry.DefaultAttempts),
			Delay:    getduration("RETRY_DELAY", retry.DefaultDelay),
			Factor:   getfloat("RETRY_FACTOR", retry.DefaultFactor),
		},
		Viewport: ViewportCfg{
			Debounce:        getduration("VIEWPORT_DEBOUNCE", 1500*time.Millisecond),
			MoveFraction:    getfloat("VIEWPORT_MOVE_FRACTION", 0.3),
			MinSeparationPx: getfloat("DECLUTTER_MIN_PX", 60),
			Zoom:            model.DefaultZoomRules(),
			MaxSessions:     getint("VIEWPORT_MAX_SESSIONS", 256),
		},
		RetinaTiles: getbool("TILES_RETINA", false),
		FetchEvents: FetchEventsCfg{
			Enabled: getbool("FETCH_EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "poi-fetches"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ":9100"),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

// Load reads the environment, applies CONFIG_FILE when set and validates
// the result.
func Load() (Config, error) {
	cfg := FromEnv()
	if cfg.ConfigFile != "" {
		f, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		f.apply(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// BrokerList splits the comma separated broker list.
func (c FetchEventsCfg) BrokerList() []string {
	return splitList(c.Brokers)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(k string) []string {
	return splitList(os.Getenv(k))
}

// parse "a, b,,c" into [a b c]
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
