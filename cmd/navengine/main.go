package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/geonav-cache/internal/cache"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/resourcecache"
	"github.com/mohammed-shakir/geonav-cache/internal/cache/sqlitestore"
	"github.com/mohammed-shakir/geonav-cache/internal/core/config"
	"github.com/mohammed-shakir/geonav-cache/internal/core/health"
	"github.com/mohammed-shakir/geonav-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/geonav-cache/internal/core/router"
	"github.com/mohammed-shakir/geonav-cache/internal/core/server"
	"github.com/mohammed-shakir/geonav-cache/internal/declutter"
	"github.com/mohammed-shakir/geonav-cache/internal/fetchevents"
	"github.com/mohammed-shakir/geonav-cache/internal/geoai"
	"github.com/mohammed-shakir/geonav-cache/internal/logger"
	"github.com/mohammed-shakir/geonav-cache/internal/metrics"
	"github.com/mohammed-shakir/geonav-cache/internal/retry"
	"github.com/mohammed-shakir/geonav-cache/internal/tiles"
	"github.com/mohammed-shakir/geonav-cache/internal/viewport"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	flag.Parse()
	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "geonav",
		Component: "navengine",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	appLog.Info("starting navengine",
		"addr", cfg.Addr,
		"version", Version,
		"cache_version", cfg.Cache.Version,
		"store", cfg.Cache.Store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := metrics.Init(metrics.BuildInfo{
		Version:      Version,
		Revision:     os.Getenv("BUILD_REVISION"),
		BuildDate:    os.Getenv("BUILD_DATE"),
		CacheVersion: cfg.Cache.Version,
	})
	var inlineMetrics http.Handler = provider.Handler()
	if cfg.Metrics.Enabled {
		inlineMetrics = nil
		go serveMetrics(ctx, cfg.Metrics, provider, appLog)
	}

	store, checks, err := openStore(ctx, cfg.Cache)
	if err != nil {
		appLog.Error("cache store setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLog.Warn("cache store close", "err", err)
		}
	}()

	apiPrefixes := cfg.Cache.APIPrefixes
	if len(apiPrefixes) == 0 {
		apiPrefixes = []string{strings.TrimRight(cfg.AI.BaseURL, "/") + "/"}
	}
	rc := resourcecache.New(store, httpclient.NewTransport(),
		resourcecache.WithVersion(cfg.Cache.Version),
		resourcecache.WithRules(resourcecache.DefaultRules(cfg.Cache.TilePrefixes, apiPrefixes)...),
		resourcecache.WithRevalidateTimeout(cfg.Cache.RevalidateTimeout),
		resourcecache.WithLogger(appLog))
	defer rc.Wait()

	if err := rc.Init(ctx); err != nil {
		appLog.Error("cache init failed", "err", err)
		return 1
	}
	if len(cfg.Cache.ShellURLs) > 0 {
		n, err := rc.Install(ctx, cfg.Cache.ShellURLs)
		appLog.Info("app shell precached", "stored", n, "requested", len(cfg.Cache.ShellURLs), "err", err)
	}
	if purged, err := rc.Activate(ctx); err != nil {
		appLog.Warn("cache activate", "err", err, "purged", purged)
	} else if len(purged) > 0 {
		appLog.Info("stale cache tiers purged", "tiers", purged)
	}

	hc := httpclient.NewOutbound(rc, cfg.AI.Timeout)
	ai := geoai.New(geoai.Config{
		BaseURL:   cfg.AI.BaseURL,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		RateLimit: cfg.AI.RateLimitRPS,
		Burst:     cfg.AI.RateLimitBurst,
		Retry:     cfg.Retry,
	}, hc, geoai.WithLogger(appLog))
	if cfg.AI.APIKey == "" {
		appLog.Warn("AI_API_KEY is not set; geocoding, routing and points of interest are disabled")
	}

	layers := cfg.Tiles
	if len(layers) == 0 {
		layers = tiles.DefaultLayers()
	}
	tc := tiles.New(hc, layers, tiles.WithRetina(cfg.RetinaTiles))

	var events *fetchevents.Publisher
	if cfg.FetchEvents.Enabled {
		events, err = fetchevents.NewPublisher(cfg.FetchEvents.BrokerList(), cfg.FetchEvents.Topic, 0, appLog)
		if err != nil {
			appLog.Error("fetch events setup failed", "err", err)
			return 1
		}
		defer func() { _ = events.Close() }()
	}

	vcfg := viewport.Config{
		Debounce:     cfg.Viewport.Debounce,
		MoveFraction: cfg.Viewport.MoveFraction,
		Rules:        cfg.Viewport.Zoom,
		Declutter:    declutter.Options{MinSeparationPx: cfg.Viewport.MinSeparationPx},
	}
	sessions := viewport.NewRegistry(cfg.Viewport.MaxSessions, func(id string) *viewport.Coordinator {
		opts := []viewport.Option{
			viewport.WithSession(id),
			viewport.WithLogger(appLog),
			viewport.WithRetrier(retry.New(cfg.Retry, retry.WithName("fetch_pois"), retry.WithLogger(appLog))),
		}
		if events != nil {
			opts = append(opts, viewport.WithFetchObserver(func(_ context.Context, r viewport.FetchResult) {
				events.Publish(fetchevents.FromFetch(id, r))
			}))
		}
		return viewport.New(ai, vcfg, opts...)
	})
	defer sessions.Close()

	api := router.New(appLog, ai, tc, rc, sessions)
	h := server.Handler(cfg, appLog, api, inlineMetrics, checks...)

	if err := server.Run(ctx, cfg, appLog, h); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// openStore picks the byte store behind the resource cache.
func openStore(ctx context.Context, c config.CacheCfg) (cache.Store, []health.Check, error) {
	switch c.Store {
	case config.StoreRedis:
		rs, err := redisstore.New(ctx, c.RedisAddr,
			redisstore.WithNamespace(c.RedisNamespace),
			redisstore.WithPoolSize(c.RedisPoolSize),
			redisstore.WithMinIdleConns(c.RedisMinIdleConns),
			redisstore.WithDialTimeout(c.RedisDialTimeout),
			redisstore.WithReadTimeout(c.OpTimeout),
			redisstore.WithWriteTimeout(c.OpTimeout))
		if err != nil {
			return nil, nil, err
		}
		return rs, []health.Check{health.PingCheck("redis", rs)}, nil
	case config.StoreSQLite:
		ss, err := sqlitestore.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return ss, []health.Check{health.PingCheck("sqlite", ss)}, nil
	case config.StoreMemory, "":
		return memstore.New(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown cache store %q", c.Store)
}

func serveMetrics(ctx context.Context, c config.MetricsCfg, p *metrics.Provider, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(c.Path, p.Handler())

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown", "err", err)
		}
	}()

	log.Info("metrics listen", "addr", c.Addr, "path", c.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server exited", "err", err)
	}
}
