package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Rajchodisetti/market-feed/internal/adapters"
	"github.com/Rajchodisetti/market-feed/internal/clock"
	"github.com/Rajchodisetti/market-feed/internal/config"
	"github.com/Rajchodisetti/market-feed/internal/discovery"
	"github.com/Rajchodisetti/market-feed/internal/feed"
	"github.com/Rajchodisetti/market-feed/internal/observ"
	"github.com/Rajchodisetti/market-feed/internal/prefetch"
	"github.com/Rajchodisetti/market-feed/internal/provider"
	"github.com/Rajchodisetti/market-feed/internal/registry"
)

func main() {
	var cfgPath string
	var envPath string
	flag.StringVar(&cfgPath, "config", "configs/feed.yaml", "config path")
	flag.StringVar(&envPath, "env", ".env", "dotenv file with provider API keys")
	flag.Parse()

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to load env file")
	}
	if p := os.Getenv("FEED_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logrus.WithError(err).WithField("path", cfgPath).Fatal("failed to load config")
	}
	format, level := cfg.Service.LogFormat, cfg.Service.LogLevel
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		format = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}
	observ.SetupLogging(format, level)
	observ.SetVersion(cfg.Service.Version)

	shutdownTracer := observ.InitTracer(cfg.Service.OTelEndpoint, cfg.Service.Name)
	defer shutdownTracer()

	svc, cleanup, err := build(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build feed service")
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	svc.Start(ctx)
	defer svc.Stop()

	srv := &http.Server{
		Addr:              cfg.Service.ListenAddr,
		Handler:           routes(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		observ.Log("http_listening", map[string]any{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	<-ctx.Done()
	observ.Log("shutdown", map[string]any{"reason": "signal"})

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
}

// build wires adapters, registry, discovery and the feed service from cfg.
func build(cfg config.Root) (*feed.Service, func(), error) {
	profiles, err := cfg.Profiles()
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(profiles)
	if err != nil {
		return nil, nil, err
	}

	factory := adapters.NewFactory()
	byID := make(map[string]provider.Adapter, len(profiles))
	for _, opts := range cfg.AdapterOptions() {
		a, err := factory.Build(opts)
		if err != nil {
			return nil, nil, err
		}
		byID[opts.ID] = a
	}

	cleanup := func() {}
	var disc prefetch.Discovery
	switch cfg.Discovery.Source {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Discovery.Redis.Addr,
			Password: cfg.Discovery.Redis.Password,
			DB:       cfg.Discovery.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis discovery at %s: %w", cfg.Discovery.Redis.Addr, err)
		}
		disc = discovery.NewRedis(client, cfg.Discovery.Redis.Prefix)
		cleanup = func() { _ = client.Close() }
	default:
		disc = discovery.NewStatic(cfg.StaticCandidates())
	}

	svc, err := feed.New(reg, byID, disc, cfg.FeedConfig(), clock.Real{}, logrus.StandardLogger())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func routes(svc *feed.Service) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.HealthHandler(func() (string, map[string]any) {
		providers := map[string]any{}
		for _, r := range svc.GetProviderHealth() {
			providers[r.Provider] = r.Health.Status
		}
		return string(svc.OverallHealth()), map[string]any{"providers": providers}
	}))
	mux.Handle("/debug/providers", observ.JSONHandler(func() any { return svc.GetProviderHealth() }))
	mux.Handle("/debug/cache", observ.JSONHandler(func() any { return svc.GetCacheStats() }))
	return mux
}
