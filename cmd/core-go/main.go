package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"meshmap/core-go/internal/config"
	"meshmap/core-go/internal/db"
	"meshmap/core-go/internal/engine"
	"meshmap/core-go/internal/httpapi"
	"meshmap/core-go/internal/mesh"
	"meshmap/core-go/internal/metrics"
	"meshmap/core-go/internal/rebuildworker"
	"meshmap/core-go/internal/store"
)

func main() {
	addr := envOr("HTTP_ADDR", ":8081")
	logLevel := envOr("LOG_LEVEL", "info")
	databaseURL := envOr("DATABASE_URL", "")
	configPath := envOr("ENGINE_CONFIG", "")

	logger := httpapi.NewLogger(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", configPath).Msg("failed to load engine config")
	}

	local, err := localNodeFromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid local node configuration")
	}
	if local == nil {
		logger.Fatal().Msg("LOCAL_NODE_ID is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	m := metrics.New()
	eng := engine.New(cfg, logger)

	interval, err := envDuration("REBUILD_INTERVAL")
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REBUILD_INTERVAL")
	}

	worker := rebuildworker.New(logger, store.New(pool), eng, rebuildworker.Options{
		Interval: interval,
		Local:    local,
	}, m)
	go worker.Run(ctx)

	h := httpapi.NewHandler(logger, pool, worker, m)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func localNodeFromEnv() (*mesh.LocalNode, error) {
	id := envOr("LOCAL_NODE_ID", "")
	if id == "" {
		return nil, nil
	}
	local := &mesh.LocalNode{ID: mesh.NodeID(id)}

	latStr := envOr("LOCAL_NODE_LAT", "")
	lonStr := envOr("LOCAL_NODE_LON", "")
	if latStr != "" && lonStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return nil, err
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return nil, err
		}
		local.Lat, local.Lon = &lat, &lon
	}
	return local, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	return time.ParseDuration(v)
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
