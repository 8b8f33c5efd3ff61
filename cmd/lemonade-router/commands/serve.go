package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/lemonade-sh/lemonade-router/pkg/cache"
	"github.com/lemonade-sh/lemonade-router/pkg/metrics"
	"github.com/lemonade-sh/lemonade-router/pkg/pidfile"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
	"github.com/lemonade-sh/lemonade-router/pkg/router"
)

// shutdownGrace bounds how long serve waits for in-flight requests and
// loaded instances to drain on SIGINT/SIGTERM before returning.
const shutdownGrace = 30 * time.Second

// runServe resolves configuration, wires the registry/cache/router, and
// serves until ctx is cancelled (by Execute's signal.NotifyContext), then
// drains in-flight work and tears every loaded instance down. Grounded on
// the teacher's root main.go construction order (config -> backend map ->
// cache -> router) and its signal.NotifyContext + select shutdown idiom.
func runServe(ctx context.Context) error {
	cfg, err := resolveSettings(rootCmd)
	if err != nil {
		return err
	}

	log = newLogger(cfg.LogLevel)

	if err := pidfile.PurgeStale(cfg.CacheDir); err != nil {
		return err
	}

	reg, err := registry.Open(cfg.CacheDir, cfg.ExtraModelsDir, log)
	if err != nil {
		return fmt.Errorf("opening model registry: %w", err)
	}

	backends := buildBackends(cfg, log)

	c := cache.New(reg, backends, cfg.MaxLoadedModels, log)

	tracker := metrics.NewTracker()

	maxModels := router.MaxModelsByType{
		LLM:       cfg.MaxLoadedModels,
		Embedding: cfg.MaxLoadedModels,
		Reranking: cfg.MaxLoadedModels,
		Audio:     cfg.MaxLoadedModels,
		Image:     cfg.MaxLoadedModels,
	}

	// fetcher stays nil: concrete model-hub downloading is the
	// ModelFetcher capability, a contract-only collaborator per
	// spec.md §1's Non-goals. /api/v1/pull fails with UnsupportedOperation
	// (HTTP 422) until a concrete fetcher is plugged in by an embedding
	// application.
	rt := router.New(c, reg, log, tracker, nil, cfg.APIKey, maxModels, backends)

	host := cfg.Host
	if cfg.NoBroadcast {
		host = "127.0.0.1"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(cfg.Port))

	srv := &http.Server{
		Addr:    addr,
		Handler: rt,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	if err := pidfile.Write(cfg.CacheDir, os.Getpid(), cfg.Port); err != nil {
		log.WithError(err).Warn("writing pidfile")
	}
	defer func() {
		if err := pidfile.Remove(cfg.CacheDir); err != nil {
			log.WithError(err).Warn("removing pidfile")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("lemonade-router listening on %s", addr)
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown")
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("cache shutdown")
	}

	return nil
}

