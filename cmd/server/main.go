// Command server serves the book catalog CSV as a JSON API.
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
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/openbooks/api"
	"github.com/aluiziolira/openbooks/catalog"
	"github.com/aluiziolira/openbooks/config"
	"github.com/aluiziolira/openbooks/logger"
)

func main() {
	envFile := flag.String("env-file", ".env", "Optional env file with OPENBOOKS_* settings")
	dataCSV := flag.String("data", "", "Catalog CSV path (overrides OPENBOOKS_DATA_CSV)")
	addr := flag.String("addr", "", "Listen address (overrides OPENBOOKS_ADDR)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *dataCSV != "" {
		cfg.DataCSV = *dataCSV
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	cfg.Verbose = cfg.Verbose || *verbose

	logger.Init(cfg.Verbose)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig) error {
	metrics := catalog.NewMetrics()
	metrics.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	httpMetrics, err := api.NewMetrics(metrics.Registry)
	if err != nil {
		return fmt.Errorf("register http metrics: %w", err)
	}

	cache := catalog.NewCache(cfg.DataCSV, metrics)
	engine, err := catalog.NewEngine(cache)
	if err != nil {
		return err
	}

	// Warm the cache so a broken file is reported at startup. The server
	// still starts; the next request retries the load.
	if health, err := engine.Health(); err != nil {
		slog.Warn("initial catalog load failed", slog.String("path", cfg.DataCSV), slog.Any("error", err))
	} else {
		slog.Info("catalog ready",
			slog.String("path", cfg.DataCSV),
			slog.Bool("exists", health.Exists),
			slog.Int("rows", health.Rows),
		)
	}

	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	opts := api.RouterOptions{Metrics: httpMetrics}
	if cfg.MetricsAddr == "" {
		opts.MetricsHandler = metricsHandler
	}
	router := api.NewRouter(api.NewHandler(engine, cfg), cfg, opts)

	servers := []*http.Server{{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			slog.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown failed", slog.String("addr", srv.Addr), slog.Any("error", err))
		}
	}
	return serveErr
}
