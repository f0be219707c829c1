// Package main is the entry point for the service gateway. It loads
// configuration, builds the gateway, starts the HTTP server, and handles
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dskow/service-gateway/internal/config"
	"github.com/dskow/service-gateway/internal/gateway"
	"github.com/dskow/service-gateway/internal/logging"
	"github.com/dskow/service-gateway/internal/metrics"
)

func main() {
	// A local .env may carry the service URLs and PORT.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to configuration file (built-in defaults when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("failed to open log output", "output", cfg.Logging.Output, "error", err)
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"config_path", *configPath,
		"port", cfg.Server.Port,
		"services", len(cfg.Services),
		"forward_timeout", cfg.Forward.Timeout,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"rate_limit_enabled", cfg.RateLimit.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
	)
	for _, svc := range cfg.Services {
		logger.Info("service registered",
			"key", svc.Key,
			"name", svc.Name,
			"base_url", svc.BaseURL,
			"placeholder", svc.Placeholder,
			"routes", len(svc.Routes),
		)
	}

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	reloader := config.NewReloader(*configPath, cfg, logger.Logger)

	gw, err := gateway.New(gateway.Options{
		Config:   cfg,
		Provider: reloader,
		Logger:   logger.Logger,
	})
	if err != nil {
		logger.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	reloader.OnReload(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
		gw.UpdateConfig(newCfg)
	})
	reloader.Start()
	defer reloader.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting gateway", "addr", srv.Addr, "routes", gw.Table.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}
