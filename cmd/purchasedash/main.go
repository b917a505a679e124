// Package main is the entry point for the purchasing dashboard API server.
//
// @title                      Purchasing Dashboard API
// @version                    1.0
// @description                Monthly record counts for inventory and purchasing dashboards.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                Enter your master key as "Bearer <key>"
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"purchasedash/config"
	"purchasedash/internal/app"
	"purchasedash/internal/logging"
	"purchasedash/internal/version"

	_ "purchasedash/cmd/purchasedash/docs"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	configPath := flag.String("config", "", "Path to a YAML config file (default "+config.DefaultPath+" if present)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger is not configured yet; fall back to JSON on stderr.
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})

	slog.Info("starting purchasedash",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	application, err := app.New(context.Background(), app.Config{AppConfig: cfg})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(ctx); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("application failed", "error", err)
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
	<-stopped
}
