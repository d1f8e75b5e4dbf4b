// Kline Mirror CLI
// This application maintains a local mirror of exchange kline history:
// it discovers the tradable universe, fetches whatever each instrument
// is missing, and records progress in a manifest so re-runs only fetch
// the tail. A read-side HTTP server exposes the mirrored data.
//
// Usage:
//
//	klinemirror sync
//	klinemirror serve
//
// Configuration comes from defaults, an optional JSON config file and
// environment variables, in that order. A .env file in the working
// directory is loaded first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-kline-mirror/internal/config"
	"github.com/johnayoung/go-kline-mirror/internal/exchange"
	"github.com/johnayoung/go-kline-mirror/internal/logger"
	"github.com/johnayoung/go-kline-mirror/internal/server"
	"github.com/johnayoung/go-kline-mirror/internal/storage"
	"github.com/johnayoung/go-kline-mirror/internal/sync"
)

const (
	Version = "1.0.0"
	AppName = "klinemirror"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitRunError    = 4
	ExitInterrupt   = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	// .env values become visible to the env override layer
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	switch command {
	case "sync", "serve":
	case "--version", "-v", "version":
		fmt.Printf("%s %s\n", AppName, Version)
		os.Exit(ExitSuccess)
	case "--help", "-h", "help":
		printUsage()
		os.Exit(ExitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	cfg, logManager, err := initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer logManager.Close()

	switch command {
	case "sync":
		runSync(ctx, cfg, logManager)
	case "serve":
		runServe(ctx, cfg, logManager)
	}
}

// initialize loads configuration and builds the logging stack.
func initialize() (*config.AppConfig, *logger.Manager, error) {
	cfg, err := config.NewManager(os.Getenv("CONFIG_PATH"), nil).Load()
	if err != nil {
		return nil, nil, err
	}
	logManager, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logManager, nil
}

// runSync executes one mirror run and exits.
func runSync(ctx context.Context, cfg *config.AppConfig, logManager *logger.Manager) {
	log := logManager.GetComponentLogger("sync")

	adapter := exchange.NewBinanceAdapter(
		exchange.WithBaseURL(cfg.Exchange.BaseURL),
		exchange.WithLogger(logManager.GetComponentLogger("exchange")),
		exchange.WithRetryDelay(cfg.Exchange.RetryBaseDelayDuration()),
		exchange.WithPageDelay(cfg.Exchange.PageDelayDuration()),
		exchange.WithMaxRetries(cfg.Exchange.MaxRetries),
		exchange.WithTimeout(cfg.Exchange.TimeoutDuration()),
	)
	manifests := storage.NewManifestStore(cfg.Mirror.ManifestPath, logManager.GetComponentLogger("storage"))
	series := storage.NewSeriesStore(cfg.Mirror.DataDir, logManager.GetComponentLogger("storage"))

	syncer := sync.NewSyncer(adapter, adapter, manifests, series, cfg.Mirror.Timeframes, log, nil)
	summary, err := syncer.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("sync interrupted",
				"new_items", summary.NewItems,
				"update_items", summary.UpdateItems)
			os.Exit(ExitInterrupt)
		}
		log.Error("sync failed", "error", err)
		os.Exit(ExitRunError)
	}
}

// runServe starts the read-side HTTP server and blocks until signaled.
func runServe(ctx context.Context, cfg *config.AppConfig, logManager *logger.Manager) {
	log := logManager.GetComponentLogger("server")

	manifests := storage.NewManifestStore(cfg.Mirror.ManifestPath, logManager.GetComponentLogger("storage"))
	series := storage.NewSeriesStore(cfg.Mirror.DataDir, logManager.GetComponentLogger("storage"))
	srv := server.NewServer(cfg.Server, manifests, series, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
			os.Exit(ExitRunError)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
			os.Exit(ExitRunError)
		}
		log.Info("server stopped")
	}
}

func printUsage() {
	fmt.Printf(`%s %s - incremental exchange kline mirror

Usage:
  %s <command>

Commands:
  sync      Run one incremental mirror pass and exit
  serve     Serve the mirrored data over HTTP
  version   Print version information
  help      Show this help

Environment:
  CONFIG_PATH        Path to a JSON config file
  DATA_DIR           Directory for CSV series files (default ./data)
  MANIFEST_PATH      Manifest file path (default ./data/manifest.json)
  TIMEFRAMES         Comma-separated interval labels (default 15m)
  MAX_RETRIES        Page retries after the first attempt (default 3)
  HTTP_TIMEOUT       Exchange request timeout (default 30s)
  SERVER_PORT        HTTP listen port (default 8080)
  LOG_LEVEL          debug, info, warn or error (default info)
`, AppName, Version, AppName)
}
