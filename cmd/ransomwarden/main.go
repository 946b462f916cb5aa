// Package main — cmd/ransomwarden/main.go
//
// ransomwarden agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/ransomwarden/config.yaml.
//  2. Initialise structured logger (zap).
//  3. Wire the composition root (storage, metrics, pipeline, decision
//     loop, control socket) via internal/agent.New.
//  4. Prune stale storage rows older than the configured retention
//     horizon (internal/agent.Agent.PruneStorage).
//  5. Open the event source (a file/fifo of newline-delimited JSON
//     event.File records — see internal/collector; the production
//     kernel producer is an out-of-scope external collaborator).
//  6. Register SIGHUP handler for config hot-reload (non-destructive
//     fields only).
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Wait for every subsystem to drain (max 5s, enforced inside
//     agent.Agent.Run).
//  3. Flush logger.
//  4. Exit 0.
//
// On config validation failure or storage open failure: exit 1
// immediately (no partial state).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ransomwarden/ransomwarden/internal/agent"
	"github.com/ransomwarden/ransomwarden/internal/collector"
	"github.com/ransomwarden/ransomwarden/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to config.yaml")
	eventSourcePath := flag.String("events", "/run/ransomwarden/events.jsonl", "Path to the event source (file or named pipe of newline-delimited JSON event records)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("ransomwarden %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ──────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("ransomwarden starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Wire the composition root ────────────────────────────────────
	a, err := agent.New(cfg, log)
	if err != nil {
		log.Fatal("agent composition failed", zap.Error(err))
	}

	// ── Step 4: Prune stale storage rows before serving traffic ──────────────
	a.PruneStorage()

	// ── Step 5: Open the event source ────────────────────────────────────────
	src := collector.NewFileSource(*eventSourcePath, log)
	eventCh, err := src.Run(ctx)
	if err != nil {
		log.Fatal("event source open failed", zap.Error(err), zap.String("path", *eventSourcePath))
	}
	log.Info("event source opened", zap.String("path", *eventSourcePath))

	// ── Step 6: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			a.Reload(newCfg)
		}
	}()

	// Run blocks until ctx is cancelled, draining every subsystem before
	// returning.
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx, eventCh) }()

	// ── Step 7: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	if err := <-runDone; err != nil {
		log.Error("agent shutdown reported an error", zap.Error(err))
	}

	log.Info("ransomwarden shutdown complete")
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
