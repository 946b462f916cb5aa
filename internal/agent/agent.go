// Package agent is the composition root: it wires config, storage,
// metrics, ingestion, the detector pipeline, the decision loop, and the
// control-plane socket into one running process.
//
// Adapted from the upstream agent's cmd/octoreflex/main.go startup
// sequence (root check, config load, logger init, storage open, metrics
// server, event processor, worker goroutines, SIGHUP hot-reload,
// SIGINT/SIGTERM graceful shutdown with a drain timeout) — generalized
// from one monolithic main() into a reusable Agent type so cmd/ransomwarden
// stays a thin flag-parsing shell.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/aggregator"
	"github.com/ransomwarden/ransomwarden/internal/budget"
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/control"
	"github.com/ransomwarden/ransomwarden/internal/correlation"
	"github.com/ransomwarden/ransomwarden/internal/decision"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/ingestion"
	"github.com/ransomwarden/ransomwarden/internal/observability"
	"github.com/ransomwarden/ransomwarden/internal/pipeline"
	"github.com/ransomwarden/ransomwarden/internal/quarantine"
	"github.com/ransomwarden/ransomwarden/internal/sink"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// Agent owns every long-lived subsystem and its lifecycle.
type Agent struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *observability.Metrics

	db         *sink.DB
	store      *stats.Store
	aggregator *aggregator.Aggregator
	engine     *correlation.Engine
	bucket     *budget.Bucket
	quarantine *quarantine.Controller
	ingestor   *ingestion.Processor
	pool       *pipeline.Pool
	loop       *decision.Loop
	control    *control.Server
}

// New wires every subsystem from cfg but starts nothing.
func New(cfg *config.Config, log *zap.Logger) (*Agent, error) {
	metrics := observability.NewMetrics()

	db, err := sink.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays, metrics)
	if err != nil {
		return nil, fmt.Errorf("agent: open storage: %w", err)
	}

	store := stats.New(cfg.Detector.EntropySampleCap)
	agg := aggregator.New(store)

	var classifier *correlation.Classifier
	if cfg.Correlation.ModelPath != "" {
		c, err := correlation.New(cfg.Correlation.ModelPath)
		if err != nil {
			log.Warn("classifier load failed — falling back to deterministic scoring",
				zap.Error(err), zap.String("model_path", cfg.Correlation.ModelPath))
		} else {
			classifier = c
		}
	}
	engine := correlation.NewEngine(classifier, cfg.Correlation.InferenceTimeout)
	engine.OnFallback(func() { metrics.InferenceFallbackTotal.Inc() })

	bucket := budget.New(cfg.Budget.Capacity, cfg.Budget.RefillPeriod)
	qc := quarantine.NewController(cfg.Quarantine.HelperPath, cfg.Quarantine.Timeout, log)

	ingestor := ingestion.NewProcessor(db, metrics, log, cfg.Agent.EventQueueSize)
	pool := pipeline.New(store, agg, cfg.Detector, db, metrics, log, cfg.Agent.MaxGoroutines,
		func() int64 { return time.Now().Unix() })
	loop := decision.New(agg, engine, qc, db, bucket, metrics, log,
		cfg.Agent.DecisionInterval, cfg.Correlation.QuarantineThreshold, cfg.Agent.QuarantineCooldown)

	a := &Agent{
		cfg:        cfg,
		log:        log,
		metrics:    metrics,
		db:         db,
		store:      store,
		aggregator: agg,
		engine:     engine,
		bucket:     bucket,
		quarantine: qc,
		ingestor:   ingestor,
		pool:       pool,
		loop:       loop,
	}

	if cfg.Control.Enabled {
		a.control = control.NewServer(cfg.Control.SocketPath, &backend{agent: a}, metrics, log)
	}

	return a, nil
}

// PruneStorage runs one retention sweep over the events bucket, deleting
// rows older than cfg.Storage.RetentionDays (SPEC_FULL.md §4.8). Called
// once at startup by cmd/ransomwarden and on a 6h ticker from Run,
// mirroring the upstream agent's PruneOldLedgerEntries cadence.
func (a *Agent) PruneStorage() {
	deleted, err := a.db.PruneOldEvents()
	if err != nil {
		a.log.Warn("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		a.log.Info("retention sweep pruned old events", zap.Int("deleted", deleted))
	}
}

// Run starts every subsystem consuming events from src and blocks until
// ctx is cancelled, then drains and closes storage. src is typically the
// channel returned by a collector.FileSource (or any other opaque event
// producer satisfying spec.md §6's "push-style queue of FileEvent
// records" contract).
func (a *Agent) Run(ctx context.Context, src <-chan event.File) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.metrics.ServeMetrics(ctx, a.cfg.Observability.MetricsAddr); err != nil {
			a.log.Error("metrics server error", zap.Error(err))
		}
	}()

	if a.control != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.control.ListenAndServe(ctx); err != nil {
				a.log.Error("control server error", zap.Error(err))
			}
		}()
	}

	pipelineCh := a.ingestor.Run(ctx, src)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.pool.Run(ctx, pipelineCh)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.loop.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.evictionLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.retentionSweepLoop(ctx)
	}()

	<-ctx.Done()
	a.log.Info("agent context cancelled — draining")

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		a.log.Info("all subsystems drained")
	case <-time.After(5 * time.Second):
		a.log.Warn("shutdown drain timeout — forcing close")
	}

	a.bucket.Close()
	return a.db.Close()
}

func (a *Agent) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Agent.StatsIdleEviction)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := a.store.EvictIdle(now, a.cfg.Agent.StatsIdleEviction)
			for _, pid := range evicted {
				a.aggregator.Forget(pid)
			}
			if len(evicted) > 0 {
				a.log.Debug("evicted idle processes", zap.Int("count", len(evicted)))
			}
		}
	}
}

// retentionSweepLoop runs PruneStorage every 6 hours, matching the
// upstream agent's ledger-pruning cadence (SPEC_FULL.md §4.8).
func (a *Agent) retentionSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.PruneStorage()
		}
	}
}

// Reload copies only the non-destructive fields of newCfg (quarantine
// threshold, cooldown) into the Agent's config; every other field,
// including the destructive ones (storage path, control socket path), is
// left untouched. The decision loop keeps the threshold and cooldown it
// was constructed with, so a reload does not change the running loop's
// behaviour. An invalid config never reaches Reload: the SIGHUP handler
// in cmd/ransomwarden logs the load error and keeps the old config.
func (a *Agent) Reload(newCfg *config.Config) {
	a.cfg.Correlation.QuarantineThreshold = newCfg.Correlation.QuarantineThreshold
	a.cfg.Agent.QuarantineCooldown = newCfg.Agent.QuarantineCooldown
	a.log.Info("config hot-reload applied (non-destructive fields only)",
		zap.Float64("quarantine_threshold", newCfg.Correlation.QuarantineThreshold),
		zap.Duration("quarantine_cooldown", newCfg.Agent.QuarantineCooldown))
}
