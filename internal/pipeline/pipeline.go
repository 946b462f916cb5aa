// Package pipeline runs the per-process worker pool: each event updates
// the statistics store, is scored by all seven detectors, and the result
// is recorded in the aggregator. Per spec §5.1, events for the same PID
// are always routed to the same worker (pid % numWorkers) so that a PID's
// statistics are only ever mutated from one goroutine at a time.
//
// Adapted from the upstream agent's runWorker loop: a fixed accumulator
// map per worker goroutine is replaced here by the shared sharded
// stats.Store, and the escalation engine call is replaced by
// detector.AnalyzeAll + aggregator.Record.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/aggregator"
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/detector"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/observability"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// Sink is the subset of the telemetry sink the pipeline depends on.
type Sink interface {
	StoreDetectorOutput(s detector.Scores) error
}

// Pool owns the statistics store, the fixed detector registry, and the
// set of worker goroutines that drain an ingestion-supplied event channel.
type Pool struct {
	store      *stats.Store
	aggregator *aggregator.Aggregator
	detectors  []detector.Detector
	cfg        config.DetectorConfig
	sink       Sink
	metrics    *observability.Metrics
	log        *zap.Logger
	numWorkers int

	nowUnix func() int64
}

// New creates a worker Pool. numWorkers must be >= 1.
func New(
	store *stats.Store,
	agg *aggregator.Aggregator,
	cfg config.DetectorConfig,
	sink Sink,
	metrics *observability.Metrics,
	log *zap.Logger,
	numWorkers int,
	nowUnix func() int64,
) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		store:      store,
		aggregator: agg,
		detectors:  detector.Registry(),
		cfg:        cfg,
		sink:       sink,
		metrics:    metrics,
		log:        log,
		numWorkers: numWorkers,
		nowUnix:    nowUnix,
	}
}

// Run starts numWorkers goroutines, each draining events from in whose
// PID hashes (pid % numWorkers) to that worker's index, and blocks until
// either ctx is cancelled or in is closed and drained.
func (p *Pool) Run(ctx context.Context, in <-chan event.File) {
	lanes := make([]chan event.File, p.numWorkers)
	for i := range lanes {
		lanes[i] = make(chan event.File, 256)
	}

	done := make(chan struct{}, p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go func(idx int) {
			p.runWorker(ctx, lanes[idx])
			done <- struct{}{}
		}(i)
	}

	go func() {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-in:
				if !ok {
					return
				}
				lane := lanes[e.ProcessID%uint32(p.numWorkers)]
				select {
				case lane <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for i := 0; i < p.numWorkers; i++ {
		<-done
	}
}

func (p *Pool) runWorker(ctx context.Context, lane <-chan event.File) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-lane:
			if !ok {
				return
			}
			p.process(e)
		}
	}
}

func (p *Pool) process(e event.File) {
	_, _, priorEntropySamples := p.store.Apply(e)

	snap, ok := p.store.Get(e.ProcessID)
	if !ok {
		return
	}
	// The entropy detector's jump rule (spec §4.3.1) compares this write's
	// entropy against the mean of samples *preceding* it. store.Get's ring
	// already includes this write's own sample, so substitute the
	// pre-update ring Apply captured before scoring.
	snap.EntropySamples = priorEntropySamples

	now := p.nowUnix()
	scores := detector.AnalyzeAll(p.detectors, e, snap, p.cfg, now)

	for _, name := range []struct {
		label string
		score float32
	}{
		{"entropy", scores.EntropyScore},
		{"mass_write", scores.MassWriteScore},
		{"mass_rename_delete", scores.MassRenameDeleteScore},
		{"ransom_note", scores.RansomNoteScore},
		{"shadow_copy", scores.ShadowCopyScore},
		{"process_behavior", scores.ProcessBehaviorScore},
		{"file_extension", scores.FileExtensionScore},
	} {
		p.metrics.DetectorEvalsTotal.WithLabelValues(name.label).Inc()
		p.metrics.DetectorScoreHistogram.WithLabelValues(name.label).Observe(float64(name.score))
	}
	p.metrics.TrackedPIDs.Set(float64(p.store.Len()))

	p.aggregator.Record(scores)

	if p.sink != nil {
		if err := p.sink.StoreDetectorOutput(scores); err != nil && p.log != nil {
			p.log.Warn("failed to persist detector output", zap.Error(err), zap.Uint32("pid", e.ProcessID))
		}
	}
}
