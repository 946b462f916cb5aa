// Package decision implements the fixed-cadence decision loop (spec §4.6):
// on each tick it asks the aggregator for the highest-activity PID's
// scores, runs the correlation engine, and quarantines the PID if the
// resulting ml score exceeds the configured threshold and the PID is not
// already in its post-quarantine cool-down window.
//
// The loop is single-threaded with respect to itself — ticks never
// overlap, matching the upstream agent's single escalation goroutine per
// worker, generalized here to one dedicated decision goroutine shared
// across all PIDs (the aggregator, not the loop, picks the PID).
package decision

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ransomwarden/ransomwarden/internal/aggregator"
	"github.com/ransomwarden/ransomwarden/internal/budget"
	"github.com/ransomwarden/ransomwarden/internal/correlation"
	"github.com/ransomwarden/ransomwarden/internal/observability"
)

// Quarantiner is the subset of quarantine.Controller the decision loop
// depends on.
type Quarantiner interface {
	Suspend(ctx context.Context, pid uint32) error
}

// Sink is the subset of the telemetry sink the decision loop depends on.
type Sink interface {
	StoreMLResult(pid uint32, mlScore float64, usedFallback bool, ts int64) error
	LogAlert(pid uint32, mlScore float64, quarantined bool, ts int64) error
	LogQuarantineAction(pid uint32, actionType string, success bool, ts int64) error
}

// Loop runs the fixed-cadence decision cycle.
type Loop struct {
	aggregator *aggregator.Aggregator
	engine     *correlation.Engine
	quarantine Quarantiner
	sink       Sink
	bucket     *budget.Bucket
	metrics    *observability.Metrics
	log        *zap.Logger

	interval           time.Duration
	quarantineThreshold float64
	cooldown           time.Duration

	cooldownMu    sync.Mutex
	cooldownUntil map[uint32]time.Time
	nowFn         func() time.Time
}

// New creates a Loop. interval must be > 0 and cooldown >= 0 (validated
// by config.Validate before construction); a zero cooldown lets the same
// PID be quarantined again on the next tick. bucket may be a disabled
// (capacity-0) budget.Bucket — it is always consulted, and a disabled
// bucket always permits the action.
func New(
	agg *aggregator.Aggregator,
	engine *correlation.Engine,
	quarantine Quarantiner,
	sink Sink,
	bucket *budget.Bucket,
	metrics *observability.Metrics,
	log *zap.Logger,
	interval time.Duration,
	quarantineThreshold float64,
	cooldown time.Duration,
) *Loop {
	return &Loop{
		aggregator:          agg,
		engine:              engine,
		quarantine:          quarantine,
		sink:                sink,
		bucket:              bucket,
		metrics:             metrics,
		log:                 log,
		interval:            interval,
		quarantineThreshold: quarantineThreshold,
		cooldown:            cooldown,
		cooldownUntil:       make(map[uint32]time.Time),
		nowFn:               time.Now,
	}
}

// Run blocks, ticking every interval, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// Tick runs a single decision cycle. Exported for tests and for callers
// that want to drive the loop manually (e.g. the end-to-end scenario).
func (l *Loop) Tick(ctx context.Context) {
	l.tick(ctx)
}

func (l *Loop) tick(ctx context.Context) {
	now := l.nowFn()
	if l.metrics != nil {
		l.metrics.DecisionTicksTotal.Inc()
	}

	scores := l.aggregator.GetAggregatedScores(now)
	if scores.ProcessID == 0 {
		return
	}

	ml, usedFallback := l.engine.Infer(ctx, scores)
	if l.metrics != nil {
		// InferenceFallbackTotal is counted by the engine's OnFallback
		// hook, not here.
		l.metrics.MLScoreHistogram.Observe(ml)
	}
	if l.sink != nil {
		if err := l.sink.StoreMLResult(scores.ProcessID, ml, usedFallback, now.Unix()); err != nil && l.log != nil {
			l.log.Warn("failed to persist ml result", zap.Error(err))
		}
	}

	if ml <= l.quarantineThreshold {
		return
	}

	l.cooldownMu.Lock()
	until, inCooldown := l.cooldownUntil[scores.ProcessID]
	l.cooldownMu.Unlock()
	if inCooldown && now.Before(until) {
		return
	}

	quarantined := false
	consumed := l.bucket == nil || l.bucket.ConsumeQuarantine()
	if l.bucket != nil && l.metrics != nil {
		if remaining := l.bucket.Remaining(); remaining >= 0 {
			l.metrics.BudgetTokensRemaining.Set(float64(remaining))
		}
	}
	if consumed {
		if err := l.quarantine.Suspend(ctx, scores.ProcessID); err != nil {
			if l.log != nil {
				l.log.Error("quarantine suspend failed", zap.Uint32("pid", scores.ProcessID), zap.Error(err))
			}
			if l.metrics != nil {
				l.metrics.QuarantineActionsTotal.WithLabelValues("suspend", "error").Inc()
			}
			if l.sink != nil {
				_ = l.sink.LogQuarantineAction(scores.ProcessID, "suspend", false, now.Unix())
			}
			// Quarantine failed: do NOT add to cool-down, so the next tick
			// retries. quarantined stays false for the alert below.
		} else {
			quarantined = true
			l.cooldownMu.Lock()
			l.cooldownUntil[scores.ProcessID] = now.Add(l.cooldown)
			cooldownLen := len(l.cooldownUntil)
			l.cooldownMu.Unlock()
			if l.metrics != nil {
				l.metrics.QuarantineActionsTotal.WithLabelValues("suspend", "success").Inc()
				l.metrics.QuarantineCooldownActive.Set(float64(cooldownLen))
			}
			if l.sink != nil {
				_ = l.sink.LogQuarantineAction(scores.ProcessID, "suspend", true, now.Unix())
			}
			if l.log != nil {
				l.log.Warn("process quarantined", zap.Uint32("pid", scores.ProcessID), zap.Float64("ml_score", ml))
			}
		}
	} else if l.log != nil {
		l.log.Warn("quarantine budget exhausted — deferring", zap.Uint32("pid", scores.ProcessID))
	}

	if l.sink != nil {
		if err := l.sink.LogAlert(scores.ProcessID, ml, quarantined, now.Unix()); err != nil && l.log != nil {
			l.log.Warn("failed to persist alert", zap.Error(err))
		}
	}

	l.pruneCooldown(now)
}

// ClearCooldown removes pid's cool-down entry, if any, so the next tick
// may quarantine it again immediately. Used by the control plane's
// release(pid) accessor (SPEC_FULL.md §4.9).
func (l *Loop) ClearCooldown(pid uint32) {
	l.cooldownMu.Lock()
	defer l.cooldownMu.Unlock()
	delete(l.cooldownUntil, pid)
}

func (l *Loop) pruneCooldown(now time.Time) {
	l.cooldownMu.Lock()
	defer l.cooldownMu.Unlock()
	for pid, until := range l.cooldownUntil {
		if !now.Before(until) {
			delete(l.cooldownUntil, pid)
		}
	}
}
