// Package correlation implements the ML correlation engine: feature
// vector assembly, optional classifier invocation, and the required
// deterministic fallback.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/ransomwarden/ransomwarden/internal/detector"
)

// Engine holds an optional loaded classifier and fuses detector scores
// into a single ml score in [0,1]. It must tolerate the classifier's
// absence and any inference failure by always falling back to the
// deterministic weighted average — inference failure never propagates
// upward.
type Engine struct {
	// mu serializes classifier inference, matching the spec's requirement
	// that the shared classifier handle be accessed through an exclusive
	// lock rather than assumed safe for concurrent calls.
	mu         sync.Mutex
	classifier *Classifier
	timeout    time.Duration

	// onFallback, if set, is invoked once per Infer call that used the
	// fallback path (absent classifier or failed/timed-out inference).
	// Used by the agent to drive an InferenceError metrics counter.
	onFallback func()
}

// NewEngine creates an Engine. classifier may be nil, meaning the
// fallback is always used. timeout <= 0 defaults to 250ms.
func NewEngine(classifier *Classifier, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Engine{classifier: classifier, timeout: timeout}
}

// OnFallback registers a callback invoked whenever Infer falls back.
func (e *Engine) OnFallback(fn func()) {
	e.onFallback = fn
}

// Infer scores the given detector.Scores snapshot. usedFallback reports
// whether the deterministic weighted average was used instead of the
// classifier, either because no classifier is loaded or because
// inference failed or exceeded the soft timeout.
func (e *Engine) Infer(ctx context.Context, scores detector.Scores) (ml float64, usedFallback bool) {
	features := BuildFeatures(scores)

	if e.classifier == nil {
		e.fallback()
		return Fallback(features), true
	}

	type result struct {
		score float64
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		s, err := e.classifier.Infer(features)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			e.fallback()
			return Fallback(features), true
		}
		return clamp01(r.score), false
	case <-time.After(e.timeout):
		e.fallback()
		return Fallback(features), true
	case <-ctx.Done():
		e.fallback()
		return Fallback(features), true
	}
}

func (e *Engine) fallback() {
	if e.onFallback != nil {
		e.onFallback()
	}
}
