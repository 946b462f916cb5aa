// Package aggregator composes per-PID detector output into the
// DetectorScores snapshot consumed by the correlation engine.
//
// The upstream prototype's get_aggregated_scores() selects the highest-
// activity PID by raw counters but returns a zeroed DetectorScores for it
// — almost certainly a stub. This package preserves the selection rule
// (0.1*writes + 0.2*renames + 0.2*deletes, highest wins) but actually
// populates the returned scores from that PID's most recent detector
// outputs.
package aggregator

import (
	"sync"
	"time"

	"github.com/ransomwarden/ransomwarden/internal/detector"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// Aggregator holds the latest per-PID detector.Scores and selects the
// highest-activity PID on demand.
type Aggregator struct {
	store *stats.Store

	mu     sync.RWMutex
	latest map[uint32]detector.Scores
}

// New creates an Aggregator backed by store for PID activity ranking.
func New(store *stats.Store) *Aggregator {
	return &Aggregator{
		store:  store,
		latest: make(map[uint32]detector.Scores),
	}
}

// Record stores the most recent detector.Scores for a PID, overwriting
// any prior value. Called by the pipeline after every AnalyzeAll.
func (a *Aggregator) Record(scores detector.Scores) {
	a.mu.Lock()
	a.latest[scores.ProcessID] = scores
	a.mu.Unlock()
}

// Forget removes a PID's recorded scores, called when the statistics
// store evicts it for inactivity so the two stay consistent.
func (a *Aggregator) Forget(pid uint32) {
	a.mu.Lock()
	delete(a.latest, pid)
	a.mu.Unlock()
}

// GetAggregatedScores selects the PID with the highest composite activity
// score (0.1*writes + 0.2*renames + 0.2*deletes) and returns its most
// recent DetectorScores with Timestamp set to now. If no PIDs are
// tracked, returns a zero snapshot with ProcessID 0.
func (a *Aggregator) GetAggregatedScores(now time.Time) detector.Scores {
	var (
		best      uint32
		bestScore float64
		found     bool
	)
	a.store.Each(func(s stats.Snapshot) {
		activity := s.ActivityScore()
		if !found || activity > bestScore {
			bestScore = activity
			best = s.ProcessID
			found = true
		}
	})

	if !found {
		return detector.Scores{ProcessID: 0, Timestamp: now.Unix()}
	}

	a.mu.RLock()
	scores, ok := a.latest[best]
	a.mu.RUnlock()
	if !ok {
		// The PID is tracked in the stats store but its scores have not
		// been recorded yet (a tick that lands between the pipeline's
		// store update and its Record call). Return a zero-score snapshot
		// rather than stale data from a different PID.
		scores = detector.Scores{ProcessID: best}
	}
	scores.Timestamp = now.Unix()
	return scores
}
