// Package contrib is the plugin extension point for alternative
// correlation scorers.
//
// The core decision loop (internal/decision) always gates on the
// correlation engine's fallback or classifier score (spec §4.5) — a
// contrib.AnomalyScorer is never consulted for the quarantine decision
// itself. No component of the agent calls a registered scorer: the
// package holds the registry and the scorers for callers that look one
// up with GetScorer.
//
// Plugin registration:
//
//	Plugins register themselves in an init() function using RegisterScorer().
//	The config file accepts a scorer name:
//
//	  correlation:
//	    scorer: "zscore"
//
//	The agent loads that value but does not read it; no scorer is
//	selected or run from it.
//
//	Built-in scorers: "zscore", "mahalanobis".
//	Community scorers: registered via contrib.RegisterScorer() from their
//	own init().
//
// Plugin contract:
//   - Score() must be goroutine-safe.
//   - Score() must return in well under the decision loop's cadence.
//   - Score() must not call any blocking I/O (no disk, no network).
//   - Score() must not panic.
//   - Name() must return a stable, unique string (used as registry key).
package contrib

import (
	"fmt"
	"sync"
)

// BaselineSnapshot is the read-only view of a process baseline passed to
// custom scorers. Baselines are optional: a scorer with no established
// baseline for a process should fall back to returning 0, not error.
type BaselineSnapshot struct {
	// ProcessHash is sha256(binary_path), hex-encoded.
	ProcessHash string

	// Mean is the per-feature mean vector.
	Mean []float64

	// StdDev is the per-feature standard deviation, for z-score scorers.
	StdDev []float64

	// InvCovariance is the precomputed inverse covariance matrix, for
	// Mahalanobis-compatible scorers. Nil if singular or not computed.
	InvCovariance [][]float64

	// BaselineEntropy is the normalized entropy of the baseline window.
	BaselineEntropy float64

	// SampleCount is the number of samples used to compute this baseline.
	SampleCount uint32
}

// ScoreRequest is the input to AnomalyScorer.Score().
type ScoreRequest struct {
	// ProcessID is the process being scored.
	ProcessID uint32

	// Features is the current 15-element correlation feature vector
	// (see internal/correlation.BuildFeatures).
	Features []float64

	// CurrentEntropy is the normalized entropy score for the current window.
	CurrentEntropy float64

	// Baseline is the pre-computed baseline for this process binary, if any.
	Baseline *BaselineSnapshot

	// TimestampUnix is the event timestamp in Unix seconds.
	TimestampUnix int64
}

// UpdateRequest is the input to AnomalyScorer.UpdateBaseline(). Nothing
// in the agent calls UpdateBaseline; both built-in scorers implement it
// as a no-op.
type UpdateRequest struct {
	ProcessID    uint32
	ProcessHash  string
	Features     []float64
	EventEntropy float64
}

// AnomalyScorer is the interface custom contrib scorers must implement.
type AnomalyScorer interface {
	// Name returns the unique identifier for this scorer, the key it is
	// registered and looked up under (GetScorer).
	Name() string

	// Score computes a non-negative anomaly score for the given request.
	// Returns 0.0 if no baseline is available.
	Score(req ScoreRequest) (float64, error)

	// UpdateBaseline lets an online scorer update its internal state.
	// May be a no-op.
	UpdateBaseline(req UpdateRequest) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AnomalyScorer)
)

// RegisterScorer registers a custom scorer. Panics if the name is
// already taken — call from init() in plugin packages only.
func RegisterScorer(s AnomalyScorer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("contrib: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// GetScorer returns the registered scorer with the given name.
func GetScorer(name string) (AnomalyScorer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("contrib: scorer %q not registered (available: %v)", name, listNames())
	}
	return s, nil
}

// ListScorers returns the names of all registered scorers.
func ListScorers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return listNames()
}

func listNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// ZScoreScorer is a simple z-score based anomaly scorer: the mean
// squared z-score across all features. Registered as "zscore".
type ZScoreScorer struct{}

func init() {
	RegisterScorer(&ZScoreScorer{})
}

func (z *ZScoreScorer) Name() string { return "zscore" }

func (z *ZScoreScorer) Score(req ScoreRequest) (float64, error) {
	if req.Baseline == nil {
		return 0.0, nil
	}
	if len(req.Features) != len(req.Baseline.Mean) {
		return 0.0, fmt.Errorf("zscore: dimension mismatch: features=%d baseline=%d",
			len(req.Features), len(req.Baseline.Mean))
	}
	var sumSq float64
	n := 0
	for i, x := range req.Features {
		if req.Baseline.StdDev[i] == 0 {
			continue
		}
		zi := (x - req.Baseline.Mean[i]) / req.Baseline.StdDev[i]
		sumSq += zi * zi
		n++
	}
	if n == 0 {
		return 0.0, nil
	}
	return sumSq / float64(n), nil
}

func (z *ZScoreScorer) UpdateBaseline(_ UpdateRequest) error { return nil }
