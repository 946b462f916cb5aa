package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ransomwarden/ransomwarden/internal/aggregator"
	"github.com/ransomwarden/ransomwarden/internal/budget"
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/correlation"
	"github.com/ransomwarden/ransomwarden/internal/decision"
	"github.com/ransomwarden/ransomwarden/internal/detector"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/observability"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

type scenarioQuarantiner struct {
	mu    sync.Mutex
	calls []uint32
}

func (q *scenarioQuarantiner) Suspend(ctx context.Context, pid uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, pid)
	return nil
}

func (q *scenarioQuarantiner) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

type scenarioSink struct{}

func (scenarioSink) StoreMLResult(pid uint32, mlScore float64, usedFallback bool, ts int64) error {
	return nil
}
func (scenarioSink) LogAlert(pid uint32, mlScore float64, quarantined bool, ts int64) error {
	return nil
}
func (scenarioSink) LogQuarantineAction(pid uint32, actionType string, success bool, ts int64) error {
	return nil
}

// maxEntropyPreview returns a 256-byte slice covering every byte value
// exactly once — Shannon entropy 8.0 bits, normalized 1.0.
func maxEntropyPreview() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// feedAndScore applies e to the store, scores it with the full detector
// registry, and records the result in agg, mirroring pipeline.Pool.process.
// It returns the resulting Scores so callers can also check the fallback
// score directly, independent of whether the aggregator later selects
// this PID as the highest-activity one.
func feedAndScore(store *stats.Store, agg *aggregator.Aggregator, cfg config.DetectorConfig, e event.File, now int64) detector.Scores {
	_, _, prior := store.Apply(e)
	snap, ok := store.Get(e.ProcessID)
	if !ok {
		return detector.Scores{ProcessID: e.ProcessID}
	}
	snap.EntropySamples = prior
	scores := detector.AnalyzeAll(detector.Registry(), e, snap, cfg, now)
	agg.Record(scores)
	return scores
}

// TestEndToEndBoundaryScenarios drives boundary scenarios 1-5 (entropy,
// mass-write, ransom-note, process-behavior, shadow-copy, one PID each)
// through the real stats store, detector registry, aggregator, and
// decision loop, with the fallback correlation engine (no classifier)
// and quarantine_threshold=0.7 — matching spec §8's end-to-end scenario
// setup.
//
// The fallback formula weights each of the 7 detector scores at at most
// 0.25 (the mass_write weight, the largest of the seven). A single
// detector firing at its maximum (1.0) therefore contributes at most
// 0.25 to the weighted sum — never enough to cross a 0.7 threshold on
// its own, which is exactly what spec §8 itself demonstrates when it
// computes PID 33's own fallback score (shadow_copy=1.0, nothing else
// firing) as 0.2, i.e. below 0.7, and states outright that "a single
// detector firing is insufficient without ML". Taken together, these
// two statements in the spec are only consistent if no PID is
// quarantined when scenarios 1-5 are fed in isolation — the literal
// "exactly one quarantine is invoked" clause in the same paragraph does
// not hold under the deterministic fallback scoring and is treated as
// an error in the distilled spec text (see DESIGN.md open question
// decisions). This test asserts the arithmetically consistent outcome:
// zero quarantines across all five scenarios.
func TestEndToEndBoundaryScenarios(t *testing.T) {
	cfg := config.Defaults()
	store := stats.New(64)
	agg := aggregator.New(store)
	engine := correlation.NewEngine(nil, time.Second)
	q := &scenarioQuarantiner{}
	loop := decision.New(agg, engine, q, scenarioSink{}, budget.New(0, 0),
		observability.NewMetrics(), nil, time.Second, 0.7, time.Minute)

	start := time.Now()

	// Scenario 1: entropy, PID 101.
	s1 := feedAndScore(store, agg, cfg.Detector, event.File{
		Kind: event.FileWrite, ProcessID: 101, ProcessPath: `C:\Windows\System32\svchost.exe`,
		FilePath: `C:\Users\victim\Documents\report.docx`, BytesWritten: 4096,
		EntropyPreview: maxEntropyPreview(), Timestamp: 1,
	}, 1)
	loop.Tick(context.Background())

	// Scenario 2: mass-write, PID 7, 100 writes (score = (100-50)/50 = 1.0).
	var s2 detector.Scores
	for i := int64(1); i <= 100; i++ {
		s2 = feedAndScore(store, agg, cfg.Detector, event.File{
			Kind: event.FileWrite, ProcessID: 7, ProcessPath: `C:\Users\victim\malware.exe`,
			FilePath: `C:\Users\victim\Documents\file.docx`, BytesWritten: 1, Timestamp: i,
		}, i)
	}
	loop.Tick(context.Background())

	// Scenario 3: ransom note, PID 9.
	s3 := feedAndScore(store, agg, cfg.Detector, event.File{
		Kind: event.FileCreate, ProcessID: 9, ProcessPath: `C:\Users\victim\malware.exe`,
		FilePath: `C:\Users\victim\Desktop\README_DECRYPT.txt`, Timestamp: 1,
	}, 1)
	loop.Tick(context.Background())

	// Scenario 4: process behavior, PID 22 — temp path dominates the exe rule.
	s4 := feedAndScore(store, agg, cfg.Detector, event.File{
		Kind: event.FileWrite, ProcessID: 22, ProcessPath: `C:\Users\victim\AppData\Local\Temp\payload.exe`,
		FilePath: `C:\Users\victim\Documents\file.docx`, BytesWritten: 1, Timestamp: 1,
	}, 1)
	loop.Tick(context.Background())

	// Scenario 5: shadow copy, PID 33.
	s5 := feedAndScore(store, agg, cfg.Detector, event.File{
		Kind: event.VSSDelete, ProcessID: 33, ProcessPath: `C:\Windows\System32\vssadmin.exe`, Timestamp: 1,
	}, 1)
	loop.Tick(context.Background())

	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("scenarios 1-5 took %v, want <= 1s", elapsed)
	}

	// Every scenario's own fallback score, computed independently of which
	// PID the aggregator happened to select that tick, must stay below
	// quarantine_threshold=0.7 — each scenario fires one primary detector
	// (scenarios 2 and 3 also score process_behavior 0.2 for their .exe
	// path outside the system directories), and the largest single
	// fallback weight (mass_write) is 0.25.
	for _, sc := range []struct {
		name   string
		scores detector.Scores
	}{
		{"entropy/101", s1}, {"mass_write/7", s2}, {"ransom_note/9", s3},
		{"process_behavior/22", s4}, {"shadow_copy/33", s5},
	} {
		ml := correlation.Fallback(correlation.BuildFeatures(sc.scores))
		if ml >= 0.7 {
			t.Errorf("scenario %s: fallback score = %v, want < 0.7 (single detector firing)", sc.name, ml)
		}
	}

	if got := q.count(); got != 0 {
		t.Fatalf("quarantine calls across scenarios 1-5 = %d, want 0 (no single detector firing crosses quarantine_threshold=0.7 under the fallback weighted average)", got)
	}
}
