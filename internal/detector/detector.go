// Package detector implements the uniform detector interface and the seven
// heuristic detectors that score per-process activity.
//
// Contract (spec §4.3): each detector is a pure function of
// (event, stats, config); it must not block, perform I/O, or panic on
// malformed input — empty strings, zero-length previews, and a zero
// timestamp must all yield 0.0 rather than an error.
package detector

import (
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// Detector exposes a name and an analyze function producing a score in
// [0,1]. Implementations must be goroutine-safe — the pipeline invokes
// all seven from possibly-concurrent worker goroutines (never the same
// PID concurrently, but the Detector values themselves are shared).
type Detector interface {
	Name() string
	Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32
}

// Scores is the fixed, ordered set of per-detector outputs for one PID at
// one point in time. The ordering matches the feature-vector assembly in
// the correlation engine (§4.5, features 1-7).
type Scores struct {
	ProcessID              uint32
	EntropyScore           float32
	MassWriteScore         float32
	MassRenameDeleteScore  float32
	RansomNoteScore        float32
	ShadowCopyScore        float32
	ProcessBehaviorScore   float32
	FileExtensionScore     float32
	Timestamp              int64
}

// Registry returns the seven detectors in the fixed order the aggregator
// and correlation engine expect.
func Registry() []Detector {
	return []Detector{
		&EntropyDetector{},
		&MassWriteDetector{},
		&MassRenameDeleteDetector{},
		&RansomNoteDetector{},
		&ShadowCopyDetector{},
		&ProcessBehaviorDetector{},
		&FileExtensionDetector{},
	}
}

// AnalyzeAll runs every detector in Registry() order against the same
// (event, stats, config) and assembles a Scores snapshot. The caller
// supplies timestamp (typically time.Now().Unix()) since detectors
// themselves are stateless and do not clock their own output.
func AnalyzeAll(detectors []Detector, e event.File, s stats.Snapshot, cfg config.DetectorConfig, now int64) Scores {
	var out Scores
	out.ProcessID = e.ProcessID
	out.Timestamp = now
	for _, d := range detectors {
		score := d.Analyze(e, s, cfg)
		switch d.Name() {
		case "entropy":
			out.EntropyScore = score
		case "mass_write":
			out.MassWriteScore = score
		case "mass_rename_delete":
			out.MassRenameDeleteScore = score
		case "ransom_note":
			out.RansomNoteScore = score
		case "shadow_copy":
			out.ShadowCopyScore = score
		case "process_behavior":
			out.ProcessBehaviorScore = score
		case "file_extension":
			out.FileExtensionScore = score
		}
	}
	return out
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
