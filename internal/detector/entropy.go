package detector

import (
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// EntropyDetector flags writes whose payload is significantly more random
// than the process's recent baseline — a strong signal of encryption.
type EntropyDetector struct{}

func (d *EntropyDetector) Name() string { return "entropy" }

// Analyze only considers FileWrite events carrying a non-empty entropy
// preview. s.EntropySamples must hold the samples preceding this write,
// not including it — the caller (pipeline.Pool.process) is responsible
// for substituting the pre-update ring before invoking detectors, since
// stats.Store.Apply pushes this write's own sample into the store ahead
// of Get.
func (d *EntropyDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	if e.Kind != event.FileWrite || len(e.EntropyPreview) == 0 {
		return 0.0
	}

	entropy := stats.ShannonEntropy(e.EntropyPreview) / 8.0

	if len(s.EntropySamples) >= 2 {
		avg := mean(s.EntropySamples)
		if (entropy-avg) > 0.3 && entropy > cfg.EntropyThreshold {
			return 1.0
		}
	}
	if entropy > cfg.EntropyThreshold {
		return clamp01(float32(entropy))
	}
	return 0.0
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
