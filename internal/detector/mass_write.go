package detector

import (
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// MassWriteDetector flags processes writing to an abnormally large number
// of files within a short window.
type MassWriteDetector struct{}

func (d *MassWriteDetector) Name() string { return "mass_write" }

func (d *MassWriteDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	if e.Kind != event.FileWrite {
		return 0.0
	}
	w := cfg.MassWriteWindowSeconds
	t := cfg.MassWriteThreshold
	if s.LastUpdate < e.Timestamp-w {
		return 0.0 // Stale window.
	}
	if int64(s.FileWrites) >= int64(t) {
		return clamp01(float32(float64(int64(s.FileWrites)-int64(t)) / float64(t)))
	}
	return 0.0
}
