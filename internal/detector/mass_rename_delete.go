package detector

import (
	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// MassRenameDeleteDetector flags processes renaming or deleting an
// abnormally large number of files within a short window — typical of
// ransomware overwriting originals with encrypted copies.
type MassRenameDeleteDetector struct{}

func (d *MassRenameDeleteDetector) Name() string { return "mass_rename_delete" }

func (d *MassRenameDeleteDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	if e.Kind != event.FileRename && e.Kind != event.FileDelete {
		return 0.0
	}
	w := cfg.RenameDeleteWindowSeconds
	t := cfg.RenameDeleteThreshold
	if s.LastUpdate < e.Timestamp-w {
		return 0.0
	}
	ops := int64(s.FileRenames) + int64(s.FileDeletes)
	if ops >= int64(t) {
		return clamp01(float32(float64(ops-int64(t)) / float64(t)))
	}
	return 0.0
}
