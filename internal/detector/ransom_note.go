package detector

import (
	"strings"

	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// RansomNoteDetector matches file and process paths against known ransom
// note filename patterns ("README", "DECRYPT", ...). Matches are
// case-insensitive substrings, not regular expressions.
type RansomNoteDetector struct{}

func (d *RansomNoteDetector) Name() string { return "ransom_note" }

func (d *RansomNoteDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	filePath := strings.ToUpper(e.FilePath)
	for _, pattern := range cfg.RansomNotePatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(filePath, strings.ToUpper(pattern)) {
			return 1.0
		}
	}
	processPath := strings.ToUpper(e.ProcessPath)
	for _, pattern := range cfg.RansomNotePatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(processPath, strings.ToUpper(pattern)) {
			return 0.8
		}
	}
	return 0.0
}
