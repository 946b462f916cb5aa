package detector

import (
	"strings"

	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// FileExtensionDetector flags file-creation or file-write events whose
// extension is a known ransomware payload marker.
type FileExtensionDetector struct{}

func (d *FileExtensionDetector) Name() string { return "file_extension" }

// suspiciousExtensions is a set, not a list: the source data duplicated
// ".encrypted" and ".vault", which a map naturally deduplicates.
var suspiciousExtensions = map[string]struct{}{
	".locked":    {},
	".encrypted": {},
	".crypto":    {},
	".vault":     {},
	".ecc":       {},
	".ezz":       {},
	".exx":       {},
	".zzz":       {},
	".aaa":       {},
	".micro":     {},
	".crypted":   {},
	".payfast":   {},
}

func (d *FileExtensionDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	if e.Kind != event.FileCreate && e.Kind != event.FileWrite {
		return 0.0
	}
	ext := extensionOf(e.FilePath)
	if _, ok := suspiciousExtensions[ext]; ok {
		return 1.0
	}
	return 0.0
}

// extensionOf returns the lower-cased substring from the last '.' to the
// end of path, or "" if path has no dot.
func extensionOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[i:])
}
