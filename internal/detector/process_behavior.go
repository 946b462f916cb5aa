package detector

import (
	"strings"

	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// ProcessBehaviorDetector scores based on where the process binary lives:
// temp/downloads directories are mildly suspicious; an unsigned-looking
// .exe outside the usual install directories slightly less so.
type ProcessBehaviorDetector struct{}

func (d *ProcessBehaviorDetector) Name() string { return "process_behavior" }

func (d *ProcessBehaviorDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	p := strings.ToLower(e.ProcessPath)
	if strings.Contains(p, "temp") || strings.Contains(p, `appdata\local\temp`) || strings.Contains(p, "downloads") {
		return 0.3
	}
	if strings.HasSuffix(p, ".exe") && !strings.Contains(p, "program files") && !strings.Contains(p, `windows\system32`) {
		return 0.2
	}
	return 0.0
}
