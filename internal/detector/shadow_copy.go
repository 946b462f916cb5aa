package detector

import (
	"strings"

	"github.com/ransomwarden/ransomwarden/internal/config"
	"github.com/ransomwarden/ransomwarden/internal/event"
	"github.com/ransomwarden/ransomwarden/internal/stats"
)

// ShadowCopyDetector flags volume shadow copy deletion, a strong signal
// that the attacker is removing the recovery path before encrypting.
type ShadowCopyDetector struct{}

func (d *ShadowCopyDetector) Name() string { return "shadow_copy" }

var shadowTools = []string{"vssadmin", "wmic", "shadowcopy"}

func (d *ShadowCopyDetector) Analyze(e event.File, s stats.Snapshot, cfg config.DetectorConfig) float32 {
	if e.Kind == event.VSSDelete {
		return 1.0
	}
	processPath := strings.ToLower(e.ProcessPath)
	for _, tool := range shadowTools {
		if strings.Contains(processPath, tool) {
			return 1.0
		}
	}
	return 0.0
}
