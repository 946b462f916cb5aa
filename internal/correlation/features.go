package correlation

import "github.com/ransomwarden/ransomwarden/internal/detector"

// FeatureCount is the fixed feature vector length the classifier and the
// deterministic fallback both operate on.
const FeatureCount = 15

// BuildFeatures assembles the 15-element feature vector from a
// detector.Scores snapshot, in the exact order and with the exact
// derivations required for bit-compatible replay against the original
// model: items 8, 11, 12, 13, and 15 are fixed placeholders reserved for
// future feature engineering, not implemented signals.
func BuildFeatures(s detector.Scores) [FeatureCount]float64 {
	return [FeatureCount]float64{
		float64(s.EntropyScore),                  // 1. entropy_score
		float64(s.MassWriteScore),                // 2. mass_write_score
		float64(s.MassRenameDeleteScore),          // 3. mass_rename_delete_score
		float64(s.RansomNoteScore),                // 4. ransom_note_score
		float64(s.ShadowCopyScore),                // 5. shadow_copy_score
		float64(s.ProcessBehaviorScore),           // 6. process_behavior_score
		float64(s.FileExtensionScore),             // 7. file_extension_score
		0.0,                                       // 8. event_rate (placeholder)
		float64(s.EntropyScore) * 2.0,             // 9. entropy_score * 2.0
		float64(s.MassRenameDeleteScore) * 10.0,   // 10. mass_rename_delete_score * 10.0
		1.0,                                       // 11. burst_interval (placeholder)
		0.0,                                       // 12. num_detectors_firing (placeholder)
		0.0,                                       // 13. file_diversity (placeholder)
		float64(s.MassWriteScore) * 1000.0,        // 14. mass_write_score * 1000.0
		0.0,                                       // 15. unique_extensions (placeholder)
	}
}

// fallbackWeights weights the first 7 features in the deterministic
// fallback. Their sum is 1.0, so no further normalization is needed.
var fallbackWeights = [7]float64{0.20, 0.25, 0.20, 0.15, 0.10, 0.05, 0.05}

// Fallback computes the deterministic weighted-average score used when no
// classifier is loaded or inference fails. It never returns an error and
// is always in [0,1] for well-formed (in-[0,1]) input features.
func Fallback(features [FeatureCount]float64) float64 {
	var weightedSum, totalWeight float64
	for i, w := range fallbackWeights {
		weightedSum += features[i] * w
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}
