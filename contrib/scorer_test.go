package contrib

import "testing"

func TestZScoreScorerNoBaseline(t *testing.T) {
	z := &ZScoreScorer{}
	score, err := z.Score(ScoreRequest{Features: []float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0 with nil baseline", score)
	}
}

func TestZScoreScorerDimensionMismatch(t *testing.T) {
	z := &ZScoreScorer{}
	_, err := z.Score(ScoreRequest{
		Features: []float64{1, 2},
		Baseline: &BaselineSnapshot{Mean: []float64{0, 0, 0}, StdDev: []float64{1, 1, 1}},
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestZScoreScorerComputesMeanSquaredZ(t *testing.T) {
	z := &ZScoreScorer{}
	score, err := z.Score(ScoreRequest{
		Features: []float64{2, 4},
		Baseline: &BaselineSnapshot{Mean: []float64{0, 0}, StdDev: []float64{1, 2}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// z1 = 2, z2 = 2 -> mean squared z = (4+4)/2 = 4
	if score != 4 {
		t.Errorf("score = %v, want 4", score)
	}
}

func TestMahalanobisScorerNoBaseline(t *testing.T) {
	m := NewMahalanobisScorer(0.3)
	score, err := m.Score(ScoreRequest{Features: []float64{1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 0 {
		t.Errorf("score = %v, want 0 with nil baseline", score)
	}
}

func TestMahalanobisScorerEuclideanFallback(t *testing.T) {
	m := NewMahalanobisScorer(0)
	score, err := m.Score(ScoreRequest{
		Features: []float64{3, 4},
		Baseline: &BaselineSnapshot{Mean: []float64{0, 0}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 25 {
		t.Errorf("score = %v, want 25 (3^2+4^2, Euclidean fallback)", score)
	}
}

func TestInvertCovarianceIdentity(t *testing.T) {
	inv := InvertCovariance([][]float64{{1, 0}, {0, 1}})
	if inv == nil {
		t.Fatal("expected non-nil inverse for identity matrix")
	}
	if inv[0][0] != 1 || inv[1][1] != 1 || inv[0][1] != 0 || inv[1][0] != 0 {
		t.Errorf("inverse of identity = %v, want identity", inv)
	}
}

func TestInvertCovarianceSingular(t *testing.T) {
	inv := InvertCovariance([][]float64{{0, 0}, {0, 0}})
	if inv != nil {
		t.Errorf("expected nil for singular matrix, got %v", inv)
	}
}

func TestRegistryHasBuiltins(t *testing.T) {
	if _, err := GetScorer("zscore"); err != nil {
		t.Errorf("zscore not registered: %v", err)
	}
	if _, err := GetScorer("mahalanobis"); err != nil {
		t.Errorf("mahalanobis not registered: %v", err)
	}
	if _, err := GetScorer("nonexistent"); err == nil {
		t.Error("expected error for unregistered scorer")
	}
}
