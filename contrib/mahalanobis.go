package contrib

import (
	"fmt"
	"math"
)

// MahalanobisScorer computes the Mahalanobis distance between the current
// feature vector and a process's baseline, plus an entropy-delta term:
//
//	A = (x - μ)ᵀ Σ⁻¹ (x - μ) + wₑ |ΔH|
//
// Adapted from the covariance-based anomaly scorer used elsewhere in this
// ecosystem; re-keyed here to the 15-element correlation feature vector
// and registered as a contrib.AnomalyScorer rather than a built-in engine.
// Registered as "mahalanobis".
type MahalanobisScorer struct {
	entropyWeight float64 // wₑ, default 0.3
}

// NewMahalanobisScorer creates a scorer with the given entropy weight.
// entropyWeight must be in [0,1]; out-of-range values are clamped.
func NewMahalanobisScorer(entropyWeight float64) *MahalanobisScorer {
	if entropyWeight < 0 {
		entropyWeight = 0
	}
	if entropyWeight > 1 {
		entropyWeight = 1
	}
	return &MahalanobisScorer{entropyWeight: entropyWeight}
}

func init() {
	RegisterScorer(NewMahalanobisScorer(0.3))
}

func (m *MahalanobisScorer) Name() string { return "mahalanobis" }

// Score returns 0 if no baseline exists for the process yet. If the
// baseline's inverse covariance is singular (nil), it falls back to
// squared Euclidean distance rather than erroring.
func (m *MahalanobisScorer) Score(req ScoreRequest) (float64, error) {
	if req.Baseline == nil {
		return 0.0, nil
	}

	n := len(req.Baseline.Mean)
	if len(req.Features) != n {
		return 0.0, fmt.Errorf("mahalanobis: dimension mismatch: features=%d baseline=%d",
			len(req.Features), n)
	}

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = req.Features[i] - req.Baseline.Mean[i]
	}

	var mahal float64
	if req.Baseline.InvCovariance != nil {
		mahal = quadraticForm(diff, req.Baseline.InvCovariance)
	} else {
		mahal = euclideanSquared(diff)
	}

	deltaH := math.Abs(req.CurrentEntropy - req.Baseline.BaselineEntropy)
	return mahal + m.entropyWeight*deltaH, nil
}

func (m *MahalanobisScorer) UpdateBaseline(_ UpdateRequest) error { return nil }

// quadraticForm computes vᵀ M v.
func quadraticForm(v []float64, M [][]float64) float64 {
	n := len(v)
	Mv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			Mv[i] += M[i][j] * v[j]
		}
	}
	var result float64
	for i := 0; i < n; i++ {
		result += v[i] * Mv[i]
	}
	return result
}

func euclideanSquared(v []float64) float64 {
	var sum float64
	for _, vi := range v {
		sum += vi * vi
	}
	return sum
}

// InvertCovariance computes the inverse of a symmetric positive-definite
// matrix via Cholesky decomposition. Returns nil if singular or not
// positive-definite, signaling callers to fall back to Euclidean distance.
func InvertCovariance(cov [][]float64) [][]float64 {
	n := len(cov)
	if n == 0 {
		return nil
	}
	L := choleskyDecompose(cov)
	if L == nil {
		return nil
	}
	Linv := invertLowerTriangular(L)
	if Linv == nil {
		return nil
	}
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			for k := 0; k < n; k++ {
				inv[i][j] += Linv[k][i] * Linv[k][j]
			}
		}
	}
	return inv
}

func choleskyDecompose(A [][]float64) [][]float64 {
	n := len(A)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil
				}
				L[i][j] = math.Sqrt(sum)
			} else {
				if L[j][j] == 0 {
					return nil
				}
				L[i][j] = sum / L[j][j]
			}
		}
	}
	return L
}

func invertLowerTriangular(L [][]float64) [][]float64 {
	n := len(L)
	inv := make([][]float64, n)
	for i := range inv {
		inv[i] = make([]float64, n)
	}
	for j := 0; j < n; j++ {
		if L[j][j] == 0 {
			return nil
		}
		inv[j][j] = 1.0 / L[j][j]
		for i := j + 1; i < n; i++ {
			var sum float64
			for k := j; k < i; k++ {
				sum -= L[i][k] * inv[k][j]
			}
			inv[i][j] = sum / L[i][i]
		}
	}
	return inv
}
