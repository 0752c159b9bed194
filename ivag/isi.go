package ivag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// JointISI scores how well W separates the mixtures A. Both are (N, N, K).
// The global system Σ_k |W_k A_k| is compared against a scaled permutation;
// the result is 0 for perfect separation and at most 1.
func JointISI(w, a *tensor.Dense) (float64, error) {
	n, k, err := DimsW(w)
	if err != nil {
		return 0, err
	}
	an, ak, err := DimsW(a)
	if err != nil {
		return 0, errors.WithMessage(err, "mixing")
	}
	if an != n || ak != k {
		return 0, errors.Errorf("W has N=%d K=%d but A has N=%d K=%d", n, k, an, ak)
	}
	if n < 2 {
		return 0, nil
	}

	g := mat.NewDense(n, n, nil)
	var prod mat.Dense
	for kk := 0; kk < k; kk++ {
		prod.Mul(WMatrix(w, kk), WMatrix(a, kk))
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				g.Set(i, j, g.At(i, j)+math.Abs(prod.At(i, j)))
			}
		}
	}

	var rows, cols float64
	for i := 0; i < n; i++ {
		var sum, peak float64
		for j := 0; j < n; j++ {
			v := g.At(i, j)
			sum += v
			peak = math.Max(peak, v)
		}
		if peak == 0 {
			return 0, errors.Wrapf(ErrNumerical, "all-zero row %d of the global system", i)
		}
		rows += sum/peak - 1
	}
	for j := 0; j < n; j++ {
		var sum, peak float64
		for i := 0; i < n; i++ {
			v := g.At(i, j)
			sum += v
			peak = math.Max(peak, v)
		}
		if peak == 0 {
			return 0, errors.Wrapf(ErrNumerical, "all-zero column %d of the global system", j)
		}
		cols += sum/peak - 1
	}
	return (rows + cols) / float64(2*n*(n-1)), nil
}
