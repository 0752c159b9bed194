package ivag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// SourceCov returns the covariance of the estimated sources for every source
// component vector:
//
//	Σ̂[k,l,n] = w_n^k Rx[:,:,k,l] w_n^lᵀ
//
// where w_n^k is row n of W[:,:,k].
func SourceCov(w, rx *tensor.Dense) (*tensor.Dense, error) {
	l, err := dims(w, nil, rx)
	if err != nil {
		return nil, err
	}
	ws, rs := Floats(w), Floats(rx)
	retVal := NewC(l.n, l.k)
	out := Floats(retVal)
	for src := 0; src < l.n; src++ {
		for a := 0; a < l.k; a++ {
			for b := 0; b < l.k; b++ {
				var sum float64
				for i := 0; i < l.n; i++ {
					wi := ws[l.w(src, i, a)]
					if wi == 0 {
						continue
					}
					for j := 0; j < l.n; j++ {
						sum += wi * rs[l.r(i, j, a, b)] * ws[l.w(src, j, b)]
					}
				}
				out[l.c(a, b, src)] = sum
			}
		}
	}
	return retVal, nil
}

// GradHW is the gradient with respect to W of the data-fit term
// ½ Σ_n tr(C_n Σ̂_n(W)). Row n of the k-th slice is
//
//	Σ_l C[k,l,n] (Rx[:,:,k,l] w_n^lᵀ)ᵀ
func GradHW(w, c, rx *tensor.Dense) (*tensor.Dense, error) {
	l, err := dims(w, c, rx)
	if err != nil {
		return nil, err
	}
	ws, cs, rs := Floats(w), Floats(c), Floats(rx)
	retVal := NewW(l.n, l.k)
	out := Floats(retVal)
	rw := borrowFloats(l.n)
	defer returnFloats(rw)
	for src := 0; src < l.n; src++ {
		for a := 0; a < l.k; a++ {
			for b := 0; b < l.k; b++ {
				coef := cs[l.c(a, b, src)]
				if coef == 0 {
					continue
				}
				for i := 0; i < l.n; i++ {
					var sum float64
					for j := 0; j < l.n; j++ {
						sum += rs[l.r(i, j, a, b)] * ws[l.w(src, j, b)]
					}
					rw[i] = sum
				}
				for i := 0; i < l.n; i++ {
					out[l.w(src, i, a)] += coef * rw[i]
				}
			}
		}
	}
	return retVal, nil
}

// GradHCReg is the gradient with respect to C of the regularized data-fit term
// ½ Σ_n tr(C_n Σ̂_n(W)) + alpha/2 Σ_n ‖C_n‖²_F.
func GradHCReg(w, c, rx *tensor.Dense, alpha float64) (*tensor.Dense, error) {
	if _, err := dims(w, c, rx); err != nil {
		return nil, err
	}
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return nil, errors.Errorf("alpha must be finite. Got %v", alpha)
	}
	retVal, err := SourceCov(w, rx)
	if err != nil {
		return nil, err
	}
	out, cs := Floats(retVal), Floats(c)
	for i := range out {
		out[i] = 0.5*out[i] + alpha*cs[i]
	}
	return retVal, nil
}

// Cost evaluates the full TITAN-IVA-G objective
//
//	½ Σ_n tr(C_n Σ̂_n) + alpha/2 Σ_n ‖C_n‖²_F − Σ_k log|det W_k| − ½ Σ_n log det C_n
//
// It returns +Inf when a W_k is singular or a C_n is not positive definite.
func Cost(w, c, rx *tensor.Dense, alpha float64) (float64, error) {
	l, err := dims(w, c, rx)
	if err != nil {
		return 0, err
	}
	sigma, err := SourceCov(w, rx)
	if err != nil {
		return 0, err
	}
	ss, cs := Floats(sigma), Floats(c)
	var fit, reg float64
	for i := range cs {
		// tr(C Σ̂) = Σ_ab C[a,b] Σ̂[b,a]; both are symmetric
		fit += cs[i] * ss[i]
		reg += cs[i] * cs[i]
	}
	cost := 0.5*fit + 0.5*alpha*reg

	for k := 0; k < l.k; k++ {
		logDet, sign := mat.LogDet(WMatrix(w, k))
		if sign == 0 || math.IsInf(logDet, -1) {
			return math.Inf(1), nil
		}
		cost -= logDet
	}
	for src := 0; src < l.n; src++ {
		var chol mat.Cholesky
		if ok := chol.Factorize(CMatrix(c, src)); !ok {
			return math.Inf(1), nil
		}
		cost -= 0.5 * chol.LogDet()
	}
	return cost, nil
}
