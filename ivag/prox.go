package ivag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ProxF is the proximal operator of c·(−Σ_k log|det W_k|). Every singular
// value s of W_k is mapped to (s + sqrt(s² + 4c))/2, which keeps each W_k
// invertible.
func ProxF(w *tensor.Dense, c float64) (*tensor.Dense, error) {
	n, k, err := DimsW(w)
	if err != nil {
		return nil, err
	}
	if !(c > 0) || math.IsInf(c, 0) {
		return nil, errors.Errorf("prox_f step must be positive and finite. Got %v", c)
	}
	retVal := NewW(n, k)
	for kk := 0; kk < k; kk++ {
		var svd mat.SVD
		if ok := svd.Factorize(WMatrix(w, kk), mat.SVDFull); !ok {
			return nil, errors.Wrapf(ErrNumerical, "SVD of W[:,:,%d]", kk)
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)
		s := svd.Values(nil)
		for i, si := range s {
			s[i] = 0.5 * (si + math.Sqrt(si*si+4*c))
		}
		var us, out mat.Dense
		us.Mul(&u, mat.NewDiagDense(len(s), s))
		out.Mul(&us, v.T())
		SetWMatrix(retVal, kk, &out)
	}
	return retVal, nil
}

// ProxG is the proximal operator of c·(−½ Σ_n log det C_n) restricted to
// C_n ⪰ eps·I. Every eigenvalue λ of C_n is mapped to
// max(eps, (λ + sqrt(λ² + 2c))/2).
func ProxG(cov *tensor.Dense, c, eps float64) (*tensor.Dense, error) {
	n, k, err := DimsC(cov)
	if err != nil {
		return nil, err
	}
	if !(c > 0) || math.IsInf(c, 0) {
		return nil, errors.Errorf("prox_g step must be positive and finite. Got %v", c)
	}
	if eps < 0 {
		return nil, errors.Errorf("prox_g floor must be non-negative. Got %v", eps)
	}
	retVal := NewC(n, k)
	for src := 0; src < n; src++ {
		var es mat.EigenSym
		if ok := es.Factorize(CMatrix(cov, src), true); !ok {
			return nil, errors.Wrapf(ErrNumerical, "eigendecomposition of C[:,:,%d]", src)
		}
		var q mat.Dense
		es.VectorsTo(&q)
		vals := es.Values(nil)
		for i, v := range vals {
			vals[i] = math.Max(eps, 0.5*(v+math.Sqrt(v*v+2*c)))
		}
		var qd, out mat.Dense
		qd.Mul(&q, mat.NewDiagDense(len(vals), vals))
		out.Mul(&qd, q.T())
		SetCMatrix(retVal, src, &out)
	}
	return retVal, nil
}
