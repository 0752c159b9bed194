package ivag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// CovX computes the observed covariance Rx from observations X of shape (N, T, K).
//
//	Rx[i,j,k,l] = 1/T Σ_t X[i,t,k] X[j,t,l]
func CovX(x *tensor.Dense) (*tensor.Dense, error) {
	s := x.Shape()
	if len(s) != 3 {
		return nil, errors.Errorf("expected X of shape (N, T, K). Got %v", s)
	}
	if x.Dtype() != tensor.Float64 {
		return nil, errors.Errorf("expected X of Float64. Got %v", x.Dtype())
	}
	n, t, k := s[0], s[1], s[2]
	if t == 0 {
		return nil, errors.New("cannot compute a covariance from zero samples")
	}
	l := layout{n: n, k: k}
	xs := Floats(x)
	at := func(i, tt, kk int) float64 { return xs[(i*t+tt)*k+kk] }

	rx := tensor.New(tensor.WithShape(n, n, k, k), tensor.WithBacking(make([]float64, n*n*k*k)))
	data := Floats(rx)
	inv := 1 / float64(t)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for a := 0; a < k; a++ {
				for b := 0; b < k; b++ {
					var sum float64
					for tt := 0; tt < t; tt++ {
						sum += at(i, tt, a) * at(j, tt, b)
					}
					data[l.r(i, j, a, b)] = sum * inv
				}
			}
		}
	}
	return rx, nil
}

// Extract assembles the NK×NK block matrix whose (k, l) block is Rx[:,:,k,l].
func Extract(rx *tensor.Dense) (*mat.SymDense, error) {
	n, k, err := DimsRx(rx)
	if err != nil {
		return nil, err
	}
	l := layout{n: n, k: k}
	data := Floats(rx)
	full := mat.NewSymDense(n*k, nil)
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					row, col := a*n+i, b*n+j
					if row > col {
						continue
					}
					sym := 0.5 * (data[l.r(i, j, a, b)] + data[l.r(j, i, b, a)])
					full.SetSym(row, col, sym)
				}
			}
		}
	}
	return full, nil
}

// SpectralNorm returns the spectral norm of the block matrix assembled from Rx.
func SpectralNorm(rx *tensor.Dense) (float64, error) {
	full, err := Extract(rx)
	if err != nil {
		return 0, err
	}
	return symNorm(full)
}

// Lipschitz returns the Lipschitz bound of the W-gradient of the data-fit term
// for a fixed C, given the spectral norm rho of Rx:
//
//	rho · max_n ‖C[:,:,n]‖₂
func Lipschitz(c *tensor.Dense, rho float64) (float64, error) {
	n, _, err := DimsC(c)
	if err != nil {
		return 0, err
	}
	var largest float64
	for src := 0; src < n; src++ {
		norm, err := symNorm(CMatrix(c, src))
		if err != nil {
			return 0, errors.Wrapf(err, "source %d", src)
		}
		if norm > largest {
			largest = norm
		}
	}
	return rho * largest, nil
}

func symNorm(a mat.Symmetric) (float64, error) {
	var es mat.EigenSym
	if ok := es.Factorize(a, false); !ok {
		return 0, ErrNumerical
	}
	var largest float64
	for _, v := range es.Values(nil) {
		if abs := math.Abs(v); abs > largest {
			largest = abs
		}
	}
	return largest, nil
}
