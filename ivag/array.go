// Package ivag holds the numerical primitives of the IVA-G model that the
// unrolled network is built on: covariance estimation, gradients of the
// data-fit term, proximal operators and the joint ISI score.
//
// Arrays are float64 *tensor.Dense with the following layouts:
//
//	W  (N, N, K)     W[:,:,k] is the unmixing matrix of dataset k
//	C  (K, K, N)     C[:,:,n] is the covariance statistic of source vector n
//	Rx (N, N, K, K)  Rx[:,:,k,l] = E[x_k x_lᵀ]
//	X  (N, T, K)     observations
//	A  (N, N, K)     mixing matrices
package ivag

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// ErrNumerical is the cause of every error raised because a factorization
// failed or a quantity degenerated.
var ErrNumerical = errors.New("numerical failure")

// layout computes flat offsets into row-major W, C and Rx arrays.
type layout struct{ n, k int }

func (l layout) w(i, j, k int) int    { return (i*l.n+j)*l.k + k }
func (l layout) c(a, b, n int) int    { return (a*l.k+b)*l.n + n }
func (l layout) r(i, j, a, b int) int { return ((i*l.n+j)*l.k+a)*l.k + b }

// NewW returns a zeroed (N, N, K) array.
func NewW(n, k int) *tensor.Dense {
	return tensor.New(tensor.WithShape(n, n, k), tensor.WithBacking(make([]float64, n*n*k)))
}

// NewC returns a zeroed (K, K, N) array.
func NewC(n, k int) *tensor.Dense {
	return tensor.New(tensor.WithShape(k, k, n), tensor.WithBacking(make([]float64, k*k*n)))
}

// Clone returns a deep copy of a.
func Clone(a *tensor.Dense) *tensor.Dense { return a.Clone().(*tensor.Dense) }

// Floats returns the backing slice of a float64 array.
func Floats(a *tensor.Dense) []float64 { return a.Data().([]float64) }

// DimsW returns N and K of an unmixing array.
func DimsW(w *tensor.Dense) (n, k int, err error) {
	s := w.Shape()
	if len(s) != 3 || s[0] != s[1] {
		return 0, 0, errors.Errorf("expected W of shape (N, N, K). Got %v", s)
	}
	if w.Dtype() != tensor.Float64 {
		return 0, 0, errors.Errorf("expected W of Float64. Got %v", w.Dtype())
	}
	return s[0], s[2], nil
}

// DimsC returns N and K of a source covariance array.
func DimsC(c *tensor.Dense) (n, k int, err error) {
	s := c.Shape()
	if len(s) != 3 || s[0] != s[1] {
		return 0, 0, errors.Errorf("expected C of shape (K, K, N). Got %v", s)
	}
	if c.Dtype() != tensor.Float64 {
		return 0, 0, errors.Errorf("expected C of Float64. Got %v", c.Dtype())
	}
	return s[2], s[0], nil
}

// DimsRx returns N and K of an observed covariance array.
func DimsRx(rx *tensor.Dense) (n, k int, err error) {
	s := rx.Shape()
	if len(s) != 4 || s[0] != s[1] || s[2] != s[3] {
		return 0, 0, errors.Errorf("expected Rx of shape (N, N, K, K). Got %v", s)
	}
	if rx.Dtype() != tensor.Float64 {
		return 0, 0, errors.Errorf("expected Rx of Float64. Got %v", rx.Dtype())
	}
	return s[0], s[2], nil
}

// dims checks that W, C and Rx agree with one another. Any of them may be nil.
func dims(w, c, rx *tensor.Dense) (l layout, err error) {
	l.n, l.k = -1, -1
	agree := func(n, k int) error {
		if l.n >= 0 && (n != l.n || k != l.k) {
			return errors.Errorf("inconsistent dimensions: N=%d K=%d vs N=%d K=%d", n, k, l.n, l.k)
		}
		l.n, l.k = n, k
		return nil
	}
	var n, k int
	if w != nil {
		if n, k, err = DimsW(w); err != nil {
			return
		}
		if err = agree(n, k); err != nil {
			return
		}
	}
	if c != nil {
		if n, k, err = DimsC(c); err != nil {
			return
		}
		if err = agree(n, k); err != nil {
			return
		}
	}
	if rx != nil {
		if n, k, err = DimsRx(rx); err != nil {
			return
		}
		if err = agree(n, k); err != nil {
			return
		}
	}
	return l, nil
}

// WMatrix copies W[:,:,k] out as an N×N matrix.
func WMatrix(w *tensor.Dense, k int) *mat.Dense {
	s := w.Shape()
	l := layout{n: s[0], k: s[2]}
	data := Floats(w)
	m := mat.NewDense(l.n, l.n, nil)
	for i := 0; i < l.n; i++ {
		for j := 0; j < l.n; j++ {
			m.Set(i, j, data[l.w(i, j, k)])
		}
	}
	return m
}

// SetWMatrix writes m into W[:,:,k].
func SetWMatrix(w *tensor.Dense, k int, m mat.Matrix) {
	s := w.Shape()
	l := layout{n: s[0], k: s[2]}
	data := Floats(w)
	for i := 0; i < l.n; i++ {
		for j := 0; j < l.n; j++ {
			data[l.w(i, j, k)] = m.At(i, j)
		}
	}
}

// CMatrix copies C[:,:,n] out as a symmetric K×K matrix. The lower and upper
// triangles are averaged.
func CMatrix(c *tensor.Dense, n int) *mat.SymDense {
	s := c.Shape()
	l := layout{n: s[2], k: s[0]}
	data := Floats(c)
	m := mat.NewSymDense(l.k, nil)
	for a := 0; a < l.k; a++ {
		for b := a; b < l.k; b++ {
			m.SetSym(a, b, 0.5*(data[l.c(a, b, n)]+data[l.c(b, a, n)]))
		}
	}
	return m
}

// SetCMatrix writes m into C[:,:,n].
func SetCMatrix(c *tensor.Dense, n int, m mat.Matrix) {
	s := c.Shape()
	l := layout{n: s[2], k: s[0]}
	data := Floats(c)
	for a := 0; a < l.k; a++ {
		for b := 0; b < l.k; b++ {
			data[l.c(a, b, n)] = m.At(a, b)
		}
	}
}

// IdentityC returns C with every C[:,:,n] set to the K×K identity.
func IdentityC(n, k int) *tensor.Dense {
	c := NewC(n, k)
	l := layout{n: n, k: k}
	data := Floats(c)
	for src := 0; src < n; src++ {
		for a := 0; a < k; a++ {
			data[l.c(a, a, src)] = 1
		}
	}
	return c
}

// Extrapolate returns x + beta*(x - xOld).
func Extrapolate(x, xOld *tensor.Dense, beta float64) (*tensor.Dense, error) {
	if !x.Shape().Eq(xOld.Shape()) {
		return nil, errors.Errorf("cannot extrapolate %v from %v", x.Shape(), xOld.Shape())
	}
	retVal := Clone(x)
	out, prev := Floats(retVal), Floats(xOld)
	for i := range out {
		out[i] += beta * (out[i] - prev[i])
	}
	return retVal, nil
}

// Descend returns x - step*grad.
func Descend(x, grad *tensor.Dense, step float64) (*tensor.Dense, error) {
	if !x.Shape().Eq(grad.Shape()) {
		return nil, errors.Errorf("gradient of shape %v does not match %v", grad.Shape(), x.Shape())
	}
	retVal := Clone(x)
	out, g := Floats(retVal), Floats(grad)
	for i := range out {
		out[i] -= step * g[i]
	}
	return retVal, nil
}

// IsFinite reports whether every entry of a is neither NaN nor ±Inf.
func IsFinite(a *tensor.Dense) bool {
	for _, v := range Floats(a) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
