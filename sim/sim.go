// Package sim generates synthetic IVA-G problems: Gaussian source component
// vectors with a controlled correlation across datasets, mixed by random
// matrices.
package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// Structure is the shape of a correlation matrix built by CreateCovariance.
type Structure int

const (
	// Uniform sets every off-diagonal element to rho.
	Uniform Structure = iota
	// AR is auto-regressive: element (i, j) is rho^|i-j|.
	AR
)

func (s Structure) String() string {
	switch s {
	case Uniform:
		return "uniform"
	case AR:
		return "ar"
	}
	return fmt.Sprintf("Structure(%d)", int(s))
}

// Config describes a family of synthetic problems.
type Config struct {
	N, K int // sources, datasets
	T    int // samples per dataset

	// the correlation of each source across datasets is drawn uniformly from [RhoMin, RhoMax]
	RhoMin, RhoMax float64
	Structure      Structure
}

func DefaultConfig(n, k int) Config {
	return Config{
		N:         n,
		K:         k,
		T:         1000,
		RhoMin:    0.2,
		RhoMax:    0.3,
		Structure: Uniform,
	}
}

func (c Config) IsValid() bool {
	return c.N >= 2 &&
		c.K >= 1 &&
		c.T >= 2 &&
		c.RhoMin >= 0 &&
		c.RhoMin <= c.RhoMax &&
		c.RhoMax < 1
}

// Problem is one mixture: X_k = A_k S_k for every dataset k.
type Problem struct {
	X *tensor.Dense // (N, T, K)
	A *tensor.Dense // (N, N, K)
	S *tensor.Dense // (N, T, K)
}

// CreateCovariance builds a p×p correlation matrix with unit diagonal.
func CreateCovariance(p int, structure Structure, rho float64) (*mat.SymDense, error) {
	if p < 1 {
		return nil, errors.Errorf("p must be positive. Got %d", p)
	}
	sigma := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			switch {
			case i == j:
				sigma.SetSym(i, j, 1)
			case structure == Uniform:
				sigma.SetSym(i, j, rho)
			case structure == AR:
				v := 1.0
				for d := 0; d < j-i; d++ {
					v *= rho
				}
				sigma.SetSym(i, j, v)
			default:
				return nil, errors.Errorf("unknown correlation structure %v", structure)
			}
		}
	}
	return sigma, nil
}

// GenerateSources draws T samples of N source component vectors of dimension K.
// Sources within a dataset are independent with unit variance; the n-th source
// of dataset k and of dataset l have correlation rho[n]. The result has shape
// (N, T, K).
func GenerateSources(rho []float64, n, t, k int, src rand.Source) (*tensor.Dense, error) {
	if len(rho) != n {
		return nil, errors.Errorf("rho has %d elements, expected N=%d", len(rho), n)
	}
	dim := n * k
	joint := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		joint.SetSym(i, i, 1)
	}
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			for s := 0; s < n; s++ {
				joint.SetSym(a*n+s, b*n+s, rho[s])
			}
		}
	}
	dist, ok := distmv.NewNormal(make([]float64, dim), joint, src)
	if !ok {
		return nil, errors.Errorf("joint source covariance is not positive definite for rho=%v", rho)
	}

	backing := make([]float64, n*t*k)
	draw := make([]float64, dim)
	for tt := 0; tt < t; tt++ {
		dist.Rand(draw)
		for i, v := range draw {
			s, kk := i%n, i/n
			backing[(s*t+tt)*k+kk] = v
		}
	}
	return tensor.New(tensor.WithShape(n, t, k), tensor.WithBacking(backing)), nil
}

// NewProblem draws one problem from the family described by conf.
func NewProblem(conf Config, src rand.Source) (Problem, error) {
	if !conf.IsValid() {
		return Problem{}, errors.Errorf("invalid problem config %+v", conf)
	}
	r := rand.New(src)
	rho := make([]float64, conf.N)
	for i := range rho {
		rho[i] = conf.RhoMin + (conf.RhoMax-conf.RhoMin)*r.Float64()
	}
	if conf.Structure != Uniform {
		// shape the per-source correlations like a correlation row of the structure
		sigma, err := CreateCovariance(conf.N+1, conf.Structure, rho[0])
		if err != nil {
			return Problem{}, err
		}
		for i := range rho {
			rho[i] = sigma.At(0, i+1)
		}
	}
	s, err := GenerateSources(rho, conf.N, conf.T, conf.K, src)
	if err != nil {
		return Problem{}, err
	}

	a, _, err := ivag.Initialize(conf.N, conf.K, ivag.Random, src)
	if err != nil {
		return Problem{}, err
	}
	x, err := Mix(a, s)
	if err != nil {
		return Problem{}, err
	}
	return Problem{X: x, A: a, S: s}, nil
}

// Mix returns X with X[:,:,k] = A[:,:,k] S[:,:,k].
func Mix(a, s *tensor.Dense) (*tensor.Dense, error) {
	n, k, err := ivag.DimsW(a)
	if err != nil {
		return nil, errors.WithMessage(err, "mixing")
	}
	shape := s.Shape()
	if len(shape) != 3 || shape[0] != n || shape[2] != k {
		return nil, errors.Errorf("sources of shape %v cannot be mixed by A of shape %v", shape, a.Shape())
	}
	t := shape[1]
	ss := ivag.Floats(s)
	backing := make([]float64, n*t*k)
	for kk := 0; kk < k; kk++ {
		ak := ivag.WMatrix(a, kk)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				aij := ak.At(i, j)
				for tt := 0; tt < t; tt++ {
					backing[(i*t+tt)*k+kk] += aij * ss[(j*t+tt)*k+kk]
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(n, t, k), tensor.WithBacking(backing)), nil
}
