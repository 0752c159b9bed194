package unrolled

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// Trace is what a block derived on its last invocation.
type Trace struct {
	Alpha float64
	Coefficients
}

// Block is one unrolled iteration: predict alpha, derive the coefficients,
// update W, then update C.
type Block struct {
	predictor *Predictor
	wIter     WIter
	cIter     CIter

	theory     Theory
	alphaFloor float64
	n, k       int

	last Trace
}

// NewBlock creates a block with a freshly initialized predictor.
func NewBlock(conf Config) (*Block, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	p, err := NewPredictor(conf.InputDim(), conf.Hidden1, conf.Hidden2, conf.Debug)
	if err != nil {
		return nil, err
	}
	return &Block{
		predictor:  p,
		wIter:      WIter{Updates: conf.UpdatesW},
		cIter:      CIter{Updates: conf.UpdatesC},
		theory:     conf.Theory,
		alphaFloor: conf.AlphaFloor,
		n:          conf.N,
		k:          conf.K,
	}, nil
}

func (b *Block) Predictor() *Predictor { return b.predictor }
func (b *Block) State() LayerState     { return b.predictor.State() }
func (b *Block) Last() Trace           { return b.last }

// Check fails with a shape error unless every given array matches the
// configured N and K. Nil arrays are skipped.
func (b *Block) Check(rx, w, c *tensor.Dense) error {
	n, k := b.n, b.k
	for _, a := range []struct {
		name  string
		arr   *tensor.Dense
		shape tensor.Shape
	}{
		{"Rx", rx, tensor.Shape{n, n, k, k}},
		{"W", w, tensor.Shape{n, n, k}},
		{"C", c, tensor.Shape{k, k, n}},
	} {
		if a.arr == nil {
			continue
		}
		if !a.arr.Shape().Eq(a.shape) {
			return errors.WithStack(shapeError{what: a.name, want: a.shape, have: a.arr.Shape()})
		}
		if a.arr.Dtype() != Float {
			return errors.WithStack(shapeError{what: a.name + " dtype", want: Float, have: a.arr.Dtype()})
		}
	}
	return nil
}

// Alpha predicts the regularization weight for (W, C), clamped to the floor.
func (b *Block) Alpha(w, c *tensor.Dense) (float64, error) {
	alpha, err := b.predictor.Predict(w, c)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) {
		return 0, numerical("alpha", alpha)
	}
	return math.Max(alpha, b.alphaFloor), nil
}

// Forward computes the next (W, C, C_old) from the current iterates.
func (b *Block) Forward(rx, w, c, cOld *tensor.Dense) (wNext, cNext, cOldNext *tensor.Dense, err error) {
	if err = b.Check(rx, w, c); err != nil {
		return
	}
	alpha, err := b.Alpha(w, c)
	if err != nil {
		return nil, nil, nil, err
	}
	return b.Step(rx, w, c, cOld, alpha)
}

// Step is Forward with alpha given instead of predicted. It does not touch
// the predictor, so it may be called repeatedly to differentiate the block
// with respect to alpha.
func (b *Block) Step(rx, w, c, cOld *tensor.Dense, alpha float64) (wNext, cNext, cOldNext *tensor.Dense, err error) {
	if err = b.Check(rx, w, c); err != nil {
		return
	}
	if err = b.Check(nil, nil, cOld); err != nil {
		return
	}
	if math.IsNaN(alpha) {
		return nil, nil, nil, numerical("alpha", alpha)
	}
	alpha = math.Max(alpha, b.alphaFloor)
	if !ivag.IsFinite(w) || !ivag.IsFinite(c) {
		return nil, nil, nil, numerical("entry of (W, C)", math.NaN())
	}

	co, err := b.Coefficients(rx, c, cOld, alpha)
	if err != nil {
		return nil, nil, nil, err
	}
	b.last = Trace{Alpha: alpha, Coefficients: co}

	if wNext, err = b.wIter.Forward(rx, w, c, co.CW, co.BetaW); err != nil {
		return nil, nil, nil, err
	}
	if !ivag.IsFinite(wNext) {
		return nil, nil, nil, numerical("entry of updated W", math.NaN())
	}
	if cNext, cOldNext, err = b.cIter.Forward(rx, c, wNext, co.CC, co.BetaC, alpha, b.theory.Eps); err != nil {
		return nil, nil, nil, err
	}
	if !ivag.IsFinite(cNext) {
		return nil, nil, nil, numerical("entry of updated C", math.NaN())
	}
	return wNext, cNext, cOldNext, nil
}

// Close releases the predictor's VM.
func (b *Block) Close() error { return b.predictor.Close() }
