package unrolled

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// WIter runs the inertial proximal gradient sub-steps on W with C held fixed.
type WIter struct {
	Updates int
}

// Forward returns W after it.Updates sub-steps. Each sub-step extrapolates
// from the iterate immediately before it, so the first sub-step carries no
// inertia. The input W is not modified.
func (it WIter) Forward(rx, w, c *tensor.Dense, cw, betaW float64) (*tensor.Dense, error) {
	wOld := ivag.Clone(w)
	for i := 0; i < it.Updates; i++ {
		var err error
		if w, wOld, err = it.update(rx, w, wOld, c, cw, betaW); err != nil {
			return nil, errors.Wrapf(err, "W sub-step %d", i)
		}
	}
	return w, nil
}

func (it WIter) update(rx, w, wOld, c *tensor.Dense, cw, betaW float64) (next, prev *tensor.Dense, err error) {
	inertial, err := ivag.Extrapolate(w, wOld, betaW)
	if err != nil {
		return nil, nil, err
	}
	grad, err := ivag.GradHW(inertial, c, rx)
	if err != nil {
		return nil, nil, err
	}
	step, err := ivag.Descend(inertial, grad, cw)
	if err != nil {
		return nil, nil, err
	}
	if next, err = ivag.ProxF(step, cw); err != nil {
		return nil, nil, err
	}
	return next, w, nil
}

// CIter runs the inertial proximal gradient sub-step on C with W held fixed.
type CIter struct {
	Updates int
}

// Forward returns the updated C and the C it started from.
//
// Only the first of it.Updates sub-steps runs. The snapshot of C taken before
// that sub-step equals C, so the inertial term is zero and betaC has no effect.
func (it CIter) Forward(rx, c, w *tensor.Dense, cc, betaC, alpha, eps float64) (next, prev *tensor.Dense, err error) {
	if it.Updates < 1 {
		return c, ivag.Clone(c), nil
	}
	cOld := ivag.Clone(c)
	if next, prev, err = it.update(rx, c, cOld, w, cc, betaC, alpha, eps); err != nil {
		return nil, nil, errors.Wrap(err, "C sub-step")
	}
	return next, prev, nil
}

func (it CIter) update(rx, c, cOld, w *tensor.Dense, cc, betaC, alpha, eps float64) (next, prev *tensor.Dense, err error) {
	inertial, err := ivag.Extrapolate(c, cOld, betaC)
	if err != nil {
		return nil, nil, err
	}
	grad, err := ivag.GradHCReg(w, inertial, rx, alpha)
	if err != nil {
		return nil, nil, err
	}
	step, err := ivag.Descend(inertial, grad, cc)
	if err != nil {
		return nil, nil, err
	}
	if next, err = ivag.ProxG(step, cc, eps); err != nil {
		return nil, nil, err
	}
	return next, c, nil
}
