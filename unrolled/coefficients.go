package unrolled

import (
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// Coefficients are the step sizes and inertial weights of one block.
type Coefficients struct {
	CW, BetaW float64 // W step size and inertia
	CC, BetaC float64 // C step size and inertia
}

// SolveCoefficients derives the coefficients of a block from the spectral norm
// rho of Rx, alpha, and the Lipschitz surrogates of the current and previous C.
//
// Every intermediate quantity is checked. A zero or non-finite denominator, a
// negative radicand, or a result outside 0 < c and 0 ≤ beta < 1 is reported as
// a numerical error.
func SolveCoefficients(t Theory, k int, rho, alpha, lipC, lipCOld float64) (Coefficients, error) {
	var co Coefficients
	if k < 1 {
		return co, configError("K must be positive")
	}
	switch {
	case !finitePos(alpha):
		return co, numerical("alpha", alpha)
	case !finitePos(rho):
		return co, numerical("rho_Rx", rho)
	case !finiteNonNeg(lipC):
		return co, numerical("lipschitz(C)", lipC)
	case !finiteNonNeg(lipCOld):
		return co, numerical("lipschitz(C_old)", lipCOld)
	}
	gc, gw, nu, zeta := t.GammaC, t.GammaW, t.Nu, t.Zeta
	kf := float64(k)

	lSup := math.Max(gw*alpha/(1-gw), rho*2*kf*(1+math.Sqrt(2/(alpha*gc))))
	if !finitePos(lSup) {
		return co, numerical("l_sup", lSup)
	}
	c0 := math.Min(gc*gc/(kf*kf), math.Min(
		alpha*gw/((1+zeta)*(1-gw)*lSup),
		rho/((1+zeta)*lSup)))
	if !finitePos(c0) {
		return co, numerical("C0", c0)
	}

	lInf := (1 + zeta) * c0 * lSup
	lwPrev := math.Max(lInf, lipCOld)
	lw := math.Max(lInf, lipC)
	if !finitePos(lw) {
		return co, numerical("L_w", lw)
	}

	radW := c0 * nu * (1 - nu) * lwPrev / lw
	radC := c0 * nu * (1 - nu)
	switch {
	case radW < 0 || math.IsNaN(radW):
		return co, numerical("beta_w radicand", radW)
	case radC < 0 || math.IsNaN(radC):
		return co, numerical("beta_c radicand", radC)
	}

	co = Coefficients{
		CW:    gw / lw,
		BetaW: (1 - gw) * math.Sqrt(radW),
		CC:    gc / alpha,
		BetaC: math.Sqrt(radC),
	}
	switch {
	case !finitePos(co.CW):
		return co, numerical("c_w", co.CW)
	case !finitePos(co.CC):
		return co, numerical("c_c", co.CC)
	case co.BetaW >= 1:
		return co, numerical("beta_w", co.BetaW)
	case co.BetaC >= 1:
		return co, numerical("beta_c", co.BetaC)
	}
	return co, nil
}

// Coefficients computes the coefficient set of b for the given observation and
// C iterates. alpha is clamped to the configured floor first.
func (b *Block) Coefficients(rx, c, cOld *tensor.Dense, alpha float64) (Coefficients, error) {
	if math.IsNaN(alpha) {
		return Coefficients{}, numerical("alpha", alpha)
	}
	alpha = math.Max(alpha, b.alphaFloor)
	rho, err := ivag.SpectralNorm(rx)
	if err != nil {
		return Coefficients{}, errors.Wrap(err, "spectral norm of Rx")
	}
	lipC, err := ivag.Lipschitz(c, rho)
	if err != nil {
		return Coefficients{}, errors.Wrap(err, "lipschitz(C)")
	}
	lipCOld, err := ivag.Lipschitz(cOld, rho)
	if err != nil {
		return Coefficients{}, errors.Wrap(err, "lipschitz(C_old)")
	}
	_, k, err := ivag.DimsC(c)
	if err != nil {
		return Coefficients{}, err
	}
	return SolveCoefficients(b.theory, k, rho, alpha, lipC, lipCOld)
}

func finitePos(x float64) bool    { return x > 0 && !math.IsInf(x, 0) }
func finiteNonNeg(x float64) bool { return x >= 0 && !math.IsInf(x, 0) }
