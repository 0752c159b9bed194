package unrolled

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Device is where the predictor graphs execute.
type Device int

const (
	CPU Device = iota
)

func (d Device) String() string {
	switch d {
	case CPU:
		return "cpu"
	}
	return fmt.Sprintf("Device(%d)", int(d))
}

// Theory holds the constants of the convergence bound. They are fixed for
// the lifetime of a Block.
type Theory struct {
	GammaC float64 // step size to Lipschitz ratio for C
	GammaW float64 // step size to Lipschitz ratio for W, in (0, 1)
	Eps    float64 // eigenvalue floor of prox_g
	Nu     float64 // in (0, 1)
	Zeta   float64 // > 0
}

// Config configures the unrolled network
type Config struct {
	N, K int // sources, datasets

	Hidden1, Hidden2 int // widths of the alpha predictor
	Layers           int // number of unrolled iterations

	UpdatesW int // inertial sub-steps on W per layer
	UpdatesC int // configured sub-steps on C per layer. Only the first one runs.

	Theory
	AlphaFloor float64 // alpha is clamped to at least this

	Device Device
	Debug  bool // keep an execution log of every predictor VM
}

func DefaultConf(n, k int) Config {
	return Config{
		N:        n,
		K:        k,
		Hidden1:  64,
		Hidden2:  32,
		Layers:   20,
		UpdatesW: 10,
		UpdatesC: 1,
		Theory: Theory{
			GammaC: 1,
			GammaW: 0.99,
			Eps:    1e-12,
			Nu:     0.5,
			Zeta:   0.1,
		},
		AlphaFloor: 1e-10,
		Device:     CPU,
	}
}

// InputDim is the length of the flattened (W, C) pair fed to the predictor.
func (conf Config) InputDim() int {
	return conf.N*conf.N*conf.K + conf.K*conf.K*conf.N
}

func (conf Config) IsValid() bool { return conf.Validate() == nil }

// Validate returns the first reason conf is unusable.
func (conf Config) Validate() error {
	switch {
	case conf.N < 1 || conf.K < 1:
		return configError(fmt.Sprintf("N and K must be positive. Got N=%d K=%d", conf.N, conf.K))
	case conf.Hidden1 < 1 || conf.Hidden2 < 1:
		return configError(fmt.Sprintf("hidden widths must be positive. Got %d, %d", conf.Hidden1, conf.Hidden2))
	case conf.Layers < 1:
		return configError(fmt.Sprintf("need at least one layer. Got %d", conf.Layers))
	case conf.UpdatesW < 1 || conf.UpdatesC < 1:
		return configError(fmt.Sprintf("update counts must be positive. Got W=%d C=%d", conf.UpdatesW, conf.UpdatesC))
	case conf.Device != CPU:
		return configError(fmt.Sprintf("unsupported device %v", conf.Device))
	case !(conf.AlphaFloor > 0) || math.IsInf(conf.AlphaFloor, 0):
		return configError(fmt.Sprintf("alpha floor must be positive. Got %v", conf.AlphaFloor))
	}
	return errors.WithMessage(conf.Theory.Validate(), "theory")
}

// Validate checks the ranges the convergence bound assumes.
func (t Theory) Validate() error {
	switch {
	case !(t.GammaC > 0) || math.IsInf(t.GammaC, 0):
		return configError(fmt.Sprintf("gamma_c must be positive. Got %v", t.GammaC))
	case !(t.GammaW > 0 && t.GammaW < 1):
		return configError(fmt.Sprintf("gamma_w must lie in (0, 1). Got %v", t.GammaW))
	case !(t.Nu > 0 && t.Nu < 1):
		return configError(fmt.Sprintf("nu must lie in (0, 1). Got %v", t.Nu))
	case !(t.Zeta > 0) || math.IsInf(t.Zeta, 0):
		return configError(fmt.Sprintf("zeta must be positive. Got %v", t.Zeta))
	case !(t.Eps >= 0) || math.IsInf(t.Eps, 0):
		return configError(fmt.Sprintf("eps must be non-negative. Got %v", t.Eps))
	}
	return nil
}
