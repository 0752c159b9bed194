package unrolled

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
	"github.com/gaspardblaise/Unrolled-TITAN/sim"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func smallConf(layers int) Config {
	conf := DefaultConf(2, 2)
	conf.Hidden1 = 8
	conf.Hidden2 = 4
	conf.Layers = layers
	conf.UpdatesW = 3
	return conf
}

// scenario is the N=2, K=2 fixture: W all 0.5, C the stacked identity and a
// fixed positive definite Rx.
func scenario(t *testing.T) (rx, w, c *tensor.Dense) {
	const n, k, samples = 2, 2, 64
	r := rand.New(rand.NewPCG(7, 11))
	backing := make([]float64, n*samples*k)
	for i := range backing {
		backing[i] = r.NormFloat64()
	}
	x := tensor.New(tensor.WithShape(n, samples, k), tensor.WithBacking(backing))
	rx, err := ivag.CovX(x)
	require.NoError(t, err)

	w = ivag.NewW(n, k)
	for i := range ivag.Floats(w) {
		ivag.Floats(w)[i] = 0.5
	}
	return rx, w, ivag.IdentityC(n, k)
}

func samples(t *testing.T, n, k, count int, seed uint64) []Sample {
	pconf := sim.DefaultConfig(n, k)
	pconf.T = 200
	retVal := make([]Sample, 0, count)
	for i := 0; i < count; i++ {
		src := rand.NewPCG(seed, uint64(i))
		p, err := sim.NewProblem(pconf, src)
		require.NoError(t, err)
		rx, err := ivag.CovX(p.X)
		require.NoError(t, err)
		w, c, err := ivag.Initialize(n, k, ivag.Random, src)
		require.NoError(t, err)
		retVal = append(retVal, Sample{Rx: rx, A: p.A, W: w, C: c})
	}
	return retVal
}

func newNet(t *testing.T, conf Config) *Network {
	net, err := New(conf)
	require.NoError(t, err)
	t.Cleanup(func() { net.Close() })
	return net
}
