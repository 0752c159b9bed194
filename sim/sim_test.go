package sim

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

func TestCreateCovariance(t *testing.T) {
	tests := []struct {
		name      string
		structure Structure
		want      []float64
	}{
		{"uniform", Uniform, []float64{1, 0.5, 0.5, 0.5, 1, 0.5, 0.5, 0.5, 1}},
		{"ar", AR, []float64{1, 0.5, 0.25, 0.5, 1, 0.5, 0.25, 0.5, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigma, err := CreateCovariance(3, tt.structure, 0.5)
			require.NoError(t, err)
			var got []float64
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					got = append(got, sigma.At(i, j))
				}
			}
			assert.InDeltaSlice(t, tt.want, got, 1e-12)
		})
	}
	_, err := CreateCovariance(3, Structure(7), 0.5)
	assert.Error(t, err)
}

func TestGenerateSources(t *testing.T) {
	n, samples, k := 2, 20000, 3
	rho := []float64{0.8, 0.1}
	s, err := GenerateSources(rho, n, samples, k, rand.NewPCG(1, 2))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{n, samples, k}, s.Shape())

	data := ivag.Floats(s)
	corr := func(src, a, b int) float64 {
		var sum float64
		for tt := 0; tt < samples; tt++ {
			sum += data[(src*samples+tt)*k+a] * data[(src*samples+tt)*k+b]
		}
		return sum / float64(samples)
	}
	assert.InDelta(t, 0.8, corr(0, 0, 2), 0.05)
	assert.InDelta(t, 0.1, corr(1, 0, 1), 0.05)
	assert.InDelta(t, 1, corr(0, 1, 1), 0.05)

	_, err = GenerateSources([]float64{0.1}, n, samples, k, rand.NewPCG(1, 2))
	assert.Error(t, err)
}

func TestMix(t *testing.T) {
	a, _, err := ivag.Initialize(2, 1, ivag.Identity, nil)
	require.NoError(t, err)
	ivag.Floats(a)[1] = 2 // A[0,1,0]
	s := tensor.New(tensor.WithShape(2, 2, 1), tensor.WithBacking([]float64{1, 2, 3, 4}))
	x, err := Mix(a, s)
	require.NoError(t, err)
	assert.Equal(t, []float64{1 + 2*3, 2 + 2*4, 3, 4}, ivag.Floats(x))
}

func TestGenerate(t *testing.T) {
	conf := DefaultConfig(3, 2)
	conf.T = 50
	problems, err := Generate(context.Background(), conf, 4, 42)
	require.NoError(t, err)
	require.Len(t, problems, 4)

	again, err := Generate(context.Background(), conf, 4, 42)
	require.NoError(t, err)
	for i := range problems {
		assert.Equal(t, ivag.Floats(problems[i].X), ivag.Floats(again[i].X), "problem %d should be reproducible", i)
		assert.Equal(t, tensor.Shape{3, 50, 2}, problems[i].X.Shape())
		for _, v := range ivag.Floats(problems[i].X) {
			assert.False(t, math.IsNaN(v))
		}
	}

	conf.RhoMax = 1.5
	_, err = Generate(context.Background(), conf, 2, 1)
	assert.Error(t, err)
}
