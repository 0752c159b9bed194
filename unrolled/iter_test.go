package unrolled

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

func plainW(t *testing.T, rx, w, c *tensor.Dense, cw float64) *tensor.Dense {
	grad, err := ivag.GradHW(w, c, rx)
	require.NoError(t, err)
	step, err := ivag.Descend(w, grad, cw)
	require.NoError(t, err)
	next, err := ivag.ProxF(step, cw)
	require.NoError(t, err)
	return next
}

func TestWIterScenario(t *testing.T) {
	rx, w, c := scenario(t)
	orig := ivag.Clone(w)
	out, err := WIter{Updates: 10}.Forward(rx, w, c, 0.05, 0.3)
	require.NoError(t, err)
	assert.True(t, out.Shape().Eq(w.Shape()))
	assert.True(t, ivag.IsFinite(out))
	assert.Equal(t, ivag.Floats(orig), ivag.Floats(w), "input W must not be modified")
}

func TestWIterInertia(t *testing.T) {
	rx, w, c := scenario(t)
	const cw = 0.05

	// the first sub-step extrapolates from W_old == W, so beta has no effect
	withBeta, err := WIter{Updates: 1}.Forward(rx, w, c, cw, 0.7)
	require.NoError(t, err)
	plain := plainW(t, rx, w, c, cw)
	if diff := cmp.Diff(ivag.Floats(plain), ivag.Floats(withBeta), approx); diff != "" {
		t.Errorf("single sub-step should carry no inertia (-want +got):\n%s", diff)
	}

	// without inertia the sub-steps are plain proximal gradient steps
	noBeta, err := WIter{Updates: 3}.Forward(rx, w, c, cw, 0)
	require.NoError(t, err)
	want := w
	for i := 0; i < 3; i++ {
		want = plainW(t, rx, want, c, cw)
	}
	if diff := cmp.Diff(ivag.Floats(want), ivag.Floats(noBeta), approx); diff != "" {
		t.Errorf("beta = 0 should reduce to proximal gradient (-want +got):\n%s", diff)
	}

	// from the second sub-step on, inertia compares against the previous iterate
	inertial, err := WIter{Updates: 2}.Forward(rx, w, c, cw, 0.7)
	require.NoError(t, err)
	w1 := plainW(t, rx, w, c, cw)
	w2in, err := ivag.Extrapolate(w1, w, 0.7)
	require.NoError(t, err)
	w2 := plainW(t, rx, w2in, c, cw)
	if diff := cmp.Diff(ivag.Floats(w2), ivag.Floats(inertial), approx); diff != "" {
		t.Errorf("inertial sub-step mismatch (-want +got):\n%s", diff)
	}
}

func TestCIterSingleStep(t *testing.T) {
	rx, w, c := scenario(t)
	const cc, alpha, eps = 0.5, 0.2, 1e-12

	grad, err := ivag.GradHCReg(w, c, rx, alpha)
	require.NoError(t, err)
	step, err := ivag.Descend(c, grad, cc)
	require.NoError(t, err)
	want, err := ivag.ProxG(step, cc, eps)
	require.NoError(t, err)

	for _, updates := range []int{1, 2, 5} {
		for _, beta := range []float64{0, 0.4, 0.9} {
			got, prev, err := CIter{Updates: updates}.Forward(rx, c, w, cc, beta, alpha, eps)
			require.NoError(t, err)
			if diff := cmp.Diff(ivag.Floats(want), ivag.Floats(got), approx); diff != "" {
				t.Errorf("updates=%d beta=%v (-want +got):\n%s", updates, beta, diff)
			}
			assert.Equal(t, ivag.Floats(c), ivag.Floats(prev), "C_old should be the input C")
			assert.True(t, ivag.IsFinite(got))
			assert.True(t, got.Shape().Eq(c.Shape()))
		}
	}
}
