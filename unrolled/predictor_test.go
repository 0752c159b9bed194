package unrolled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

func newPredictor(t *testing.T, debug bool) *Predictor {
	conf := smallConf(1)
	p, err := NewPredictor(conf.InputDim(), conf.Hidden1, conf.Hidden2, debug)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPredictor(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, false)
	assert.Len(t, p.Params(), 6)

	alpha, err := p.Predict(w, c)
	require.NoError(t, err)
	assert.True(t, alpha > 0, "alpha = %v", alpha)

	again, err := p.Predict(w, c)
	require.NoError(t, err)
	assert.Equal(t, alpha, again)

	_, err = p.Predict(ivag.NewW(3, 2), c)
	assert.True(t, IsShape(err), "expected a shape error. Got %v", err)

	_, err = NewPredictor(0, 8, 4, false)
	assert.True(t, IsConfig(err))
}

func TestPredictorExecLog(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, true)
	_, err := p.Predict(w, c)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ExecLog())

	q := newPredictor(t, false)
	_, err = q.Predict(w, c)
	require.NoError(t, err)
	assert.Empty(t, q.ExecLog())
}

func TestPredictorBackward(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, false)

	require.NoError(t, p.Backward(w, c, 1))
	g1 := p.GradNorm()
	assert.True(t, g1 > 0)

	// the gradient of the output bias is dalpha/db, checked by central differences
	bias := p.Params()[5]
	biasGrad := p.grads[5][0]
	const h = 1e-6
	vals := p.Values()
	b0 := vals[5][0]
	vals[5][0] = b0 + h
	require.NoError(t, p.SetValues(vals))
	up, err := p.Predict(w, c)
	require.NoError(t, err)
	vals[5][0] = b0 - h
	require.NoError(t, p.SetValues(vals))
	down, err := p.Predict(w, c)
	require.NoError(t, err)
	vals[5][0] = b0
	require.NoError(t, p.SetValues(vals))
	assert.InDelta(t, (up-down)/(2*h), biasGrad, 1e-6, "gradient of %v", bias.Name())

	// a second sample with twice the upstream gradient adds twice as much
	require.NoError(t, p.Backward(w, c, 2))
	assert.InDelta(t, 3*g1, p.GradNorm(), 1e-9)

	p.ZeroGrad()
	assert.Zero(t, p.GradNorm())
}

func TestPredictorFrozen(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, false)
	require.NoError(t, p.Backward(w, c, 1))
	p.SetState(Frozen)
	assert.Equal(t, Frozen, p.State())
	assert.Zero(t, p.GradNorm(), "freezing should drop accumulated gradients")

	require.NoError(t, p.Backward(w, c, 1))
	assert.Zero(t, p.GradNorm())
	assert.True(t, IsConfig(p.Step(G.NewAdamSolver())))

	p.SetState(Trainable)
	assert.Equal(t, "trainable", p.State().String())
}

func TestPredictorStep(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, false)
	solver := G.NewAdamSolver(G.WithLearnRate(0.01))

	before := p.Values()
	require.NoError(t, p.Step(solver), "stepping without gradients is a no-op")
	assert.Equal(t, before, p.Values())

	a0, err := p.Predict(w, c)
	require.NoError(t, err)
	require.NoError(t, p.Backward(w, c, 1))
	require.NoError(t, p.Step(solver))
	assert.NotEqual(t, before, p.Values())
	assert.Zero(t, p.GradNorm())

	// descending on dalpha/dθ lowers alpha
	a1, err := p.Predict(w, c)
	require.NoError(t, err)
	assert.Less(t, a1, a0)
}

func TestPredictorCopy(t *testing.T) {
	_, w, c := scenario(t)
	p := newPredictor(t, false)
	q := newPredictor(t, false)
	require.NoError(t, q.CopyFrom(p))
	assert.Equal(t, p.Values(), q.Values())

	ap, err := p.Predict(w, c)
	require.NoError(t, err)
	aq, err := q.Predict(w, c)
	require.NoError(t, err)
	assert.Equal(t, ap, aq)

	// no shared storage
	vals := q.Values()
	vals[0][0] += 1
	require.NoError(t, q.SetValues(vals))
	assert.NotEqual(t, p.Values()[0][0], q.Values()[0][0])

	r, err := p.Clone()
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, p.Values(), r.Values())

	other, err := NewPredictor(4, 2, 2, false)
	require.NoError(t, err)
	defer other.Close()
	assert.True(t, IsConfig(q.CopyFrom(other)))
	assert.True(t, IsShape(q.SetValues(nil)))
}
