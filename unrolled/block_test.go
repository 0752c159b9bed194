package unrolled

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

func TestBlockForward(t *testing.T) {
	rx, w, c := scenario(t)
	b, err := NewBlock(smallConf(1))
	require.NoError(t, err)
	defer b.Close()

	w2, c2, cOld, err := b.Forward(rx, w, c, ivag.Clone(c))
	require.NoError(t, err)
	assert.True(t, w2.Shape().Eq(w.Shape()))
	assert.True(t, c2.Shape().Eq(c.Shape()))
	assert.True(t, ivag.IsFinite(w2))
	assert.True(t, ivag.IsFinite(c2))
	assert.Equal(t, ivag.Floats(c), ivag.Floats(cOld))

	tr := b.Last()
	alpha, err := b.Alpha(w, c)
	require.NoError(t, err)
	assert.Equal(t, alpha, tr.Alpha)
	assert.True(t, tr.CW > 0 && tr.CC > 0)
	assert.True(t, tr.BetaW < 1 && tr.BetaC < 1)
}

func TestBlockStep(t *testing.T) {
	rx, w, c := scenario(t)
	conf := smallConf(1)
	b, err := NewBlock(conf)
	require.NoError(t, err)
	defer b.Close()

	const alpha = 0.3
	co, err := b.Coefficients(rx, c, c, alpha)
	require.NoError(t, err)
	wantW, err := WIter{Updates: conf.UpdatesW}.Forward(rx, w, c, co.CW, co.BetaW)
	require.NoError(t, err)
	wantC, _, err := CIter{Updates: conf.UpdatesC}.Forward(rx, c, wantW, co.CC, co.BetaC, alpha, conf.Eps)
	require.NoError(t, err)

	gotW, gotC, _, err := b.Step(rx, w, c, ivag.Clone(c), alpha)
	require.NoError(t, err)
	if diff := cmp.Diff(ivag.Floats(wantW), ivag.Floats(gotW), approx); diff != "" {
		t.Errorf("W mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ivag.Floats(wantC), ivag.Floats(gotC), approx); diff != "" {
		t.Errorf("C mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Trace{Alpha: alpha, Coefficients: co}, b.Last())
}

func TestBlockErrors(t *testing.T) {
	rx, w, c := scenario(t)
	b, err := NewBlock(smallConf(1))
	require.NoError(t, err)
	defer b.Close()

	_, _, _, err = b.Forward(rx, ivag.NewW(3, 2), c, c)
	assert.True(t, IsShape(err), "expected a shape error. Got %v", err)
	_, _, _, err = b.Forward(rx, w, ivag.NewC(3, 2), c)
	assert.True(t, IsShape(err), "expected a shape error. Got %v", err)
	_, _, _, err = b.Step(rx, w, c, ivag.NewC(2, 3), 1)
	assert.True(t, IsShape(err), "expected a shape error. Got %v", err)

	_, _, _, err = b.Step(rx, w, c, c, math.NaN())
	assert.True(t, IsNumerical(err))

	bad := ivag.Clone(w)
	ivag.Floats(bad)[0] = math.Inf(1)
	_, _, _, err = b.Step(rx, bad, c, c, 1)
	assert.True(t, IsNumerical(err))

	_, err = NewBlock(Config{})
	assert.True(t, IsConfig(err))
}
