package unrolled

import (
	"bytes"
	"encoding/gob"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

func TestActivateLayerGreedy(t *testing.T) {
	_, w, c := scenario(t)
	net := newNet(t, smallConf(5))

	l2, err := net.Layer(2)
	require.NoError(t, err)
	l3, err := net.Layer(3)
	require.NoError(t, err)
	want := l2.Predictor().Values()
	require.NotEqual(t, want, l3.Predictor().Values())

	for i := 0; i < net.Len(); i++ {
		b, _ := net.Layer(i)
		require.NoError(t, b.Predictor().Backward(w, c, 1))
	}

	require.NoError(t, net.ActivateLayer(3, Greedy{Layer: 3}))
	assert.Equal(t, []LayerState{Frozen, Frozen, Frozen, Trainable, Trainable}, net.States())
	assert.Equal(t, want, l3.Predictor().Values())
	assert.Equal(t, want, l2.Predictor().Values())

	for i := 0; i < net.Len(); i++ {
		b, _ := net.Layer(i)
		require.NoError(t, b.Predictor().Backward(w, c, 1))
		if i < 3 {
			assert.Zero(t, b.Predictor().GradNorm(), "layer %d should not accumulate gradients", i)
		} else {
			assert.True(t, b.Predictor().GradNorm() > 0, "layer %d should accumulate gradients", i)
		}
	}
}

func TestActivateLayerNoCopy(t *testing.T) {
	net := newNet(t, smallConf(3))
	l1, _ := net.Layer(1)
	l2, _ := net.Layer(2)
	before := l2.Predictor().Values()

	require.NoError(t, net.ActivateLayer(2, FirstLayer{}))
	assert.Equal(t, before, l2.Predictor().Values())
	assert.NotEqual(t, l1.Predictor().Values(), l2.Predictor().Values())
	assert.Equal(t, []LayerState{Frozen, Frozen, Trainable}, net.States())

	require.NoError(t, net.ActivateLayer(0, Greedy{Layer: 0}))
	assert.Equal(t, []LayerState{Frozen, Frozen, Trainable}, net.States())
}

func TestActivateLayerErrors(t *testing.T) {
	net := newNet(t, smallConf(3))
	for _, err := range []error{
		net.ActivateLayer(3, Greedy{Layer: 3}),
		net.ActivateLayer(-1, Test{}),
		net.ActivateLayer(2, Greedy{Layer: 1}),
		net.ActivateLayer(1, nil),
	} {
		assert.True(t, IsConfig(err), "expected a config error. Got %v", err)
	}
	assert.Equal(t, []LayerState{Trainable, Trainable, Trainable}, net.States())
}

func TestForwardModes(t *testing.T) {
	rx, w, c := scenario(t)
	net := newNet(t, smallConf(5))

	// chaining single layer calls with a fresh C_old each time is test mode
	wantW, wantC := w, c
	for i := 0; i < net.Len(); i++ {
		var mode Mode = Greedy{Layer: i}
		if i == 0 {
			mode = FirstLayer{}
		}
		var err error
		wantW, wantC, err = net.Forward(rx, wantW, wantC, mode)
		require.NoError(t, err, "layer %d", i)
	}
	gotW, gotC, err := net.Forward(rx, w, c, Test{})
	require.NoError(t, err)
	if diff := cmp.Diff(ivag.Floats(wantW), ivag.Floats(gotW), approx); diff != "" {
		t.Errorf("W mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ivag.Floats(wantC), ivag.Floats(gotC), approx); diff != "" {
		t.Errorf("C mismatch (-want +got):\n%s", diff)
	}

	// so is chaining the blocks by hand
	hw, hc := w, c
	for i := 0; i < net.Len(); i++ {
		b, _ := net.Layer(i)
		hw, hc, _, err = b.Forward(rx, hw, hc, ivag.Clone(hc))
		require.NoError(t, err)
	}
	if diff := cmp.Diff(ivag.Floats(hw), ivag.Floats(gotW), approx); diff != "" {
		t.Errorf("W mismatch (-want +got):\n%s", diff)
	}

	pw, pc, err := net.Prefix(rx, w, c, net.Len())
	require.NoError(t, err)
	assert.Equal(t, ivag.Floats(gotW), ivag.Floats(pw))
	assert.Equal(t, ivag.Floats(gotC), ivag.Floats(pc))

	pw, pc, err = net.Prefix(rx, w, c, 0)
	require.NoError(t, err)
	assert.Equal(t, w, pw)
	assert.Equal(t, c, pc)

	var visited []int
	_, _, err = net.Unroll(rx, w, c, func(layer int, _, _ *tensor.Dense, tr Trace) error {
		visited = append(visited, layer)
		assert.True(t, tr.Alpha > 0)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, visited)
}

func TestForwardErrors(t *testing.T) {
	rx, w, c := scenario(t)
	net := newNet(t, smallConf(3))
	for _, mode := range []Mode{Greedy{Layer: 0}, Greedy{Layer: 3}, Greedy{Layer: -1}, nil} {
		_, _, err := net.Forward(rx, w, c, mode)
		assert.True(t, IsConfig(err), "mode %v: expected a config error. Got %v", mode, err)
	}
	_, _, err := net.Prefix(rx, w, c, 4)
	assert.True(t, IsConfig(err))
	_, err = net.Layer(3)
	assert.True(t, IsConfig(err))

	_, _, err = net.Forward(rx, ivag.NewW(2, 3), c, FirstLayer{})
	assert.True(t, IsShape(err))
}

func TestNetworkClone(t *testing.T) {
	rx, w, c := scenario(t)
	net := newNet(t, smallConf(3))
	require.NoError(t, net.ActivateLayer(1, Greedy{Layer: 1}))

	clone, err := net.Clone()
	require.NoError(t, err)
	defer clone.Close()
	assert.Equal(t, net.States(), clone.States())

	w1, c1, err := net.Forward(rx, w, c, Test{})
	require.NoError(t, err)
	w2, c2, err := clone.Forward(rx, w, c, Test{})
	require.NoError(t, err)
	assert.Equal(t, ivag.Floats(w1), ivag.Floats(w2))
	assert.Equal(t, ivag.Floats(c1), ivag.Floats(c2))

	b, _ := clone.Layer(0)
	vals := b.Predictor().Values()
	vals[0][0] += 1
	require.NoError(t, b.Predictor().SetValues(vals))
	orig, _ := net.Layer(0)
	assert.NotEqual(t, orig.Predictor().Values(), b.Predictor().Values())
}

func TestNetworkEncodeDecode(t *testing.T) {
	rx, w, c := scenario(t)
	net := newNet(t, smallConf(3))
	require.NoError(t, net.ActivateLayer(2, Greedy{Layer: 2}))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(net))
	net2 := new(Network)
	require.NoError(t, gob.NewDecoder(&buf).Decode(net2))
	defer net2.Close()

	assert.Equal(t, net.Config(), net2.Config())
	assert.Equal(t, net.States(), net2.States())
	for i := 0; i < net.Len(); i++ {
		a, _ := net.Layer(i)
		b, _ := net2.Layer(i)
		assert.Equal(t, a.Predictor().Values(), b.Predictor().Values(), "layer %d", i)
	}
	w1, _, err := net.Forward(rx, w, c, Test{})
	require.NoError(t, err)
	w2, _, err := net2.Forward(rx, w, c, Test{})
	require.NoError(t, err)
	assert.Equal(t, ivag.Floats(w1), ivag.Floats(w2))
}

func TestToDot(t *testing.T) {
	rx, w, c := scenario(t)
	net := newNet(t, smallConf(2))
	require.NoError(t, net.ActivateLayer(1, FirstLayer{}))
	_, _, err := net.Forward(rx, w, c, Test{})
	require.NoError(t, err)

	dot, err := net.ToDot()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dot, "digraph U"))
	for _, s := range []string{"layer0", "layer1", "input", "output", "frozen", "trainable"} {
		assert.Contains(t, dot, s)
	}
}
