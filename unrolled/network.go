package unrolled

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// Network is the unrolled network: an ordered sequence of independently
// parameterized blocks.
type Network struct {
	conf   Config
	layers []*Block
}

// New creates a network of conf.Layers freshly initialized blocks, all trainable.
func New(conf Config) (*Network, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	n := &Network{conf: conf, layers: make([]*Block, 0, conf.Layers)}
	for i := 0; i < conf.Layers; i++ {
		b, err := NewBlock(conf)
		if err != nil {
			n.Close()
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		n.layers = append(n.layers, b)
	}
	return n, nil
}

func (n *Network) Config() Config { return n.conf }
func (n *Network) Len() int       { return len(n.layers) }

// Layer returns the block at index i.
func (n *Network) Layer(i int) (*Block, error) {
	if err := n.checkIndex(i); err != nil {
		return nil, err
	}
	return n.layers[i], nil
}

func (n *Network) checkIndex(i int) error {
	if i < 0 || i >= len(n.layers) {
		return configError(fmt.Sprintf("layer %d out of range [0, %d)", i, len(n.layers)))
	}
	return nil
}

// States returns the state of every layer, in order.
func (n *Network) States() []LayerState {
	retVal := make([]LayerState, len(n.layers))
	for i, b := range n.layers {
		retVal[i] = b.State()
	}
	return retVal
}

// ActivateLayer prepares layer block for training. Under Greedy the
// parameters of layer block-1 are first copied into it. Every layer before
// block is then frozen. Layers from block on are left as they are.
func (n *Network) ActivateLayer(block int, mode Mode) error {
	if err := n.checkIndex(block); err != nil {
		return err
	}
	switch m := mode.(type) {
	case Greedy:
		if m.Layer != block {
			return configError(fmt.Sprintf("activating layer %d in mode %v", block, m))
		}
		if block >= 1 {
			if err := n.layers[block].predictor.CopyFrom(n.layers[block-1].predictor); err != nil {
				return errors.Wrapf(err, "copying layer %d into %d", block-1, block)
			}
		}
	case FirstLayer, Test:
	default:
		return configError(fmt.Sprintf("unknown mode %v", mode))
	}
	for i := 0; i < block; i++ {
		n.layers[i].predictor.SetState(Frozen)
	}
	return nil
}

// Active returns the index of the single layer mode runs. Test has none.
func (n *Network) Active(mode Mode) (int, error) {
	switch m := mode.(type) {
	case FirstLayer:
		return 0, nil
	case Greedy:
		if m.Layer < 1 || m.Layer >= len(n.layers) {
			return 0, configError(fmt.Sprintf("greedy layer %d out of range [1, %d)", m.Layer, len(n.layers)))
		}
		return m.Layer, nil
	case Test:
		return 0, configError("test mode runs every layer")
	}
	return 0, configError(fmt.Sprintf("unknown mode %v", mode))
}

// Forward runs the network on one sample. FirstLayer and Greedy run the
// single layer they name. Test runs every layer in order. C_old is a
// snapshot of C taken before each layer runs.
func (n *Network) Forward(rx, w, c *tensor.Dense, mode Mode) (*tensor.Dense, *tensor.Dense, error) {
	if _, ok := mode.(Test); ok {
		return n.Unroll(rx, w, c, nil)
	}
	i, err := n.Active(mode)
	if err != nil {
		return nil, nil, err
	}
	w, c, _, err = n.layers[i].Forward(rx, w, c, ivag.Clone(c))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "layer %d", i)
	}
	return w, c, nil
}

// Visitor is called after each layer of an unrolled pass with the layer's output.
type Visitor func(layer int, w, c *tensor.Dense, tr Trace) error

// Unroll runs every layer in order, calling visit after each one if it is not nil.
func (n *Network) Unroll(rx, w, c *tensor.Dense, visit Visitor) (*tensor.Dense, *tensor.Dense, error) {
	return n.run(rx, w, c, len(n.layers), visit)
}

// Prefix runs layers [0, upto) in order and returns their output, the input
// layer upto sees during test mode.
func (n *Network) Prefix(rx, w, c *tensor.Dense, upto int) (*tensor.Dense, *tensor.Dense, error) {
	if upto < 0 || upto > len(n.layers) {
		return nil, nil, configError(fmt.Sprintf("prefix of %d layers out of range [0, %d]", upto, len(n.layers)))
	}
	return n.run(rx, w, c, upto, nil)
}

func (n *Network) run(rx, w, c *tensor.Dense, upto int, visit Visitor) (*tensor.Dense, *tensor.Dense, error) {
	for i, b := range n.layers[:upto] {
		var err error
		if w, c, _, err = b.Forward(rx, w, c, ivag.Clone(c)); err != nil {
			return nil, nil, errors.Wrapf(err, "layer %d", i)
		}
		if visit != nil {
			if err = visit(i, w, c, b.Last()); err != nil {
				return nil, nil, err
			}
		}
	}
	return w, c, nil
}

// Clone returns an independent network with the same weights and layer states.
func (n *Network) Clone() (*Network, error) {
	n2 := &Network{conf: n.conf, layers: make([]*Block, 0, len(n.layers))}
	for i, b := range n.layers {
		p, err := b.predictor.Clone()
		if err != nil {
			n2.Close()
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		b2 := *b
		b2.predictor = p
		b2.last = Trace{}
		n2.layers = append(n2.layers, &b2)
	}
	return n2, nil
}

// Close releases every layer's VM.
func (n *Network) Close() error {
	var errs manyErr
	for _, b := range n.layers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
