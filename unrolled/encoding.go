package unrolled

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

type layerCheckpoint struct {
	State  LayerState
	Values [][]float64
}

// GobEncode writes the configuration followed by the state and parameter
// values of every layer.
func (n *Network) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(n.conf); err != nil {
		return nil, errors.Wrap(err, "encoding config")
	}
	for i, b := range n.layers {
		ckpt := layerCheckpoint{State: b.State(), Values: b.predictor.Values()}
		if err := enc.Encode(&ckpt); err != nil {
			return nil, errors.Wrapf(err, "encoding layer %d", i)
		}
	}
	return buf.Bytes(), nil
}

// GobDecode rebuilds the network from the output of GobEncode. Any VM held by
// n is released first.
func (n *Network) GobDecode(p []byte) error {
	if n.layers != nil {
		n.Close()
	}
	dec := gob.NewDecoder(bytes.NewBuffer(p))
	var conf Config
	if err := dec.Decode(&conf); err != nil {
		return errors.Wrap(err, "decoding config")
	}
	n2, err := New(conf)
	if err != nil {
		return err
	}
	for i, b := range n2.layers {
		var ckpt layerCheckpoint
		if err := dec.Decode(&ckpt); err != nil {
			n2.Close()
			return errors.Wrapf(err, "decoding layer %d", i)
		}
		if err := b.predictor.SetValues(ckpt.Values); err != nil {
			n2.Close()
			return errors.Wrapf(err, "layer %d", i)
		}
		b.predictor.SetState(ckpt.State)
	}
	*n = *n2
	return nil
}
