package unrolled

import (
	"fmt"
	"strings"
)

// Mode selects how Network.Forward runs. It is one of FirstLayer, Greedy or Test.
type Mode interface {
	fmt.Stringer
	mode()
}

// FirstLayer runs layer 0 only. It is used to train the first layer.
type FirstLayer struct{}

// Greedy runs the single layer being trained during layer-wise training.
// Layer is 0-based and at least 1; layer 0 is trained with FirstLayer.
type Greedy struct {
	Layer int
}

// Test runs every layer in order.
type Test struct{}

func (FirstLayer) mode() {}
func (Greedy) mode()     {}
func (Test) mode()       {}

func (FirstLayer) String() string { return "first_layer" }
func (m Greedy) String() string   { return fmt.Sprintf("greedy(%d)", m.Layer) }
func (Test) String() string       { return "test" }

// ParseMode parses the textual name of a mode. layer is only used by "greedy".
func ParseMode(s string, layer int) (Mode, error) {
	switch strings.ToLower(s) {
	case "first_layer", "first":
		return FirstLayer{}, nil
	case "greedy":
		return Greedy{Layer: layer}, nil
	case "test":
		return Test{}, nil
	}
	return nil, configError(fmt.Sprintf("unknown mode %q", s))
}
