package ivag

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// InitMethod selects how Initialize builds the starting W.
type InitMethod int

const (
	// Random draws every entry of W from a standard normal.
	Random InitMethod = iota
	// Identity sets every W_k to the identity.
	Identity
)

func (m InitMethod) String() string {
	switch m {
	case Random:
		return "random"
	case Identity:
		return "identity"
	}
	return fmt.Sprintf("InitMethod(%d)", int(m))
}

// ParseInitMethod is the inverse of InitMethod.String.
func ParseInitMethod(s string) (InitMethod, error) {
	switch s {
	case "random":
		return Random, nil
	case "identity":
		return Identity, nil
	}
	return 0, errors.Errorf("unknown init method %q", s)
}

// Initialize returns a starting point (W0, C0) for N sources and K datasets.
// C0 is always the stacked identity. src is only used by Random.
func Initialize(n, k int, method InitMethod, src rand.Source) (w, c *tensor.Dense, err error) {
	if n < 1 || k < 1 {
		return nil, nil, errors.Errorf("cannot initialize with N=%d K=%d", n, k)
	}
	w = NewW(n, k)
	l := layout{n: n, k: k}
	data := Floats(w)
	switch method {
	case Random:
		if src == nil {
			return nil, nil, errors.New("random initialization needs a source of randomness")
		}
		r := rand.New(src)
		for i := range data {
			data[i] = r.NormFloat64()
		}
	case Identity:
		for kk := 0; kk < k; kk++ {
			for i := 0; i < n; i++ {
				data[l.w(i, i, kk)] = 1
			}
		}
	default:
		return nil, nil, errors.Errorf("unknown init method %v", method)
	}
	return w, IdentityC(n, k), nil
}
