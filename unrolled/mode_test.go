package unrolled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		s     string
		layer int
		want  Mode
	}{
		{"first_layer", 0, FirstLayer{}},
		{"greedy", 3, Greedy{Layer: 3}},
		{"Test", 0, Test{}},
	}
	for _, c := range cases {
		m, err := ParseMode(c.s, c.layer)
		require.NoError(t, err)
		assert.Equal(t, c.want, m)
	}
	_, err := ParseMode("last_layers_lpp", 0)
	assert.True(t, IsConfig(err))

	assert.Equal(t, "greedy(2)", Greedy{Layer: 2}.String())
}
