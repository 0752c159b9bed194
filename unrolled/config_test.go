package unrolled

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConf(t *testing.T) {
	conf := DefaultConf(3, 4)
	if !conf.IsValid() {
		t.Errorf("Expected Default Config to be correct: %v", conf.Validate())
	}
	assert.Equal(t, 3*3*4+4*4*3, conf.InputDim())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*Config)
	}{
		{"no sources", func(c *Config) { c.N = 0 }},
		{"no datasets", func(c *Config) { c.K = 0 }},
		{"no hidden units", func(c *Config) { c.Hidden2 = 0 }},
		{"no layers", func(c *Config) { c.Layers = 0 }},
		{"no W updates", func(c *Config) { c.UpdatesW = 0 }},
		{"no C updates", func(c *Config) { c.UpdatesC = 0 }},
		{"unknown device", func(c *Config) { c.Device = Device(7) }},
		{"zero alpha floor", func(c *Config) { c.AlphaFloor = 0 }},
		{"gamma_w of 1", func(c *Config) { c.GammaW = 1 }},
		{"negative gamma_c", func(c *Config) { c.GammaC = -1 }},
		{"nu of 0", func(c *Config) { c.Nu = 0 }},
		{"nan zeta", func(c *Config) { c.Zeta = math.NaN() }},
		{"negative eps", func(c *Config) { c.Eps = -1 }},
	}
	for _, c := range cases {
		conf := DefaultConf(2, 2)
		c.mod(&conf)
		err := conf.Validate()
		if assert.Error(t, err, c.name) {
			assert.True(t, IsConfig(err), "%s: expected a config error. Got %v", c.name, err)
		}
		assert.False(t, conf.IsValid(), c.name)
	}
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", CPU.String())
	assert.Equal(t, "Device(3)", Device(3).String())
}
