package utitan

import (
	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
	"github.com/gaspardblaise/Unrolled-TITAN/sim"
	"github.com/gaspardblaise/Unrolled-TITAN/unrolled"
)

// Config configures an experiment: the network, the synthetic problems it
// learns from, and the training schedule.
type Config struct {
	Name     string
	NetConf  unrolled.Config
	DataConf sim.Config
	Init     ivag.InitMethod // how (W0, C0) is drawn for each sample

	LearnRate float64
	BatchSize int
	Epochs    int // epochs per layer
	Workers   int // concurrent evaluators
	Seed      uint64
}

// DefaultConfig is a configuration for N sources and K datasets.
func DefaultConfig(n, k int) Config {
	return Config{
		Name:      "U-TITAN",
		NetConf:   unrolled.DefaultConf(n, k),
		DataConf:  sim.DefaultConfig(n, k),
		Init:      ivag.Random,
		LearnRate: 1e-3,
		BatchSize: 8,
		Epochs:    10,
		Workers:   numCPU,
		Seed:      1,
	}
}

func (c Config) IsValid() bool {
	return c.NetConf.IsValid() &&
		c.DataConf.IsValid() &&
		c.NetConf.N == c.DataConf.N &&
		c.NetConf.K == c.DataConf.K &&
		c.LearnRate > 0 &&
		c.BatchSize > 0 &&
		c.Epochs > 0 &&
		c.Workers > 0
}

// Sample is one synthetic problem with its starting point.
type Sample = unrolled.Sample

// ExecLogger is anything that can return the execution log.
type ExecLogger interface {
	ExecLog() string
}

// Recorder receives the progress of an experiment. internal/store provides one.
type Recorder interface {
	RecordLoss(layer, epoch int, loss, alpha float64) error
	RecordEval(perLayer []float64, used int) error
}
