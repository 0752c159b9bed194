package unrolled

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

// Sample is one training or evaluation problem.
type Sample struct {
	Rx *tensor.Dense // observed covariance, (N, N, K, K)
	A  *tensor.Dense // true mixing matrices, (N, N, K)
	W  *tensor.Dense // initial W
	C  *tensor.Dense // initial C
}

// StepResult summarizes one optimizer step.
type StepResult struct {
	Layer     int
	Loss      float64 // mean joint ISI after the trained layer
	MeanAlpha float64
	GradNorm  float64
	Used      int
	Skipped   int
}

func (r StepResult) String() string {
	return fmt.Sprintf("layer %d: loss %.5f alpha %.4g |grad| %.4g (%d used, %d skipped)",
		r.Layer, r.Loss, r.MeanAlpha, r.GradNorm, r.Used, r.Skipped)
}

// Trainer trains one layer of a network at a time, on the joint ISI of the
// layer's output W.
//
// The numeric iteration is not part of a gorgonia graph, so dL/dalpha is taken
// by central finite differences of the block, and chained through the
// predictor graph by Predictor.Backward.
type Trainer struct {
	net     *Network
	solvers []G.Solver

	learnRate float64
	relStep   float64
	logger    *log.Logger
}

// TrainerOpt configures a Trainer.
type TrainerOpt func(*Trainer)

// WithLearnRate sets the Adam learning rate of every layer.
func WithLearnRate(eta float64) TrainerOpt {
	return func(t *Trainer) { t.learnRate = eta }
}

// WithRelativeStep sets the finite difference step, relative to alpha.
func WithRelativeStep(h float64) TrainerOpt {
	return func(t *Trainer) { t.relStep = h }
}

// WithLogger sets where skipped samples are reported.
func WithLogger(l *log.Logger) TrainerOpt {
	return func(t *Trainer) { t.logger = l }
}

// NewTrainer creates a trainer with one Adam solver per layer. Solver state is
// never shared between layers.
func NewTrainer(net *Network, opts ...TrainerOpt) *Trainer {
	t := &Trainer{
		net:       net,
		learnRate: 1e-3,
		relStep:   1e-3,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.solvers = make([]G.Solver, net.Len())
	for i := range t.solvers {
		t.solvers[i] = G.NewAdamSolver(G.WithLearnRate(t.learnRate))
	}
	return t
}

// Loss is the joint ISI of the W produced by layer b from (w, c) with the given alpha.
func (t *Trainer) Loss(b *Block, s Sample, w, c *tensor.Dense, alpha float64) (float64, error) {
	wNext, _, _, err := b.Step(s.Rx, w, c, ivag.Clone(c), alpha)
	if err != nil {
		return 0, err
	}
	return ivag.JointISI(wNext, s.A)
}

// dLoss returns dL/dalpha at alpha. The block's trace is left as it was.
func (t *Trainer) dLoss(b *Block, s Sample, w, c *tensor.Dense, alpha float64) (float64, error) {
	last := b.last
	defer func() { b.last = last }()

	var err error
	f := func(a float64) float64 {
		if err != nil {
			return math.NaN()
		}
		var l float64
		l, err = t.Loss(b, s, w, c, a)
		return l
	}
	settings := &fd.Settings{Formula: fd.Central, Step: t.relStep * alpha}
	d := fd.Derivative(f, alpha, settings)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, numerical("dL/dalpha", d)
	}
	return d, nil
}

// Step runs one optimizer step of the layer mode trains, averaged over
// samples. Samples whose pass fails numerically are skipped and logged.
func (t *Trainer) Step(samples []Sample, mode Mode) (res StepResult, err error) {
	layer, err := t.net.Active(mode)
	if err != nil {
		return res, err
	}
	b := t.net.layers[layer]
	if b.State() == Frozen {
		return res, configError(fmt.Sprintf("layer %d is frozen", layer))
	}
	res.Layer = layer

	var lossSum, alphaSum float64
	for i, s := range samples {
		loss, alpha, err := t.sample(b, layer, s)
		switch {
		case IsNumerical(err):
			t.logger.Printf("layer %d: skipping sample %d: %v", layer, i, err)
			res.Skipped++
			continue
		case err != nil:
			b.predictor.ZeroGrad()
			return res, errors.Wrapf(err, "sample %d", i)
		}
		lossSum += loss
		alphaSum += alpha
		res.Used++
	}
	if res.Used == 0 {
		return res, numerical("usable samples", 0)
	}
	res.Loss = lossSum / float64(res.Used)
	res.MeanAlpha = alphaSum / float64(res.Used)
	res.GradNorm = b.predictor.GradNorm()
	if err = b.predictor.Step(t.solvers[layer]); err != nil {
		return res, errors.Wrapf(err, "layer %d", layer)
	}
	return res, nil
}

func (t *Trainer) sample(b *Block, layer int, s Sample) (loss, alpha float64, err error) {
	w, c := s.W, s.C
	if layer > 0 {
		if w, c, err = t.net.Prefix(s.Rx, w, c, layer); err != nil {
			return
		}
	}
	if err = b.Check(s.Rx, w, c); err != nil {
		return
	}
	raw, err := b.predictor.Predict(w, c)
	if err != nil {
		return
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, 0, numerical("alpha", raw)
	}
	alpha = math.Max(raw, b.alphaFloor)
	if loss, err = t.Loss(b, s, w, c, alpha); err != nil {
		return
	}
	if raw < b.alphaFloor {
		// clamped: no gradient reaches the predictor
		return loss, alpha, nil
	}
	dAlpha, err := t.dLoss(b, s, w, c, alpha)
	if err != nil {
		return
	}
	err = b.predictor.Backward(w, c, dAlpha)
	return
}

// Evaluate returns the mean joint ISI after each layer in test mode.
// Samples that fail numerically are skipped.
func Evaluate(net *Network, samples []Sample) (perLayer []float64, used int, err error) {
	perLayer = make([]float64, net.Len())
	for _, s := range samples {
		scores := make([]float64, net.Len())
		_, _, err := net.Unroll(s.Rx, s.W, s.C, func(layer int, w, _ *tensor.Dense, _ Trace) error {
			isi, err := ivag.JointISI(w, s.A)
			scores[layer] = isi
			return err
		})
		switch {
		case IsNumerical(err):
			continue
		case err != nil:
			return nil, used, err
		}
		for i, v := range scores {
			perLayer[i] += v
		}
		used++
	}
	if used == 0 {
		return perLayer, 0, nil
	}
	for i := range perLayer {
		perLayer[i] /= float64(used)
	}
	return perLayer, used, nil
}

// Shuffle permutes samples in place.
func Shuffle(samples []Sample, src rand.Source) {
	r := rand.New(src)
	r.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
}
