package utitan

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
	"github.com/gaspardblaise/Unrolled-TITAN/unrolled"
)

// Report is the outcome of evaluating a network in test mode.
type Report struct {
	PerLayer []float64 // mean joint ISI after each layer
	Alphas   []float64 // mean alpha predicted by each layer
	Used     int
	Skipped  int
}

// Final is the mean joint ISI of the network's output.
func (r Report) Final() float64 {
	if len(r.PerLayer) == 0 {
		return 0
	}
	return r.PerLayer[len(r.PerLayer)-1]
}

// An Evaluator runs test mode passes concurrently. A gorgonia VM may only be
// used by one goroutine at a time, so every worker borrows its own clone of
// the network.
type Evaluator struct {
	sync.Mutex
	nets   chan *unrolled.Network
	clones []*unrolled.Network
}

// NewEvaluator clones net once per worker.
func NewEvaluator(net *unrolled.Network, workers int) (*Evaluator, error) {
	if workers < 1 {
		workers = 1
	}
	ev := &Evaluator{
		nets:   make(chan *unrolled.Network, workers),
		clones: make([]*unrolled.Network, 0, workers),
	}
	for i := 0; i < workers; i++ {
		clone, err := net.Clone()
		if err != nil {
			ev.Close()
			return nil, errors.WithMessage(err, "unable to clone network for evaluation")
		}
		ev.clones = append(ev.clones, clone)
		ev.nets <- clone
	}
	return ev, nil
}

// Evaluate scores every sample. Samples that fail numerically are skipped.
func (ev *Evaluator) Evaluate(ctx context.Context, samples []unrolled.Sample) (Report, error) {
	layers := ev.clones[0].Len()
	rep := Report{
		PerLayer: make([]float64, layers),
		Alphas:   make([]float64, layers),
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(ev.nets))
	for i := range samples {
		s := samples[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			net := <-ev.nets
			defer func() { ev.nets <- net }()

			isi := make([]float64, layers)
			alphas := make([]float64, layers)
			_, _, err := net.Unroll(s.Rx, s.W, s.C, func(layer int, w, _ *tensor.Dense, tr unrolled.Trace) (err error) {
				alphas[layer] = tr.Alpha
				isi[layer], err = ivag.JointISI(w, s.A)
				return err
			})

			ev.Lock()
			defer ev.Unlock()
			switch {
			case unrolled.IsNumerical(err):
				rep.Skipped++
				return nil
			case err != nil:
				logExec(net)
				return err
			}
			for l := range isi {
				rep.PerLayer[l] += isi[l]
				rep.Alphas[l] += alphas[l]
			}
			rep.Used++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}
	if rep.Used > 0 {
		for l := range rep.PerLayer {
			rep.PerLayer[l] /= float64(rep.Used)
			rep.Alphas[l] /= float64(rep.Used)
		}
	}
	return rep, nil
}

func logExec(net *unrolled.Network) {
	for i := 0; i < net.Len(); i++ {
		b, _ := net.Layer(i)
		var el ExecLogger = b.Predictor()
		if l := el.ExecLog(); l != "" {
			log.Printf("layer %d:\n%s", i, l)
		}
	}
}

func (ev *Evaluator) Close() error {
	var allErrs manyErr
	for _, net := range ev.clones {
		if err := net.Close(); err != nil {
			allErrs = append(allErrs, err)
		}
	}
	if len(allErrs) > 0 {
		return allErrs
	}
	return nil
}
