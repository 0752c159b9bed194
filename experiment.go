package utitan

import (
	"bytes"
	"context"
	"encoding/gob"
	"io"
	"log"
	"math/rand/v2"
	"os"

	"github.com/pkg/errors"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
	"github.com/gaspardblaise/Unrolled-TITAN/sim"
	"github.com/gaspardblaise/Unrolled-TITAN/unrolled"
)

// Experiment is the top level structure and the entry point of the API. It
// trains an unrolled network layer by layer on synthetic problems and
// evaluates it.
type Experiment struct {
	Statistics

	conf    Config
	net     *unrolled.Network
	trainer *unrolled.Trainer
	rec     Recorder

	// io
	buf    bytes.Buffer
	logger *log.Logger
	epoch  int
}

// New creates an experiment with a freshly initialized network.
func New(conf Config) (*Experiment, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid experiment config %+v", conf)
	}
	net, err := unrolled.New(conf.NetConf)
	if err != nil {
		return nil, errors.WithMessage(err, "unable to create network")
	}
	retVal := &Experiment{
		Statistics: makeStatistics(),
		conf:       conf,
		net:        net,
	}
	retVal.logger = log.New(&retVal.buf, "", log.Ltime)
	retVal.trainer = unrolled.NewTrainer(net, unrolled.WithLearnRate(conf.LearnRate), unrolled.WithLogger(retVal.logger))
	return retVal, nil
}

// Resume creates an experiment around the network saved in filename. The
// network and problem dimensions of conf are replaced by the saved ones.
func Resume(filename string, conf Config) (*Experiment, error) {
	net, err := loadNetwork(filename)
	if err != nil {
		return nil, err
	}
	conf.NetConf = net.Config()
	conf.DataConf.N, conf.DataConf.K = conf.NetConf.N, conf.NetConf.K
	if !conf.IsValid() {
		net.Close()
		return nil, errors.Errorf("invalid experiment config %+v", conf)
	}
	retVal := &Experiment{
		Statistics: makeStatistics(),
		conf:       conf,
		net:        net,
	}
	retVal.logger = log.New(&retVal.buf, "", log.Ltime)
	retVal.trainer = unrolled.NewTrainer(net, unrolled.WithLearnRate(conf.LearnRate), unrolled.WithLogger(retVal.logger))
	return retVal, nil
}

func loadNetwork(filename string) (*unrolled.Network, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	net := new(unrolled.Network)
	dec := gob.NewDecoder(f)
	if err = dec.Decode(net); err != nil {
		return nil, errors.WithStack(err)
	}
	return net, nil
}

func (e *Experiment) Network() *unrolled.Network { return e.net }
func (e *Experiment) Config() Config             { return e.conf }

// SetRecorder sets where per-epoch losses and evaluations are recorded.
func (e *Experiment) SetRecorder(r Recorder) { e.rec = r }

// Samples draws count synthetic problems and their starting points.
func (e *Experiment) Samples(ctx context.Context, count int, seed uint64) ([]unrolled.Sample, error) {
	problems, err := sim.Generate(ctx, e.conf.DataConf, count, seed)
	if err != nil {
		return nil, err
	}
	retVal := make([]unrolled.Sample, len(problems))
	for i, p := range problems {
		rx, err := ivag.CovX(p.X)
		if err != nil {
			return nil, errors.Wrapf(err, "problem %d", i)
		}
		w, c, err := ivag.Initialize(e.conf.NetConf.N, e.conf.NetConf.K, e.conf.Init, rand.NewPCG(seed^0x5eed, uint64(i)))
		if err != nil {
			return nil, err
		}
		retVal[i] = unrolled.Sample{Rx: rx, A: p.A, W: w, C: c}
	}
	return retVal, nil
}

// Learn trains the first layer, then every following layer greedily: the
// layer is initialized from the one before it and all earlier layers are
// frozen. Each layer trains for conf.Epochs epochs over samples.
//
// Learning starts at the first layer that is not frozen, so a resumed or
// already trained network continues where it stopped. That layer keeps its
// parameters.
func (e *Experiment) Learn(samples []unrolled.Sample) error {
	if len(samples) == 0 {
		return errors.New("no samples to learn from")
	}
	start := e.firstTrainable()
	if start == e.net.Len() {
		return errors.New("every layer is frozen")
	}
	for layer := start; layer < e.net.Len(); layer++ {
		var mode unrolled.Mode = unrolled.FirstLayer{}
		if layer > 0 {
			mode = unrolled.Greedy{Layer: layer}
		}
		if layer > start {
			if err := e.net.ActivateLayer(layer, mode); err != nil {
				return err
			}
		}
		if err := e.learnLayer(layer, mode, samples); err != nil {
			return errors.WithMessagef(err, "learning layer %d", layer)
		}
	}
	return nil
}

func (e *Experiment) firstTrainable() int {
	for i, s := range e.net.States() {
		if s != unrolled.Frozen {
			return i
		}
	}
	return e.net.Len()
}

func (e *Experiment) learnLayer(layer int, mode unrolled.Mode, samples []unrolled.Sample) error {
	log.Printf("Training layer %d in %v mode", layer, mode)
	e.logger.Printf("Training layer %d in %v mode", layer, mode)
	e.logger.SetPrefix("\t")
	defer e.logger.SetPrefix("")

	bs := e.conf.BatchSize
	for e.epoch = 0; e.epoch < e.conf.Epochs; e.epoch++ {
		unrolled.Shuffle(samples, rand.NewPCG(e.conf.Seed, uint64(layer*e.conf.Epochs+e.epoch)))
		steps := make([]unrolled.StepResult, 0, (len(samples)+bs-1)/bs)
		for start := 0; start < len(samples); start += bs {
			end := start + bs
			if end > len(samples) {
				end = len(samples)
			}
			res, err := e.trainer.Step(samples[start:end], mode)
			switch {
			case unrolled.IsNumerical(err):
				e.logger.Printf("batch %d skipped: %v", start/bs, err)
				res.Skipped = end - start
			case err != nil:
				return err
			}
			steps = append(steps, res)
		}
		loss, alpha := e.update(layer, steps)
		e.logger.Printf("epoch %d: ISI %.5f alpha %.4g", e.epoch, loss, alpha)
		if e.rec != nil {
			if err := e.rec.RecordLoss(layer, e.epoch, float64(loss), float64(alpha)); err != nil {
				return errors.WithMessage(err, "recording loss")
			}
		}
	}
	epoch, best := e.Best(layer)
	log.Printf("Layer %d: best ISI %.5f at epoch %d", layer, best, epoch)
	return nil
}

// Evaluate runs test mode over samples with conf.Workers concurrent workers.
func (e *Experiment) Evaluate(ctx context.Context, samples []unrolled.Sample) (Report, error) {
	ev, err := NewEvaluator(e.net, e.conf.Workers)
	if err != nil {
		return Report{}, err
	}
	defer ev.Close()

	rep, err := ev.Evaluate(ctx, samples)
	if err != nil {
		return rep, err
	}
	e.evaluated(rep.PerLayer)
	e.logger.Printf("Evaluated %d samples (%d skipped): ISI %.5f", rep.Used, rep.Skipped, rep.Final())
	if e.rec != nil {
		if err := e.rec.RecordEval(rep.PerLayer, rep.Used); err != nil {
			return rep, errors.WithMessage(err, "recording evaluation")
		}
	}
	return rep, nil
}

// Save writes the network to filename.
func (e *Experiment) Save(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := gob.NewEncoder(f)
	return enc.Encode(e.net)
}

// Load replaces the network with the one saved in filename. Its configuration
// must match the experiment's.
func (e *Experiment) Load(filename string) error {
	net, err := loadNetwork(filename)
	if err != nil {
		return err
	}
	if net.Config() != e.conf.NetConf {
		net.Close()
		return errors.Errorf("saved network has config %+v, expected %+v", net.Config(), e.conf.NetConf)
	}
	if err = e.net.Close(); err != nil {
		return err
	}
	e.net = net
	e.trainer = unrolled.NewTrainer(net, unrolled.WithLearnRate(e.conf.LearnRate), unrolled.WithLogger(e.logger))
	return nil
}

// Log writes the experiment log to w.
func (e *Experiment) Log(w io.Writer) error {
	_, err := e.buf.WriteTo(w)
	return err
}

func (e *Experiment) Close() error { return e.net.Close() }
