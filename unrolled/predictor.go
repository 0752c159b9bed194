package unrolled

import (
	"bytes"
	"fmt"
	"log"
	"math"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gaspardblaise/Unrolled-TITAN/ivag"
)

var Float = G.Float64

// LayerState says whether a layer takes part in training.
type LayerState int

const (
	Trainable LayerState = iota
	Frozen
)

func (s LayerState) String() string {
	switch s {
	case Trainable:
		return "trainable"
	case Frozen:
		return "frozen"
	}
	return fmt.Sprintf("LayerState(%d)", int(s))
}

type maebe struct {
	err error
}

func (m *maebe) do(f func() (*G.Node, error)) (retVal *G.Node) {
	if m.err != nil {
		return nil
	}
	if retVal, m.err = f(); m.err != nil {
		m.err = errors.WithStack(m.err)
	}
	return
}

func (m *maebe) linear(input *G.Node, units int, name string) *G.Node {
	if m.err != nil {
		return nil
	}
	w := G.NewMatrix(input.Graph(), Float, G.WithShape(input.Shape()[1], units), G.WithInit(G.GlorotN(1.0)), G.WithName(name+"_w"))
	xw := m.do(func() (*G.Node, error) { return G.Mul(input, w) })
	if m.err != nil {
		return nil
	}
	b := G.NewMatrix(xw.Graph(), Float, G.WithShape(xw.Shape().Clone()...), G.WithName(name+"_b"), G.WithInit(G.Zeroes()))
	return m.do(func() (*G.Node, error) { return G.Add(xw, b) })
}

func (m *maebe) softplus(input *G.Node) *G.Node {
	return m.do(func() (*G.Node, error) { return G.Softplus(input) })
}

// Predictor maps the current (W, C) to a positive regularization weight alpha.
// It is a three layer perceptron with a Softplus after every layer, the last
// one included.
//
// The graph also carries the backward pass of alpha·dL/dalpha, so that a loss
// derivative computed outside the graph can be chained into the parameters.
type Predictor struct {
	inputDim, hidden1, hidden2 int
	debug                      bool

	g        *G.ExprGraph
	x        *G.Node // flattened W and C, (1, inputDim)
	upstream *G.Node // dL/dalpha, (1, 1)
	out      *G.Node
	params   G.Nodes

	m     G.VM
	input *tensor.Dense
	up    *tensor.Dense
	alpha G.Value

	grads [][]float64
	count int
	state LayerState
	buf   *bytes.Buffer
}

// NewPredictor builds the graph and VM of a predictor with freshly initialized weights.
func NewPredictor(inputDim, hidden1, hidden2 int, debug bool) (*Predictor, error) {
	if inputDim < 1 || hidden1 < 1 || hidden2 < 1 {
		return nil, configError(fmt.Sprintf("invalid predictor sizes %d→%d→%d→1", inputDim, hidden1, hidden2))
	}
	p := &Predictor{
		inputDim: inputDim,
		hidden1:  hidden1,
		hidden2:  hidden2,
		debug:    debug,
		input:    tensor.New(tensor.WithShape(1, inputDim), tensor.Of(Float)),
		up:       tensor.New(tensor.WithShape(1, 1), tensor.Of(Float)),
		buf:      new(bytes.Buffer),
	}
	if err := p.init(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Predictor) init() error {
	p.g = G.NewGraph()
	p.x = G.NewMatrix(p.g, Float, G.WithShape(1, p.inputDim), G.WithName("WC"))
	p.upstream = G.NewMatrix(p.g, Float, G.WithShape(1, 1), G.WithName("dLdAlpha"))

	var m maebe
	h := m.softplus(m.linear(p.x, p.hidden1, "fc1"))
	h = m.softplus(m.linear(h, p.hidden2, "fc2"))
	p.out = m.softplus(m.linear(h, 1, "fc3"))
	cost := m.do(func() (*G.Node, error) { return G.HadamardProd(p.out, p.upstream) })
	cost = m.do(func() (*G.Node, error) { return G.Sum(cost) })
	if m.err != nil {
		return m.err
	}
	G.Read(p.out, &p.alpha)

	p.params = p.model()
	if _, err := G.Grad(cost, p.params...); err != nil {
		return errors.WithStack(err)
	}
	p.grads = make([][]float64, len(p.params))
	for i, n := range p.params {
		p.grads[i] = make([]float64, n.Shape().TotalSize())
	}

	if p.debug {
		logger := log.New(p.buf, "", 0)
		p.m = G.NewTapeMachine(p.g,
			G.BindDualValues(p.params...),
			G.WithLogger(logger),
			G.WithWatchlist(),
			G.TraceExec(),
			G.WithValueFmt("%+1.3v"),
			G.WithNaNWatch(),
		)
	} else {
		p.m = G.NewTapeMachine(p.g, G.BindDualValues(p.params...))
	}
	return nil
}

func (p *Predictor) model() G.Nodes {
	retVal := make(G.Nodes, 0, 6)
	for _, n := range p.g.AllNodes() {
		if n.IsVar() && n != p.x && n != p.upstream {
			retVal = append(retVal, n)
		}
	}
	return retVal
}

// Params returns the trainable weights and biases in layer order.
func (p *Predictor) Params() G.Nodes { return p.params }

// InputDim is the flattened length of W and C the predictor accepts.
func (p *Predictor) InputDim() int { return p.inputDim }

func (p *Predictor) State() LayerState { return p.state }

// SetState switches the predictor between training and inference. Freezing
// drops any accumulated gradient.
func (p *Predictor) SetState(s LayerState) {
	p.state = s
	if s == Frozen {
		p.ZeroGrad()
	}
}

func (p *Predictor) load(w, c *tensor.Dense) error {
	ws, cs := ivag.Floats(w), ivag.Floats(c)
	if have := len(ws) + len(cs); have != p.inputDim {
		return errors.WithStack(shapeError{what: "flattened W and C", want: p.inputDim, have: have})
	}
	data := p.input.Data().([]float64)
	copy(data, ws)
	copy(data[len(ws):], cs)
	return nil
}

func (p *Predictor) run(w, c *tensor.Dense, upstream float64) error {
	if err := p.load(w, c); err != nil {
		return err
	}
	p.up.Data().([]float64)[0] = upstream

	p.m.Reset()
	p.buf.Reset()
	if err := G.Let(p.x, p.input); err != nil {
		return errors.WithStack(err)
	}
	if err := G.Let(p.upstream, p.up); err != nil {
		return errors.WithStack(err)
	}
	if err := p.m.RunAll(); err != nil {
		return errors.Wrap(err, "alpha predictor")
	}
	return nil
}

// Predict returns alpha for the current W and C.
func (p *Predictor) Predict(w, c *tensor.Dense) (float64, error) {
	if err := p.run(w, c, 0); err != nil {
		return 0, err
	}
	return p.alpha.Data().([]float64)[0], nil
}

// Backward accumulates dL/dθ = dL/dalpha · dalpha/dθ for the input (W, C).
// A frozen predictor accumulates nothing.
func (p *Predictor) Backward(w, c *tensor.Dense, dAlpha float64) error {
	if p.state == Frozen {
		return nil
	}
	if math.IsNaN(dAlpha) || math.IsInf(dAlpha, 0) {
		return numerical("dL/dalpha", dAlpha)
	}
	if err := p.run(w, c, dAlpha); err != nil {
		return err
	}
	for i, n := range p.params {
		grad, err := n.Grad()
		if err != nil {
			return errors.Wrapf(err, "gradient of %v", n.Name())
		}
		acc := p.grads[i]
		for j, v := range grad.Data().([]float64) {
			acc[j] += v
		}
	}
	p.count++
	return nil
}

// Step applies the mean of the accumulated gradients with solver and clears them.
func (p *Predictor) Step(solver G.Solver) error {
	if p.state == Frozen {
		return configError("cannot step a frozen predictor")
	}
	if p.count == 0 {
		return nil
	}
	scale := 1 / float64(p.count)
	for i, n := range p.params {
		grad, err := n.Grad()
		if err != nil {
			return errors.Wrapf(err, "gradient of %v", n.Name())
		}
		data := grad.Data().([]float64)
		for j, v := range p.grads[i] {
			data[j] = v * scale
		}
	}
	if err := solver.Step(G.NodesToValueGrads(p.params)); err != nil {
		return errors.WithStack(err)
	}
	p.ZeroGrad()
	return nil
}

// ZeroGrad drops every accumulated gradient.
func (p *Predictor) ZeroGrad() {
	for _, g := range p.grads {
		for j := range g {
			g[j] = 0
		}
	}
	p.count = 0
}

// GradNorm is the Euclidean norm of the accumulated gradients.
func (p *Predictor) GradNorm() float64 {
	var sum float64
	for _, g := range p.grads {
		for _, v := range g {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// Values returns a copy of every parameter's data.
func (p *Predictor) Values() [][]float64 {
	retVal := make([][]float64, len(p.params))
	for i, n := range p.params {
		retVal[i] = append([]float64(nil), n.Value().Data().([]float64)...)
	}
	return retVal
}

// SetValues overwrites the parameters in place. The predictor keeps its own storage.
func (p *Predictor) SetValues(vals [][]float64) error {
	if len(vals) != len(p.params) {
		return errors.WithStack(shapeError{what: "predictor parameter count", want: len(p.params), have: len(vals)})
	}
	for i, n := range p.params {
		data := n.Value().Data().([]float64)
		if len(vals[i]) != len(data) {
			return errors.WithStack(shapeError{what: n.Name(), want: len(data), have: len(vals[i])})
		}
		copy(data, vals[i])
	}
	return nil
}

// CopyFrom copies the parameter values of src into p. No storage is shared.
func (p *Predictor) CopyFrom(src *Predictor) error {
	if src.inputDim != p.inputDim || src.hidden1 != p.hidden1 || src.hidden2 != p.hidden2 {
		return configError(fmt.Sprintf("cannot copy a %d→%d→%d predictor into a %d→%d→%d one",
			src.inputDim, src.hidden1, src.hidden2, p.inputDim, p.hidden1, p.hidden2))
	}
	return p.SetValues(src.Values())
}

// Clone returns an independent predictor with the same weights and state.
func (p *Predictor) Clone() (*Predictor, error) {
	p2, err := NewPredictor(p.inputDim, p.hidden1, p.hidden2, p.debug)
	if err != nil {
		return nil, err
	}
	if err := p2.CopyFrom(p); err != nil {
		return nil, err
	}
	p2.state = p.state
	return p2, nil
}

// ExecLog returns the log of the last VM run. It is empty unless the
// predictor was built with debug on.
func (p *Predictor) ExecLog() string { return p.buf.String() }

// Close implements a closer, because a gorgonia VM is a resource.
func (p *Predictor) Close() error { return p.m.Close() }
