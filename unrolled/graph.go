package unrolled

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
)

type layerNode struct {
	ID     int
	State  LayerState
	Params int
	Trace
}

// ToDot renders the layers of the network, their states and the alpha and
// coefficients each one derived last, as a graphviz digraph.
func (n *Network) ToDot() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName("U"); err != nil {
		return "", err
	}
	if err := g.SetDir(true); err != nil {
		return "", err
	}
	if err := g.AddAttr("U", "rankdir", "LR"); err != nil {
		return "", err
	}
	if err := g.AddNode("U", "input", map[string]string{"shape": "plaintext", "label": `"(Rx, W0, C0)"`}); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	prev := "input"
	for i, b := range n.layers {
		var params int
		for _, p := range b.predictor.Params() {
			params += p.Shape().TotalSize()
		}
		ln := layerNode{ID: i, State: b.State(), Params: params, Trace: b.Last()}
		if err := layerTmpl.Execute(&buf, ln); err != nil {
			return "", err
		}
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		buf.Reset()
		if b.State() == Frozen {
			attrs["fontcolor"] = "gray"
		}
		name := fmt.Sprintf("layer%d", i)
		if err := g.AddNode("U", name, attrs); err != nil {
			return "", err
		}
		if err := g.AddEdge(prev, name, true, nil); err != nil {
			return "", err
		}
		prev = name
	}
	if err := g.AddNode("U", "output", map[string]string{"shape": "plaintext", "label": `"(W, C)"`}); err != nil {
		return "", err
	}
	if err := g.AddEdge(prev, "output", true, nil); err != nil {
		return "", err
	}
	return g.String(), nil
}

const layerTmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Layer</TD><TD>{{.ID}}</TD></TR>
<TR><TD>State</TD><TD>{{.State}}</TD></TR>
<TR><TD>Params</TD><TD>{{.Params}}</TD></TR>
<TR><TD>alpha</TD><TD>{{printf "%.4g" .Alpha}}</TD></TR>
<TR><TD>c_w</TD><TD>{{printf "%.4g" .CW}}</TD></TR>
<TR><TD>beta_w</TD><TD>{{printf "%.4g" .BetaW}}</TD></TR>
<TR><TD>c_c</TD><TD>{{printf "%.4g" .CC}}</TD></TR>
<TR><TD>beta_c</TD><TD>{{printf "%.4g" .BetaC}}</TD></TR>
</TABLE>
>`

var layerTmpl = template.Must(template.New("layer").Parse(layerTmplRaw))
