package treeviz

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamwatch/internal/ml"
)

func stump() ml.TreeView {
	return ml.TreeView{
		Model: "rf",
		Nodes: []ml.ViewNode{
			{ID: 0, Label: "Occupancy <= 0.5"},
			{ID: 1, Label: "p=0.050", Leaf: true},
			{ID: 2, Label: "p=0.930", Leaf: true},
		},
		Edges: []ml.ViewEdge{
			{From: 0, To: 1, Label: "yes"},
			{From: 0, To: 2, Label: "no"},
		},
	}
}

func TestSVG(t *testing.T) {
	svg, err := SVG(context.Background(), stump())
	require.NoError(t, err)

	out := string(svg)
	assert.Contains(t, out, "<svg")
	assert.Contains(t, out, "Occupancy &lt;= 0.5")
	assert.Contains(t, out, "p=0.930")
}

func TestRenderDOT(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(context.Background(), stump(), graphviz.Format("dot"), &buf))
	assert.Contains(t, buf.String(), "yes")
}

func TestRenderRejectsBadViews(t *testing.T) {
	_, err := SVG(context.Background(), ml.TreeView{Model: "rf"})
	assert.Error(t, err)

	view := stump()
	view.Edges = append(view.Edges, ml.ViewEdge{From: 0, To: 9})
	_, err = SVG(context.Background(), view)
	assert.Error(t, err)
}
