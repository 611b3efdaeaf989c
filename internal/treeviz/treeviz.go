// Package treeviz renders a model tree as an SVG diagram.
package treeviz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"jamwatch/internal/ml"
)

// Render lays out view with dot and writes it to w in format.
func Render(ctx context.Context, view ml.TreeView, format graphviz.Format, w io.Writer) error {
	if len(view.Nodes) == 0 {
		return fmt.Errorf("tree %d of %s has no nodes", view.Tree, view.Model)
	}

	g, err := graphviz.New(ctx)
	if err != nil {
		return fmt.Errorf("init graphviz: %w", err)
	}
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	defer graph.Close()

	nodes := make(map[int]*cgraph.Node, len(view.Nodes))
	for _, vn := range view.Nodes {
		n, err := graph.CreateNodeByName(strconv.Itoa(vn.ID))
		if err != nil {
			return fmt.Errorf("create node %d: %w", vn.ID, err)
		}
		n.SetLabel(vn.Label)
		if vn.Leaf {
			n.SetShape(cgraph.EllipseShape)
		} else {
			n.SetShape(cgraph.BoxShape)
		}
		nodes[vn.ID] = n
	}

	for i, ve := range view.Edges {
		from, ok := nodes[ve.From]
		if !ok {
			return fmt.Errorf("edge %d: unknown node %d", i, ve.From)
		}
		to, ok := nodes[ve.To]
		if !ok {
			return fmt.Errorf("edge %d: unknown node %d", i, ve.To)
		}
		e, err := graph.CreateEdgeByName(fmt.Sprintf("e%d", i), from, to)
		if err != nil {
			return fmt.Errorf("create edge %d: %w", i, err)
		}
		e.SetLabel(ve.Label)
	}

	return g.Render(ctx, graph, format, w)
}

// SVG renders view as an SVG document.
func SVG(ctx context.Context, view ml.TreeView) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(ctx, view, graphviz.SVG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
