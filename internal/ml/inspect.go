package ml

import (
	"fmt"
)

// ViewNode is a tree node prepared for display.
type ViewNode struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Leaf  bool   `json:"leaf"`
}

// ViewEdge connects a parent to a child; Label is "yes" for the <= branch.
type ViewEdge struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label"`
}

// TreeView is a display-ready snapshot of one tree, truncated at a depth.
type TreeView struct {
	Model string     `json:"model"`
	Tree  int        `json:"tree"`
	Nodes []ViewNode `json:"nodes"`
	Edges []ViewEdge `json:"edges"`
}

// Inspector is implemented by models whose trees can be displayed.
type Inspector interface {
	TreeCount() int
	TreeView(tree, maxDepth int) (TreeView, error)
}

// Inspect returns a view of one tree of m.
func Inspect(m Model, tree, maxDepth int) (TreeView, error) {
	in, ok := m.(Inspector)
	if !ok {
		return TreeView{}, fmt.Errorf("model %s cannot be inspected", m.Name())
	}
	return in.TreeView(tree, maxDepth)
}

func (f *RandomForest) TreeCount() int { return len(f.trees) }

func (f *RandomForest) TreeView(tree, maxDepth int) (TreeView, error) {
	if tree < 0 || tree >= len(f.trees) {
		return TreeView{}, fmt.Errorf("tree %d out of range [0,%d)", tree, len(f.trees))
	}
	nodes := f.trees[tree].Nodes
	view := TreeView{Model: f.name, Tree: tree}

	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		n := nodes[idx]
		if n.Leaf || depth >= maxDepth {
			view.Nodes = append(view.Nodes, ViewNode{
				ID:    idx,
				Label: fmt.Sprintf("p=%.3f\nn=%d", n.Proba, n.Samples),
				Leaf:  true,
			})
			return
		}
		view.Nodes = append(view.Nodes, ViewNode{
			ID:    idx,
			Label: fmt.Sprintf("%s <= %.4g\nn=%d", f.features[n.Feature], n.Threshold, n.Samples),
		})
		view.Edges = append(view.Edges, ViewEdge{From: idx, To: n.Left, Label: "yes"}, ViewEdge{From: idx, To: n.Right, Label: "no"})
		walk(n.Left, depth+1)
		walk(n.Right, depth+1)
	}
	walk(0, 0)
	return view, nil
}

func (f *HoeffdingForest) TreeCount() int { return len(f.trees) }

func (f *HoeffdingForest) TreeView(tree, maxDepth int) (TreeView, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if tree < 0 || tree >= len(f.trees) {
		return TreeView{}, fmt.Errorf("tree %d out of range [0,%d)", tree, len(f.trees))
	}
	nodes := f.trees[tree].Nodes
	view := TreeView{Model: f.name, Tree: tree}

	var walk func(idx, depth int)
	walk = func(idx, depth int) {
		n := nodes[idx]
		w := n.weight()
		if n.Leaf || depth >= maxDepth {
			p := 0.0
			if w > 0 {
				p = n.Counts[1] / w
			}
			view.Nodes = append(view.Nodes, ViewNode{
				ID:    idx,
				Label: fmt.Sprintf("p=%.3f\nw=%.0f", p, w),
				Leaf:  true,
			})
			return
		}
		view.Nodes = append(view.Nodes, ViewNode{
			ID:    idx,
			Label: fmt.Sprintf("%s <= %.4g", f.features[n.Feature], n.Threshold),
		})
		view.Edges = append(view.Edges, ViewEdge{From: idx, To: n.Left, Label: "yes"}, ViewEdge{From: idx, To: n.Right, Label: "no"})
		walk(n.Left, depth+1)
		walk(n.Right, depth+1)
	}
	walk(0, 0)
	return view, nil
}
