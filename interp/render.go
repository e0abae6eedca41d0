package interp

import (
	"fmt"
	"io"
)

// RenderSearchTree writes a textual edge-list dump of tree to w: one line
// per node giving its assigned sequence number, its parent's (-1 for the
// root), whether it was finalized into the subsumption table, and its
// path-condition depth. Gated by Config.OutputInterpolationTree; callers
// check that themselves before paying for the walk.
//
// Grounded on execution_state.go's Dump, which builds its text the same
// Fprintf-into-a-writer way; the original's counterpart (ITree.cpp's
// .dot export via TxTreeGraph) is simplified here to a flat edge list
// since this package reaches for no graphviz dependency.
func RenderSearchTree(w io.Writer, tree *ITree) {
	if tree == nil || tree.root == nil {
		return
	}
	next := 0
	var walk func(n *ITreeNode, parent int)
	walk = func(n *ITreeNode, parent int) {
		if n == nil {
			return
		}
		id := next
		next++
		depth := 0
		if n.PathCond != nil {
			depth = n.PathCond.Depth
		}
		fmt.Fprintf(w, "%d parent=%d finalized=%t depth=%d\n", id, parent, n.data, depth)
		for _, c := range n.Children {
			walk(c, id)
		}
	}
	walk(tree.root, -1)
}
