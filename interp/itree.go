package interp

import "github.com/benbjohnson/glee"

// ITreeNode is the interpolation-tree counterpart of an ExecutionState: one
// per symbolic-execution node, carrying its own Dependency context (chained
// to its parent's) and a pointer into the path-condition cons-list shared
// with its ExecutionState.
//
// A real ExecutionState owns one of these via a side table keyed by
// ExecutionState.ID (see ITree.NodeFor) rather than an embedded field,
// so this package stays independent of execution_state.go's definition —
// executor.go wires the two together at Fork/termination points.
//
// Grounded on original_source/lib/Core/ITree.cpp's ITreeNode.
type ITreeNode struct {
	Parent   *ITreeNode
	Children [2]*ITreeNode

	Dependency *Dependency
	PathCond   *PathConditionFrame

	data  bool // true once this node has been finalized into the table
	entry *SubsumptionTableEntry
}

// newITreeNode returns a node under parent, with a Dependency context
// chained to parent's and parent's path-condition head; with a nil parent
// it returns a root node with a fresh Dependency context.
func newITreeNode(parent *ITreeNode) *ITreeNode {
	n := &ITreeNode{Parent: parent}
	if parent != nil {
		n.Dependency = parent.Dependency.NewChildDependency()
		n.PathCond = parent.PathCond
	} else {
		n.Dependency = NewDependency()
	}
	return n
}

// ITree is the interpolation tree itself: a root node plus a lookup from
// ExecutionState identity to ITreeNode, so executor.go can attach
// dependency tracking to a symbolic-execution tree it already owns without
// this package importing glee.ExecutionState.
type ITree struct {
	cfg   Config
	root  *ITreeNode
	nodes map[int]*ITreeNode // ExecutionState.ID() -> node
	table *Table
}

// NewITree returns a new ITree rooted at an empty node, associated with
// the execution state identified by rootStateID.
func NewITree(cfg Config, rootStateID int) *ITree {
	t := &ITree{cfg: cfg, root: newITreeNode(nil), nodes: make(map[int]*ITreeNode), table: NewTable()}
	t.nodes[rootStateID] = t.root
	return t
}

// Node returns the ITreeNode for the execution state identified by id, or
// nil if Split has never been called for it.
func (t *ITree) Node(id int) *ITreeNode { return t.nodes[id] }

// Table returns the subsumption table backing this tree.
func (t *ITree) Table() *Table { return t.table }

// Split grows the tree: parentID identifies the execution state that
// forked, and leftID/rightID identify the two resulting states (mirroring
// ExecutionState.Fork, which always produces exactly two children — the
// taken and not-taken branch). If interpolation is disabled by Config the
// call is a no-op against the tree (the lookup table is still populated so
// later calls don't panic on a missing node).
//
// Grounded on ITree.cpp's ITree::split.
func (t *ITree) Split(parentID, leftID, rightID int) {
	parent := t.nodes[parentID]
	if parent == nil {
		parent = t.root
	}
	if !t.cfg.Interpolation {
		t.nodes[leftID], t.nodes[rightID] = parent, parent
		return
	}
	left, right := newITreeNode(parent), newITreeNode(parent)
	parent.Children[0], parent.Children[1] = left, right
	t.nodes[leftID] = left
	t.nodes[rightID] = right
}

// AddConstraint pushes constraint onto the path condition owned by the
// node for stateID, optionally tagging it with the versioned value it was
// derived from.
func (t *ITree) AddConstraint(stateID int, constraint glee.Expr, condition *VersionedValue) {
	if !t.cfg.Interpolation {
		return
	}
	n := t.nodes[stateID]
	if n == nil {
		return
	}
	n.PathCond = Push(n.PathCond, constraint, condition)
}

// Remove detaches the node for stateID from the tree (the execution state
// terminated, subsumed, or errored) and, if interpolant tracking was
// active on it, finalizes a subsumption-table entry for its program point.
//
// Grounded on ITree.cpp's ITree::remove, which builds the table entry at
// exactly this point — a node's final interpolant is only meaningful once
// no more constraints will be appended to it.
func (t *ITree) Remove(stateID int, programPoint ProgramPoint) {
	n := t.nodes[stateID]
	if n == nil || !t.cfg.Interpolation {
		return
	}
	if !n.data {
		entry := NewSubsumptionTableEntry(t.cfg, n, programPoint)
		t.table.Insert(programPoint, entry)
		n.data = true
		n.entry = entry
	}
	delete(t.nodes, stateID)
}

// MarkPathCondition flags the constraints on the path to stateID that the
// dependency tracker has determined are core (relevant to the interpolant
// produced at this state's failure), using MarkAllValues seeded from the
// failing condition.
//
// Grounded on ITree.cpp's ITree::markPathCondition.
func (t *ITree) MarkPathCondition(stateID int, failing *VersionedValue) {
	n := t.nodes[stateID]
	if n == nil || !t.cfg.Interpolation {
		return
	}
	g := NewAllocationGraph()
	n.Dependency.MarkAllValues(g, failing)
	// A frame is core if the value its constraint was derived from was
	// flagged by MarkAllValues above — walk root to leaf like
	// PathCondition::markPathCondition does, rather than through Mark's
	// expression-keyed predicate, since core membership here is a property
	// of the Condition value, not of the constraint expression itself.
	for f := n.PathCond; f != nil; f = f.Parent {
		if f.Condition != nil && f.Condition.InCore {
			f.core = true
		}
	}
}

// CheckSubsumption asks whether the node for stateID is subsumed by any
// entry already recorded for programPoint, using solver to discharge the
// resulting query. A true result means the caller should terminate this
// execution state as redundant.
//
// Grounded on ITree.cpp's ITree::checkCurrentStateSubsumption.
func (t *ITree) CheckSubsumption(stateID int, programPoint ProgramPoint, solver Solver, singletons map[uint64]glee.Expr, composites map[uint64][]glee.Expr) (bool, error) {
	if !t.cfg.Interpolation {
		return false, nil
	}
	n := t.nodes[stateID]
	if n == nil {
		return false, nil
	}
	return t.table.CheckSubsumption(t.cfg, solver, programPoint, n, singletons, composites)
}
