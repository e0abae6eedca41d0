package interp

import "github.com/benbjohnson/immutable"

// AllocationNode is a node in an AllocationGraph: the allocation itself,
// plus the set of allocations it directly flows into ("ancestors", in the
// sink-draining sense — following an edge moves toward the allocation that
// consumes it).
type AllocationNode struct {
	Alloc    *Allocation
	Children *immutable.SortedMap // key *Allocation.ID (uint64) -> struct{}{}
}

func newAllocationNode(a *Allocation) *AllocationNode {
	return &AllocationNode{Alloc: a, Children: immutable.NewSortedMap(&allocIDComparer{})}
}

// HasChildren reports whether any edge leaves this node.
func (n *AllocationNode) HasChildren() bool { return n.Children.Len() > 0 }

// AllocationGraph is the DAG of allocation-to-allocation flow built while
// computing core allocations for an interpolant (§4.3/§4.4): an edge
// source->target means "target's content may depend on source's content".
// A node with no children is a "sink" — consumeSinkNode in the original
// drains sinks one at a time, replacing each with its own parents.
//
// Grounded on original_source/lib/Core/Dependency.cpp's AllocationGraph
// and ITree.cpp's computeCoreAllocations draining loop.
type AllocationGraph struct {
	nodes *immutable.SortedMap // key *Allocation.ID (uint64) -> *AllocationNode

	// parents maps an allocation id to the set of node ids that point to
	// it, the reverse index needed to replace a drained sink with its
	// parents' own parent sets.
	parents map[uint64]map[uint64]bool
}

// NewAllocationGraph returns an empty AllocationGraph.
func NewAllocationGraph() *AllocationGraph {
	return &AllocationGraph{
		nodes:   immutable.NewSortedMap(&allocIDComparer{}),
		parents: make(map[uint64]map[uint64]bool),
	}
}

func (g *AllocationGraph) nodeFor(a *Allocation) *AllocationNode {
	if v, ok := g.nodes.Get(a.ID); ok {
		return v.(*AllocationNode)
	}
	n := newAllocationNode(a)
	g.nodes = g.nodes.Set(a.ID, n)
	return n
}

// AddNewEdge adds an edge from source to target if it does not already
// exist, returning true if a new edge was added. Grounded on
// AllocationGraph::addNewEdge — existing edges are a no-op so repeated
// BuildAllocationGraph calls across diamond-shaped flow don't blow up the
// graph with duplicate edges.
func (g *AllocationGraph) AddNewEdge(source, target *Allocation) bool {
	sn := g.nodeFor(source)
	g.nodeFor(target)

	if _, ok := sn.Children.Get(target.ID); ok {
		return false
	}
	sn.Children = sn.Children.Set(target.ID, struct{}{})
	g.nodes = g.nodes.Set(source.ID, sn)

	if g.parents[target.ID] == nil {
		g.parents[target.ID] = make(map[uint64]bool)
	}
	g.parents[target.ID][source.ID] = true
	return true
}

// Sinks returns every allocation with no outgoing edge.
func (g *AllocationGraph) Sinks() []*Allocation {
	var out []*Allocation
	itr := g.nodes.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		n := v.(*AllocationNode)
		if !n.HasChildren() {
			out = append(out, n.Alloc)
		}
	}
	return out
}

// Drain repeatedly consumes every current sink, replacing each with its
// parents (a parent becomes a new sink once all of its children have been
// drained), until the graph is empty. It returns every allocation in the
// order it was consumed — this is the set of "core allocations" used to
// decide which allocations a subsumption-table entry must record a store
// for.
//
// Grounded on ITree.cpp's computeCoreAllocations loop over
// AllocationGraph::consumeSinkNode.
func (g *AllocationGraph) Drain() []*Allocation {
	var order []*Allocation
	remaining := make(map[uint64]bool)
	itr := g.nodes.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		remaining[k.(uint64)] = true
	}

	childCount := make(map[uint64]int)
	for id := range remaining {
		n, _ := g.nodes.Get(id)
		childCount[id] = n.(*AllocationNode).Children.Len()
	}

	var queue []uint64
	for id, c := range childCount {
		if c == 0 {
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if !remaining[id] {
			continue
		}
		delete(remaining, id)

		v, _ := g.nodes.Get(id)
		order = append(order, v.(*AllocationNode).Alloc)

		for pid := range g.parents[id] {
			if !remaining[pid] {
				continue
			}
			childCount[pid]--
			if childCount[pid] == 0 {
				queue = append(queue, pid)
			}
		}
	}
	return order
}

// allocIDComparer compares two Allocation.ID values. Implements
// immutable.Comparer, mirroring execution_state.go's own uint64Comparer.
type allocIDComparer struct{}

func (c *allocIDComparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
