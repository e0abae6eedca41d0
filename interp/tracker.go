package interp

import (
	"github.com/benbjohnson/glee"
	"golang.org/x/tools/go/ssa"
)

// Tracker adapts an *ITree to glee.InterpolationTracker, so
// executor.go can drive dependency tracking and subsumption checking
// through an interface glee itself declares — without this package's
// import of glee ever becoming a cycle. See interp_hooks.go's doc comment
// on the glee side for why the interface lives there.
type Tracker struct {
	tree   *ITree
	solver Solver

	// allocsByState maps a concrete heap base address to the Allocation
	// registered for it, per originating ExecutionState.ID(). The
	// dependency tracker itself resolves allocations by ssa.Value (see
	// Allocation's doc comment); this side table exists only because the
	// teacher executor's Load/Store instructions carry a concrete resolved
	// address rather than the originating Alloc/MakeSlice/MakeMap value.
	// Copied (shallow) into each child state at Split and shared as-is
	// with the continuing state at Continue, mirroring how Dependency
	// itself chains rather than copies.
	allocsByState map[int]map[uint64]*Allocation
}

// NewTracker returns a Tracker wrapping tree, using solver for subsumption
// queries.
func NewTracker(tree *ITree, solver Solver) *Tracker {
	return &Tracker{
		tree:          tree,
		solver:        solver,
		allocsByState: make(map[int]map[uint64]*Allocation),
	}
}

var _ glee.InterpolationTracker = (*Tracker)(nil)

func (t *Tracker) dep(stateID int) *Dependency {
	n := t.tree.Node(stateID)
	if n == nil {
		return nil
	}
	return n.Dependency
}

// valueFor returns source's already-tracked VersionedValue, or registers a
// fresh one bound to expr if source has never been bound in dep's chain
// (a constant, or a value produced before tracking began).
func valueFor(dep *Dependency, source ssa.Value, expr glee.Expr) *VersionedValue {
	if v := dep.GetLatestValue(source); v != nil {
		return v
	}
	return dep.NewVersionedValue(source, expr)
}

func (t *Tracker) addrTable(stateID int) map[uint64]*Allocation {
	m := t.allocsByState[stateID]
	if m == nil {
		m = make(map[uint64]*Allocation)
		t.allocsByState[stateID] = m
	}
	return m
}

func (t *Tracker) Alloc(stateID int, instr ssa.Value, baseAddr uint64, resultExpr glee.Expr, scalar bool) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	kind := Composite
	if scalar {
		kind = Singleton
	}
	_, alloc := dep.ExecuteAlloc(instr, resultExpr, kind)
	t.addrTable(stateID)[baseAddr] = alloc
}

func (t *Tracker) Store(stateID int, baseAddr uint64, data ssa.Value, dataExpr glee.Expr) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	alloc, ok := t.addrTable(stateID)[baseAddr]
	if !ok {
		return
	}
	dep.ExecuteStore(valueFor(dep, data, dataExpr), []*Allocation{alloc})
}

func (t *Tracker) Load(stateID int, result ssa.Value, baseAddr uint64, resultExpr glee.Expr) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	var allocations []*Allocation
	if alloc, ok := t.addrTable(stateID)[baseAddr]; ok {
		allocations = []*Allocation{alloc}
	}
	dep.ExecuteLoad(result, resultExpr, nil, allocations)
}

func (t *Tracker) GetElementPtr(stateID int, result, base ssa.Value, resultExpr glee.Expr) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	baseValue := dep.GetLatestValue(base)
	if baseValue == nil {
		return
	}
	resultValue := valueFor(dep, result, resultExpr)
	dep.ExecuteGetElementPtr(resultValue, baseValue)
}

func (t *Tracker) Flow(stateID int, result ssa.Value, resultExpr glee.Expr, operands ...ssa.Value) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	resultValue := valueFor(dep, result, resultExpr)
	operandValues := make([]*VersionedValue, len(operands))
	for i, op := range operands {
		operandValues[i] = dep.GetLatestValue(op)
	}
	dep.ExecuteFlow(resultValue, operandValues...)
}

func (t *Tracker) Phi(stateID int, result ssa.Value, resultExpr glee.Expr, candidates ...ssa.Value) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	resultValue := valueFor(dep, result, resultExpr)
	candidateValues := make([]*VersionedValue, len(candidates))
	for i, c := range candidates {
		candidateValues[i] = dep.GetLatestValue(c)
	}
	dep.ExecutePhi(resultValue, candidateValues...)
}

func (t *Tracker) BindCallArguments(stateID int, formals, actuals []ssa.Value) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	formalValues := make([]*VersionedValue, len(formals))
	for i, f := range formals {
		formalValues[i] = dep.GetLatestValue(f)
	}
	actualValues := make([]*VersionedValue, len(actuals))
	for i, a := range actuals {
		actualValues[i] = dep.GetLatestValue(a)
	}
	dep.BindCallArguments(formalValues, actualValues)
}

func (t *Tracker) BindReturnValue(stateID int, callResult, returned ssa.Value) {
	dep := t.dep(stateID)
	if dep == nil {
		return
	}
	dep.BindReturnValue(dep.GetLatestValue(callResult), dep.GetLatestValue(returned))
}

func (t *Tracker) Split(parentID, leftID, rightID int) {
	t.tree.Split(parentID, leftID, rightID)
	if parent, ok := t.allocsByState[parentID]; ok {
		t.allocsByState[leftID] = cloneAllocTable(parent)
		t.allocsByState[rightID] = cloneAllocTable(parent)
	}
}

func (t *Tracker) Continue(fromID, toID int) {
	t.tree.nodes[toID] = t.tree.nodes[fromID]
	if from, ok := t.allocsByState[fromID]; ok {
		t.allocsByState[toID] = from
	}
}

func cloneAllocTable(src map[uint64]*Allocation) map[uint64]*Allocation {
	dst := make(map[uint64]*Allocation, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (t *Tracker) AddConstraint(stateID int, constraint glee.Expr, derivedFrom ssa.Value) {
	dep := t.dep(stateID)
	var condition *VersionedValue
	if dep != nil && derivedFrom != nil {
		condition = dep.GetLatestValue(derivedFrom)
	}
	t.tree.AddConstraint(stateID, constraint, condition)
}

func (t *Tracker) CheckSubsumption(stateID int, programPoint interface{}) (bool, error) {
	dep := t.dep(stateID)
	if dep == nil {
		return false, nil
	}
	singletons := dep.SingletonStores()
	composites := dep.CompositeStores()
	return t.tree.CheckSubsumption(stateID, programPoint, t.solver, singletons, composites)
}

func (t *Tracker) Remove(stateID int, programPoint interface{}) {
	t.tree.Remove(stateID, programPoint)
	delete(t.allocsByState, stateID)
}
