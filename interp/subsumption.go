package interp

import "github.com/benbjohnson/glee"

// ProgramPoint identifies the basic-block head a subsumption entry is
// recorded against. Left as an opaque comparable type — ordinarily an
// *ssa.BasicBlock — so this package need not import ssa just to name its
// table key; executor.go supplies whatever it already uses to identify a
// block.
type ProgramPoint interface{}

// ValidityResult is the three-way outcome of an SMT validity query: Z3 can
// always answer yes/no/unknown under a timeout, and unknown must never be
// surfaced as a Go error (§7) — only a genuine solver failure is.
type ValidityResult int

const (
	Invalid ValidityResult = iota
	Valid
	Unknown
)

// Solver is the subsumption core's view of the external SMT oracle: richer
// than glee.Solver's single Solve method, but satisfied by the same
// *z3.Solver value once it grows these methods — Go interfaces are
// structural, so glee.Solver itself needs no change.
//
// Grounded on original_source/lib/Core/ITree.cpp's own solver call sites
// (SubsumptionTableEntry's getInterpolant/getValue/getUnsatCore usage).
type Solver interface {
	// Evaluate reports the validity of query under constraints using the
	// ordinary (quantifier-free) solver: Valid if constraints ∧ ¬query is
	// unsatisfiable, Invalid if a model exists, Unknown on timeout or
	// solver-reported unknown.
	Evaluate(constraints []glee.Expr, query glee.Expr) (ValidityResult, error)

	// DirectComputeValidity is Evaluate for a query that still contains a
	// free ExistsExpr, dispatched through a quantifier-capable solver
	// configuration.
	DirectComputeValidity(constraints []glee.Expr, query glee.Expr) (ValidityResult, error)

	// GetValue returns a concrete value for expr consistent with
	// constraints, or nil if constraints are unsatisfiable.
	GetValue(constraints []glee.Expr, expr glee.Expr) (*glee.ConstantExpr, error)

	// GetUnsatCore returns the subset of the constraints passed to the
	// most recent Evaluate/DirectComputeValidity call that Z3 actually
	// used to prove the query valid.
	GetUnsatCore() []glee.Expr

	// SetCoreSolverTimeout bounds the next Evaluate/DirectComputeValidity
	// call, in seconds; 0 disables the bound. Callers reset it to 0 after
	// the call they set it for.
	SetCoreSolverTimeout(seconds float64)
}

// SubsumptionTableEntry is one packed, append-only snapshot of an
// ITreeNode's interpolant and core memory footprint, taken at ITree.Remove.
//
// Grounded on original_source/lib/Core/ITree.cpp's SubsumptionTableEntry.
type SubsumptionTableEntry struct {
	// Interpolant is the node's path condition, restricted to its core
	// constraints, shadow-renamed, and (unless Config.NoExistential)
	// wrapped in an ExistsExpr over every array Existentials names.
	Interpolant glee.Expr

	// Existentials is the set of shadow arrays Interpolant (and
	// Singletons/Composites) may reference in bound position.
	Existentials []*glee.Array

	// Singletons holds, per singleton allocation site marked in-core
	// anywhere on the node's ancestor chain, its latest stored expression,
	// shadow-renamed.
	Singletons map[uint64]glee.Expr

	// Composites holds, per composite/environment allocation site marked
	// in-core, every stored expression recorded against it, shadow-renamed.
	Composites map[uint64][]glee.Expr
}

// NewSubsumptionTableEntry packs node's interpolant and core memory
// footprint into a table entry. programPoint is not used here or stored in
// the entry; the table itself is keyed on it by the caller (Table.Insert).
//
// Grounded on ITree.cpp's ITreeNode::getInterpolant / TxTree's table-entry
// construction.
func NewSubsumptionTableEntry(cfg Config, node *ITreeNode, programPoint ProgramPoint) *SubsumptionTableEntry {
	_ = programPoint
	m := NewShadowMap(NextShadowIDRange())
	interpolant := node.PathCond.Pack(cfg, m)

	singletons := make(map[uint64]glee.Expr)
	for id, e := range node.Dependency.CoreSingletonStores() {
		singletons[id] = m.Rewrite(e)
	}
	composites := make(map[uint64][]glee.Expr)
	for id, es := range node.Dependency.CoreCompositeStores() {
		composites[id] = m.RewriteAll(es)
	}

	return &SubsumptionTableEntry{
		Interpolant:  interpolant,
		Existentials: m.Shadows(),
		Singletons:   singletons,
		Composites:   composites,
	}
}

// Table is the subsumption table: per program point, the append-only list
// of entries recorded there.
type Table struct {
	entries map[ProgramPoint][]*SubsumptionTableEntry
}

// NewTable returns an empty subsumption table.
func NewTable() *Table {
	return &Table{entries: make(map[ProgramPoint][]*SubsumptionTableEntry)}
}

// Insert records entry against programPoint.
func (t *Table) Insert(programPoint ProgramPoint, entry *SubsumptionTableEntry) {
	t.entries[programPoint] = append(t.entries[programPoint], entry)
}

// Entries returns every entry recorded against programPoint, oldest first.
func (t *Table) Entries(programPoint ProgramPoint) []*SubsumptionTableEntry {
	return t.entries[programPoint]
}

// unwrapExists returns expr's body if it is an ExistsExpr, else expr
// itself. Used to get at an already-generalized interpolant's raw
// conjunction before re-quantifying it together with a fresh state
// equality (double-wrapping would scope the old existentials too
// narrowly).
func unwrapExists(expr glee.Expr) glee.Expr {
	if ex, ok := expr.(*glee.ExistsExpr); ok {
		return ex.Body
	}
	return expr
}

// eqBridgingWidth returns an EQ atom between a and b, zero-extending
// whichever side is narrower to the wider side's width (§4.6: "width
// mismatches are bridged by zero-extension").
func eqBridgingWidth(a, b glee.Expr) glee.Expr {
	aw, bw := glee.ExprWidth(a), glee.ExprWidth(b)
	if aw < bw {
		a = glee.NewCastExpr(a, bw, false)
	} else if bw < aw {
		b = glee.NewCastExpr(b, aw, false)
	}
	return glee.NewBinaryExpr(glee.EQ, a, b)
}

// disjoin OR-folds atoms left to right, returning a false constant for an
// empty list.
func disjoin(atoms []glee.Expr) glee.Expr {
	if len(atoms) == 0 {
		return glee.NewBoolConstantExpr(false)
	}
	out := atoms[0]
	for _, a := range atoms[1:] {
		out = glee.NewBinaryExpr(glee.OR, out, a)
	}
	return out
}

// buildStateEquality builds the "current memory state matches the entry's
// recorded footprint" formula: a pointwise equality per singleton site, and
// a disjunction across the cartesian product of recorded vs. current
// expressions per composite site (a composite site field-insensitively
// unions every store it ever saw, so subsumption only needs ANY of the
// entry's recorded values to match ANY of the state's current ones). ok is
// false if the state is missing a site the entry depends on, which makes
// this entry inapplicable.
//
// Grounded on ITree.cpp's SubsumptionTableEntry::computeSinglePointExpr
// and computeCompositeExpr.
func buildStateEquality(entry *SubsumptionTableEntry, singletons map[uint64]glee.Expr, composites map[uint64][]glee.Expr) (glee.Expr, bool) {
	var atoms []glee.Expr

	for id, entryExpr := range entry.Singletons {
		stateExpr, ok := singletons[id]
		if !ok {
			return nil, false
		}
		atoms = append(atoms, eqBridgingWidth(entryExpr, stateExpr))
	}

	for id, entryExprs := range entry.Composites {
		stateExprs, ok := composites[id]
		if !ok || len(stateExprs) == 0 {
			return nil, false
		}
		var disjuncts []glee.Expr
		for _, ee := range entryExprs {
			for _, se := range stateExprs {
				disjuncts = append(disjuncts, eqBridgingWidth(ee, se))
			}
		}
		atoms = append(atoms, disjoin(disjuncts))
	}

	if len(atoms) == 0 {
		return glee.NewBoolConstantExpr(true), true
	}
	return conjoin(atoms), true
}

// markCore flags node's path condition with the constraints Z3 reports in
// its unsat core, then propagates that back through the dependency tracker
// to compute which allocations' store cells belong in the interpolant
// (§4.7).
//
// Grounded on ITree.cpp's ITreeNode::computeCoreAllocations, called from
// ITree::checkCurrentStateSubsumption on a successful subsumption.
func markCore(node *ITreeNode, core []glee.Expr) {
	inCore := func(e glee.Expr) bool {
		for _, c := range core {
			if glee.CompareExpr(e, c) == 0 {
				return true
			}
		}
		return false
	}
	node.PathCond.Mark(inCore)

	g := NewAllocationGraph()
	for f := node.PathCond; f != nil; f = f.Parent {
		if f.core && f.Condition != nil {
			node.Dependency.MarkAllValues(g, f.Condition)
		}
	}
	for _, alloc := range g.Drain() {
		node.Dependency.MarkAllocationInCore(alloc.ID)
	}
}

// CheckSubsumption tests node's current state against every entry recorded
// for programPoint, in insertion order, stopping at the first that
// subsumes it.
//
// Grounded on ITree.cpp's ITree::checkCurrentStateSubsumption / Table's
// per-entry loop over checkInterpolantInState.
func (t *Table) CheckSubsumption(cfg Config, solver Solver, programPoint ProgramPoint, node *ITreeNode, singletons map[uint64]glee.Expr, composites map[uint64][]glee.Expr) (bool, error) {
	entries := t.entries[programPoint]
	if len(entries) == 0 {
		return false, nil
	}

	constraints := node.PathCond.Constraints()

	for _, entry := range entries {
		stateEq, ok := buildStateEquality(entry, singletons, composites)
		if !ok {
			continue
		}

		interpBody := unwrapExists(entry.Interpolant)

		var query glee.Expr
		switch {
		case glee.IsConstantTrue(interpBody) && glee.IsConstantTrue(stateEq):
			// Both halves are trivially true: the entry subsumes without
			// consulting the solver, so there is no unsat core to mark.
			return true, nil
		case glee.IsConstantTrue(interpBody):
			query = stateEq
		case glee.IsConstantTrue(stateEq):
			query = interpBody
		default:
			query = glee.NewBinaryExpr(glee.AND, interpBody, stateEq)
		}

		result := Simplify(entry.Existentials, query)
		if glee.IsConstantFalse(result.Conjunct) {
			continue
		}
		if glee.IsConstantTrue(result.Conjunct) {
			return true, nil
		}

		solve := solver.Evaluate
		toSolve := result.Conjunct
		if !result.AllExistential {
			solve = solver.DirectComputeValidity
			toSolve = result.Body
		}

		if cfg.SubsumptionTimeoutSeconds > 0 {
			solver.SetCoreSolverTimeout(cfg.SubsumptionTimeoutSeconds)
		}
		vr, err := solve(constraints, toSolve)
		solver.SetCoreSolverTimeout(0)
		if err != nil {
			return false, err
		}
		if vr != Valid {
			continue
		}

		markCore(node, solver.GetUnsatCore())
		return true, nil
	}

	return false, nil
}
