package glee

import "golang.org/x/tools/go/ssa"

// InterpolationTracker observes Executor's instruction-level execution and
// state-tree transitions closely enough to drive Craig-interpolant
// subsumption checking, without this package importing the interp package
// that implements it — interp already imports glee for Expr/Array, and the
// reverse import would cycle. Accepting the interface here and supplying a
// concrete *interp.Tracker from cmd/glee keeps the dependency one-directional.
//
// Every method is keyed by ExecutionState.ID() rather than a *ExecutionState
// pointer so the interp side never needs to see this package's state type.
// A nil Executor.Tracker disables every call site below; tracking is strictly
// additive and never changes the symbolic values an Executor computes.
type InterpolationTracker interface {
	// Alloc records a fresh allocation for instr (an *ssa.Alloc, *ssa.MakeSlice,
	// *ssa.MakeMap, or *ssa.MakeChan), whose content should be tracked
	// field-insensitively unless scalar is true.
	Alloc(stateID int, instr ssa.Value, baseAddr uint64, resultExpr Expr, scalar bool)

	// Store records that data (evaluating to dataExpr) was stored into the
	// allocation based at baseAddr.
	Store(stateID int, baseAddr uint64, data ssa.Value, dataExpr Expr)

	// Load records that result (evaluating to resultExpr) was loaded from
	// the allocation based at baseAddr.
	Load(stateID int, result ssa.Value, baseAddr uint64, resultExpr Expr)

	// GetElementPtr records that result's address derives from base's
	// (struct-field or array/slice-index address computation).
	GetElementPtr(stateID int, result, base ssa.Value, resultExpr Expr)

	// Flow records that result (evaluating to resultExpr) was computed from
	// operands — casts, arithmetic, bitwise, compare, select.
	Flow(stateID int, result ssa.Value, resultExpr Expr, operands ...ssa.Value)

	// Phi records that result took its value from whichever candidate (in
	// incoming-edge order) is actually tracked.
	Phi(stateID int, result ssa.Value, resultExpr Expr, candidates ...ssa.Value)

	// BindCallArguments threads dependency from a call site's actual
	// arguments to the callee frame's formal parameters.
	BindCallArguments(stateID int, formals, actuals []ssa.Value)

	// BindReturnValue threads dependency from a callee's returned value to
	// the call instruction's result.
	BindReturnValue(stateID int, callResult, returned ssa.Value)

	// Split records that parentID forked into the two states leftID and
	// rightID (an *ssa.If's taken/not-taken branches).
	Split(parentID, leftID, rightID int)

	// Continue records that fromID continued as toID without branching (a
	// call push or a return's frame pop), carrying the same dependency
	// context forward.
	Continue(fromID, toID int)

	// AddConstraint pushes constraint onto stateID's path condition,
	// tagging it with the tracked value derivedFrom was last bound to (nil
	// if derivedFrom has no tracked value, e.g. a freshly negated condition
	// expression rather than an ssa.Value).
	AddConstraint(stateID int, constraint Expr, derivedFrom ssa.Value)

	// CheckSubsumption reports whether stateID's current state is subsumed
	// by an entry already recorded for programPoint.
	CheckSubsumption(stateID int, programPoint interface{}) (bool, error)

	// Remove finalizes stateID's subsumption-table entry (if interpolation
	// is enabled) and detaches it from the tree. Called once a state
	// terminates for any reason.
	Remove(stateID int, programPoint interface{})
}
