package interp

import "github.com/benbjohnson/glee"

// PathConditionFrame is one link in the path-condition cons-list: the
// constraint added at a branch, plus the bookkeeping the interpolation
// core needs when later deciding which constraints belong in an
// interpolant.
//
// Grounded on original_source/lib/Core/ITree.cpp's PathCondition /
// PathConditionMarker.
type PathConditionFrame struct {
	Constraint glee.Expr
	Condition  *VersionedValue // the value the constraint was derived from, if any
	Parent     *PathConditionFrame
	Depth      int // distance from the root, for depth-bounded frame numbering

	core bool // true once this frame is known to belong in the unsat core
}

// NewPathCondition returns an empty path condition (no constraints yet;
// parent is nil).
func NewPathCondition() *PathConditionFrame { return nil }

// Push returns a new frame prepended to the list headed by parent (parent
// may be nil for the first constraint on a path).
func Push(parent *PathConditionFrame, constraint glee.Expr, condition *VersionedValue) *PathConditionFrame {
	depth := 0
	if parent != nil {
		depth = parent.Depth + 1
	}
	return &PathConditionFrame{Constraint: constraint, Condition: condition, Parent: parent, Depth: depth}
}

// Constraints returns every constraint from the root to this frame,
// oldest first.
func (f *PathConditionFrame) Constraints() []glee.Expr {
	if f == nil {
		return nil
	}
	out := f.Parent.Constraints()
	return append(out, f.Constraint)
}

// Mark walks forward from the root to this frame, flagging every frame
// whose constraint mentions a value in core (the set of values the
// dependency tracker has flagged via MarkAllValues/IncludeInInterpolant)
// as belonging to the unsat core.
//
// Grounded on ITree.cpp's PathCondition::markPathCondition — that scans
// forward (root to leaf, not leaf to root) because a later constraint can
// only be relevant if an earlier one already is, so the original computes
// membership once and caches it per frame rather than re-walking on every
// query. The recursion on f.Parent marks the ancestors before f itself.
func (f *PathConditionFrame) Mark(inCore func(glee.Expr) bool) {
	if f == nil {
		return
	}
	f.Parent.Mark(inCore)
	if inCore(f.Constraint) {
		f.core = true
	}
}

// CoreConstraints returns the constraints from the root to this frame
// that Mark most recently flagged as core.
func (f *PathConditionFrame) CoreConstraints() []glee.Expr {
	if f == nil {
		return nil
	}
	out := f.Parent.CoreConstraints()
	if f.core {
		out = append(out, f.Constraint)
	}
	return out
}

// Pack builds the interpolant for this path: the conjunction of every
// core constraint, shadow-renamed via m and existentially generalized
// over every array m introduced, per cfg. This is packInterpolant in the
// original.
func (f *PathConditionFrame) Pack(cfg Config, m *ShadowMap) glee.Expr {
	core := f.CoreConstraints()
	if len(core) == 0 {
		return glee.NewBoolConstantExpr(true)
	}

	body := core[0]
	for _, c := range core[1:] {
		// execution_state.go's own AddConstraint treats BinaryExpr{Op: AND}
		// as logical conjunction (it splits one back into two constraints);
		// building the interpolant body the same way keeps it consistent
		// with that convention.
		body = glee.NewBinaryExpr(glee.AND, body, c)
	}

	if cfg.NoExistential {
		return body
	}
	renamed := m.Rewrite(body)
	return Generalize(cfg, m, renamed)
}
