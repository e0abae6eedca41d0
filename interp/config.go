package interp

// Config holds the recognized interpolation-core configuration options.
//
// Shaped like glee.Executor's own exported, directly-settable fields
// rather than routed through a flags/config library — see SPEC_FULL.md
// §10 for why this follows the teacher's own ambient style.
type Config struct {
	// Interpolation is the master switch. When false the ITree operations
	// Split, AddConstraint, MarkPathCondition, Remove and CheckSubsumption
	// leave the tree and the table untouched. Tracker's per-instruction
	// hooks (Alloc, Store, Load, GetElementPtr, Flow, Phi and the call
	// bindings) still record into the Dependency of the state's node.
	Interpolation bool

	// NoExistential skips shadow renaming. Interpolants are packed and
	// tabled verbatim, which is weaker (path-local symbols leak into the
	// table) but keeps solver queries quantifier-free.
	NoExistential bool

	// OutputInterpolationTree enables the optional search-tree export
	// (see render.go). Treated as a sink; has no effect on subsumption.
	OutputInterpolationTree bool

	// SubsumptionTimeoutSeconds bounds each per-entry subsumption query.
	// Reset to zero on the solver after every call.
	SubsumptionTimeoutSeconds float64
}

// DefaultConfig returns the configuration used when none is supplied:
// interpolation on, existential generalization on, no tree export, no
// per-query timeout.
func DefaultConfig() Config {
	return Config{Interpolation: true}
}
