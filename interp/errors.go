package interp

import "errors"

// ErrUnresolvedAllocation is returned by a caller-side Load/Store handler
// when neither pointer-equality chasing nor the executor's own concrete
// address resolution produced an Allocation for the memory operand — the
// precondition §4.2's Load/Store rules assume never holds. Like glee.go's
// solver sentinels, it identifies the failure without wrapping a dynamic
// message.
var ErrUnresolvedAllocation = errors.New("interp: unresolved allocation")

// ErrUnhandledInstruction is returned when executor.go hands this package
// an ssa.Instruction kind §4.2 has no execute rule for. Distinct from a
// glee.go assert panic: this is a recoverable "skip interpolation for this
// node" signal, not an internal-invariant violation.
var ErrUnhandledInstruction = errors.New("interp: unhandled instruction")
