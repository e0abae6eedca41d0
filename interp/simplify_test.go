package interp_test

import (
	"testing"

	"github.com/benbjohnson/glee"
	"github.com/benbjohnson/glee/interp"
)

// TestSimplify_FourierMotzkinEliminatesBoundVariable drives a genuine
// Fourier-Motzkin elimination (§4.5 step 5): a bound variable v sandwiched
// between a free lower and a free upper bound (a <= v, v <= b) must simplify
// to the cross bound a <= b with v gone entirely, since v always has a
// witness at either boundary.
func TestSimplify_FourierMotzkinEliminatesBoundVariable(t *testing.T) {
	a := glee.NewArray(1, 1)
	b := glee.NewArray(2, 1)
	v := glee.NewArray(3, 1)

	aRead := glee.NewSelectExpr(a, glee.NewConstantExpr(0, glee.Width64))
	bRead := glee.NewSelectExpr(b, glee.NewConstantExpr(0, glee.Width64))
	vRead := glee.NewSelectExpr(v, glee.NewConstantExpr(0, glee.Width64))

	body := glee.NewBinaryExpr(glee.AND,
		glee.NewBinaryExpr(glee.ULE, aRead, vRead),
		glee.NewBinaryExpr(glee.ULE, vRead, bRead),
	)

	result := interp.Simplify([]*glee.Array{v}, body)

	want := glee.NewBinaryExpr(glee.ULE, aRead, bRead)
	if glee.CompareExpr(result.Conjunct, want) != 0 {
		t.Fatalf("expected cross bound %s, got %s", want, result.Conjunct)
	}
	if glee.CompareExpr(result.Body, want) != 0 {
		t.Fatalf("expected Body to match the eliminated conjunct unwrapped, got %s", result.Body)
	}
	if result.AllExistential {
		t.Fatal("expected AllExistential false: a and b are free, not among vars")
	}
}

// TestSimplify_EqualitySubstitutesBoundRead exercises the classify/substitute
// passes (§4.5 steps 1-2): an equality pinning a bound variable's read down
// to a free value must disappear as an atom and get substituted everywhere
// else that read occurs, rather than surviving as an opaque conjunct that
// still mentions v.
func TestSimplify_EqualitySubstitutesBoundRead(t *testing.T) {
	k := glee.NewArray(10, 1)
	v := glee.NewArray(11, 1)

	kRead := glee.NewSelectExpr(k, glee.NewConstantExpr(0, glee.Width64))
	vRead := glee.NewSelectExpr(v, glee.NewConstantExpr(0, glee.Width64))

	body := glee.NewBinaryExpr(glee.AND,
		glee.NewBinaryExpr(glee.EQ, vRead, kRead),
		glee.NewBinaryExpr(glee.ULE, vRead, kRead),
	)

	result := interp.Simplify([]*glee.Array{v}, body)

	// v == k substitutes vRead -> kRead everywhere, so the surviving ULE
	// atom reads k <= k on both sides and v is gone.
	want := glee.NewBinaryExpr(glee.ULE, kRead, kRead)
	if glee.CompareExpr(result.Conjunct, want) != 0 {
		t.Fatalf("expected %s, got %s", want, result.Conjunct)
	}
	if glee.CompareExpr(result.Body, want) != 0 {
		t.Fatalf("expected Body unwrapped (v no longer referenced), got %s", result.Body)
	}
	if result.AllExistential {
		t.Fatal("expected AllExistential false: k is free, not among vars")
	}
}

// TestSimplify_UnresolvableAtomAbortsElimination checks that a bound
// variable mentioned in a non-comparison atom (here, XOR'd into an opaque
// boolean) aborts Fourier-Motzkin elimination for that variable entirely,
// leaving every atom mentioning it untouched rather than dropping some of
// them unsoundly.
func TestSimplify_UnresolvableAtomAbortsElimination(t *testing.T) {
	v := glee.NewArray(20, 1)
	other := glee.NewArray(21, 1)

	vRead := glee.NewSelectExpr(v, glee.NewConstantExpr(0, glee.Width64))
	otherRead := glee.NewSelectExpr(other, glee.NewConstantExpr(0, glee.Width64))

	// XOR is not one of the ULE/ULT/SLE/SLT shapes eliminateVar accepts, so
	// this atom can't be isolated and elimination for v must bail out.
	body := glee.NewBinaryExpr(glee.XOR, vRead, otherRead)

	result := interp.Simplify([]*glee.Array{v}, body)

	if glee.CompareExpr(result.Conjunct, body) != 0 {
		t.Fatalf("expected the unresolvable atom to survive untouched, got %s", result.Conjunct)
	}
	ex, ok := result.Body.(*glee.ExistsExpr)
	if !ok {
		t.Fatalf("expected v to still be bound since elimination aborted, got %T", result.Body)
	}
	if len(ex.Bound) != 1 || ex.Bound[0].ID != v.ID {
		t.Fatalf("expected Body bound over just v, got %v", ex.Bound)
	}
	if glee.CompareExpr(ex.Body, body) != 0 {
		t.Fatalf("expected ExistsExpr body to be the untouched atom, got %s", ex.Body)
	}
	if result.AllExistential {
		t.Fatal("expected AllExistential false: other is free and still referenced")
	}
}
