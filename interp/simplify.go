package interp

import "github.com/benbjohnson/glee"

// SimplifyResult is the outcome of simplifying an existentially-quantified
// interpolant body.
type SimplifyResult struct {
	// Body is the simplified formula: quantifier-free if every bound
	// variable was consumed by substitution or elimination, otherwise
	// re-wrapped in an ExistsExpr over whichever of vars are still
	// referenced.
	Body glee.Expr

	// Conjunct is Body with any outer ExistsExpr wrapper stripped — the
	// raw simplified conjunction, for callers that already know (via
	// AllExistential) that treating the remaining vars as ordinary free
	// symbols is sound (§4.6 step d's "rephrase as satisfiability of the
	// negated body").
	Conjunct glee.Expr

	// AllExistential is true if every array SimplifyResult.Body still
	// references belongs to the vars passed to Simplify — i.e. nothing
	// free leaked in from outside the quantifier. Table.CheckSubsumption
	// uses this to decide whether a validity query can be rephrased as a
	// plain satisfiability check (§4.6 step d).
	AllExistential bool
}

// Simplify implements the arithmetic simplifier (§4.5): given the vars an
// ExistsExpr quantifies over and its (already-unwrapped) body, it
// substitutes away equalities that pin a bound variable down exactly,
// normalizes comparison atoms, makes a best-effort attempt at the same for
// equalities hidden behind arithmetic, then Fourier-Motzkin eliminates
// whatever inequalities remain over a single bound variable.
//
// Grounded on original_source/lib/Core/ITree.cpp's simplifyInterpolantExpr
// / simplifyArithmeticBody pair of passes.
func Simplify(vars []*glee.Array, body glee.Expr) SimplifyResult {
	atoms := splitConjunction(body)

	subs, atoms := classify(vars, atoms)
	atoms = substituteAll(atoms, subs)

	for i, a := range atoms {
		atoms[i] = normalizeAtom(a)
	}

	arithRest, arithSubs := arithmeticSubstitute(vars, atoms)
	if len(arithSubs) > 0 {
		atoms = substituteAll(arithRest, arithSubs)
	} else {
		atoms = arithRest
	}

	atoms, _ = eliminate(vars, atoms)

	conj := conjoin(atoms)

	var usedVars []*glee.Array
	allExistential := true
	seen := make(map[uint64]bool)
	for _, a := range atoms {
		for _, arr := range referencedArrays(a) {
			if !isVar(arr, vars) {
				allExistential = false
				continue
			}
			if !seen[arr.ID] {
				seen[arr.ID] = true
				usedVars = append(usedVars, arr)
			}
		}
	}

	return SimplifyResult{
		Body:           glee.NewExistsExpr(usedVars, conj),
		Conjunct:       conj,
		AllExistential: allExistential,
	}
}

// splitConjunction flattens a right- or left-leaning chain of AND nodes
// into its conjuncts, dropping literal-true conjuncts.
func splitConjunction(e glee.Expr) []glee.Expr {
	if b, ok := e.(*glee.BinaryExpr); ok && b.Op == glee.AND {
		return append(splitConjunction(b.LHS), splitConjunction(b.RHS)...)
	}
	if glee.IsConstantTrue(e) {
		return nil
	}
	return []glee.Expr{e}
}

// conjoin is splitConjunction's inverse. An empty atom list conjoins to
// true; NewBinaryExpr(AND, ...)'s own constant folding (newAndExpr) takes
// care of collapsing the whole conjunction to false the moment any atom is
// a constant false, so callers get short-circuiting for free.
func conjoin(atoms []glee.Expr) glee.Expr {
	if len(atoms) == 0 {
		return glee.NewBoolConstantExpr(true)
	}
	out := atoms[0]
	for _, a := range atoms[1:] {
		out = glee.NewBinaryExpr(glee.AND, out, a)
	}
	return out
}

// substitution is a single structural rewrite: every subexpression
// structurally equal to match (per glee.CompareExpr) becomes repl.
type substitution struct {
	match glee.Expr
	repl  glee.Expr
}

// classify splits atoms into substitutions (equalities pinning one bound
// variable's read down to a value that does not itself mention that
// variable) and the remainder, which stays in the interpolant. Grounded on
// ITree.cpp's equality-normalization pass (§4.5 step 1-2).
func classify(vars []*glee.Array, atoms []glee.Expr) (subs []substitution, rest []glee.Expr) {
	for _, a := range atoms {
		b, ok := a.(*glee.BinaryExpr)
		if !ok || b.Op != glee.EQ {
			rest = append(rest, a)
			continue
		}
		if arr, isRead := boundArrayRead(b.LHS, vars); isRead && !mentionsArray(b.RHS, arr) {
			subs = append(subs, substitution{match: b.LHS, repl: b.RHS})
			continue
		}
		if arr, isRead := boundArrayRead(b.RHS, vars); isRead && !mentionsArray(b.LHS, arr) {
			subs = append(subs, substitution{match: b.RHS, repl: b.LHS})
			continue
		}
		rest = append(rest, a)
	}
	return subs, rest
}

// boundArrayRead reports whether e is built purely from Select/Concat/
// Extract/Cast nodes over exactly one array in vars — i.e. e reads that
// variable's full (or partial) value and mentions nothing else symbolic.
func boundArrayRead(e glee.Expr, vars []*glee.Array) (*glee.Array, bool) {
	var found *glee.Array
	ok := true
	var walk func(glee.Expr)
	walk = func(e glee.Expr) {
		if !ok {
			return
		}
		switch e := e.(type) {
		case *glee.ConstantExpr:
		case *glee.SelectExpr:
			if !isVar(e.Array, vars) {
				ok = false
				return
			}
			if found == nil {
				found = e.Array
			} else if found.ID != e.Array.ID {
				ok = false
				return
			}
			walk(e.Index)
		case *glee.ConcatExpr:
			walk(e.MSB)
			walk(e.LSB)
		case *glee.ExtractExpr:
			walk(e.Expr)
		case *glee.CastExpr:
			walk(e.Src)
		case *glee.NotOptimizedExpr:
			walk(e.Src)
		default:
			ok = false
		}
	}
	walk(e)
	return found, ok && found != nil
}

func isVar(a *glee.Array, vars []*glee.Array) bool {
	for _, v := range vars {
		if v.ID == a.ID {
			return true
		}
	}
	return false
}

// referencedArrays returns every array e reads from, in traversal order
// (may repeat).
func referencedArrays(e glee.Expr) []*glee.Array {
	var out []*glee.Array
	var walk func(glee.Expr)
	walk = func(e glee.Expr) {
		switch e := e.(type) {
		case *glee.SelectExpr:
			out = append(out, e.Array)
			walk(e.Index)
		case *glee.BinaryExpr:
			walk(e.LHS)
			walk(e.RHS)
		case *glee.CastExpr:
			walk(e.Src)
		case *glee.ConcatExpr:
			walk(e.MSB)
			walk(e.LSB)
		case *glee.ExtractExpr:
			walk(e.Expr)
		case *glee.NotExpr:
			walk(e.Expr)
		case *glee.NotOptimizedExpr:
			walk(e.Src)
		case *glee.ExistsExpr:
			walk(e.Body)
		}
	}
	walk(e)
	return out
}

func mentionsArray(e glee.Expr, arr *glee.Array) bool {
	for _, a := range referencedArrays(e) {
		if a.ID == arr.ID {
			return true
		}
	}
	return false
}

// substitute rewrites e, replacing any subexpression structurally equal to
// one of subs' match fields with its repl, via the same smart constructors
// expr.go itself uses so the result stays canonicalized. Mirrors
// ShadowMap.Rewrite's shape, generalized to arbitrary match/replace pairs
// instead of just array substitution.
func substitute(e glee.Expr, subs []substitution) glee.Expr {
	for _, s := range subs {
		if glee.CompareExpr(e, s.match) == 0 {
			return s.repl
		}
	}
	switch e := e.(type) {
	case *glee.ConstantExpr:
		return e
	case *glee.SelectExpr:
		index := substitute(e.Index, subs)
		if index == e.Index {
			return e
		}
		return glee.NewSelectExpr(e.Array, index)
	case *glee.BinaryExpr:
		lhs, rhs := substitute(e.LHS, subs), substitute(e.RHS, subs)
		if lhs == e.LHS && rhs == e.RHS {
			return e
		}
		return glee.NewBinaryExpr(e.Op, lhs, rhs)
	case *glee.CastExpr:
		src := substitute(e.Src, subs)
		if src == e.Src {
			return e
		}
		return glee.NewCastExpr(src, e.Width, e.Signed)
	case *glee.ConcatExpr:
		msb, lsb := substitute(e.MSB, subs), substitute(e.LSB, subs)
		if msb == e.MSB && lsb == e.LSB {
			return e
		}
		return glee.NewConcatExpr(msb, lsb)
	case *glee.ExtractExpr:
		inner := substitute(e.Expr, subs)
		if inner == e.Expr {
			return e
		}
		return glee.NewExtractExpr(inner, e.Offset, e.Width)
	case *glee.NotExpr:
		inner := substitute(e.Expr, subs)
		if inner == e.Expr {
			return e
		}
		return glee.NewNotExpr(inner)
	case *glee.NotOptimizedExpr:
		src := substitute(e.Src, subs)
		if src == e.Src {
			return e
		}
		return glee.NewNotOptimizedExpr(src)
	case *glee.ExistsExpr:
		body := substitute(e.Body, subs)
		if body == e.Body {
			return e
		}
		return glee.NewExistsExpr(e.Bound, body)
	default:
		return e
	}
}

func substituteAll(atoms []glee.Expr, subs []substitution) []glee.Expr {
	if len(subs) == 0 {
		return atoms
	}
	out := make([]glee.Expr, len(atoms))
	for i, a := range atoms {
		out[i] = substitute(a, subs)
	}
	return out
}

// normalizeAtom folds Eq(true|false, X) down to X/Not(X) for a general
// boolean X — newEqExpr (expr.go) already handles this for a few specific
// shapes of X (nested EQ/OR/ADD/SUB), but not the general case a
// comparison atom like Ult/Slt produces. Grounded on §4.5 step 3.
func normalizeAtom(e glee.Expr) glee.Expr {
	b, ok := e.(*glee.BinaryExpr)
	if !ok || b.Op != glee.EQ {
		return e
	}
	if c, ok := b.LHS.(*glee.ConstantExpr); ok && c.Width == glee.WidthBool {
		if c.IsTrue() {
			return b.RHS
		}
		return glee.NewNotExpr(b.RHS)
	}
	if c, ok := b.RHS.(*glee.ConstantExpr); ok && c.Width == glee.WidthBool {
		if c.IsTrue() {
			return b.LHS
		}
		return glee.NewNotExpr(b.LHS)
	}
	return e
}

// --- linear-term representation (§4.5 step 5) ---

type linTerm struct {
	Expr  glee.Expr
	Coeff uint64 // two's complement, modulo 2^Width
}

type linComb struct {
	Width    uint
	Terms    []linTerm
	Constant uint64 // modulo 2^Width
}

func bitmaskW(w uint) uint64 {
	if w >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << w) - 1
}

func maskAdd(a, b uint64, w uint) uint64 { return (a + b) & bitmaskW(w) }
func maskNeg(a uint64, w uint) uint64    { return (^a + 1) & bitmaskW(w) }
func maskMul(a, b uint64, w uint) uint64 { return (a * b) & bitmaskW(w) }

// signedVal sign-extends v (held in w bits) to an int64.
func signedVal(v uint64, w uint) int64 {
	if w >= 64 {
		return int64(v)
	}
	signBit := uint64(1) << (w - 1)
	if v&signBit != 0 {
		return int64(v) - int64(uint64(1)<<w)
	}
	return int64(v)
}

func maskFromInt(v int64, w uint) uint64 {
	return uint64(v) & bitmaskW(w)
}

// decompose breaks e into a constant plus a sum of coefficient*term pairs,
// recognizing ADD/SUB/MUL-by-constant; anything else becomes its own
// atomic term with coefficient 1. Always succeeds (the bool result exists
// for symmetry with callers that may want to reject non-arithmetic shapes,
// but decompose itself never does).
func decompose(e glee.Expr) (*linComb, bool) {
	w := glee.ExprWidth(e)
	switch e := e.(type) {
	case *glee.ConstantExpr:
		return &linComb{Width: w, Constant: e.Value}, true
	case *glee.BinaryExpr:
		switch e.Op {
		case glee.ADD:
			l, _ := decompose(e.LHS)
			r, _ := decompose(e.RHS)
			return addLinComb(l, r), true
		case glee.SUB:
			l, _ := decompose(e.LHS)
			r, _ := decompose(e.RHS)
			return addLinComb(l, negateLinComb(r)), true
		case glee.MUL:
			if c, ok := e.LHS.(*glee.ConstantExpr); ok {
				r, _ := decompose(e.RHS)
				return scaleLinComb(r, c.Value), true
			}
			if c, ok := e.RHS.(*glee.ConstantExpr); ok {
				l, _ := decompose(e.LHS)
				return scaleLinComb(l, c.Value), true
			}
			return atomicLinComb(e, w), true
		default:
			return atomicLinComb(e, w), true
		}
	default:
		return atomicLinComb(e, w), true
	}
}

func atomicLinComb(e glee.Expr, w uint) *linComb {
	return &linComb{Width: w, Terms: []linTerm{{Expr: e, Coeff: 1}}}
}

func addLinComb(a, b *linComb) *linComb {
	out := &linComb{Width: a.Width, Constant: maskAdd(a.Constant, b.Constant, a.Width), Terms: append([]linTerm{}, a.Terms...)}
	for _, t := range b.Terms {
		out.Terms = mergeTerm(out.Terms, t, a.Width)
	}
	return out
}

func mergeTerm(terms []linTerm, t linTerm, w uint) []linTerm {
	for i, e := range terms {
		if glee.CompareExpr(e.Expr, t.Expr) == 0 {
			c := maskAdd(e.Coeff, t.Coeff, w)
			if c == 0 {
				return append(terms[:i], terms[i+1:]...)
			}
			terms[i].Coeff = c
			return terms
		}
	}
	return append(terms, t)
}

func negateLinComb(a *linComb) *linComb {
	out := &linComb{Width: a.Width, Constant: maskNeg(a.Constant, a.Width)}
	for _, t := range a.Terms {
		out.Terms = append(out.Terms, linTerm{Expr: t.Expr, Coeff: maskNeg(t.Coeff, a.Width)})
	}
	return out
}

func scaleLinComb(a *linComb, k uint64) *linComb {
	out := &linComb{Width: a.Width, Constant: maskMul(a.Constant, k, a.Width)}
	for _, t := range a.Terms {
		if c := maskMul(t.Coeff, k, a.Width); c != 0 {
			out.Terms = append(out.Terms, linTerm{Expr: t.Expr, Coeff: c})
		}
	}
	return out
}

// divLinComb truncated-divides every coefficient and the constant by the
// signed value coeff (§4.5's tie-break: "Integer division ... uses
// truncated-toward-zero division").
func divLinComb(a *linComb, coeff int64, w uint) *linComb {
	out := &linComb{Width: w, Constant: maskFromInt(signedVal(a.Constant, w)/coeff, w)}
	for _, t := range a.Terms {
		if c := signedVal(t.Coeff, w) / coeff; c != 0 {
			out.Terms = append(out.Terms, linTerm{Expr: t.Expr, Coeff: maskFromInt(c, w)})
		}
	}
	return out
}

// exprFromLinComb rebuilds a glee.Expr from a linear combination, via the
// same smart constructors used everywhere else so the result folds
// constants and cancels zero terms automatically.
func exprFromLinComb(lc *linComb) glee.Expr {
	var out glee.Expr = glee.NewConstantExpr(lc.Constant, lc.Width)
	for _, t := range lc.Terms {
		term := t.Expr
		if t.Coeff != 1 {
			term = glee.NewBinaryExpr(glee.MUL, glee.NewConstantExpr(t.Coeff, lc.Width), term)
		}
		out = glee.NewBinaryExpr(glee.ADD, out, term)
	}
	return out
}

// soleBoundTerm returns the index of the single term in lc that is a read
// of one of vars, failing if none or more than one such term exists (an
// ambiguous case arithmeticSubstitute/eliminateVar both decline to guess
// at).
func soleBoundTerm(lc *linComb, vars []*glee.Array) (int, bool) {
	found := -1
	for i, t := range lc.Terms {
		if _, ok := boundArrayRead(t.Expr, vars); ok {
			if found != -1 {
				return 0, false
			}
			found = i
		}
	}
	if found == -1 {
		return 0, false
	}
	return found, true
}

// arithmeticSubstitute is the best-effort pass of §4.5 step 4: for an
// equality atom that decomposes linearly and pins down exactly one bound
// variable with coefficient +-1, turn it into a substitution the same way
// classify's structural case does, instead of leaving it as an opaque
// interpolant atom.
//
// This is a narrower, linear-algebra reading of the original's
// shape-based "A[D/C]" rewrite (see SPEC_FULL.md §9) — it catches the
// common x+k=y / y=x-k shapes the original's structural match was aimed
// at, but will silently leave an atom alone whenever it can't isolate a
// single bound variable this way.
func arithmeticSubstitute(vars []*glee.Array, atoms []glee.Expr) (rest []glee.Expr, subs []substitution) {
	for _, a := range atoms {
		b, ok := a.(*glee.BinaryExpr)
		if !ok || b.Op != glee.EQ {
			rest = append(rest, a)
			continue
		}
		w := glee.ExprWidth(b.LHS)
		lc, _ := decompose(b.LHS)
		rc, _ := decompose(b.RHS)
		diff := addLinComb(lc, negateLinComb(rc))

		idx, ok := soleBoundTerm(diff, vars)
		if !ok {
			rest = append(rest, a)
			continue
		}
		coeff := diff.Terms[idx].Coeff
		if coeff != 1 && coeff != maskNeg(1, w) {
			rest = append(rest, a)
			continue
		}

		restLC := &linComb{Width: diff.Width, Constant: diff.Constant}
		for j, t := range diff.Terms {
			if j != idx {
				restLC.Terms = append(restLC.Terms, t)
			}
		}

		var replacement glee.Expr
		if coeff == 1 {
			replacement = exprFromLinComb(negateLinComb(restLC))
		} else {
			replacement = exprFromLinComb(restLC)
		}
		subs = append(subs, substitution{match: diff.Terms[idx].Expr, repl: replacement})
	}
	return rest, subs
}

// fmBound is one side of an isolated inequality: v <= value (or <, an
// upper bound) or value <= v (a lower bound, stored the same way and
// disambiguated by which slice eliminateVar puts it in).
type fmBound struct {
	value  glee.Expr
	strict bool
	signed bool
}

func boundCompareOp(signed, strict bool) glee.BinaryOp {
	switch {
	case !signed && strict:
		return glee.ULT
	case !signed && !strict:
		return glee.ULE
	case signed && strict:
		return glee.SLT
	default:
		return glee.SLE
	}
}

// eliminate Fourier-Motzkin-eliminates as many of vars as possible from
// atoms, one variable at a time.
func eliminate(vars []*glee.Array, atoms []glee.Expr) (result []glee.Expr, eliminated []*glee.Array) {
	result = atoms
	for _, v := range vars {
		if next, ok := eliminateVar(v, result); ok {
			result = next
			eliminated = append(eliminated, v)
		}
	}
	return result, eliminated
}

// eliminateVar removes v from atoms if every atom mentioning it is a
// ULE/ULT/SLE/SLT comparison that decomposes linearly with v appearing
// exactly once. Bounds on one side only are simply dropped (v ranges over
// its full width, so a witness always exists at the boundary); bounds on
// both sides are replaced by their pairwise comparison. Any atom that
// can't be isolated this way aborts elimination for v entirely (atoms are
// returned unchanged, ok=false) — removing v from only *some* of the
// atoms that mention it would be unsound.
//
// Grounded on original_source/lib/Core/ITree.cpp's
// SubsumptionTableEntry::simplifyWithFourierMotzkin, the per-variable
// Fourier-Motzkin pass it runs over each candidate bound (§4.5 step 5).
func eliminateVar(v *glee.Array, atoms []glee.Expr) ([]glee.Expr, bool) {
	var others []glee.Expr
	var lowers, uppers []fmBound
	anySigned, anyUnsigned := false, false
	sawAny := false

	for _, a := range atoms {
		if !mentionsArray(a, v) {
			others = append(others, a)
			continue
		}
		sawAny = true

		b, ok := a.(*glee.BinaryExpr)
		if !ok {
			return atoms, false
		}
		var signed, strict bool
		switch b.Op {
		case glee.ULE:
			signed, strict = false, false
		case glee.ULT:
			signed, strict = false, true
		case glee.SLE:
			signed, strict = true, false
		case glee.SLT:
			signed, strict = true, true
		default:
			return atoms, false
		}

		w := glee.ExprWidth(b.LHS)
		if w > 64 {
			return atoms, false
		}
		lc, _ := decompose(b.LHS)
		rc, _ := decompose(b.RHS)
		diff := addLinComb(lc, negateLinComb(rc))

		idx, ok := soleBoundTerm(diff, []*glee.Array{v})
		if !ok {
			return atoms, false
		}
		coeff := signedVal(diff.Terms[idx].Coeff, w)
		if coeff == 0 {
			return atoms, false
		}

		restLC := &linComb{Width: diff.Width, Constant: diff.Constant}
		for j, t := range diff.Terms {
			if j != idx {
				restLC.Terms = append(restLC.Terms, t)
			}
		}

		// v*coeff + rest <= 0 (or <)  =>  v <=' (-rest)/coeff, flipping
		// the comparator when coeff is negative.
		boundValue := exprFromLinComb(divLinComb(negateLinComb(restLC), coeff, w))
		bnd := fmBound{value: boundValue, strict: strict, signed: signed}
		if signed {
			anySigned = true
		} else {
			anyUnsigned = true
		}
		if coeff > 0 {
			uppers = append(uppers, bnd) // v <=/< boundValue
		} else {
			lowers = append(lowers, bnd) // boundValue <=/< v
		}
	}

	if !sawAny || (anySigned && anyUnsigned) {
		return atoms, false
	}
	signed := anySigned

	var cross []glee.Expr
	for _, lo := range lowers {
		for _, up := range uppers {
			strict := lo.strict || up.strict
			cross = append(cross, glee.NewBinaryExpr(boundCompareOp(signed, strict), lo.value, up.value))
		}
	}
	return append(others, cross...), true
}
