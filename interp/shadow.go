package interp

import (
	"sync/atomic"

	"github.com/benbjohnson/glee"
)

// shadowIDCounter is the process-wide allocator backing NextShadowIDRange:
// every SubsumptionTableEntry built anywhere in the process draws its
// ShadowMap's starting ID from here, so two entries built concurrently (the
// teacher's executor explores states on a single goroutine today, but
// nothing in this package assumes that) never mint colliding shadow array
// IDs. A generous per-call block, rather than one ID at a time, keeps the
// common case — a handful of arrays per interpolant — to a single atomic op.
var shadowIDCounter uint64

// shadowIDBlockSize is comfortably larger than any path condition this
// engine is likely to shadow-rewrite in one entry.
const shadowIDBlockSize = 1 << 20

// NextShadowIDRange atomically reserves and returns the first ID of a fresh
// block of shadowIDBlockSize array IDs, for use as the firstShadowID
// argument to NewShadowMap.
func NextShadowIDRange() uint64 {
	return atomic.AddUint64(&shadowIDCounter, shadowIDBlockSize) - shadowIDBlockSize
}

// ShadowMap accumulates source-array -> shadow-array replacements so that
// an interpolant can be existentially generalized away from path-local
// symbols: every Array the path condition mentions gets a fresh shadow
// counterpart of the same size and update history, and the interpolant is
// rewritten to talk about the shadow instead of the original.
//
// Grounded on original_source/lib/Core/ITree.cpp's ShadowArray bookkeeping
// and getShadowExpression.
type ShadowMap struct {
	bySource map[uint64]*glee.Array
	ids      []uint64 // source IDs in first-seen order, for deterministic export
	nextID   uint64
}

// NewShadowMap returns an empty ShadowMap. firstShadowID is the first of
// the fresh, globally-unique shadow array IDs it mints, counting up — pass
// the start of an id space that cannot collide with any array ID already
// assigned on this path (see NextShadowIDRange).
func NewShadowMap(firstShadowID uint64) *ShadowMap {
	return &ShadowMap{bySource: make(map[uint64]*glee.Array), nextID: firstShadowID}
}

// ShadowOf returns the shadow array standing in for src, creating one on
// first use. The shadow carries src's size and a re-shadowed copy of its
// update list (§4.1), so a store recorded against src through an index or
// value expression that itself reads src — or any other array this map has
// shadowed — ends up pointing at shadows throughout, not left referencing
// source symbols the rest of the interpolant no longer mentions.
func (m *ShadowMap) ShadowOf(src *glee.Array) *glee.Array {
	if shadow, ok := m.bySource[src.ID]; ok {
		return shadow
	}
	// src may itself be a shadow this map minted (re-rewriting an already
	// shadowed expression): it stands for itself, and no new shadow is made.
	for _, shadow := range m.bySource {
		if shadow == src {
			return src
		}
	}
	shadow := &glee.Array{ID: m.nextID, Size: src.Size}
	m.nextID++
	m.bySource[src.ID] = shadow
	m.ids = append(m.ids, src.ID)
	// Registered in bySource above before recursing: an update chain that
	// reads src itself (e.g. a[i] derived from a[i-1]) must see the same
	// shadow here, not mint a second one.
	shadow.Updates = m.rewriteUpdates(src.Updates)
	return shadow
}

// rewriteUpdates returns u with every Index/Value rewritten through m,
// preserving list order; u itself is returned unchanged if nothing in its
// chain needed rewriting.
func (m *ShadowMap) rewriteUpdates(u *glee.ArrayUpdate) *glee.ArrayUpdate {
	if u == nil {
		return nil
	}
	next := m.rewriteUpdates(u.Next)
	index := m.Rewrite(u.Index)
	value := m.Rewrite(u.Value)
	if index == u.Index && value == u.Value && next == u.Next {
		return u
	}
	return glee.NewArrayUpdate(index, value, next)
}

// Shadows returns every shadow array this map has generated, in the order
// their source arrays were first rewritten. Used to build the Bound list
// of an ExistsExpr.
func (m *ShadowMap) Shadows() []*glee.Array {
	out := make([]*glee.Array, 0, len(m.ids))
	for _, id := range m.ids {
		out = append(out, m.bySource[id])
	}
	return out
}

// Rewrite returns a structural copy of expr with every SelectExpr's array
// replaced by its shadow counterpart, creating shadows for any array
// encountered for the first time. expr itself, and any subtree that
// contains no symbolic array reference, is returned unchanged (not
// copied) — only the path from the root to a replaced SelectExpr is
// rebuilt, via the same smart constructors expr.go itself uses, so the
// result stays fully canonicalized.
//
// Grounded on ITree.cpp's getShadowExpression.
func (m *ShadowMap) Rewrite(expr glee.Expr) glee.Expr {
	switch expr := expr.(type) {
	case *glee.ConstantExpr:
		return expr
	case *glee.SelectExpr:
		shadow := m.ShadowOf(expr.Array)
		index := m.Rewrite(expr.Index)
		if shadow == expr.Array && index == expr.Index {
			return expr
		}
		return glee.NewSelectExpr(shadow, index)
	case *glee.BinaryExpr:
		lhs, rhs := m.Rewrite(expr.LHS), m.Rewrite(expr.RHS)
		if lhs == expr.LHS && rhs == expr.RHS {
			return expr
		}
		return glee.NewBinaryExpr(expr.Op, lhs, rhs)
	case *glee.CastExpr:
		src := m.Rewrite(expr.Src)
		if src == expr.Src {
			return expr
		}
		return glee.NewCastExpr(src, expr.Width, expr.Signed)
	case *glee.ConcatExpr:
		msb, lsb := m.Rewrite(expr.MSB), m.Rewrite(expr.LSB)
		if msb == expr.MSB && lsb == expr.LSB {
			return expr
		}
		return glee.NewConcatExpr(msb, lsb)
	case *glee.ExtractExpr:
		inner := m.Rewrite(expr.Expr)
		if inner == expr.Expr {
			return expr
		}
		return glee.NewExtractExpr(inner, expr.Offset, expr.Width)
	case *glee.NotExpr:
		inner := m.Rewrite(expr.Expr)
		if inner == expr.Expr {
			return expr
		}
		return glee.NewNotExpr(inner)
	case *glee.NotOptimizedExpr:
		src := m.Rewrite(expr.Src)
		if src == expr.Src {
			return expr
		}
		return glee.NewNotOptimizedExpr(src)
	case *glee.ExistsExpr:
		body := m.Rewrite(expr.Body)
		if body == expr.Body {
			return expr
		}
		return glee.NewExistsExpr(expr.Bound, body)
	default:
		return expr
	}
}

// RewriteAll rewrites every expression in exprs against the same
// ShadowMap, so that repeated occurrences of a source array are mapped to
// the identical shadow.
func (m *ShadowMap) RewriteAll(exprs []glee.Expr) []glee.Expr {
	out := make([]glee.Expr, len(exprs))
	for i, e := range exprs {
		out[i] = m.Rewrite(e)
	}
	return out
}

// Generalize wraps body in an ExistsExpr over every shadow this map has
// produced so far (the no-op case — nothing was ever shadowed — is
// handled by NewExistsExpr itself), unless cfg disables existential
// generalization.
func Generalize(cfg Config, m *ShadowMap, body glee.Expr) glee.Expr {
	if cfg.NoExistential {
		return body
	}
	return glee.NewExistsExpr(m.Shadows(), body)
}
