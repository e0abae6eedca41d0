package interp

import (
	"sort"

	"github.com/benbjohnson/glee"
	"golang.org/x/tools/go/ssa"
)

// AllocationKind distinguishes how an allocation's store history behaves.
type AllocationKind int

const (
	// Singleton allocations support destructive versioning: each store
	// replaces what a later load observes. Scalars are singletons.
	Singleton AllocationKind = iota

	// Composite allocations are field-insensitive: every store is kept
	// as an unordered multi-value set, regardless of which field (if
	// any) it targeted. Structs, arrays, and slices are composites.
	Composite

	// Environment is the distinguished __environ symbol.
	Environment
)

func (k AllocationKind) String() string {
	switch k {
	case Singleton:
		return "singleton"
	case Composite:
		return "composite"
	case Environment:
		return "environment"
	default:
		return "unknown"
	}
}

// Allocation represents a memory object tracked by the dependency context.
//
// Identity is ID, drawn by Dependency.NewAllocation from a counter shared
// by the whole tree. The teacher's executor already hands every heap
// object a concrete backing address at the point of allocation, and
// Tracker maps that base address to the Allocation (Tracker.allocsByState),
// so address resolution never needs the pointer-equality chase the
// original KLEE Dependency does for this executor's Load/Store — only
// GetElementPtr/phi/call-argument flows do. See DESIGN.md.
type Allocation struct {
	ID   uint64
	Site ssa.Value // the instruction that produced the address (Alloc, MakeSlice, etc.)
	Kind AllocationKind

	// version increments on every destructive update to a Singleton.
	// Unused for Composite/Environment.
	version int
}

// NewAllocation returns a new Allocation with the given identity and kind.
func NewAllocation(id uint64, site ssa.Value, kind AllocationKind) *Allocation {
	return &Allocation{ID: id, Site: site, Kind: kind}
}

// VersionedValue is a program value at a specific execution version: the
// symbolic expression an instruction produced, plus whether it has been
// marked as relevant to an interpolant.
type VersionedValue struct {
	ID     uint64
	Source ssa.Value
	Expr   glee.Expr
	InCore bool
}

// IncludeInInterpolant marks the value as interpolant-relevant.
func (v *VersionedValue) IncludeInInterpolant() { v.InCore = true }

// PointerEquality records "this value points to this allocation".
type PointerEquality struct {
	Value *VersionedValue
	Alloc *Allocation
}

// StoreCell records "this allocation saw this value stored into it".
// For Singleton allocations only the newest cell for a given allocation
// is meaningful; for Composite allocations every cell contributes.
type StoreCell struct {
	Alloc *Allocation
	Value *VersionedValue

	// InCore is set by MarkAllocationInCore once computeCoreAllocations
	// (§4.7) has drained the allocation graph and found this cell's
	// allocation in the transitive closure of an unsat core. Only
	// in-core cells are snapshotted into a SubsumptionTableEntry.
	InCore bool
}

// FlowEdge records "target's symbolic content depends on source's",
// optionally routed through an allocation during a load.
type FlowEdge struct {
	Source *VersionedValue
	Target *VersionedValue
	Via    *Allocation // nil for a pure (non-memory) flow
}

// allocSite pairs an allocation with the instruction that introduced it,
// mirroring how getLatestAllocation in the original source resolves an IR
// value to the Allocation it most recently named.
type allocSite struct {
	site  ssa.Value
	alloc *Allocation
}

// Dependency is a per-ITreeNode bag of versioned values, allocations,
// pointer-equalities, store cells, and flow edges, chained to a parent
// context. Lists are append-only within a node; queries scan the local
// lists first, then recurse into the parent chain.
//
// Grounded on original_source/lib/Core/Dependency.cpp.
type Dependency struct {
	parent *Dependency

	values      []*VersionedValue
	allocSites  []allocSite
	equalities  []*PointerEquality
	storeCells  []*StoreCell
	flowEdges   []*FlowEdge

	newSingletons []*Allocation // newly-introduced versioned allocations
	newComposites []*Allocation // newly-introduced composite allocations

	nextValueID *uint64
	nextAllocID *uint64
}

// NewDependency returns a root Dependency context with no parent.
func NewDependency() *Dependency {
	var valueID, allocID uint64
	return &Dependency{nextValueID: &valueID, nextAllocID: &allocID}
}

// NewChildDependency returns a Dependency whose parent is d, sharing d's
// id counters so VersionedValue/Allocation identity stays globally unique
// across the whole tree.
func (d *Dependency) NewChildDependency() *Dependency {
	return &Dependency{parent: d, nextValueID: d.nextValueID, nextAllocID: d.nextAllocID}
}

// Parent returns d's parent context, or nil if d is the root.
func (d *Dependency) Parent() *Dependency { return d.parent }

// NewVersionedValue creates and records a fresh VersionedValue bound to
// source with the given symbolic expression.
func (d *Dependency) NewVersionedValue(source ssa.Value, expr glee.Expr) *VersionedValue {
	*d.nextValueID++
	v := &VersionedValue{ID: *d.nextValueID, Source: source, Expr: expr}
	d.values = append(d.values, v)
	return v
}

// NewAllocation creates and records a fresh Allocation for site.
func (d *Dependency) NewAllocation(site ssa.Value, kind AllocationKind) *Allocation {
	*d.nextAllocID++
	a := &Allocation{ID: *d.nextAllocID, Site: site, Kind: kind}
	d.allocSites = append(d.allocSites, allocSite{site: site, alloc: a})
	switch kind {
	case Singleton:
		d.newSingletons = append(d.newSingletons, a)
	case Composite:
		d.newComposites = append(d.newComposites, a)
	}
	return a
}

// AddPointerEquality records that value points to alloc.
func (d *Dependency) AddPointerEquality(value *VersionedValue, alloc *Allocation) {
	d.equalities = append(d.equalities, &PointerEquality{Value: value, Alloc: alloc})
}

// UpdateStore appends a store cell recording that value was stored into
// alloc. For a Singleton this also bumps the allocation's version — the
// destructive-update half of "newest wins" (the other half is the
// reverse-scan in Stores).
func (d *Dependency) UpdateStore(alloc *Allocation, value *VersionedValue) {
	if alloc.Kind == Singleton {
		alloc.version++
	}
	d.storeCells = append(d.storeCells, &StoreCell{Alloc: alloc, Value: value})
}

// AddDependency records a pure flow edge from source to target.
func (d *Dependency) AddDependency(source, target *VersionedValue) {
	if source == nil || target == nil {
		return
	}
	d.flowEdges = append(d.flowEdges, &FlowEdge{Source: source, Target: target})
}

// AddDependencyViaAllocation records a flow edge from source to target
// routed through alloc (a Load that found a prior store).
func (d *Dependency) AddDependencyViaAllocation(source, target *VersionedValue, alloc *Allocation) {
	if source == nil || target == nil {
		return
	}
	d.flowEdges = append(d.flowEdges, &FlowEdge{Source: source, Target: target, Via: alloc})
}

// GetLatestValue walks the local versioned-value list in reverse, then
// recurses into the parent. Returns nil if irValue has never been bound.
func (d *Dependency) GetLatestValue(irValue ssa.Value) *VersionedValue {
	for i := len(d.values) - 1; i >= 0; i-- {
		if d.values[i].Source == irValue {
			return d.values[i]
		}
	}
	if d.parent != nil {
		return d.parent.GetLatestValue(irValue)
	}
	return nil
}

// GetLatestAllocation is the allocation analogue of GetLatestValue: it
// resolves an IR value (typically an Alloc/MakeSlice/MakeMap instruction)
// to the Allocation it most recently introduced.
func (d *Dependency) GetLatestAllocation(irValue ssa.Value) *Allocation {
	for i := len(d.allocSites) - 1; i >= 0; i-- {
		if d.allocSites[i].site == irValue {
			return d.allocSites[i].alloc
		}
	}
	if d.parent != nil {
		return d.parent.GetLatestAllocation(irValue)
	}
	return nil
}

// resolveAllocation returns the allocations value is directly known to
// point to, via pointer-equalities recorded locally or in an ancestor.
// Grounded on Dependency::resolveAllocation.
func (d *Dependency) resolveAllocation(value *VersionedValue) []*Allocation {
	var out []*Allocation
	for i := len(d.equalities) - 1; i >= 0; i-- {
		if d.equalities[i].Value == value {
			out = append(out, d.equalities[i].Alloc)
		}
	}
	if len(out) == 0 && d.parent != nil {
		return d.parent.resolveAllocation(value)
	}
	return out
}

// ResolveAllocationTransitively resolves value to every allocation it may
// point to: direct pointer-equalities if any exist, else the allocations
// reachable from value's transitive flow-source leaves.
//
// Grounded on Dependency::resolveAllocationTransitively — supplemented
// per SPEC_FULL.md §12.1 to return every allocation found, not just one.
func (d *Dependency) ResolveAllocationTransitively(value *VersionedValue) []*Allocation {
	if direct := d.resolveAllocation(value); len(direct) > 0 {
		return direct
	}

	var out []*Allocation
	seen := make(map[uint64]bool)
	for _, leaf := range d.AllFlowSourcesEnds(value) {
		for _, a := range d.resolveAllocation(leaf) {
			if !seen[a.ID] {
				seen[a.ID] = true
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stores returns the store-cell values recorded against alloc: for a
// Composite allocation, every historical store along the parent chain
// (the union — field-insensitivity means we can't tell which stores a
// later load should see, so every one is kept); for a Singleton, only
// the newest (first hit scanning local-then-parent in reverse).
func (d *Dependency) Stores(alloc *Allocation) []glee.Expr {
	if alloc.Kind == Composite || alloc.Kind == Environment {
		var out []glee.Expr
		for i := len(d.storeCells) - 1; i >= 0; i-- {
			if d.storeCells[i].Alloc.ID == alloc.ID {
				out = append(out, d.storeCells[i].Value.Expr)
			}
		}
		if d.parent != nil {
			out = append(out, d.parent.Stores(alloc)...)
		}
		return out
	}

	// Singleton: newest wins. storeCells is append-ordered, so scanning
	// in reverse and returning on the first match is "newest" without
	// depending on map iteration order — mirrors GetLatestValue's own
	// reverse-scan idiom.
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		if d.storeCells[i].Alloc.ID == alloc.ID {
			return []glee.Expr{d.storeCells[i].Value.Expr}
		}
	}
	if d.parent != nil {
		return d.parent.Stores(alloc)
	}
	return nil
}

// MarkAllocationInCore flags every store cell for allocation allocID,
// anywhere on the parent chain, as in-core. Called once per allocation
// drained from an AllocationGraph by computeCoreAllocations (§4.7); marking
// every historical cell (not just the newest) is harmless for a Singleton
// because Stores/CoreSingletonStores only ever report the newest one, and
// is required for a Composite since every cell contributes to its
// field-insensitive union.
func (d *Dependency) MarkAllocationInCore(allocID uint64) {
	for _, sc := range d.storeCells {
		if sc.Alloc.ID == allocID {
			sc.InCore = true
		}
	}
	if d.parent != nil {
		d.parent.MarkAllocationInCore(allocID)
	}
}

// CoreSingletonStores returns, for every Singleton allocation site with at
// least one in-core store cell anywhere on the parent chain, its newest
// in-core stored expression — the "singleton store" half of a
// SubsumptionTableEntry (§4.4).
func (d *Dependency) CoreSingletonStores() map[uint64]glee.Expr {
	out := make(map[uint64]glee.Expr)
	d.collectSingletonCoreStores(out)
	return out
}

func (d *Dependency) collectSingletonCoreStores(out map[uint64]glee.Expr) {
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		sc := d.storeCells[i]
		if sc.Alloc.Kind != Singleton || !sc.InCore {
			continue
		}
		if _, ok := out[sc.Alloc.ID]; ok {
			continue // newest wins; a later (parent-ward) hit is older
		}
		out[sc.Alloc.ID] = sc.Value.Expr
	}
	if d.parent != nil {
		d.parent.collectSingletonCoreStores(out)
	}
}

// SingletonStores returns, for every Singleton allocation site with at
// least one store cell anywhere on the parent chain, its newest stored
// expression — the unfiltered counterpart of CoreSingletonStores, used to
// snapshot a state's present memory for a subsumption check before any
// core-marking has happened.
func (d *Dependency) SingletonStores() map[uint64]glee.Expr {
	out := make(map[uint64]glee.Expr)
	d.collectSingletonStores(out)
	return out
}

func (d *Dependency) collectSingletonStores(out map[uint64]glee.Expr) {
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		sc := d.storeCells[i]
		if sc.Alloc.Kind != Singleton {
			continue
		}
		if _, ok := out[sc.Alloc.ID]; ok {
			continue
		}
		out[sc.Alloc.ID] = sc.Value.Expr
	}
	if d.parent != nil {
		d.parent.collectSingletonStores(out)
	}
}

// CompositeStores is the unfiltered counterpart of CoreCompositeStores.
func (d *Dependency) CompositeStores() map[uint64][]glee.Expr {
	out := make(map[uint64][]glee.Expr)
	d.collectCompositeStores(out)
	return out
}

func (d *Dependency) collectCompositeStores(out map[uint64][]glee.Expr) {
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		sc := d.storeCells[i]
		if sc.Alloc.Kind == Singleton {
			continue
		}
		out[sc.Alloc.ID] = append(out[sc.Alloc.ID], sc.Value.Expr)
	}
	if d.parent != nil {
		d.parent.collectCompositeStores(out)
	}
}

// CoreCompositeStores is the Composite/Environment analogue of
// CoreSingletonStores: every in-core stored expression per site, unioned
// across the parent chain (field-insensitivity keeps them all).
func (d *Dependency) CoreCompositeStores() map[uint64][]glee.Expr {
	out := make(map[uint64][]glee.Expr)
	d.collectCompositeCoreStores(out)
	return out
}

func (d *Dependency) collectCompositeCoreStores(out map[uint64][]glee.Expr) {
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		sc := d.storeCells[i]
		if sc.Alloc.Kind == Singleton || !sc.InCore {
			continue
		}
		out[sc.Alloc.ID] = append(out[sc.Alloc.ID], sc.Value.Expr)
	}
	if d.parent != nil {
		d.parent.collectCompositeCoreStores(out)
	}
}

// directLocalFlowSources returns the values that locally flow directly
// into target.
func (d *Dependency) directLocalFlowSources(target *VersionedValue) []*VersionedValue {
	var out []*VersionedValue
	for _, e := range d.flowEdges {
		if e.Target == target {
			out = append(out, e.Source)
		}
	}
	return out
}

// DirectFlowSources returns the values that flow directly into target,
// local sources if any exist, else the parent's.
func (d *Dependency) DirectFlowSources(target *VersionedValue) []*VersionedValue {
	if local := d.directLocalFlowSources(target); len(local) > 0 {
		return local
	}
	if d.parent != nil {
		return d.parent.DirectFlowSources(target)
	}
	return nil
}

// AllFlowSources returns every value transitively reachable by following
// flow edges backward from target, including target itself.
func (d *Dependency) AllFlowSources(target *VersionedValue) []*VersionedValue {
	seen := map[uint64]bool{target.ID: true}
	out := []*VersionedValue{target}
	queue := []*VersionedValue{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, src := range d.DirectFlowSources(cur) {
			if !seen[src.ID] {
				seen[src.ID] = true
				out = append(out, src)
				queue = append(queue, src)
			}
		}
	}
	return out
}

// AllFlowSourcesEnds returns the transitive leaf sources reachable from
// target — values with no further incoming flow edge. Used by
// ResolveAllocationTransitively to retry resolution at the leaves.
func (d *Dependency) AllFlowSourcesEnds(target *VersionedValue) []*VersionedValue {
	var ends []*VersionedValue
	for _, v := range d.AllFlowSources(target) {
		if len(d.DirectFlowSources(v)) == 0 {
			ends = append(ends, v)
		}
	}
	return ends
}

// MarkAllValues builds the allocation graph reachable from value and flags
// every transitive flow source as in-core.
//
// Grounded on Dependency::markAllValues.
func (d *Dependency) MarkAllValues(g *AllocationGraph, value *VersionedValue) {
	d.BuildAllocationGraph(g, value)
	for _, src := range d.AllFlowSources(value) {
		src.IncludeInInterpolant()
	}
}

// directAllocationSources pairs each direct flow source of target with the
// allocation it flows through (nil if the pairing is purely a value-to-value
// flow with no associated allocation), falling back to the local store list
// when no flow edges explain target at all. Entries whose allocation is nil
// are resolved against the parent chain via the erase-and-retry loop from
// Dependency::directAllocationSources — supplemented per SPEC_FULL.md §12.2.
func (d *Dependency) directAllocationSources(target *VersionedValue) map[*VersionedValue]*Allocation {
	ret := make(map[*VersionedValue]*Allocation)
	for _, e := range d.flowEdges {
		if e.Target != target {
			continue
		}
		if e.Via == nil {
			extra := d.directAllocationSources(e.Source)
			if len(extra) > 0 {
				for k, v := range extra {
					ret[k] = v
				}
			} else {
				ret[e.Source] = nil
			}
		} else {
			ret[e.Source] = e.Via
		}
	}

	if len(ret) == 0 {
		for i := len(d.storeCells) - 1; i >= 0; i-- {
			if d.storeCells[i].Value == target {
				ret[nil] = d.storeCells[i].Alloc
				break
			}
		}
	}
	return ret
}

// DirectAllocationSources is directAllocationSources, falling back to the
// parent chain when empty and then re-resolving any nil-allocation entry
// against ancestors (mirroring the erase-and-retry loop in
// Dependency::directAllocationSources).
func (d *Dependency) DirectAllocationSources(target *VersionedValue) map[*VersionedValue]*Allocation {
	ret := d.directLocalAllocationSources(target)
	if len(ret) == 0 && d.parent != nil {
		return d.parent.DirectAllocationSources(target)
	}

	tmp := make(map[*VersionedValue]*Allocation)
	for k, v := range ret {
		if v != nil {
			continue
		}
		delete(ret, k)
		if d.parent != nil && k != nil {
			for ak, av := range d.parent.DirectAllocationSources(k) {
				tmp[ak] = av
			}
		}
	}
	for k, v := range tmp {
		ret[k] = v
	}
	return ret
}

func (d *Dependency) directLocalAllocationSources(target *VersionedValue) map[*VersionedValue]*Allocation {
	return d.directAllocationSources(target)
}

// BuildAllocationGraph recursively inserts edges into g reflecting how
// target's value depends on upstream allocations, returning the list of
// allocations for which a new edge was actually added (pruning, per the
// original, avoids exponential blow-up across diamond-shaped flow).
//
// Grounded on Dependency::buildAllocationGraph.
func (d *Dependency) BuildAllocationGraph(g *AllocationGraph, target *VersionedValue) []*Allocation {
	var ret []*Allocation
	sourceEdges := d.DirectAllocationSources(target)

	for src, alloc := range sourceEdges {
		if src == nil {
			ret = append(ret, alloc)
			continue
		}

		sourceAllocations := d.BuildAllocationGraph(g, src)
		if len(sourceAllocations) == 0 {
			if alloc != nil {
				ret = append(ret, alloc)
			}
			continue
		}

		newSourceAdded := false
		for _, sa := range sourceAllocations {
			if sa != alloc && g.AddNewEdge(sa, alloc) {
				newSourceAdded = true
			}
		}
		if newSourceAdded {
			ret = append(ret, alloc)
		}
	}
	return ret
}

// --- Dependency::execute (§4.2) ---

// ExecuteAlloc records a fresh allocation for an Alloc/MakeSlice/MakeMap/
// MakeChan site and binds the resulting versioned value to it via a
// pointer equality.
func (d *Dependency) ExecuteAlloc(instr ssa.Value, resultExpr glee.Expr, kind AllocationKind) (*VersionedValue, *Allocation) {
	alloc := d.NewAllocation(instr, kind)
	value := d.NewVersionedValue(instr, resultExpr)
	d.AddPointerEquality(value, alloc)
	return value, alloc
}

// ExecuteLoad implements the Load rule of §4.2 against an already-resolved
// set of allocations (resolution itself — by concrete address, for this
// executor — happens in executor.go; see the Allocation doc comment).
// If no allocations are resolved, ErrUnresolvedAllocation is the caller's
// responsibility to raise (a precondition violation per §7).
func (d *Dependency) ExecuteLoad(instr ssa.Value, loadExpr glee.Expr, addressSources []*VersionedValue, allocations []*Allocation) *VersionedValue {
	result := d.NewVersionedValue(instr, loadExpr)

	if len(allocations) == 0 {
		return result
	}

	for _, alloc := range allocations {
		stored := d.latestStoredValue(alloc)
		if stored == nil {
			// Nothing stored yet: the load result becomes the allocation's
			// initial symbolic content.
			d.UpdateStore(alloc, result)
			continue
		}

		storedAllocs := d.ResolveAllocationTransitively(stored)
		if len(storedAllocs) > 0 {
			for _, sa := range storedAllocs {
				d.AddPointerEquality(result, sa)
			}
		} else {
			d.AddDependencyViaAllocation(stored, result, alloc)
		}
	}
	for _, src := range addressSources {
		d.AddDependency(src, result)
	}
	return result
}

// latestStoredValue returns the *VersionedValue last stored into alloc, or
// nil, without resolving further — used internally by ExecuteLoad to find
// what a Load should flow from.
func (d *Dependency) latestStoredValue(alloc *Allocation) *VersionedValue {
	for i := len(d.storeCells) - 1; i >= 0; i-- {
		if d.storeCells[i].Alloc.ID == alloc.ID {
			return d.storeCells[i].Value
		}
	}
	if d.parent != nil {
		return d.parent.latestStoredValue(alloc)
	}
	return nil
}

// ExecuteStore implements the Store rule of §4.2: for a Singleton
// allocation the store bumps the version and rebinds via a fresh pointer
// equality; for a Composite it simply appends (the old cell is kept).
func (d *Dependency) ExecuteStore(data *VersionedValue, allocations []*Allocation) {
	for _, alloc := range allocations {
		if alloc.Kind == Singleton {
			d.AddPointerEquality(data, alloc)
		}
		d.UpdateStore(alloc, data)
	}
}

// ExecuteGetElementPtr implements the GetElementPtr rule of §4.2: if base
// resolves to allocations, propagate them to result (field-insensitive);
// otherwise add a pure flow edge from each direct flow source of base.
func (d *Dependency) ExecuteGetElementPtr(result, base *VersionedValue) {
	if allocations := d.ResolveAllocationTransitively(base); len(allocations) > 0 {
		for _, a := range allocations {
			d.AddPointerEquality(result, a)
		}
		return
	}
	for _, src := range d.DirectFlowSources(base) {
		d.AddDependency(src, result)
	}
	if len(d.DirectFlowSources(base)) == 0 {
		d.AddDependency(base, result)
	}
}

// ExecuteFlow implements the flow-edge-only rules of §4.2 shared by casts
// (Convert/ChangeType/ChangeInterface/Extract), arithmetic, bitwise,
// compare, select, and insertvalue operations: add a flow edge from every
// non-constant operand to result. Constant operands are skipped — there is
// nothing upstream to track.
func (d *Dependency) ExecuteFlow(result *VersionedValue, operands ...*VersionedValue) {
	for _, op := range operands {
		if op == nil {
			continue
		}
		d.AddDependency(op, result)
	}
}

// ExecutePhi implements the Phi rule of §4.2: take the first incoming
// value that exists locally (candidates should be passed in incoming
// order; the first non-nil entry is used).
func (d *Dependency) ExecutePhi(result *VersionedValue, candidates ...*VersionedValue) {
	for _, c := range candidates {
		if c != nil {
			d.AddDependency(c, result)
			return
		}
	}
}

// BindCallArguments binds each formal parameter's versioned value to the
// corresponding actual argument's versioned value at a call site.
func (d *Dependency) BindCallArguments(formals, actuals []*VersionedValue) {
	n := len(formals)
	if len(actuals) < n {
		n = len(actuals)
	}
	for i := 0; i < n; i++ {
		if formals[i] == nil || actuals[i] == nil {
			continue
		}
		d.AddDependency(actuals[i], formals[i])
	}
}

// BindReturnValue binds the call site's result to the returned value.
func (d *Dependency) BindReturnValue(callResult, returned *VersionedValue) {
	if callResult == nil || returned == nil {
		return
	}
	d.AddDependency(returned, callResult)
}
