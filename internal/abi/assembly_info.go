package abi

import (
	"fmt"
	"sync"

	"github.com/emberlang/ember/internal/typeid"
)

// ModuleInfo is the first fixed field of AssemblyInfo (spec §6): the
// module's own path, the functions it exports, and the types it defines
// (as opposed to merely references).
type ModuleInfo struct {
	Path         string
	Functions    []FunctionDefinition
	DefinedTypes []*TypeInfo
}

// DispatchTable is the structure-of-arrays table described in spec §3 and
// §4.2: a parallel prototype array and code-pointer array, indexed
// identically. Generated code reads CodePtrs at a fixed index; only the
// runtime (the Dispatch Builder, via Set) writes to it — this is enforced
// by convention only. internal/abimem provides an mprotect-backed region,
// but DispatchTable does not use it.
//
// Grounded on mun_abi::DispatchTable, which stores prototypes and
// fn_ptrs as two parallel raw arrays for exactly this cache-efficiency
// and indirection-count reason (spec §9 "Dispatch as structure-of-arrays").
type DispatchTable struct {
	mu         sync.RWMutex
	prototypes []FunctionPrototype
	codePtrs   []NativeFunc
}

// NewDispatchTable creates a table with the given prototypes and
// unresolved (nil) code pointers; the Dispatch Builder fills them in.
func NewDispatchTable(prototypes []FunctionPrototype) *DispatchTable {
	return &DispatchTable{
		prototypes: prototypes,
		codePtrs:   make([]NativeFunc, len(prototypes)),
	}
}

// NumEntries returns the number of slots in the table.
func (d *DispatchTable) NumEntries() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.prototypes)
}

// Prototypes returns a copy of the prototype array. Safe to call
// concurrently with Set (the prototype array itself is never mutated
// after construction, only code pointers are).
func (d *DispatchTable) Prototypes() []FunctionPrototype {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]FunctionPrototype, len(d.prototypes))
	copy(out, d.prototypes)
	return out
}

// Get returns the code pointer at idx, or nil if unresolved. The read
// path takes no lock once the caller already holds a resolved table
// reference — spec §5 only requires the global lock for mutation, and
// Get is the hot call-through path, so it uses the lighter RLock here
// purely for race-detector cleanliness, not because contention is
// expected.
func (d *DispatchTable) Get(idx int) (NativeFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if idx < 0 || idx >= len(d.codePtrs) {
		return nil, false
	}
	return d.codePtrs[idx], d.codePtrs[idx] != nil
}

// Set writes the code pointer at idx. Only the Dispatch Builder calls
// this, always under the runtime's single process-wide lock (spec §5).
func (d *DispatchTable) Set(idx int, fn NativeFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if idx < 0 || idx >= len(d.codePtrs) {
		return fmt.Errorf("dispatch table index %d out of range [0,%d)", idx, len(d.codePtrs))
	}
	d.codePtrs[idx] = fn
	return nil
}

// Unresolved returns the indices whose code pointer has never been set.
func (d *DispatchTable) Unresolved() []int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int
	for i, fn := range d.codePtrs {
		if fn == nil {
			out = append(out, i)
		}
	}
	return out
}

// TypeLut is the per-assembly type lookup table described in spec §3: a
// parallel array of referenced TypeIds and the TypeInfo handles the Type
// Registry resolved them to. Generated code reads Handles by index for
// runtime type metadata such as the argument to alloc; these indices are
// independent of DispatchTable's.
type TypeLut struct {
	mu      sync.RWMutex
	typeIDs []typeid.ID
	names   []string
	handles []*TypeInfo
}

// NewTypeLut creates a table with the given referenced ids (and, for
// diagnostics, the names the compiler emitted them under); Handles start
// unresolved.
func NewTypeLut(ids []typeid.ID, names []string) *TypeLut {
	return &TypeLut{
		typeIDs: ids,
		names:   names,
		handles: make([]*TypeInfo, len(ids)),
	}
}

func (t *TypeLut) NumEntries() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.typeIDs)
}

func (t *TypeLut) TypeIDs() []typeid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]typeid.ID, len(t.typeIDs))
	copy(out, t.typeIDs)
	return out
}

func (t *TypeLut) NameAt(idx int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.names) {
		return ""
	}
	return t.names[idx]
}

// Handle returns the resolved TypeInfo at idx, or nil if unresolved.
func (t *TypeLut) Handle(idx int) *TypeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.handles) {
		return nil
	}
	return t.handles[idx]
}

// SetHandle writes the resolved handle at idx. Only the Assembly Loader
// calls this, once per entry, during load.
func (t *TypeLut) SetHandle(idx int, h *TypeInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.handles) {
		return fmt.Errorf("type lut index %d out of range [0,%d)", idx, len(t.handles))
	}
	t.handles[idx] = h
	return nil
}

// Unresolved returns the indices whose handle has never been set.
func (t *TypeLut) Unresolved() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for i, h := range t.handles {
		if h == nil {
			out = append(out, i)
		}
	}
	return out
}

// AssemblyInfo is the block every compiled library's get_info() returns
// (spec §4.2, §6): module metadata, the dispatch table, the type lookup
// table, and the module's dependency list, in that fixed order.
type AssemblyInfo struct {
	Module       ModuleInfo
	Dispatch     *DispatchTable
	Lut          *TypeLut
	Dependencies []string
}
