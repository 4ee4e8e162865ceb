// Package heap implements the hot-reloadable typed heap's garbage
// collector (spec §4, §4.6): a mark-sweep collector over objects whose
// type can change out from under them at any time, identified by a
// stable handle whose own address never moves even though the object's
// storage and type do.
//
// Grounded directly on
// original_source/crates/mun_memory/src/gc/mark_sweep.rs's MarkSweep: the
// same object table (a map from handle to a pinned object-info record),
// the same tri-color mark-sweep algorithm over a work queue seeded from
// rooted objects, and the same separation between the handle (stable)
// and the object-info's mutable ptr/ty fields (rewritable during
// migration, see internal/migrate).
package heap

import (
	"fmt"
	"sync"

	"github.com/emberlang/ember/internal/abi"
)

// Color is an object's tri-color mark state during a collection cycle
// (spec §4.6). Between collections every live object is White.
type Color uint8

const (
	White Color = iota
	Gray
	Black
)

func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Gray:
		return "gray"
	case Black:
		return "black"
	default:
		return "invalid"
	}
}

// GcPtr is the stable handle to a heap object (spec §4). Its identity is
// the address of the object's header, which the GC never moves; the
// header's storage pointer and type pointer inside it can both be
// rewritten — by allocation-compaction here never happens, but by
// internal/migrate's type-aware reallocation during a reload — without
// invalidating any GcPtr a caller is holding.
type GcPtr struct {
	header *objectHeader
}

// IsNil reports whether p is the zero GcPtr.
func (p GcPtr) IsNil() bool { return p.header == nil }

func (p GcPtr) String() string {
	if p.header == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%p", p.header)
}

// objectHeader is the fixed, never-relocated record backing one GcPtr.
// Storage and Type are exactly the two fields internal/migrate rewrites
// in place during a reload; Roots and Color belong to the collector.
type objectHeader struct {
	Storage []byte
	Type    *abi.TypeInfo
	Roots   int
	Color   Color
}

// TraceFunc returns the GcPtrs directly referenced by the object at ptr,
// given its type — i.e. it walks ptr's storage using ty's field layout
// and yields one GcPtr per pointer-kind field whose value is non-nil.
// Supplied by the host (internal/host), since only the host knows how to
// interpret a TypeInfo's pointer fields as stored bytes (spec §4.6
// "objects are traced using their current type's field layout").
type TraceFunc func(ptr GcPtr, ty *abi.TypeInfo) []GcPtr

// Stats reports the collector's current memory usage, mirroring Mun's
// gc::Stats.
type Stats struct {
	AllocatedObjects int
	AllocatedBytes   int
}

// Heap is the typed, hot-reloadable heap of spec §4. All operations
// serialize on a single mutex, matching the process-wide lock model of
// spec §5 ("the runtime is not safe for concurrent mutation from two
// goroutines at once; callers serialize through the Host").
type Heap struct {
	mu      sync.Mutex
	objects map[*objectHeader]struct{}
	trace   TraceFunc
	stats   Stats
}

// New creates an empty Heap. trace is used by Collect to discover
// outgoing references from a rooted object; it is supplied once, at
// construction, because it depends only on the fixed shape of TypeInfo,
// never on which assemblies happen to be loaded.
func New(trace TraceFunc) *Heap {
	return &Heap{
		objects: make(map[*objectHeader]struct{}),
		trace:   trace,
	}
}

// Alloc creates a new zeroed object of type ty and returns its handle.
// The object starts unrooted and White; it survives until the next
// Collect call only if something rooted reaches it by then (spec §4.6
// "a freshly allocated object with no roots is reclaimed at the very
// next collection unless something roots it first").
func (h *Heap) Alloc(ty *abi.TypeInfo) GcPtr {
	hdr := &objectHeader{
		Storage: make([]byte, ty.SizeBytes()),
		Type:    ty,
		Color:   White,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[hdr] = struct{}{}
	h.stats.AllocatedObjects++
	h.stats.AllocatedBytes += len(hdr.Storage)
	return GcPtr{header: hdr}
}

// PtrType returns the handle's current type. The type can differ from
// what it was at allocation time if a reload has migrated the object to
// a new layout (spec §4.8).
func (h *Heap) PtrType(p GcPtr) *abi.TypeInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return p.header.Type
}

// Storage returns the handle's current backing bytes, valid to read or
// write according to the TypeInfo returned by PtrType. The returned
// slice aliases the live object; callers must not retain it across a
// Collect or a migration, both of which may replace it. Storage does not
// take the heap lock, so a TraceFunc may call it while Collect or Walk
// holds that lock; only Rewrite replaces an object's storage.
func (h *Heap) Storage(p GcPtr) []byte {
	return p.header.Storage
}

// Root increments p's root count, pinning it (and everything it
// transitively references) against collection.
func (h *Heap) Root(p GcPtr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p.header.Roots++
}

// Unroot decrements p's root count. Unrooting an object whose root count
// is already zero is a usage error: Unroot returns an error and leaves
// the count unchanged.
func (h *Heap) Unroot(p GcPtr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.header.Roots <= 0 {
		return fmt.Errorf("heap: unroot called with root count already %d", p.header.Roots)
	}
	p.header.Roots--
	return nil
}

// Stats returns a snapshot of current memory usage.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Collect runs one mark-sweep cycle (spec §4.6) and reports whether any
// memory was reclaimed. The algorithm is a direct port of
// mark_sweep.rs's collect: seed a FIFO work queue with every object whose
// root count is positive, repeatedly pop an object, trace its outgoing
// references, promote any White reference to Gray and enqueue it, then
// mark the popped object Black; finally sweep every object that never
// turned Black, repainting survivors back to White for the next cycle.
func (h *Heap) Collect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	var queue []*objectHeader
	for hdr := range h.objects {
		if hdr.Roots > 0 {
			hdr.Color = Gray
			queue = append(queue, hdr)
		}
	}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		for _, ref := range h.trace(GcPtr{header: next}, next.Type) {
			if ref.header.Color == White {
				ref.header.Color = Gray
				queue = append(queue, ref.header)
			}
		}
		next.Color = Black
	}

	before := len(h.objects)
	for hdr := range h.objects {
		if hdr.Color == Black {
			hdr.Color = White
			continue
		}
		h.stats.AllocatedObjects--
		h.stats.AllocatedBytes -= len(hdr.Storage)
		delete(h.objects, hdr)
	}
	after := len(h.objects)
	return before != after
}

// Walk calls fn once for every live object, in no particular order.
// Used by the Memory Mapper (spec §4.7) to find and migrate objects of a
// type that a reload has changed, and by internal/host's objgraph
// diagnostic.
func (h *Heap) Walk(fn func(p GcPtr, ty *abi.TypeInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for hdr := range h.objects {
		fn(GcPtr{header: hdr}, hdr.Type)
	}
}

// Rewrite replaces p's type and storage in place, preserving p's
// identity (the header address) so every other GcPtr already pointing at
// it keeps working (spec §4.7's "migration rewrites the object in place;
// it never changes the object's handle"). Called only by
// internal/migrate, always while the heap is quiesced.
func (h *Heap) Rewrite(p GcPtr, newType *abi.TypeInfo, newStorage []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats.AllocatedBytes += len(newStorage) - len(p.header.Storage)
	p.header.Type = newType
	p.header.Storage = newStorage
}
