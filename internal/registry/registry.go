// Package registry implements the Type Registry (spec §4.1): the single
// process-wide source of truth mapping a TypeId to its canonical
// *abi.TypeInfo, shared across every loaded assembly.
//
// Grounded on golang.org/x/debug/internal/gocore's DWARF type cache
// (dwarf.go's dwarfTypeMap — a map from a foreign type representation to
// the already-materialized *Type, consulted before building a new one so
// recursive and repeated type references converge on one instance) and on
// its weak pointer-type cache in type.go.
package registry

import (
	"fmt"
	"sync"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/typeid"
)

// ProvideFunc materializes a *abi.TypeInfo for a TypeId the registry has
// not seen before. It is handed the in-progress Registry so it may
// recursively request ids for field types and pointee types — including,
// for struct types, the id currently being resolved, which is how
// self-referential structs converge (see InsertOrGet).
type ProvideFunc func(r *Registry) (*abi.TypeInfo, error)

// Registry is the Type Registry of spec §4.1. It is safe for concurrent
// use; all mutating and lookup operations serialize on a single lock,
// matching the process-wide concurrency model of spec §5 ("type creation
// is expected to be rare compared to lookup; no finer-grained scheme is
// required").
type Registry struct {
	mu        sync.Mutex
	byID      map[typeid.ID]*abi.TypeInfo
	pointers  map[pointerKey]*abi.TypeInfo
	resolving map[typeid.ID]*abi.TypeInfo // placeholders for in-flight InsertOrGet calls
}

type pointerKey struct {
	base    typeid.ID
	mutable bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byID:      make(map[typeid.ID]*abi.TypeInfo),
		pointers:  make(map[pointerKey]*abi.TypeInfo),
		resolving: make(map[typeid.ID]*abi.TypeInfo),
	}
}

// Find performs a best-effort lookup; it never triggers construction.
func (r *Registry) Find(id typeid.ID) (*abi.TypeInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		return t, true
	}
	if t, ok := r.resolving[id]; ok {
		return t, true
	}
	return nil, false
}

// InsertOrGet returns the canonical TypeInfo for id, calling provide to
// materialize one if absent. Before calling provide, a placeholder
// TypeInfo carrying only id is installed in the resolving set, so that if
// provide recursively asks the registry for id again (a struct that
// mentions itself, directly or through a pointer field), it gets back the
// same *abi.TypeInfo pointer it is still in the middle of filling in —
// that shared pointer identity is what lets self-referential structs
// converge instead of looping forever (spec §4.1).
//
// provide may either fill in the placeholder's fields in place or return
// a separate TypeInfo with the same id; in the second case InsertOrGet
// copies the returned definition into the placeholder.
func (r *Registry) InsertOrGet(id typeid.ID, provide ProvideFunc) (*abi.TypeInfo, error) {
	r.mu.Lock()
	if t, ok := r.byID[id]; ok {
		r.mu.Unlock()
		return t, nil
	}
	if placeholder, ok := r.resolving[id]; ok {
		r.mu.Unlock()
		return placeholder, nil
	}
	placeholder := &abi.TypeInfo{ID: id}
	r.resolving[id] = placeholder
	r.mu.Unlock()

	result, err := provide(r)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.resolving, id)
	if err != nil {
		return nil, err
	}
	if result.ID != id {
		return nil, fmt.Errorf("registry: provide function for %s returned type with id %s", id, result.ID)
	}
	// If provide returned a different *TypeInfo than the placeholder
	// (common: it's easier to build a struct definition off to the side
	// and hand it back than to mutate a zero-value in place), copy its
	// contents into the placeholder so every pointer handed out during
	// resolution — including self-references captured via Find/InsertOrGet
	// reentrancy — observes the finished definition.
	if result != placeholder {
		*placeholder = *result
	}
	r.byID[id] = placeholder
	return placeholder, nil
}

// PointerType returns the (cached) pointer TypeInfo over base, creating it
// on demand. Pointer TypeInfos are cheap to rebuild and reference-heavy,
// so they're cached independently of InsertOrGet's id-keyed cache — two
// requests for "*mut Foo" always return the same instance without the
// caller needing to pre-compute the pointer's TypeId.
func (r *Registry) PointerType(base *abi.TypeInfo, mutable bool, target abi.Target) *abi.TypeInfo {
	key := pointerKey{base: base.ID, mutable: mutable}

	r.mu.Lock()
	if p, ok := r.pointers[key]; ok {
		r.mu.Unlock()
		return p
	}
	r.mu.Unlock()

	id := typeid.Pointer(base.ID, mutable)
	p := &abi.TypeInfo{
		ID:       id,
		Name:     pointerName(base.Name, mutable),
		SizeBits: target.PointerSize * 8,
		Align:    byte(target.PointerAlign()),
		Kind:     abi.KindPointer,
		Mutable:  mutable,
		Pointee:  base,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.pointers[key]; ok {
		return existing
	}
	r.pointers[key] = p
	r.byID[id] = p
	return p
}

func pointerName(base string, mutable bool) string {
	if mutable {
		return "*mut " + base
	}
	return "*const " + base
}

// Drop removes id from the canonical table, used by the Reload Controller
// after a successful commit to retire TypeInfos for deleted types (spec
// §4.8 step "Committed"). It does not touch any object still referencing
// the TypeInfo; those objects become garbage on the next collection once
// nothing reaches them (spec §4.6 "Delete").
func (r *Registry) Drop(id typeid.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	for k, p := range r.pointers {
		if k.base == id {
			delete(r.byID, p.ID)
			delete(r.pointers, k)
		}
	}
}

// Len reports the number of canonical types currently registered
// (excluding in-flight placeholders). Used by tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DetectValueCycle walks a struct's fields looking for a cycle that
// passes only through value-kind (inline) struct fields — never through a
// pointer. Such a cycle cannot be laid out (its size would be infinite)
// and is a fatal load error per spec §4.1 ("A non-pointer cycle in field
// types ... is a fatal load error"). Call this once a struct's Fields
// slice is fully populated, before installing it as the registry's
// canonical answer for its id.
func DetectValueCycle(root *abi.TypeInfo) error {
	visited := map[typeid.ID]bool{}
	var walk func(t *abi.TypeInfo, stack []string) error
	walk = func(t *abi.TypeInfo, stack []string) error {
		if t.Kind != abi.KindStruct {
			return nil
		}
		if visited[t.ID] {
			return fmt.Errorf("value-type cycle detected: %s", joinCycle(append(stack, t.Name)))
		}
		visited[t.ID] = true
		defer delete(visited, t.ID)
		for _, f := range t.Fields {
			if err := walk(f.Type, append(stack, t.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root, nil)
}

func joinCycle(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " -> "
		}
		out += n
	}
	return out
}
