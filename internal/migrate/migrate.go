// Package migrate implements the Memory Mapper (spec §4.7): applying a
// schema diff to every live heap object whose type changed, rewriting
// each one in place to the new layout without losing any field whose
// identity survived the diff.
//
// Grounded directly on
// original_source/crates/mun_memory/src/gc/mark_sweep.rs's
// MemoryMapper::map_memory/map_fields: the same three-way split (deleted
// types are handled by the caller, Insert/Move type diffs need no object
// action, Edit diffs reallocate and field-copy every live object of the
// old type), and the same fatal rejection of a Cast/ConvertType field
// mapping, which the Mun runtime does not support either.
package migrate

import (
	"fmt"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diff"
	"github.com/emberlang/ember/internal/diag"
	"github.com/emberlang/ember/internal/heap"
)

// fieldMapping describes, for one field of the new type, where its bytes
// come from: either copied from a field of the old object (CopyFrom >= 0)
// or left zeroed because the field is new (CopyFrom == -1).
type fieldMapping struct {
	CopyFrom int
}

// Apply walks every diff entry against h, migrating live objects of
// edited types in place. old and new must be the same type lists
// Types(old, new) was computed from, in the same order, so
// old[d.OldIndex]/new[d.NewIndex] resolve correctly. Every Edit entry's
// field mapping is computed before any object is rewritten, so an Apply
// that returns an error has left the heap unchanged.
//
// A DiffDelete entry needs no object-level action (see below); inserts
// and moves need none either, since no live object can yet have a newly
// inserted type and a move changes no object's layout. Only DiffEdit
// entries touch the heap at all.
func Apply(h *heap.Heap, old, new []*abi.TypeInfo, diffs []diff.Diff) error {
	// A DiffDelete entry needs no object-level action at all: spec §4.6 is
	// explicit that a live object of a deleted type "remains allocated but
	// is no longer reachable from any assembly" once the type is gone from
	// the registry, reclaimed only by the next ordinary Collect() once
	// nothing still roots it. Proactively freeing it here would destroy a
	// rooted object the host is still holding out from under it.
	type edit struct {
		oldTy, newTy *abi.TypeInfo
		mapping      []fieldMapping
	}
	var edits []edit
	for _, d := range diffs {
		if d.Kind != diff.DiffEdit {
			continue
		}
		oldTy := old[d.OldIndex]
		newTy := new[d.NewIndex]

		mapping, err := fieldMappings(oldTy, newTy, d.Fields)
		if err != nil {
			return diag.New(diag.KindMigrationRejected, err.Error()).Wrap(err).WithIdent(newTy.Name)
		}
		edits = append(edits, edit{oldTy: oldTy, newTy: newTy, mapping: mapping})
	}

	for _, e := range edits {
		var toMigrate []heap.GcPtr
		h.Walk(func(p heap.GcPtr, ty *abi.TypeInfo) {
			if ty == e.oldTy {
				toMigrate = append(toMigrate, p)
			}
		})
		for _, p := range toMigrate {
			migrateOne(h, p, e.oldTy, e.newTy, e.mapping)
		}
	}

	return nil
}

// fieldMappings computes, for every field of newTy, where its bytes
// should come from. A ConvertType edit is always rejected (spec §4.7 "a
// field that changed type, rather than merely moved or renamed, makes
// the edit a fatal migration error").
func fieldMappings(oldTy, newTy *abi.TypeInfo, fieldDiffs []diff.FieldDiff) ([]fieldMapping, error) {
	// Every new-type field starts unmapped (-1, left zeroed); the loop
	// below maps moved and edited fields, and the leftover pass after it
	// maps the fields the differ did not mention.
	oldIndexForNew := make([]int, len(newTy.Fields))
	for i := range oldIndexForNew {
		oldIndexForNew[i] = -1
	}

	// Fields the differ did not mention are a 1:1 positional carry-over
	// only when field counts and positions actually line up; reconstruct
	// the correspondence explicitly instead of assuming position, since
	// inserts/deletes/moves shift everything downstream of them.
	consumedOld := make(map[int]bool)
	consumedNew := make(map[int]bool)

	for _, fd := range fieldDiffs {
		switch fd.Kind {
		case diff.FieldDelete:
			consumedOld[fd.Index] = true
		case diff.FieldInsert:
			oldIndexForNew[fd.Index] = -1
			consumedNew[fd.Index] = true
		case diff.FieldMove:
			if fd.Edit != nil && *fd.Edit == diff.FieldConvertType {
				return nil, fmt.Errorf("field %q: move with type conversion is not supported", newTy.Fields[fd.NewIndex].Name)
			}
			oldIndexForNew[fd.NewIndex] = fd.OldIndex
			consumedOld[fd.OldIndex] = true
			consumedNew[fd.NewIndex] = true
		case diff.FieldEdit:
			if fd.Edit != nil && *fd.Edit == diff.FieldConvertType {
				return nil, fmt.Errorf("field %q: type conversion is not supported", oldTy.Fields[fd.Index].Name)
			}
			oldIndexForNew[fd.Index] = fd.Index
			consumedOld[fd.Index] = true
			consumedNew[fd.Index] = true
		}
	}

	// Whatever is left unconsumed on both sides matched identically
	// (same name, same type, same relative order) and carries straight
	// across by matching position among the leftovers.
	var leftoverOld []int
	for i := range oldTy.Fields {
		if !consumedOld[i] {
			leftoverOld = append(leftoverOld, i)
		}
	}
	cursor := 0
	for i := range newTy.Fields {
		if consumedNew[i] {
			continue
		}
		if cursor >= len(leftoverOld) {
			return nil, fmt.Errorf("field %q: no corresponding old field found", newTy.Fields[i].Name)
		}
		oldIndexForNew[i] = leftoverOld[cursor]
		cursor++
	}

	out := make([]fieldMapping, len(newTy.Fields))
	for i, oldIdx := range oldIndexForNew {
		out[i] = fieldMapping{CopyFrom: oldIdx}
	}
	return out, nil
}

// migrateOne reallocates p's storage to newTy's size and copies each
// surviving field's bytes from its old offset to its new offset,
// zero-filling inserted fields, then rewrites p in place via heap.Rewrite
// so every existing GcPtr referencing p keeps working.
func migrateOne(h *heap.Heap, p heap.GcPtr, oldTy, newTy *abi.TypeInfo, mapping []fieldMapping) {
	oldStorage := h.Storage(p)
	newStorage := make([]byte, newTy.SizeBytes())

	for i, m := range mapping {
		if m.CopyFrom < 0 {
			continue // left zeroed: a newly inserted field
		}
		oldField := oldTy.Fields[m.CopyFrom]
		newField := newTy.Fields[i]
		n := int(oldField.Type.SizeBytes())
		if int(newField.Type.SizeBytes()) < n {
			n = int(newField.Type.SizeBytes())
		}
		copy(newStorage[newField.Offset:int(newField.Offset)+n], oldStorage[oldField.Offset:int(oldField.Offset)+n])
	}

	h.Rewrite(p, newTy, newStorage)
}
