package diff

import "github.com/emberlang/ember/internal/abi"

// FieldEditKind distinguishes the two ways a matched field can change
// without being inserted or deleted outright (spec §4.4, §4.5).
// ConvertType is always rejected by the Memory Mapper (spec §4.7): it is
// represented here, rather than simply omitted, so the differ can report
// exactly what changed and the Reload Controller can produce a precise
// rejection diagnostic instead of silently dropping the field.
type FieldEditKind uint8

const (
	FieldRename FieldEditKind = iota
	FieldConvertType
)

func (k FieldEditKind) String() string {
	if k == FieldConvertType {
		return "convert-type"
	}
	return "rename"
}

// FieldDiff is one change to a struct's field list between its old and
// new definitions.
type FieldDiff struct {
	Kind FieldDiffKind

	Index int // Insert, Delete, Edit: index into the relevant field list

	OldIndex int // Move
	NewIndex int // Move

	Edit *FieldEditKind // set for Edit, and optionally for Move (a field can be moved and renamed at once)
}

// FieldDiffKind discriminates FieldDiff's variants, since Go has no enum
// with payload the way FieldDiff's Rust original does.
type FieldDiffKind uint8

const (
	FieldInsert FieldDiffKind = iota
	FieldDelete
	FieldMove
	FieldEdit
)

// Diff is one change between an old and new ordered type list (spec
// §4.4). Unchanged types produce no entry at all.
type Diff struct {
	Kind DiffKind

	Index int // Insert, Delete: index into the relevant type list

	OldIndex int // Move, Edit
	NewIndex int // Move, Edit

	Fields []FieldDiff // Edit only: the field-level diff between old and new
}

type DiffKind uint8

const (
	DiffInsert DiffKind = iota
	DiffDelete
	DiffMove
	DiffEdit
)

// Types computes the diff between an old and new ordered type list.
//
// The algorithm runs in two passes, inferred from the observed behavior
// of the reference implementation's test suite rather than ported
// line-for-line (see DESIGN.md):
//
//  1. A Myers edit script over the two lists, comparing types by TypeId
//     equality, finds everything structurally unchanged (kept, possibly
//     at a new index) versus everything only in old or only in new.
//  2. Leftover old-only and new-only entries are paired up: first by
//     TypeId (the same type present in both, just relocated — a Move),
//     then by Name (a type whose definition changed but which the
//     compiler still considers "the same type" under a new shape — an
//     Edit, carrying the field-level diff between the two versions).
//     Anything left unpaired after that is a genuine Insert or Delete.
func Types(old, new []*abi.TypeInfo) []Diff {
	ops := myers(len(old), len(new), func(i, j int) bool { return old[i].ID == new[j].ID })

	var deletes, inserts []int
	for _, op := range ops {
		if op.Insert {
			inserts = append(inserts, op.Index)
		} else {
			deletes = append(deletes, op.Index)
		}
	}

	var out []Diff

	usedInsert := make(map[int]bool)

	// Pass 1: pair by identical TypeId -> Move.
	var remainingDeletes []int
	for _, di := range deletes {
		paired := -1
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if old[di].ID == new[ii].ID {
				paired = ii
				break
			}
		}
		if paired >= 0 {
			usedInsert[paired] = true
			out = append(out, Diff{Kind: DiffMove, OldIndex: di, NewIndex: paired})
		} else {
			remainingDeletes = append(remainingDeletes, di)
		}
	}

	// Pass 2: pair remaining by Name -> Edit.
	var finalDeletes []int
	for _, di := range remainingDeletes {
		paired := -1
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if old[di].Name == new[ii].Name {
				paired = ii
				break
			}
		}
		if paired >= 0 {
			usedInsert[paired] = true
			out = append(out, Diff{
				Kind:     DiffEdit,
				OldIndex: di,
				NewIndex: paired,
				Fields:   Fields(old[di], new[paired]),
			})
		} else {
			finalDeletes = append(finalDeletes, di)
		}
	}

	for _, di := range finalDeletes {
		out = append(out, Diff{Kind: DiffDelete, Index: di})
	}
	for _, ii := range inserts {
		if !usedInsert[ii] {
			out = append(out, Diff{Kind: DiffInsert, Index: ii})
		}
	}

	return out
}

// Fields computes the field-level diff between two matched struct
// TypeInfos, using the same two-pass identity-then-name pairing as Types
// (spec §4.5). Fields compared for identity use their resolved field
// TypeId plus name, since a field can only be considered the truly same
// field across a reload if neither its name nor its type changed; a field
// that kept its name but changed type is a ConvertType edit, and one that
// kept its type but changed name is a Rename edit.
func Fields(old, new *abi.TypeInfo) []FieldDiff {
	oldFields, newFields := old.Fields, new.Fields
	ops := myers(len(oldFields), len(newFields), func(i, j int) bool {
		return oldFields[i].Name == newFields[j].Name && oldFields[i].Type.ID == newFields[j].Type.ID
	})

	var deletes, inserts []int
	for _, op := range ops {
		if op.Insert {
			inserts = append(inserts, op.Index)
		} else {
			deletes = append(deletes, op.Index)
		}
	}

	var out []FieldDiff
	usedInsert := make(map[int]bool)

	// Pass 1: pair by identical field type, regardless of name -> Move,
	// optionally carrying a Rename if the name also changed. Mirrors
	// Types's identity-first pairing pass.
	var remainingDeletes []int
	for _, di := range deletes {
		paired := -1
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if oldFields[di].Type.ID == newFields[ii].Type.ID {
				paired = ii
				break
			}
		}
		if paired >= 0 {
			usedInsert[paired] = true
			fd := FieldDiff{Kind: FieldMove, OldIndex: di, NewIndex: paired}
			if oldFields[di].Name != newFields[paired].Name {
				k := FieldRename
				fd.Edit = &k
			}
			out = append(out, fd)
		} else {
			remainingDeletes = append(remainingDeletes, di)
		}
	}

	// Pass 2: pair remaining by identical name, different type -> Edit
	// (ConvertType), which the Memory Mapper always rejects (spec §4.7).
	var finalDeletes []int
	for _, di := range remainingDeletes {
		paired := -1
		for _, ii := range inserts {
			if usedInsert[ii] {
				continue
			}
			if oldFields[di].Name == newFields[ii].Name {
				paired = ii
				break
			}
		}
		if paired >= 0 {
			usedInsert[paired] = true
			k := FieldConvertType
			out = append(out, FieldDiff{Kind: FieldEdit, Index: di, Edit: &k})
		} else {
			finalDeletes = append(finalDeletes, di)
		}
	}

	for _, di := range finalDeletes {
		out = append(out, FieldDiff{Kind: FieldDelete, Index: di})
	}
	for _, ii := range inserts {
		if !usedInsert[ii] {
			out = append(out, FieldDiff{Kind: FieldInsert, Index: ii})
		}
	}

	return out
}
