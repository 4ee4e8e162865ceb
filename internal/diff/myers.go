// Package diff implements the Schema Differ (spec §4.4): given an old and
// new ordered list of top-level types (and, inside a matched pair, an old
// and new ordered list of fields), compute the minimal set of
// insert/delete/move/edit operations that explains the difference.
//
// The top-level algorithm and the Diff/FieldDiff/FieldEditKind shapes are
// grounded on
// original_source/crates/mun_memory/src/diff/myers.rs (the raw
// index-level edit script) and
// original_source/crates/mun_memory/tests/diff/{util,structs}.rs (which
// exercise the public diff()/FieldDiff API closely enough to pin down
// every variant's exact field set and the rename/move pairing rules,
// since the crate's own diff.rs that assembles them was not present in
// the retrieved source). See DESIGN.md for the open question this
// resolved.
package diff

// Op is a raw, index-only insert or delete produced by the Myers edit
// script over two sequences compared purely by the equality relation the
// caller supplies.
type Op struct {
	Insert bool // true = insert into new at Index; false = delete from old at Index
	Index  int
}

// myers computes the minimal edit script turning a sequence of length n
// into one of length m, where eq(i, j) reports whether old[i] and new[j]
// are equal. This is a classic O(n*m) LCS-backtrace implementation of the
// same edit-script concept as myers.rs's divide-and-conquer linear-space
// variant; the type counts this differ operates over (types and fields
// per reload) are small enough that the simpler quadratic table is the
// right tradeoff here, and no library in the example pack offers a
// ready-made sequence-diff implementation to reach for instead.
func myers(n, m int, eq func(i, j int) bool) []Op {
	// lcs[i][j] = length of the LCS of old[i:], new[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if eq(i, j) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []Op
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case eq(i, j):
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, Op{Insert: false, Index: i})
			i++
		default:
			ops = append(ops, Op{Insert: true, Index: j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Op{Insert: false, Index: i})
	}
	for ; j < m; j++ {
		ops = append(ops, Op{Insert: true, Index: j})
	}
	return ops
}
