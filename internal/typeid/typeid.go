// Package typeid computes the content-hash identities that give types a
// stable, process-independent identity across independently compiled
// assemblies (spec §3, §9 "Cross-module identity"). Two modules compiled
// separately must agree on the id of `i32`, or of any struct they both
// reference, without coordinating through a global registry at compile
// time — so identity has to be a pure function of structure, not a
// counter. No content-addressing library appears anywhere in the example
// pack; the one concrete precedent (ymm135-go's module cache key in
// codehost.go) hashes its key directly with crypto/sha256, which is the
// pattern followed here.
package typeid

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ID is a content hash identifying a type. It is a plain array so it is
// usable as a map key and comparable with ==.
type ID [sha256.Size]byte

// String renders the id as lowercase hex, truncated the way git renders
// commit hashes in short form is tempting but we keep the full digest: a
// partial id is not safe to use as an identifier in diagnostics.
func (id ID) String() string {
	return fmt.Sprintf("%x", [sha256.Size]byte(id))
}

// IsZero reports whether id is the zero value (never a valid type id,
// since even the empty string hashes to a nonzero digest).
func (id ID) IsZero() bool {
	return id == ID{}
}

func hash(s string) ID {
	return sha256.Sum256([]byte(s))
}

// Primitive computes the id of a primitive type from its name, e.g. "i32",
// "f64", "bool". Two primitives with the same name always have the same
// id, in every module, by construction.
func Primitive(name string) ID {
	return hash(name)
}

// FieldRef is one field of a struct as seen by the id computation: a name
// and the already-resolved id of the field's type. Callers compute field
// type ids bottom-up (primitives and pointers first) before calling
// Struct, and supply a placeholder id for any field that embeds the
// struct's own id recursively through a pointer (see registry.Registry).
type FieldRef struct {
	Name string
	Type ID
}

// Struct computes the id of a struct type from its name and ordered field
// list, per spec §3: hash of "struct NAME{FIELD: TYPEID,...}". The name is
// part of the hashed string, so renaming the struct changes its id, as
// do renaming a field, changing a field's type, or reordering fields.
func Struct(name string, fields []FieldRef) ID {
	var b strings.Builder
	b.WriteString("struct ")
	b.WriteString(name)
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Type.String())
	}
	b.WriteByte('}')
	return hash(b.String())
}

// Pointer computes the id of a pointer type over a pointee id, per spec
// §3: hash of "*mut T" / "*const T".
func Pointer(pointee ID, mutable bool) ID {
	qual := "const"
	if mutable {
		qual = "mut"
	}
	return hash(fmt.Sprintf("*%s %s", qual, pointee.String()))
}

// SortFieldRefs returns a copy of fields sorted by name. It exists purely
// for tests and diagnostics that want a canonical field ordering to
// display; it must never be used to compute a Struct id, since field order
// is semantically significant there.
func SortFieldRefs(fields []FieldRef) []FieldRef {
	out := make([]FieldRef, len(fields))
	copy(out, fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
