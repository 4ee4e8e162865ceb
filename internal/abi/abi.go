// Package abi defines the binary contract between compiled assemblies and
// the runtime: type metadata, function prototypes, and the dispatch/type
// lookup indirection tables through which inter-module and runtime calls
// are dispatched (spec §3, §4.2, §6). It is intentionally a pure data
// package — no loading, no registry, no GC — so every other core
// component can depend on it without a cycle.
package abi

import (
	"fmt"

	"github.com/emberlang/ember/internal/typeid"
)

// Version is the ABI version this runtime build supports. An assembly
// whose get_version() return value does not equal Version is rejected by
// the loader (spec §4.2, §4.3, §7 "ABI mismatch").
const Version uint32 = 1

// Stable, case-sensitive export symbol names every compiled assembly must
// provide (spec §6). Go's plugin package can only resolve exported (capital
// first letter) package-level identifiers — unlike a native ABI, which can
// export a symbol under any name at all, a Go plugin's "export symbol name"
// is necessarily a valid exported Go identifier, so these use Go naming
// instead of the lower_snake_case a native ABI would use for the same
// three entry points.
const (
	SymbolGetInfo            = "GetInfo"
	SymbolGetVersion         = "GetVersion"
	SymbolSetAllocatorHandle = "SetAllocatorHandle"
)

// Kind discriminates the three TypeInfo variants of spec §3.
type Kind uint8

const (
	KindPrimitive Kind = iota
	KindStruct
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindStruct:
		return "struct"
	case KindPointer:
		return "pointer"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MemoryKind distinguishes value-kind structs (stored inline) from
// gc-kind structs (always referenced indirectly through a GcPtr).
type MemoryKind uint8

const (
	MemoryValue MemoryKind = iota
	MemoryGC
)

func (m MemoryKind) String() string {
	if m == MemoryGC {
		return "gc"
	}
	return "value"
}

// TypeInfo is the fully resolved description of one type (spec §3). It is
// a DAG, not a tree: a struct's Fields may point back at an ancestor
// TypeInfo through a Pointer field, which is exactly what makes
// self-referential and mutually-referential struct definitions possible.
// Two *TypeInfo values with the same ID are always the same object once
// they have passed through the Type Registry; TypeInfo itself does not
// enforce that, the registry does.
type TypeInfo struct {
	ID       typeid.ID
	Name     string
	SizeBits uint32
	Align    uint8
	Kind     Kind

	// Struct-only.
	Memory MemoryKind
	Fields []FieldInfo

	// Pointer-only.
	Mutable bool
	Pointee *TypeInfo
}

// FieldInfo is one field of a struct TypeInfo: a name, the field's
// resolved type, and its byte offset from the start of the struct (spec
// §3).
type FieldInfo struct {
	Name   string
	Type   *TypeInfo
	Offset uint32
}

// SizeBytes rounds SizeBits up to a whole byte, the way Mun's
// TypeDefinition::size_in_bytes does.
func (t *TypeInfo) SizeBytes() uint32 {
	return (t.SizeBits + 7) / 8
}

// IsGCStruct reports whether t is a struct that must always be referenced
// through a GcPtr rather than stored inline.
func (t *TypeInfo) IsGCStruct() bool {
	return t.Kind == KindStruct && t.Memory == MemoryGC
}

func (t *TypeInfo) String() string {
	return t.Name
}

// Validate checks the per-type invariants of spec §3 that can be checked
// from the TypeInfo alone (offsets non-decreasing, offset+size within
// bounds, pointer size/align equal to native pointer size). It does not
// check the "gc structs only referenced through GcPtr" invariant, which
// depends on how a type is used by its *containing* type; no other
// package in this repository checks it either.
func (t *TypeInfo) Validate(ptrSize, ptrAlign uint32) error {
	switch t.Kind {
	case KindPrimitive:
		return nil
	case KindPointer:
		if t.Pointee == nil {
			return fmt.Errorf("pointer type %q has nil pointee", t.Name)
		}
		if t.SizeBits != ptrSize*8 {
			return fmt.Errorf("pointer type %q has size_bits=%d, want native pointer size %d", t.Name, t.SizeBits, ptrSize*8)
		}
		if uint32(t.Align) != ptrAlign {
			return fmt.Errorf("pointer type %q has align=%d, want native pointer align %d", t.Name, t.Align, ptrAlign)
		}
		return nil
	case KindStruct:
		var prevOffset uint32
		for i, f := range t.Fields {
			if f.Type == nil {
				return fmt.Errorf("struct %q field %q has nil type", t.Name, f.Name)
			}
			if i > 0 && f.Offset < prevOffset {
				return fmt.Errorf("struct %q field %q offset %d precedes previous field's offset %d", t.Name, f.Name, f.Offset, prevOffset)
			}
			if f.Offset+f.Type.SizeBytes() > t.SizeBytes() {
				return fmt.Errorf("struct %q field %q at offset %d size %d overruns struct size %d", t.Name, f.Name, f.Offset, f.Type.SizeBytes(), t.SizeBytes())
			}
			prevOffset = f.Offset
		}
		return nil
	default:
		return fmt.Errorf("unknown type kind %v", t.Kind)
	}
}

// Field looks up a field by name, returning nil if absent or if t is not
// a struct.
func (t *TypeInfo) Field(name string) *FieldInfo {
	if t.Kind != KindStruct {
		return nil
	}
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}
