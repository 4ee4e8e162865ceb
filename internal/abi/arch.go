package abi

import (
	"encoding/binary"
	"unsafe"
)

// Target describes the native layout assumptions the ABI is compiled
// against: pointer size, pointer alignment, and byte order. Every
// assembly loaded into the same runtime must agree on these, since
// GcPtr values and TypeLut handles are exchanged as raw pointer-sized
// words (spec §6 "All pointer-typed fields are native pointer-sized").
//
// Adapted from golang.org/x/debug's arch.Architecture, which plays the
// same role for a debugger reading a foreign process's memory layout.
type Target struct {
	PointerSize  uint32
	ByteOrder    binary.ByteOrder
	StructPacked bool // true if the target uses packed (align 1) struct layout
}

// Host is the Target for the process the runtime itself is running in.
// Because assemblies here are Go plugins sharing the host's address
// space (unlike a cross-process debugger), Host is also the only Target
// in practice — there is no cross-architecture loading.
var Host = Target{
	PointerSize: uint32(unsafe.Sizeof(uintptr(0))),
	ByteOrder:   binary.LittleEndian,
}

// PointerAlign returns the alignment of a pointer-typed field for t.
func (t Target) PointerAlign() uint32 {
	return t.PointerSize
}
