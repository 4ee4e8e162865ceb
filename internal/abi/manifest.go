package abi

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/emberlang/ember/internal/typeid"
)

// Manifest is the static, serializable projection of an AssemblyInfo:
// everything the Assembly ABI (spec §6) describes except the live code
// pointers and resolved TypeInfo handles, which only exist once an
// assembly has actually been dlopen'd. It is the payload of the
// ".embmeta" sidecar file every compiled module ships next to its plugin
// image, so tooling can inspect an assembly's shape — its exports, its
// type universe, its dependencies — without loading and running its code,
// the way `saferwall/pe` parses a PE's export directory straight out of a
// memory-mapped file before anyone calls into it.
//
// The field order here follows spec §6's fixed AssemblyInfo layout:
// ModuleInfo, DispatchTable, TypeLut, dependency strings.
type Manifest struct {
	ABIVersion uint32
	ModulePath string

	// ModuleInfo's defined-types array, flattened: struct/pointer fields
	// reference other entries in this slice (or primitives) by TypeId,
	// never by embedding, so the format stays representable even when
	// types reference each other or themselves.
	Types []ManifestType

	// ModuleInfo's exported function definitions (prototype only; no
	// code pointer is representable in a manifest).
	Functions []ManifestFunc

	// DispatchTable's prototype array: every prototype this module's
	// generated code may call through, including ones defined in other
	// assemblies.
	DispatchPrototypes []ManifestFunc

	// TypeLut's type-id/name arrays.
	Lut []ManifestLutEntry

	Dependencies []string
}

// ManifestType is one entry of ModuleInfo's defined-types array.
type ManifestType struct {
	ID       typeid.ID
	Name     string
	SizeBits uint32
	Align    uint8
	Kind     Kind

	Memory MemoryKind       // struct only
	Fields []ManifestField  // struct only

	Mutable bool      // pointer only
	Pointee typeid.ID // pointer only
}

// ManifestField is one field of a ManifestType whose Kind is KindStruct.
type ManifestField struct {
	Name   string
	Type   typeid.ID
	Offset uint32
}

// ManifestFunc is a FunctionPrototype flattened to ids only.
type ManifestFunc struct {
	Name   string
	Args   []typeid.ID
	Return *typeid.ID
}

// ManifestLutEntry is one entry of TypeLut's parallel id/name arrays.
type ManifestLutEntry struct {
	ID   typeid.ID
	Name string
}

const manifestMagic = "EMB1"

// Encode serializes m into the on-disk ".embmeta" format: a magic, the
// ABI version, then each section length-prefixed by a u32 count with
// NUL-terminated UTF-8 strings, matching the string and count
// representation spec §6 mandates for the native layout.
func (m *Manifest) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteString(manifestMagic)
	writeU32(&buf, m.ABIVersion)
	writeCString(&buf, m.ModulePath)

	writeU32(&buf, uint32(len(m.Types)))
	for _, t := range m.Types {
		writeID(&buf, t.ID)
		writeCString(&buf, t.Name)
		writeU32(&buf, t.SizeBits)
		buf.WriteByte(t.Align)
		buf.WriteByte(byte(t.Kind))
		switch t.Kind {
		case KindStruct:
			buf.WriteByte(byte(t.Memory))
			writeU32(&buf, uint32(len(t.Fields)))
			for _, f := range t.Fields {
				writeCString(&buf, f.Name)
				writeID(&buf, f.Type)
				writeU32(&buf, f.Offset)
			}
		case KindPointer:
			writeBool(&buf, t.Mutable)
			writeID(&buf, t.Pointee)
		}
	}

	writeFuncs(&buf, m.Functions)
	writeFuncs(&buf, m.DispatchPrototypes)

	writeU32(&buf, uint32(len(m.Lut)))
	for _, e := range m.Lut {
		writeID(&buf, e.ID)
		writeCString(&buf, e.Name)
	}

	writeU32(&buf, uint32(len(m.Dependencies)))
	for _, d := range m.Dependencies {
		writeCString(&buf, d)
	}

	return buf.Bytes()
}

func writeFuncs(buf *bytes.Buffer, fns []ManifestFunc) {
	writeU32(buf, uint32(len(fns)))
	for _, fn := range fns {
		writeCString(buf, fn.Name)
		writeU32(buf, uint32(len(fn.Args)))
		for _, a := range fn.Args {
			writeID(buf, a)
		}
		writeBool(buf, fn.Return != nil)
		if fn.Return != nil {
			writeID(buf, *fn.Return)
		}
	}
}

// DecodeManifest parses the ".embmeta" binary format produced by Encode.
// It is designed to run directly against a memory-mapped byte slice (see
// internal/loader), so it never retains b beyond the call — every string
// and id is copied out.
func DecodeManifest(b []byte) (*Manifest, error) {
	r := &byteReader{b: b}
	magic, err := r.take(4)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	if string(magic) != manifestMagic {
		return nil, fmt.Errorf("manifest: bad magic %q, want %q", magic, manifestMagic)
	}
	m := &Manifest{}
	if m.ABIVersion, err = r.u32(); err != nil {
		return nil, fmt.Errorf("manifest: abi version: %w", err)
	}
	if m.ModulePath, err = r.cstring(); err != nil {
		return nil, fmt.Errorf("manifest: module path: %w", err)
	}

	typeCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("manifest: type count: %w", err)
	}
	m.Types = make([]ManifestType, 0, typeCount)
	for i := uint32(0); i < typeCount; i++ {
		var t ManifestType
		if t.ID, err = r.id(); err != nil {
			return nil, fmt.Errorf("manifest: type[%d] id: %w", i, err)
		}
		if t.Name, err = r.cstring(); err != nil {
			return nil, fmt.Errorf("manifest: type[%d] name: %w", i, err)
		}
		if t.SizeBits, err = r.u32(); err != nil {
			return nil, fmt.Errorf("manifest: type[%d] size: %w", i, err)
		}
		align, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("manifest: type[%d] align: %w", i, err)
		}
		t.Align = align
		kind, err := r.u8()
		if err != nil {
			return nil, fmt.Errorf("manifest: type[%d] kind: %w", i, err)
		}
		t.Kind = Kind(kind)
		switch t.Kind {
		case KindStruct:
			mem, err := r.u8()
			if err != nil {
				return nil, fmt.Errorf("manifest: type[%d] memory: %w", i, err)
			}
			t.Memory = MemoryKind(mem)
			fieldCount, err := r.u32()
			if err != nil {
				return nil, fmt.Errorf("manifest: type[%d] field count: %w", i, err)
			}
			t.Fields = make([]ManifestField, 0, fieldCount)
			for j := uint32(0); j < fieldCount; j++ {
				var f ManifestField
				if f.Name, err = r.cstring(); err != nil {
					return nil, fmt.Errorf("manifest: type[%d] field[%d] name: %w", i, j, err)
				}
				if f.Type, err = r.id(); err != nil {
					return nil, fmt.Errorf("manifest: type[%d] field[%d] type: %w", i, j, err)
				}
				if f.Offset, err = r.u32(); err != nil {
					return nil, fmt.Errorf("manifest: type[%d] field[%d] offset: %w", i, j, err)
				}
				t.Fields = append(t.Fields, f)
			}
		case KindPointer:
			if t.Mutable, err = r.boolean(); err != nil {
				return nil, fmt.Errorf("manifest: type[%d] mutable: %w", i, err)
			}
			if t.Pointee, err = r.id(); err != nil {
				return nil, fmt.Errorf("manifest: type[%d] pointee: %w", i, err)
			}
		}
		m.Types = append(m.Types, t)
	}

	if m.Functions, err = readFuncs(r); err != nil {
		return nil, fmt.Errorf("manifest: functions: %w", err)
	}
	if m.DispatchPrototypes, err = readFuncs(r); err != nil {
		return nil, fmt.Errorf("manifest: dispatch prototypes: %w", err)
	}

	lutCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("manifest: lut count: %w", err)
	}
	m.Lut = make([]ManifestLutEntry, 0, lutCount)
	for i := uint32(0); i < lutCount; i++ {
		var e ManifestLutEntry
		if e.ID, err = r.id(); err != nil {
			return nil, fmt.Errorf("manifest: lut[%d] id: %w", i, err)
		}
		if e.Name, err = r.cstring(); err != nil {
			return nil, fmt.Errorf("manifest: lut[%d] name: %w", i, err)
		}
		m.Lut = append(m.Lut, e)
	}

	depCount, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("manifest: dep count: %w", err)
	}
	m.Dependencies = make([]string, 0, depCount)
	for i := uint32(0); i < depCount; i++ {
		d, err := r.cstring()
		if err != nil {
			return nil, fmt.Errorf("manifest: dep[%d]: %w", i, err)
		}
		m.Dependencies = append(m.Dependencies, d)
	}

	return m, nil
}

func readFuncs(r *byteReader) ([]ManifestFunc, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]ManifestFunc, 0, count)
	for i := uint32(0); i < count; i++ {
		var fn ManifestFunc
		if fn.Name, err = r.cstring(); err != nil {
			return nil, fmt.Errorf("func[%d] name: %w", i, err)
		}
		argCount, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("func[%d] arg count: %w", i, err)
		}
		fn.Args = make([]typeid.ID, 0, argCount)
		for j := uint32(0); j < argCount; j++ {
			id, err := r.id()
			if err != nil {
				return nil, fmt.Errorf("func[%d] arg[%d]: %w", i, j, err)
			}
			fn.Args = append(fn.Args, id)
		}
		hasReturn, err := r.boolean()
		if err != nil {
			return nil, fmt.Errorf("func[%d] has-return: %w", i, err)
		}
		if hasReturn {
			id, err := r.id()
			if err != nil {
				return nil, fmt.Errorf("func[%d] return: %w", i, err)
			}
			fn.Return = &id
		}
		out = append(out, fn)
	}
	return out, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeID(buf *bytes.Buffer, id typeid.ID) {
	buf.Write(id[:])
}

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

// byteReader is a small cursor over a []byte, used so DecodeManifest can
// run directly against a memory-mapped region without copying it first.
type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, fmt.Errorf("unexpected end of manifest at offset %d, want %d bytes", r.pos, n)
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) boolean() (bool, error) {
	b, err := r.u8()
	return b != 0, err
}

func (r *byteReader) id() (typeid.ID, error) {
	b, err := r.take(len(typeid.ID{}))
	if err != nil {
		return typeid.ID{}, err
	}
	var id typeid.ID
	copy(id[:], b)
	return id, nil
}

func (r *byteReader) cstring() (string, error) {
	start := r.pos
	for r.pos < len(r.b) {
		if r.b[r.pos] == 0 {
			s := string(r.b[start:r.pos])
			r.pos++
			return s, nil
		}
		r.pos++
	}
	return "", fmt.Errorf("unterminated string starting at offset %d", start)
}
