// Package host implements the embedding API a Go program actually calls
// (spec §6, §4.9): load an assembly, look up and invoke its functions,
// allocate and inspect heap objects, and run the garbage collector. It is
// the one package that wires the Type Registry, the Garbage Collector,
// the Assembly Loader, the Dispatch Builder and the Reload Controller
// together, and the only package that knows how to interpret a TypeInfo's
// pointer fields as bytes — which is why it, not internal/heap, supplies
// the TraceFunc the collector traces objects with (internal/heap.TraceFunc
// doc comment).
//
// Grounded on original_source/crates/mun_runtime/src/lib.rs's MunRuntime,
// the single type an embedding Rust program talks to (RuntimeBuilder,
// get_function_info, invoke_fn!, root/GcRootHandle), generalized from
// Mun's generated marshaling code (which the Rust compiler emits per
// function signature) to a Go host that marshals a variadic argument list
// against a FunctionPrototype at call time instead.
package host

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diag"
	"github.com/emberlang/ember/internal/dispatch"
	"github.com/emberlang/ember/internal/heap"
	"github.com/emberlang/ember/internal/loader"
	"github.com/emberlang/ember/internal/registry"
	"github.com/emberlang/ember/internal/reload"
	"github.com/emberlang/ember/internal/typeid"
)

// Host is the embedding entry point: one Host owns one runtime instance
// (one registry, one heap, one dispatch table, one reload controller).
// Every exported method is safe to call from multiple goroutines; the
// underlying components serialize through their own locks per spec §5.
type Host struct {
	registry *registry.Registry
	heap     *heap.Heap
	loader   *loader.Loader
	dispatch *dispatch.Builder
	reload   *reload.Controller

	fnMu        sync.Mutex
	fnsByModule map[string][]abi.FunctionDefinition

	ptrMu  sync.Mutex
	byPtr  map[heap.GcPtr]uint64
	byID   map[uint64]heap.GcPtr
	nextID uint64
}

// New creates a Host with an empty heap and registry, seeded with the
// given runtime intrinsics (functions available to every assembly without
// any of them defining it, spec §4.2's "libc symbols" analogue).
func New(intrinsics []dispatch.Intrinsic) *Host {
	h := &Host{
		fnsByModule: make(map[string][]abi.FunctionDefinition),
		byPtr:       make(map[heap.GcPtr]uint64),
		byID:        make(map[uint64]heap.GcPtr),
	}
	h.registry = registry.New()
	h.heap = heap.New(h.trace)
	h.loader = loader.New(h.registry)
	h.dispatch = dispatch.NewBuilder(intrinsics)
	h.reload = reload.New(h.registry, h.heap, h.loader, h.dispatch)
	return h
}

// Load loads path as an assembly (a first load if path is new, a hot
// reload if it replaces an already-loaded assembly at the same path) and
// runs it through the full Begin/Diff/Migrate/Commit cycle. handle is
// passed through to the assembly's set_allocator_handle export.
func (h *Host) Load(path string, handle loader.AllocatorHandle) (*abi.AssemblyInfo, error) {
	if _, err := h.reload.Run(path, handle); err != nil {
		return nil, err
	}
	info, ok := h.reload.Assembly(path)
	if !ok {
		return nil, diag.New(diag.KindInternal, "commit succeeded but no assembly is recorded").WithModule(path)
	}

	h.fnMu.Lock()
	h.fnsByModule[path] = info.Module.Functions
	h.fnMu.Unlock()

	return info, nil
}

// GetFunction finds the function named name among every loaded module's
// exports. Exactly one match is required: if no loaded module exports a
// function by that name, or more than one overload does, the caller must
// build the FunctionPrototype itself and call Invoke directly.
func (h *Host) GetFunction(name string) (abi.FunctionPrototype, error) {
	h.fnMu.Lock()
	defer h.fnMu.Unlock()

	var found []abi.FunctionPrototype
	for _, fns := range h.fnsByModule {
		for _, fn := range fns {
			if fn.Prototype.Name == name {
				found = append(found, fn.Prototype)
			}
		}
	}
	switch len(found) {
	case 0:
		return abi.FunctionPrototype{}, diag.Newf(diag.KindUnresolvedFunction, "no loaded module exports a function named %q", name)
	case 1:
		return found[0], nil
	default:
		return abi.FunctionPrototype{}, diag.Newf(diag.KindHostMisuse, "%q is ambiguous: %d overloads are loaded, call Invoke with an explicit FunctionPrototype", name, len(found))
	}
}

// Invoke calls proto with args, after checking args against proto's
// argument types (spec §4.9: "a type mismatch is a Host API misuse error,
// not a panic"). Primitive arguments are passed by Go value (bool,
// int32, int64, float32, float64); struct and pointer arguments are
// passed as heap.GcPtr.
func (h *Host) Invoke(proto abi.FunctionPrototype, args ...any) (any, error) {
	fn, ok := h.dispatch.Lookup(proto)
	if !ok {
		return nil, diag.Newf(diag.KindUnresolvedFunction, "no definition found for %s", proto)
	}
	if len(args) != len(proto.Args) {
		return nil, diag.Newf(diag.KindHostMisuse, "%s expects %d arguments, got %d", proto, len(proto.Args), len(args))
	}
	for i, id := range proto.Args {
		ty, ok := h.registry.Find(id)
		if !ok {
			return nil, diag.Newf(diag.KindInternal, "argument %d of %s: type %s is not registered", i, proto, id)
		}
		if err := checkArgType(ty, args[i]); err != nil {
			return nil, diag.New(diag.KindHostMisuse, err.Error()).WithIdent(proto.String())
		}
	}
	return fn(args)
}

func checkArgType(ty *abi.TypeInfo, v any) error {
	switch ty.Kind {
	case abi.KindStruct, abi.KindPointer:
		if _, ok := v.(heap.GcPtr); !ok {
			return fmt.Errorf("argument of type %q must be a heap.GcPtr, got %T", ty.Name, v)
		}
		return nil
	case abi.KindPrimitive:
		if err := checkPrimitiveValue(ty.Name, v); err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("argument of unknown type kind %v", ty.Kind)
	}
}

func checkPrimitiveValue(name string, v any) error {
	ok := false
	switch name {
	case "bool":
		_, ok = v.(bool)
	case "i32":
		_, ok = v.(int32)
	case "i64":
		_, ok = v.(int64)
	case "f32":
		_, ok = v.(float32)
	case "f64":
		_, ok = v.(float64)
	default:
		return fmt.Errorf("unknown primitive type %q", name)
	}
	if !ok {
		return fmt.Errorf("argument of type %q: got Go value %T", name, v)
	}
	return nil
}

// TypeOf looks up a registered type by id, for callers (emberctl's call
// and repl commands) that need to know a FunctionPrototype argument's
// shape before they can marshal a value into it.
func (h *Host) TypeOf(id typeid.ID) (*abi.TypeInfo, bool) {
	return h.registry.Find(id)
}

// Alloc allocates a new, unrooted object of type ty. Callers that intend
// to keep the handle past the next Collect must Root it.
func (h *Host) Alloc(ty *abi.TypeInfo) heap.GcPtr {
	return h.heap.Alloc(ty)
}

// Root pins p against collection.
func (h *Host) Root(p heap.GcPtr) { h.heap.Root(p) }

// Unroot releases one root held on p.
func (h *Host) Unroot(p heap.GcPtr) error { return h.heap.Unroot(p) }

// Collect runs one garbage collection cycle and reports whether anything
// was reclaimed.
func (h *Host) Collect() bool { return h.heap.Collect() }

// ReadField reads the named field of p's current type, decoding primitive
// fields to their Go value, pointer fields to a heap.GcPtr (the zero
// GcPtr if the field is null), and value-kind struct fields recursively
// to a map[string]any keyed by field name.
func (h *Host) ReadField(p heap.GcPtr, fieldName string) (any, error) {
	ty := h.heap.PtrType(p)
	field := ty.Field(fieldName)
	if field == nil {
		return nil, diag.Newf(diag.KindHostMisuse, "type %q has no field %q", ty.Name, fieldName)
	}
	data := h.heap.Storage(p)
	return h.decodeValue(field.Type, data[field.Offset:field.Offset+field.Type.SizeBytes()])
}

// WriteField writes value into the named field of p's current type.
// value must match the field's type exactly as Invoke's argument checking
// requires for primitives and pointers; value-kind struct fields are not
// writable as a whole (write their leaf fields individually).
func (h *Host) WriteField(p heap.GcPtr, fieldName string, value any) error {
	ty := h.heap.PtrType(p)
	field := ty.Field(fieldName)
	if field == nil {
		return diag.Newf(diag.KindHostMisuse, "type %q has no field %q", ty.Name, fieldName)
	}
	if field.Type.Kind == abi.KindStruct && field.Type.Memory == abi.MemoryValue {
		return diag.Newf(diag.KindHostMisuse, "field %q is a value struct; write its leaf fields individually", fieldName)
	}
	encoded, err := h.encodeValue(field.Type, value)
	if err != nil {
		return diag.New(diag.KindHostMisuse, err.Error()).WithIdent(fieldName)
	}
	data := h.heap.Storage(p)
	copy(data[field.Offset:field.Offset+field.Type.SizeBytes()], encoded)
	return nil
}

// decodeValue interprets data, data's length exactly ty.SizeBytes(), as a
// value of ty.
func (h *Host) decodeValue(ty *abi.TypeInfo, data []byte) (any, error) {
	switch ty.Kind {
	case abi.KindPrimitive:
		return decodePrimitive(ty.Name, data)
	case abi.KindPointer:
		id := binary.LittleEndian.Uint64(data)
		if id == 0 {
			return heap.GcPtr{}, nil
		}
		h.ptrMu.Lock()
		target, ok := h.byID[id]
		h.ptrMu.Unlock()
		if !ok {
			return nil, fmt.Errorf("dangling pointer handle %d", id)
		}
		return target, nil
	case abi.KindStruct:
		out := make(map[string]any, len(ty.Fields))
		for _, f := range ty.Fields {
			v, err := h.decodeValue(f.Type, data[f.Offset:f.Offset+f.Type.SizeBytes()])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", f.Name, err)
			}
			out[f.Name] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown type kind %v", ty.Kind)
	}
}

// encodeValue renders value as ty's on-heap byte representation.
func (h *Host) encodeValue(ty *abi.TypeInfo, value any) ([]byte, error) {
	buf := make([]byte, ty.SizeBytes())
	switch ty.Kind {
	case abi.KindPrimitive:
		if err := checkPrimitiveValue(ty.Name, value); err != nil {
			return nil, err
		}
		encodePrimitive(ty.Name, value, buf)
		return buf, nil
	case abi.KindPointer:
		p, ok := value.(heap.GcPtr)
		if !ok {
			return nil, fmt.Errorf("pointer field requires a heap.GcPtr, got %T", value)
		}
		binary.LittleEndian.PutUint64(buf, h.handleFor(p))
		return buf, nil
	default:
		return nil, fmt.Errorf("field of type kind %v is not individually writable", ty.Kind)
	}
}

// handleFor returns the stable uint64 handle standing in for p inside
// heap storage — Go heap addresses aren't safe to embed as raw bytes the
// way a native pointer would be, since the garbage collector can move or
// replace the object's backing storage (internal/heap.Rewrite) without
// the handle's identity changing, so a level of indirection through a
// handle table plays the role a real pointer field would. The zero handle
// is reserved for "null".
func (h *Host) handleFor(p heap.GcPtr) uint64 {
	if p.IsNil() {
		return 0
	}
	h.ptrMu.Lock()
	defer h.ptrMu.Unlock()
	if id, ok := h.byPtr[p]; ok {
		return id
	}
	h.nextID++
	id := h.nextID
	h.byPtr[p] = id
	h.byID[id] = p
	return id
}

func decodePrimitive(name string, data []byte) (any, error) {
	switch name {
	case "bool":
		return data[0] != 0, nil
	case "i32":
		return int32(binary.LittleEndian.Uint32(data)), nil
	case "i64":
		return int64(binary.LittleEndian.Uint64(data)), nil
	case "f32":
		return math.Float32frombits(binary.LittleEndian.Uint32(data)), nil
	case "f64":
		return math.Float64frombits(binary.LittleEndian.Uint64(data)), nil
	default:
		return nil, fmt.Errorf("unknown primitive type %q", name)
	}
}

func encodePrimitive(name string, value any, buf []byte) {
	switch name {
	case "bool":
		if value.(bool) {
			buf[0] = 1
		}
	case "i32":
		binary.LittleEndian.PutUint32(buf, uint32(value.(int32)))
	case "i64":
		binary.LittleEndian.PutUint64(buf, uint64(value.(int64)))
	case "f32":
		binary.LittleEndian.PutUint32(buf, math.Float32bits(value.(float32)))
	case "f64":
		binary.LittleEndian.PutUint64(buf, math.Float64bits(value.(float64)))
	}
}

// trace implements heap.TraceFunc: decode every pointer-kind field
// reachable from ptr's current type (recursing into value-kind struct
// fields, since a pointer can be nested inside an inline struct field)
// into the GcPtrs it references.
func (h *Host) trace(ptr heap.GcPtr, ty *abi.TypeInfo) []heap.GcPtr {
	data := h.heap.Storage(ptr)
	var out []heap.GcPtr
	h.traceInto(ty, data, &out)
	return out
}

func (h *Host) traceInto(ty *abi.TypeInfo, data []byte, out *[]heap.GcPtr) {
	switch ty.Kind {
	case abi.KindPointer:
		id := binary.LittleEndian.Uint64(data)
		if id == 0 {
			return
		}
		h.ptrMu.Lock()
		target, ok := h.byID[id]
		h.ptrMu.Unlock()
		if ok {
			*out = append(*out, target)
		}
	case abi.KindStruct:
		for _, f := range ty.Fields {
			h.traceInto(f.Type, data[f.Offset:f.Offset+f.Type.SizeBytes()], out)
		}
	}
}

// ObjectNode is one node of the live object graph, for diagnostics such
// as emberctl's objgraph command (cmd/viewcore/objref.go's ObjNode,
// generalized from a core-dump address to a GcPtr handle).
type ObjectNode struct {
	Handle   string
	TypeName string
	Size     int
	Refs     []string
}

// ObjectGraph snapshots every live object and the handles it directly
// references, for tooling to render as a graph.
func (h *Host) ObjectGraph() []ObjectNode {
	var out []ObjectNode
	h.heap.Walk(func(p heap.GcPtr, ty *abi.TypeInfo) {
		node := ObjectNode{Handle: p.String(), TypeName: ty.Name, Size: int(ty.SizeBytes())}
		for _, ref := range h.trace(p, ty) {
			node.Refs = append(node.Refs, ref.String())
		}
		out = append(out, node)
	})
	return out
}
