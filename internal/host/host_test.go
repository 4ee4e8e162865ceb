package host

import (
	"testing"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/dispatch"
	"github.com/emberlang/ember/internal/heap"
	"github.com/emberlang/ember/internal/registry"
	"github.com/emberlang/ember/internal/typeid"
)

func registerPrimitive(h *Host, name string, bits uint32) *abi.TypeInfo {
	id := typeid.Primitive(name)
	ty, _ := h.registry.InsertOrGet(id, func(*registry.Registry) (*abi.TypeInfo, error) {
		return &abi.TypeInfo{ID: id, Name: name, SizeBits: bits, Align: uint8(bits / 8), Kind: abi.KindPrimitive}, nil
	})
	return ty
}

func TestInvokeChecksArgumentTypesAndDispatches(t *testing.T) {
	h := New(nil)
	i32 := registerPrimitive(h, "i32", 32)

	proto := abi.FunctionPrototype{Name: "double", Args: []typeid.ID{i32.ID}, Return: &i32.ID}
	if err := h.dispatch.AddModule(abi.ModuleInfo{
		Path: "demo",
		Functions: []abi.FunctionDefinition{{
			Prototype: proto,
			Fn: func(args []any) (any, error) {
				return args[0].(int32) * 2, nil
			},
		}},
	}); err != nil {
		t.Fatalf("AddModule: %v", err)
	}

	got, err := h.Invoke(proto, int32(21))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got.(int32) != 42 {
		t.Fatalf("got %v, want 42", got)
	}

	if _, err := h.Invoke(proto, "not an i32"); err == nil {
		t.Fatal("expected a type-mismatch error")
	}
	if _, err := h.Invoke(proto); err == nil {
		t.Fatal("expected an arity-mismatch error")
	}
}

func TestGetFunctionMissingAndAmbiguous(t *testing.T) {
	h := New(nil)

	if _, err := h.GetFunction("missing"); err == nil {
		t.Fatal("expected an error for a function no module exports")
	}

	h.fnsByModule["a"] = []abi.FunctionDefinition{{Prototype: abi.FunctionPrototype{Name: "f"}}}
	h.fnsByModule["b"] = []abi.FunctionDefinition{{Prototype: abi.FunctionPrototype{Name: "f", Args: []typeid.ID{typeid.Primitive("i32")}}}}

	if _, err := h.GetFunction("f"); err == nil {
		t.Fatal("expected an ambiguity error with two loaded overloads")
	}
}

func TestReadWriteFieldRoundTripsPointerAndPrimitive(t *testing.T) {
	h := New(nil)
	i32 := registerPrimitive(h, "i32", 32)

	node := &abi.TypeInfo{
		Name: "Node", Kind: abi.KindStruct, Memory: abi.MemoryGC,
		Fields: []abi.FieldInfo{
			{Name: "value", Type: i32, Offset: 0},
			{Name: "next", Offset: 8},
		},
	}
	nextType := h.registry.PointerType(node, true, abi.Host)
	node.Fields[1].Type = nextType
	node.SizeBits = (8 + nextType.SizeBytes()) * 8

	a := h.Alloc(node)
	b := h.Alloc(node)

	if err := h.WriteField(a, "value", int32(7)); err != nil {
		t.Fatalf("WriteField value: %v", err)
	}
	if err := h.WriteField(a, "next", b); err != nil {
		t.Fatalf("WriteField next: %v", err)
	}

	v, err := h.ReadField(a, "value")
	if err != nil {
		t.Fatalf("ReadField value: %v", err)
	}
	if v.(int32) != 7 {
		t.Fatalf("value = %v, want 7", v)
	}

	next, err := h.ReadField(a, "next")
	if err != nil {
		t.Fatalf("ReadField next: %v", err)
	}
	if next.(heap.GcPtr) != b {
		t.Fatal("next field did not round-trip to the same GcPtr")
	}
}

func TestCollectFollowsPointerFieldsThroughTrace(t *testing.T) {
	h := New(nil)
	i32 := registerPrimitive(h, "i32", 32)

	node := &abi.TypeInfo{Name: "Node", Kind: abi.KindStruct, Memory: abi.MemoryGC,
		Fields: []abi.FieldInfo{{Name: "value", Type: i32, Offset: 0}, {Name: "next", Offset: 8}}}
	nextType := h.registry.PointerType(node, true, abi.Host)
	node.Fields[1].Type = nextType
	node.SizeBits = (8 + nextType.SizeBytes()) * 8

	rootObj := h.Alloc(node)
	reachable := h.Alloc(node)
	unreachable := h.Alloc(node)
	_ = unreachable

	h.Root(rootObj)
	if err := h.WriteField(rootObj, "next", reachable); err != nil {
		t.Fatalf("WriteField: %v", err)
	}

	h.Collect()

	stats := h.heap.Stats()
	if stats.AllocatedObjects != 2 {
		t.Fatalf("allocated objects after collect = %d, want 2 (root + reachable)", stats.AllocatedObjects)
	}
}
