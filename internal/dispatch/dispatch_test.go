package dispatch

import (
	"testing"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diag"
	"github.com/emberlang/ember/internal/typeid"
)

func proto(name string) abi.FunctionPrototype {
	return abi.FunctionPrototype{Name: name}
}

func TestResolveFillsInMatchingPrototypes(t *testing.T) {
	b := NewBuilder(nil)
	called := false
	mod := abi.ModuleInfo{
		Path: "core",
		Functions: []abi.FunctionDefinition{
			{Prototype: proto("add"), Fn: func([]any) (any, error) { called = true; return nil, nil }},
		},
	}
	if err := b.AddModule(mod); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	table := abi.NewDispatchTable([]abi.FunctionPrototype{proto("add")})
	if err := b.Resolve("consumer", table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fn, ok := table.Get(0)
	if !ok {
		t.Fatal("dispatch entry not resolved")
	}
	fn(nil)
	if !called {
		t.Fatal("resolved function pointer did not call through to the original")
	}
}

func TestResolveUnresolvedIsFatal(t *testing.T) {
	b := NewBuilder(nil)
	table := abi.NewDispatchTable([]abi.FunctionPrototype{proto("missing")})
	err := b.Resolve("consumer", table)
	if err == nil {
		t.Fatal("expected an error for an unresolved prototype")
	}
	d, ok := diag.As(err, diag.KindUnresolvedFunction)
	if !ok {
		t.Fatalf("got %v, want a KindUnresolvedFunction diagnostic", err)
	}
	if d.Module != "consumer" {
		t.Errorf("module = %q, want %q", d.Module, "consumer")
	}
}

func TestAddModuleDuplicateIsFatal(t *testing.T) {
	b := NewBuilder(nil)
	fn := abi.FunctionDefinition{Prototype: proto("add"), Fn: func([]any) (any, error) { return nil, nil }}
	if err := b.AddModule(abi.ModuleInfo{Path: "a", Functions: []abi.FunctionDefinition{fn}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := b.AddModule(abi.ModuleInfo{Path: "b", Functions: []abi.FunctionDefinition{fn}})
	if err == nil {
		t.Fatal("expected an error for a duplicate prototype")
	}
	if _, ok := diag.As(err, diag.KindDuplicateDefinition); !ok {
		t.Fatalf("got %v, want a KindDuplicateDefinition diagnostic", err)
	}
}

func TestIntrinsicsAreAvailableWithoutAModule(t *testing.T) {
	retID := typeid.Primitive("i32")
	intrinsic := Intrinsic{
		Prototype: abi.FunctionPrototype{Name: "gc_alloc", Return: &retID},
		Fn:        func([]any) (any, error) { return nil, nil },
	}
	b := NewBuilder([]Intrinsic{intrinsic})

	table := abi.NewDispatchTable([]abi.FunctionPrototype{intrinsic.Prototype})
	if err := b.Resolve("consumer", table); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	owner, ok := b.Owner(intrinsic.Prototype)
	if !ok || owner != "<intrinsic>" {
		t.Fatalf("owner = %q, %v, want <intrinsic>, true", owner, ok)
	}
}

func TestRemoveModuleEvictsItsPrototypes(t *testing.T) {
	b := NewBuilder(nil)
	fn := abi.FunctionDefinition{Prototype: proto("add"), Fn: func([]any) (any, error) { return nil, nil }}
	b.AddModule(abi.ModuleInfo{Path: "a", Functions: []abi.FunctionDefinition{fn}})

	b.RemoveModule("a")

	if _, ok := b.Lookup(proto("add")); ok {
		t.Fatal("prototype still resolvable after its owning module was removed")
	}
}
