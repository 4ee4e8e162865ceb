package reload

import (
	"testing"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diff"
	"github.com/emberlang/ember/internal/dispatch"
	"github.com/emberlang/ember/internal/heap"
	"github.com/emberlang/ember/internal/loader"
	"github.com/emberlang/ember/internal/registry"
	"github.com/emberlang/ember/internal/typeid"
)

func noTrace(heap.GcPtr, *abi.TypeInfo) []heap.GcPtr { return nil }

func newController() *Controller {
	reg := registry.New()
	h := heap.New(noTrace)
	ld := loader.New(reg)
	db := dispatch.NewBuilder(nil)
	return New(reg, h, ld, db)
}

func TestBeginRejectsWrongState(t *testing.T) {
	c := newController()
	c.state = CandidateLoaded // simulate a cycle already in flight

	if err := c.Begin("whatever.so", nil); err == nil {
		t.Fatal("expected an error calling Begin outside idle")
	}
}

func TestDiffMigrateCommitHappyPath(t *testing.T) {
	c := newController()

	i32 := &abi.TypeInfo{ID: [32]byte{1}, Name: "i32", SizeBits: 32, Align: 4, Kind: abi.KindPrimitive}
	point := &abi.TypeInfo{
		ID: [32]byte{2}, Name: "Point", Kind: abi.KindStruct, SizeBits: 32,
		Fields: []abi.FieldInfo{{Name: "x", Type: i32, Offset: 0}},
	}

	c.candidatePath = "demo.so"
	c.candidate = &loader.LoadedAssembly{
		Path: "demo.so",
		Info: &abi.AssemblyInfo{
			Module: abi.ModuleInfo{
				Path:         "demo",
				DefinedTypes: []*abi.TypeInfo{point},
				Functions: []abi.FunctionDefinition{
					{Prototype: abi.FunctionPrototype{Name: "make_point"}, Fn: func([]any) (any, error) { return nil, nil }},
				},
			},
			Dispatch: abi.NewDispatchTable(nil),
		},
	}
	c.state = CandidateLoaded

	got, err := c.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(got) != 1 || got[0].Kind != diff.DiffInsert {
		t.Fatalf("got %+v, want a single Insert (first load of this module)", got)
	}
	if c.State() != Diffed {
		t.Fatalf("state = %s, want diffed", c.State())
	}

	if err := c.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if err := c.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state after commit = %s, want idle", c.State())
	}

	// Insert diffs don't register types themselves (the loader does that,
	// via resolveTypeLut, which this white-box test bypasses); committing
	// only needs to return to idle with the candidate's functions wired
	// into dispatch.
	if owner, ok := c.dispatch.Owner(abi.FunctionPrototype{Name: "make_point"}); !ok || owner != "demo" {
		t.Fatalf("dispatch owner = %q, %v, want demo, true", owner, ok)
	}
}

// TestCommitRejectsWhenReloadBreaksAnotherModulesCallSite covers spec §8
// scenario S4: module b.so's own DispatchTable resolved against a
// function a.so used to export; reloading a.so with a changed signature
// must re-resolve every other already-loaded assembly's table too, and
// reject the reload when one of them goes dangling, rather than leaving
// b.so silently pointed at nothing.
func TestCommitRejectsWhenReloadBreaksAnotherModulesCallSite(t *testing.T) {
	c := newController()

	i32 := typeid.ID{10}
	addOld := abi.FunctionPrototype{Name: "add", Args: []typeid.ID{i32, i32}, Return: &i32}
	addNew := abi.FunctionPrototype{Name: "add", Args: []typeid.ID{i32}, Return: &i32}

	aModule := abi.ModuleInfo{
		Path:      "a",
		Functions: []abi.FunctionDefinition{{Prototype: addOld, Fn: func([]any) (any, error) { return nil, nil }}},
	}
	if err := c.dispatch.AddModule(aModule); err != nil {
		t.Fatalf("seed AddModule(a): %v", err)
	}

	bTable := abi.NewDispatchTable([]abi.FunctionPrototype{addOld})
	if err := c.dispatch.Resolve("b.so", bTable); err != nil {
		t.Fatalf("seed Resolve(b.so): %v", err)
	}
	c.modules["a.so"] = &loadedModule{path: "a.so", info: &abi.AssemblyInfo{Module: aModule}}
	c.modules["b.so"] = &loadedModule{path: "b.so", info: &abi.AssemblyInfo{Module: abi.ModuleInfo{Path: "b"}, Dispatch: bTable}}

	c.candidatePath = "a.so"
	c.candidate = &loader.LoadedAssembly{
		Path: "a.so",
		Info: &abi.AssemblyInfo{
			Module: abi.ModuleInfo{
				Path:      "a",
				Functions: []abi.FunctionDefinition{{Prototype: addNew, Fn: func([]any) (any, error) { return nil, nil }}},
			},
			Dispatch: abi.NewDispatchTable(nil),
		},
	}
	c.state = Migrating

	err := c.Commit()
	if err == nil {
		t.Fatal("expected Commit to reject a reload that breaks b.so's call site")
	}
	if c.State() != Rejected {
		t.Fatalf("state = %s, want rejected", c.State())
	}
	if c.LastRejectReason() == nil {
		t.Fatal("LastRejectReason is nil after a rejection")
	}
}

func TestMigrateRejectsConvertType(t *testing.T) {
	c := newController()

	oldI32 := &abi.TypeInfo{ID: [32]byte{1}, Name: "i32", SizeBits: 32, Align: 4, Kind: abi.KindPrimitive}
	newF32 := &abi.TypeInfo{ID: [32]byte{3}, Name: "f32", SizeBits: 32, Align: 4, Kind: abi.KindPrimitive}
	oldPoint := &abi.TypeInfo{ID: [32]byte{2}, Name: "Point", Kind: abi.KindStruct, SizeBits: 32,
		Fields: []abi.FieldInfo{{Name: "x", Type: oldI32, Offset: 0}}}
	newPoint := &abi.TypeInfo{ID: [32]byte{4}, Name: "Point", Kind: abi.KindStruct, SizeBits: 32,
		Fields: []abi.FieldInfo{{Name: "x", Type: newF32, Offset: 0}}}

	c.modules["demo.so"] = &loadedModule{path: "demo.so", types: []*abi.TypeInfo{oldPoint}}
	c.heap.Alloc(oldPoint)

	c.candidatePath = "demo.so"
	c.candidate = &loader.LoadedAssembly{
		Path: "demo.so",
		Info: &abi.AssemblyInfo{
			Module:   abi.ModuleInfo{Path: "demo", DefinedTypes: []*abi.TypeInfo{newPoint}},
			Dispatch: abi.NewDispatchTable(nil),
		},
	}
	c.state = CandidateLoaded

	if _, err := c.Diff(); err != nil {
		t.Fatalf("Diff: %v", err)
	}
	err := c.Migrate()
	if err == nil {
		t.Fatal("expected Migrate to reject the type-converting edit")
	}
	if c.State() != Rejected {
		t.Fatalf("state = %s, want rejected", c.State())
	}
	if c.LastRejectReason() == nil {
		t.Fatal("LastRejectReason is nil after a rejection")
	}
}
