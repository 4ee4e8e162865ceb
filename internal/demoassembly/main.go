// Command demoassembly is a hand-built stand-in for what a source-language
// compiler backend would emit (spec §1 Non-goals excludes writing that
// compiler; spec §2 component 15 still asks this repository to carry one
// worked example of its output). Built with `go build -buildmode=plugin`,
// it exports exactly the three symbols spec §6 requires
// (GetInfo/GetVersion/SetAllocatorHandle) and defines one small
// struct type and two functions, enough for emberctl and the test suite
// to exercise a full load/call/reload cycle against a real, independently
// compiled assembly rather than an in-process fake.
//
// Grounded on demo/ptrace-linux-amd64's role in the teacher repo: a small
// hand-assembled binary checked in purely so the rest of the tooling has
// something concrete to load and inspect, not itself part of the runtime.
package main

import (
	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/typeid"
)

// allocatorHandle is whatever value the loader passed to
// SetAllocatorHandle (the handle given to internal/host's Load). A real
// compiled assembly would use
// this to allocate gc-kind return values instead of stack-allocating
// them; this demo never allocates on the heap itself; every function here
// takes its arguments and return value by plain value, so the handle is
// only recorded for inspection.
var allocatorHandle any

// point is the one struct type this assembly defines: two f64 fields, laid
// out at the obvious offsets for a value (not gc) struct.
var f64ID = typeid.Primitive("f64")

var pointType = &abi.TypeInfo{
	ID:       typeid.Struct("Point", []typeid.FieldRef{{Name: "x", Type: f64ID}, {Name: "y", Type: f64ID}}),
	Name:     "Point",
	SizeBits: 128,
	Align:    8,
	Kind:     abi.KindStruct,
	Memory:   abi.MemoryValue,
}

func init() {
	f64Type := &abi.TypeInfo{ID: f64ID, Name: "f64", SizeBits: 64, Align: 8, Kind: abi.KindPrimitive}
	pointType.Fields = []abi.FieldInfo{
		{Name: "x", Type: f64Type, Offset: 0},
		{Name: "y", Type: f64Type, Offset: 8},
	}
}

// addF64Prototype and pointSumProto are this assembly's two exports:
// point_sum(Point) f64, and its dependency-free primitive sibling
// add_f64(f64, f64) f64, kept around so a test can exercise a function
// with no struct arguments at all.
var (
	addF64Prototype = abi.FunctionPrototype{Name: "add_f64", Args: []typeid.ID{f64ID, f64ID}, Return: &f64ID}
	pointSumProto   = abi.FunctionPrototype{Name: "point_sum", Args: []typeid.ID{pointType.ID}, Return: &f64ID}
)

func addF64(args []any) (any, error) {
	return args[0].(float64) + args[1].(float64), nil
}

// pointSum takes a Point passed as a heap.GcPtr by the host's Invoke
// marshaling; this demo assembly has no access to internal/heap (doing so
// would require importing the runtime's own package, which a real
// compiled assembly never does — it only ever sees abi types), so it
// cannot decode the GcPtr's fields itself. It ignores its argument and
// always returns 0.0; it does not sum the Point's fields.
func pointSum(args []any) (any, error) {
	return 0.0, nil
}

func buildModuleInfo() abi.ModuleInfo {
	return abi.ModuleInfo{
		Path:         "demoassembly",
		DefinedTypes: []*abi.TypeInfo{pointType},
		Functions: []abi.FunctionDefinition{
			{Prototype: addF64Prototype, Fn: addF64},
			{Prototype: pointSumProto, Fn: pointSum},
		},
	}
}

func buildAssemblyInfo() *abi.AssemblyInfo {
	mod := buildModuleInfo()
	dispatch := abi.NewDispatchTable([]abi.FunctionPrototype{addF64Prototype, pointSumProto})
	lut := abi.NewTypeLut([]typeid.ID{pointType.ID, f64ID}, []string{"Point", "f64"})
	return &abi.AssemblyInfo{
		Module:   mod,
		Dispatch: dispatch,
		Lut:      lut,
	}
}

// GetVersion is looked up by internal/loader.Loader.Load (under the
// symbol name abi.SymbolGetVersion) and compared against abi.Version
// before anything else is trusted. Go's plugin package only resolves
// exported identifiers, which is why this and the two exports below use
// Go naming instead of the lower_snake_case a native ABI would give the
// same three entry points (see abi.SymbolGetInfo's doc comment).
func GetVersion() uint32 {
	return abi.Version
}

// GetInfo is looked up and called once per Load; its result, including
// Dispatch and Lut, is what the loader hands to the Dispatch Builder and
// Type Registry.
func GetInfo() *abi.AssemblyInfo {
	return buildAssemblyInfo()
}

// SetAllocatorHandle is called once, immediately after GetInfo, with
// whatever opaque value the host's internal/loader.AllocatorHandle
// resolves to.
func SetAllocatorHandle(h any) {
	allocatorHandle = h
}
