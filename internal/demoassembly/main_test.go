package main

import (
	"testing"

	"github.com/emberlang/ember/internal/abi"
)

// This package builds as a Go plugin (`go build -buildmode=plugin`), so
// it cannot be loaded via plugin.Open from within its own test binary —
// these tests only check that the data this assembly reports about
// itself is internally consistent, the same sanity check the Assembly
// Loader would perform on a real load.

func TestAssemblyInfoShapeIsConsistent(t *testing.T) {
	info := buildAssemblyInfo()

	if info.Module.Path != "demoassembly" {
		t.Fatalf("module path = %q, want %q", info.Module.Path, "demoassembly")
	}
	if len(info.Module.DefinedTypes) != 1 || info.Module.DefinedTypes[0].Name != "Point" {
		t.Fatalf("defined types = %+v, want one Point", info.Module.DefinedTypes)
	}
	if err := pointType.Validate(8, 8); err != nil {
		t.Fatalf("pointType.Validate: %v", err)
	}

	if info.Dispatch.NumEntries() != len(info.Module.Functions) {
		t.Fatalf("dispatch table has %d entries, module defines %d functions", info.Dispatch.NumEntries(), len(info.Module.Functions))
	}
	if info.Lut.NumEntries() != 2 {
		t.Fatalf("type lut has %d entries, want 2", info.Lut.NumEntries())
	}
}

func TestAddF64(t *testing.T) {
	got, err := addF64([]any{1.5, 2.25})
	if err != nil {
		t.Fatalf("addF64: %v", err)
	}
	if got.(float64) != 3.75 {
		t.Fatalf("addF64(1.5, 2.25) = %v, want 3.75", got)
	}
}

func TestGetVersionMatchesABI(t *testing.T) {
	if got := GetVersion(); got != abi.Version {
		t.Fatalf("GetVersion() = %d, want abi.Version %d", got, abi.Version)
	}
}
