package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/registry"
	"github.com/emberlang/ember/internal/typeid"
)

func TestReadManifestRoundTrip(t *testing.T) {
	id := typeid.Primitive("i32")
	m := &abi.Manifest{
		ABIVersion: abi.Version,
		ModulePath: "demo",
		Lut:        []abi.ManifestLutEntry{{ID: id, Name: "i32"}},
	}
	encoded := m.Encode()

	dir := t.TempDir()
	path := filepath.Join(dir, "demo.embmeta")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	decoded, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if decoded.ModulePath != "demo" {
		t.Errorf("module path = %q, want %q", decoded.ModulePath, "demo")
	}
	if len(decoded.Lut) != 1 || decoded.Lut[0].Name != "i32" {
		t.Fatalf("lut = %+v, want one i32 entry", decoded.Lut)
	}
}

func TestResolveTypeLutSucceedsWhenRegistryKnowsEveryType(t *testing.T) {
	reg := registry.New()
	id := typeid.Primitive("i32")
	reg.InsertOrGet(id, func(*registry.Registry) (*abi.TypeInfo, error) {
		return &abi.TypeInfo{ID: id, Name: "i32", SizeBits: 32, Align: 4, Kind: abi.KindPrimitive}, nil
	})

	l := New(reg)
	lut := abi.NewTypeLut([]typeid.ID{id}, []string{"i32"})
	if err := l.resolveTypeLut("consumer", nil, lut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lut.Handle(0) == nil {
		t.Fatal("type lut entry was not resolved")
	}
}

func TestResolveTypeLutFailsOnUnknownType(t *testing.T) {
	reg := registry.New()
	l := New(reg)
	lut := abi.NewTypeLut([]typeid.ID{typeid.Primitive("mystery")}, []string{"mystery"})
	if err := l.resolveTypeLut("consumer", nil, lut); err == nil {
		t.Fatal("expected an error for an unresolvable type")
	}
}

func TestResolveTypeLutInstallsModuleOwnFreshlyDefinedTypes(t *testing.T) {
	reg := registry.New()
	l := New(reg)

	id := typeid.Primitive("f64")
	defined := &abi.TypeInfo{ID: id, Name: "f64", SizeBits: 64, Align: 8, Kind: abi.KindPrimitive}
	lut := abi.NewTypeLut([]typeid.ID{id}, []string{"f64"})

	if _, ok := reg.Find(id); ok {
		t.Fatal("precondition: registry must not already know this type")
	}
	if err := l.resolveTypeLut("producer", []*abi.TypeInfo{defined}, lut); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lut.Handle(0) != defined {
		t.Fatalf("lut entry resolved to %+v, want the module's own defined type", lut.Handle(0))
	}
	if _, ok := reg.Find(id); !ok {
		t.Fatal("module-defined type was not installed into the registry")
	}
}
