// Package loader implements the Assembly Loader (spec §4.2, §4.3): given
// a compiled assembly, open it, validate its ABI version, resolve its
// TypeLut against the Type Registry, and hand back its AssemblyInfo ready
// for the Dispatch Builder.
//
// Grounded on Go's stdlib plugin package as the in-process, shared
// address-space, dlopen-based loading mechanism that satisfies spec §6's
// "same address space as the runtime" requirement (see DESIGN.md for why
// this, rather than an RPC-style plugin system, is the right fit), and on
// github.com/edsrzf/mmap-go for reading a ".embmeta" manifest sidecar
// without dlopen, the way saferwall/pe reads a PE's headers straight out
// of mapped memory before anyone executes the image.
package loader

import (
	"fmt"
	"os"
	"plugin"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diag"
	"github.com/emberlang/ember/internal/registry"
)

// GetInfoFunc, GetVersionFunc and SetAllocatorHandleFunc are the Go
// function types every compiled assembly's plugin image must export
// under the symbol names abi.SymbolGetInfo, abi.SymbolGetVersion and
// abi.SymbolSetAllocatorHandle (spec §6). Go's plugin package exports
// named values, not C symbols, so these stand in for what a native ABI
// would call an exported function with that same name and signature.
// They are type aliases, so a plugin's plain exported function matches
// lookup's type assertion.
type (
	GetInfoFunc            = func() *abi.AssemblyInfo
	GetVersionFunc         = func() uint32
	SetAllocatorHandleFunc = func(AllocatorHandle)
)

// AllocatorHandle is the opaque token passed to an assembly's
// set_allocator_handle export so its generated code can call back into
// the runtime's heap (spec §4.2 "assemblies never allocate their own
// GC-kind objects directly; they ask the runtime"). internal/host defines
// what the handle actually does; this package only threads it through.
type AllocatorHandle = any

// LoadedAssembly is a successfully opened, ABI-checked, TypeLut-resolved
// assembly, ready to be merged into the Dispatch Builder.
type LoadedAssembly struct {
	Path string
	Info *abi.AssemblyInfo
}

// Loader opens plugin images and resolves them against a shared Type
// Registry.
type Loader struct {
	registry *registry.Registry
}

// New creates a Loader resolving types against reg.
func New(reg *registry.Registry) *Loader {
	return &Loader{registry: reg}
}

// Load opens the plugin at path, validates its ABI version, and resolves
// its TypeLut against the registry. handle is passed to the assembly's
// set_allocator_handle export so its own generated code (or, here, its
// NativeFunc closures standing in for generated code) can allocate
// through the runtime.
func (l *Loader) Load(path string, handle AllocatorHandle) (*LoadedAssembly, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, diag.New(diag.KindInternal, "failed to open assembly").WithModule(path).Wrap(err)
	}

	version, err := lookup[GetVersionFunc](p, abi.SymbolGetVersion)
	if err != nil {
		return nil, diag.New(diag.KindInternal, err.Error()).WithModule(path)
	}
	if v := (*version)(); v != abi.Version {
		return nil, diag.Newf(diag.KindABIMismatch, "assembly ABI version %d, runtime supports %d", v, abi.Version).WithModule(path)
	}

	getInfo, err := lookup[GetInfoFunc](p, abi.SymbolGetInfo)
	if err != nil {
		return nil, diag.New(diag.KindInternal, err.Error()).WithModule(path)
	}
	info := (*getInfo)()

	setAllocator, err := lookup[SetAllocatorHandleFunc](p, abi.SymbolSetAllocatorHandle)
	if err != nil {
		return nil, diag.New(diag.KindInternal, err.Error()).WithModule(path)
	}
	(*setAllocator)(handle)

	if err := l.resolveTypeLut(info.Module.Path, info.Module.DefinedTypes, info.Lut); err != nil {
		return nil, err
	}

	return &LoadedAssembly{Path: path, Info: info}, nil
}

// resolveTypeLut installs definedTypes (the module's own ModuleInfo.
// DefinedTypes) into the registry via InsertOrGet, then resolves every
// entry of lut against it. Installing first means a module's references
// to its own freshly-defined types resolve correctly; entries lut names
// that are neither among definedTypes nor already known to the registry
// from a previously loaded assembly are a fatal unresolved-type error
// (spec §4.3 step 4).
func (l *Loader) resolveTypeLut(modulePath string, definedTypes []*abi.TypeInfo, lut *abi.TypeLut) error {
	for _, t := range definedTypes {
		defined := t
		if _, err := l.registry.InsertOrGet(defined.ID, func(*registry.Registry) (*abi.TypeInfo, error) {
			return defined, nil
		}); err != nil {
			return diag.New(diag.KindInternal, err.Error()).WithModule(modulePath)
		}
	}

	for i, id := range lut.TypeIDs() {
		t, ok := l.registry.Find(id)
		if !ok {
			return diag.Newf(diag.KindUnresolvedType, "type %s (%s) is not defined by this module or any dependency", id, lut.NameAt(i)).WithModule(modulePath)
		}
		if err := lut.SetHandle(i, t); err != nil {
			return diag.New(diag.KindInternal, err.Error()).WithModule(modulePath)
		}
	}
	return nil
}

// lookup fetches and type-asserts a plugin symbol, wrapping the
// assertion failure with the symbol name for a readable diagnostic.
func lookup[F any](p *plugin.Plugin, symbol string) (*F, error) {
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol %q: %w", symbol, err)
	}
	fn, ok := sym.(F)
	if !ok {
		return nil, fmt.Errorf("symbol %q has unexpected type %T", symbol, sym)
	}
	return &fn, nil
}

// ReadManifest memory-maps path and decodes it as a ".embmeta" manifest,
// without dlopen'ing anything, so an assembly's shape can be inspected
// cheaply. Neither Loader.Load, the Reload Controller nor any emberctl
// command calls it.
func ReadManifest(path string) (*abi.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()

	mapped, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("manifest: mmap %s: %w", path, err)
	}
	defer mapped.Unmap()

	m, err := abi.DecodeManifest(mapped)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}
