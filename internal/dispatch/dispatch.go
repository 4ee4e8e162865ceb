// Package dispatch implements the Dispatch Builder (spec §4.2, §4.3): it
// builds the single global map from function prototype to native code
// pointer across every loaded assembly plus the runtime's own injected
// intrinsics, then resolves each assembly's DispatchTable against that
// map. A duplicate definition of the same prototype, or a prototype no
// loaded assembly (or intrinsic) defines, is a fatal load error.
//
// Grounded on mun_abi::DispatchTable's role in
// original_source/crates/mun_abi/src/dispatch_table.rs (a
// structure-of-arrays table resolved once at link time) and, for the
// all-modules-in-one-global-map shape, on
// original_source/crates/mun_codegen/src/linker.rs (which resolves
// symbols across every object being linked before producing one binary).
package dispatch

import (
	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diag"
)

// Intrinsic is a runtime-provided function available to every assembly
// without it appearing in any assembly's own ModuleInfo.Functions — the
// equivalent of libc symbols a linker resolves against even though no
// object file in the link defines them.
type Intrinsic struct {
	Prototype abi.FunctionPrototype
	Fn        abi.NativeFunc
}

// Builder accumulates function definitions from every loaded assembly
// plus injected intrinsics, then resolves DispatchTables against the
// combined set.
type Builder struct {
	byKey map[string]abi.NativeFunc
	owner map[string]string // prototype key -> defining module path, for duplicate diagnostics
}

// NewBuilder creates a Builder seeded with the given intrinsics.
func NewBuilder(intrinsics []Intrinsic) *Builder {
	b := &Builder{
		byKey: make(map[string]abi.NativeFunc),
		owner: make(map[string]string),
	}
	for _, in := range intrinsics {
		b.byKey[in.Prototype.Key()] = in.Fn
		b.owner[in.Prototype.Key()] = "<intrinsic>"
	}
	return b
}

// AddModule registers every function mod defines into the builder's
// global map. It is a fatal error (spec §4.3 "two assemblies exporting
// the same function prototype") for two modules, or a module and an
// intrinsic, to define the same prototype.
func (b *Builder) AddModule(mod abi.ModuleInfo) error {
	for _, fn := range mod.Functions {
		key := fn.Prototype.Key()
		if existing, ok := b.owner[key]; ok {
			return diag.Newf(diag.KindDuplicateDefinition,
				"function %s already defined by %s", fn.Prototype, existing).WithModule(mod.Path)
		}
		b.byKey[key] = fn.Fn
		b.owner[key] = mod.Path
	}
	return nil
}

// Resolve fills in every entry of table by looking up its prototype in
// the builder's global map. Any prototype no module or intrinsic defines
// is a fatal error (spec §4.3 "unresolved dispatch entry").
func (b *Builder) Resolve(modulePath string, table *abi.DispatchTable) error {
	for i, proto := range table.Prototypes() {
		fn, ok := b.byKey[proto.Key()]
		if !ok {
			return diag.Newf(diag.KindUnresolvedFunction, "no definition found for %s", proto).WithModule(modulePath)
		}
		if err := table.Set(i, fn); err != nil {
			return diag.New(diag.KindInternal, err.Error()).WithModule(modulePath)
		}
	}
	return nil
}

// Lookup returns the resolved code pointer for proto, if any module or
// intrinsic defines it. Used by internal/host to call a function by
// prototype directly, without going through a specific assembly's table.
func (b *Builder) Lookup(proto abi.FunctionPrototype) (abi.NativeFunc, bool) {
	fn, ok := b.byKey[proto.Key()]
	return fn, ok
}

// Owner returns which module (or "<intrinsic>") defines proto, for
// diagnostics; ok is false if nothing defines it yet.
func (b *Builder) Owner(proto abi.FunctionPrototype) (string, bool) {
	owner, ok := b.owner[proto.Key()]
	return owner, ok
}

// RemoveModule evicts every prototype owned by modulePath, used by the
// Reload Controller when replacing or unloading an assembly (spec §4.8).
// It does not touch DispatchTables already resolved against the removed
// entries; the caller is responsible for rebuilding and re-resolving
// every still-loaded assembly's table afterward, since removing one
// module can turn previously-resolved prototypes in other modules'
// tables into dangling entries. The Reload Controller's Commit
// re-resolves every other committed assembly's table after a
// replacement.
func (b *Builder) RemoveModule(modulePath string) {
	for key, owner := range b.owner {
		if owner == modulePath {
			delete(b.owner, key)
			delete(b.byKey, key)
		}
	}
}
