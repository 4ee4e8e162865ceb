package abi

import (
	"strings"

	"github.com/emberlang/ember/internal/typeid"
)

// FunctionPrototype identifies a function by structural equality of name,
// argument type ids, and return type id (spec §3, §4.2). Name alone does
// not identify a function: two functions named "add" with different
// signatures are distinct prototypes and may dispatch to different code.
type FunctionPrototype struct {
	Name   string
	Args   []typeid.ID
	Return *typeid.ID // nil means the function returns nothing
}

// Key returns a value usable as a map key for prototype lookups (the
// Dispatch Builder's prototype -> code-pointer map keys on exactly this).
// Go slices aren't comparable, so FunctionPrototype itself can't be a map
// key; Key flattens it into a string built from the content that defines
// identity.
func (p FunctionPrototype) Key() string {
	var b strings.Builder
	b.WriteString(p.Name)
	b.WriteByte('(')
	for i, a := range p.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	if p.Return != nil {
		b.WriteByte(':')
		b.WriteString(p.Return.String())
	}
	return b.String()
}

// Equal reports structural equality of two prototypes.
func (p FunctionPrototype) Equal(o FunctionPrototype) bool {
	return p.Key() == o.Key()
}

func (p FunctionPrototype) String() string {
	return p.Name + p.Key()[len(p.Name):]
}

// NativeFunc is the runtime's stand-in for a compiled function's native
// code pointer. The real assembly ABI (spec§4.2) points at machine code;
// since source-language code generation is explicitly out of scope here
// (spec §1), a loaded assembly instead supplies one NativeFunc closure per
// exported function, and the dispatch table stores these closures in
// place of raw addresses. Everything downstream — prototype resolution,
// dispatch table construction, reload rewiring — behaves identically
// either way, because it only ever touches the table, never the pointer
// representation.
type NativeFunc func(args []any) (any, error)

// FunctionDefinition is one function an assembly exports: its prototype
// plus the native code to run.
type FunctionDefinition struct {
	Prototype FunctionPrototype
	Fn        NativeFunc
}
