// Package diag provides the chainable diagnostic values the rest of the
// runtime uses to report fatal and recoverable errors. Every diagnostic
// names the module it concerns and, where applicable, the offending
// identifier (a type id, a function prototype, a field name) so a host
// embedding the runtime can surface something actionable instead of a bare
// error string.
package diag

import (
	"errors"
	"fmt"
)

// Kind classifies a Diagnostic along the error taxonomy of the reload and
// load protocols. Hosts can switch on Kind without parsing messages.
type Kind int

const (
	// KindUnknown is the zero value; never produced by this package.
	KindUnknown Kind = iota
	// KindABIMismatch: an assembly's ABI version does not match the runtime's.
	KindABIMismatch
	// KindUnresolvedType: a TypeLut entry could not be resolved to a TypeInfo.
	KindUnresolvedType
	// KindUnresolvedFunction: a dispatch table prototype has no matching export.
	KindUnresolvedFunction
	// KindDuplicateDefinition: two assemblies define the same function prototype.
	KindDuplicateDefinition
	// KindCyclicType: a non-pointer field cycle was found among struct types.
	KindCyclicType
	// KindMigrationRejected: the schema differ or memory mapper rejected a reload.
	KindMigrationRejected
	// KindHostMisuse: a host call violated the embedding API contract.
	KindHostMisuse
	// KindInternal: an invariant the runtime relies on was violated.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindABIMismatch:
		return "abi mismatch"
	case KindUnresolvedType:
		return "unresolved type"
	case KindUnresolvedFunction:
		return "unresolved function"
	case KindDuplicateDefinition:
		return "duplicate definition"
	case KindCyclicType:
		return "cyclic type dependency"
	case KindMigrationRejected:
		return "migration rejected"
	case KindHostMisuse:
		return "host api misuse"
	case KindInternal:
		return "internal invariant violation"
	default:
		return "unknown"
	}
}

// Diagnostic is the error type produced by every fatal or recoverable path
// described in spec §7. Module and Ident are opaque to callers that only
// want a message, but let a host build structured tooling (e.g. pointing an
// editor at the offending module).
type Diagnostic struct {
	Kind   Kind
	Module string // offending module path, "" if not module-specific
	Ident  string // offending identifier: type id, prototype, field name
	Msg    string
	Cause  error
}

func (d *Diagnostic) Error() string {
	msg := fmt.Sprintf("%s: %s", d.Kind, d.Msg)
	if d.Module != "" {
		msg = fmt.Sprintf("%s (module %q)", msg, d.Module)
	}
	if d.Ident != "" {
		msg = fmt.Sprintf("%s [%s]", msg, d.Ident)
	}
	if d.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, d.Cause)
	}
	return msg
}

func (d *Diagnostic) Unwrap() error { return d.Cause }

// New builds a Diagnostic with no module/ident context.
func New(kind Kind, msg string) *Diagnostic {
	return &Diagnostic{Kind: kind, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WithModule returns a copy of d naming the offending module.
func (d *Diagnostic) WithModule(module string) *Diagnostic {
	cp := *d
	cp.Module = module
	return &cp
}

// WithIdent returns a copy of d naming the offending identifier.
func (d *Diagnostic) WithIdent(ident string) *Diagnostic {
	cp := *d
	cp.Ident = ident
	return &cp
}

// Wrap returns a copy of d with cause attached, matching the %w chains used
// throughout the runtime (mirrors fmt.Errorf("...: %w", err) usage).
func (d *Diagnostic) Wrap(cause error) *Diagnostic {
	cp := *d
	cp.Cause = cause
	return &cp
}

// Is lets errors.Is match on Kind alone, so callers can do
// errors.Is(err, diag.New(diag.KindABIMismatch, "")) without caring about
// the message.
func (d *Diagnostic) Is(target error) bool {
	other, ok := target.(*Diagnostic)
	if !ok {
		return false
	}
	return other.Kind == d.Kind
}

// As supports errors.As into *Diagnostic.
func As(err error, kind Kind) (*Diagnostic, bool) {
	var d *Diagnostic
	if !errors.As(err, &d) {
		return nil, false
	}
	if kind != KindUnknown && d.Kind != kind {
		return nil, false
	}
	return d, true
}
