// Package reload implements the Reload Controller (spec §4.8): the state
// machine that takes a candidate replacement for an already-loaded
// assembly through diffing, migration, and either commit or rejection,
// while holding the process-wide lock spec §5 requires for any mutation.
//
// Grounded on original_source/crates/mun_runtime/src/lib.rs's
// MunRuntime::update/Assembly::swap (detect a changed library, reload it,
// swap the function table, report whether anything changed), generalized
// from Mun's implicit two-step "swap or keep the old one" into the
// formal Idle -> CandidateLoaded -> Diffed -> Migrating -> Committed
// state machine spec §4.8 names explicitly, with Rejected reachable from
// every pre-commit state.
package reload

import (
	"sync"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/diag"
	"github.com/emberlang/ember/internal/diff"
	"github.com/emberlang/ember/internal/dispatch"
	"github.com/emberlang/ember/internal/heap"
	"github.com/emberlang/ember/internal/loader"
	"github.com/emberlang/ember/internal/migrate"
	"github.com/emberlang/ember/internal/registry"
)

// State is one of the Reload Controller's states (spec §4.8).
type State int

const (
	Idle State = iota
	CandidateLoaded
	Diffed
	Migrating
	Committed
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CandidateLoaded:
		return "candidate-loaded"
	case Diffed:
		return "diffed"
	case Migrating:
		return "migrating"
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// loadedModule is what the controller tracks per currently-committed
// assembly: its path (the map key into Mun's own `assemblies`
// HashMap<PathBuf, Assembly>) and the type list its current generation
// defines, needed as the "old" side of the next diff.
type loadedModule struct {
	path  string
	types []*abi.TypeInfo
	info  *abi.AssemblyInfo
}

// Controller drives one assembly's reload cycle at a time. The zero
// value is not ready to use; call New.
type Controller struct {
	mu sync.Mutex

	registry *registry.Registry
	heap     *heap.Heap
	loader   *loader.Loader
	dispatch *dispatch.Builder

	state State

	// modules holds the committed generation's bookkeeping, keyed by
	// assembly path; a path has no entry until its first successful Commit.
	modules map[string]*loadedModule

	// in-flight candidate state, valid only between Begin and
	// Commit/Reject.
	candidatePath string
	candidate     *loader.LoadedAssembly
	candidateDiff []diff.Diff
	rejectReason  error
}

// New creates a Controller sharing reg, h, ld and db with the rest of the
// runtime; all four must be the same instances the host uses for every
// other operation, since a reload mutates them in place.
func New(reg *registry.Registry, h *heap.Heap, ld *loader.Loader, db *dispatch.Builder) *Controller {
	return &Controller{
		registry: reg,
		heap:     h,
		loader:   ld,
		dispatch: db,
		state:    Idle,
		modules:  make(map[string]*loadedModule),
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Begin loads path as a candidate replacement (or first load, if path
// was never loaded before) and transitions Idle (or Rejected, after a
// failed cycle) -> CandidateLoaded. It is an error to call Begin while a
// previous cycle hasn't reached Committed or Rejected.
func (c *Controller) Begin(path string, allocatorHandle loader.AllocatorHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle && c.state != Rejected {
		return diag.Newf(diag.KindHostMisuse, "Begin called in state %s, want idle or rejected", c.state)
	}

	candidate, err := c.loader.Load(path, allocatorHandle)
	if err != nil {
		return err // loader errors are already *diag.Diagnostic
	}

	c.candidatePath = path
	c.candidate = candidate
	c.state = CandidateLoaded
	return nil
}

// Diff computes the schema diff between the candidate's defined types and
// the previously-committed generation's (an empty old list, for a
// brand-new path), and transitions CandidateLoaded -> Diffed.
func (c *Controller) Diff() ([]diff.Diff, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CandidateLoaded {
		return nil, diag.Newf(diag.KindHostMisuse, "Diff called in state %s, want candidate-loaded", c.state)
	}

	var oldTypes []*abi.TypeInfo
	if existing, ok := c.modules[c.candidatePath]; ok {
		oldTypes = existing.types
	}
	newTypes := c.candidate.Info.Module.DefinedTypes

	c.candidateDiff = diff.Types(oldTypes, newTypes)
	c.state = Diffed
	return c.candidateDiff, nil
}

// Migrate applies the computed diff to every live heap object of an
// affected type and transitions Diffed -> Migrating. On any migration
// error (most commonly a rejected type conversion, spec §4.7) the
// controller transitions to Rejected instead and returns the error.
// migrate.Apply computes every edited type's field mapping before it
// rewrites any object, so a migration rejected this way leaves the heap
// as it was.
func (c *Controller) Migrate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Diffed {
		return diag.Newf(diag.KindHostMisuse, "Migrate called in state %s, want diffed", c.state)
	}
	c.state = Migrating

	var oldTypes []*abi.TypeInfo
	if existing, ok := c.modules[c.candidatePath]; ok {
		oldTypes = existing.types
	}
	newTypes := c.candidate.Info.Module.DefinedTypes

	if err := migrate.Apply(c.heap, oldTypes, newTypes, c.candidateDiff); err != nil {
		c.rejectReason = err
		c.state = Rejected
		return err
	}
	return nil
}

// Commit finalizes the candidate: its functions are merged into the
// Dispatch Builder, its DispatchTable is resolved, its defined types
// replace the previous generation's in the controller's bookkeeping, and
// types the diff deleted are dropped from the registry. Transitions
// Migrating -> Committed -> Idle. Both transitions happen while c.mu is
// held, so State() never reports Committed; Mun's own update() has no
// observable midpoint either, since a single Rust function call returns
// only after every step succeeds or fails.
func (c *Controller) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Migrating {
		return diag.Newf(diag.KindHostMisuse, "Commit called in state %s, want migrating", c.state)
	}

	if existing, ok := c.modules[c.candidatePath]; ok && existing.info != nil {
		c.dispatch.RemoveModule(existing.info.Module.Path)
	}
	if err := c.dispatch.AddModule(c.candidate.Info.Module); err != nil {
		c.rejectReason = err
		c.state = Rejected
		return err
	}
	if err := c.dispatch.Resolve(c.candidatePath, c.candidate.Info.Dispatch); err != nil {
		c.rejectReason = err
		c.state = Rejected
		return err
	}

	// The candidate's functions have just replaced the previous generation's
	// in the Dispatch Builder's global map (RemoveModule above, AddModule
	// before that), which can turn a prototype some *other* already-loaded
	// assembly's own DispatchTable depends on into a dangling entry — a
	// signature change in one module breaking another module's call site
	// (spec §4.7 step 3, §4.8 step 3, §8 scenario S4). Re-resolving every
	// other committed assembly's table here is what turns that into a
	// rejected reload instead of a silently stale table.
	for path, m := range c.modules {
		if path == c.candidatePath {
			continue
		}
		if err := c.dispatch.Resolve(path, m.info.Dispatch); err != nil {
			c.rejectReason = err
			c.state = Rejected
			return err
		}
	}

	// A Delete entry's Index points into the previous generation's list.
	var oldTypes []*abi.TypeInfo
	if existing, ok := c.modules[c.candidatePath]; ok {
		oldTypes = existing.types
	}
	for _, d := range c.candidateDiff {
		if d.Kind == diff.DiffDelete {
			c.registry.Drop(oldTypes[d.Index].ID)
		}
	}

	c.modules[c.candidatePath] = &loadedModule{
		path:  c.candidatePath,
		types: c.candidate.Info.Module.DefinedTypes,
		info:  c.candidate.Info,
	}
	c.state = Committed
	c.resetCandidate()
	c.state = Idle
	return nil
}

// Assembly returns the currently committed AssemblyInfo for path, if any
// module has ever been successfully committed under that path. Used by
// internal/host to answer "what does this loaded module export" without
// duplicating the controller's own bookkeeping.
func (c *Controller) Assembly(path string) (*abi.AssemblyInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[path]
	if !ok {
		return nil, false
	}
	return m.info, true
}

// Reject abandons the in-flight candidate from any pre-commit state and
// returns the controller to Idle, recording reason for LastRejectReason.
func (c *Controller) Reject(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return
	}
	c.rejectReason = reason
	c.state = Idle
	c.resetCandidate()
}

func (c *Controller) resetCandidate() {
	c.candidatePath = ""
	c.candidate = nil
	c.candidateDiff = nil
}

// LastRejectReason returns the error from the most recent rejection, if
// any candidate has ever been rejected.
func (c *Controller) LastRejectReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejectReason
}

// Run drives a candidate at path through the entire Begin -> Diff ->
// Migrate -> Commit sequence, the common case a host or the file-watch
// adapter (internal/watch) actually wants; Begin/Diff/Migrate/Commit stay
// exported individually for tests and for tooling that wants to inspect
// the diff before deciding whether to proceed.
func (c *Controller) Run(path string, allocatorHandle loader.AllocatorHandle) ([]diff.Diff, error) {
	if err := c.Begin(path, allocatorHandle); err != nil {
		return nil, err
	}
	d, err := c.Diff()
	if err != nil {
		c.Reject(err)
		return nil, err
	}
	if err := c.Migrate(); err != nil {
		return d, err
	}
	if err := c.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

