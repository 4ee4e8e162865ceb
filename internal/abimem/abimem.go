// Package abimem gives the Dispatch Builder and Assembly Loader a real,
// kernel-enforced analogue of the page-protection trick a native ABI
// would use to keep generated code from ever writing a DispatchTable or
// TypeLut it is only supposed to read (spec §4.2's "only the runtime
// writes dispatch/type-lut entries; generated code only reads them").
// Go gives every package equal access to exported fields, so nothing
// here can stop a Go caller from writing the underlying slices directly
// the way a native caller's compiler would be stopped by an access
// violation — a Guard's whole value is that, once frozen, an attempted
// write genuinely faults at the hardware level instead of merely being
// disallowed by convention.
//
// Grounded on golang.org/x/sys/unix's raw syscall wrapping style (the
// teacher's own internal/gocore/gocore_test.go calls unix.Getrlimit/
// unix.Setrlimit directly and checks the returned error the same way),
// generalized from rlimit adjustment to mmap/mprotect page management.
package abimem

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Guard owns one anonymous, page-aligned memory mapping that can be
// toggled between writable (while the Dispatch Builder is resolving a
// table) and read-only (the steady state every other goroutine observes
// it in). Unlike every other type in this runtime, Guard is not merely
// conceptually read-only once frozen: writing to Bytes() after Freeze
// segfaults the process, the same way writing to a native DispatchTable
// page mapped PROT_READ would.
type Guard struct {
	data   []byte
	frozen bool
}

// NewGuard allocates an anonymous mapping of at least size bytes (rounded
// up to the system page size) and returns it writable.
func NewGuard(size int) (*Guard, error) {
	if size <= 0 {
		size = 1
	}
	pageSize := os.Getpagesize()
	size = roundUp(size, pageSize)

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("abimem: mmap %d bytes: %w", size, err)
	}
	return &Guard{data: data}, nil
}

// Bytes returns the guarded region. Valid to read always; valid to write
// only while the Guard is not frozen (Frozen reports which).
func (g *Guard) Bytes() []byte {
	return g.data
}

// Frozen reports whether the region is currently mapped read-only.
func (g *Guard) Frozen() bool {
	return g.frozen
}

// Freeze maps the region PROT_READ, the state every table should be in
// except during the Dispatch Builder's Resolve call or the Assembly
// Loader's TypeLut population.
func (g *Guard) Freeze() error {
	if g.frozen {
		return nil
	}
	if err := unix.Mprotect(g.data, unix.PROT_READ); err != nil {
		return fmt.Errorf("abimem: mprotect read-only: %w", err)
	}
	g.frozen = true
	return nil
}

// Unfreeze maps the region PROT_READ|PROT_WRITE so the Dispatch Builder
// or Assembly Loader can populate it. Call this, mutate, then Freeze
// again before handing control back to the rest of the runtime — the
// window should be as narrow as the resolve/load call itself.
func (g *Guard) Unfreeze() error {
	if !g.frozen {
		return nil
	}
	if err := unix.Mprotect(g.data, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("abimem: mprotect read-write: %w", err)
	}
	g.frozen = false
	return nil
}

// Close unmaps the region. The Guard must not be used afterward.
func (g *Guard) Close() error {
	if g.data == nil {
		return nil
	}
	err := unix.Munmap(g.data)
	g.data = nil
	return err
}

func roundUp(n, multiple int) int {
	if n%multiple == 0 {
		return n
	}
	return n + (multiple - n%multiple)
}
