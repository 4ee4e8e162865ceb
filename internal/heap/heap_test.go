package heap

import (
	"testing"

	"github.com/emberlang/ember/internal/abi"
)

func boolType() *abi.TypeInfo {
	return &abi.TypeInfo{Name: "bool", SizeBits: 8, Align: 1, Kind: abi.KindPrimitive}
}

// linkedListType returns a self-referential GC struct `Node{ next: *mut
// Node }`, matching the shape registry_test.go builds, so trace functions
// have something nontrivial to walk.
func linkedListType() *abi.TypeInfo {
	node := &abi.TypeInfo{Name: "Node", Kind: abi.KindStruct, Memory: abi.MemoryGC, SizeBits: abi.Host.PointerSize * 8}
	ptr := &abi.TypeInfo{Name: "*mut Node", Kind: abi.KindPointer, Mutable: true, Pointee: node, SizeBits: abi.Host.PointerSize * 8}
	node.Fields = []abi.FieldInfo{{Name: "next", Type: ptr, Offset: 0}}
	return node
}

// traceLinkedList is a minimal TraceFunc good enough for these tests: it
// treats Storage as either all-zero ("nil next") or as holding a
// byte-encoded index into a side table the test maintains, since heap
// package has no codec of its own (that's internal/host's job against
// real struct layouts).
func traceLinkedList(links map[GcPtr]GcPtr) TraceFunc {
	return func(p GcPtr, ty *abi.TypeInfo) []GcPtr {
		if next, ok := links[p]; ok && !next.IsNil() {
			return []GcPtr{next}
		}
		return nil
	}
}

func TestAllocUnrootedReclaimedOnCollect(t *testing.T) {
	h := New(traceLinkedList(nil))
	h.Alloc(boolType())

	if h.Stats().AllocatedObjects != 1 {
		t.Fatalf("allocated objects = %d, want 1", h.Stats().AllocatedObjects)
	}
	reclaimed := h.Collect()
	if !reclaimed {
		t.Fatal("expected Collect to reclaim the unrooted object")
	}
	if h.Stats().AllocatedObjects != 0 {
		t.Fatalf("allocated objects after collect = %d, want 0", h.Stats().AllocatedObjects)
	}
}

func TestRootedObjectSurvivesCollect(t *testing.T) {
	h := New(traceLinkedList(nil))
	p := h.Alloc(boolType())
	h.Root(p)

	reclaimed := h.Collect()
	if reclaimed {
		t.Fatal("rooted object must not be reclaimed")
	}
	if h.Stats().AllocatedObjects != 1 {
		t.Fatalf("allocated objects = %d, want 1", h.Stats().AllocatedObjects)
	}
}

func TestTransitiveReachabilityThroughTrace(t *testing.T) {
	links := map[GcPtr]GcPtr{}
	h := New(traceLinkedList(links))
	nodeTy := linkedListType()

	root := h.Alloc(nodeTy)
	middle := h.Alloc(nodeTy)
	leaf := h.Alloc(nodeTy)
	links[root] = middle
	links[middle] = leaf

	h.Root(root)
	h.Collect()

	if h.Stats().AllocatedObjects != 3 {
		t.Fatalf("allocated objects = %d, want 3 (root, middle, leaf all reachable)", h.Stats().AllocatedObjects)
	}

	// Break the chain and re-collect: only root survives.
	delete(links, root)
	h.Collect()
	if h.Stats().AllocatedObjects != 1 {
		t.Fatalf("allocated objects after unlinking = %d, want 1", h.Stats().AllocatedObjects)
	}
}

func TestSelfPointingStructDoesNotLoopForever(t *testing.T) {
	links := map[GcPtr]GcPtr{}
	h := New(traceLinkedList(links))
	nodeTy := linkedListType()

	p := h.Alloc(nodeTy)
	links[p] = p // points to itself
	h.Root(p)

	// The real assertion is simply that Collect returns at all; a cycle
	// through a White->Gray->Black object never gets re-enqueued once
	// Black, so this must terminate. If it regresses into an infinite
	// loop, the test binary itself will time out rather than this
	// assertion failing.
	h.Collect()
	if h.Stats().AllocatedObjects != 1 {
		t.Fatalf("allocated objects = %d, want 1", h.Stats().AllocatedObjects)
	}
}

func TestUnrootBelowZeroIsError(t *testing.T) {
	h := New(traceLinkedList(nil))
	p := h.Alloc(boolType())
	if err := h.Unroot(p); err == nil {
		t.Fatal("expected error unrooting an object with zero roots")
	}
}

func TestRewritePreservesHandleIdentity(t *testing.T) {
	h := New(traceLinkedList(nil))
	oldTy := boolType()
	p := h.Alloc(oldTy)
	h.Root(p)

	newTy := &abi.TypeInfo{Name: "i32", SizeBits: 32, Align: 4, Kind: abi.KindPrimitive}
	h.Rewrite(p, newTy, make([]byte, newTy.SizeBytes()))

	if h.PtrType(p) != newTy {
		t.Fatal("Rewrite did not update the type observed through the same handle")
	}
	if len(h.Storage(p)) != 4 {
		t.Fatalf("storage length = %d, want 4", len(h.Storage(p)))
	}
}

func TestZeroSizedStruct(t *testing.T) {
	h := New(traceLinkedList(nil))
	empty := &abi.TypeInfo{Name: "Unit", Kind: abi.KindStruct, SizeBits: 0}
	p := h.Alloc(empty)
	if len(h.Storage(p)) != 0 {
		t.Fatalf("zero-sized struct storage length = %d, want 0", len(h.Storage(p)))
	}
}
