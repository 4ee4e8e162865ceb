package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherEmitsOneEventForABurstOfWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := New(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}

	target := filepath.Join(dir, "demo.so")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	select {
	case ev := <-w.Changes:
		if ev.Path != target {
			t.Fatalf("path = %q, want %q", ev.Path, target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a debounced change event")
	}

	select {
	case ev := <-w.Changes:
		t.Fatalf("unexpected second event %+v; the burst should have collapsed to one", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherIgnoresUnrelatedExtensions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-w.Changes:
		t.Fatalf("unexpected event %+v for a non-assembly file", ev)
	case <-time.After(150 * time.Millisecond):
	}
}
