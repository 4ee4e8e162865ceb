package abimem

import "testing"

func TestNewGuardRoundsUpToAPageAndStartsWritable(t *testing.T) {
	g, err := NewGuard(1)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	defer g.Close()

	if g.Frozen() {
		t.Fatal("a fresh guard should start writable")
	}
	if len(g.Bytes()) == 0 {
		t.Fatal("expected a non-empty page-aligned region")
	}

	g.Bytes()[0] = 0x42
	if g.Bytes()[0] != 0x42 {
		t.Fatal("write to an unfrozen guard did not stick")
	}
}

func TestFreezeUnfreezeRoundTrip(t *testing.T) {
	g, err := NewGuard(64)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	defer g.Close()

	if err := g.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if !g.Frozen() {
		t.Fatal("Frozen() should report true after Freeze")
	}
	// Reading a frozen (PROT_READ) region is always safe.
	_ = g.Bytes()[0]

	if err := g.Unfreeze(); err != nil {
		t.Fatalf("Unfreeze: %v", err)
	}
	if g.Frozen() {
		t.Fatal("Frozen() should report false after Unfreeze")
	}
	g.Bytes()[0] = 7 // writable again
}

func TestFreezeIsIdempotent(t *testing.T) {
	g, err := NewGuard(32)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	defer g.Close()

	if err := g.Freeze(); err != nil {
		t.Fatalf("first Freeze: %v", err)
	}
	if err := g.Freeze(); err != nil {
		t.Fatalf("second Freeze should be a no-op, got: %v", err)
	}
}
