package commit

import "testing"

func TestCommitWithinLimit(t *testing.T) {
	a := New(32)
	if err := a.Commit(20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := a.Committed(); got != 20 {
		t.Fatalf("want 20, got %d", got)
	}
}

func TestCommitRejectsOvercommit(t *testing.T) {
	a := New(32)
	if err := a.Commit(40); err == nil {
		t.Fatal("want overcommit rejected")
	}
	if got := a.Committed(); got != 0 {
		t.Fatalf("want committed unchanged at 0, got %d", got)
	}
}

func TestCommitDecommitRoundTrip(t *testing.T) {
	a := New(32)
	if err := a.Commit(10); err != nil {
		t.Fatal(err)
	}
	a.Decommit(10)
	if got := a.Committed(); got != 0 {
		t.Fatalf("want 0 after round trip, got %d", got)
	}
}

func TestDecommitUnderflowPanics(t *testing.T) {
	a := New(32)
	defer func() {
		if recover() == nil {
			t.Fatal("want panic on underflow")
		}
	}()
	a.Decommit(1)
}
