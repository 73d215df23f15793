package bitmap

import "testing"

func TestReserveFirstFit(t *testing.T) {
	b := New(128)
	i := b.Reserve(4)
	if i != 0 {
		t.Fatalf("want 0, got %d", i)
	}
	j := b.Reserve(4)
	if j != 4 {
		t.Fatalf("want 4, got %d", j)
	}
	b.Release(0, 4)
	k := b.Reserve(4)
	if k != 0 {
		t.Fatalf("want reclaimed 0, got %d", k)
	}
}

func TestReserveSkipsAllOnesWord(t *testing.T) {
	b := New(192)
	if got := b.Reserve(64); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
	if got := b.Reserve(64); got != 64 {
		t.Fatalf("want 64, got %d", got)
	}
}

func TestReserveNoRoom(t *testing.T) {
	b := New(8)
	if i := b.Reserve(9); i != Invalid {
		t.Fatalf("want Invalid, got %d", i)
	}
}

func TestReserveAt(t *testing.T) {
	b := New(64)
	if !b.ReserveAt(10, 4) {
		t.Fatal("want success")
	}
	if b.ReserveAt(12, 4) {
		t.Fatal("want overlap rejected")
	}
	if !b.ReserveAt(20, 4) {
		t.Fatal("want disjoint range accepted")
	}
}

func TestReserveAtOutOfBounds(t *testing.T) {
	b := New(16)
	if b.ReserveAt(14, 4) {
		t.Fatal("want out-of-bounds rejected")
	}
}

func TestDoubleSetPanics(t *testing.T) {
	b := New(8)
	b.Reserve(4)
	defer func() {
		if recover() == nil {
			t.Fatal("want panic on double-set")
		}
	}()
	b.setRange(0, 1)
}

func TestDoubleClearPanics(t *testing.T) {
	b := New(8)
	defer func() {
		if recover() == nil {
			t.Fatal("want panic on double-clear")
		}
	}()
	b.Release(0, 1)
}

func TestPopCount(t *testing.T) {
	b := New(200)
	b.Reserve(5)
	b.ReserveAt(100, 10)
	if got := b.PopCount(); got != 15 {
		t.Fatalf("want 15, got %d", got)
	}
}
