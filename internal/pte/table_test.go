package pte

import "testing"

func TestTableReadWritePTE(t *testing.T) {
	tbl := NewTable(256, 16)
	tbl.Lock(10)
	tbl.WritePTE(10, 0x1000, MakeHardware(5, RW, false, false))
	tbl.Unlock(10)

	got := tbl.Read(10)
	if got.Index() != 5 || got.Permissions() != RW {
		t.Fatalf("unexpected readback: %#x", uint64(got))
	}
}

func TestTableCAS(t *testing.T) {
	tbl := NewTable(16, 4)
	old := tbl.Read(0)
	next := MakeDemandZero(R)
	if !tbl.CAS(0, old, next) {
		t.Fatal("want CAS to succeed against current value")
	}
	if tbl.CAS(0, old, next) {
		t.Fatal("want stale CAS to fail")
	}
}

func TestAcquireOrHoldSubsequent(t *testing.T) {
	tbl := NewTable(64, 8)
	prev := -1
	prev = tbl.AcquireOrHoldSubsequent(0, prev)
	prev = tbl.AcquireOrHoldSubsequent(1, prev) // same stripe, no re-lock
	prev = tbl.AcquireOrHoldSubsequent(9, prev) // next stripe
	tbl.Unlock(prev)
}
