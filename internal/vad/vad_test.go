package vad

import (
	"testing"

	"github.com/biscuit-vm/uvm/internal/commit"
	"github.com/biscuit-vm/uvm/internal/pte"
)

func TestCreateAutoPlacement(t *testing.T) {
	vl := NewList(0x1000, 64)
	acct := commit.New(64)

	v, err := vl.Create(nil, 4, pte.RW, true, acct)
	if err != nil {
		t.Fatal(err)
	}
	if v.PageCount != 4 || v.CommitCount() != 4 {
		t.Fatalf("unexpected VAD: %+v", v)
	}
	if got := acct.Committed(); got != 4 {
		t.Fatalf("want committed 4, got %d", got)
	}
}

func TestCreateOverlapRejected(t *testing.T) {
	vl := NewList(0, 64)
	acct := commit.New(64)

	va := uintptr(0)
	if _, err := vl.Create(&va, 8, pte.RW, true, acct); err != nil {
		t.Fatal(err)
	}
	overlapVA := uintptr(4 * 4096)
	if _, err := vl.Create(&overlapVA, 8, pte.RW, true, acct); err == nil {
		t.Fatal("want overlap rejected")
	}
	if got := acct.Committed(); got != 8 {
		t.Fatalf("committed counter must be unchanged by the rejected call, got %d", got)
	}
	if len(vl.All()) != 1 {
		t.Fatalf("want exactly one VAD, got %d", len(vl.All()))
	}
}

func TestCreateOvercommitRejected(t *testing.T) {
	vl := NewList(0, 1024)
	acct := commit.New(32)

	if _, err := vl.Create(nil, 40, pte.RW, true, acct); err == nil {
		t.Fatal("want overcommit rejected")
	}
	if got := acct.Committed(); got != 0 {
		t.Fatalf("committed must stay 0, got %d", got)
	}
	if len(vl.All()) != 0 {
		t.Fatal("no VAD should have been inserted")
	}
}

func TestUnlinkReleasesRange(t *testing.T) {
	vl := NewList(0, 32)
	acct := commit.New(32)

	v, err := vl.Create(nil, 8, pte.RW, true, acct)
	if err != nil {
		t.Fatal(err)
	}
	vl.Unlink(v)
	if len(vl.All()) != 0 {
		t.Fatal("want VAD list empty after unlink")
	}
	if _, err := vl.Create(nil, 8, pte.RW, true, acct); err != nil {
		t.Fatalf("range should be reusable after unlink: %v", err)
	}
}

func TestLookupAndContains(t *testing.T) {
	vl := NewList(0, 32)
	acct := commit.New(32)
	v, err := vl.Create(nil, 4, pte.RW, false, acct)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := vl.Lookup(v.StartVA + 4096); !ok || got != v {
		t.Fatal("want lookup to find the VAD covering an interior address")
	}
	if _, ok := vl.Lookup(v.EndVA()); ok {
		t.Fatal("EndVA is one past the last page and must not resolve")
	}
}
