package pte

import "testing"

func TestMakeHardwareRoundTrip(t *testing.T) {
	p := MakeHardware(42, RW, true, false)
	if !p.Valid() {
		t.Fatal("want valid")
	}
	if p.Transition() {
		t.Fatal("want not transition")
	}
	if p.Permissions() != RW {
		t.Fatalf("want RW, got %s", p.Permissions())
	}
	if !p.Dirty() {
		t.Fatal("want dirty")
	}
	if p.Aging() {
		t.Fatal("want aging clear")
	}
	if p.Index() != 42 {
		t.Fatalf("want index 42, got %d", p.Index())
	}
}

func TestTransitionAndPagefileAndDemandZero(t *testing.T) {
	tr := MakeTransition(7, RX)
	if !tr.Transition() || tr.Valid() {
		t.Fatal("want transition-only")
	}
	if tr.Index() != 7 {
		t.Fatalf("want 7, got %d", tr.Index())
	}

	pf := MakePagefile(3, R)
	if !pf.IsPagefile() {
		t.Fatal("want pagefile layout")
	}
	if pf.IsDemandZero() {
		t.Fatal("pagefile PTE must not also read as demand-zero")
	}

	dz := MakeDemandZero(RWX)
	if !dz.IsDemandZero() {
		t.Fatal("want demand-zero layout")
	}
	if dz.HasIndex() {
		t.Fatal("demand-zero PTE must carry no index")
	}
}

func TestDecommitMarkedAndZero(t *testing.T) {
	dm := MakeDecommitMarked()
	if !dm.IsDecommitMarked() {
		t.Fatal("want decommit-marked layout")
	}
	if !Zero.IsZero() {
		t.Fatal("want Zero.IsZero()")
	}
	if Zero.IsDecommitMarked() {
		t.Fatal("all-zero PTE must not read as decommit-marked")
	}
}

func TestWithPermissionsPreservesHardwareBits(t *testing.T) {
	p := MakeHardware(1, RWX, true, true)
	p2 := p.WithPermissions(RX)
	if p2.Permissions() != RX {
		t.Fatalf("want RX, got %s", p2.Permissions())
	}
	if !p2.Dirty() || !p2.Aging() {
		t.Fatal("want dirty/aging preserved")
	}
	if p2.Write() {
		t.Fatal("RX must not carry the write bit")
	}
}

func TestPermCovers(t *testing.T) {
	if !RWX.Covers(RW) {
		t.Fatal("RWX should cover RW")
	}
	if RW.Covers(RX) {
		t.Fatal("RW should not cover RX (no execute)")
	}
	if !NoAccess.Covers(NoAccess) {
		t.Fatal("NoAccess should cover NoAccess")
	}
}
