package system

import (
	"testing"
	"time"
	"unsafe"

	"github.com/biscuit-vm/uvm/internal/config"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pagefile"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/uerr"
)

func ptrAt(va uintptr) unsafe.Pointer { return unsafe.Pointer(va) }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.PhysicalFrames = 64
	cfg.PagefileSlots = 256
	cfg.VMMultiplier = 4
	cfg.NumThreads = 2
	cfg.PagesPerLock = 8
	cfg.MinAvailable = 8
	return cfg
}

func newTestSystem(t *testing.T) *System {
	t.Helper()
	sys, err := New(testConfig())
	if err != nil {
		t.Fatalf("system.New: %v", err)
	}
	sys.Start()
	t.Cleanup(func() {
		if err := sys.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return sys
}

// scenario 1 of spec §8: commit, write, trim, re-access round trips the
// page's contents.
func TestCommitWriteTrimFaultRoundTrip(t *testing.T) {
	sys := newTestSystem(t)
	v, err := sys.CreateVAD(nil, 4, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v.StartVA, pte.RW, true); err != nil {
		t.Fatalf("initial fault: %v", err)
	}

	ptr := (*uint64)(ptrAt(v.StartVA))
	*ptr = 0xDEADBEEFCAFEBABE

	if err := sys.Walker.TrimVA(v.StartVA); err != nil {
		t.Fatalf("trim: %v", err)
	}
	if err := sys.Handle(v.StartVA, pte.R, false); err != nil {
		t.Fatalf("re-fault after trim: %v", err)
	}
	if got := *ptr; got != 0xDEADBEEFCAFEBABE {
		t.Fatalf("want round-tripped contents, got %#x", got)
	}
}

// scenario 5 of spec §8: an overcommitting createVAD leaves all
// accounting untouched.
func TestOvercommitRejectionLeavesNoTrace(t *testing.T) {
	sys := newTestSystem(t)

	_, err := sys.CreateVAD(nil, int(sys.Commit.Limit())+8, pte.RW, true)
	if err == nil {
		t.Fatal("want overcommit rejected")
	}
	if !uerr.Is(err, uerr.InsufficientCommit) {
		t.Fatalf("want InsufficientCommit, got %v", err)
	}
	if got := sys.Commit.Committed(); got != 0 {
		t.Fatalf("want committed unchanged at 0, got %d", got)
	}
	if len(sys.VADs.All()) != 0 {
		t.Fatal("want no VAD inserted")
	}
}

// scenario 6 of spec §8: overlapping createVAD calls are rejected without
// disturbing the first VAD or the commit counter.
func TestOverlappingVADRejected(t *testing.T) {
	sys := newTestSystem(t)
	first, err := sys.CreateVAD(nil, 8, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	overlap := first.StartVA + 4*mem.PageSize
	if _, err := sys.CreateVAD(&overlap, 8, pte.RW, true); err == nil {
		t.Fatal("want overlap rejected")
	}
	if got := sys.Commit.Committed(); got != 8 {
		t.Fatalf("want committed unchanged at 8, got %d", got)
	}
	if len(sys.VADs.All()) != 1 {
		t.Fatalf("want exactly one VAD, got %d", len(sys.VADs.All()))
	}
}

// A decommitted page inside a commit VAD is an access violation until
// re-committed, at which point it yields a fresh demand-zero page (spec
// §8's re-commit idempotence property).
func TestDecommitThenRefault(t *testing.T) {
	sys := newTestSystem(t)
	v, err := sys.CreateVAD(nil, 1, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v.StartVA, pte.RW, true); err != nil {
		t.Fatal(err)
	}
	ptr := (*uint64)(ptrAt(v.StartVA))
	*ptr = 0x1234

	if err := sys.Walker.DecommitVA(v.StartVA, mem.PageSize); err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v.StartVA, pte.R, false); !uerr.Is(err, uerr.AccessViolation) {
		t.Fatalf("want AccessViolation on a decommitted page, got %v", err)
	}

	if err := sys.Walker.CommitVA(v.StartVA, pte.RW, mem.PageSize); err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v.StartVA, pte.R, false); err != nil {
		t.Fatalf("refault after re-commit: %v", err)
	}
	if got := *ptr; got != 0 {
		t.Fatalf("want fresh zero page, got %#x", got)
	}
}

// scenario 2 of spec §8: a Standby frame reclaimed to satisfy an unrelated
// fault must rewrite the evicted page's own PTE to name its pagefile slot,
// not merely vanish with the frame. A single-frame system forces every
// fault past the first to reclaim whatever frame Standby currently holds.
func TestStandbyReclaimPreservesEvictedPage(t *testing.T) {
	cfg := config.Default()
	cfg.PhysicalFrames = 1
	cfg.PagefileSlots = 4
	cfg.VMMultiplier = 8
	cfg.NumThreads = 1
	cfg.PagesPerLock = 1
	cfg.MinAvailable = 0

	sys, err := New(cfg)
	if err != nil {
		t.Fatalf("system.New: %v", err)
	}
	sys.Start()
	t.Cleanup(func() {
		if err := sys.Shutdown(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	v1, err := sys.CreateVAD(nil, 1, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v1.StartVA, pte.RW, true); err != nil {
		t.Fatalf("initial fault: %v", err)
	}

	const want uint64 = 0xCAFEF00DDEADBEEF
	*(*uint64)(ptrAt(v1.StartVA)) = want

	if err := sys.Walker.TrimVA(v1.StartVA); err != nil {
		t.Fatalf("trim: %v", err)
	}

	page := int(host.PageIndex(v1.StartVA))
	idx := int32(sys.Table.Read(page).Index())

	deadline := time.Now().Add(2 * time.Second)
	for {
		fr := sys.Frames.Frame(idx)
		fr.Lock()
		state, slot := fr.State, fr.PagefileSlot
		fr.Unlock()
		if state == mem.SStandby && slot != pagefile.NoSlot {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for writer: state=%v slot=%d", state, slot)
		}
		time.Sleep(5 * time.Millisecond)
	}

	va2 := v1.StartVA + 4*mem.PageSize
	v2, err := sys.CreateVAD(&va2, 1, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v2.StartVA, pte.RW, true); err != nil {
		t.Fatalf("second fault forcing standby reclaim: %v", err)
	}

	if err := sys.Handle(v1.StartVA, pte.R, false); err != nil {
		t.Fatalf("re-fault evicted va after reclaim: %v", err)
	}
	if got := *(*uint64)(ptrAt(v1.StartVA)); got != want {
		t.Fatalf("want preserved contents %#x, got %#x", want, got)
	}
}

func TestDebugScanCleanAfterActivity(t *testing.T) {
	sys := newTestSystem(t)
	v, err := sys.CreateVAD(nil, 2, pte.RW, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := sys.Handle(v.StartVA, pte.RW, true); err != nil {
		t.Fatal(err)
	}
	if violations := sys.DebugScan(); len(violations) != 0 {
		t.Fatalf("want no violations, got %v", violations)
	}
}
