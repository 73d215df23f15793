// Package system implements spec §4.L: the lifecycle that ties every
// other component into one running kernel, and the DebugScan invariant
// checks of spec §8. Grounded on biscuit's main.go, which performs the
// same "allocate subsystems, start daemons, wait, shut down in order"
// sequence for the kernel as a whole.
package system

import (
	"fmt"
	"os"

	"github.com/google/pprof/profile"

	"github.com/biscuit-vm/uvm/internal/commit"
	"github.com/biscuit-vm/uvm/internal/config"
	"github.com/biscuit-vm/uvm/internal/diag"
	"github.com/biscuit-vm/uvm/internal/event"
	"github.com/biscuit-vm/uvm/internal/fault"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pagefile"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/scratch"
	"github.com/biscuit-vm/uvm/internal/uerr"
	"github.com/biscuit-vm/uvm/internal/vad"
	"github.com/biscuit-vm/uvm/internal/walk"
	"github.com/biscuit-vm/uvm/internal/worker"
)

// System is the fully wired kernel: every subsystem plus the worker group
// and the fault handler that drive them.
type System struct {
	Config config.Config

	AWE      host.AWE
	Frames   *mem.FrameDB
	Table    *pte.Table
	VADs     *vad.List
	Pagefile *pagefile.Pagefile
	Scratch  *scratch.Pool
	Commit   *commit.Accounting
	Events   *event.Pool
	Counters *diag.WorkerCounters
	Printer  *diag.Printer

	Fault  *fault.Handler
	Walker *walk.Walker
	Worker *worker.Group

	pagefileStore *os.File
}

// New performs spec §4.L's startup sequence: allocate frames, initialize
// lists, the PTE array, the stripe locks, the VAD bitmap, the pagefile
// map, the scratch VA pools, the event pool, then create worker threads.
func New(cfg config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awe, err := host.NewLinuxAWE(cfg.PhysicalFrames)
	if err != nil {
		return nil, fmt.Errorf("system: host AWE init: %w", err)
	}

	frames := mem.NewFrameDB(cfg.PhysicalFrames, cfg.MinAvailable)
	table := pte.NewTable(cfg.VAPages(), cfg.PagesPerLock)
	if cfg.Verbose {
		table.ChangeLog = diag.NewChangeLog(4096)
		table.ChangeLog.Enabled = true
	}

	vaBase, err := awe.ReserveVA(cfg.VAPages())
	if err != nil {
		return nil, fmt.Errorf("system: reserving VA space: %w", err)
	}
	vads := vad.NewList(vaBase, cfg.VAPages())

	store, err := os.CreateTemp("", "uvm-pagefile-*")
	if err != nil {
		return nil, fmt.Errorf("system: creating pagefile store: %w", err)
	}

	scratchPool, err := scratch.NewPool(awe, cfg.NumThreads)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("system: reserving scratch pool: %w", err)
	}

	pf := pagefile.New(store, cfg.PagefileSlots, awe, scratchPool)
	acct := commit.New(cfg.MemoryLimit())
	events := event.NewPool()
	counters := &diag.WorkerCounters{}

	s := &System{
		Config:        cfg,
		AWE:           awe,
		Frames:        frames,
		Table:         table,
		VADs:          vads,
		Pagefile:      pf,
		Scratch:       scratchPool,
		Commit:        acct,
		Events:        events,
		Counters:      counters,
		pagefileStore: store,
	}
	if cfg.Verbose {
		s.Printer = diag.NewPrinter()
	}

	s.Walker = &walk.Walker{
		Table:              table,
		Frames:             frames,
		VADs:               vads,
		Pagefile:           pf,
		AWE:                awe,
		Events:             events,
		Commit:             acct,
		ModifiedWriterWake: event.New(),
	}
	s.Fault = &fault.Handler{
		Table:    table,
		Frames:   frames,
		VADs:     vads,
		Pagefile: pf,
		AWE:      awe,
		Events:   events,
		Commit:   acct,
		Counters: counters,
	}
	s.Worker = &worker.Group{
		Frames:            frames,
		Table:             table,
		Pagefile:          pf,
		Scratch:           scratchPool,
		AWE:               awe,
		Walker:            s.Walker,
		Counters:          counters,
		MinAvailablePages: cfg.MinAvailable,
	}
	return s, nil
}

// Start launches the background worker goroutines. The fault handler
// itself needs no goroutine: it runs on the calling thread of whatever
// driver (cmd/uvm, or a test) invokes Fault.Handle.
func (s *System) Start() {
	s.Worker.Start()
}

// CreateVAD exposes vad.List.Create with this system's own commit
// accounting wired in.
func (s *System) CreateVAD(startVA *uintptr, n int, perms pte.Perm, isCommit bool) (*vad.VAD, error) {
	return s.VADs.Create(startVA, n, perms, isCommit, s.Commit)
}

// DeleteVAD implements the full spec §4.E deleteVAD sequence: locate,
// mark deleting, decommit the whole range, unlink, release the VA run.
// This spans vad and walk, so it lives here rather than in either leaf
// package.
func (s *System) DeleteVAD(startVA uintptr) error {
	v, ok := s.VADs.LookupExact(startVA)
	if !ok {
		return uerr.New(uerr.InvalidRange, "no VAD starts at %#x", startVA)
	}
	v.MarkDeleting()
	size := uintptr(v.PageCount) * mem.PageSize
	if err := s.Walker.DecommitVA(v.StartVA, size); err != nil {
		return err
	}
	s.VADs.Unlink(v)
	return nil
}

// Handle drives a fault through the wired handler, the surface
// cmd/uvm's REPL and tests call into.
func (s *System) Handle(va uintptr, req pte.Perm, isWrite bool) error {
	return s.Fault.Handle(va, req, isWrite)
}

// Shutdown implements the tail of spec §4.L: signal terminate workers,
// join workers, delete VADs, free resources. ("Terminate testing, join
// testers" is the caller's own responsibility before Shutdown is called.
// System has no notion of test driver goroutines.)
func (s *System) Shutdown() error {
	s.Worker.Stop()
	for _, v := range s.VADs.All() {
		if err := s.DeleteVAD(v.StartVA); err != nil {
			return err
		}
	}
	if err := s.AWE.Close(); err != nil {
		return err
	}
	name := s.pagefileStore.Name()
	if err := s.pagefileStore.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// DebugScan checks a subset of spec §8's invariants: PFN/PTE
// reverse-index agreement for Active frames, the pagefile bitmap's
// population within its capacity, the committed count within the limit,
// and each VAD's commitCount within [0, PageCount]. It does not check list
// membership against frame State, nor that each set pagefile bit is owned
// by exactly one frame or PTE.
func (s *System) DebugScan() []uerr.Violation {
	var violations []uerr.Violation

	for i := int32(0); i < int32(s.Frames.NFrames()); i++ {
		fr := s.Frames.Frame(i)
		fr.Lock()
		state := fr.State
		reverse := fr.ReversePTEIndex
		fr.Unlock()

		if state == mem.SActive {
			if reverse < 0 || reverse >= int32(s.Table.NPages()) {
				violations = append(violations, uerr.Violation{
					Invariant: "active-frame-reverse-index",
					Detail:    fmt.Sprintf("frame %d is Active with invalid reverse index %d", i, reverse),
				})
				continue
			}
			pteVal := s.Table.Read(int(reverse))
			if !pteVal.Valid() || int32(pteVal.Index()) != i {
				violations = append(violations, uerr.Violation{
					Invariant: "pfn-pte-agreement",
					Detail:    fmt.Sprintf("frame %d claims page %d but that PTE is %#x", i, reverse, uint64(pteVal)),
				})
			}
		}
	}

	occupied := s.Pagefile.Occupied()
	if occupied < 0 || occupied > s.Pagefile.Slots() {
		violations = append(violations, uerr.Violation{
			Invariant: "pagefile-bitmap-bounds",
			Detail:    fmt.Sprintf("occupied slot count %d exceeds capacity %d", occupied, s.Pagefile.Slots()),
		})
	}

	committed := s.Commit.Committed()
	if committed < 0 || committed > s.Commit.Limit() {
		violations = append(violations, uerr.Violation{
			Invariant: "commit-accounting-bounds",
			Detail:    fmt.Sprintf("committed %d exceeds limit %d", committed, s.Commit.Limit()),
		})
	}

	for _, v := range s.VADs.All() {
		cc := v.CommitCount()
		if cc < 0 || cc > v.PageCount {
			violations = append(violations, uerr.Violation{
				Invariant: "vad-commit-count-bounds",
				Detail:    fmt.Sprintf("VAD at %#x has commitCount %d out of [0,%d]", v.StartVA, cc, v.PageCount),
			})
		}
	}

	return violations
}

// Census returns a pprof profile snapshot of the current page-state
// population (spec's diagnostics supplement, see internal/diag.Census).
func (s *System) Census() *profile.Profile {
	counts := diag.PageStateCounts{}
	for state, n := range s.Frames.StateCounts() {
		counts[state.String()] = int64(n)
	}
	return diag.Census(counts, int64(s.Pagefile.Occupied()), int64(s.Pagefile.Slots()))
}
