// Package fault implements spec §4.H: the page fault handler. It is the
// one place that turns a PTE snapshot plus a requested access into either
// a published Valid PTE or an error, dispatching on the PTE's tagged-union
// layout the way biscuit's vm fault path dispatches on a vma's type before
// touching a PTE.
package fault

import (
	"github.com/biscuit-vm/uvm/internal/commit"
	"github.com/biscuit-vm/uvm/internal/diag"
	"github.com/biscuit-vm/uvm/internal/event"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pagefile"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/uerr"
	"github.com/biscuit-vm/uvm/internal/vad"
)

// Handler bundles every collaborator the fault path needs, matching the
// set of subsystems spec §4.H reaches into: the PTE table, the frame
// database, the VAD list, the pagefile, the host mapping primitive, and
// the completion-handle pool for read-in-progress waits.
type Handler struct {
	Table    *pte.Table
	Frames   *mem.FrameDB
	VADs     *vad.List
	Pagefile *pagefile.Pagefile
	AWE      host.AWE
	Events   *event.Pool
	Commit   *commit.Accounting
	Counters *diag.WorkerCounters

	// Stop, when closed, unblocks any in-progress "wait for available
	// frame" loop so shutdown does not hang a stuck faulting thread.
	Stop <-chan struct{}
}

// Handle services one page fault at va, requesting the given permission
// (the access that caused the fault: R, W, or RX for execute). It loops
// internally on the two transient error kinds (NoAvailablePages,
// PageStateChange) per spec §4.H/§5 and only returns once the fault is
// resolved or a true access-violation/fatal condition is found.
func (h *Handler) Handle(va uintptr, req pte.Perm, isWrite bool) error {
	page := int(host.PageIndex(va))
	for {
		err := h.attempt(page, va, req, isWrite)
		if err == nil {
			if h.Counters != nil {
				h.Counters.FaultsHandled.Inc()
			}
			return nil
		}
		if uerr.Is(err, uerr.NoAvailablePages) {
			if h.Counters != nil {
				h.Counters.FaultsRetriedNoPages.Inc()
			}
			h.Frames.WaitForAvailable(h.Stop)
			continue
		}
		if uerr.Is(err, uerr.PageStateChange) {
			if h.Counters != nil {
				h.Counters.FaultsRetriedState.Inc()
			}
			continue
		}
		return err
	}
}

// attempt runs exactly one dispatch over the current PTE snapshot. The
// PTE stripe lock is acquired on entry and every path releases it before
// returning (spec §4.H: "Acquire the PTE lock for the containing PTE").
func (h *Handler) attempt(page int, va uintptr, req pte.Perm, isWrite bool) error {
	h.Table.Lock(page)
	snap := h.Table.Read(page)

	switch {
	case snap.Valid():
		return h.handleValid(page, va, snap, req, isWrite)
	case snap.Transition():
		return h.handleTransition(page, va, snap, req, isWrite)
	case snap.IsPagefile():
		return h.handlePagefile(page, va, snap, req, isWrite)
	case snap.IsDemandZero():
		return h.handleDemandZero(page, va, snap.Permissions(), req, isWrite)
	case snap.IsZero():
		h.Table.Unlock(page)
		return h.handleCheckVAD(page, va, req, isWrite)
	case snap.IsDecommitMarked():
		h.Table.Unlock(page)
		return uerr.New(uerr.AccessViolation, "va %#x is decommitted", va)
	default:
		h.Table.Unlock(page)
		uerr.Fatalf("fault: va %#x has an unrecognized PTE layout %#x", va, uint64(snap))
		return nil
	}
}

// handleValid implements spec §4.H case 1.
func (h *Handler) handleValid(page int, va uintptr, snap pte.PTE, req pte.Perm, isWrite bool) error {
	defer h.Table.Unlock(page)
	if !snap.Permissions().Covers(req) {
		return uerr.New(uerr.AccessViolation, "va %#x permissions %s do not cover %s", va, snap.Permissions(), req)
	}
	next := snap.WithAging(false)
	if isWrite {
		next = next.WithDirty(true)
		fr := h.Frames.Frame(int32(next.Index()))
		fr.Lock()
		if !fr.WriteInProgress {
			h.Pagefile.FreeSlot(fr.PagefileSlot)
			fr.PagefileSlot = pagefile.NoSlot
		} else {
			fr.Remodified = true
		}
		fr.Unlock()
	}
	if next != snap {
		h.Table.WritePTE(page, va, next)
	}
	return nil
}

// handleTransition implements spec §4.H case 2.
func (h *Handler) handleTransition(page int, va uintptr, snap pte.PTE, req pte.Perm, isWrite bool) error {
	if !snap.Permissions().Covers(req) {
		h.Table.Unlock(page)
		return uerr.New(uerr.AccessViolation, "va %#x permissions %s do not cover %s", va, snap.Permissions(), req)
	}
	idx := int32(snap.Index())
	fr := h.Frames.Frame(idx)
	fr.Lock()

	if h.Table.Read(page) != snap {
		fr.Unlock()
		h.Table.Unlock(page)
		return uerr.New(uerr.PageStateChange, "pte changed under transition fault at va %#x", va)
	}

	if fr.ReadInProgress {
		handle := fr.ReadInProgressEvent
		handle.Attach()
		fr.Unlock()
		h.Table.Unlock(page)
		return waitThenRetry(handle)
	}

	if isWrite && !fr.WriteInProgress {
		h.Pagefile.FreeSlot(fr.PagefileSlot)
		fr.PagefileSlot = pagefile.NoSlot
	} else if isWrite {
		fr.Remodified = true
	}

	h.Frames.ListFor(fr.State).Remove(idx)
	fr.ReversePTEIndex = int32(page)
	fr.State = mem.SActive

	perm := snap.Permissions()
	next := pte.MakeHardware(uint32(idx), perm, isWrite, false)
	h.Table.WritePTE(page, va, next)
	if err := h.AWE.MapPhysical(va, idx, perm); err != nil {
		fr.Unlock()
		h.Table.Unlock(page)
		return err
	}
	fr.Unlock()
	h.Table.Unlock(page)
	return nil
}

// waitThenRetry releases no further locks (the caller already dropped its
// frame and PTE locks before calling this) and blocks until the read
// completes, matching spec §4.H's "drop PFN and PTE locks, wait, decrement
// refCount... report page-state-change for retry".
func waitThenRetry(h *event.CompletionHandle) error {
	h.Wait()
	h.Detach()
	return uerr.New(uerr.PageStateChange, "waited for in-flight pagefile read")
}

// handlePagefile implements spec §4.H case 3.
func (h *Handler) handlePagefile(page int, va uintptr, snap pte.PTE, req pte.Perm, isWrite bool) error {
	perm := snap.Permissions()
	if !perm.Covers(req) {
		h.Table.Unlock(page)
		return uerr.New(uerr.AccessViolation, "va %#x permissions %s do not cover %s", va, perm, req)
	}
	slot := int32(snap.Index())

	frame, err := h.acquireFrame()
	if err != nil {
		h.Table.Unlock(page)
		return err
	}

	fr := h.Frames.Frame(frame)
	fr.Lock()
	fr.State = mem.SStandby
	fr.ReadInProgress = true
	fr.ReversePTEIndex = int32(page)
	handle := h.Events.Get()
	fr.ReadInProgressEvent = handle
	fr.Unlock()

	transPTE := pte.MakeTransition(uint32(frame), perm)
	h.Table.WritePTE(page, va, transPTE)
	h.Table.Unlock(page)

	readErr := h.Pagefile.Read(frame, slot, pagefile.ReadOpts{})

	h.Table.Lock(page)
	fr.Lock()
	cur := h.Table.Read(page)

	if fr.State == mem.SAwaitingFree || cur != transPTE {
		fr.ReadInProgress = false
		handle.Signal()
		fr.ReversePTEIndex = mem.NoFrame
		fr.Unlock()
		h.retireAwaitingFree(frame)
		h.Table.Unlock(page)
		if readErr != nil {
			return readErr
		}
		return uerr.New(uerr.PageStateChange, "pte decommitted while pagefile read was in flight at va %#x", va)
	}

	if readErr != nil {
		fr.ReadInProgress = false
		handle.Signal()
		fr.Unlock()
		h.Table.Unlock(page)
		return readErr
	}

	h.Pagefile.FreeSlot(slot)
	fr.PagefileSlot = pagefile.NoSlot
	fr.State = mem.SActive
	fr.ReadInProgress = false

	next := pte.MakeHardware(uint32(frame), perm, isWrite, false)
	h.Table.WritePTE(page, va, next)
	mapErr := h.AWE.MapPhysical(va, frame, perm)
	handle.Signal()
	fr.Unlock()
	h.Table.Unlock(page)
	return mapErr
}

// handleDemandZero implements spec §4.H case 4's demand-zero path (no VAD
// lookup required: the PTE already carries real permissions).
func (h *Handler) handleDemandZero(page int, va uintptr, permOnPTE pte.Perm, req pte.Perm, isWrite bool) error {
	defer h.Table.Unlock(page)
	if !permOnPTE.Covers(req) {
		return uerr.New(uerr.AccessViolation, "va %#x permissions %s do not cover %s", va, permOnPTE, req)
	}
	return h.materializeZero(page, va, permOnPTE, isWrite)
}

// handleCheckVAD implements spec §4.H case 4's checkVAD path for an
// all-zero PTE: uncommitted in a reserve VAD is an access violation,
// committed-and-zero in a commit VAD is demand-zero under the VAD's
// permissions.
func (h *Handler) handleCheckVAD(page int, va uintptr, req pte.Perm, isWrite bool) error {
	vd, ok := h.VADs.Lookup(va)
	if !ok {
		return uerr.New(uerr.AccessViolation, "va %#x is outside any VAD", va)
	}
	if vd.DeleteBit() {
		return uerr.New(uerr.AccessViolation, "va %#x is in a VAD pending delete", va)
	}
	if !vd.IsCommit {
		return uerr.New(uerr.AccessViolation, "va %#x is reserved but not committed", va)
	}
	if !vd.Perms.Covers(req) {
		return uerr.New(uerr.AccessViolation, "va %#x VAD permissions %s do not cover %s", va, vd.Perms, req)
	}
	h.Table.Lock(page)
	defer h.Table.Unlock(page)
	if !h.Table.Read(page).IsZero() {
		return uerr.New(uerr.PageStateChange, "pte changed under checkVAD fault at va %#x", va)
	}
	return h.materializeZero(page, va, vd.Perms, isWrite)
}

// materializeZero obtains a fresh frame, marks it Active, and publishes a
// Valid PTE over it, the common tail of both demand-zero paths. The
// caller must hold the PTE stripe lock for page.
func (h *Handler) materializeZero(page int, va uintptr, perm pte.Perm, isWrite bool) error {
	frame, err := h.acquireFrame()
	if err != nil {
		return err
	}
	fr := h.Frames.Frame(frame)
	fr.Lock()
	fr.State = mem.SActive
	fr.ReversePTEIndex = int32(page)
	fr.Unlock()

	next := pte.MakeHardware(uint32(frame), perm, isWrite, false)
	h.Table.WritePTE(page, va, next)
	return h.AWE.MapPhysical(va, frame, perm)
}

// acquireFrame pops a frame off Zero then Free then reclaims the oldest
// Standby frame, the priority order spec §4.B's page lists imply (a
// pre-zeroed frame is always preferred over one that still needs work).
// Zero and Free frames arrive already Active-ready; a reclaimed Standby
// frame still names the page it used to back, whose PTE is rewritten by
// retireStandbyPTE before the frame itself is handed out for reuse. Any
// pagefile slot the frame named is transferred to that rewritten PTE, not
// freed here.
func (h *Handler) acquireFrame() (int32, error) {
	if idx := h.Frames.PopZero(); idx != mem.NoFrame {
		fr := h.Frames.Frame(idx)
		fr.Unlock()
		return idx, nil
	}
	if idx := h.Frames.PopFree(); idx != mem.NoFrame {
		fr := h.Frames.Frame(idx)
		fr.Unlock()
		return idx, nil
	}
	if idx := h.Frames.PopStandbyTail(); idx != mem.NoFrame {
		fr := h.Frames.Frame(idx)
		h.retireStandbyPTE(idx, fr)
		fr.PagefileSlot = pagefile.NoSlot
		fr.Unlock()
		return idx, nil
	}
	return mem.NoFrame, uerr.New(uerr.NoAvailablePages, "no zero, free, or standby frames available")
}

// retireStandbyPTE rewrites the PTE of the page a reclaimed Standby frame
// used to back, grounded on original_source/getPage.c's getStandbyPage
// (lines 134-199): with the frame lock held but not the evicted page's PTE
// stripe lock (taking it here could deadlock against a caller of
// acquireFrame that already holds a different page's stripe lock), the old
// Transition PTE is converted to Demand-zero if the page was never written
// to the pagefile, or to Pagefile format naming its slot otherwise, so the
// evicted page can still be found and faulted back in later. The rewrite
// is a CAS against the exact Transition value the frame still publishes;
// every other path that can also touch this PTE concurrently (decommitVA's
// walk, a racing fault) already re-reads and re-verifies the PTE before
// acting on it, so a failed CAS here is simply left for that path to
// resolve.
func (h *Handler) retireStandbyPTE(idx int32, fr *mem.Frame) {
	oldPage := int(fr.ReversePTEIndex)
	if fr.ReversePTEIndex == mem.NoFrame {
		return
	}
	cur := h.Table.Read(oldPage)
	if !cur.Transition() || int32(cur.Index()) != idx {
		return
	}
	perm := cur.Permissions()
	var next pte.PTE
	if fr.PagefileSlot == pagefile.NoSlot {
		next = pte.MakeDemandZero(perm)
	} else {
		next = pte.MakePagefile(uint32(fr.PagefileSlot), perm)
	}
	h.Table.CAS(oldPage, cur, next)
	fr.ReversePTEIndex = mem.NoFrame
}

// retireAwaitingFree releases a frame that was discovered to be
// AwaitingFree once a pagefile read raced a concurrent decommit, handing
// it back to the Free list the way internal/walk's decommitVA would have
// had the read not been in flight.
func (h *Handler) retireAwaitingFree(frame int32) {
	fr := h.Frames.Frame(frame)
	fr.Lock()
	fr.State = mem.SFree
	fr.PagefileSlot = pagefile.NoSlot
	fr.ReversePTEIndex = mem.NoFrame
	fr.Remodified = false
	h.Frames.Free.Enqueue(frame)
	fr.Unlock()
}
