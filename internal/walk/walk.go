// Package walk implements spec §4.I: the range walkers that drive
// commitVA, protectVA, decommitVA, and trimVA/trimPTE across a span of
// PTEs, holding the VAD read lock for the whole walk and threading the
// stripe-lock-minimizing AcquireOrHoldSubsequent rule as they go.
package walk

import (
	"github.com/biscuit-vm/uvm/internal/commit"
	"github.com/biscuit-vm/uvm/internal/event"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pagefile"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/uerr"
	"github.com/biscuit-vm/uvm/internal/vad"
)

// Walker bundles the collaborators every range operation needs.
type Walker struct {
	Table    *pte.Table
	Frames   *mem.FrameDB
	VADs     *vad.List
	Pagefile *pagefile.Pagefile
	AWE      host.AWE
	Events   *event.Pool
	Commit   *commit.Accounting

	// ModifiedWriterWake is pulsed by trimVA to wake the modified writer
	// (spec §4.I: "Wake the modified writer by setting then resetting its
	// event").
	ModifiedWriterWake *event.ManualResetEvent
}

func pagesIn(size uintptr) int { return int(size) / mem.PageSize }

// uncommittedPTE reports whether a PTE currently represents a page not
// backed by commit accounting: either never touched (Zero) or explicitly
// decommitted within a commit VAD (decommit-marked).
func uncommittedPTE(p pte.PTE) bool {
	return p.IsZero() || p.IsDecommitMarked()
}

// vadFor locates the single VAD containing [va, va+size) and fails if the
// range straddles a boundary or the VAD is mid-delete, matching every
// walker's "requires the range to lie within one VAD" precondition.
func (w *Walker) vadFor(va uintptr, size uintptr) (*vad.VAD, error) {
	v, ok := w.VADs.Lookup(va)
	if !ok || !v.Contains(va, size) {
		return nil, uerr.New(uerr.InvalidRange, "range [%#x,%#x) is not contained in a single VAD", va, va+size)
	}
	return v, nil
}

// CommitVA implements spec §4.I's commitVA(startVA, perms, size).
func (w *Walker) CommitVA(startVA uintptr, perms pte.Perm, size uintptr) error {
	w.VADs.RLock()
	defer w.VADs.RUnlock()

	v, err := w.vadFor(startVA, size)
	if err != nil {
		return err
	}
	if v.DeleteBit() {
		return uerr.New(uerr.AccessViolation, "VAD at %#x is pending delete", v.StartVA)
	}

	n := pagesIn(size)
	firstPage := int(host.PageIndex(startVA))

	chargeUpFront := !v.IsCommit
	charged := int64(0)
	if chargeUpFront {
		if err := w.Commit.Commit(int64(n)); err == nil {
			charged = int64(n)
		}
	}

	// Either the VAD is already commit-backed, or the up-front charge for
	// a reserve VAD failed: in both cases only the pages that are
	// currently uncommitted in this range need to be charged.
	if !chargeUpFront || charged == 0 {
		toCharge := int64(0)
		prev := -1
		for i := 0; i < n; i++ {
			page := firstPage + i
			prev = w.Table.AcquireOrHoldSubsequent(page, prev)
			if uncommittedPTE(w.Table.Read(page)) {
				toCharge++
			}
		}
		if prev >= 0 {
			w.Table.Unlock(prev)
		}
		if err := w.Commit.Commit(toCharge); err != nil {
			return err
		}
		charged = toCharge
	}
	v.AddCommitCount(int(charged))

	prev := -1
	for i := 0; i < n; i++ {
		page := firstPage + i
		va := startVA + uintptr(i)*mem.PageSize
		prev = w.Table.AcquireOrHoldSubsequent(page, prev)
		w.commitOnePTE(page, va, perms)
	}
	if prev >= 0 {
		w.Table.Unlock(prev)
	}
	return nil
}

// commitOnePTE applies commitVA's per-PTE rule to one page. The caller
// holds the stripe lock for page.
func (w *Walker) commitOnePTE(page int, va uintptr, perms pte.Perm) {
	for {
		snap := w.Table.Read(page)
		switch {
		case snap.Valid() || snap.IsPagefile() || snap.IsDemandZero():
			w.Table.WritePTE(page, va, snap.WithPermissions(perms))
			return
		case snap.Transition():
			idx := int32(snap.Index())
			fr := w.Frames.Frame(idx)
			fr.Lock()
			if w.Table.Read(page) != snap {
				fr.Unlock()
				continue
			}
			fr.Unlock()
			w.Table.WritePTE(page, va, snap.WithPermissions(perms))
			return
		default:
			w.Table.WritePTE(page, va, pte.MakeDemandZero(perms))
			return
		}
	}
}

// ProtectVA implements spec §4.I's protectVA(startVA, perms, size).
func (w *Walker) ProtectVA(startVA uintptr, perms pte.Perm, size uintptr) error {
	w.VADs.RLock()
	defer w.VADs.RUnlock()
	v, err := w.vadFor(startVA, size)
	if err != nil {
		return err
	}
	if v.DeleteBit() {
		return uerr.New(uerr.AccessViolation, "VAD at %#x is pending delete", v.StartVA)
	}

	n := pagesIn(size)
	firstPage := int(host.PageIndex(startVA))
	prev := -1
	for i := 0; i < n; i++ {
		page := firstPage + i
		va := startVA + uintptr(i)*mem.PageSize
		prev = w.Table.AcquireOrHoldSubsequent(page, prev)
		snap := w.Table.Read(page)
		if snap.Valid() {
			if err := w.AWE.Protect(va, perms); err != nil {
				w.Table.Unlock(prev)
				return err
			}
		}
		if snap.Valid() || snap.Transition() || snap.IsPagefile() || snap.IsDemandZero() {
			w.Table.WritePTE(page, va, snap.WithPermissions(perms))
		}
	}
	if prev >= 0 {
		w.Table.Unlock(prev)
	}
	return nil
}

// DecommitVA implements spec §4.I's decommitVA(startVA, size).
func (w *Walker) DecommitVA(startVA uintptr, size uintptr) error {
	w.VADs.RLock()
	defer w.VADs.RUnlock()
	v, err := w.vadFor(startVA, size)
	if err != nil {
		return err
	}

	n := pagesIn(size)
	firstPage := int(host.PageIndex(startVA))
	released := 0

	prev := -1
	for i := 0; i < n; i++ {
		page := firstPage + i
		va := startVA + uintptr(i)*mem.PageSize
		prev = w.Table.AcquireOrHoldSubsequent(page, prev)
		if w.decommitOnePTE(page, va, v) {
			released++
		}
	}
	if prev >= 0 {
		w.Table.Unlock(prev)
	}

	if released > 0 {
		w.Commit.Decommit(int64(released))
		v.AddCommitCount(-released)
	}
	return nil
}

// decommitOnePTE applies decommitVA's per-state rule to one page and
// reports whether a committed page was actually released. The caller
// holds the stripe lock for page.
func (w *Walker) decommitOnePTE(page int, va uintptr, v *vad.VAD) bool {
	deleting := v.DeleteBit()
	for {
		snap := w.Table.Read(page)
		switch {
		case snap.Valid():
			idx := int32(snap.Index())
			fr := w.Frames.Frame(idx)
			fr.Lock()
			if err := w.AWE.Unmap(va); err != nil {
				fr.Unlock()
				uerr.Fatalf("walk: unmap va %#x: %v", va, err)
			}
			if fr.WriteInProgress || fr.RefCount > 0 {
				fr.State = mem.SAwaitingFree
				fr.Unlock()
			} else {
				w.Pagefile.FreeSlot(fr.PagefileSlot)
				fr.PagefileSlot = pagefile.NoSlot
				fr.Remodified = false
				fr.State = mem.SFree
				fr.ReversePTEIndex = mem.NoFrame
				w.Frames.Free.Enqueue(idx)
				fr.Unlock()
			}
			w.writeDecommitResult(page, va, v, deleting)
			return true
		case snap.Transition():
			idx := int32(snap.Index())
			fr := w.Frames.Frame(idx)
			fr.Lock()
			if w.Table.Read(page) != snap {
				fr.Unlock()
				continue
			}
			if fr.WriteInProgress || fr.ReadInProgress || fr.RefCount > 0 {
				fr.State = mem.SAwaitingFree
				fr.Unlock()
			} else {
				w.Frames.ListFor(fr.State).Remove(idx)
				w.Pagefile.FreeSlot(fr.PagefileSlot)
				fr.PagefileSlot = pagefile.NoSlot
				fr.State = mem.SFree
				fr.ReversePTEIndex = mem.NoFrame
				w.Frames.Free.Enqueue(idx)
				fr.Unlock()
			}
			w.writeDecommitResult(page, va, v, deleting)
			return true
		case snap.IsPagefile():
			w.Pagefile.FreeSlot(int32(snap.Index()))
			w.writeDecommitResult(page, va, v, deleting)
			return true
		case snap.IsDemandZero():
			w.writeDecommitResult(page, va, v, deleting)
			return true
		case snap.IsDecommitMarked():
			return false
		default: // zero PTE: reserve-uncommitted, or commit-mid-delete
			return false
		}
	}
}

// writeDecommitResult publishes the post-decommit PTE: a decommit-marked
// PTE for a surviving commit VAD, or a fully zero PTE for a reserve VAD
// or a VAD mid-delete (spec §4.I).
func (w *Walker) writeDecommitResult(page int, va uintptr, v *vad.VAD, deleting bool) {
	if v.IsCommit && !deleting {
		w.Table.WritePTE(page, va, pte.MakeDecommitMarked())
	} else {
		w.Table.WritePTE(page, va, pte.Zero)
	}
}

// TrimVA implements spec §4.I's trimVA(va)/trimPTE(pte): it pages a
// single Valid PTE out to Transition, queuing its frame for the writer or
// reclaimer as appropriate.
func (w *Walker) TrimVA(va uintptr) error {
	page := int(host.PageIndex(va))
	w.Table.Lock(page)
	defer w.Table.Unlock(page)
	return w.trimLocked(page, va)
}

// trimLocked implements trimPTE for a page whose stripe lock the caller
// already holds.
func (w *Walker) trimLocked(page int, va uintptr) error {
	snap := w.Table.Read(page)
	if !snap.Valid() {
		return uerr.New(uerr.InvalidRange, "va %#x is not in the Valid state", va)
	}
	perm := snap.Permissions()
	idx := int32(snap.Index())
	dirty := snap.Dirty()

	trans := pte.MakeTransition(uint32(idx), perm)
	if err := w.AWE.Unmap(va); err != nil {
		return err
	}

	fr := w.Frames.Frame(idx)
	fr.Lock()
	switch {
	case fr.WriteInProgress || fr.RefCount > 0:
		if dirty {
			fr.State = mem.SModified
			fr.Remodified = true
		} else {
			fr.State = mem.SStandby
		}
	case dirty || fr.Remodified:
		w.Pagefile.FreeSlot(fr.PagefileSlot)
		fr.PagefileSlot = pagefile.NoSlot
		fr.Remodified = false
		fr.State = mem.SModified
		w.Frames.Modified.Enqueue(idx)
	default:
		fr.State = mem.SStandby
		w.Frames.Standby.Enqueue(idx)
	}
	fr.Unlock()

	w.Table.WritePTE(page, va, trans)
	if w.ModifiedWriterWake != nil {
		w.ModifiedWriterWake.Pulse()
	}
	return nil
}
