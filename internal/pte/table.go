package pte

import (
	"sync"
	"sync/atomic"

	"github.com/biscuit-vm/uvm/internal/diag"
)

// Table is the per-process virtual page table of spec §4.D: one PTE per
// virtual page, protected by a striped set of locks (one lock per K
// contiguous PTEs, K = Table.stripe).
type Table struct {
	entries []uint64 // each slot is a PTE stored for atomic access
	locks   []sync.Mutex
	stripe  int // pages per lock (K)

	// ChangeLog, when non-nil, records every WritePTE call (spec §4.D).
	ChangeLog *diag.ChangeLog
}

// NewTable allocates a table of npages PTEs striped pagesPerLock pages per
// lock.
func NewTable(npages, pagesPerLock int) *Table {
	if pagesPerLock <= 0 {
		pagesPerLock = 1
	}
	nlocks := (npages + pagesPerLock - 1) / pagesPerLock
	if nlocks == 0 {
		nlocks = 1
	}
	return &Table{
		entries: make([]uint64, npages),
		locks:   make([]sync.Mutex, nlocks),
		stripe:  pagesPerLock,
	}
}

// NPages returns the number of virtual pages the table covers.
func (t *Table) NPages() int { return len(t.entries) }

func (t *Table) stripeOf(page int) int { return page / t.stripe }

// Lock acquires the stripe lock covering page.
func (t *Table) Lock(page int) { t.locks[t.stripeOf(page)].Lock() }

// Unlock releases the stripe lock covering page.
func (t *Table) Unlock(page int) { t.locks[t.stripeOf(page)].Unlock() }

// AcquireOrHoldSubsequent implements spec §4.D's
// acquireOrHoldSubsequentPTELock: if cur and prev hash to the same stripe
// lock, keep holding it; otherwise release prev's stripe lock (when prev
// >= 0) and acquire cur's. Range walkers use this to minimize lock
// traffic when sweeping contiguous PTEs. Returns the page whose lock is
// now held (cur), to be passed as "prev" on the next call.
func (t *Table) AcquireOrHoldSubsequent(cur, prev int) int {
	if prev >= 0 && t.stripeOf(cur) == t.stripeOf(prev) {
		return cur
	}
	if prev >= 0 {
		t.Unlock(prev)
	}
	t.Lock(cur)
	return cur
}

// Read atomically loads the PTE at page. Callers normally hold the stripe
// lock already (for a consistent snapshot across a read-modify-write); a
// bare atomic load is still used so concurrent lock-free peeks (e.g. the
// trimmer's initial scan) never observe a torn word.
func (t *Table) Read(page int) PTE {
	return PTE(atomic.LoadUint64(&t.entries[page]))
}

// WritePTE performs the single atomic store that publishes a new PTE value
// for page, matching spec §4.D: "PTEs are never mutated except through a
// writePTE(dest, value) that performs an atomic store". The caller must
// hold the stripe lock for page. va is supplied only for the change log
// and may be zero when not meaningful; the logged frame number is taken
// from value's index (-1 when value carries none).
func (t *Table) WritePTE(page int, va uintptr, value PTE) {
	old := atomic.SwapUint64(&t.entries[page], uint64(value))
	if t.ChangeLog != nil {
		pfn := int32(-1)
		if value.HasIndex() {
			pfn = int32(value.Index())
		}
		t.ChangeLog.Record(va, old, uint64(value), pfn, 1)
	}
}

// CAS attempts to atomically replace the PTE at page with newVal iff its
// current value equals oldVal. Used by lock-free retry loops that observe
// page-state-change without wanting to take the stripe lock twice.
func (t *Table) CAS(page int, oldVal, newVal PTE) bool {
	return atomic.CompareAndSwapUint64(&t.entries[page], uint64(oldVal), uint64(newVal))
}
