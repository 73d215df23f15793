// Package pagefile implements spec §4.F: a bitmap-managed backing store
// addressed by slot index, written and read through a scratch VA the way
// the spec's write/read operations describe. Grounded on biscuit's
// fs.Bdev_block_t/Disk_i shape (a cached block naming a disk offset,
// moved to/from memory through an explicit copy), generalized from disk
// blocks to pagefile slots and from a block device to any byte-addressable
// Store.
package pagefile

import (
	"encoding/binary"
	"sync"

	"github.com/biscuit-vm/uvm/internal/bitmap"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/scratch"
	"github.com/biscuit-vm/uvm/internal/uerr"
)

// Store is the byte-addressable pagefile store spec §1 treats as an
// external collaborator. *os.File satisfies it directly.
type Store interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// NoSlot marks "no pagefile slot".
const NoSlot int32 = -1

// Pagefile is the slot allocator plus backing store of spec §4.F.
type Pagefile struct {
	mu   sync.Mutex
	bits *bitmap.Bitmap

	store   Store
	scratch *scratch.Pool
	awe     host.AWE
}

// New creates a pagefile with the given slot capacity, backed by store and
// using scratchPool for the mapping window needed to copy frame contents
// in and out.
func New(store Store, slots int, awe host.AWE, scratchPool *scratch.Pool) *Pagefile {
	return &Pagefile{
		bits:    bitmap.New(slots),
		store:   store,
		scratch: scratchPool,
		awe:     awe,
	}
}

// Slots returns the total slot capacity.
func (pf *Pagefile) Slots() int { return pf.bits.Len() }

// Occupied returns how many slots are currently in use, for spec §8's
// "pagefile bitmap has exactly N bits set" invariant checks.
func (pf *Pagefile) Occupied() int {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.bits.PopCount()
}

// allocSlot reserves one free slot, or NoSlot if the store is full.
func (pf *Pagefile) allocSlot() int32 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	i := pf.bits.Reserve(1)
	if i == bitmap.Invalid {
		return NoSlot
	}
	return int32(i)
}

// FreeSlot releases slot back to the free pool. Freeing an already-free
// slot is a programmer error (spec §4.A "asserts on double-clear").
func (pf *Pagefile) FreeSlot(slot int32) {
	if slot == NoSlot {
		return
	}
	pf.mu.Lock()
	pf.bits.Release(int(slot), 1)
	pf.mu.Unlock()
}

func slotOffset(slot int32) int64 { return int64(slot) * int64(mem.PageSize) }

// Write copies frame's contents to a freshly allocated slot and returns
// it, implementing spec §4.F's write(frame): "picks a free slot, maps the
// frame to a scratch write VA, memcpies contents into
// pagefile[slot*PAGE_SIZE], unmaps." Returns uerr.InsufficientCommit-style
// NoAvailablePages when the store is full (a transient condition a caller
// can retry after freeing slots).
func (pf *Pagefile) Write(frame int32) (int32, error) {
	slot := pf.allocSlot()
	if slot == NoSlot {
		return NoSlot, uerr.New(uerr.NoAvailablePages, "pagefile exhausted")
	}
	w, err := pf.scratch.Acquire(frame, pte.R)
	if err != nil {
		pf.FreeSlot(slot)
		return NoSlot, err
	}
	defer w.Release()
	if _, err := pf.store.WriteAt(w.Bytes(), slotOffset(slot)); err != nil {
		pf.FreeSlot(slot)
		return NoSlot, err
	}
	return slot, nil
}

// ReadOpts configures Read's optional signature check.
type ReadOpts struct {
	// VerifySignature enables spec §4.F's test-only aliasing check: the
	// first machine word of the page, if non-zero, must equal
	// ExpectedVA.
	VerifySignature bool
	ExpectedVA       uintptr
}

// Read copies slot's contents into frame via a scratch VA, implementing
// spec §4.F's read(frame, slot, signature).
func (pf *Pagefile) Read(frame int32, slot int32, opts ReadOpts) error {
	w, err := pf.scratch.Acquire(frame, pte.RW)
	if err != nil {
		return err
	}
	defer w.Release()
	if _, err := pf.store.ReadAt(w.Bytes(), slotOffset(slot)); err != nil {
		return err
	}
	if opts.VerifySignature {
		b := w.Bytes()
		sig := binary.LittleEndian.Uint64(b[:8])
		if sig != 0 && sig != uint64(opts.ExpectedVA) {
			uerr.Fatalf("pagefile signature mismatch: slot %d has %#x, want %#x",
				slot, sig, opts.ExpectedVA)
		}
	}
	return nil
}
