// Package host implements the external host-mapping primitive spec §6
// names as a required collaborator: "a function mapPhysical(va, n,
// frameList|null) that atomically installs or removes n frames at a
// page-aligned VA, and a page allocator that returns concrete frame
// numbers." biscuit's mem.Physmem_t.Dmap gets this for free from the
// kernel's own permanent direct-map region and a custom runtime
// (runtime.Get_phys); an ordinary userspace process has no such facility,
// so AWE here is implemented with real Linux syscalls: a memfd stands in
// for "physical memory" (every frame is an offset into it) and mmap with
// MAP_FIXED binds and rebinds virtual addresses onto those offsets, the real-syscall
// analogue of Windows's AllocateUserPhysicalPages/MapUserPhysicalPages.
package host

import (
	"fmt"

	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pte"
)

// AWE abstracts the host mapping primitive so internal/fault, internal/walk
// and internal/worker never depend on a concrete OS. The name echoes spec
// §1's "Address Windowing Extensions or equivalent."
type AWE interface {
	// ReserveVA reserves an inaccessible VA range npages long and returns
	// its base address. Called once for the whole emulated VA space and
	// once per scratch window.
	ReserveVA(npages int) (uintptr, error)

	// MapPhysical installs frame at the single page-aligned address va
	// with the given permission, replacing whatever was mapped there.
	MapPhysical(va uintptr, frame int32, perm pte.Perm) error

	// Unmap removes any mapping at va, leaving the VA reserved but
	// inaccessible (PROT_NONE) so the range stays out of the allocator's
	// reach without returning it to the OS.
	Unmap(va uintptr) error

	// Protect changes the permission of an already-mapped page without
	// changing which frame backs it.
	Protect(va uintptr, perm pte.Perm) error

	// FrameOffset returns frame's byte offset within the backing store,
	// for callers (pagefile, scratch) that need to reason about aliasing.
	FrameOffset(frame int32) int64

	// Close releases the backing store. Called once during shutdown.
	Close() error
}

func permToProt(perm pte.Perm) int {
	prot := 0
	if perm.Readable() {
		prot |= protRead
	}
	if perm.Writable() {
		prot |= protWrite
	}
	if perm.Executable() {
		prot |= protExec
	}
	return prot
}

// PageIndex returns the page number for a byte address, asserting
// alignment (spec §4.D PTEs address whole pages only).
func PageIndex(va uintptr) int64 {
	if va%mem.PageSize != 0 {
		panic(fmt.Sprintf("host: unaligned va %#x", va))
	}
	return int64(va) / mem.PageSize
}
