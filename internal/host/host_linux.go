//go:build linux

package host

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pte"
)

const (
	protRead  = unix.PROT_READ
	protWrite = unix.PROT_WRITE
	protExec  = unix.PROT_EXEC
)

// LinuxAWE is the default AWE implementation: a memfd-backed arena of
// nframes pages stands in for host physical memory, and every VA binding
// is a raw mmap syscall against that single file descriptor so the
// same frame can be aliased at many virtual addresses simultaneously,
// exactly the guarantee AWE's MapUserPhysicalPages gives, and the
// property spec §4.F's scratch-VA read/write and §4.I's trimVA rely on.
type LinuxAWE struct {
	fd      int
	nframes int
}

// NewLinuxAWE creates the backing memfd sized for nframes pages.
func NewLinuxAWE(nframes int) (*LinuxAWE, error) {
	fd, err := unix.MemfdCreate("uvm-physmem", 0)
	if err != nil {
		return nil, fmt.Errorf("host: memfd_create: %w", err)
	}
	size := int64(nframes) * int64(mem.PageSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("host: ftruncate: %w", err)
	}
	return &LinuxAWE{fd: fd, nframes: nframes}, nil
}

// ReserveVA reserves an inaccessible VA range via an anonymous mapping.
// MAP_NORESERVE avoids charging overcommit against pages this process
// never intends to back with real memory outside the arena.
func (a *LinuxAWE) ReserveVA(npages int) (uintptr, error) {
	length := npages * mem.PageSize
	addr, err := rawMmap(0, length, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE, -1, 0)
	if err != nil {
		return 0, fmt.Errorf("host: reserve %d pages: %w", npages, err)
	}
	return addr, nil
}

// FrameOffset returns the byte offset of frame within the memfd.
func (a *LinuxAWE) FrameOffset(frame int32) int64 {
	if int(frame) < 0 || int(frame) >= a.nframes {
		panic(fmt.Sprintf("host: frame %d out of range [0,%d)", frame, a.nframes))
	}
	return int64(frame) * int64(mem.PageSize)
}

// MapPhysical binds va to frame's offset in the memfd with MAP_FIXED,
// atomically replacing whatever was mapped there, the host mapping
// primitive of spec §6.
func (a *LinuxAWE) MapPhysical(va uintptr, frame int32, perm pte.Perm) error {
	off := a.FrameOffset(frame)
	prot := permToProt(perm)
	_, err := rawMmap(va, mem.PageSize, prot,
		unix.MAP_SHARED|unix.MAP_FIXED, a.fd, off)
	if err != nil {
		return fmt.Errorf("host: map frame %d at %#x: %w", frame, va, err)
	}
	return nil
}

// Unmap replaces the mapping at va with an inaccessible anonymous page,
// keeping the VA reserved but unreachable.
func (a *LinuxAWE) Unmap(va uintptr) error {
	_, err := rawMmap(va, mem.PageSize, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED|unix.MAP_NORESERVE, -1, 0)
	if err != nil {
		return fmt.Errorf("host: unmap %#x: %w", va, err)
	}
	return nil
}

// Protect changes the permission of the page already mapped at va.
func (a *LinuxAWE) Protect(va uintptr, perm pte.Perm) error {
	prot := permToProt(perm)
	if prot == 0 {
		prot = unix.PROT_NONE
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(va)), mem.PageSize)
	if err := unix.Mprotect(b, prot); err != nil {
		return fmt.Errorf("host: mprotect %#x: %w", va, err)
	}
	return nil
}

// Close releases the memfd.
func (a *LinuxAWE) Close() error {
	return unix.Close(a.fd)
}

// rawMmap calls mmap(2) directly so a fixed destination address can be
// supplied, golang.org/x/sys/unix.Mmap has no addr parameter since it
// always lets the kernel choose the address.
func rawMmap(addr uintptr, length, prot, flags, fd int, offset int64) (uintptr, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length),
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return 0, errno
	}
	return r, nil
}
