// Package vad implements spec §4.E: the VAD (virtual address descriptor)
// list. Grounded on biscuit's fs.BlkList_t, which wraps container/list to
// give an intrusive-feeling list a concrete node type; VAD nodes are kept
// in insertion order and range lookups and overlap checks are a single
// linear scan over all of them, matching the spec's "VADs never overlap" invariant
// without needing an interval tree for an educational-scale address space.
package vad

import (
	"container/list"
	"sync"

	"github.com/biscuit-vm/uvm/internal/bitmap"
	"github.com/biscuit-vm/uvm/internal/commit"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/uerr"
)

// VAD is one virtual address descriptor (spec §3).
type VAD struct {
	StartVA  uintptr
	PageCount int
	Perms    pte.Perm
	IsCommit bool // true = commit semantics, false = reserve

	mu          sync.Mutex // inner "write" lock: protects DeleteBit/CommitCount
	deleteBit   bool
	commitCount int

	elem *list.Element // node in List.l; nil once unlinked
}

// DeleteBit reports whether this VAD is pending delete.
func (v *VAD) DeleteBit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.deleteBit
}

// CommitCount returns the number of pages currently charged to this VAD.
func (v *VAD) CommitCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commitCount
}

// AddCommitCount adjusts commitCount by delta (may be negative), asserting
// the invariant 0 <= commitCount <= PageCount (spec §3).
func (v *VAD) AddCommitCount(delta int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	nc := v.commitCount + delta
	if nc < 0 || nc > v.PageCount {
		uerr.Fatalf("vad: commitCount %d+%d out of range [0,%d]", v.commitCount, delta, v.PageCount)
	}
	v.commitCount = nc
}

// MarkDeleting sets the delete bit. Subsequent CommitVA and ProtectVA
// calls, and faults on pages whose PTE is all-zero, observe it and return
// AccessViolation; faults on pages whose PTE is still committed do not
// check it.
func (v *VAD) MarkDeleting() {
	v.mu.Lock()
	v.deleteBit = true
	v.mu.Unlock()
}

// EndVA returns the address one past the VAD's last page.
func (v *VAD) EndVA() uintptr {
	return v.StartVA + uintptr(v.PageCount)*uintptr(mem.PageSize)
}

// Contains reports whether [va, va+size) lies entirely within this VAD.
func (v *VAD) Contains(va uintptr, size uintptr) bool {
	return va >= v.StartVA && va+size <= v.EndVA() && va+size > va
}

// List is the global VAD list of spec §4.E: an outer lock governing list
// shape (insert/remove/lookup) and, per VAD, an inner lock governing field
// mutation. "VAD read" (RLock) is held for the duration of a commit/
// protect/decommit walk so the VAD can't be concurrently deleted out from
// under it; "VAD write" (Lock) is only taken by createVAD/deleteVAD, which
// mutate list shape.
type List struct {
	outer sync.RWMutex
	l     *list.List

	vaBitmap *bitmap.Bitmap
	vaBase   uintptr
}

// NewList creates an empty VAD list covering [vaBase, vaBase+vaPages*PageSize).
func NewList(vaBase uintptr, vaPages int) *List {
	return &List{
		l:        list.New(),
		vaBitmap: bitmap.New(vaPages),
		vaBase:   vaBase,
	}
}

// RLock/RUnlock expose the outer "VAD read" lock for range walkers that
// need to hold it across an entire multi-PTE walk (spec §4.I).
func (vl *List) RLock()   { vl.outer.RLock() }
func (vl *List) RUnlock() { vl.outer.RUnlock() }

func (vl *List) pageIndex(va uintptr) int {
	return int((va - vl.vaBase) / uintptr(mem.PageSize))
}

// overlapsLocked reports whether [start,start+n) pages overlaps any
// existing VAD. Callers must hold vl.outer for writing.
func (vl *List) overlapsLocked(start, n int) bool {
	for e := vl.l.Front(); e != nil; e = e.Next() {
		v := e.Value.(*VAD)
		vs := vl.pageIndex(v.StartVA)
		ve := vs + v.PageCount
		if start < ve && vs < start+n {
			return true
		}
	}
	return false
}

// Create implements spec §4.E's createVAD(startVA|null, n, perms,
// isCommit). When startVA is nil a free run is found in the VAD bitmap;
// otherwise the requested range must not overlap any existing VAD. If
// isCommit, n pages are charged to acct up front; on failure the call
// fails without mutating the list or the bitmap.
func (vl *List) Create(startVA *uintptr, n int, perms pte.Perm, isCommit bool, acct *commit.Accounting) (*VAD, error) {
	if n <= 0 {
		return nil, uerr.New(uerr.InvalidRange, "VAD page count must be positive")
	}
	if isCommit {
		if err := acct.Commit(int64(n)); err != nil {
			return nil, err
		}
	}

	vl.outer.Lock()
	defer vl.outer.Unlock()

	var start int
	if startVA == nil {
		start = vl.vaBitmap.Reserve(n)
		if start == bitmap.Invalid {
			if isCommit {
				acct.Decommit(int64(n))
			}
			return nil, uerr.New(uerr.InvalidRange, "no free VA run of %d pages", n)
		}
	} else {
		start = vl.pageIndex(*startVA)
		if start < 0 || start+n > vl.vaBitmap.Len() {
			if isCommit {
				acct.Decommit(int64(n))
			}
			return nil, uerr.New(uerr.InvalidRange, "VA range out of bounds")
		}
		if vl.overlapsLocked(start, n) {
			if isCommit {
				acct.Decommit(int64(n))
			}
			return nil, uerr.New(uerr.InvalidRange, "VA range overlaps an existing VAD")
		}
		if !vl.vaBitmap.ReserveAt(start, n) {
			if isCommit {
				acct.Decommit(int64(n))
			}
			return nil, uerr.New(uerr.InvalidRange, "VA range already reserved")
		}
	}

	v := &VAD{
		StartVA:   vl.vaBase + uintptr(start)*uintptr(mem.PageSize),
		PageCount: n,
		Perms:     perms,
		IsCommit:  isCommit,
	}
	if isCommit {
		v.commitCount = n
	}
	v.elem = vl.l.PushBack(v)
	return v, nil
}

// Lookup returns the VAD containing va, if any.
func (vl *List) Lookup(va uintptr) (*VAD, bool) {
	vl.outer.RLock()
	defer vl.outer.RUnlock()
	for e := vl.l.Front(); e != nil; e = e.Next() {
		v := e.Value.(*VAD)
		if va >= v.StartVA && va < v.EndVA() {
			return v, true
		}
	}
	return nil, false
}

// LookupExact returns the VAD starting exactly at va, if any, used by
// deleteVAD, which spec §4.E describes as taking the VAD's own address.
func (vl *List) LookupExact(va uintptr) (*VAD, bool) {
	vl.outer.RLock()
	defer vl.outer.RUnlock()
	for e := vl.l.Front(); e != nil; e = e.Next() {
		v := e.Value.(*VAD)
		if v.StartVA == va {
			return v, true
		}
	}
	return nil, false
}

// Unlink removes v from the list and releases its VA bitmap run. The
// caller must have already driven v's pages through decommitVA; this only
// retires the bookkeeping node (spec §4.E's deleteVAD: "unlink, free").
func (vl *List) Unlink(v *VAD) {
	vl.outer.Lock()
	defer vl.outer.Unlock()
	if v.elem != nil {
		vl.l.Remove(v.elem)
		v.elem = nil
	}
	start := vl.pageIndex(v.StartVA)
	vl.vaBitmap.Release(start, v.PageCount)
}

// All returns a snapshot slice of every VAD currently in the list, for
// debug scans and tests.
func (vl *List) All() []*VAD {
	vl.outer.RLock()
	defer vl.outer.RUnlock()
	out := make([]*VAD, 0, vl.l.Len())
	for e := vl.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*VAD))
	}
	return out
}
