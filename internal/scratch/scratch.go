// Package scratch implements spec §4.G: a fixed pool of per-thread AWE
// mapping windows used to zero, write-to-pagefile, and read-from-pagefile. A
// window is a reserved VA that internal/host can repeatedly rebind onto
// different frames; the pool itself is sized "NUM_THREADS + small constant"
// so no combination of worker roles can deadlock waiting for a window
// (spec §4.G).
package scratch

import (
	"unsafe"

	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pte"
)

// extraWindows is the "small constant" spec §4.G adds on top of the
// thread count so every role (zeroer, writer, trimmer, fault handlers) can
// hold a window without starving another role.
const extraWindows = 4

// Pool is the scratch-VA pool. Go's buffered channels already provide
// exactly the "dequeue a node, use it, re-enqueue; wait when empty" idiom
// spec §4.G describes, so the pool is implemented directly as one rather
// than reimplementing a list+event pair that would behave identically.
type Pool struct {
	awe  host.AWE
	free chan uintptr
}

// NewPool reserves numThreads+extraWindows scratch VA windows from awe.
func NewPool(awe host.AWE, numThreads int) (*Pool, error) {
	n := numThreads + extraWindows
	p := &Pool{awe: awe, free: make(chan uintptr, n)}
	for i := 0; i < n; i++ {
		va, err := awe.ReserveVA(1)
		if err != nil {
			return nil, err
		}
		p.free <- va
	}
	return p, nil
}

// Window is a borrowed scratch VA bound to a frame. Release unbinds it and
// returns it to the pool; callers must always Release.
type Window struct {
	pool *Pool
	va   uintptr
}

// Acquire borrows a window and binds it to frame with the given
// permission. It blocks if the pool is momentarily exhausted, sized so
// that never deadlocks (spec §4.G).
func (p *Pool) Acquire(frame int32, perm pte.Perm) (*Window, error) {
	va := <-p.free
	if err := p.awe.MapPhysical(va, frame, perm); err != nil {
		p.free <- va
		return nil, err
	}
	return &Window{pool: p, va: va}, nil
}

// Bytes returns a byte slice viewing the window's current contents.
func (w *Window) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(w.va)), mem.PageSize)
}

// Release unbinds the window's frame and returns the VA to the pool.
func (w *Window) Release() {
	_ = w.pool.awe.Unmap(w.va)
	w.pool.free <- w.va
}

// ZeroFrame binds frame for writing, clears its contents, and releases the
// window, the operation the zeroer worker performs (spec §4.J).
func ZeroFrame(p *Pool, awe host.AWE, frame int32) error {
	w, err := p.Acquire(frame, pte.RW)
	if err != nil {
		return err
	}
	defer w.Release()
	b := w.Bytes()
	for i := range b {
		b[i] = 0
	}
	return nil
}
