// Package event implements the manual-reset event and pooled
// read-in-progress completion handle described in spec §4.C/§4.H and
// §9's "Event/wait/refcount idiom". Go has no native manual-reset event,
// so this models it the way the language idiomatically does: a
// channel that is closed to broadcast "signaled" and swapped for a fresh
// one on Reset, guarded by a mutex so Signal/Reset/Wait never race.
package event

import "sync"

// ManualResetEvent stays signaled until explicitly reset, exactly like the
// new-page events of spec §4.C and the wake-trim/wake-modified-writer
// events of spec §5.
type ManualResetEvent struct {
	mu sync.Mutex
	ch chan struct{}
}

// New returns a non-signaled event.
func New() *ManualResetEvent {
	return &ManualResetEvent{ch: make(chan struct{})}
}

// Signal sets the event. Idempotent: signaling an already-signaled event
// is a no-op.
func (e *ManualResetEvent) Signal() {
	e.mu.Lock()
	select {
	case <-e.ch:
		// already signaled
	default:
		close(e.ch)
	}
	e.mu.Unlock()
}

// Reset clears the event.
func (e *ManualResetEvent) Reset() {
	e.mu.Lock()
	select {
	case <-e.ch:
		e.ch = make(chan struct{})
	default:
	}
	e.mu.Unlock()
}

// C returns the channel to select/wait on. A caller that needs to
// "wait on any of the zero/free/standby new-page events" (spec §4.H)
// selects across every list's C() plus a termination channel and a
// bounded-timeout timer, the safety net spec §5 requires ("waits on
// new-page events use a bounded timeout").
func (e *ManualResetEvent) C() <-chan struct{} {
	e.mu.Lock()
	ch := e.ch
	e.mu.Unlock()
	return ch
}

// Pulse signals then immediately resets the event, the idiom spec §4.I's
// trimVA uses to "wake the modified writer by setting then resetting its
// event", any goroutine already blocked in a select on C() observes the
// momentary close; a goroutine that arrives after Pulse returns must rely
// on rechecking the condition it was waiting for, since the channel is no
// longer closed by the time it looks.
func (e *ManualResetEvent) Pulse() {
	e.mu.Lock()
	old := e.ch
	e.ch = make(chan struct{})
	e.mu.Unlock()
	select {
	case <-old:
	default:
		close(old)
	}
}

// CompletionHandle is the per-frame reference-counted "read in progress"
// handle of spec §9: a completion object threads attach to while waiting
// for a pagefile read, and detach from when done. The last detacher
// returns the handle to its Pool.
type CompletionHandle struct {
	evt      ManualResetEvent
	refCount int32
	mu       sync.Mutex
	pool     *Pool
}

// Signal marks the completion as done, waking every waiter.
func (h *CompletionHandle) Signal() { h.evt.Signal() }

// Wait blocks until Signal has been called.
func (h *CompletionHandle) Wait() { <-h.evt.C() }

// Attach increments the handle's reference count. Callers attach before
// dropping their frame/PTE locks to wait, matching spec §4.H's Transition
// case: "obtain the event node, increment its refCount, drop PFN and PTE
// locks, wait".
func (h *CompletionHandle) Attach() {
	h.mu.Lock()
	h.refCount++
	h.mu.Unlock()
}

// Detach decrements the reference count. When it reaches zero the handle
// is reset and returned to its pool.
func (h *CompletionHandle) Detach() {
	h.mu.Lock()
	h.refCount--
	last := h.refCount == 0
	h.mu.Unlock()
	if last {
		h.evt.Reset()
		h.pool.put(h)
	}
}

// Pool is a free list of CompletionHandle, avoiding per-fault allocation.
type Pool struct {
	mu   sync.Mutex
	free []*CompletionHandle
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get detaches a handle from the pool (allocating one if the pool is
// empty) with refCount already set to 1, matching spec §4.H's Pagefile
// case: "detach an event node with refCount=1".
func (p *Pool) Get() *CompletionHandle {
	p.mu.Lock()
	var h *CompletionHandle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()
	if h == nil {
		h = &CompletionHandle{pool: p, evt: ManualResetEvent{ch: make(chan struct{})}}
	}
	h.refCount = 1
	return h
}

func (p *Pool) put(h *CompletionHandle) {
	p.mu.Lock()
	p.free = append(p.free, h)
	p.mu.Unlock()
}
