package mem

import (
	"sync"

	"github.com/biscuit-vm/uvm/internal/event"
)

// List is one of the doubly-linked intrusive eviction queues of spec §4.C
// (zero, free, standby, modified, quarantine): a head/tail pair of frame
// indices, a lock protecting link mutation, a count, and a manual-reset
// "new page" event signaled on enqueue. It operates on a shared frame
// array owned by the enclosing FrameDB so that list links live inside
// Frame.prev/next rather than a separate container node.
type List struct {
	id     listID
	frames []Frame // shared with FrameDB; never reassigned after NewFrameDB

	mu         sync.Mutex
	head, tail int32 // NoFrame when empty
	count      int

	// NewItem is signaled whenever a frame is enqueued (spec §4.C).
	NewItem *event.ManualResetEvent

	// lowWater is not read by any code; FrameDB.MaybeWakeTrim compares
	// the combined {Zero,Free,Standby} count against FrameDB's own
	// minAvailable instead.
	lowWater int
}

func newList(id listID, frames []Frame) *List {
	return &List{
		id:      id,
		frames:  frames,
		head:    NoFrame,
		tail:    NoFrame,
		NewItem: event.New(),
	}
}

// Len returns the current number of frames on the list.
func (l *List) Len() int {
	l.mu.Lock()
	n := l.count
	l.mu.Unlock()
	return n
}

// enqueueHead links idx at the head of the list. The caller must already
// hold idx's frame lock (membership changes happen under both the frame
// lock and the list lock, spec §5).
func (l *List) enqueueHead(idx int32) {
	l.mu.Lock()
	f := &l.frames[idx]
	f.onList = l.id
	f.prev = NoFrame
	f.next = l.head
	if l.head != NoFrame {
		l.frames[l.head].prev = idx
	}
	l.head = idx
	if l.tail == NoFrame {
		l.tail = idx
	}
	l.count++
	l.mu.Unlock()
	l.NewItem.Signal()
}

// unlinkLocked removes idx from the list. l.mu must be held by the caller.
func (l *List) unlinkLocked(idx int32) {
	f := &l.frames[idx]
	if f.prev != NoFrame {
		l.frames[f.prev].next = f.next
	} else {
		l.head = f.next
	}
	if f.next != NoFrame {
		l.frames[f.next].prev = f.prev
	} else {
		l.tail = f.prev
	}
	f.prev, f.next = NoFrame, NoFrame
	f.onList = listNone
	l.count--
}

// dequeueHead removes and returns the frame at the head, or NoFrame if the
// list is empty. The caller must separately acquire the returned frame's
// lock if it needs one; use DequeueHeadLocked when both are needed, since
// acquiring frame-then-list is always lock-order-safe for the head (the
// head can't be concurrently reclaimed off the tail without first taking
// the list lock this call already holds).
func (l *List) dequeueHead() int32 {
	l.mu.Lock()
	idx := l.head
	if idx != NoFrame {
		l.unlinkLocked(idx)
	}
	l.mu.Unlock()
	return idx
}

// DequeueHeadLocked dequeues the head frame and returns it with its frame
// lock held, or NoFrame if empty.
func (l *List) DequeueHeadLocked() int32 {
	for {
		l.mu.Lock()
		idx := l.head
		if idx == NoFrame {
			l.mu.Unlock()
			return NoFrame
		}
		f := &l.frames[idx]
		if !f.TryLock() {
			// contended; release list lock and retry to avoid spinning
			// on the frame lock while holding the list lock.
			l.mu.Unlock()
			f.Lock()
			f.Unlock()
			continue
		}
		l.unlinkLocked(idx)
		l.mu.Unlock()
		return idx
	}
}

// DequeueTailLocked implements spec §4.C's tail-reclaim ordering rule used
// for standby reclaim: acquire the tail frame's lock *before* the list
// lock, re-verify the frame is still at the tail after both are held,
// otherwise retry. This prevents AB/BA against fault paths that take
// frame-then-PTE locks. Returns NoFrame if the list is empty, with the
// returned frame's lock held on success.
func (l *List) DequeueTailLocked() int32 {
	for {
		l.mu.Lock()
		idx := l.tail
		l.mu.Unlock()
		if idx == NoFrame {
			return NoFrame
		}
		f := &l.frames[idx]
		f.Lock()
		l.mu.Lock()
		if l.tail != idx {
			// raced with another dequeuer or an insertion; retry.
			l.mu.Unlock()
			f.Unlock()
			continue
		}
		l.unlinkLocked(idx)
		l.mu.Unlock()
		return idx
	}
}

// Remove unlinks a specific frame from the list, e.g. when a Standby
// frame is re-faulted before the trimmer reaches it. The caller must hold
// idx's frame lock.
func (l *List) Remove(idx int32) {
	l.mu.Lock()
	if l.frames[idx].onList == l.id {
		l.unlinkLocked(idx)
	}
	l.mu.Unlock()
}

// Enqueue links idx at the head of the list. The caller must hold idx's
// frame lock.
func (l *List) Enqueue(idx int32) {
	l.enqueueHead(idx)
}
