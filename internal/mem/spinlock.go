package mem

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a compare-and-swap spin lock on a single word, released by a
// plain store, spec §4.B/§9: "A compare-and-swap on a single word;
// released by plain store. Contention is expected to be brief; avoid OS
// locks here to keep enqueue/dequeue fast." Modeled after biscuit's
// refcount/free-list CAS protocol in mem.Physmem_t, generalized into a
// reusable lock type since our frames need more than a free-list CAS.
type SpinLock struct {
	word int32
}

// Lock spins until it acquires the lock. Held only across O(1) work, never
// across I/O or blocking waits (spec §5).
func (s *SpinLock) Lock() {
	spins := 0
	for !atomic.CompareAndSwapInt32(&s.word, 0, 1) {
		spins++
		if spins&0xff == 0 {
			runtime.Gosched()
		}
	}
}

// TryLock attempts to acquire the lock without spinning, returning whether
// it succeeded.
func (s *SpinLock) TryLock() bool {
	return atomic.CompareAndSwapInt32(&s.word, 0, 1)
}

// Unlock releases the lock with a plain store.
func (s *SpinLock) Unlock() {
	atomic.StoreInt32(&s.word, 0)
}
