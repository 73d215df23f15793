// Package commit implements spec §4.K: the global committed-page counter,
// CAS-updated against memoryLimit, lock-free. Grounded on biscuit's
// limits.Sysatomic_t (a bare int64 guarded only by atomic ops) generalized
// from a simple counter to one with an admission check.
package commit

import (
	"sync/atomic"

	"github.com/biscuit-vm/uvm/internal/uerr"
)

// Accounting is the committed-pages counter of spec §3/§4.K.
type Accounting struct {
	committed int64
	limit     int64
}

// New creates an accounting tracker with the given memoryLimit (spec §3:
// "memoryLimit = physicalFrames + pagefileSlots").
func New(limit int64) *Accounting {
	return &Accounting{limit: limit}
}

// Committed returns the current committed-page count.
func (a *Accounting) Committed() int64 {
	return atomic.LoadInt64(&a.committed)
}

// Limit returns memoryLimit.
func (a *Accounting) Limit() int64 {
	return a.limit
}

// Commit charges n pages against the limit, failing atomically (no
// partial charge) if doing so would exceed memoryLimit or overflow. Spec
// §4.K: "Rejects overflow and overcommit."
func (a *Accounting) Commit(n int64) error {
	if n < 0 {
		panic("commit: negative charge")
	}
	for {
		cur := atomic.LoadInt64(&a.committed)
		next := cur + n
		if next < cur || next > a.limit {
			return uerr.New(uerr.InsufficientCommit,
				"charge %d would bring committed %d past limit %d", n, cur, a.limit)
		}
		if atomic.CompareAndSwapInt64(&a.committed, cur, next) {
			return nil
		}
	}
}

// Decommit returns n pages to the pool. Balancing commit/decommit calls is
// the sole responsibility of the range walkers (spec §4.K).
func (a *Accounting) Decommit(n int64) {
	if n < 0 {
		panic("decommit: negative charge")
	}
	for {
		cur := atomic.LoadInt64(&a.committed)
		next := cur - n
		if next < 0 {
			uerr.Fatalf("commit: decommit %d would underflow committed %d", n, cur)
		}
		if atomic.CompareAndSwapInt64(&a.committed, cur, next) {
			return
		}
	}
}
