// Package diag holds the kernel's diagnostics: gated counters in the style
// of biscuit's stats package, a fixed-capacity PTE change log modeled on
// biscuit's circbuf, backtrace capture modeled on biscuit's caller package,
// and a pprof-profile census of the page-list population.
package diag

import "sync/atomic"

// Stats gates cheap counters; Timing gates cycle-accurate timers. Both
// default off, exactly as biscuit's stats.Stats/stats.Timing do, so a
// production build pays nothing for them.
var (
	Stats  = false
	Timing = false
)

// Counter_t is a statistical counter whose Inc and Add do nothing when
// Stats is false.
type Counter_t int64

// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Stats {
		atomic.AddInt64((*int64)(c), 1)
	}
}

// Add adds delta to the counter.
func (c *Counter_t) Add(delta int64) {
	if Stats {
		atomic.AddInt64((*int64)(c), delta)
	}
}

// Get reads the current counter value regardless of the Stats toggle.
func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Cycles_t accumulates elapsed cycles between two Rdtsc-like readings.
type Cycles_t int64

// Add adds the elapsed duration since start (in nanoseconds, since this is
// an ordinary process without an Rdtsc intrinsic) to the counter.
func (c *Cycles_t) Add(startNanos, endNanos int64) {
	if Timing {
		atomic.AddInt64((*int64)(c), endNanos-startNanos)
	}
}

// Get reads the accumulated nanosecond total.
func (c *Cycles_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// WorkerCounters tracks the per-role worker activity named in spec §4.J.
type WorkerCounters struct {
	ZeroerPagesZeroed    Counter_t
	WriterPagesWritten   Counter_t
	WriterRewrites       Counter_t
	TrimmerPagesTrimmed  Counter_t
	TrimmerSweeps        Counter_t
	FaultsHandled        Counter_t
	FaultsRetriedNoPages Counter_t
	FaultsRetriedState   Counter_t
}
