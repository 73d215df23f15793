package diag

import (
	"fmt"
	"runtime"
	"sync"
)

// ChangeLogEntry records one PTE mutation: the destination VA, the PTE's
// old and new 64-bit values, a snapshot of the frame it names (if any),
// and the backtrace of the writer. Spec §4.D calls this "an optional
// ring-buffer change log" for debugging.
type ChangeLogEntry struct {
	VA        uintptr
	OldPTE    uint64
	NewPTE    uint64
	PFN       int32 // -1 if the PTE carries no frame
	Backtrace string
}

// ChangeLog is a fixed-capacity ring buffer of ChangeLogEntry, the same
// head/tail-over-a-fixed-slice shape as biscuit's circbuf.Circbuf_t,
// generalized from a byte buffer to a struct buffer.
type ChangeLog struct {
	mu      sync.Mutex
	entries []ChangeLogEntry
	head    int // next write index
	count   int
	Enabled bool
	Depth   int // backtrace frames captured per entry, 0 disables capture
}

// NewChangeLog allocates a ring buffer holding cap entries.
func NewChangeLog(capacity int) *ChangeLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChangeLog{entries: make([]ChangeLogEntry, capacity)}
}

// Record appends one entry, overwriting the oldest when full. It captures
// a backtrace the way biscuit's caller.Callerdump does, starting at the
// given skip depth, when cl.Depth > 0.
func (cl *ChangeLog) Record(va uintptr, old, new uint64, pfn int32, skip int) {
	if !cl.Enabled {
		return
	}
	bt := ""
	if cl.Depth > 0 {
		bt = backtrace(skip+1, cl.Depth)
	}
	cl.mu.Lock()
	cl.entries[cl.head] = ChangeLogEntry{VA: va, OldPTE: old, NewPTE: new, PFN: pfn, Backtrace: bt}
	cl.head = (cl.head + 1) % len(cl.entries)
	if cl.count < len(cl.entries) {
		cl.count++
	}
	cl.mu.Unlock()
}

// Snapshot returns the recorded entries, oldest first.
func (cl *ChangeLog) Snapshot() []ChangeLogEntry {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make([]ChangeLogEntry, cl.count)
	start := (cl.head - cl.count + len(cl.entries)) % len(cl.entries)
	for i := 0; i < cl.count; i++ {
		out[i] = cl.entries[(start+i)%len(cl.entries)]
	}
	return out
}

func backtrace(skip, depth int) string {
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	s := ""
	for {
		fr, more := frames.Next()
		if s == "" {
			s = fmt.Sprintf("%s:%d", fr.File, fr.Line)
		} else {
			s += fmt.Sprintf(" <- %s:%d", fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return s
}
