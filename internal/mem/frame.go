package mem

import "github.com/biscuit-vm/uvm/internal/event"

// Frame is the per-PFN metadata record of spec §3. It never moves once
// allocated, the frame array backing a FrameDB is fixed at startup, so
// list links are indices into that same array rather than pointers,
// matching spec §9's "store as an index into the PTE table, not a
// pointer" guidance applied symmetrically to frame<->frame links.
type Frame struct {
	lock SpinLock

	State State

	// PagefileSlot is the bitmap index into the pagefile, or NoFrame.
	PagefileSlot int32

	// ReversePTEIndex names the virtual page whose PTE refers to this
	// frame (meaningful in Active/Standby/Modified, spec §3 invariant ii/iii).
	ReversePTEIndex int32

	// WriteInProgress is set by the modified writer or zeroer while page
	// contents are in flight.
	WriteInProgress bool

	// ReadInProgress is set while pagefile-backed contents are being
	// materialized.
	ReadInProgress bool

	// RefCount counts outstanding read-completion waiters and other
	// transient holds that must delay reclamation.
	RefCount int32

	// Remodified is set when a write fault is observed while
	// WriteInProgress is held, it tells the modified writer the page
	// was re-dirtied out from under an in-flight write.
	Remodified bool

	// ReadInProgressEvent is the completion handle a faulting reader
	// waits on; nil when no read is outstanding.
	ReadInProgressEvent *event.CompletionHandle

	// list membership (component C); -1 means "not linked".
	prev, next int32
	onList     listID
}

// listID names which page list (if any) currently owns this frame's
// links, used to assert spec §3 invariant i at runtime.
type listID int8

const (
	listNone listID = iota
	listZero
	listFree
	listStandby
	listModified
	listQuarantine
)

// Lock acquires the frame's spin lock.
func (f *Frame) Lock() { f.lock.Lock() }

// Unlock releases the frame's spin lock.
func (f *Frame) Unlock() { f.lock.Unlock() }

// TryLock attempts to acquire the frame's spin lock without blocking.
func (f *Frame) TryLock() bool { return f.lock.TryLock() }

func (f *Frame) reset() {
	f.State = SFree
	f.PagefileSlot = NoFrame
	f.ReversePTEIndex = NoFrame
	f.WriteInProgress = false
	f.ReadInProgress = false
	f.RefCount = 0
	f.Remodified = false
	f.ReadInProgressEvent = nil
	f.prev, f.next = -1, -1
	f.onList = listNone
}
