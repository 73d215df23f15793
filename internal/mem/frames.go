package mem

import (
	"time"

	"github.com/biscuit-vm/uvm/internal/event"
)

// FrameDB is spec §4.B/§4.C's PFN database and page-list manager bundled
// together, since every state transition is, by spec §4.B, "the *only*
// way membership changes", the two components share one lock discipline
// and are easiest to keep correct as one type with multiple lists.
type FrameDB struct {
	Frames []Frame

	Zero       *List
	Free       *List
	Standby    *List
	Modified   *List
	Quarantine *List

	// TrimWake is signaled whenever {Zero,Free,Standby} falls below
	// minAvailable (spec §4.C).
	TrimWake *event.ManualResetEvent

	minAvailable int
}

// NewFrameDB allocates n frames, all initially Free and linked onto the
// Free list, matching spec §3: "frames are created at init (all Free)".
func NewFrameDB(n, minAvailable int) *FrameDB {
	frames := make([]Frame, n)
	db := &FrameDB{
		Frames:       frames,
		TrimWake:     event.New(),
		minAvailable: minAvailable,
	}
	db.Zero = newList(listZero, frames)
	db.Free = newList(listFree, frames)
	db.Standby = newList(listStandby, frames)
	db.Modified = newList(listModified, frames)
	db.Quarantine = newList(listQuarantine, frames)

	for i := range frames {
		frames[i].reset()
	}
	for i := range frames {
		idx := int32(i)
		frames[i].Lock()
		db.Free.Enqueue(idx)
		frames[i].Unlock()
	}
	return db
}

// NFrames returns the total number of frames managed.
func (db *FrameDB) NFrames() int { return len(db.Frames) }

// Frame returns a pointer to frame idx's metadata.
func (db *FrameDB) Frame(idx int32) *Frame { return &db.Frames[idx] }

// AvailableCounts snapshots the three lists fault retries watch, used both
// to decide whether to wait and, per spec §4.H, to "verify under list
// locks that all counts are still zero" immediately before waiting.
func (db *FrameDB) AvailableCounts() (zero, free, standby int) {
	return db.Zero.Len(), db.Free.Len(), db.Standby.Len()
}

// MaybeWakeTrim signals TrimWake when the combined {Zero,Free,Standby}
// count has fallen below minAvailable (spec §4.C).
func (db *FrameDB) MaybeWakeTrim() {
	z, f, s := db.AvailableCounts()
	if z+f+s < db.minAvailable {
		db.TrimWake.Signal()
	} else {
		db.TrimWake.Reset()
	}
}

// WaitForAvailable blocks until a frame might be available on Zero, Free,
// or Standby, or until stop fires. Each wait is bounded by a short timeout
// so a quiescent signaler cannot block it forever. It re-checks the counts itself before
// returning so callers always re-snapshot after waking (spec §4.H: the
// fault handler "retries" rather than assuming success).
func (db *FrameDB) WaitForAvailable(stop <-chan struct{}) {
	for {
		z, f, s := db.AvailableCounts()
		if z+f+s > 0 {
			return
		}
		select {
		case <-db.Zero.NewItem.C():
		case <-db.Free.NewItem.C():
		case <-db.Standby.NewItem.C():
		case <-time.After(50 * time.Millisecond):
		case <-stop:
			return
		}
	}
}

// PopZero dequeues the head of the Zero list with its frame lock held.
func (db *FrameDB) PopZero() int32 {
	idx := db.Zero.DequeueHeadLocked()
	if idx != NoFrame {
		db.MaybeWakeTrim()
	}
	return idx
}

// PopFree dequeues the head of the Free list with its frame lock held.
func (db *FrameDB) PopFree() int32 {
	idx := db.Free.DequeueHeadLocked()
	if idx != NoFrame {
		db.MaybeWakeTrim()
	}
	return idx
}

// PopStandbyTail reclaims the oldest Standby frame, applying the tail
// ordering rule of spec §4.C.
func (db *FrameDB) PopStandbyTail() int32 {
	idx := db.Standby.DequeueTailLocked()
	if idx != NoFrame {
		db.MaybeWakeTrim()
	}
	return idx
}

// PopModifiedHead dequeues the head of the Modified list for the modified
// writer.
func (db *FrameDB) PopModifiedHead() int32 { return db.Modified.DequeueHeadLocked() }

// ListFor returns the list a frame in the given on-list state belongs to,
// or nil for states that carry no list membership.
func (db *FrameDB) ListFor(s State) *List {
	switch s {
	case SZero:
		return db.Zero
	case SFree:
		return db.Free
	case SStandby:
		return db.Standby
	case SModified:
		return db.Modified
	case SQuarantine:
		return db.Quarantine
	default:
		return nil
	}
}

// StateCounts returns a snapshot of how many frames sit in each on-list
// state, for internal/diag.Census and debug scans.
func (db *FrameDB) StateCounts() map[State]int {
	return map[State]int{
		SZero:       db.Zero.Len(),
		SFree:       db.Free.Len(),
		SStandby:    db.Standby.Len(),
		SModified:   db.Modified.Len(),
		SQuarantine: db.Quarantine.Len(),
	}
}
