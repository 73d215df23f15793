package mem

import "testing"

func TestFrameDBInitialAllFree(t *testing.T) {
	db := NewFrameDB(8, 2)
	if got := db.Free.Len(); got != 8 {
		t.Fatalf("want 8 frames free at init, got %d", got)
	}
	if got := db.Zero.Len() + db.Standby.Len() + db.Modified.Len() + db.Quarantine.Len(); got != 0 {
		t.Fatalf("want every other list empty at init, got %d total", got)
	}
}

func TestListEnqueueDequeueHeadOrder(t *testing.T) {
	db := NewFrameDB(4, 0)
	// drain the Free list populated by NewFrameDB so head/tail order below
	// is not entangled with init order. PopFree returns each frame locked.
	for idx := db.PopFree(); idx != NoFrame; idx = db.PopFree() {
		db.Frame(idx).Unlock()
	}

	for _, idx := range []int32{0, 1, 2} {
		f := db.Frame(idx)
		f.Lock()
		db.Free.Enqueue(idx)
		f.Unlock()
	}

	// Enqueue links at the head, so dequeue-head order is the reverse of
	// insertion order: 2, 1, 0.
	want := []int32{2, 1, 0}
	for _, w := range want {
		got := db.PopFree()
		if got != w {
			t.Fatalf("want head %d, got %d", w, got)
		}
		db.Frame(got).Unlock()
	}
	if got := db.PopFree(); got != NoFrame {
		t.Fatalf("want empty list, got frame %d", got)
	}
}

func TestListRemoveMidList(t *testing.T) {
	db := NewFrameDB(4, 0)
	for idx := db.PopFree(); idx != NoFrame; idx = db.PopFree() {
		db.Frame(idx).Unlock()
	}

	for _, idx := range []int32{0, 1, 2} {
		f := db.Frame(idx)
		f.Lock()
		db.Free.Enqueue(idx)
		f.Unlock()
	}

	f1 := db.Frame(1)
	f1.Lock()
	db.Free.Remove(1)
	f1.Unlock()

	if got := db.Free.Len(); got != 2 {
		t.Fatalf("want 2 remaining after removing the middle frame, got %d", got)
	}

	seen := map[int32]bool{}
	for {
		idx := db.PopFree()
		if idx == NoFrame {
			break
		}
		seen[idx] = true
		db.Frame(idx).Unlock()
	}
	if seen[1] {
		t.Fatal("removed frame must not reappear")
	}
	if !seen[0] || !seen[2] {
		t.Fatalf("want frames 0 and 2 still present, got %v", seen)
	}
}

func TestDequeueTailLockedReturnsOldest(t *testing.T) {
	db := NewFrameDB(4, 0)
	for idx := db.PopFree(); idx != NoFrame; idx = db.PopFree() {
		db.Frame(idx).Unlock()
	}

	for _, idx := range []int32{0, 1, 2} {
		f := db.Frame(idx)
		f.Lock()
		db.Standby.Enqueue(idx)
		f.Unlock()
	}

	// tail is the oldest enqueued: 0
	got := db.PopStandbyTail()
	if got != 0 {
		t.Fatalf("want oldest frame 0 at tail, got %d", got)
	}
	db.Frame(got).Unlock()

	if got := db.Standby.Len(); got != 2 {
		t.Fatalf("want 2 remaining, got %d", got)
	}
}

func TestMaybeWakeTrimSignalsBelowLowWater(t *testing.T) {
	db := NewFrameDB(4, 1)
	// drain below the 1-frame low-water mark
	for idx := db.PopFree(); idx != NoFrame; idx = db.PopFree() {
		db.Frame(idx).Unlock()
	}
	db.MaybeWakeTrim()
	select {
	case <-db.TrimWake.C():
	default:
		t.Fatal("want trim woken once available count drops below minAvailable")
	}

	f := db.Frame(0)
	f.Lock()
	db.Free.Enqueue(0)
	f.Unlock()
	for i := int32(1); i < 4; i++ {
		f := db.Frame(i)
		f.Lock()
		db.Free.Enqueue(i)
		f.Unlock()
	}
	db.MaybeWakeTrim()
	select {
	case <-db.TrimWake.C():
		t.Fatal("want trim reset once available count is back above minAvailable")
	default:
	}
}
