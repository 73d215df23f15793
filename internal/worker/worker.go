// Package worker implements spec §4.J's background roles: the zeroer, the
// modified writer, and the ager/trimmer, each a goroutine loop that polls
// a termination channel between units of work and joins via
// golang.org/x/sync/errgroup on shutdown, the same "group of workers,
// join on stop" shape biscuit's kernel uses for its own background
// daemons (proc reaper, bounded buffer writers) adapted to goroutines.
package worker

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/biscuit-vm/uvm/internal/diag"
	"github.com/biscuit-vm/uvm/internal/event"
	"github.com/biscuit-vm/uvm/internal/host"
	"github.com/biscuit-vm/uvm/internal/mem"
	"github.com/biscuit-vm/uvm/internal/pagefile"
	"github.com/biscuit-vm/uvm/internal/pte"
	"github.com/biscuit-vm/uvm/internal/scratch"
	"github.com/biscuit-vm/uvm/internal/uerr"
	"github.com/biscuit-vm/uvm/internal/walk"
)

// sweepInterval bounds how long the trimmer ever waits before re-checking
// the available-pages watermark, matching spec §5's liveness requirement
// that new-page and trim waits use a bounded timeout rather than an
// unbounded one.
const sweepInterval = 50 * time.Millisecond

// Group runs the three background roles and supports an ordered shutdown.
type Group struct {
	Frames   *mem.FrameDB
	Table    *pte.Table
	Pagefile *pagefile.Pagefile
	Scratch  *scratch.Pool
	AWE      host.AWE
	Walker   *walk.Walker
	Counters *diag.WorkerCounters

	// MinAvailablePages is the low-water mark the trimmer enforces even
	// without the aging bit (spec §4.J).
	MinAvailablePages int

	stop chan struct{}
	eg   *errgroup.Group
}

// Start launches the zeroer, modified writer, and ager/trimmer goroutines.
func (g *Group) Start() {
	g.stop = make(chan struct{})
	eg := &errgroup.Group{}
	eg.Go(func() error { g.zeroerLoop(); return nil })
	eg.Go(func() error { g.writerLoop(); return nil })
	eg.Go(func() error { g.trimmerLoop(); return nil })
	g.eg = eg
}

// Stop signals termination and joins every worker goroutine, matching
// spec §4.L's "signal terminate workers, join workers".
func (g *Group) Stop() {
	close(g.stop)
	_ = g.eg.Wait()
}

// zeroerLoop implements spec §4.J's zeroer: dequeue Free, zero contents
// through a scratch VA, re-enqueue as Zero (or Quarantine, if the frame
// was marked for quarantine while the zeroing was in flight).
func (g *Group) zeroerLoop() {
	for {
		select {
		case <-g.stop:
			return
		default:
		}
		idx := g.Frames.PopFree()
		if idx == mem.NoFrame {
			select {
			case <-g.Frames.Free.NewItem.C():
			case <-time.After(sweepInterval):
			case <-g.stop:
				return
			}
			continue
		}
		fr := g.Frames.Frame(idx)
		fr.WriteInProgress = true
		fr.Unlock()

		_ = scratch.ZeroFrame(g.Scratch, g.AWE, idx)

		fr.Lock()
		fr.WriteInProgress = false
		if fr.State == mem.SAwaitingQuarantine {
			fr.State = mem.SQuarantine
			g.Frames.Quarantine.Enqueue(idx)
		} else {
			fr.State = mem.SZero
			g.Frames.Zero.Enqueue(idx)
		}
		fr.Unlock()
		if g.Counters != nil {
			g.Counters.ZeroerPagesZeroed.Inc()
		}
	}
}

// writerLoop implements spec §4.J's modified writer.
func (g *Group) writerLoop() {
	for {
		select {
		case <-g.stop:
			return
		default:
		}
		idx := g.Frames.PopModifiedHead()
		if idx == mem.NoFrame {
			var wake <-chan struct{}
			if g.Walker != nil && g.Walker.ModifiedWriterWake != nil {
				wake = g.Walker.ModifiedWriterWake.C()
			}
			select {
			case <-g.Frames.Modified.NewItem.C():
			case <-wake:
			case <-time.After(sweepInterval):
			case <-g.stop:
				return
			}
			continue
		}
		g.writeOne(idx)
	}
}

func (g *Group) writeOne(idx int32) {
	fr := g.Frames.Frame(idx)
	if fr.PagefileSlot != pagefile.NoSlot {
		uerr.Fatalf("worker: frame %d entered Modified already holding slot %d", idx, fr.PagefileSlot)
	}
	fr.WriteInProgress = true
	fr.Remodified = false
	fr.Unlock()

	slot, err := g.Pagefile.Write(idx)

	fr.Lock()
	if fr.State == mem.SAwaitingFree {
		fr.WriteInProgress = false
		if err == nil {
			g.Pagefile.FreeSlot(slot)
		}
		fr.PagefileSlot = pagefile.NoSlot
		fr.State = mem.SFree
		fr.ReversePTEIndex = mem.NoFrame
		g.Frames.Free.Enqueue(idx)
		fr.Unlock()
		return
	}
	if err != nil {
		fr.WriteInProgress = false
		fr.State = mem.SModified
		g.Frames.Modified.Enqueue(idx)
		fr.Unlock()
		return
	}
	if fr.Remodified {
		g.Pagefile.FreeSlot(slot)
		fr.WriteInProgress = false
		if fr.State == mem.SActive {
			fr.Unlock()
			return
		}
		fr.State = mem.SModified
		g.Frames.Modified.Enqueue(idx)
		fr.Unlock()
		return
	}
	fr.PagefileSlot = slot
	fr.WriteInProgress = false
	fr.State = mem.SStandby
	g.Frames.Standby.Enqueue(idx)
	fr.Unlock()
	if g.Counters != nil {
		g.Counters.WriterPagesWritten.Inc()
	}
}

// trimmerLoop implements spec §4.J's ager/trimmer: it walks the PTE
// table's Active-holding pages via each frame's reverse index rather than
// re-deriving VA ranges, since the frame array already names which page
// every Active frame backs.
func (g *Group) trimmerLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-g.Frames.TrimWake.C():
		case <-ticker.C:
		}
		g.sweep()
		if g.Counters != nil {
			g.Counters.TrimmerSweeps.Inc()
		}
	}
}

// sweep scans every frame for an Active page, trimming on the second
// sweep after its aging bit is first observed clear, or immediately if
// available pages have fallen below MinAvailablePages.
func (g *Group) sweep() {
	z, f, s := g.Frames.AvailableCounts()
	lowOnPages := z+f+s < g.MinAvailablePages

	for i := int32(0); i < int32(g.Frames.NFrames()); i++ {
		fr := g.Frames.Frame(i)
		if !fr.TryLock() {
			continue
		}
		if fr.State != mem.SActive {
			fr.Unlock()
			continue
		}
		page := int(fr.ReversePTEIndex)
		fr.Unlock()

		g.Table.Lock(page)
		snap := g.Table.Read(page)
		if !snap.Valid() {
			g.Table.Unlock(page)
			continue
		}
		va := uintptr(page) * mem.PageSize

		if !snap.Aging() && !lowOnPages {
			g.Table.WritePTE(page, va, snap.WithAging(true))
			g.Table.Unlock(page)
			continue
		}
		// TrimVA takes the stripe lock itself and re-checks that the PTE
		// is still Valid.
		g.Table.Unlock(page)
		if err := g.Walker.TrimVA(va); err == nil && g.Counters != nil {
			g.Counters.TrimmerPagesTrimmed.Inc()
		}
	}
}
