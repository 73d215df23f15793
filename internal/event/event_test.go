package event

import (
	"testing"
	"time"
)

func TestManualResetEventSignalWait(t *testing.T) {
	e := New()
	select {
	case <-e.C():
		t.Fatal("want unsignaled event to block")
	default:
	}

	e.Signal()
	select {
	case <-e.C():
	default:
		t.Fatal("want signaled event to be ready")
	}

	e.Signal() // idempotent
	select {
	case <-e.C():
	default:
		t.Fatal("want event to stay signaled")
	}

	e.Reset()
	select {
	case <-e.C():
		t.Fatal("want reset event to block again")
	default:
	}
}

func TestManualResetEventPulseWakesWaiter(t *testing.T) {
	e := New()
	woke := make(chan struct{})
	go func() {
		<-e.C()
		close(woke)
	}()

	// give the goroutine time to start waiting on the current channel
	time.Sleep(10 * time.Millisecond)
	e.Pulse()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("want pulse to wake a pending waiter")
	}

	select {
	case <-e.C():
		t.Fatal("want event unsignaled again after pulse returns")
	default:
	}
}

func TestCompletionHandlePoolRoundTrip(t *testing.T) {
	p := NewPool()
	h := p.Get()
	if h == nil {
		t.Fatal("want a handle from an empty pool")
	}

	h.Attach()
	done := make(chan struct{})
	go func() {
		h.Wait()
		close(done)
	}()

	h.Signal()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("want waiter released by signal")
	}

	h.Detach() // drops the Get() reference
	h.Detach() // drops the Attach() reference, returns handle to pool

	h2 := p.Get()
	if h2 != h {
		t.Fatal("want the detached handle reused from the pool")
	}
}
