package worker

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddEventSocketIdempotent(t *testing.T) {
	p := NewPool(2, time.Second, nil)
	defer p.Close()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	es := NewEventSocket(ESTypeTCPClient, c1, Callbacks{})
	w := p.Workers()[0]
	if err := w.AddEventSocket(es); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForOwner(t, es, w)
	if err := w.AddEventSocket(es); err != nil {
		t.Fatalf("idempotent add should succeed: %v", err)
	}
}

func waitForOwner(t *testing.T, es *EventSocket, want *Worker) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if es.Owner() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for ownership assignment")
}

func TestAddEventSocketAuto(t *testing.T) {
	p := NewPool(3, time.Second, nil)
	defer p.Close()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	es := NewEventSocket(ESTypeTCPClient, c1, Callbacks{})
	p.AddEventSocketAuto(es)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && es.Owner() == nil {
		time.Sleep(time.Millisecond)
	}
	if es.Owner() == nil {
		t.Fatalf("expected auto-assignment to some worker")
	}
}

func TestExecCallbackOn(t *testing.T) {
	p := NewPool(1, time.Second, nil)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var got int32
	p.Workers()[0].ExecCallbackOn(func(arg any) {
		atomic.StoreInt32(&got, arg.(int32))
		wg.Done()
	}, int32(42))
	wg.Wait()
	if atomic.LoadInt32(&got) != 42 {
		t.Fatalf("got %d", got)
	}
}

func TestActivityCheckClosesIdleSocket(t *testing.T) {
	p := NewPool(1, 80*time.Millisecond, nil)
	defer p.Close()

	c1, c2 := net.Pipe()
	defer c2.Close()

	errCh := make(chan error, 1)
	es := NewEventSocket(ESTypeTCPClient, c1, Callbacks{
		Error: func(_ *EventSocket, err error) { errCh <- err },
	})
	w := p.Workers()[0]
	if err := w.AddEventSocket(es); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForOwner(t, es, w)

	select {
	case err := <-errCh:
		if err != ErrTimedOut {
			t.Fatalf("expected ErrTimedOut, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for activity-check close")
	}
}

func TestNoCloseFlagExemptsFromActivityCheck(t *testing.T) {
	p := NewPool(1, 80*time.Millisecond, nil)
	defer p.Close()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	closed := make(chan struct{}, 1)
	es := NewEventSocket(ESTypeTCPClient, c1, Callbacks{
		Error: func(_ *EventSocket, _ error) { closed <- struct{}{} },
	})
	es.SetFlag(FlagNoClose)
	w := p.Workers()[0]
	if err := w.AddEventSocket(es); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForOwner(t, es, w)

	select {
	case <-closed:
		t.Fatalf("NoCloseFlag socket should not be force-closed")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReassignOnceCap(t *testing.T) {
	p := NewPool(2, time.Second, nil)
	defer p.Close()

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	es := NewEventSocket(ESTypeTCPClient, c1, Callbacks{})
	w0, w1 := p.Workers()[0], p.Workers()[1]
	if err := w0.AddEventSocket(es); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitForOwner(t, es, w0)

	w0.Reassign(es, w1)
	waitForOwner(t, es, w1)

	// Second reassignment attempt without REASSIGN_ONCE set should be rejected
	// by handleReassign and leave ownership with w1.
	w1.Reassign(es, w0)
	time.Sleep(50 * time.Millisecond)
	if es.Owner() != w1 {
		t.Fatalf("expected reassignment to be rejected, owner = %v", es.Owner())
	}
}
