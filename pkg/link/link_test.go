package link

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"corenet/pkg/gdb"
	"corenet/pkg/nodeaddr"
)

type countingDialer struct {
	fail int32
	mu   sync.Mutex
	n    int
}

func (d *countingDialer) Dial(addr nodeaddr.Address, host string, port uint16) error {
	d.mu.Lock()
	d.n++
	d.mu.Unlock()
	if atomic.LoadInt32(&d.fail) != 0 {
		return errFail
	}
	return nil
}

var errFail = &dialError{}

type dialError struct{}

func (e *dialError) Error() string { return "dial failed" }

func newTestManager(t *testing.T, cb Callbacks) *Manager {
	t.Helper()
	drv := gdb.NewMemDriver()
	m := NewManager(drv, cb, nil)
	t.Cleanup(m.Close)
	return m
}

func TestWakeUpPassConnectsEligibleLink(t *testing.T) {
	var connected int32
	cb := Callbacks{
		FillHostPort: func(l *Link) (string, uint16, bool) { return "127.0.0.1", 1234, true },
		Connected:    func(l *Link, netName string) { atomic.AddInt32(&connected, 1) },
	}
	m := newTestManager(t, cb)
	m.AddNetwork("net1", 1)

	dialer := &countingDialer{}
	m.AssociateNetwork(nodeaddr.Address(1), "net1", false)
	l, _ := m.FindLink(nodeaddr.Address(1))
	l.Dialer = dialer

	m.wakeUpPass()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&connected) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&connected) != 1 {
		t.Fatalf("expected Connected callback to fire once, got %d", connected)
	}
	if l.State != StateConnected {
		t.Fatalf("expected link to be connected, got state %v", l.State)
	}
}

func TestRetryBudgetExhaustsThenDisconnects(t *testing.T) {
	var disconnected int32
	cb := Callbacks{
		Disconnected: func(l *Link, netName string, peerCount int) { atomic.AddInt32(&disconnected, 1) },
	}
	m := newTestManager(t, cb)
	m.AssociateNetwork(nodeaddr.Address(2), "net1", false)
	l, _ := m.FindLink(nodeaddr.Address(2))

	for i := 0; i < DefaultMaxAttempts; i++ {
		m.onError(l)
		if i < DefaultMaxAttempts-1 {
			if atomic.LoadInt32(&disconnected) != 0 {
				t.Fatalf("expected no Disconnected callback before exhausting retry budget (attempt %d)", i)
			}
			if l.State != StateDisconnected {
				t.Fatalf("expected link to stay disconnected-pending-retry at attempt %d", i)
			}
		}
	}

	if atomic.LoadInt32(&disconnected) != 1 {
		t.Fatalf("expected exactly one Disconnected callback after exhausting retry budget, got %d", disconnected)
	}
	if _, ok := m.FindLink(nodeaddr.Address(2)); ok {
		t.Fatalf("expected link with no remaining associations to be destroyed")
	}
}

func TestStaticClusterKeepsLinkAliveAndDestroysOnLastRemoval(t *testing.T) {
	m := newTestManager(t, Callbacks{})
	addr := nodeaddr.Address(3)
	m.AddStaticCluster(addr, "cluster-a")

	l, ok := m.FindLink(addr)
	if !ok {
		t.Fatalf("expected AddStaticCluster to create the link")
	}
	if !l.HasAssociations() {
		t.Fatalf("expected link to report associations from the static cluster")
	}

	m.RemoveStaticCluster(addr, "cluster-a")
	if _, ok := m.FindLink(addr); ok {
		t.Fatalf("expected link destroyed after removing its last static cluster with no networks")
	}
}

func TestPermanentNetworkSurvivesDisconnect(t *testing.T) {
	var disconnectedNets []string
	cb := Callbacks{
		FillHostPort: func(l *Link) (string, uint16, bool) { return "127.0.0.1", 1234, true },
		Disconnected: func(l *Link, netName string, peerCount int) { disconnectedNets = append(disconnectedNets, netName) },
	}
	m := newTestManager(t, cb)
	addr := nodeaddr.Address(4)
	m.AssociateNetwork(addr, "permanent-net", true)
	l, _ := m.FindLink(addr)
	l.Attempts = DefaultMaxAttempts // force immediate exhaustion path
	l.Dialer = &countingDialer{fail: 1}

	m.onError(l)

	if _, ok := m.FindLink(addr); !ok {
		t.Fatalf("expected link with a permanent network association to survive")
	}
	for _, n := range disconnectedNets {
		if n == "permanent-net" {
			t.Fatalf("expected permanent network association not to be reported as disconnected")
		}
	}
}

func TestDeactivateClearsNetworkAssociations(t *testing.T) {
	m := newTestManager(t, Callbacks{})
	addr := nodeaddr.Address(5)
	m.AssociateNetwork(addr, "net1", false)
	m.Deactivate()
	l, _ := m.FindLink(addr)
	if l.HasAssociations() {
		t.Fatalf("expected network associations cleared after Deactivate")
	}
	if !m.Inactive() {
		t.Fatalf("expected manager to report inactive")
	}
	m.Activate()
	if m.Inactive() {
		t.Fatalf("expected manager to report active after Activate")
	}
}

func TestIgnoredListPurgesAfterTTL(t *testing.T) {
	m := newTestManager(t, Callbacks{})
	addr := nodeaddr.Address(6)
	m.markIgnored(addr)
	if !m.IsIgnored(addr) {
		t.Fatalf("expected freshly-ignored address to report ignored")
	}
	m.ignoredMu.Lock()
	m.ignoredAt[addr] = time.Now().Add(-31 * time.Minute)
	m.ignoredMu.Unlock()
	if m.IsIgnored(addr) {
		t.Fatalf("expected expired ignored entry to be purged")
	}
}
