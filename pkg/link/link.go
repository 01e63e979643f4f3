// Package link implements the link manager: it maintains each managed
// network's minimum number of healthy uplinks and bridges link lifecycle
// events (connected/error/disconnect) to the business layer.
package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"corenet/pkg/gdb"
	"corenet/pkg/nodeaddr"
)

// State is a Link's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// NetworkAssoc is one network a Link participates in; Permanent networks
// keep the link alive across disconnects even when uplinks are otherwise
// satisfied elsewhere.
type NetworkAssoc struct {
	NetName   string
	Permanent bool
}

// Link is one known peer connection, keyed by node address.
type Link struct {
	Addr       nodeaddr.Address
	State      State
	StartAfter time.Time
	Attempts   int

	mu             sync.Mutex
	networks       map[string]NetworkAssoc
	staticClusters map[string]bool

	Dialer Dialer
}

func newLink(addr nodeaddr.Address) *Link {
	return &Link{
		Addr:           addr,
		State:          StateDisconnected,
		networks:       make(map[string]NetworkAssoc),
		staticClusters: make(map[string]bool),
	}
}

// HasAssociations reports whether the link has any network association
// or static cluster membership — the condition that keeps it from being
// destroyed outright and that makes it eligible for the wake-up pass.
func (l *Link) HasAssociations() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.networks) > 0 || len(l.staticClusters) > 0
}

func (l *Link) addNetwork(netName string, permanent bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.networks[netName] = NetworkAssoc{NetName: netName, Permanent: permanent}
}

func (l *Link) hasNetwork(netName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.networks[netName]
	return ok
}

func (l *Link) networkAssocs() []NetworkAssoc {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]NetworkAssoc, 0, len(l.networks))
	for _, a := range l.networks {
		out = append(out, a)
	}
	return out
}

// dropNonPermanentNetworks removes every non-permanent network association
// after a connection failure; permanent ones are kept.
func (l *Link) dropNonPermanentNetworks() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, a := range l.networks {
		if !a.Permanent {
			delete(l.networks, name)
		}
	}
}

// AddStaticCluster adds name to the link's static-cluster memberships,
// keeping the link alive regardless of network activity.
func (l *Link) AddStaticCluster(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.staticClusters[name] = true
}

// RemoveStaticCluster removes name; returns true if this was the last
// static cluster AND the last network association, signaling the caller
// that the link should be destroyed.
func (l *Link) RemoveStaticCluster(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.staticClusters, name)
	return len(l.staticClusters) == 0 && len(l.networks) == 0
}

// Network is one managed network: a target minimum uplink count and its
// current live uplink count.
type Network struct {
	Name          string
	MinLinks      int
	uplinks       int
	mu            sync.Mutex
}

func (n *Network) uplinkCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uplinks
}

func (n *Network) adjustUplinks(delta int) {
	n.mu.Lock()
	n.uplinks += delta
	n.mu.Unlock()
}

// Dialer abstracts the actual connection attempt so pkg/link can drive
// both a plain stream connect and a libp2p host dial behind the same
// interface.
type Dialer interface {
	Dial(addr nodeaddr.Address, host string, port uint16) error
}

// Callbacks are the business-layer hooks the manager invokes.
type Callbacks struct {
	FillHostPort func(l *Link) (host string, port uint16, ok bool)
	LinkRequest  func(netName string)
	Connected    func(l *Link, netName string)
	Disconnected func(l *Link, netName string, peerCount int)
}

const (
	DefaultMaxAttempts    = 5
	DefaultReconnectDelay = 10 * time.Second
	ignoredTTL            = 30 * time.Minute
)

type connStat struct {
	attempts, successes, ignored int
}

// Manager owns the link table, the managed-network list, and the ignored
// peer list, and runs the periodic wake-up/request loop plus a query
// goroutine that runs functions handed to do one at a time. The link,
// network and accounting methods below take their own locks and do not go
// through the query goroutine; nothing in the package calls do.
type Manager struct {
	mu    sync.RWMutex
	links map[nodeaddr.Address]*Link

	networksMu sync.Mutex
	networks   []*Network

	Items      []SyncItemRef
	ExtraItems []SyncItemRef

	drv  gdb.Driver
	cb   Callbacks
	log  *logrus.Logger

	inactive bool

	queryCh chan func()
	stopCh  chan struct{}
	wg      sync.WaitGroup

	ignoredMu sync.Mutex
	ignoredAt map[nodeaddr.Address]time.Time
}

// SyncItemRef is a placeholder reference into the sync-group item lists
// owned by pkg/gdb/sync; the manager only needs the net-name association
// to decide eligibility, so it stores just that.
type SyncItemRef struct {
	NetName string
}

// NewManager builds a Manager backed by drv for statistic/ignored-list
// bookkeeping.
func NewManager(drv gdb.Driver, cb Callbacks, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Manager{
		links:     make(map[nodeaddr.Address]*Link),
		drv:       drv,
		cb:        cb,
		log:       log,
		queryCh:   make(chan func(), 128),
		stopCh:    make(chan struct{}),
		ignoredAt: make(map[nodeaddr.Address]time.Time),
	}
	m.wg.Add(2)
	go m.queryLoop()
	go m.periodicLoop()
	return m
}

// Close stops the manager's background goroutines.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) queryLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case fn := <-m.queryCh:
			fn()
		}
	}
}

// do serializes fn through the query goroutine and waits for it to finish.
func (m *Manager) do(fn func()) {
	done := make(chan struct{})
	m.queryCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// AddNetwork registers a managed network.
func (m *Manager) AddNetwork(name string, minLinks int) *Network {
	n := &Network{Name: name, MinLinks: minLinks}
	m.networksMu.Lock()
	m.networks = append(m.networks, n)
	m.networksMu.Unlock()
	return n
}

// GetOrCreateLink returns the link for addr, creating it (DISCONNECTED) if
// absent.
func (m *Manager) GetOrCreateLink(addr nodeaddr.Address) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[addr]
	if !ok {
		l = newLink(addr)
		m.links[addr] = l
	}
	return l
}

// FindLink returns the link for addr without creating it.
func (m *Manager) FindLink(addr nodeaddr.Address) (*Link, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[addr]
	return l, ok
}

// AssociateNetwork adds netName to addr's link, creating the link if
// necessary.
func (m *Manager) AssociateNetwork(addr nodeaddr.Address, netName string, permanent bool) {
	l := m.GetOrCreateLink(addr)
	l.addNetwork(netName, permanent)
}

// AddStaticCluster adds a static-cluster membership to addr's link,
// creating the link if it does not exist.
func (m *Manager) AddStaticCluster(addr nodeaddr.Address, clusterName string) {
	l := m.GetOrCreateLink(addr)
	l.AddStaticCluster(clusterName)
}

// RemoveStaticCluster removes a static-cluster membership; if that was the
// last static cluster and the last network association, the link is
// destroyed.
func (m *Manager) RemoveStaticCluster(addr nodeaddr.Address, clusterName string) {
	l, ok := m.FindLink(addr)
	if !ok {
		return
	}
	if l.RemoveStaticCluster(clusterName) {
		m.destroyLink(addr)
	}
}

func (m *Manager) destroyLink(addr nodeaddr.Address) {
	m.mu.Lock()
	delete(m.links, addr)
	m.mu.Unlock()
}

// Inactive reports whether the manager is in inactive mode.
func (m *Manager) Inactive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inactive
}

// Deactivate puts the manager into inactive mode: no new connects are
// initiated and every link's network associations are cleared.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.inactive = true
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		l.mu.Lock()
		l.networks = make(map[string]NetworkAssoc)
		l.mu.Unlock()
	}
}

// Activate resumes normal operation.
func (m *Manager) Activate() {
	m.mu.Lock()
	m.inactive = false
	m.mu.Unlock()
}

func (m *Manager) allLinks() []*Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

func (m *Manager) allNetworks() []*Network {
	m.networksMu.Lock()
	defer m.networksMu.Unlock()
	out := make([]*Network, len(m.networks))
	copy(out, m.networks)
	return out
}

// periodicLoop alternates wake-up and request passes every 2 seconds,
// exactly as the spec's single ~2s ticker does.
func (m *Manager) periodicLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	toggle := false
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.Inactive() {
				continue
			}
			if toggle {
				m.wakeUpPass()
			} else {
				m.requestPass()
			}
			toggle = !toggle
		}
	}
}

// wakeUpPass dials every DISCONNECTED link whose StartAfter has elapsed
// and which has associations, moving it to CONNECTING.
func (m *Manager) wakeUpPass() {
	now := time.Now()
	for _, l := range m.allLinks() {
		l.mu.Lock()
		eligible := l.State == StateDisconnected && !l.StartAfter.After(now) &&
			(len(l.networks) > 0 || len(l.staticClusters) > 0)
		l.mu.Unlock()
		if !eligible {
			continue
		}
		m.beginConnect(l)
	}
}

// requestPass asks the business layer to supply more links for every
// network below its minimum uplink count.
func (m *Manager) requestPass() {
	for _, n := range m.allNetworks() {
		if n.uplinkCount() < n.MinLinks && m.cb.LinkRequest != nil {
			m.cb.LinkRequest(n.Name)
		}
	}
}

func (m *Manager) beginConnect(l *Link) {
	if m.cb.FillHostPort == nil {
		return
	}
	host, port, ok := m.cb.FillHostPort(l)
	if !ok {
		return
	}
	l.mu.Lock()
	l.State = StateConnecting
	l.mu.Unlock()

	go func() {
		var err error
		if l.Dialer != nil {
			err = l.Dialer.Dial(l.Addr, host, port)
		} else {
			err = fmt.Errorf("link: no dialer configured for %s", l.Addr)
		}
		if err != nil {
			m.onError(l)
			return
		}
		m.onConnected(l)
	}()
}

// onConnected runs the connected-callback fan-out, resets the attempts
// counter, and updates the connections_statistic / nodes_ignored GDB
// bookkeeping.
func (m *Manager) onConnected(l *Link) {
	l.mu.Lock()
	l.State = StateConnected
	l.Attempts = 0
	assocs := make([]NetworkAssoc, 0, len(l.networks))
	for _, a := range l.networks {
		assocs = append(assocs, a)
	}
	l.mu.Unlock()

	for _, a := range assocs {
		if m.cb.Connected != nil {
			m.cb.Connected(l, a.NetName)
		}
		for _, n := range m.allNetworks() {
			if n.Name == a.NetName {
				n.adjustUplinks(1)
			}
		}
	}

	m.recordConnectionAttempt(l.Addr, true)
}

// onError increments the attempts counter and either retries
// (still below max attempts) or tears the link down, dropping non-
// permanent network associations.
func (m *Manager) onError(l *Link) {
	m.recordConnectionAttempt(l.Addr, false)

	l.mu.Lock()
	l.Attempts++
	retry := l.Attempts < DefaultMaxAttempts
	l.mu.Unlock()

	if retry {
		l.mu.Lock()
		l.State = StateDisconnected
		l.StartAfter = time.Now().Add(DefaultReconnectDelay)
		l.mu.Unlock()
		return
	}

	assocs := l.networkAssocs()
	l.dropNonPermanentNetworks()
	for _, a := range assocs {
		if !a.Permanent && m.cb.Disconnected != nil {
			m.cb.Disconnected(l, a.NetName, 0)
		}
		for _, n := range m.allNetworks() {
			if n.Name == a.NetName {
				n.adjustUplinks(-1)
			}
		}
	}

	l.mu.Lock()
	l.State = StateDisconnected
	noAssoc := len(l.networks) == 0 && len(l.staticClusters) == 0
	l.mu.Unlock()
	if noAssoc {
		m.destroyLink(l.Addr)
	}
}

// recordConnectionAttempt updates the local.connections.statistic GDB
// record for addr and, when the lifetime success ratio drops to or below
// 0.9, writes addr into the local.nodes.ignored group.
func (m *Manager) recordConnectionAttempt(addr nodeaddr.Address, success bool) {
	if m.drv == nil {
		return
	}
	const statGroup = "local.connections.statistic"
	key := addr.String()

	var stat connStat
	if existing, err := m.drv.ReadStoreObj(statGroup, &key, nil, true); err == nil && len(existing) > 0 {
		stat = decodeStat(existing[0].Value)
	}
	stat.attempts++
	if success {
		stat.successes++
	}

	obj := &gdb.Object{
		Group:     statGroup,
		Key:       key,
		Value:     encodeStat(stat),
		Timestamp: time.Now(),
		CRC:       uint64(stat.attempts)<<32 | uint64(stat.successes),
		Op:        gdb.OpAdd,
	}
	_ = m.drv.ApplyStoreObj(obj)

	if stat.attempts > 0 && float64(stat.successes)/float64(stat.attempts) <= 0.9 {
		m.markIgnored(addr)
	}
}

func encodeStat(s connStat) []byte {
	return []byte(fmt.Sprintf("%d,%d,%d", s.attempts, s.successes, s.ignored))
}

func decodeStat(b []byte) connStat {
	var s connStat
	fmt.Sscanf(string(b), "%d,%d,%d", &s.attempts, &s.successes, &s.ignored)
	return s
}

func (m *Manager) markIgnored(addr nodeaddr.Address) {
	m.ignoredMu.Lock()
	m.ignoredAt[addr] = time.Now()
	m.ignoredMu.Unlock()

	if m.drv != nil {
		obj := &gdb.Object{
			Group:     "local.nodes.ignored",
			Key:       addr.String(),
			Timestamp: time.Now(),
			CRC:       1,
			Op:        gdb.OpAdd,
		}
		_ = m.drv.ApplyStoreObj(obj)
	}
}

// IsIgnored reports whether addr is on the ignored list, purging any entry
// older than 30 minutes first.
func (m *Manager) IsIgnored(addr nodeaddr.Address) bool {
	m.ignoredMu.Lock()
	defer m.ignoredMu.Unlock()
	now := time.Now()
	for a, t := range m.ignoredAt {
		if now.Sub(t) > ignoredTTL {
			delete(m.ignoredAt, a)
		}
	}
	_, ok := m.ignoredAt[addr]
	return ok
}
