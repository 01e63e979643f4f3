// Package worker implements the reactor / event-socket abstraction from
// spec §4.1: a fixed pool of goroutine-backed workers, each owning a set of
// event-sockets and dispatching their callbacks single-threaded on its own
// goroutine. Go's runtime scheduler and channel-driven select loop stand in
// for the compile-time-selected epoll/kqueue/IOCP/poll reactor the original
// spec describes — the semantics (single-threaded per-socket callback
// ordering, cross-worker reassignment, activity timeout) are identical.
package worker

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// ESType tags what kind of I/O object an EventSocket wraps.
type ESType int

const (
	ESTypeRaw ESType = iota
	ESTypeUDP
	ESTypeTCPClient
	ESTypeListening
	ESTypeQueue
	ESTypeEvent
	ESTypeTimer
	ESTypeFile
	ESTypeSSLClient
)

// Flags is the event-socket flag bitmask.
type Flags uint32

const (
	FlagReadyToRead Flags = 1 << iota
	FlagReadyToWrite
	FlagConnecting
	FlagSignalClose
	FlagReassignOnce
	FlagPinned
	FlagNoClose // exempts the socket from the activity-timeout sweep
)

// Callbacks is the per-socket callback table, all invoked on the owning
// worker's goroutine.
type Callbacks struct {
	Connected     func(es *EventSocket)
	Read          func(es *EventSocket)
	Write         func(es *EventSocket)
	Error         func(es *EventSocket, errno error)
	Delete        func(es *EventSocket)
	New           func(es *EventSocket)
	WorkerAssign  func(es *EventSocket, w *Worker)
	Arg           any
}

// EventSocket is the unit of I/O ownership: a non-blocking handle plus its
// callbacks, owned by exactly one Worker at a time.
type EventSocket struct {
	mu sync.Mutex

	UUID       uuid.UUID
	Type       ESType
	PeerAddr   net.Addr
	Handle     net.Conn
	PacketConn net.PacketConn

	flags      Flags
	In         bytes.Buffer
	Out        bytes.Buffer
	LastActive time.Time

	Callbacks Callbacks

	reassigned bool
	owner      *Worker
}

// NewEventSocket wraps conn as an EventSocket of the given type.
func NewEventSocket(typ ESType, conn net.Conn, cb Callbacks) *EventSocket {
	return &EventSocket{
		UUID:       uuid.New(),
		Type:       typ,
		Handle:     conn,
		Callbacks:  cb,
		LastActive: time.Now(),
	}
}

// Flags returns a snapshot of the socket's flag bitmask.
func (es *EventSocket) Flags() Flags {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.flags
}

// SetFlag sets bits in the flag bitmask.
func (es *EventSocket) SetFlag(f Flags) {
	es.mu.Lock()
	es.flags |= f
	es.mu.Unlock()
}

// ClearFlag clears bits in the flag bitmask.
func (es *EventSocket) ClearFlag(f Flags) {
	es.mu.Lock()
	es.flags &^= f
	es.mu.Unlock()
}

// HasFlag reports whether every bit in f is set.
func (es *EventSocket) HasFlag(f Flags) bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.flags&f == f
}

// Owner returns the worker currently owning this socket, or nil.
func (es *EventSocket) Owner() *Worker {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.owner
}

func (es *EventSocket) touch() {
	es.mu.Lock()
	es.LastActive = time.Now()
	es.mu.Unlock()
}

// ErrAlreadyOwned is returned by AddEventSocket when the socket is owned by
// a different worker and REASSIGN_ONCE has already been consumed.
var ErrAlreadyOwned = errors.New("worker: event-socket already owned and reassign-once exhausted")

var (
	metricsOnce     sync.Once
	activeSockets   *prometheus.GaugeVec
	reassignCounter *prometheus.CounterVec
	timeoutCounter  *prometheus.CounterVec
)

func registerMetrics() {
	metricsOnce.Do(func() {
		activeSockets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "corenet",
			Subsystem: "worker",
			Name:      "active_event_sockets",
			Help:      "Event-sockets currently owned by a worker.",
		}, []string{"worker"})
		reassignCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corenet",
			Subsystem: "worker",
			Name:      "reassignments_total",
			Help:      "Event-sockets moved across workers.",
		}, []string{"worker"})
		timeoutCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "corenet",
			Subsystem: "worker",
			Name:      "idle_timeouts_total",
			Help:      "Event-sockets force-closed by the activity check.",
		}, []string{"worker"})
		prometheus.MustRegister(activeSockets, reassignCounter, timeoutCounter)
	})
}

type queuedCall struct {
	fn  func()
	arg any
}

// Worker is a reactor goroutine: it owns a set of event-sockets and drains
// queued work (add/delete/reassign/callback/io) from its own channel,
// dispatching every socket callback single-threaded on its own goroutine.
type Worker struct {
	id  int
	log *logrus.Logger

	connectionTimeout time.Duration

	mu      sync.Mutex
	sockets map[uuid.UUID]*EventSocket

	addCh      chan *EventSocket
	deleteCh   chan uuid.UUID
	callCh     chan queuedCall
	reassignCh chan reassignMsg
	exitCh     chan struct{}
	wg         sync.WaitGroup
}

type reassignMsg struct {
	es     *EventSocket
	target *Worker
}

// Pool is the fixed 0..N-1 indexed set of workers created at startup.
type Pool struct {
	workers []*Worker
}

// NewPool creates n workers, each with the given idle-close timeout, and
// starts their reactor loops.
func NewPool(n int, connectionTimeout time.Duration, log *logrus.Logger) *Pool {
	if log == nil {
		log = logrus.StandardLogger()
	}
	registerMetrics()
	p := &Pool{workers: make([]*Worker, n)}
	for i := 0; i < n; i++ {
		w := &Worker{
			id:                i,
			log:               log,
			connectionTimeout: connectionTimeout,
			sockets:           make(map[uuid.UUID]*EventSocket),
			addCh:             make(chan *EventSocket, 64),
			deleteCh:          make(chan uuid.UUID, 64),
			callCh:            make(chan queuedCall, 64),
			reassignCh:        make(chan reassignMsg, 16),
			exitCh:            make(chan struct{}),
		}
		p.workers[i] = w
		w.wg.Add(1)
		go w.run()
	}
	return p
}

// Workers returns the fixed worker slice.
func (p *Pool) Workers() []*Worker { return p.workers }

// Least returns the worker currently owning the fewest sockets.
func (p *Pool) Least() *Worker {
	best := p.workers[0]
	bestN := best.socketCount()
	for _, w := range p.workers[1:] {
		if n := w.socketCount(); n < bestN {
			best, bestN = w, n
		}
	}
	return best
}

// AddEventSocketAuto assigns es to the least-loaded worker in the pool.
func (p *Pool) AddEventSocketAuto(es *EventSocket) {
	p.Least().AddEventSocket(es)
}

// Close stops every worker's reactor loop and waits for it to drain.
func (p *Pool) Close() {
	for _, w := range p.workers {
		close(w.exitCh)
	}
	for _, w := range p.workers {
		w.wg.Wait()
	}
}

func (w *Worker) socketCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sockets)
}

// ID returns the worker's fixed pool index.
func (w *Worker) ID() int { return w.id }

// AddEventSocket moves ownership of es to w. Idempotent if es is already
// owned by w; returns ErrAlreadyOwned if es is owned by a different worker
// and REASSIGN_ONCE has been exhausted.
func (w *Worker) AddEventSocket(es *EventSocket) error {
	cur := es.Owner()
	if cur == w {
		return nil
	}
	if cur != nil {
		if es.reassigned && !es.HasFlag(FlagReassignOnce) {
			return ErrAlreadyOwned
		}
		es.reassigned = true
		reassignCounter.WithLabelValues(workerLabel(w.id)).Inc()
	}
	select {
	case w.addCh <- es:
		return nil
	case <-w.exitCh:
		return errors.New("worker: closed")
	}
}

func workerLabel(id int) string { return itoa(id) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// ExecCallbackOn queues fn(arg) to run on w's own goroutine.
func (w *Worker) ExecCallbackOn(fn func(arg any), arg any) {
	select {
	case w.callCh <- queuedCall{fn: func() { fn(arg) }, arg: arg}:
	case <-w.exitCh:
	}
}

// Reassign moves es from its current worker to target, subject to the
// REASSIGN_ONCE cap.
func (w *Worker) Reassign(es *EventSocket, target *Worker) {
	select {
	case w.reassignCh <- reassignMsg{es: es, target: target}:
	case <-w.exitCh:
	}
}

// DeleteEventSocket schedules es for teardown on w's goroutine.
func (w *Worker) DeleteEventSocket(id uuid.UUID) {
	select {
	case w.deleteCh <- id:
	case <-w.exitCh:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	halfTimeout := w.connectionTimeout / 2
	if halfTimeout <= 0 {
		halfTimeout = 30 * time.Second
	}
	ticker := time.NewTicker(halfTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-w.exitCh:
			w.teardownAll()
			return
		case es := <-w.addCh:
			w.assign(es)
		case id := <-w.deleteCh:
			w.remove(id)
		case qc := <-w.callCh:
			qc.fn()
		case rm := <-w.reassignCh:
			w.handleReassign(rm)
		case <-ticker.C:
			w.activityCheck()
		}
	}
}

func (w *Worker) assign(es *EventSocket) {
	es.mu.Lock()
	es.owner = w
	firstAssignment := !es.reassigned
	es.mu.Unlock()

	w.mu.Lock()
	w.sockets[es.UUID] = es
	w.mu.Unlock()
	activeSockets.WithLabelValues(workerLabel(w.id)).Inc()

	if firstAssignment {
		if es.Callbacks.New != nil {
			es.Callbacks.New(es)
		}
		if es.Callbacks.WorkerAssign != nil {
			es.Callbacks.WorkerAssign(es, w)
		}
	}
}

func (w *Worker) remove(id uuid.UUID) {
	w.mu.Lock()
	es, ok := w.sockets[id]
	if ok {
		delete(w.sockets, id)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	activeSockets.WithLabelValues(workerLabel(w.id)).Dec()
	if es.Callbacks.Delete != nil {
		es.Callbacks.Delete(es)
	}
	if es.Handle != nil {
		_ = es.Handle.Close()
	}
}

func (w *Worker) handleReassign(rm reassignMsg) {
	rm.es.mu.Lock()
	already := rm.es.reassigned
	hasOnce := rm.es.flags&FlagReassignOnce == FlagReassignOnce
	rm.es.mu.Unlock()
	if already && !hasOnce {
		w.log.Warnf("worker[%d]: reassign rejected, REASSIGN_ONCE exhausted for %s", w.id, rm.es.UUID)
		return
	}
	w.mu.Lock()
	delete(w.sockets, rm.es.UUID)
	w.mu.Unlock()
	activeSockets.WithLabelValues(workerLabel(w.id)).Dec()
	_ = rm.target.AddEventSocket(rm.es)
}

func (w *Worker) activityCheck() {
	now := time.Now()
	w.mu.Lock()
	var stale []*EventSocket
	for _, es := range w.sockets {
		if es.Type != ESTypeTCPClient && es.Type != ESTypeSSLClient {
			continue
		}
		if es.HasFlag(FlagNoClose) {
			continue
		}
		es.mu.Lock()
		last := es.LastActive
		es.mu.Unlock()
		if last.Add(w.connectionTimeout).Before(now) || last.Add(w.connectionTimeout).Equal(now) {
			stale = append(stale, es)
		}
	}
	w.mu.Unlock()

	for _, es := range stale {
		timeoutCounter.WithLabelValues(workerLabel(w.id)).Inc()
		if es.Callbacks.Error != nil {
			es.Callbacks.Error(es, ErrTimedOut)
		}
		es.SetFlag(FlagSignalClose)
		w.remove(es.UUID)
	}
}

func (w *Worker) teardownAll() {
	w.mu.Lock()
	all := make([]*EventSocket, 0, len(w.sockets))
	for _, es := range w.sockets {
		all = append(all, es)
	}
	w.sockets = make(map[uuid.UUID]*EventSocket)
	w.mu.Unlock()
	for _, es := range all {
		if es.Callbacks.Delete != nil {
			es.Callbacks.Delete(es)
		}
		if es.Handle != nil {
			_ = es.Handle.Close()
		}
	}
}

// ErrTimedOut is passed to a socket's Error callback by the activity check,
// standing in for the spec's ETIMEDOUT.
var ErrTimedOut = errors.New("worker: connection idle timeout (ETIMEDOUT)")

// Dispatch feeds newly-read bytes into es.In and invokes the Read callback
// on the caller's goroutine; callers must only invoke Dispatch from the
// owning worker's goroutine (e.g. from inside a Read/Connected callback or
// a dedicated io-pump goroutine that hands off via ExecCallbackOn).
func (es *EventSocket) Dispatch(data []byte) {
	es.mu.Lock()
	es.In.Write(data)
	es.LastActive = time.Now()
	es.mu.Unlock()
	if es.Callbacks.Read != nil {
		es.Callbacks.Read(es)
	}
}
