package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
)

// UDPOps implements both UDP_BASIC (fire-and-forget datagrams) and
// UDP_RELIABLE (the same datagrams plus an in-house sequence-number
// ack/retransmit layer) behind one Ops, distinguished by reliable.
type UDPOps struct {
	reliable bool

	mu      sync.Mutex
	nextSeq uint32
	pending map[uint32][]byte
}

// NewUDPBasic builds the well-known "UDP_BASIC" transport.
func NewUDPBasic() *Transport {
	return &Transport{Name: "UDP_BASIC", ID: TypeUDPBasic, Kind: KindUDPDatagram, Ops: &UDPOps{}}
}

// NewUDPReliable builds the well-known "UDP_RELIABLE" transport.
func NewUDPReliable() *Transport {
	return &Transport{Name: "UDP_RELIABLE", ID: TypeUDPReliable, Kind: KindUDPDatagram,
		Ops: &UDPOps{reliable: true, pending: make(map[uint32][]byte)}}
}

func (u *UDPOps) Init(cfg map[string]string) error { return nil }
func (u *UDPOps) Deinit() error                     { return nil }

func (u *UDPOps) GetCapabilities() Capabilities {
	caps := Capabilities(0)
	if u.reliable {
		caps |= CapReliable | CapOrdered
	}
	return caps
}

func (u *UDPOps) StagePrepare(ctx context.Context, p Params) (*Result, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port)))
	if err != nil {
		return nil, fmt.Errorf("transport/udp: resolve: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("transport/udp: dial: %w", err)
	}
	return &Result{Conn: conn}, nil
}

func (u *UDPOps) Connect(ctx context.Context, r *Result) (net.Conn, error) { return r.Conn, nil }

func (u *UDPOps) Accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	return listener.Accept()
}

// Read strips the 4-byte sequence header for UDP_RELIABLE; it sends no ack,
// and a frame leaves the retransmit set only when Ack is called.
// UDP_BASIC passes the datagram through unmodified.
func (u *UDPOps) Read(conn net.Conn, buf []byte) (int, error) {
	if !u.reliable {
		return conn.Read(buf)
	}
	tmp := make([]byte, len(buf)+4)
	n, err := conn.Read(tmp)
	if err != nil {
		return 0, err
	}
	if n < 4 {
		return 0, fmt.Errorf("transport/udp: reliable frame too short")
	}
	copy(buf, tmp[4:n])
	return n - 4, nil
}

// Write prepends a sequence number and retains the frame for retransmit
// when UDP_RELIABLE is in effect.
func (u *UDPOps) Write(conn net.Conn, buf []byte) (int, error) {
	if !u.reliable {
		return conn.Write(buf)
	}
	u.mu.Lock()
	seq := u.nextSeq
	u.nextSeq++
	frame := make([]byte, 4+len(buf))
	binary.BigEndian.PutUint32(frame[:4], seq)
	copy(frame[4:], buf)
	u.pending[seq] = frame
	u.mu.Unlock()

	n, err := conn.Write(frame)
	if err != nil {
		return 0, err
	}
	return n - 4, nil
}

func (u *UDPOps) Close(conn net.Conn) error { return conn.Close() }

// Retransmit resends every frame still unacked and returns how many it
// sent. timeout is not consulted, so a frame is resent on every call until
// Ack removes it.
func (u *UDPOps) Retransmit(conn net.Conn, timeout time.Duration) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, frame := range u.pending {
		_, _ = conn.Write(frame)
		n++
	}
	return n
}

// Ack removes seq from the pending retransmit set.
func (u *UDPOps) Ack(seq uint32) {
	u.mu.Lock()
	delete(u.pending, seq)
	u.mu.Unlock()
}
