package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// QUICLikeOps adapts libp2p's QUIC transport into the registry's Ops shape;
// it is how UDP_QUIC_LIKE gets connection-oriented, encrypted, multiplexed
// streams over UDP instead of the in-house ack/retransmit UDP_RELIABLE does.
// The actual dial/listen happens through a libp2p host supplied by the
// caller and handed in through Result.Conn; this Ops only translates Params into the
// multiaddr form libp2p expects.
type QUICLikeOps struct {
	localID peer.ID
}

// NewUDPQUICLike builds the well-known "UDP_QUIC_LIKE" transport, backed by
// libp2p's QUIC implementation.
func NewUDPQUICLike(localID peer.ID) *Transport {
	return &Transport{
		Name: "UDP_QUIC_LIKE",
		ID:   TypeUDPQUICLike,
		Kind: KindUDPStreamLike,
		Ops:  &QUICLikeOps{localID: localID},
	}
}

func (q *QUICLikeOps) Init(cfg map[string]string) error { return nil }
func (q *QUICLikeOps) Deinit() error                     { return nil }

func (q *QUICLikeOps) GetCapabilities() Capabilities {
	return CapReliable | CapOrdered | CapConnectionOriented | CapEncrypted | CapMultiplexed
}

// QUICMultiaddr returns the /ip4/.../udp/.../quic-v1 multiaddr a libp2p
// host needs to dial p.
func QUICMultiaddr(p Params) (ma.Multiaddr, error) {
	return ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", p.Host, p.Port))
}

func (q *QUICLikeOps) StagePrepare(ctx context.Context, p Params) (*Result, error) {
	if _, err := QUICMultiaddr(p); err != nil {
		return nil, fmt.Errorf("transport/quiclike: bad multiaddr: %w", err)
	}
	return &Result{}, nil
}

func (q *QUICLikeOps) Connect(ctx context.Context, r *Result) (net.Conn, error) {
	if r.Conn != nil {
		return r.Conn, nil
	}
	return nil, fmt.Errorf("transport/quiclike: connect requires a libp2p host dial, not a bare net.Conn")
}

func (q *QUICLikeOps) Accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	return listener.Accept()
}

func (q *QUICLikeOps) Read(conn net.Conn, buf []byte) (int, error)  { return conn.Read(buf) }
func (q *QUICLikeOps) Write(conn net.Conn, buf []byte) (int, error) { return conn.Write(buf) }
func (q *QUICLikeOps) Close(conn net.Conn) error                    { return conn.Close() }
