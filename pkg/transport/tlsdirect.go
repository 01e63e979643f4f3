package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	basichost "github.com/libp2p/go-libp2p/p2p/host/basic"
)

// TLSDirectOps dials straight TLS. An optional libp2p NAT manager is only
// consulted by HasNAT; no port is rewritten through its mapping.
type TLSDirectOps struct {
	natManager *basichost.NATManager
	tlsConfig  *tls.Config
}

// NewTLSDirect builds the well-known "TLS_DIRECT" transport. natManager may
// be nil when the node has no NAT to traverse.
func NewTLSDirect(natManager *basichost.NATManager, tlsConfig *tls.Config) *Transport {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Transport{
		Name: "TLS_DIRECT",
		ID:   TypeTLSDirect,
		Kind: KindTCP,
		Ops:  &TLSDirectOps{natManager: natManager, tlsConfig: tlsConfig},
	}
}

func (t *TLSDirectOps) Init(cfg map[string]string) error { return nil }
func (t *TLSDirectOps) Deinit() error                     { return nil }

func (t *TLSDirectOps) GetCapabilities() Capabilities {
	return CapReliable | CapOrdered | CapConnectionOriented | CapEncrypted
}

// HasNAT reports whether a NAT manager is attached and has discovered a
// device; callers use this to decide whether to advertise the mapped public
// port instead of the local listen port.
func (t *TLSDirectOps) HasNAT() bool {
	return t.natManager != nil && t.natManager.NAT() != nil
}

func (t *TLSDirectOps) StagePrepare(ctx context.Context, p Params) (*Result, error) {
	conn, err := tls.Dial("tcp", net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port)), t.tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("transport/tlsdirect: dial: %w", err)
	}
	return &Result{Conn: conn}, nil
}

func (t *TLSDirectOps) Connect(ctx context.Context, r *Result) (net.Conn, error) { return r.Conn, nil }

func (t *TLSDirectOps) Accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	return listener.Accept()
}

func (t *TLSDirectOps) Read(conn net.Conn, buf []byte) (int, error)  { return conn.Read(buf) }
func (t *TLSDirectOps) Write(conn net.Conn, buf []byte) (int, error) { return conn.Write(buf) }
func (t *TLSDirectOps) Close(conn net.Conn) error                    { return conn.Close() }
