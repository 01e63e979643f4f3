package transport

import (
	"context"
	"encoding/base32"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DNSTunnelOps frames request/response bytes as TXT-record queries against
// a resolver, for carriers that only allow DNS egress.
type DNSTunnelOps struct {
	zone     string
	client   *dns.Client
	resolver string

	mu   sync.Mutex
	conn net.Conn
}

// NewDNSTunnel builds the well-known "DNS_TUNNEL" transport, framing bytes
// as TXT queries under zone resolved via resolver (host:port, typically
// port 53).
func NewDNSTunnel(zone, resolver string) *Transport {
	return &Transport{
		Name: "DNS_TUNNEL",
		ID:   TypeDNSTunnel,
		Kind: KindOther,
		Ops:  &DNSTunnelOps{zone: zone, resolver: resolver, client: &dns.Client{Timeout: 5 * time.Second}},
	}
}

func (d *DNSTunnelOps) Init(cfg map[string]string) error { return nil }
func (d *DNSTunnelOps) Deinit() error                     { return nil }

func (d *DNSTunnelOps) GetCapabilities() Capabilities {
	return 0 // unreliable, unordered, datagram-shaped: none of the bits apply
}

func (d *DNSTunnelOps) StagePrepare(ctx context.Context, p Params) (*Result, error) {
	return &Result{}, nil
}

func (d *DNSTunnelOps) Connect(ctx context.Context, r *Result) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = &dnsTunnelConn{ops: d}
	return d.conn, nil
}

func (d *DNSTunnelOps) Accept(ctx context.Context, listener net.Listener) (net.Conn, error) {
	return nil, fmt.Errorf("transport/dnstunnel: accept side is served by an authoritative DNS handler, not net.Listener")
}

func (d *DNSTunnelOps) Read(conn net.Conn, buf []byte) (int, error)  { return conn.Read(buf) }
func (d *DNSTunnelOps) Write(conn net.Conn, buf []byte) (int, error) { return conn.Write(buf) }
func (d *DNSTunnelOps) Close(conn net.Conn) error                    { return conn.Close() }

// query sends payload as the subdomain label of a TXT query under d.zone
// and returns the decoded TXT response payload.
func (d *DNSTunnelOps) query(payload []byte) ([]byte, error) {
	label := base32.HexEncoding.WithPadding(base32.NoPadding).EncodeToString(payload)
	fqdn := dns.Fqdn(fmt.Sprintf("%s.%s", label, d.zone))

	m := new(dns.Msg)
	m.SetQuestion(fqdn, dns.TypeTXT)
	resp, _, err := d.client.Exchange(m, d.resolver)
	if err != nil {
		return nil, fmt.Errorf("transport/dnstunnel: exchange: %w", err)
	}
	var out []byte
	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			for _, chunk := range txt.Txt {
				decoded, err := base32.HexEncoding.WithPadding(base32.NoPadding).DecodeString(chunk)
				if err != nil {
					continue
				}
				out = append(out, decoded...)
			}
		}
	}
	return out, nil
}

// dnsTunnelConn adapts the query/response request-response shape of
// DNSTunnelOps to a net.Conn; Write buffers, Read performs the exchange.
type dnsTunnelConn struct {
	ops     *DNSTunnelOps
	pending []byte
	inbox   []byte
}

func (c *dnsTunnelConn) Read(b []byte) (int, error) {
	if len(c.inbox) == 0 {
		resp, err := c.ops.query(c.pending)
		if err != nil {
			return 0, err
		}
		c.pending = nil
		c.inbox = resp
	}
	n := copy(b, c.inbox)
	c.inbox = c.inbox[n:]
	return n, nil
}

func (c *dnsTunnelConn) Write(b []byte) (int, error) {
	c.pending = append(c.pending, b...)
	return len(b), nil
}

func (c *dnsTunnelConn) Close() error                       { return nil }
func (c *dnsTunnelConn) LocalAddr() net.Addr                 { return dnsTunnelAddr(c.ops.zone) }
func (c *dnsTunnelConn) RemoteAddr() net.Addr                { return dnsTunnelAddr(c.ops.resolver) }
func (c *dnsTunnelConn) SetDeadline(t time.Time) error       { return nil }
func (c *dnsTunnelConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *dnsTunnelConn) SetWriteDeadline(t time.Time) error  { return nil }

type dnsTunnelAddr string

func (a dnsTunnelAddr) Network() string { return "dns" }
func (a dnsTunnelAddr) String() string  { return string(a) }
