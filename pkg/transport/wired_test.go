package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"math/big"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/miekg/dns"
)

func selfSignedTLSConfigs(t *testing.T) (server *tls.Config, client *tls.Config) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, &tls.Config{InsecureSkipVerify: true}
}

func TestTLSDirectConnectReadWrite(t *testing.T) {
	serverCfg, clientCfg := selfSignedTLSConfigs(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		n, _ := conn.Read(buf)
		_, _ = conn.Write(buf[:n])
	}()

	tr := NewTLSDirect(nil, clientCfg)
	if tr.Ops.(*TLSDirectOps).HasNAT() {
		t.Fatalf("expected no NAT manager attached")
	}

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	result, err := tr.Ops.StagePrepare(context.Background(), Params{Host: host, Port: uint16(port)})
	if err != nil {
		t.Fatalf("stage prepare: %v", err)
	}
	conn, err := tr.Ops.Connect(context.Background(), result)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Ops.Close(conn)

	if _, err := tr.Ops.Write(conn, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	n, err := tr.Ops.Read(conn, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("echo mismatch: %q", buf[:n])
	}
	<-done
}

func TestUDPQUICLikeConnectUsesSuppliedConn(t *testing.T) {
	tr := NewUDPQUICLike(peer.ID("ephemeral-test-peer"))
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	conn, err := tr.Ops.Connect(context.Background(), &Result{Conn: a})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	go func() {
		buf := make([]byte, 5)
		n, _ := b.Read(buf)
		_, _ = b.Write(buf[:n])
	}()

	if _, err := tr.Ops.Write(conn, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	n, err := tr.Ops.Read(conn, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("echo mismatch: %q", buf[:n])
	}
}

func TestUDPQUICLikeConnectWithoutDialErrors(t *testing.T) {
	tr := NewUDPQUICLike(peer.ID(""))
	if _, err := tr.Ops.Connect(context.Background(), &Result{}); err == nil {
		t.Fatalf("expected error when no libp2p dial result is supplied")
	}
}

func TestUDPQUICLikeStagePrepareBuildsMultiaddr(t *testing.T) {
	tr := NewUDPQUICLike(peer.ID(""))
	if _, err := tr.Ops.StagePrepare(context.Background(), Params{Host: "127.0.0.1", Port: 4242}); err != nil {
		t.Fatalf("stage prepare: %v", err)
	}
	if _, err := QUICMultiaddr(Params{Host: "not an ip", Port: 1}); err == nil {
		t.Fatalf("expected bad host to fail multiaddr construction")
	}
}

func TestDNSTunnelConnectReadWrite(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	const zone = "tunnel.test."
	enc := base32.HexEncoding.WithPadding(base32.NoPadding)
	mux := dns.NewServeMux()
	mux.HandleFunc(zone, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		m.Answer = append(m.Answer, &dns.TXT{
			Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET},
			Txt: []string{enc.EncodeToString([]byte("pong"))},
		})
		_ = w.WriteMsg(m)
	})
	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	defer srv.Shutdown()

	tr := NewDNSTunnel("tunnel.test", pc.LocalAddr().String())
	result, err := tr.Ops.StagePrepare(context.Background(), Params{})
	if err != nil {
		t.Fatalf("stage prepare: %v", err)
	}
	conn, err := tr.Ops.Connect(context.Background(), result)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := tr.Ops.Write(conn, []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 16)
	n, err := tr.Ops.Read(conn, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("unexpected response: %q", buf[:n])
	}
}

func TestDNSTunnelAcceptIsUnsupported(t *testing.T) {
	tr := NewDNSTunnel("tunnel.test", "127.0.0.1:53")
	if _, err := tr.Ops.Accept(context.Background(), nil); err == nil {
		t.Fatalf("expected accept to report it is unsupported for DNS_TUNNEL")
	}
}
