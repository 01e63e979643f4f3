// Package transport implements the pluggable on-wire carrier registry: a
// stream speaks over whichever transport is attached to it, and every
// transport exposes the same small operation set regardless of what sits
// underneath (plain TCP, UDP, WebSocket, TLS, or a DNS-tunnel).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// TypeID is the small integer key transports are registered under.
type TypeID int

const (
	TypeHTTP TypeID = iota + 1
	TypeUDPBasic
	TypeUDPReliable
	TypeUDPQUICLike
	TypeWebSocket
	TypeTLSDirect
	TypeDNSTunnel
)

func (t TypeID) String() string {
	switch t {
	case TypeHTTP:
		return "HTTP"
	case TypeUDPBasic:
		return "UDP_BASIC"
	case TypeUDPReliable:
		return "UDP_RELIABLE"
	case TypeUDPQUICLike:
		return "UDP_QUIC_LIKE"
	case TypeWebSocket:
		return "WEBSOCKET"
	case TypeTLSDirect:
		return "TLS_DIRECT"
	case TypeDNSTunnel:
		return "DNS_TUNNEL"
	default:
		return fmt.Sprintf("TypeID(%d)", int(t))
	}
}

// Kind classifies the underlying carrier's delivery semantics.
type Kind int

const (
	KindTCP Kind = iota
	KindUDPDatagram
	KindUDPStreamLike
	KindOther
)

// Capabilities is a bitmask describing what a transport can do, cached at
// register time from a call to its GetCapabilities hook.
type Capabilities uint32

const (
	CapReliable Capabilities = 1 << iota
	CapOrdered
	CapConnectionOriented
	CapEncrypted
	CapMultiplexed
)

// Params carries the inputs stage_prepare needs to create a client
// connection attempt's event-socket.
type Params struct {
	Host string
	Port uint16
	TLS  bool
}

// Result is populated by StagePrepare with whatever the connect step will
// need to finish dialing.
type Result struct {
	Conn net.Conn
}

// Ops is the operation set every transport implementation supplies. Each
// implementation provides every method; the registry has no per-method
// defaults. Register rejects a Transport whose Ops is nil with
// ErrNoStagePrepare rather than falling back to anything.
type Ops interface {
	Init(cfg map[string]string) error
	Deinit() error
	GetCapabilities() Capabilities
	StagePrepare(ctx context.Context, p Params) (*Result, error)
	Connect(ctx context.Context, r *Result) (net.Conn, error)
	Accept(ctx context.Context, listener net.Listener) (net.Conn, error)
	Read(conn net.Conn, buf []byte) (int, error)
	Write(conn net.Conn, buf []byte) (int, error)
	Close(conn net.Conn) error
}

// ObfuscationEngine is the narrow interface a transport needs from
// pkg/obfuscation; declared here to avoid a dependency cycle.
type ObfuscationEngine interface {
	Obfuscate(plain []byte) ([]byte, error)
	Deobfuscate(wire []byte) ([]byte, error)
}

// Transport is one registered on-wire carrier.
type Transport struct {
	Name              string
	ID                TypeID
	Kind              Kind
	Caps              Capabilities
	Ops               Ops
	Engine            ObfuscationEngine
	HasSessionControl bool
}

// ErrNameTooLong is returned by Register when Name exceeds 63 bytes.
var ErrNameTooLong = errors.New("transport: name exceeds 63 bytes")

// ErrNoStagePrepare is returned by Register when Ops is nil, which leaves no
// StagePrepare to call.
var ErrNoStagePrepare = errors.New("transport: StagePrepare must not be nil")

// ErrUnknownType is returned by Get and GetByName when no transport is
// registered under the requested TypeID or name.
var ErrUnknownType = errors.New("transport: unknown type id")

// Registry is the process-wide table of registered transports, keyed by
// TypeID with a secondary linear by-name index.
type Registry struct {
	mu    sync.RWMutex
	byID  map[TypeID]*Transport
	log   *logrus.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{byID: make(map[TypeID]*Transport), log: log}
}

// Register adds t to the registry. Double-registering the same TypeID is a
// success no-op that leaves the original entry untouched.
func (r *Registry) Register(t *Transport) error {
	if len(t.Name) > 63 {
		return ErrNameTooLong
	}
	if t.Ops == nil {
		return ErrNoStagePrepare
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[t.ID]; exists {
		r.log.Debugf("transport: %s (%d) already registered, ignoring", t.Name, t.ID)
		return nil
	}
	t.Caps = t.Ops.GetCapabilities()
	r.byID[t.ID] = t
	r.log.Infof("transport: registered %s (%d), caps=%#x", t.Name, t.ID, t.Caps)
	return nil
}

// Unregister removes the transport at id. Idempotent: removing an id twice
// returns nil both times.
func (r *Registry) Unregister(id TypeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

// Get looks up a transport by TypeID.
func (r *Registry) Get(id TypeID) (*Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownType
	}
	return t, nil
}

// GetByName performs a linear lookup by transport name.
func (r *Registry) GetByName(name string) (*Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byID {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, ErrUnknownType
}

// All returns a snapshot slice of every registered transport.
func (r *Registry) All() []*Transport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Transport, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, auto-initializing it on first
// use so that Register calls made before any explicit setup still land
// somewhere.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry(nil)
	})
	return defaultReg
}

// ParseTypeName maps a human-supplied transport string to a TypeID,
// defaulting unknown strings to HTTP with a warning.
func ParseTypeName(s string) TypeID {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "https":
		return TypeHTTP
	case "udp", "udp_basic":
		return TypeUDPBasic
	case "udp_reliable":
		return TypeUDPReliable
	case "udp_quic", "quic":
		return TypeUDPQUICLike
	case "ws", "websocket":
		return TypeWebSocket
	case "tls", "tls_direct":
		return TypeTLSDirect
	case "dns", "dns_tunnel":
		return TypeDNSTunnel
	default:
		logrus.StandardLogger().Warnf("transport: unknown transport string %q, defaulting to HTTP", s)
		return TypeHTTP
	}
}
