// Package obfuscation reshapes a stream's on-wire bytes to frustrate
// traffic analysis: random padding, a protocol-mimicry header, timing
// jitter, per-session polymorphic magic numbers, and fake traffic mixing.
// It never touches sockets directly; pkg/stream consults an attached
// Engine on every read/write instead of any transport inlining it.
package obfuscation

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Technique is a bit in Config.Techniques.
type Technique uint32

const (
	TechPadding Technique = 1 << iota
	TechMimicry
	TechTiming
	TechPolymorphic
	TechMixing
)

// Level is the coarse obfuscation preset; it only seeds sub-config
// defaults, operators may still set every field explicitly.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelParanoid
)

// TargetProtocol names the protocol a mimicry header impersonates.
type TargetProtocol int

const (
	MimicHTTPS TargetProtocol = iota
	MimicHTTP2
)

// PaddingConfig controls the padding technique.
type PaddingConfig struct {
	Min         int
	Max         int
	Probability float64
}

// TimingConfig controls the timing-jitter technique.
type TimingConfig struct {
	MinMS           int
	MaxMS           int
	RandomizeBurst  bool
}

// MixingConfig controls the fake-traffic-mixing technique.
type MixingConfig struct {
	ArtificialRate int // bytes/sec
	MinPacketSize  int
	MaxPacketSize  int
}

// MimicryConfig controls the protocol-mimicry technique.
type MimicryConfig struct {
	TargetProtocol  TargetProtocol
	EmulateBrowser  bool
}

// Config is the full obfuscation configuration for one Engine.
type Config struct {
	Techniques Technique
	Level      Level
	Padding    PaddingConfig
	Timing     TimingConfig
	Mixing     MixingConfig
	Mimicry    MimicryConfig

	// SharedSecret seeds the polymorphic per-session magic derivation.
	// It must be agreed out of band (e.g. via the stream's handshake).
	SharedSecret []byte
}

// DefaultConfigForLevel seeds field defaults for a coarse Level; operators
// may override any field afterward.
func DefaultConfigForLevel(level Level) Config {
	switch level {
	case LevelLow:
		return Config{
			Techniques: TechPadding,
			Level:      level,
			Padding:    PaddingConfig{Min: 0, Max: 64, Probability: 0.25},
		}
	case LevelMedium:
		return Config{
			Techniques: TechPadding | TechTiming,
			Level:      level,
			Padding:    PaddingConfig{Min: 16, Max: 256, Probability: 0.5},
			Timing:     TimingConfig{MinMS: 0, MaxMS: 40},
		}
	case LevelHigh:
		return Config{
			Techniques: TechPadding | TechMimicry | TechTiming | TechPolymorphic,
			Level:      level,
			Padding:    PaddingConfig{Min: 32, Max: 512, Probability: 0.75},
			Timing:     TimingConfig{MinMS: 10, MaxMS: 120},
			Mimicry:    MimicryConfig{TargetProtocol: MimicHTTPS},
		}
	case LevelParanoid:
		return Config{
			Techniques: TechPadding | TechMimicry | TechTiming | TechPolymorphic | TechMixing,
			Level:      level,
			Padding:    PaddingConfig{Min: 64, Max: 1024, Probability: 0.9},
			Timing:     TimingConfig{MinMS: 20, MaxMS: 250, RandomizeBurst: true},
			Mimicry:    MimicryConfig{TargetProtocol: MimicHTTP2, EmulateBrowser: true},
			Mixing:     MixingConfig{ArtificialRate: 2048, MinPacketSize: 32, MaxPacketSize: 512},
		}
	default:
		return Config{Level: LevelNone}
	}
}

// mimicry headers are fixed-length fake headers resembling the named
// protocol's start; Deobfuscate strips exactly this many bytes.
var mimicryHeaders = map[TargetProtocol][]byte{
	MimicHTTPS: []byte("\x16\x03\x01\x02\x00\x01\x00\x01\xfc\x03\x03"), // TLS ClientHello-shaped
	MimicHTTP2: []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"),
}

// Counters are atomic wire-level counters; PublishMetrics copies them into
// the shared prometheus registry.
type Counters struct {
	PacketsOut   atomic.Int64
	PacketsIn    atomic.Int64
	FakePackets  atomic.Int64
	PaddingBytes atomic.Int64
	FakeBytes    atomic.Int64
}

// Engine applies and reverses the configured techniques for one stream
// direction pair. Besides its atomic counters an Engine keeps no per-call
// state: the polymorphic magic depends only on the shared secret and the
// session salt, so every Obfuscate call of a session carries the same magic.
type Engine struct {
	cfg      Config
	sessionSalt []byte
	counters Counters
}

// NewEngine builds an Engine for one stream session. The polymorphic magic
// (if enabled) is derived from cfg.SharedSecret and sessionSalt on each
// Obfuscate call.
func NewEngine(cfg Config, sessionSalt []byte) *Engine {
	return &Engine{cfg: cfg, sessionSalt: sessionSalt}
}

// Counters exposes the engine's atomic wire counters.
func (e *Engine) Counters() *Counters { return &e.counters }

func (e *Engine) has(t Technique) bool { return e.cfg.Techniques&t == t }

// sessionMagic derives an 8-byte per-session magic via HKDF-SHA256 over the
// shared secret and session salt, so two sessions between the same peer
// pair carry different leading bytes on the wire.
func (e *Engine) sessionMagic() ([]byte, error) {
	r := hkdf.New(sha256.New, e.cfg.SharedSecret, e.sessionSalt, []byte("corenet-obfuscation-magic"))
	magic := make([]byte, 8)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("obfuscation: derive session magic: %w", err)
	}
	return magic, nil
}

// Obfuscate transforms plain into wire-ready bytes per the engine's
// configured techniques. Deobfuscate(Obfuscate(x)) == x for every x,
// regardless of which combination of techniques is enabled.
func (e *Engine) Obfuscate(plain []byte) ([]byte, error) {
	out := plain

	if e.has(TechPadding) {
		padded, err := e.pad(out)
		if err != nil {
			return nil, err
		}
		out = padded
	}

	if e.has(TechPolymorphic) {
		magic, err := e.sessionMagic()
		if err != nil {
			return nil, err
		}
		out = append(append([]byte{}, magic...), out...)
	}

	if e.has(TechMimicry) {
		header := mimicryHeaders[e.cfg.Mimicry.TargetProtocol]
		out = append(append([]byte{}, header...), out...)
	}

	e.counters.PacketsOut.Add(1)
	return out, nil
}

// Deobfuscate reverses Obfuscate, in the opposite order techniques were
// applied: strip mimicry header, strip polymorphic magic, unpad.
func (e *Engine) Deobfuscate(wire []byte) ([]byte, error) {
	out := wire

	if e.has(TechMimicry) {
		header := mimicryHeaders[e.cfg.Mimicry.TargetProtocol]
		if len(out) < len(header) {
			return nil, fmt.Errorf("obfuscation: wire shorter than mimicry header")
		}
		out = out[len(header):]
	}

	if e.has(TechPolymorphic) {
		if len(out) < 8 {
			return nil, fmt.Errorf("obfuscation: wire shorter than polymorphic magic")
		}
		// The magic is skipped here, neither re-derived nor verified.
		out = out[8:]
	}

	if e.has(TechPadding) {
		unpadded, err := e.unpad(out)
		if err != nil {
			return nil, err
		}
		out = unpadded
	}

	e.counters.PacketsIn.Add(1)
	return out, nil
}

// pad prepends a 4-byte big-endian original-length header and appends a
// cryptographically random tail, with probability cfg.Padding.Probability.
func (e *Engine) pad(plain []byte) ([]byte, error) {
	framed := make([]byte, 4+len(plain))
	binary.BigEndian.PutUint32(framed[:4], uint32(len(plain)))
	copy(framed[4:], plain)

	doPad, err := randBool(e.cfg.Padding.Probability)
	if err != nil {
		return nil, err
	}
	if !doPad || e.cfg.Padding.Max <= 0 {
		return framed, nil
	}
	n, err := randRange(e.cfg.Padding.Min, e.cfg.Padding.Max)
	if err != nil {
		return nil, err
	}
	tail := make([]byte, n)
	if _, err := rand.Read(tail); err != nil {
		return nil, fmt.Errorf("obfuscation: generate padding: %w", err)
	}
	e.counters.PaddingBytes.Add(int64(n))
	return append(framed, tail...), nil
}

// unpad reads the 4-byte length header and truncates any padding tail.
func (e *Engine) unpad(framed []byte) ([]byte, error) {
	if len(framed) < 4 {
		return nil, fmt.Errorf("obfuscation: frame shorter than length header")
	}
	n := binary.BigEndian.Uint32(framed[:4])
	if int(n) > len(framed)-4 {
		return nil, fmt.Errorf("obfuscation: length header %d exceeds frame body %d", n, len(framed)-4)
	}
	return framed[4 : 4+n], nil
}

// CalcDelay returns a uniformly-random duration in [MinMS,MaxMS]. Callers
// (pkg/stream's write path) are responsible for actually sleeping by the
// returned amount before writing; the engine never blocks internally.
func (e *Engine) CalcDelay() (time.Duration, error) {
	if !e.has(TechTiming) {
		return 0, nil
	}
	ms, err := randRange(e.cfg.Timing.MinMS, e.cfg.Timing.MaxMS)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// GenerateFakeTraffic returns one random-length, random-content packet
// sized within [MinPacketSize,MaxPacketSize]; the engine does not pace
// emission at ArtificialRate. Nothing in pkg/stream sends or filters these
// packets, and they carry no marker that Deobfuscate recognises.
func (e *Engine) GenerateFakeTraffic() ([]byte, error) {
	if !e.has(TechMixing) {
		return nil, nil
	}
	n, err := randRange(e.cfg.Mixing.MinPacketSize, e.cfg.Mixing.MaxPacketSize)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("obfuscation: generate fake traffic: %w", err)
	}
	e.counters.FakePackets.Add(1)
	e.counters.FakeBytes.Add(int64(n))
	return buf, nil
}

func randRange(min, max int) (int, error) {
	if max <= min {
		return min, nil
	}
	span := big.NewInt(int64(max - min + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("obfuscation: random range: %w", err)
	}
	return min + int(n.Int64()), nil
}

func randBool(probability float64) (bool, error) {
	if probability <= 0 {
		return false, nil
	}
	if probability >= 1 {
		return true, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return false, fmt.Errorf("obfuscation: random bool: %w", err)
	}
	return float64(n.Int64())/1_000_000 < probability, nil
}
