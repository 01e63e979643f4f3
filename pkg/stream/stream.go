// Package stream implements the logical bidirectional channel a transport
// and an optional obfuscation engine compose into, plus the single
// unified HTTP/1.1 request state machine both Client.Do and Client.DoAsync
// drive.
package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"corenet/pkg/obfuscation"
	"corenet/pkg/transport"
	"corenet/pkg/worker"
)

// Stream is an event-socket paired with a transport and, optionally, an
// obfuscation engine; either the transport or the engine may be absent.
type Stream struct {
	ID        uuid.UUID
	Socket    *worker.EventSocket
	Transport *transport.Transport
	Engine    *obfuscation.Engine
}

// New builds a Stream wrapping es over t, with engine optionally attached.
// A nil engine means bytes pass through unchanged. A nil transport is
// accepted here, but WriteFrame and ReadFrame then return an error.
func New(es *worker.EventSocket, t *transport.Transport, engine *obfuscation.Engine) *Stream {
	return &Stream{ID: uuid.New(), Socket: es, Transport: t, Engine: engine}
}

// WriteFrame obfuscates payload (if an engine is attached) and writes it
// through the stream's transport, applying the engine's timing jitter
// before the write as §4.3 requires of callers.
func (s *Stream) WriteFrame(payload []byte) (int, error) {
	wire := payload
	if s.Engine != nil {
		obf, err := s.Engine.Obfuscate(payload)
		if err != nil {
			return 0, fmt.Errorf("stream: obfuscate: %w", err)
		}
		wire = obf
		if delay, err := s.Engine.CalcDelay(); err == nil && delay > 0 {
			time.Sleep(delay)
		}
	}
	if s.Transport == nil || s.Socket == nil || s.Socket.Handle == nil {
		return 0, fmt.Errorf("stream: no transport/socket attached")
	}
	return s.Transport.Ops.Write(s.Socket.Handle, wire)
}

// ReadFrame reads up to len(buf) wire bytes and deobfuscates them (if an
// engine is attached) before returning.
func (s *Stream) ReadFrame(buf []byte) ([]byte, error) {
	if s.Transport == nil || s.Socket == nil || s.Socket.Handle == nil {
		return nil, fmt.Errorf("stream: no transport/socket attached")
	}
	n, err := s.Transport.Ops.Read(s.Socket.Handle, buf)
	if err != nil {
		return nil, err
	}
	wire := buf[:n]
	if s.Engine == nil {
		return wire, nil
	}
	plain, err := s.Engine.Deobfuscate(wire)
	if err != nil {
		return nil, fmt.Errorf("stream: deobfuscate: %w", err)
	}
	return plain, nil
}
