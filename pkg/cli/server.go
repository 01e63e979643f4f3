package cli

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes bounds the JSON-RPC body the stage-3 reader will accept,
// mirroring the original's guard against a caller claiming an absurd
// Content-Length.
const maxBodyBytes = 4 << 20

// StatsFunc receives the wall-clock duration of one dispatched command.
type StatsFunc func(method string, dur time.Duration)

// Server is the CLI/JSON-RPC admin channel from spec §4.5: one listener,
// a chi mux handling a single route, access control, and the command
// registry. chi supplies routing/middleware; the JSON-RPC body itself is
// still read and parsed by hand per spec (chi's router has no notion of
// the wire protocol's Content-Length-then-body staging).
type Server struct {
	log      *logrus.Logger
	registry *CommandRegistry
	mux      *chi.Mux

	mu                sync.RWMutex
	allowedCmdControl bool
	allowlist         map[string]bool
	staticHeaders     map[string]string
	dynamicHeaders    []func() (string, string)
	stats             StatsFunc
}

// NewServer builds a Server dispatching into registry.
func NewServer(registry *CommandRegistry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		log:           log,
		registry:      registry,
		mux:           chi.NewRouter(),
		allowlist:     make(map[string]bool),
		staticHeaders: make(map[string]string),
	}
	s.mux.Post("/", s.handle)
	s.mux.Post("/*", s.handle)
	return s
}

// SetAccessControl configures the "loopback/unix-domain always allowed
// unless explicitly denied" policy from spec §9's Open Question. When
// allowedCmdControl is true, non-loopback/non-unix callers are let through
// provided their JSON-RPC method is in allowlist.
func (s *Server) SetAccessControl(allowedCmdControl bool, allowlist []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedCmdControl = allowedCmdControl
	s.allowlist = make(map[string]bool, len(allowlist))
	for _, m := range allowlist {
		s.allowlist[m] = true
	}
}

// AddStaticHeader registers a header sent on every response.
func (s *Server) AddStaticHeader(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staticHeaders[key] = value
}

// AddDynamicHeader registers a callback invoked per response to produce
// one extra header.
func (s *Server) AddDynamicHeader(fn func() (string, string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dynamicHeaders = append(s.dynamicHeaders, fn)
}

// SetStatsCallback registers the per-command wall-clock reporter.
func (s *Server) SetStatsCallback(fn StatsFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = fn
}

// Serve runs the HTTP server on l until it is closed.
func (s *Server) Serve(l net.Listener) error {
	return http.Serve(l, s.mux)
}

// ListenAndServe listens on addr (tcp) and serves on it.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// isLocal reports whether r arrived over loopback TCP or a Unix-domain
// socket — the two connection kinds spec §9 says are "always allowed
// unless explicitly denied".
func isLocal(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// Unix-domain listeners report RemoteAddr as "@" or "" — never a
		// host:port pair — so a SplitHostPort failure means "not TCP".
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	local := isLocal(r)
	s.mu.RLock()
	allowedCmdControl := s.allowedCmdControl
	s.mu.RUnlock()
	if !local && !allowedCmdControl {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	body, err := readBody(r)
	if err != nil {
		s.log.WithError(err).Warn("cli: malformed request body")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.log.WithError(err).Warn("cli: request body is not valid JSON-RPC")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if !local {
		s.mu.RLock()
		allowed := s.allowlist[req.Method]
		s.mu.RUnlock()
		if !allowed {
			w.WriteHeader(http.StatusForbidden)
			return
		}
	}

	resp := s.dispatch(req)

	s.mu.RLock()
	stats := s.stats
	static := make(map[string]string, len(s.staticHeaders))
	for k, v := range s.staticHeaders {
		static[k] = v
	}
	dynamic := append([]func() (string, string){}, s.dynamicHeaders...)
	s.mu.RUnlock()

	dur := time.Since(start)
	if stats != nil {
		stats(req.Method, dur)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	w.Header().Set("Processing-Time", strconv.FormatInt(dur.Nanoseconds(), 10))
	for k, v := range static {
		w.Header().Set(k, v)
	}
	for _, fn := range dynamic {
		k, v := fn()
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// dispatch resolves req.Method and runs its handler. Running it here —
// inside the per-request goroutine net/http already spawned — is the Go
// equivalent of spec §4.5's "runs on a detached thread": the connection's
// own goroutine is never blocked waiting on some other worker.
func (s *Server) dispatch(req Request) Response {
	cmd, prefix, ok := s.registry.Resolve(req.Method)
	if !ok {
		return Response{
			Type:    ResultJSON,
			Result:  []RPCError{{Code: ErrUnknownMethod, Message: "unknown method: " + req.Method}},
			ID:      req.ID,
			Version: req.Version,
		}
	}

	argv := append(append([]string{}, prefix...), req.Params...)
	var reply Reply
	code := cmd.run(len(argv), argv, &reply, req.Version)
	if code != 0 {
		return Response{
			Type:    ResultJSON,
			Result:  []RPCError{{Code: code, Message: "command failed"}},
			ID:      req.ID,
			Version: req.Version,
		}
	}
	return Response{Type: reply.Type, Result: reply.Value, ID: req.ID, Version: req.Version}
}

// readBody enforces a Content-Length-bounded read, mirroring the original
// body-framing state machine's "wait for the full body" stage even though
// net/http has already located the header/body boundary for us.
func readBody(r *http.Request) ([]byte, error) {
	n := r.ContentLength
	if n < 0 || n > maxBodyBytes {
		n = maxBodyBytes
	}
	limited := io.LimitReader(r.Body, n+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	return b, nil
}
