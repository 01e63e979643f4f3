package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"corenet/pkg/transport"
	"corenet/pkg/worker"
)

// MaxRedirects caps the number of redirect hops a single request will
// follow before failing with ErrTooManyRedirects.
const MaxRedirects = 10

// maxBodyBytes is the hard response-body cap; exceeding it fails the
// request with ErrBodyTooLarge ("-413").
const maxBodyBytes = 10 * 1024 * 1024

const (
	defaultConnectTimeout = 20 * time.Second
	defaultReadTimeout    = 5 * time.Second
)

// Sentinel errors mirroring the negative status codes of the original
// design: -301 redirect cap, -302 missing Location, -413 body too large,
// -6/-7/-8 premature disconnect at various stages.
var (
	ErrTooManyRedirects  = fmt.Errorf("stream: redirect cap exceeded (-301)")
	ErrMissingLocation   = fmt.Errorf("stream: redirect missing Location header (-302)")
	ErrBodyTooLarge      = fmt.Errorf("stream: response body exceeds 10MB cap (-413)")
	ErrDisconnectInBody  = fmt.Errorf("stream: peer closed mid-body (-6)")
	ErrDisconnectNoBody  = fmt.Errorf("stream: peer closed after headers, no body (-7)")
	ErrDisconnectNothing = fmt.Errorf("stream: peer closed before any bytes (-8)")
)

// Request is the input to Client.Do / Client.DoAsync.
type Request struct {
	Host        string
	Port        uint16
	Method      string // "GET" or "POST"
	Path        string
	ContentType string
	Body        []byte
	Cookie      string
	Headers     map[string]string
	TLS         bool

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	Worker *worker.Worker // nil => caller doesn't care which worker services it
}

// Response is the fully-parsed result handed to the caller (synchronously
// from Do, or via callback from DoAsync).
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Callback receives the outcome of an asynchronous request.
type Callback func(resp *Response, err error)

// Client drives both the synchronous and asynchronous HTTP/1.1 request
// state machine; DoAsync is Do run on a goroutine with the result handed
// back through worker.ExecCallbackOn so it always lands on the owning
// worker's own goroutine, never a bare ad-hoc one.
type Client struct {
	Registry *transport.Registry
	Pool     *worker.Pool
	Log      *logrus.Logger
}

// NewClient builds a Client bound to reg for transport lookups and pool
// for worker assignment.
func NewClient(reg *transport.Registry, pool *worker.Pool, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{Registry: reg, Pool: pool, Log: log}
}

// Do performs req synchronously, following redirects up to MaxRedirects.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.doWithRedirects(ctx, req, 0)
}

// DoAsync performs req on a goroutine and invokes cb with the result once
// it is assigned to a worker's goroutine; the caller receives no handle.
func (c *Client) DoAsync(ctx context.Context, req Request, cb Callback) {
	w := req.Worker
	if w == nil && c.Pool != nil {
		w = c.Pool.Least()
	}
	go func() {
		resp, err := c.Do(ctx, req)
		if w != nil {
			w.ExecCallbackOn(func(arg any) {
				cb(resp, err)
			}, nil)
			return
		}
		cb(resp, err)
	}()
}

func (c *Client) doWithRedirects(ctx context.Context, req Request, depth int) (*Response, error) {
	if depth > MaxRedirects {
		return nil, ErrTooManyRedirects
	}

	if err := validateHost(req.Host); err != nil {
		return nil, err
	}

	connTimeout := req.ConnectTimeout
	if connTimeout == 0 {
		connTimeout = defaultConnectTimeout
	}
	readTimeout := req.ReadTimeout
	if readTimeout == 0 {
		readTimeout = defaultReadTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()

	conn, err := dial(dialCtx, req.Host, req.Port, req.TLS)
	if err != nil {
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	defer conn.Close()

	if err := writeRequest(conn, req); err != nil {
		return nil, fmt.Errorf("stream: write request: %w", err)
	}

	resp, err := readResponse(conn, readTimeout)
	if err != nil {
		return nil, err
	}

	if isRedirect(resp.Status) {
		loc, ok := resp.Headers["location"]
		if !ok || loc == "" {
			return nil, ErrMissingLocation
		}
		nextReq, err := followRedirect(req, loc)
		if err != nil {
			return nil, err
		}
		return c.doWithRedirects(ctx, nextReq, depth+1)
	}

	return resp, nil
}

func validateHost(host string) error {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil // hostname; resolution happens in dial via net.Dialer
	}
	if ip.IsLoopback() || ip.IsUnspecified() {
		return fmt.Errorf("stream: refusing to dial loopback/any-address host %q", host)
	}
	return nil
}

func dial(ctx context.Context, host string, port uint16, useTLS bool) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	var d net.Dialer
	if !useTLS {
		return d.DialContext(ctx, "tcp", addr)
	}
	td := tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
	return td.DialContext(ctx, "tcp", addr)
}

func writeRequest(conn net.Conn, req Request) error {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}

	var body []byte
	if method == "GET" && len(req.Body) > 0 {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path = path + sep + url.QueryEscape(string(req.Body))
	} else {
		body = req.Body
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	if method == "GET" {
		fmt.Fprintf(&b, "User-Agent: corenet-stream/1.0\r\n")
	}
	if method == "POST" {
		ct := req.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		fmt.Fprintf(&b, "Content-Type: %s\r\n", ct)
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	if req.Cookie != "" {
		fmt.Fprintf(&b, "Cookie: %s\r\n", req.Cookie)
	}
	for k, v := range req.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)

	_, err := conn.Write(b.Bytes())
	return err
}

func isRedirect(status int) bool {
	switch status {
	case 301, 302, 307, 308:
		return true
	default:
		return false
	}
}

func followRedirect(orig Request, location string) (Request, error) {
	u, err := url.Parse(location)
	if err != nil {
		return Request{}, fmt.Errorf("stream: invalid Location %q: %w", location, err)
	}
	next := orig
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return Request{}, fmt.Errorf("stream: unsupported redirect scheme %q", u.Scheme)
		}
		next.TLS = u.Scheme == "https"
		next.Host = u.Hostname()
		if p := u.Port(); p != "" {
			port, _ := strconv.Atoi(p)
			next.Port = uint16(port)
		} else if next.TLS {
			next.Port = 443
		} else {
			next.Port = 80
		}
		next.Path = u.RequestURI()
	} else if strings.HasPrefix(location, "//") {
		next.Host = u.Hostname()
		next.Path = u.RequestURI()
	} else {
		next.Path = location
	}
	return next, nil
}
