package stream

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// serveOnce accepts a single connection on ln, reads the request line, and
// writes raw per testing purposes.
func serveOnce(t *testing.T, ln net.Listener, respond func(reqLine string) string) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		reqLine := strings.SplitN(string(buf[:n]), "\r\n", 2)[0]
		conn.Write([]byte(respond(reqLine)))
	}()
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return ln, host, port
}

func TestDoSimpleGET(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	serveOnce(t, ln, func(string) string {
		return "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	})

	c := NewClient(nil, nil, nil)
	resp, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "hello" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestRedirectChainFollowed(t *testing.T) {
	ln2, host2, port2 := listen(t)
	defer ln2.Close()
	serveOnce(t, ln2, func(string) string {
		return "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	})

	ln1, host1, port1 := listen(t)
	defer ln1.Close()
	serveOnce(t, ln1, func(string) string {
		return fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: http://%s/done\r\nContent-Length: 0\r\n\r\n",
			net.JoinHostPort(host2, fmt.Sprintf("%d", port2)))
	})

	c := NewClient(nil, nil, nil)
	resp, err := c.Do(context.Background(), Request{Host: host1, Port: uint16(port1), Method: "GET", Path: "/start"})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.Status != 200 || string(resp.Body) != "ok" {
		t.Fatalf("redirect chain not followed correctly: %+v", resp)
	}
}

func TestRedirectMissingLocation(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	serveOnce(t, ln, func(string) string {
		return "HTTP/1.1 302 Found\r\nContent-Length: 0\r\n\r\n"
	})

	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"})
	if err != ErrMissingLocation {
		t.Fatalf("expected ErrMissingLocation, got %v", err)
	}
}

func TestRedirectCapExceeded(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	go func() {
		for i := 0; i <= MaxRedirects+1; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte(fmt.Sprintf("HTTP/1.1 302 Found\r\nLocation: http://%s/loop\r\nContent-Length: 0\r\n\r\n", addr)))
			conn.Close()
		}
	}()

	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/loop"})
	if err != ErrTooManyRedirects {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}

func TestPrematureDisconnectNothing(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"})
	if err != ErrDisconnectNothing {
		t.Fatalf("expected ErrDisconnectNothing, got %v", err)
	}
}

func TestPrematureDisconnectHeadersOnly(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"))
		conn.Close()
	}()

	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"})
	if err != ErrDisconnectNoBody {
		t.Fatalf("expected ErrDisconnectNoBody, got %v", err)
	}
}

func TestPrematureDisconnectPartialBody(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\npartial"))
		conn.Close()
	}()

	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"})
	if err != ErrDisconnectInBody {
		t.Fatalf("expected ErrDisconnectInBody, got %v", err)
	}
}

func TestDoAsyncInvokesCallback(t *testing.T) {
	ln, host, port := listen(t)
	defer ln.Close()
	serveOnce(t, ln, func(string) string {
		return "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	})

	c := NewClient(nil, nil, nil)
	done := make(chan *Response, 1)
	c.DoAsync(context.Background(), Request{Host: host, Port: uint16(port), Method: "GET", Path: "/"}, func(resp *Response, err error) {
		if err != nil {
			t.Errorf("async do: %v", err)
		}
		done <- resp
	})

	select {
	case resp := <-done:
		if string(resp.Body) != "ok" {
			t.Fatalf("unexpected body %q", resp.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for async callback")
	}
}

func TestValidateHostRejectsLoopback(t *testing.T) {
	c := NewClient(nil, nil, nil)
	_, err := c.Do(context.Background(), Request{Host: "127.0.0.1", Port: 1, Method: "GET"})
	if err == nil {
		t.Fatalf("expected loopback host to be rejected")
	}
}
