package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// StreamClient is a raw TCP HTTP client for streaming endpoints. Unlike
// net/http it lets a test drop the connection abruptly mid-stream.
type StreamClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
	buf    strings.Builder
}

// NewStreamClient dials addr and issues a GET for path with the given headers.
//
// Precondition: addr must be a "host:port" with a listening HTTP server.
// Postcondition: Returns a connected client whose request has been sent, or fails the test.
func NewStreamClient(t *testing.T, addr, path string, headers map[string]string) *StreamClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() { _ = conn.Close() })

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\nHost: %s\r\nAccept: text/event-stream\r\n", path, addr)
	for k, v := range headers {
		fmt.Fprintf(&req, "%s: %s\r\n", k, v)
	}
	req.WriteString("\r\n")
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(req.String())); err != nil {
		t.Fatalf("sending request for %s: %v", path, err)
	}

	t.Logf("stream client connected to %s%s [%s]", addr, path, time.Since(start))
	return &StreamClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

// ReadUntil reads until substr has been seen or timeout elapses, returning
// everything read so far by this client.
//
// Precondition: substr must be non-empty.
// Postcondition: Returns the accumulated output containing substr, or fails on timeout.
func (c *StreamClient) ReadUntil(substr string, timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	tmp := make([]byte, 1024)
	for !strings.Contains(c.buf.String(), substr) {
		n, err := c.reader.Read(tmp)
		if n > 0 {
			c.buf.Write(tmp[:n])
			continue
		}
		if err != nil {
			c.t.Fatalf("reading until %q: got %q, error: %v", substr, c.buf.String(), err)
		}
	}
	return c.buf.String()
}

// Close drops the connection without a graceful shutdown.
func (c *StreamClient) Close() {
	_ = c.conn.Close()
}
