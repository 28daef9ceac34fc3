// Package testutil holds shared helpers for HTTP-level tests.
package testutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
)

// IPv4Server is a test HTTP server pinned to the IPv4 loopback. SSE tests
// need a real connection with flushing; httptest's dual-stack default
// misbehaves in some sandboxes, so the listener is forced onto tcp4.
type IPv4Server struct {
	URL string

	srv       *http.Server
	transport *http.Transport
}

// NewIPv4Server starts an HTTP server on the IPv4 loopback and registers
// shutdown with t.Cleanup. Tests that need an earlier teardown may call
// Close themselves; the cleanup tolerates both.
func NewIPv4Server(t *testing.T, handler http.Handler) *IPv4Server {
	t.Helper()
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}

	s := &IPv4Server{
		URL:       "http://" + l.Addr().String(),
		srv:       &http.Server{Handler: handler},
		transport: &http.Transport{},
	}
	go func() {
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("test server: %v", err)
		}
	}()
	t.Cleanup(s.Close)
	return s
}

// Client returns an HTTP client whose connections the server can reclaim.
func (s *IPv4Server) Client() *http.Client {
	return &http.Client{Transport: s.transport}
}

// Close shuts the server down. Safe to call more than once.
func (s *IPv4Server) Close() {
	_ = s.srv.Shutdown(context.Background())
	s.transport.CloseIdleConnections()
}
