// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/server/websocket"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/memory"
)

// TestServer is a relay with a real WebSocket listener on an ephemeral port.
type TestServer struct {
	t      *testing.T
	Relay  *relay.Relay
	WSAddr string // host:port of the WebSocket listener
	Path   string

	store     storage.RetainedStore
	cancel    context.CancelFunc
	wsStopped chan struct{}
}

func allocatePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	return port
}

// StartTestServer boots a relay with an in-memory retained store and a
// WebSocket listener, waits until the listener accepts connections, and
// registers cleanup on test exit.
func StartTestServer(t *testing.T) *TestServer {
	return StartTestServerWithStore(t, memory.NewRetainedStore())
}

// StartTestServerWithStore boots a relay on top of the given retained store.
// The server owns the store and closes it on Stop.
func StartTestServerWithStore(t *testing.T, store storage.RetainedStore) *TestServer {
	t.Helper()

	// Null logger to reduce test noise
	nullLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := relay.New("relay-test", store, nullLogger, relay.NewStats(), nil, nil)

	addr := fmt.Sprintf("127.0.0.1:%d", allocatePort(t))
	wsServer := websocket.New(websocket.Config{
		Address:         addr,
		Path:            "/ws",
		QueueSize:       100,
		MaxMessageSize:  1024 * 1024,
		ShutdownTimeout: 2 * time.Second,
	}, r, nil, nullLogger)

	ctx, cancel := context.WithCancel(context.Background())

	ts := &TestServer{
		t:         t,
		Relay:     r,
		WSAddr:    addr,
		Path:      "/ws",
		store:     store,
		cancel:    cancel,
		wsStopped: make(chan struct{}),
	}

	go func() {
		if err := wsServer.Listen(ctx); err != nil && err != context.Canceled {
			t.Logf("WebSocket server error on %s: %v", addr, err)
		}
		close(ts.wsStopped)
	}()

	require.NoError(t, ts.waitReady(DefaultConnectTimeout))
	t.Cleanup(ts.Stop)

	return ts
}

// NewClient creates a test client pointed at this server.
func (s *TestServer) NewClient(clientID string) *TestWSClient {
	return NewTestWSClient(s.t, s.WSAddr, s.Path, clientID)
}

// Stop shuts the server down and releases the retained store. Safe to call
// more than once.
func (s *TestServer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil

	select {
	case <-s.wsStopped:
	case <-time.After(2 * time.Second):
		s.t.Logf("WebSocket server stop timeout on %s", s.WSAddr)
	}

	_ = s.Relay.Close()
	_ = s.store.Close()
}

func (s *TestServer) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", s.WSAddr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("server %s did not become ready within %v", s.WSAddr, timeout)
}
