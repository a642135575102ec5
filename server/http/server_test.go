// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) Deliver(*storage.Message) error { return nil }

func newTestServer(t *testing.T) (*relay.Relay, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := relay.New("relay-test", memory.NewRetainedStore(), logger, relay.NewStats(), nil, nil)

	srv := New(Config{
		ShutdownTimeout: time.Second,
		MaxIdle:         5 * time.Minute,
	}, r, logger)

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return r, ts
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestHandlePublish(t *testing.T) {
	r, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/publish", publishRequest{
		Topic:   "config/device1",
		Payload: []byte("v1"),
		Retain:  true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	topics, err := r.ListActiveTopics(context.Background())
	require.NoError(t, err)
	assert.Contains(t, topics, "config/device1")
}

func TestHandlePublishValidation(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name string
		req  publishRequest
		code int
	}{
		{
			name: "missing topic",
			req:  publishRequest{Payload: []byte("x")},
			code: http.StatusBadRequest,
		},
		{
			name: "wildcard in topic",
			req:  publishRequest{Topic: "a/+/b", Payload: []byte("x")},
			code: http.StatusBadRequest,
		},
		{
			name: "invalid qos",
			req:  publishRequest{Topic: "a/b", Payload: []byte("x"), QoS: 3},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/publish", tt.req)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestHandlePublishMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/publish")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleStats(t *testing.T) {
	r, ts := newTestServer(t)

	require.NoError(t, r.RegisterClient("c1", nopSink{}))

	resp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats relay.StatsSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.ConnectedClients)
	assert.Equal(t, uint64(1), stats.TotalConnections)
	assert.False(t, stats.StartedAt.IsZero())
}

func TestHandleTopics(t *testing.T) {
	r, ts := newTestServer(t)

	msg := &storage.Message{Topic: "sensors/dev1/temperature", Payload: []byte("21"), Retain: true}
	require.NoError(t, r.Publish(context.Background(), "", msg))

	resp, err := http.Get(ts.URL + "/topics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Topics []string `json:"topics"`
		Count  int      `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Contains(t, body.Topics, "sensors/dev1/temperature")
}

func TestHandleCleanup(t *testing.T) {
	r, ts := newTestServer(t)

	require.NoError(t, r.RegisterClient("idle", nopSink{}))
	time.Sleep(20 * time.Millisecond)

	resp := postJSON(t, ts.URL+"/cleanup", cleanupRequest{MaxIdle: "1ms"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body["removed"])
	assert.Equal(t, 0, r.Registry().Size())
}

func TestHandleCleanupInvalidDuration(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/cleanup", cleanupRequest{MaxIdle: "soon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
