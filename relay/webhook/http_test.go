// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSenderSend(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		delay   time.Duration
		timeout time.Duration
		wantErr string
	}{
		{name: "delivered on 200", status: http.StatusOK, timeout: 5 * time.Second},
		{name: "delivered on 204", status: http.StatusNoContent, timeout: 5 * time.Second},
		{name: "client error surfaces", status: http.StatusBadRequest, timeout: 5 * time.Second, wantErr: "non-2xx status: 400"},
		{name: "server error surfaces", status: http.StatusInternalServerError, timeout: 5 * time.Second, wantErr: "non-2xx status: 500"},
		{name: "timeout parameter enforced", status: http.StatusOK, delay: 2 * time.Second, timeout: 100 * time.Millisecond, wantErr: "context deadline exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %s, want POST", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", ct)
				}
				if ua := r.Header.Get("User-Agent"); ua != "Absmach-RelayMQ/1.0" {
					t.Errorf("User-Agent = %q, want Absmach-RelayMQ/1.0", ua)
				}
				if auth := r.Header.Get("Authorization"); auth != "Bearer test-token" {
					t.Errorf("Authorization = %q, want Bearer test-token", auth)
				}

				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				if string(body) != `{"hello":"relay"}` {
					t.Errorf("body = %s", body)
				}

				if tt.delay > 0 {
					time.Sleep(tt.delay)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			sender := NewHTTPSender()
			headers := map[string]string{"Authorization": "Bearer test-token"}

			// The context carries no deadline; only the timeout parameter
			// limits the call.
			err := sender.Send(context.Background(), srv.URL, headers, []byte(`{"hello":"relay"}`), tt.timeout)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Send() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Send() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Send() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestHTTPSenderSendBadURL(t *testing.T) {
	sender := NewHTTPSender()

	if err := sender.Send(context.Background(), "invalid://url", nil, []byte("x"), time.Second); err == nil {
		t.Error("Send() to unsupported scheme succeeded, want error")
	}
}
