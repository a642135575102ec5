// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook delivers relay lifecycle and message events to external
// HTTP receivers. Events are queued and sent asynchronously by a worker
// pool with per-endpoint retries and circuit breaking, so a failing
// receiver never backs up relay operations.
package webhook

import (
	"context"
	"time"

	"github.com/absmach/relaymq/relay/events"
)

// Notifier fans relay events out to configured webhook endpoints.
type Notifier interface {
	// Notify enqueues an event for asynchronous delivery. It never blocks
	// on network I/O; a full queue falls back to the drop policy.
	Notify(ctx context.Context, event events.Event) error

	// Close stops the workers, letting in-flight deliveries finish.
	Close() error
}

// Sender performs a single delivery over one protocol (HTTP today).
type Sender interface {
	// Send posts payload to url. Implementations must honor both ctx and
	// timeout and return a non-nil error for any undelivered payload.
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}
