// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/absmach/relaymq/relay/events"
	"github.com/absmach/relaymq/server/otel"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/memory"
	"github.com/absmach/relaymq/topics"
)

// Registration errors.
var (
	ErrEmptyClientID = errors.New("client id cannot be empty")
	ErrNilSink       = errors.New("client sink cannot be nil")
)

// Notifier delivers relay events to external observers.
type Notifier interface {
	Notify(ctx context.Context, event events.Event) error
}

// Relay composes the client registry, the retained message store and the
// dispatch fan-out behind the operations consumed by transports and the
// admin API. Every operation completes synchronously; the relay runs no
// background loops of its own.
type Relay struct {
	id       string
	registry *Registry
	retained storage.RetainedStore
	stats    *Stats
	logger   *slog.Logger
	webhooks Notifier      // nil if webhooks disabled
	metrics  *otel.Metrics // nil if metrics disabled
}

// New creates a relay instance.
// Parameters:
//   - id: relay instance identifier used in event envelopes (empty uses "relay")
//   - store: retained message backend (nil uses memory)
//   - logger: logger instance (nil uses default)
//   - stats: stats collector (nil creates new one)
//   - webhooks: webhook notifier (nil if webhooks disabled)
//   - metrics: OTel metrics instance (nil if metrics disabled)
func New(id string, store storage.RetainedStore, logger *slog.Logger, stats *Stats, webhooks Notifier, metrics *otel.Metrics) *Relay {
	if id == "" {
		id = "relay"
	}
	if store == nil {
		store = memory.NewRetainedStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewStats()
	}

	return &Relay{
		id:       id,
		registry: NewRegistry(),
		retained: store,
		stats:    stats,
		logger:   logger,
		webhooks: webhooks,
		metrics:  metrics,
	}
}

// ID returns the relay instance identifier.
func (r *Relay) ID() string {
	return r.id
}

// Registry returns the client registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// RegisterClient registers a client under id with the given delivery sink.
// A prior client with the same id is silently replaced; the replacement
// starts with an empty subscription set.
func (r *Relay) RegisterClient(id string, sink Sink) error {
	if id == "" {
		return ErrEmptyClientID
	}
	if sink == nil {
		return ErrNilSink
	}

	_, replaced := r.registry.Register(id, sink)
	if replaced {
		// The displaced record's connection goes away with it.
		r.stats.DecrementConnections()
		if r.metrics != nil {
			r.metrics.RecordDisconnection("replaced")
		}
		r.notify(events.ClientDisconnected{ClientID: id, Reason: "replaced"})
	}

	r.stats.IncrementConnections()
	if r.metrics != nil {
		r.metrics.RecordConnection()
	}
	r.logOp("register_client", slog.String("client_id", id), slog.Bool("replaced", replaced))
	r.notify(events.ClientConnected{ClientID: id, Replaced: replaced})

	return nil
}

// UnregisterClient removes a client and its subscriptions. Unknown ids are
// a no-op.
func (r *Relay) UnregisterClient(id string) {
	if !r.registry.Unregister(id) {
		return
	}

	r.stats.DecrementConnections()
	if r.metrics != nil {
		r.metrics.RecordDisconnection("normal")
	}
	r.logOp("unregister_client", slog.String("client_id", id))
	r.notify(events.ClientDisconnected{ClientID: id, Reason: "normal"})
}

// Subscribe adds a subscription filter for a client and replays matching
// retained messages to that client only. It returns false without error
// when the client id is unknown; an invalid filter is rejected before any
// state changes.
func (r *Relay) Subscribe(ctx context.Context, id, filter string) (bool, error) {
	if err := topics.ValidateFilter(filter); err != nil {
		r.stats.IncrementValidationErrors()
		if r.metrics != nil {
			r.metrics.RecordError("invalid_filter")
		}
		return false, err
	}

	if !r.registry.Subscribe(id, filter) {
		r.logger.Warn("subscribe for unknown client",
			slog.String("client_id", id),
			slog.String("filter", filter))
		return false, nil
	}

	r.stats.IncrementSubscriptions()
	if r.metrics != nil {
		r.metrics.RecordSubscriptionAdded()
	}
	r.logOp("subscribe", slog.String("client_id", id), slog.String("filter", filter))
	r.notify(events.SubscriptionCreated{ClientID: id, TopicFilter: filter})

	r.replayRetained(ctx, id, filter)

	return true, nil
}

// Unsubscribe removes a subscription filter from a client. It reports
// whether the filter was present; an unknown client id reports false.
func (r *Relay) Unsubscribe(_ context.Context, id, filter string) (bool, error) {
	if err := topics.ValidateFilter(filter); err != nil {
		r.stats.IncrementValidationErrors()
		if r.metrics != nil {
			r.metrics.RecordError("invalid_filter")
		}
		return false, err
	}

	if !r.registry.Unsubscribe(id, filter) {
		return false, nil
	}

	r.stats.DecrementSubscriptions()
	if r.metrics != nil {
		r.metrics.RecordSubscriptionRemoved()
	}
	r.logOp("unsubscribe", slog.String("client_id", id), slog.String("filter", filter))
	r.notify(events.SubscriptionRemoved{ClientID: id, TopicFilter: filter})

	return true, nil
}

// Stats returns a point-in-time snapshot of relay statistics.
func (r *Relay) Stats(ctx context.Context) StatsSnapshot {
	retainedCount, err := r.retained.Count(ctx)
	if err != nil {
		r.logError("retained_count", err)
	}

	return StatsSnapshot{
		ConnectedClients:  r.registry.Size(),
		TotalConnections:  r.stats.GetTotalConnections(),
		MessagesPublished: r.stats.GetPublishReceived(),
		MessagesDelivered: r.stats.GetPublishSent(),
		DeliveryFailures:  r.stats.GetDeliveryFailures(),
		Subscriptions:     r.stats.GetSubscriptions(),
		RetainedMessages:  retainedCount,
		StartedAt:         r.stats.StartTime(),
		Uptime:            r.stats.GetUptime(),
	}
}

// ListActiveTopics returns the union of all retained message topics and all
// clients' subscription filters, deduplicated and sorted lexicographically.
func (r *Relay) ListActiveTopics(ctx context.Context) ([]string, error) {
	retainedTopics, err := r.retained.Topics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retained topics: %w", err)
	}

	seen := make(map[string]struct{}, len(retainedTopics))
	for _, topic := range retainedTopics {
		seen[topic] = struct{}{}
	}
	for _, filter := range r.registry.Filters() {
		seen[filter] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)

	return out, nil
}

// Cleanup removes every client idle for longer than maxIdle and returns how
// many were removed. It is driven by an external scheduler and is safe to
// call concurrently with publishes.
func (r *Relay) Cleanup(maxIdle time.Duration) int {
	removed := r.registry.SweepInactive(maxIdle)
	for _, id := range removed {
		r.stats.DecrementConnections()
		if r.metrics != nil {
			r.metrics.RecordDisconnection("swept")
		}
		r.notify(events.ClientDisconnected{ClientID: id, Reason: "swept"})
	}

	if len(removed) > 0 {
		r.logger.Info("swept inactive clients",
			slog.Int("count", len(removed)),
			slog.Duration("max_idle", maxIdle))
	}

	return len(removed)
}

// Close unregisters every client, emitting the usual disconnect events. The
// retained store is owned by the caller and is not closed here.
func (r *Relay) Close() error {
	for _, id := range r.registry.ListIDs() {
		r.UnregisterClient(id)
	}
	return nil
}

func (r *Relay) notify(event events.Event) {
	if r.webhooks == nil {
		return
	}
	if err := r.webhooks.Notify(context.Background(), event); err != nil {
		r.logError("webhook_notify", err, slog.String("event_type", event.Type()))
	}
}

func (r *Relay) logOp(op string, attrs ...any) {
	r.logger.Debug(op, attrs...)
}

func (r *Relay) logError(op string, err error, attrs ...any) {
	if err != nil {
		allAttrs := append([]any{slog.String("error", err.Error())}, attrs...)
		r.logger.Error(op, allAttrs...)
	}
}
