// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/relaymq/relay/events"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/topics"
)

// Publish validates a message, handles retained storage and fans it out to
// every registered client with at least one matching subscription, at most
// once per client. clientID names the publishing origin; it may be empty or
// unregistered for fire-and-forget publishes (admin API, internal loops).
//
// Delivery failures are isolated per client: they are logged and counted,
// and never abort the remaining fan-out.
func (r *Relay) Publish(ctx context.Context, clientID string, msg *storage.Message) error {
	if err := topics.ValidateTopic(msg.Topic); err != nil {
		r.stats.IncrementValidationErrors()
		if r.metrics != nil {
			r.metrics.RecordError("invalid_topic")
		}
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	r.logOp("publish",
		slog.String("topic", msg.Topic),
		slog.String("client_id", clientID),
		slog.Int("qos", int(msg.QoS)),
		slog.Bool("retain", msg.Retain))
	r.stats.IncrementPublishReceived()
	r.stats.AddBytesReceived(uint64(len(msg.Payload)))
	if r.metrics != nil {
		r.metrics.RecordMessagePublished(msg.QoS, int64(len(msg.Payload)))
	}

	// Publishing counts as activity for a registered origin.
	if clientID != "" {
		r.registry.Touch(clientID)
	}

	if msg.Retain {
		if err := r.handleRetained(ctx, msg); err != nil {
			return err
		}
	}

	r.notify(events.MessagePublished{
		ClientID:     clientID,
		MessageTopic: msg.Topic,
		QoS:          msg.QoS,
		Retained:     msg.Retain,
		PayloadSize:  len(msg.Payload),
	})

	r.fanOut(msg)

	return nil
}

// handleRetained stores or clears a retained message. An empty payload
// clears the entry for the topic.
func (r *Relay) handleRetained(ctx context.Context, msg *storage.Message) error {
	if len(msg.Payload) == 0 {
		if err := r.retained.Delete(ctx, msg.Topic); err != nil {
			return fmt.Errorf("clear retained message: %w", err)
		}
		if r.metrics != nil {
			r.metrics.RecordRetainedDeleted()
		}
		r.notify(events.RetainedDeleted{MessageTopic: msg.Topic})
		return nil
	}

	retainedMsg := storage.CopyMessage(msg)
	retainedMsg.Retain = true
	if err := r.retained.Set(ctx, msg.Topic, retainedMsg); err != nil {
		return fmt.Errorf("store retained message: %w", err)
	}
	if r.metrics != nil {
		r.metrics.RecordRetainedSet()
	}
	r.notify(events.RetainedSet{MessageTopic: msg.Topic, PayloadSize: len(msg.Payload)})
	return nil
}

// fanOut delivers a message to every client in the registry snapshot whose
// subscriptions match the topic. Each recipient gets its own copy with the
// retain flag lowered; only retained replays carry it raised.
func (r *Relay) fanOut(msg *storage.Message) {
	start := time.Now()
	clients := r.registry.Snapshot()

	delivered := 0
	for _, c := range clients {
		if !c.matches(msg.Topic) {
			continue
		}

		out := storage.CopyMessage(msg)
		out.Retain = false
		if err := c.deliver(out); err != nil {
			r.stats.IncrementDeliveryFailures()
			if r.metrics != nil {
				r.metrics.RecordDeliveryFailure()
			}
			r.logger.Warn("failed to deliver message",
				slog.String("client_id", c.ID),
				slog.String("topic", msg.Topic),
				slog.String("error", err.Error()))
			continue
		}

		delivered++
		r.stats.IncrementPublishSent()
		r.stats.AddBytesSent(uint64(len(out.Payload)))
		if r.metrics != nil {
			r.metrics.RecordMessageDelivered(out.QoS, int64(len(out.Payload)))
		}
	}

	if r.metrics != nil {
		r.metrics.RecordPublishDuration(float64(time.Since(start).Microseconds()) / 1000.0)
	}
	r.logOp("fan_out",
		slog.String("topic", msg.Topic),
		slog.Int("delivered", delivered),
		slog.Int("clients", len(clients)))
}

// replayRetained delivers all retained messages matching filter to a single
// client. Replays are marked as retained deliveries; failures are isolated
// the same way as fan-out failures.
func (r *Relay) replayRetained(ctx context.Context, id, filter string) {
	matched, err := r.retained.Match(ctx, filter)
	if err != nil {
		r.logError("retained_match", err, slog.String("filter", filter))
		return
	}
	if len(matched) == 0 {
		return
	}

	c, ok := r.registry.Get(id)
	if !ok {
		// The client vanished between subscribe and replay.
		return
	}

	replayed := 0
	for _, msg := range matched {
		msg.Retain = true
		if err := c.deliver(msg); err != nil {
			r.stats.IncrementDeliveryFailures()
			if r.metrics != nil {
				r.metrics.RecordDeliveryFailure()
			}
			r.logger.Warn("failed to replay retained message",
				slog.String("client_id", id),
				slog.String("topic", msg.Topic),
				slog.String("error", err.Error()))
			continue
		}

		replayed++
		r.stats.IncrementPublishSent()
		r.stats.AddBytesSent(uint64(len(msg.Payload)))
		if r.metrics != nil {
			r.metrics.RecordMessageDelivered(msg.QoS, int64(len(msg.Payload)))
		}
	}

	if replayed > 0 {
		r.logOp("retained_replay",
			slog.String("client_id", id),
			slog.String("filter", filter),
			slog.Int("count", replayed))
	}
}
