// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the relay.
type Metrics struct {
	meter metric.Meter

	// Counters
	connectionsTotal    metric.Int64Counter
	disconnectionsTotal metric.Int64Counter
	messagesPublished   metric.Int64Counter
	messagesDelivered   metric.Int64Counter
	bytesReceived       metric.Int64Counter
	bytesSent           metric.Int64Counter
	deliveryFailures    metric.Int64Counter
	errorsTotal         metric.Int64Counter

	// UpDownCounters (gauges)
	connectionsCurrent  metric.Int64UpDownCounter
	subscriptionsActive metric.Int64UpDownCounter
	retainedMessages    metric.Int64UpDownCounter

	// Histograms
	messageSize     metric.Int64Histogram
	publishDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("relaymq"),
	}

	var err error

	// Initialize counters
	m.connectionsTotal, err = m.meter.Int64Counter(
		"relaymq.connections.total",
		metric.WithDescription("Total number of client registrations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsTotal counter: %w", err)
	}

	m.disconnectionsTotal, err = m.meter.Int64Counter(
		"relaymq.disconnections.total",
		metric.WithDescription("Total number of client removals"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create disconnectionsTotal counter: %w", err)
	}

	m.messagesPublished, err = m.meter.Int64Counter(
		"relaymq.messages.published.total",
		metric.WithDescription("Total messages accepted for fan-out"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesPublished counter: %w", err)
	}

	m.messagesDelivered, err = m.meter.Int64Counter(
		"relaymq.messages.delivered.total",
		metric.WithDescription("Total messages delivered to client sinks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesDelivered counter: %w", err)
	}

	m.bytesReceived, err = m.meter.Int64Counter(
		"relaymq.bytes.received.total",
		metric.WithDescription("Total payload bytes received"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesReceived counter: %w", err)
	}

	m.bytesSent, err = m.meter.Int64Counter(
		"relaymq.bytes.sent.total",
		metric.WithDescription("Total payload bytes sent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bytesSent counter: %w", err)
	}

	m.deliveryFailures, err = m.meter.Int64Counter(
		"relaymq.delivery.failures.total",
		metric.WithDescription("Total per-client delivery failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deliveryFailures counter: %w", err)
	}

	m.errorsTotal, err = m.meter.Int64Counter(
		"relaymq.errors.total",
		metric.WithDescription("Total errors by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	// Initialize up/down counters (gauges)
	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"relaymq.connections.current",
		metric.WithDescription("Current number of registered clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"relaymq.subscriptions.active",
		metric.WithDescription("Number of active subscriptions"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	m.retainedMessages, err = m.meter.Int64UpDownCounter(
		"relaymq.retained.messages",
		metric.WithDescription("Number of retained messages"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retainedMessages gauge: %w", err)
	}

	// Initialize histograms
	m.messageSize, err = m.meter.Int64Histogram(
		"relaymq.message.size.bytes",
		metric.WithDescription("Message payload size distribution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"relaymq.publish.duration.ms",
		metric.WithDescription("Publish fan-out duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	return m, nil
}

// RecordConnection records a new client registration.
func (m *Metrics) RecordConnection() {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, 1)
}

// RecordDisconnection records a client removal.
func (m *Metrics) RecordDisconnection(reason string) {
	ctx := context.Background()
	m.disconnectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	m.connectionsCurrent.Add(ctx, -1)
}

// RecordMessagePublished records a message accepted for fan-out.
func (m *Metrics) RecordMessagePublished(qos byte, sizeBytes int64) {
	ctx := context.Background()
	m.messagesPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("qos", int(qos)),
	))
	m.bytesReceived.Add(ctx, sizeBytes)
	m.messageSize.Record(ctx, sizeBytes)
}

// RecordMessageDelivered records a message delivered to a client sink.
func (m *Metrics) RecordMessageDelivered(qos byte, sizeBytes int64) {
	ctx := context.Background()
	m.messagesDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("qos", int(qos)),
	))
	m.bytesSent.Add(ctx, sizeBytes)
}

// RecordSubscriptionAdded records a new subscription.
func (m *Metrics) RecordSubscriptionAdded() {
	m.subscriptionsActive.Add(context.Background(), 1)
}

// RecordSubscriptionRemoved records a subscription removal.
func (m *Metrics) RecordSubscriptionRemoved() {
	m.subscriptionsActive.Add(context.Background(), -1)
}

// RecordRetainedSet records a retained message being set.
func (m *Metrics) RecordRetainedSet() {
	m.retainedMessages.Add(context.Background(), 1)
}

// RecordRetainedDeleted records a retained message being deleted.
func (m *Metrics) RecordRetainedDeleted() {
	m.retainedMessages.Add(context.Background(), -1)
}

// RecordDeliveryFailure records a per-client delivery failure.
func (m *Metrics) RecordDeliveryFailure() {
	m.deliveryFailures.Add(context.Background(), 1)
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}

// RecordPublishDuration records the duration of a publish fan-out.
func (m *Metrics) RecordPublishDuration(durationMs float64) {
	m.publishDuration.Record(context.Background(), durationMs)
}
