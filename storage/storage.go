// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the message value and the retained-message store
// contract shared by the relay's storage backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var ErrNotFound = errors.New("not found")

// Message represents a single published message. It is immutable once
// created; stores and sinks copy on the way in and out.
type Message struct {
	Topic     string    `json:"topic"`
	Payload   []byte    `json:"payload"`
	QoS       byte      `json:"qos"`
	Retain    bool      `json:"retain"`
	Timestamp time.Time `json:"timestamp"`
}

// CopyMessage creates a deep copy of a message.
func CopyMessage(msg *Message) *Message {
	if msg == nil {
		return nil
	}

	cp := &Message{
		Topic:     msg.Topic,
		QoS:       msg.QoS,
		Retain:    msg.Retain,
		Timestamp: msg.Timestamp,
	}

	if len(msg.Payload) > 0 {
		cp.Payload = make([]byte, len(msg.Payload))
		copy(cp.Payload, msg.Payload)
	}

	return cp
}

// RetainedStore handles retained message persistence: the single latest
// retained message per exact topic.
type RetainedStore interface {
	// Set stores or updates a retained message.
	// Empty payload deletes the retained message.
	Set(ctx context.Context, topic string, msg *Message) error

	// Get retrieves a retained message by exact topic.
	Get(ctx context.Context, topic string) (*Message, error)

	// Delete removes a retained message.
	Delete(ctx context.Context, topic string) error

	// Match returns all retained messages matching a filter (supports wildcards).
	Match(ctx context.Context, filter string) ([]*Message, error)

	// Topics returns the topics of all retained messages.
	Topics(ctx context.Context) ([]string, error)

	// Count returns the number of retained messages.
	Count(ctx context.Context) (int, error)

	// Close releases the backing resources.
	Close() error
}
