// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeClientConnected     = "client.connected"
	TypeClientDisconnected  = "client.disconnected"
	TypeMessagePublished    = "message.published"
	TypeRetainedSet         = "retained.set"
	TypeRetainedDeleted     = "retained.deleted"
	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionRemoved = "subscription.removed"
)

// Event is the common interface for all webhook events.
type Event interface {
	// Type returns the event type identifier (e.g., "client.connected")
	Type() string

	// Topic returns the message topic for message events, empty for others
	Topic() string

	// Wrap wraps the event in a common envelope with metadata
	Wrap(relayID string) *Envelope
}

// Envelope is the common wrapper for all webhook events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	RelayID   string `json:"relay_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(*e)
}

// ClientConnected is emitted when a client registers with the relay.
type ClientConnected struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Replaced   bool   `json:"replaced"` // true when the id displaced a prior registration
}

func (e ClientConnected) Type() string  { return TypeClientConnected }
func (e ClientConnected) Topic() string { return "" }
func (e ClientConnected) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// ClientDisconnected is emitted when a client record is removed.
type ClientDisconnected struct {
	ClientID string `json:"client_id"`
	Reason   string `json:"reason"` // "normal", "replaced", "swept"
}

func (e ClientDisconnected) Type() string  { return TypeClientDisconnected }
func (e ClientDisconnected) Topic() string { return "" }
func (e ClientDisconnected) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// MessagePublished is emitted when a message is accepted for fan-out.
type MessagePublished struct {
	ClientID     string `json:"client_id,omitempty"`
	MessageTopic string `json:"topic"`
	QoS          byte   `json:"qos"`
	Retained     bool   `json:"retained"`
	PayloadSize  int    `json:"payload_size"`
}

func (e MessagePublished) Type() string  { return TypeMessagePublished }
func (e MessagePublished) Topic() string { return e.MessageTopic }
func (e MessagePublished) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// RetainedSet is emitted when a retained message is stored or overwritten.
type RetainedSet struct {
	MessageTopic string `json:"topic"`
	PayloadSize  int    `json:"payload_size"`
}

func (e RetainedSet) Type() string  { return TypeRetainedSet }
func (e RetainedSet) Topic() string { return e.MessageTopic }
func (e RetainedSet) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// RetainedDeleted is emitted when an empty retained publish clears a topic.
type RetainedDeleted struct {
	MessageTopic string `json:"topic"`
}

func (e RetainedDeleted) Type() string  { return TypeRetainedDeleted }
func (e RetainedDeleted) Topic() string { return e.MessageTopic }
func (e RetainedDeleted) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// SubscriptionCreated is emitted when a client subscribes to a topic filter.
type SubscriptionCreated struct {
	ClientID    string `json:"client_id"`
	TopicFilter string `json:"topic_filter"`
}

func (e SubscriptionCreated) Type() string  { return TypeSubscriptionCreated }
func (e SubscriptionCreated) Topic() string { return e.TopicFilter }
func (e SubscriptionCreated) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}

// SubscriptionRemoved is emitted when a client unsubscribes from a filter.
type SubscriptionRemoved struct {
	ClientID    string `json:"client_id"`
	TopicFilter string `json:"topic_filter"`
}

func (e SubscriptionRemoved) Type() string  { return TypeSubscriptionRemoved }
func (e SubscriptionRemoved) Topic() string { return e.TopicFilter }
func (e SubscriptionRemoved) Wrap(relayID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RelayID:   relayID,
		Data:      e,
	}
}
