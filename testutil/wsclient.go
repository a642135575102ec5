// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides a WebSocket client for integration testing.
package testutil

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Client state constants.
const (
	StateDisconnected uint32 = iota
	StateConnected
)

// Default timeouts.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultAckTimeout     = 5 * time.Second
	DefaultMessageTimeout = 5 * time.Second
)

// Errors.
var (
	ErrNotConnected     = errors.New("client not connected")
	ErrAlreadyConnected = errors.New("client already connected")
	ErrTimeout          = errors.New("operation timed out")
)

// Message represents a received relay message.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retain    bool
	Timestamp time.Time
}

// frame is the relay's JSON wire format, both directions.
type frame struct {
	Type      string     `json:"type,omitempty"`
	Action    string     `json:"action,omitempty"`
	Topic     string     `json:"topic,omitempty"`
	Filter    string     `json:"filter,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	QoS       byte       `json:"qos,omitempty"`
	Retain    bool       `json:"retain,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// MessageStore interface for storing received messages.
type MessageStore interface {
	Store(msg *Message)
	Get(topic string) []*Message
	GetAll() []*Message
	Clear()
	Count() int
}

// InMemoryStore is a simple in-memory message store.
type InMemoryStore struct {
	messages []*Message
	mu       sync.RWMutex
}

// NewInMemoryStore creates a new in-memory message store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		messages: make([]*Message, 0),
	}
}

// Store adds a message to the store.
func (s *InMemoryStore) Store(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Get returns all messages for a topic.
func (s *InMemoryStore) Get(topic string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Message
	for _, msg := range s.messages {
		if msg.Topic == topic {
			result = append(result, msg)
		}
	}
	return result
}

// GetAll returns all stored messages.
func (s *InMemoryStore) GetAll() []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Message, len(s.messages))
	copy(result, s.messages)
	return result
}

// Clear removes all messages from the store.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
}

// Count returns the number of stored messages.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ackResult is the outcome of a subscribe/unsubscribe/publish request.
type ackResult struct {
	action string
	err    error
}

// TestWSClient is a WebSocket relay client for integration testing.
type TestWSClient struct {
	t        *testing.T
	ClientID string
	Addr     string // host:port of the relay's WebSocket server
	Path     string

	conn  *websocket.Conn
	state uint32

	// Message handling
	messages     chan *Message
	messageStore MessageStore

	// Acks arrive interleaved with messages on the read loop
	acks chan ackResult

	// Lifecycle
	stopCh chan struct{}
	doneCh chan struct{}
	errCh  chan error
	mu     sync.Mutex
	connMu sync.Mutex
}

// NewTestWSClient creates a new test WebSocket client.
func NewTestWSClient(t *testing.T, addr, path, clientID string) *TestWSClient {
	return &TestWSClient{
		t:            t,
		ClientID:     clientID,
		Addr:         addr,
		Path:         path,
		messages:     make(chan *Message, 100),
		messageStore: NewInMemoryStore(),
		acks:         make(chan ackResult, 16),
		errCh:        make(chan error, 1),
	}
}

// Messages returns the message store.
func (c *TestWSClient) Messages() MessageStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageStore
}

// State returns the current connection state.
func (c *TestWSClient) State() uint32 {
	return atomic.LoadUint32(&c.state)
}

// IsConnected returns true if the client is connected.
func (c *TestWSClient) IsConnected() bool {
	return c.State() == StateConnected
}

// Errors returns the error channel for connection errors.
func (c *TestWSClient) Errors() <-chan error {
	return c.errCh
}

// Connect dials the relay and starts the read loop.
func (c *TestWSClient) Connect() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateDisconnected, StateConnected) {
		return ErrAlreadyConnected
	}

	c.mu.Lock()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.mu.Unlock()

	u := url.URL{Scheme: "ws", Host: c.Addr, Path: c.Path, RawQuery: "client_id=" + c.ClientID}

	dialer := websocket.Dialer{HandshakeTimeout: DefaultConnectTimeout}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		atomic.StoreUint32(&c.state, StateDisconnected)
		if resp != nil {
			return fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.t.Logf("Client %s connected to %s", c.ClientID, c.Addr)

	go c.readLoop()

	return nil
}

// Close closes the underlying connection and stops the read loop.
func (c *TestWSClient) Close() error {
	if !atomic.CompareAndSwapUint32(&c.state, StateConnected, StateDisconnected) {
		return nil
	}

	close(c.stopCh)

	c.connMu.Lock()
	err := c.conn.Close()
	c.connMu.Unlock()

	<-c.doneCh
	return err
}

// Subscribe subscribes to a topic filter and waits for the ack.
func (c *TestWSClient) Subscribe(filter string) error {
	if err := c.writeFrame(frame{Action: "subscribe", Filter: filter}); err != nil {
		return fmt.Errorf("failed to send subscribe: %w", err)
	}
	return c.waitAck("subscribe")
}

// Unsubscribe removes a topic filter and waits for the ack.
func (c *TestWSClient) Unsubscribe(filter string) error {
	if err := c.writeFrame(frame{Action: "unsubscribe", Filter: filter}); err != nil {
		return fmt.Errorf("failed to send unsubscribe: %w", err)
	}
	return c.waitAck("unsubscribe")
}

// Publish publishes a message and waits for the ack.
func (c *TestWSClient) Publish(topic string, payload []byte, retain bool) error {
	if err := c.writeFrame(frame{Action: "publish", Topic: topic, Payload: payload, Retain: retain}); err != nil {
		return fmt.Errorf("failed to send publish: %w", err)
	}
	return c.waitAck("publish")
}

// Ping sends a ping and waits for the pong.
func (c *TestWSClient) Ping() error {
	if err := c.writeFrame(frame{Action: "ping"}); err != nil {
		return fmt.Errorf("failed to send ping: %w", err)
	}
	return c.waitAck("")
}

// WaitForMessage waits for the next delivered message.
func (c *TestWSClient) WaitForMessage(timeout time.Duration) (*Message, error) {
	select {
	case msg := <-c.messages:
		return msg, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// WaitForMessageOn waits for the next message delivered on a specific topic,
// discarding any other deliveries that arrive first.
func (c *TestWSClient) WaitForMessageOn(topic string, timeout time.Duration) (*Message, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-c.messages:
			if msg.Topic == topic {
				return msg, nil
			}
		case <-deadline:
			return nil, ErrTimeout
		}
	}
}

// ExpectNoMessage asserts that no message arrives within the window.
func (c *TestWSClient) ExpectNoMessage(window time.Duration) error {
	select {
	case msg := <-c.messages:
		return fmt.Errorf("unexpected message on %s", msg.Topic)
	case <-time.After(window):
		return nil
	}
}

func (c *TestWSClient) writeFrame(f frame) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn.WriteJSON(f)
}

// waitAck blocks until an ack or error frame for the given action arrives.
// Message frames are routed by the read loop, so acks and deliveries may
// interleave freely.
func (c *TestWSClient) waitAck(action string) error {
	deadline := time.After(DefaultAckTimeout)
	for {
		select {
		case ack := <-c.acks:
			if ack.action == action {
				return ack.err
			}
			// Stale ack from an earlier request; keep draining.
		case <-deadline:
			return ErrTimeout
		}
	}
}

func (c *TestWSClient) readLoop() {
	defer close(c.doneCh)

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.stopCh:
			default:
				atomic.StoreUint32(&c.state, StateDisconnected)
				select {
				case c.errCh <- err:
				default:
				}
			}
			return
		}

		switch f.Type {
		case "message":
			msg := &Message{
				Topic:   f.Topic,
				Payload: f.Payload,
				QoS:     f.QoS,
				Retain:  f.Retain,
			}
			if f.Timestamp != nil {
				msg.Timestamp = *f.Timestamp
			}
			c.messageStore.Store(msg)
			select {
			case c.messages <- msg:
			default:
				c.t.Logf("Client %s: message channel full, dropping %s", c.ClientID, msg.Topic)
			}

		case "ack":
			c.acks <- ackResult{action: f.Action}

		case "pong":
			c.acks <- ackResult{action: ""}

		case "error":
			c.acks <- ackResult{action: f.Action, err: errors.New(f.Error)}
		}
	}
}

// AssertEventually polls fn until it returns true or the timeout elapses.
func AssertEventually(t *testing.T, fn func() bool, timeout time.Duration, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
