// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the topic-based publish/subscribe core: the
// client registry, publish fan-out with retained message handling, and the
// operations exposed to transport and admin layers.
package relay

import (
	"sync"
	"time"

	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/topics"
)

// Sink is the outbound delivery handle a transport attaches to a client.
// Deliver must not block: implementations enqueue into a bounded buffer and
// report failure when it is full or closed.
type Sink interface {
	Deliver(msg *storage.Message) error
}

// Client is a registered relay client and its subscription state.
type Client struct {
	ID string

	mu       sync.RWMutex
	filters  map[string]struct{}
	lastSeen time.Time
	sink     Sink
}

func newClient(id string, sink Sink) *Client {
	return &Client{
		ID:       id,
		filters:  make(map[string]struct{}),
		lastSeen: time.Now(),
		sink:     sink,
	}
}

// Filters returns a copy of the client's subscription set.
func (c *Client) Filters() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.filters))
	for f := range c.filters {
		out = append(out, f)
	}
	return out
}

// LastSeen returns the time of the client's last recorded activity.
func (c *Client) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Sink returns the delivery handle the client was registered with. Transports
// use it to check whether a registration still belongs to their connection.
func (c *Client) Sink() Sink {
	return c.sink
}

func (c *Client) subscribe(filter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters[filter] = struct{}{}
	c.lastSeen = time.Now()
}

func (c *Client) unsubscribe(filter string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.filters[filter]
	delete(c.filters, filter)
	c.lastSeen = time.Now()
	return ok
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// matches reports whether any of the client's filters matches the topic.
// It stops at the first match, so a client with several overlapping filters
// still counts as a single recipient.
func (c *Client) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for f := range c.filters {
		if topics.Match(f, topic) {
			return true
		}
	}
	return false
}

func (c *Client) deliver(msg *storage.Message) error {
	return c.sink.Deliver(msg)
}

// Registry owns the set of registered clients. Lifecycle mutations are
// guarded by a single lock; fan-out takes a point-in-time snapshot so
// deliveries never run under it.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register adds a client under id with the given sink. A prior client with
// the same id is replaced: its subscriptions are discarded and its sink
// abandoned. It returns the new client and whether a replacement occurred.
func (r *Registry) Register(id string, sink Sink) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.clients[id]
	c := newClient(id, sink)
	r.clients[id] = c
	return c, replaced
}

// Unregister removes the client; it reports whether a record was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.clients[id]
	delete(r.clients, id)
	return ok
}

// Get returns the client registered under id.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// Subscribe adds a filter to the client's subscription set and refreshes its
// activity timestamp. It returns false when the id is unknown.
func (r *Registry) Subscribe(id, filter string) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	c.subscribe(filter)
	return true
}

// Unsubscribe removes a filter from the client's subscription set. It
// reports whether the filter was present; an unknown id reports false.
func (r *Registry) Unsubscribe(id, filter string) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	return c.unsubscribe(filter)
}

// Touch refreshes the client's activity timestamp.
func (r *Registry) Touch(id string) bool {
	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	c.touch()
	return true
}

// ListIDs returns the ids of all registered clients.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}

// Size returns the number of registered clients.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Filters returns the union of all clients' subscription filters,
// deduplicated, in no particular order.
func (r *Registry) Filters() []string {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, c := range clients {
		for _, f := range c.Filters() {
			seen[f] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	return out
}

// Snapshot returns the clients registered at the time of the call. The
// dispatcher fans out from this snapshot, so a publish observes registry
// membership as a single indivisible step.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// SweepInactive removes every client whose last activity predates
// now-maxIdle and returns the removed ids. Callers schedule it; the
// registry never sweeps on its own.
func (r *Registry) SweepInactive(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, c := range r.clients {
		if c.LastSeen().Before(cutoff) {
			delete(r.clients, id)
			removed = append(removed, id)
		}
	}
	return removed
}
