// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides the in-memory retained message store, the default
// backend for a single relay process.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/topics"
)

var _ storage.RetainedStore = (*RetainedStore)(nil)

// RetainedStore keeps the latest retained message per exact topic in a map
// guarded by an RWMutex. Messages are copied on the way in and out so callers
// can never alias the stored value.
type RetainedStore struct {
	mu      sync.RWMutex
	byTopic map[string]*storage.Message
}

// NewRetainedStore creates an empty in-memory retained message store.
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{
		byTopic: make(map[string]*storage.Message),
	}
}

// Set stores or overwrites the retained message for a topic. A nil message or
// empty payload clears the slot instead, per the retained-delete convention.
func (s *RetainedStore) Set(_ context.Context, topic string, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg == nil || len(msg.Payload) == 0 {
		delete(s.byTopic, topic)
		return nil
	}

	s.byTopic[topic] = storage.CopyMessage(msg)
	return nil
}

// Get retrieves the retained message for an exact topic, or ErrNotFound.
func (s *RetainedStore) Get(_ context.Context, topic string) (*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byTopic[topic]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyMessage(msg), nil
}

// Delete removes the retained message for a topic. Absent topics are a no-op.
func (s *RetainedStore) Delete(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byTopic, topic)
	return nil
}

// Match returns copies of every retained message whose topic matches filter.
func (s *RetainedStore) Match(_ context.Context, filter string) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Fast path for the catch-all filter: everything matches except topics
	// under the $ namespace, which leading wildcards never see.
	if filter == "#" {
		result := make([]*storage.Message, 0, len(s.byTopic))
		for topic, msg := range s.byTopic {
			if !strings.HasPrefix(topic, "$") {
				result = append(result, storage.CopyMessage(msg))
			}
		}
		return result, nil
	}

	var result []*storage.Message
	for topic, msg := range s.byTopic {
		if topics.Match(filter, topic) {
			result = append(result, storage.CopyMessage(msg))
		}
	}

	return result, nil
}

// Topics returns the topics of all retained messages, in map order.
func (s *RetainedStore) Topics(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.byTopic))
	for topic := range s.byTopic {
		result = append(result, topic)
	}
	return result, nil
}

// Count returns the number of retained messages.
func (s *RetainedStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byTopic), nil
}

// Close is a no-op for the in-memory store.
func (s *RetainedStore) Close() error {
	return nil
}
