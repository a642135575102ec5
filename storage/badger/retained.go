// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/topics"
)

const retainedPrefix = "retained:"

// Set stores or updates a retained message.
// Empty payload deletes the retained message.
func (s *Store) Set(ctx context.Context, topic string, msg *storage.Message) error {
	// Empty payload means delete
	if msg == nil || len(msg.Payload) == 0 {
		return s.Delete(ctx, topic)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal retained message: %w", err)
	}

	key := []byte(retainedPrefix + topic)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Get retrieves a retained message by exact topic.
func (s *Store) Get(_ context.Context, topic string) (*storage.Message, error) {
	key := []byte(retainedPrefix + topic)
	var msg *storage.Message

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			msg = &storage.Message{}
			return json.Unmarshal(val, msg)
		})
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// Delete removes a retained message.
func (s *Store) Delete(_ context.Context, topic string) error {
	key := []byte(retainedPrefix + topic)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Match returns all retained messages matching a filter (supports wildcards).
func (s *Store) Match(_ context.Context, filter string) ([]*storage.Message, error) {
	var matched []*storage.Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			topic := string(item.Key()[len(retainedPrefix):])

			if !topics.Match(filter, topic) {
				continue
			}

			err := item.Value(func(val []byte) error {
				var msg storage.Message
				if err := json.Unmarshal(val, &msg); err != nil {
					return err
				}
				matched = append(matched, &msg)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal retained message: %w", err)
			}
		}

		return nil
	})

	return matched, err
}

// Topics returns the topics of all retained messages.
func (s *Store) Topics(_ context.Context) ([]string, error) {
	var result []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		opts.PrefetchValues = false // key-only scan
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			result = append(result, string(it.Item().Key()[len(retainedPrefix):]))
		}
		return nil
	})

	return result, err
}

// Count returns the number of retained messages.
func (s *Store) Count(_ context.Context) (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retainedPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}
