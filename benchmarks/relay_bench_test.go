// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package benchmarks measures relay-core publish, fan-out and matching
// performance in-process, with no-op sinks standing in for transports.
package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/absmach/relaymq/relay"
	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/memory"
	"github.com/absmach/relaymq/topics"
)

var ctx = context.Background()

// nopSink accepts every delivery without buffering.
type nopSink struct{}

func (nopSink) Deliver(*storage.Message) error { return nil }

func newBenchRelay(b *testing.B) *relay.Relay {
	b.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return relay.New("bench", memory.NewRetainedStore(), logger, relay.NewStats(), nil, nil)
}

func registerSubscribers(b *testing.B, r *relay.Relay, count int, filter string) {
	b.Helper()

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("sub-%d", i)
		if err := r.RegisterClient(id, nopSink{}); err != nil {
			b.Fatalf("Failed to register %s: %v", id, err)
		}
		if _, err := r.Subscribe(ctx, id, filter); err != nil {
			b.Fatalf("Failed to subscribe %s: %v", id, err)
		}
	}
}

// BenchmarkPublish_NoSubscribers measures the cost of a publish nobody hears.
func BenchmarkPublish_NoSubscribers(b *testing.B) {
	r := newBenchRelay(b)
	msg := &storage.Message{Topic: "bench/void", Payload: make([]byte, 256)}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := r.Publish(ctx, "publisher", msg); err != nil {
			b.Fatalf("Failed to publish: %v", err)
		}
	}
}

// BenchmarkFanOut measures 1:N message distribution.
func BenchmarkFanOut(b *testing.B) {
	fanoutCounts := []int{10, 100, 500, 1000}

	for _, count := range fanoutCounts {
		b.Run(fmt.Sprintf("1_to_%d", count), func(b *testing.B) {
			r := newBenchRelay(b)
			registerSubscribers(b, r, count, "bench/fanout")

			msg := &storage.Message{Topic: "bench/fanout", Payload: make([]byte, 256)}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := r.Publish(ctx, "publisher", msg); err != nil {
					b.Fatalf("Failed to publish: %v", err)
				}
			}
		})
	}
}

// BenchmarkFanOut_Wildcards measures fan-out through wildcard filters.
func BenchmarkFanOut_Wildcards(b *testing.B) {
	fanoutCounts := []int{10, 100, 500}

	for _, count := range fanoutCounts {
		b.Run(fmt.Sprintf("1_to_%d", count), func(b *testing.B) {
			r := newBenchRelay(b)

			// Half the subscribers on single-level, half on multi-level filters.
			registerSubscribers(b, r, count/2, "bench/+/temperature")
			for i := count / 2; i < count; i++ {
				id := fmt.Sprintf("sub-%d", i)
				if err := r.RegisterClient(id, nopSink{}); err != nil {
					b.Fatalf("Failed to register %s: %v", id, err)
				}
				if _, err := r.Subscribe(ctx, id, "bench/#"); err != nil {
					b.Fatalf("Failed to subscribe %s: %v", id, err)
				}
			}

			msg := &storage.Message{Topic: "bench/dev1/temperature", Payload: make([]byte, 256)}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := r.Publish(ctx, "publisher", msg); err != nil {
					b.Fatalf("Failed to publish: %v", err)
				}
			}
		})
	}
}

// BenchmarkPublish_PayloadSizes measures delivery-copy cost per payload size.
func BenchmarkPublish_PayloadSizes(b *testing.B) {
	payloadSizes := []int{100, 1024, 10240, 65536}

	for _, size := range payloadSizes {
		b.Run(fmt.Sprintf("%d_bytes", size), func(b *testing.B) {
			r := newBenchRelay(b)
			registerSubscribers(b, r, 10, "bench/payload")

			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte(i % 256)
			}
			msg := &storage.Message{Topic: "bench/payload", Payload: payload}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := r.Publish(ctx, "publisher", msg); err != nil {
					b.Fatalf("Failed to publish: %v", err)
				}
			}
		})
	}
}

// BenchmarkRetainedSet measures retained message writes across 100 topics.
func BenchmarkRetainedSet(b *testing.B) {
	r := newBenchRelay(b)
	payload := make([]byte, 512)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		msg := &storage.Message{
			Topic:   fmt.Sprintf("bench/retained/%d", i%100),
			Payload: payload,
			Retain:  true,
		}
		if err := r.Publish(ctx, "publisher", msg); err != nil {
			b.Fatalf("Failed to publish: %v", err)
		}
	}
}

// BenchmarkSubscribeWithRetainedReplay measures subscribe cost when the
// filter matches 100 retained topics.
func BenchmarkSubscribeWithRetainedReplay(b *testing.B) {
	r := newBenchRelay(b)
	payload := make([]byte, 512)

	for i := 0; i < 100; i++ {
		msg := &storage.Message{
			Topic:   fmt.Sprintf("bench/retained/%d", i),
			Payload: payload,
			Retain:  true,
		}
		if err := r.Publish(ctx, "seeder", msg); err != nil {
			b.Fatalf("Failed to seed retained: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("replay-%d", i)
		if err := r.RegisterClient(id, nopSink{}); err != nil {
			b.Fatalf("Failed to register: %v", err)
		}
		if _, err := r.Subscribe(ctx, id, "bench/retained/#"); err != nil {
			b.Fatalf("Failed to subscribe: %v", err)
		}
		r.UnregisterClient(id)
	}
}

// BenchmarkMatch measures the topic matcher alone.
func BenchmarkMatch(b *testing.B) {
	cases := []struct {
		name   string
		filter string
		topic  string
	}{
		{"exact", "sensor/room1/temperature", "sensor/room1/temperature"},
		{"single_level", "sensor/+/temperature", "sensor/room1/temperature"},
		{"multi_level", "sensor/#", "sensor/room1/temperature"},
		{"deep", "a/+/c/+/e/#", "a/b/c/d/e/f/g/h"},
		{"mismatch", "sensor/+/humidity", "sensor/room1/temperature"},
	}

	for _, bc := range cases {
		b.Run(bc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				topics.Match(bc.filter, bc.topic)
			}
		})
	}
}

// BenchmarkRegistryMatching measures snapshot matching with many idle clients.
func BenchmarkRegistryMatching(b *testing.B) {
	clientCounts := []int{100, 1000, 5000}

	for _, count := range clientCounts {
		b.Run(fmt.Sprintf("%d_clients", count), func(b *testing.B) {
			r := newBenchRelay(b)

			// One matching subscriber in a crowd of unrelated ones.
			for i := 0; i < count; i++ {
				id := fmt.Sprintf("idle-%d", i)
				if err := r.RegisterClient(id, nopSink{}); err != nil {
					b.Fatalf("Failed to register %s: %v", id, err)
				}
				if _, err := r.Subscribe(ctx, id, fmt.Sprintf("idle/%d/state", i)); err != nil {
					b.Fatalf("Failed to subscribe %s: %v", id, err)
				}
			}
			registerSubscribers(b, r, 1, "bench/needle")

			msg := &storage.Message{Topic: "bench/needle", Payload: make([]byte, 64)}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if err := r.Publish(ctx, "publisher", msg); err != nil {
					b.Fatalf("Failed to publish: %v", err)
				}
			}
		})
	}
}
