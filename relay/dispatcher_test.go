// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/relaymq/storage"
	"github.com/absmach/relaymq/storage/memory"
	"github.com/absmach/relaymq/topics"
)

var ctx = context.Background()

// chanSink buffers deliveries in a channel, mirroring how transports hand
// messages to their writer goroutines.
type chanSink struct {
	ch chan *storage.Message
}

func newChanSink(n int) *chanSink {
	return &chanSink{ch: make(chan *storage.Message, n)}
}

func (s *chanSink) Deliver(msg *storage.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errors.New("sink full")
	}
}

// drain returns everything delivered so far. Dispatch is synchronous, so
// after Publish returns the channel already holds the full fan-out.
func (s *chanSink) drain() []*storage.Message {
	var out []*storage.Message
	for {
		select {
		case m := <-s.ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

type failSink struct{}

func (failSink) Deliver(*storage.Message) error {
	return errors.New("sink closed")
}

func newTestRelay(t *testing.T) *Relay {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("relay-test", memory.NewRetainedStore(), logger, NewStats(), nil, nil)
}

func TestPublishFanOut(t *testing.T) {
	r := newTestRelay(t)

	tempSink := newChanSink(4)
	allSink := newChanSink(4)
	otherSink := newChanSink(4)
	require.NoError(t, r.RegisterClient("temp", tempSink))
	require.NoError(t, r.RegisterClient("all", allSink))
	require.NoError(t, r.RegisterClient("other", otherSink))

	_, err := r.Subscribe(ctx, "temp", "sensors/+/temperature")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "all", "sensors/#")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "other", "alerts/high")
	require.NoError(t, err)

	err = r.Publish(ctx, "", &storage.Message{
		Topic:   "sensors/dev1/temperature",
		Payload: []byte("23.5"),
	})
	require.NoError(t, err)

	require.Len(t, tempSink.drain(), 1)
	require.Len(t, allSink.drain(), 1)
	assert.Empty(t, otherSink.drain())
}

func TestPublishAtMostOncePerClient(t *testing.T) {
	r := newTestRelay(t)

	sink := newChanSink(4)
	require.NoError(t, r.RegisterClient("c1", sink))

	// Both filters match the topic; the client still gets one copy.
	_, err := r.Subscribe(ctx, "c1", "a/+")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "c1", "a/#")
	require.NoError(t, err)

	err = r.Publish(ctx, "", &storage.Message{Topic: "a/b", Payload: []byte("x")})
	require.NoError(t, err)

	assert.Len(t, sink.drain(), 1)
}

func TestPublishInvalidTopic(t *testing.T) {
	r := newTestRelay(t)

	sink := newChanSink(4)
	require.NoError(t, r.RegisterClient("c1", sink))
	_, err := r.Subscribe(ctx, "c1", "#")
	require.NoError(t, err)

	for _, topic := range []string{"", "a/+/b", "a/#"} {
		msg := &storage.Message{Topic: topic, Payload: []byte("x")}
		err := r.Publish(ctx, "c1", msg)
		require.ErrorIs(t, err, topics.ErrInvalidTopic, "topic %q", topic)
		assert.True(t, msg.Timestamp.IsZero(), "rejected publish must not mutate the message")
	}

	assert.Empty(t, sink.drain())
	assert.Equal(t, uint64(3), r.stats.GetValidationErrors())
}

func TestPublishSetsTimestamp(t *testing.T) {
	r := newTestRelay(t)

	sink := newChanSink(4)
	require.NoError(t, r.RegisterClient("c1", sink))
	_, err := r.Subscribe(ctx, "c1", "t")
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, "", &storage.Message{Topic: "t", Payload: []byte("x")}))
	got := sink.drain()
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero())

	// An explicit timestamp is preserved.
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.Publish(ctx, "", &storage.Message{Topic: "t", Payload: []byte("y"), Timestamp: stamp}))
	got = sink.drain()
	require.Len(t, got, 1)
	assert.Equal(t, stamp, got[0].Timestamp)
}

func TestPublishRetainedStoreAndClear(t *testing.T) {
	r := newTestRelay(t)

	require.NoError(t, r.Publish(ctx, "", &storage.Message{
		Topic:   "config/device1",
		Payload: []byte("v1"),
		Retain:  true,
	}))

	stored, err := r.retained.Get(ctx, "config/device1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), stored.Payload)
	assert.True(t, stored.Retain)

	// A newer retained publish overwrites.
	require.NoError(t, r.Publish(ctx, "", &storage.Message{
		Topic:   "config/device1",
		Payload: []byte("v2"),
		Retain:  true,
	}))
	stored, err = r.retained.Get(ctx, "config/device1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), stored.Payload)

	// An empty retained payload clears the slot.
	require.NoError(t, r.Publish(ctx, "", &storage.Message{
		Topic:  "config/device1",
		Retain: true,
	}))
	_, err = r.retained.Get(ctx, "config/device1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPublishRetainFlagLoweredOnLiveDelivery(t *testing.T) {
	r := newTestRelay(t)

	sink := newChanSink(4)
	require.NoError(t, r.RegisterClient("c1", sink))
	_, err := r.Subscribe(ctx, "c1", "config/+")
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, "", &storage.Message{
		Topic:   "config/device1",
		Payload: []byte("v1"),
		Retain:  true,
	}))

	got := sink.drain()
	require.Len(t, got, 1)
	assert.False(t, got[0].Retain, "live fan-out copies carry the retain flag lowered")
}

func TestPublishDeliveryFailureIsolated(t *testing.T) {
	r := newTestRelay(t)

	healthy := newChanSink(4)
	require.NoError(t, r.RegisterClient("broken", failSink{}))
	require.NoError(t, r.RegisterClient("healthy", healthy))

	_, err := r.Subscribe(ctx, "broken", "t")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "healthy", "t")
	require.NoError(t, err)

	err = r.Publish(ctx, "", &storage.Message{Topic: "t", Payload: []byte("x")})
	require.NoError(t, err, "a failing sink must not abort the publish")

	assert.Len(t, healthy.drain(), 1)
	assert.Equal(t, uint64(1), r.stats.GetDeliveryFailures())
}

func TestPublishDeliveryCopiesAreIndependent(t *testing.T) {
	r := newTestRelay(t)

	a := newChanSink(4)
	b := newChanSink(4)
	require.NoError(t, r.RegisterClient("a", a))
	require.NoError(t, r.RegisterClient("b", b))
	_, err := r.Subscribe(ctx, "a", "t")
	require.NoError(t, err)
	_, err = r.Subscribe(ctx, "b", "t")
	require.NoError(t, err)

	require.NoError(t, r.Publish(ctx, "", &storage.Message{Topic: "t", Payload: []byte("orig")}))

	gotA := a.drain()
	gotB := b.drain()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)

	// Mutating one recipient's payload must not leak into the other's.
	gotA[0].Payload[0] = 'X'
	assert.Equal(t, []byte("orig"), gotB[0].Payload)
}

func TestPublishTouchesOrigin(t *testing.T) {
	r := newTestRelay(t)

	require.NoError(t, r.RegisterClient("pub", newChanSink(1)))
	backdate(t, r.registry, "pub", time.Hour)
	c, _ := r.registry.Get("pub")
	stale := c.LastSeen()

	require.NoError(t, r.Publish(ctx, "pub", &storage.Message{Topic: "t", Payload: []byte("x")}))
	assert.True(t, c.LastSeen().After(stale))
}

func TestPublishUnregisteredOrigin(t *testing.T) {
	r := newTestRelay(t)

	sink := newChanSink(4)
	require.NoError(t, r.RegisterClient("sub", sink))
	_, err := r.Subscribe(ctx, "sub", "t")
	require.NoError(t, err)

	// Fire-and-forget origins (admin API, internal loops) need no registration.
	require.NoError(t, r.Publish(ctx, "ghost", &storage.Message{Topic: "t", Payload: []byte("x")}))
	assert.Len(t, sink.drain(), 1)
}

func TestPublishNoSubscribers(t *testing.T) {
	r := newTestRelay(t)

	err := r.Publish(ctx, "", &storage.Message{Topic: "lonely/topic", Payload: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.stats.GetPublishReceived())
	assert.Equal(t, uint64(0), r.stats.GetPublishSent())
}
