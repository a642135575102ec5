// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	c, replaced := r.Register("c1", newChanSink(1))
	require.NotNil(t, c)
	assert.False(t, replaced)
	assert.Equal(t, 1, r.Size())

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestRegistryRegisterReplace(t *testing.T) {
	r := NewRegistry()

	first, _ := r.Register("c1", newChanSink(1))
	require.True(t, r.Subscribe("c1", "sensors/#"))
	require.Len(t, first.Filters(), 1)

	second := newChanSink(1)
	c, replaced := r.Register("c1", second)
	assert.True(t, replaced)
	assert.Equal(t, 1, r.Size())

	// The replacement starts clean and owns the new sink.
	assert.Empty(t, c.Filters())
	assert.Same(t, second, c.Sink())
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Unregister("missing"))

	r.Register("c1", newChanSink(1))
	assert.True(t, r.Unregister("c1"))
	assert.Equal(t, 0, r.Size())

	_, ok := r.Get("c1")
	assert.False(t, ok)
}

func TestRegistrySubscribeUnsubscribe(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Subscribe("missing", "a/b"))
	assert.False(t, r.Unsubscribe("missing", "a/b"))

	r.Register("c1", newChanSink(1))
	assert.True(t, r.Subscribe("c1", "a/b"))
	assert.True(t, r.Subscribe("c1", "a/b")) // duplicate is idempotent
	assert.True(t, r.Subscribe("c1", "a/+"))

	c, _ := r.Get("c1")
	assert.ElementsMatch(t, []string{"a/b", "a/+"}, c.Filters())

	assert.True(t, r.Unsubscribe("c1", "a/b"))
	assert.False(t, r.Unsubscribe("c1", "a/b")) // already gone
	assert.ElementsMatch(t, []string{"a/+"}, c.Filters())
}

func TestRegistryFiltersUnion(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", newChanSink(1))
	r.Register("c2", newChanSink(1))
	r.Subscribe("c1", "sensors/#")
	r.Subscribe("c1", "alerts/+")
	r.Subscribe("c2", "sensors/#") // shared with c1
	r.Subscribe("c2", "logs/app")

	assert.ElementsMatch(t, []string{"sensors/#", "alerts/+", "logs/app"}, r.Filters())
}

func TestRegistrySnapshotIsPointInTime(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", newChanSink(1))
	r.Register("c2", newChanSink(1))

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	// Later registrations do not leak into an already-taken snapshot.
	r.Register("c3", newChanSink(1))
	assert.Len(t, snap, 2)
	assert.Equal(t, 3, r.Size())
}

func TestRegistryTouch(t *testing.T) {
	r := NewRegistry()

	assert.False(t, r.Touch("missing"))

	r.Register("c1", newChanSink(1))
	c, _ := r.Get("c1")

	c.mu.Lock()
	c.lastSeen = time.Now().Add(-time.Hour)
	c.mu.Unlock()
	stale := c.LastSeen()

	assert.True(t, r.Touch("c1"))
	assert.True(t, c.LastSeen().After(stale))
}

func TestRegistrySweepInactive(t *testing.T) {
	r := NewRegistry()

	r.Register("idle", newChanSink(1))
	r.Register("recent", newChanSink(1))
	r.Register("fresh", newChanSink(1))

	backdate(t, r, "idle", 6*time.Minute)
	backdate(t, r, "recent", 4*time.Minute)

	removed := r.SweepInactive(5 * time.Minute)
	assert.Equal(t, []string{"idle"}, removed)
	assert.Equal(t, 2, r.Size())

	_, ok := r.Get("idle")
	assert.False(t, ok)
	_, ok = r.Get("recent")
	assert.True(t, ok)
}

func TestClientMatches(t *testing.T) {
	c := newClient("c1", newChanSink(1))
	c.subscribe("sensors/+/temperature")
	c.subscribe("sensors/#")

	// Overlapping filters still mean a single match.
	assert.True(t, c.matches("sensors/dev1/temperature"))
	assert.True(t, c.matches("sensors/dev1/humidity"))
	assert.False(t, c.matches("alerts/high"))
}

func backdate(t *testing.T, r *Registry, id string, age time.Duration) {
	t.Helper()

	c, ok := r.Get(id)
	require.True(t, ok)
	c.mu.Lock()
	c.lastSeen = time.Now().Add(-age)
	c.mu.Unlock()
}
