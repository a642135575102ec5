// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package integration

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/absmach/relaymq/storage/badger"
	"github.com/absmach/relaymq/testutil"
)

func TestRetained_ReplayOnSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.StartTestServer(t)

	// Device publishes a retained reading before anyone subscribes.
	dev1 := ts.NewClient("dev1")
	require.NoError(t, dev1.Connect())
	defer dev1.Close()
	require.NoError(t, dev1.Publish("sensors/dev1/temperature", []byte("23.5"), true))

	// A late subscriber still receives it.
	sub1 := ts.NewClient("sub1")
	require.NoError(t, sub1.Connect())
	defer sub1.Close()
	require.NoError(t, sub1.Subscribe("sensors/+/temperature"))

	msg, err := sub1.WaitForMessage(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "sensors/dev1/temperature", msg.Topic)
	require.Equal(t, []byte("23.5"), msg.Payload)
	require.True(t, msg.Retain, "replayed message must carry the retain flag")

	// A live non-retained reading arrives with the flag lowered.
	dev2 := ts.NewClient("dev2")
	require.NoError(t, dev2.Connect())
	defer dev2.Close()
	require.NoError(t, dev2.Publish("sensors/dev2/temperature", []byte("24.1"), false))

	msg, err = sub1.WaitForMessage(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "sensors/dev2/temperature", msg.Topic)
	require.False(t, msg.Retain, "live delivery must not carry the retain flag")

	// A second late subscriber sees only the retained reading, not the live one.
	sub2 := ts.NewClient("sub2")
	require.NoError(t, sub2.Connect())
	defer sub2.Close()
	require.NoError(t, sub2.Subscribe("sensors/+/temperature"))

	msg, err = sub2.WaitForMessage(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "sensors/dev1/temperature", msg.Topic)
	require.Equal(t, []byte("23.5"), msg.Payload)

	require.NoError(t, sub2.ExpectNoMessage(500*time.Millisecond))

	t.Log("Retained replay scenario passed")
}

func TestRetained_LatestWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.StartTestServer(t)

	dev := ts.NewClient("dev-latest")
	require.NoError(t, dev.Connect())
	defer dev.Close()

	require.NoError(t, dev.Publish("state/door", []byte("open"), true))
	require.NoError(t, dev.Publish("state/door", []byte("closed"), true))

	sub := ts.NewClient("sub-latest")
	require.NoError(t, sub.Connect())
	defer sub.Close()
	require.NoError(t, sub.Subscribe("state/door"))

	msg, err := sub.WaitForMessage(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("closed"), msg.Payload)

	// Only the latest value is replayed.
	require.NoError(t, sub.ExpectNoMessage(500*time.Millisecond))

	t.Log("Latest retained value won")
}

func TestRetained_ClearRemovesReplay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ts := testutil.StartTestServer(t)

	dev := ts.NewClient("dev-clear")
	require.NoError(t, dev.Connect())
	defer dev.Close()

	require.NoError(t, dev.Publish("state/lamp", []byte("on"), true))

	// An empty retained publish clears the slot.
	require.NoError(t, dev.Publish("state/lamp", nil, true))

	sub := ts.NewClient("sub-clear")
	require.NoError(t, sub.Connect())
	defer sub.Close()
	require.NoError(t, sub.Subscribe("state/lamp"))

	require.NoError(t, sub.ExpectNoMessage(500*time.Millisecond))

	t.Log("Cleared retained message was not replayed")
}

func TestRetained_BadgerSurvivesRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tmpDir, err := os.MkdirTemp("", "relaymq-integration-badger-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	store, err := badger.New(badger.Config{Dir: tmpDir})
	require.NoError(t, err)

	ts := testutil.StartTestServerWithStore(t, store)

	dev := ts.NewClient("dev-persist")
	require.NoError(t, dev.Connect())
	require.NoError(t, dev.Publish("config/thresholds", []byte(`{"max":80}`), true))
	require.NoError(t, dev.Close())

	// Stop the relay entirely, then boot a fresh one on the same directory.
	ts.Stop()

	store, err = badger.New(badger.Config{Dir: tmpDir})
	require.NoError(t, err)

	ts = testutil.StartTestServerWithStore(t, store)

	sub := ts.NewClient("sub-persist")
	require.NoError(t, sub.Connect())
	defer sub.Close()
	require.NoError(t, sub.Subscribe("config/#"))

	msg, err := sub.WaitForMessage(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "config/thresholds", msg.Topic)
	require.Equal(t, []byte(`{"max":80}`), msg.Payload)

	t.Log("Retained message survived a relay restart")
}
