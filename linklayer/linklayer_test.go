package linklayer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLink(t *testing.T, selfID string, onFrame func(string, Frame)) (*LinkLayer, int) {
	t.Helper()
	ll := New(selfID, onFrame)
	port, err := ll.Listen(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { ll.Close() })
	return ll, port
}

func envelope(senderID string) Frame {
	raw, _ := json.Marshal(map[string]interface{}{
		"msg_id":    "abc",
		"sender_id": senderID,
		"signature": "sig",
		"payload":   map[string]string{"type": "HELLO"},
	})
	var f Frame
	json.Unmarshal(raw, &f)
	return f
}

func TestDialSend_DeliversFrameToPeer(t *testing.T) {
	var mu sync.Mutex
	var received []string

	b, portB := newTestLink(t, "nodeB", func(from string, f Frame) {
		mu.Lock()
		received = append(received, from)
		mu.Unlock()
	})
	_ = b

	a, _ := newTestLink(t, "nodeA", func(string, Frame) {})

	require.NoError(t, a.Dial("nodeB", fmt.Sprintf("127.0.0.1:%d", portB)))

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ok := a.Send("nodeB", envelope("nodeA"))
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDial_ReDialOnUpLinkIsNoop(t *testing.T) {
	_, portB := newTestLink(t, "nodeB", func(string, Frame) {})
	a, _ := newTestLink(t, "nodeA", func(string, Frame) {})

	require.NoError(t, a.Dial("nodeB", fmt.Sprintf("127.0.0.1:%d", portB)))
	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	a.mu.Lock()
	firstLink := a.peers["nodeB"]
	a.mu.Unlock()

	require.NoError(t, a.Dial("nodeB", fmt.Sprintf("127.0.0.1:%d", portB)))

	a.mu.Lock()
	secondLink := a.peers["nodeB"]
	a.mu.Unlock()
	assert.Same(t, firstLink, secondLink)
}

func TestBroadcast_ReturnsDeliveredCount(t *testing.T) {
	a, _ := newTestLink(t, "nodeA", func(string, Frame) {})
	_, portB := newTestLink(t, "nodeB", func(string, Frame) {})
	_, portC := newTestLink(t, "nodeC", func(string, Frame) {})

	require.NoError(t, a.Dial("nodeB", fmt.Sprintf("127.0.0.1:%d", portB)))
	require.NoError(t, a.Dial("nodeC", fmt.Sprintf("127.0.0.1:%d", portC)))
	require.Eventually(t, func() bool { return len(a.Peers()) == 2 }, 2*time.Second, 10*time.Millisecond)

	count := a.Broadcast(envelope("nodeA"))
	assert.Equal(t, 2, count)
}

func TestSend_UnknownPeerReturnsFalse(t *testing.T) {
	a, _ := newTestLink(t, "nodeA", func(string, Frame) {})
	assert.False(t, a.Send("ghost", envelope("nodeA")))
}

func TestDisconnect_RemovesPeer(t *testing.T) {
	a, _ := newTestLink(t, "nodeA", func(string, Frame) {})
	_, portB := newTestLink(t, "nodeB", func(string, Frame) {})

	require.NoError(t, a.Dial("nodeB", fmt.Sprintf("127.0.0.1:%d", portB)))
	require.Eventually(t, func() bool { return len(a.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	a.Disconnect("nodeB")
	require.Eventually(t, func() bool { return len(a.Peers()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
