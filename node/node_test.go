package node

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmesh/node/discovery"
	"github.com/chatmesh/node/identity"
	"github.com/chatmesh/node/store"
	"github.com/chatmesh/node/store/sqlite"
)

// fakeAdapter lets a test drive discovery events directly, standing in
// for a real mDNS adapter.
type fakeAdapter struct {
	events chan<- discovery.Event
}

func (f *fakeAdapter) Start(_ context.Context, _ string, _ int, events chan<- discovery.Event) error {
	f.events = events
	return nil
}

func (f *fakeAdapter) Stop() error { return nil }

func (f *fakeAdapter) push(ev discovery.Event) { f.events <- ev }

// recordingUI captures every callback for assertions.
type recordingUI struct {
	mu       sync.Mutex
	messages []recordedMessage
}

type recordedMessage struct {
	ChannelID, SenderID, Content string
	Private                     bool
}

func (u *recordingUI) OnMessage(channelID, senderID, content string, private bool, _ time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.messages = append(u.messages, recordedMessage{channelID, senderID, content, private})
}
func (u *recordingUI) OnPeerUp(string, string) {}
func (u *recordingUI) OnPeerDown(string)       {}

func (u *recordingUI) snapshot() []recordedMessage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]recordedMessage, len(u.messages))
	copy(out, u.messages)
	return out
}

func newTestNode(t *testing.T, name string) (*Node, *fakeAdapter, *recordingUI) {
	t.Helper()
	id, err := identity.LoadOrCreate(filepath.Join(t.TempDir(), "profile.json"), name)
	require.NoError(t, err)
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "mesh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	adapter := &fakeAdapter{}
	rec := &recordingUI{}
	n := New(id, st, adapter, rec)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Stop() })
	return n, adapter, rec
}

func connect(a, b *Node, adapterA, adapterB *fakeAdapter) {
	adapterA.push(discovery.Event{NodeID: b.ID(), Addr: fmt.Sprintf("127.0.0.1:%d", b.Port())})
	adapterB.push(discovery.Event{NodeID: a.ID(), Addr: fmt.Sprintf("127.0.0.1:%d", a.Port())})
}

func TestPublicChat_DeliversPlaintextToPeer(t *testing.T) {
	a, adapterA, _ := newTestNode(t, "alice")
	b, adapterB, recB := newTestNode(t, "bob")
	connect(a, b, adapterA, adapterB)

	require.Eventually(t, func() bool { return len(a.link.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := a.Send(context.Background(), GeneralChannelID, "hello mesh")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(recB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := recB.snapshot()[0]
	assert.Equal(t, "hello mesh", msg.Content)
	assert.False(t, msg.Private)
	assert.Equal(t, a.ID(), msg.SenderID)
}

func TestPrivateChannel_InviteThenEncryptedDelivery(t *testing.T) {
	a, adapterA, _ := newTestNode(t, "alice")
	b, adapterB, recB := newTestNode(t, "bob")
	connect(a, b, adapterA, adapterB)
	require.Eventually(t, func() bool { return len(a.link.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, a.Create(ctx, "#secret", store.ChannelPrivate))
	require.NoError(t, a.Invite(ctx, "#secret", b.ID(), b.EncryptionPublicKey()))

	require.Eventually(t, func() bool {
		_, ok := b.channelKey("#secret")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err := a.Send(ctx, "#secret", "only for bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(recB.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := recB.snapshot()[0]
	assert.Equal(t, "only for bob", msg.Content)
	assert.True(t, msg.Private)
}

func TestInvite_RefusedForNonOwner(t *testing.T) {
	a, _, _ := newTestNode(t, "alice")
	b, _, _ := newTestNode(t, "bob")
	ctx := context.Background()

	require.NoError(t, a.Create(ctx, "#secret", store.ChannelPrivate))
	err := b.Invite(ctx, "#secret", a.ID(), a.EncryptionPublicKey())
	assert.Error(t, err)
}

func TestCreate_RejectsDuplicateChannel(t *testing.T) {
	a, _, _ := newTestNode(t, "alice")
	ctx := context.Background()
	require.NoError(t, a.Create(ctx, "#team", store.ChannelPublic))
	err := a.Create(ctx, "#team", store.ChannelPublic)
	assert.Error(t, err)
}

func TestLeave_RefusesGeneralChannel(t *testing.T) {
	a, _, _ := newTestNode(t, "alice")
	err := a.Leave(GeneralChannelID)
	assert.Error(t, err)
}

func TestLeave_AllowsOtherChannels(t *testing.T) {
	a, _, _ := newTestNode(t, "alice")
	ctx := context.Background()
	require.NoError(t, a.Create(ctx, "#team", store.ChannelPublic))
	assert.NoError(t, a.Leave("#team"))
}
