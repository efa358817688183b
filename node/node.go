// Package node orchestrates identity, storage, the link layer, gossip,
// and discovery into the channel and encryption policy described by the
// mesh: who may invite whom, what gets encrypted before it hits the
// wire, and what gets persisted versus merely noted.
package node

import (
	"context"
	"crypto/ecdh"
	"encoding/hex"
	"sync"
	"time"

	"github.com/chatmesh/node/cryptobox"
	"github.com/chatmesh/node/discovery"
	"github.com/chatmesh/node/gossip"
	"github.com/chatmesh/node/identity"
	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/linklayer"
	"github.com/chatmesh/node/store"
	"github.com/chatmesh/node/ui"
)

// GeneralChannelID is the always-subscribed, unleavable public channel
// every node joins on start.
const GeneralChannelID = "#general"

// Node is the orchestrator binding every component together.
type Node struct {
	identity  *identity.Identity
	store     store.Store
	discovery discovery.Adapter
	link      *linklayer.LinkLayer
	gossipEng *gossip.Engine
	subs      *gossip.Subscriptions
	ui        ui.UI
	log       logger.Logger

	keysMu      sync.RWMutex
	channelKeys map[string][]byte

	port int
}

// New wires the components together but does not start any network
// activity; call Start for that.
func New(self *identity.Identity, st store.Store, disc discovery.Adapter, u ui.UI) *Node {
	n := &Node{
		identity:    self,
		store:       st,
		discovery:   disc,
		ui:          u,
		subs:        gossip.NewSubscriptions(),
		channelKeys: make(map[string][]byte),
		log:         logger.NewDefaultLogger(),
	}

	n.link = linklayer.New(self.PublicID(), func(_ string, frame linklayer.Frame) {
		n.gossipEng.Handle(frame)
	})
	n.gossipEng = gossip.New(self, n.link, n.subs, n.handleChat, n.handleInvite)

	return n
}

// Start opens the link layer on an ephemeral port, ensures #general
// exists and is subscribed, and starts discovery.
func (n *Node) Start(ctx context.Context) error {
	n.subs.Add(GeneralChannelID)
	if err := n.store.PutChannel(ctx, store.Channel{
		ChannelID: GeneralChannelID,
		Name:      "general",
		Type:      store.ChannelPublic,
		CreatedAt: nowISO(),
	}); err != nil {
		return err
	}

	port, err := n.link.Listen(ctx)
	if err != nil {
		return err
	}
	n.port = port

	events := make(chan discovery.Event, 64)
	if err := n.discovery.Start(ctx, n.identity.PublicID(), port, events); err != nil {
		return err
	}
	go n.drainDiscovery(events)

	return nil
}

// Stop reverses Start: discovery, then links, then the store.
func (n *Node) Stop() error {
	if err := n.discovery.Stop(); err != nil {
		n.log.Warn("discovery stop failed", logger.Error(err))
	}
	if err := n.link.Close(); err != nil {
		n.log.Warn("link close failed", logger.Error(err))
	}
	return n.store.Close()
}

// Port returns the ephemeral port the link layer is listening on.
func (n *Node) Port() int { return n.port }

// ID returns this node's stable public identifier.
func (n *Node) ID() string { return n.identity.PublicID() }

// EncryptionPublicKey returns the X25519 key others should seal invite
// keys to when inviting this node.
func (n *Node) EncryptionPublicKey() *ecdh.PublicKey { return n.identity.EncryptionPublicKey() }

// Link exposes the underlying link layer for callers that need to report
// on its state (health checks, diagnostics) without owning it.
func (n *Node) Link() *linklayer.LinkLayer { return n.link }

func (n *Node) drainDiscovery(events <-chan discovery.Event) {
	for ev := range events {
		if ev.Down {
			n.link.Disconnect(ev.NodeID)
			if n.ui != nil {
				n.ui.OnPeerDown(ev.NodeID)
			}
			continue
		}
		if err := n.link.Dial(ev.NodeID, ev.Addr); err != nil {
			n.log.Debug("dial failed", logger.String("node_id", ev.NodeID), logger.Error(err))
			continue
		}
		if n.ui != nil {
			n.ui.OnPeerUp(ev.NodeID, ev.Addr)
		}
	}
}

// Create mints a channel. Private channels get a fresh symmetric key held
// only by the creator until invited members receive it.
func (n *Node) Create(ctx context.Context, channelID string, ctype store.ChannelType) error {
	if _, exists, err := n.store.Channel(ctx, channelID); err != nil {
		return err
	} else if exists {
		return logger.NewMeshError(logger.ErrPolicyReject, "channel already exists", nil)
	}

	if ctype == store.ChannelPrivate {
		key, err := cryptobox.NewChannelKey()
		if err != nil {
			return err
		}
		n.setChannelKey(channelID, key)
	}

	now := nowISO()
	if err := n.store.PutChannel(ctx, store.Channel{
		ChannelID: channelID, Name: channelID, Type: ctype,
		OwnerNodeID: n.identity.PublicID(), CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := n.store.PutMember(ctx, store.Member{
		ChannelID: channelID, NodeID: n.identity.PublicID(), Role: store.RoleOwner, JoinedAt: now,
	}); err != nil {
		return err
	}

	n.subs.Add(channelID)
	return nil
}

// Invite wraps the channel's key to targetPub and broadcasts it publicly
// as an INVITE addressed to targetID. Only the channel's owner may invite.
func (n *Node) Invite(ctx context.Context, channelID, targetID string, targetPub *ecdh.PublicKey) error {
	ch, exists, err := n.store.Channel(ctx, channelID)
	if err != nil {
		return err
	}
	if !exists || ch.OwnerNodeID != n.identity.PublicID() {
		return logger.NewMeshError(logger.ErrPolicyReject, "invite requires channel ownership", nil)
	}

	key, ok := n.channelKey(channelID)
	if !ok {
		return logger.NewMeshError(logger.ErrPolicyReject, "no channel key held for this channel", nil)
	}

	sealed, err := cryptobox.Seal(targetPub, key)
	if err != nil {
		return err
	}

	_, err = n.gossipEng.Broadcast(gossip.Payload{
		Type:         gossip.TypeInvite,
		ChannelID:    GeneralChannelID,
		Timestamp:    nowISO(),
		TargetNodeID: targetID,
		ChannelName:  ch.Name,
		ChannelType:  string(ch.Type),
		EncryptedKey: hex.EncodeToString(sealed),
	})
	return err
}

// Join subscribes to a channel without an invite (valid for public
// channels; a private channel joined this way cannot be read until an
// invite supplies its key).
func (n *Node) Join(channelID string) {
	n.subs.Add(channelID)
}

// Leave unsubscribes from a channel. #general cannot be left.
func (n *Node) Leave(channelID string) error {
	if channelID == GeneralChannelID {
		return logger.NewMeshError(logger.ErrPolicyReject, "#general cannot be left", nil)
	}
	n.subs.Remove(channelID)
	return nil
}

// Send broadcasts content on channelID, encrypting first if the channel
// is private and a key is held.
func (n *Node) Send(ctx context.Context, channelID, content string) (string, error) {
	payload := gossip.Payload{Type: gossip.TypeChatMessage, ChannelID: channelID, Timestamp: nowISO()}

	ch, exists, err := n.store.Channel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if exists && ch.Type == store.ChannelPrivate {
		key, ok := n.channelKey(channelID)
		if !ok {
			return "", logger.NewMeshError(logger.ErrPolicyReject, "no channel key held for this channel", nil)
		}
		ciphertext, nonce, err := cryptobox.Encrypt(key, []byte(content))
		if err != nil {
			return "", err
		}
		payload.Content = ciphertext
		payload.Nonce = nonce
		payload.IsEncrypted = true
	} else {
		payload.Content = content
	}

	return n.gossipEng.Broadcast(payload)
}

// handleChat is the unified normal-content path for both self-originated
// broadcasts and frames accepted from peers: decrypt if needed, persist
// idempotently, surface to the UI. A store failure is logged but is not a
// reason to have refused forwarding, which gossip.Engine already decided
// independently of this callback.
func (n *Node) handleChat(env gossip.Envelope) {
	p := env.Payload
	content := p.Content
	private := p.IsEncrypted

	if private {
		key, ok := n.channelKey(p.ChannelID)
		if !ok {
			return // possibly a leaked frame from a partial mesh; drop silently
		}
		plaintext, err := cryptobox.Decrypt(key, p.Content, p.Nonce)
		if err != nil {
			return // AEAD failure: drop, never surfaced
		}
		content = string(plaintext)
	}

	ctx := context.Background()
	inserted, err := n.store.PutMessage(ctx, store.Message{
		MsgID: env.MsgID, ChannelID: p.ChannelID, SenderID: env.SenderID,
		Timestamp: p.Timestamp, Content: p.Content, Signature: env.Signature,
		IsEncrypted: p.IsEncrypted, Nonce: p.Nonce, CreatedAt: p.Timestamp,
	})
	if err != nil {
		n.log.Warn("store message failed", logger.Error(err))
		return
	}
	if !inserted {
		return
	}

	if n.ui != nil {
		ts, _ := time.Parse(time.RFC3339, p.Timestamp)
		n.ui.OnMessage(p.ChannelID, env.SenderID, content, private, ts)
	}
}

// handleInvite processes an INVITE addressed to us: unseal the channel
// key, record the channel and our membership, and subscribe. Never
// persisted or surfaced as a chat message.
func (n *Node) handleInvite(env gossip.Envelope) {
	p := env.Payload

	sealed, err := hex.DecodeString(p.EncryptedKey)
	if err != nil {
		return
	}
	key, err := cryptobox.Open(n.identity.EncryptionPrivateKey(), sealed)
	if err != nil {
		return
	}
	n.setChannelKey(p.ChannelID, key)

	ctx := context.Background()
	now := nowISO()
	if err := n.store.PutChannel(ctx, store.Channel{
		ChannelID: p.ChannelID, Name: p.ChannelName, Type: store.ChannelType(p.ChannelType),
		OwnerNodeID: env.SenderID, CreatedAt: now,
	}); err != nil {
		n.log.Warn("store invited channel failed", logger.Error(err))
		return
	}
	if err := n.store.PutMember(ctx, store.Member{
		ChannelID: p.ChannelID, NodeID: n.identity.PublicID(), Role: store.RoleMember, JoinedAt: now,
	}); err != nil {
		n.log.Warn("store invited membership failed", logger.Error(err))
		return
	}

	n.subs.Add(p.ChannelID)
}

func (n *Node) channelKey(channelID string) ([]byte, bool) {
	n.keysMu.RLock()
	defer n.keysMu.RUnlock()
	key, ok := n.channelKeys[channelID]
	return key, ok
}

func (n *Node) setChannelKey(channelID string, key []byte) {
	n.keysMu.Lock()
	defer n.keysMu.Unlock()
	n.channelKeys[channelID] = key
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
