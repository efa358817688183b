// Package gossip implements the signed, TTL-bounded flood-fill protocol
// that carries chat and invite traffic across the mesh: canonicalize,
// sign, verify, deduplicate, dispatch, and forward.
package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/chatmesh/node/identity"
	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/internal/metrics"
	"github.com/chatmesh/node/linklayer"
)

const (
	// InitialTTL is the hop budget a freshly broadcast envelope is given.
	InitialTTL = 3
	// SeenCapacity bounds the FIFO of recently processed msg_ids.
	SeenCapacity = 1024

	TypeChatMessage = "chat_message"
	TypeHello       = "HELLO"
	TypeInvite      = "INVITE"
)

// Payload is the signed portion of an envelope. Fields absent for a given
// type are omitted entirely so the canonical form matches what was
// actually signed.
type Payload struct {
	Type         string `json:"type"`
	ChannelID    string `json:"channel_id"`
	Timestamp    string `json:"timestamp"`
	Content      string `json:"content,omitempty"`
	Nonce        string `json:"nonce,omitempty"`
	IsEncrypted  bool   `json:"is_encrypted,omitempty"`
	TargetNodeID string `json:"target_node_id,omitempty"`
	ChannelName  string `json:"channel_name,omitempty"`
	ChannelType  string `json:"channel_type,omitempty"`
	EncryptedKey string `json:"encrypted_key,omitempty"`
}

// Envelope is a complete gossip frame. TTL and SenderID/Signature sit
// outside the signed region.
type Envelope struct {
	MsgID     string  `json:"msg_id"`
	SenderID  string  `json:"sender_id"`
	Signature string  `json:"signature"`
	TTL       int     `json:"ttl,omitempty"`
	Payload   Payload `json:"payload"`
}

// Canonicalizer produces the exact byte sequence a Payload is signed
// over: JSON with lexicographically sorted keys and no insignificant
// whitespace.
type Canonicalizer struct{}

func (Canonicalizer) Canonicalize(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	// Round-tripping through map[string]interface{} relies on
	// encoding/json always emitting object keys in sorted order.
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Disposition is the outcome of Engine.Handle.
type Disposition int

const (
	Accepted Disposition = iota
	Forwarded
	Dropped
)

// Subscriptions is the shared, mutable set of channel ids this node
// currently participates in. Node.join/leave mutate it; Engine.Handle
// reads it on every inbound frame.
type Subscriptions struct {
	mu  sync.RWMutex
	set map[string]bool
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{set: make(map[string]bool)}
}

func (s *Subscriptions) Add(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[channelID] = true
}

func (s *Subscriptions) Remove(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, channelID)
}

func (s *Subscriptions) Has(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set[channelID]
}

// seenSet is a bounded FIFO of msg_ids; eviction happens on insert once
// capacity is exceeded.
type seenSet struct {
	mu       sync.Mutex
	order    []string
	index    map[string]struct{}
	capacity int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{index: make(map[string]struct{}, capacity), capacity: capacity}
}

func (s *seenSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

func (s *seenSet) Insert(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.index, oldest)
	}
	s.order = append(s.order, id)
	s.index[id] = struct{}{}
	metrics.SeenSetSize.Set(float64(len(s.order)))
}

// ChatHandler is invoked for an accepted chat_message, both for frames
// arriving from peers and for this node's own broadcasts.
type ChatHandler func(env Envelope)

// InviteHandler is invoked for an INVITE envelope addressed to us.
type InviteHandler func(env Envelope)

// Engine runs the gossip protocol over a LinkLayer. It deliberately does
// not hold a Store or CryptoBox reference: decrypting, persisting, and
// surfacing content to the UI is Node's policy (spec separates "normal
// content path" dispatch from what that path actually does), so Engine
// only dispatches to the handlers Node supplies.
type Engine struct {
	self *identity.Identity
	link *linklayer.LinkLayer
	subs *Subscriptions
	seen *seenSet

	onChat   ChatHandler
	onInvite InviteHandler

	canon Canonicalizer
	log   logger.Logger
}

func New(self *identity.Identity, link *linklayer.LinkLayer, subs *Subscriptions, onChat ChatHandler, onInvite InviteHandler) *Engine {
	return &Engine{
		self:     self,
		link:     link,
		subs:     subs,
		seen:     newSeenSet(SeenCapacity),
		onChat:   onChat,
		onInvite: onInvite,
		log:      logger.NewDefaultLogger(),
	}
}

// Sign canonicalizes payload, signs it, and derives msg_id. TTL is left
// unset; callers attach it (Broadcast attaches InitialTTL, forward
// decrements an existing one).
func (e *Engine) Sign(payload Payload) (Envelope, error) {
	canon, err := e.canon.Canonicalize(payload)
	if err != nil {
		return Envelope{}, logger.NewMeshError(logger.ErrInvalidEncoding, "canonicalize payload failed", err)
	}

	sig := e.self.Sign(canon)

	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(now))
	h.Write([]byte(e.self.PublicID()))
	msgID := hex.EncodeToString(h.Sum(nil))[:16]

	return Envelope{
		MsgID:     msgID,
		SenderID:  e.self.PublicID(),
		Signature: hex.EncodeToString(sig),
		Payload:   payload,
	}, nil
}

// Handle processes one inbound frame. Step order is fixed: verify before
// filter, filter before dedup, dedup before dispatch, dispatch before
// forward.
func (e *Engine) Handle(frame linklayer.Frame) (disposition Disposition, reason logger.ErrKind) {
	start := time.Now()
	metrics.EnvelopeSize.Observe(float64(len(frame)))
	defer func() {
		metrics.HandleDuration.Observe(time.Since(start).Seconds())
		metrics.EnvelopesHandled.WithLabelValues(dispositionLabel(disposition)).Inc()
	}()

	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		metrics.EnvelopesDropped.WithLabelValues("bad_encoding").Inc()
		return Dropped, logger.ErrInvalidEncoding
	}

	canon, err := e.canon.Canonicalize(env.Payload)
	if err != nil {
		metrics.EnvelopesDropped.WithLabelValues("bad_encoding").Inc()
		return Dropped, logger.ErrInvalidEncoding
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil || !identity.Verify(canon, sig, env.SenderID) {
		metrics.EnvelopesDropped.WithLabelValues("bad_signature").Inc()
		return Dropped, logger.ErrAuthFailure
	}

	if !e.subs.Has(env.Payload.ChannelID) {
		metrics.EnvelopesDropped.WithLabelValues("not_subscribed").Inc()
		return Dropped, logger.ErrPolicyReject
	}

	if e.seen.Contains(env.MsgID) {
		metrics.EnvelopesDropped.WithLabelValues("duplicate").Inc()
		return Dropped, logger.ErrDuplicate
	}
	e.seen.Insert(env.MsgID)

	e.dispatch(env)

	if !isForwardable(env.Payload.Type) {
		e.log.Debug("dropping unknown payload type, not forwarding", logger.String("type", env.Payload.Type))
		metrics.EnvelopesDropped.WithLabelValues("unknown_type").Inc()
		return Dropped, logger.ErrPolicyReject
	}

	if env.TTL > 0 {
		fwd := env
		fwd.TTL--
		e.forward(fwd)
		return Forwarded, ""
	}
	return Accepted, ""
}

// dispositionLabel renders a Disposition as the "disposition" label value
// used by the envelopes_handled_total counter.
func dispositionLabel(d Disposition) string {
	switch d {
	case Forwarded:
		return "forwarded"
	case Dropped:
		return "dropped"
	default:
		return "accepted"
	}
}

// isForwardable reports whether a payload type participates in flood-fill
// relaying. Anything else is logged by dispatch and dropped here instead
// of being forwarded on.
func isForwardable(payloadType string) bool {
	switch payloadType {
	case TypeChatMessage, TypeHello, TypeInvite:
		return true
	default:
		return false
	}
}

func (e *Engine) dispatch(env Envelope) {
	switch env.Payload.Type {
	case TypeChatMessage:
		if e.onChat != nil {
			e.onChat(env)
		}
	case TypeHello:
		// noted, not persisted, not surfaced
	case TypeInvite:
		if env.Payload.TargetNodeID == e.self.PublicID() && e.onInvite != nil {
			e.onInvite(env)
		}
	default:
		e.log.Debug("unhandled payload type", logger.String("type", env.Payload.Type))
	}
}

// forward re-sends env unchanged except for the already-decremented TTL:
// no re-signing, no field reordering, content and signature untouched.
func (e *Engine) forward(env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	var frame linklayer.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	e.link.Broadcast(frame)
}

// Broadcast signs payload, seeds seen before any network send to block
// self-echo, delivers locally, and ships to every linked peer.
func (e *Engine) Broadcast(payload Payload) (string, error) {
	env, err := e.Sign(payload)
	if err != nil {
		return "", err
	}
	env.TTL = InitialTTL

	e.seen.Insert(env.MsgID)

	e.dispatch(env)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", logger.NewMeshError(logger.ErrInvalidEncoding, "marshal envelope failed", err)
	}
	var frame linklayer.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return "", logger.NewMeshError(logger.ErrInvalidEncoding, "marshal envelope failed", err)
	}
	if e.link != nil {
		e.link.Broadcast(frame)
	}
	metrics.EnvelopesBroadcast.WithLabelValues(payload.Type).Inc()

	return env.MsgID, nil
}
