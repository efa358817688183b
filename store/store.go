// Package store defines the durable channel/membership/message relations
// shared by every persistence backend (sqlite, postgres).
package store

import "context"

// ChannelType distinguishes public channels from key-gated private ones.
type ChannelType string

const (
	ChannelPublic  ChannelType = "public"
	ChannelPrivate ChannelType = "private"
)

// MemberRole distinguishes the channel owner (the only principal allowed
// to mint invites) from ordinary members.
type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
)

// Channel is a persisted row of the channels relation.
type Channel struct {
	ChannelID   string
	Name        string
	Type        ChannelType
	OwnerNodeID string
	CreatedAt   string
}

// Member is a persisted row of the channel_members relation.
type Member struct {
	ChannelID string
	NodeID    string
	Role      MemberRole
	JoinedAt  string
}

// Message is a persisted row of the messages relation. For private
// channels Content holds ciphertext and IsEncrypted is true.
type Message struct {
	MsgID       string
	ChannelID   string
	SenderID    string
	Timestamp   string
	Content     string
	Signature   string
	IsEncrypted bool
	Nonce       string
	CreatedAt   string
}

// Stats summarizes the store's current contents.
type Stats struct {
	Channels int64
	Members  int64
	Messages int64
}

// ExportSet is the full cross-table export of a store, or of a single
// channel's slice of it when Export is given a non-empty channelID. BatchID is a
// non-cryptographic correlation id minted fresh on every Export call, so
// operators can match an export file back to the log line that produced
// it; it carries no meaning on Import beyond being logged.
type ExportSet struct {
	BatchID  string
	Channels []Channel
	Members  []Member
	Messages []Message
}

// Store is the durable relational backend for channels, memberships, and
// messages. All methods must tolerate concurrent callers: writes are
// serialized by the backend, reads may proceed with whatever consistency
// the backend offers.
type Store interface {
	// PutChannel inserts or no-ops if channel_id already exists.
	PutChannel(ctx context.Context, ch Channel) error
	// PutMember inserts or no-ops if (channel_id, node_id) already exists.
	PutMember(ctx context.Context, m Member) error
	// PutMessage is idempotent on msg_id; returns whether a row was
	// actually inserted (false means a duplicate was silently ignored).
	PutMessage(ctx context.Context, msg Message) (inserted bool, err error)

	// Channel fetches a single channel by id, or (Channel{}, false, nil)
	// if it does not exist.
	Channel(ctx context.Context, channelID string) (Channel, bool, error)
	// Members lists all members of a channel.
	Members(ctx context.Context, channelID string) ([]Member, error)
	// Recent returns the n most recent messages of a channel, oldest-first.
	Recent(ctx context.Context, channelID string, n int) ([]Message, error)

	Stats(ctx context.Context) (Stats, error)
	// Export returns every relation, or only the rows touching channelID
	// when channelID is non-empty.
	Export(ctx context.Context, channelID string) (ExportSet, error)
	// Import re-inserts an exported set idempotently (duplicate
	// channels/members/messages are no-ops, matching Put* semantics).
	Import(ctx context.Context, set ExportSet) error

	Close() error
}
