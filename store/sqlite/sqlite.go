// Package sqlite implements store.Store on a single embedded SQLite file,
// satisfying the spec's "single-file and recoverable across restarts"
// requirement for the default deployment.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chatmesh/node/internal/logger"
	"github.com/chatmesh/node/internal/metrics"
	"github.com/chatmesh/node/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
  channel_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  owner_node_id TEXT,
  created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS channel_members (
  channel_id TEXT NOT NULL,
  node_id TEXT NOT NULL,
  role TEXT NOT NULL,
  joined_at TEXT NOT NULL,
  PRIMARY KEY (channel_id, node_id)
);
CREATE TABLE IF NOT EXISTS messages (
  msg_id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  sender_id TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  content TEXT NOT NULL,
  signature TEXT NOT NULL,
  is_encrypted INTEGER NOT NULL,
  nonce TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, timestamp DESC);
`

// Store is a SQLite-backed store.Store. database/sql already serializes
// writes against a single *sql.DB; a single connection is kept open to
// avoid SQLITE_BUSY across concurrent writers on one file.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and runs the
// idempotent schema migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to open sqlite store", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to migrate sqlite schema", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutChannel(ctx context.Context, ch store.Channel) error {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("put_channel").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (channel_id, name, type, owner_node_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`, ch.ChannelID, ch.Name, string(ch.Type), ch.OwnerNodeID, ch.CreatedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put_channel").Inc()
		return logger.NewMeshError(logger.ErrStorageFailure, "put channel failed", err)
	}
	return nil
}

func (s *Store) PutMember(ctx context.Context, m store.Member) error {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("put_member").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, node_id, role, joined_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(channel_id, node_id) DO NOTHING
	`, m.ChannelID, m.NodeID, string(m.Role), m.JoinedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put_member").Inc()
		return logger.NewMeshError(logger.ErrStorageFailure, "put member failed", err)
	}
	return nil
}

func (s *Store) PutMessage(ctx context.Context, msg store.Message) (bool, error) {
	start := time.Now()
	visibility := "public"
	if msg.IsEncrypted {
		visibility = "private"
	}
	defer func() { metrics.StoreOperationDuration.WithLabelValues("put_message").Observe(time.Since(start).Seconds()) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO NOTHING
	`, msg.MsgID, msg.ChannelID, msg.SenderID, msg.Timestamp, msg.Content, msg.Signature, boolToInt(msg.IsEncrypted), msg.Nonce, msg.CreatedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put_message").Inc()
		metrics.MessagesPersisted.WithLabelValues(visibility, "failure").Inc()
		return false, logger.NewMeshError(logger.ErrStorageFailure, "put message failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("put_message").Inc()
		metrics.MessagesPersisted.WithLabelValues(visibility, "failure").Inc()
		return false, logger.NewMeshError(logger.ErrStorageFailure, "put message rows affected failed", err)
	}
	if n > 0 {
		metrics.MessagesPersisted.WithLabelValues(visibility, "inserted").Inc()
	} else {
		metrics.MessagesPersisted.WithLabelValues(visibility, "duplicate").Inc()
	}
	return n > 0, nil
}

func (s *Store) Channel(ctx context.Context, channelID string) (store.Channel, bool, error) {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("channel").Observe(time.Since(start).Seconds()) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT channel_id, name, type, owner_node_id, created_at FROM channels WHERE channel_id = ?
	`, channelID)

	var ch store.Channel
	var chType, owner string
	if err := row.Scan(&ch.ChannelID, &ch.Name, &chType, &owner, &ch.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return store.Channel{}, false, nil
		}
		metrics.StoreErrors.WithLabelValues("channel").Inc()
		return store.Channel{}, false, logger.NewMeshError(logger.ErrStorageFailure, "get channel failed", err)
	}
	ch.Type = store.ChannelType(chType)
	ch.OwnerNodeID = owner
	return ch, true, nil
}

func (s *Store) Members(ctx context.Context, channelID string) ([]store.Member, error) {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("members").Observe(time.Since(start).Seconds()) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, node_id, role, joined_at FROM channel_members WHERE channel_id = ?
	`, channelID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("members").Inc()
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "list members failed", err)
	}
	defer rows.Close()

	var out []store.Member
	for rows.Next() {
		var m store.Member
		var role string
		if err := rows.Scan(&m.ChannelID, &m.NodeID, &role, &m.JoinedAt); err != nil {
			return nil, logger.NewMeshError(logger.ErrStorageFailure, "scan member failed", err)
		}
		m.Role = store.MemberRole(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Recent(ctx context.Context, channelID string, n int) ([]store.Message, error) {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("recent").Observe(time.Since(start).Seconds()) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at
		FROM messages WHERE channel_id = ? ORDER BY timestamp DESC LIMIT ?
	`, channelID, n)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("recent").Inc()
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "recent messages failed", err)
	}
	defer rows.Close()

	var newestFirst []store.Message
	for rows.Next() {
		var m store.Message
		var enc int
		var nonce sql.NullString
		if err := rows.Scan(&m.MsgID, &m.ChannelID, &m.SenderID, &m.Timestamp, &m.Content, &m.Signature, &enc, &nonce, &m.CreatedAt); err != nil {
			return nil, logger.NewMeshError(logger.ErrStorageFailure, "scan message failed", err)
		}
		m.IsEncrypted = enc != 0
		m.Nonce = nonce.String
		newestFirst = append(newestFirst, m)
	}
	if err := rows.Err(); err != nil {
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "iterate messages failed", err)
	}

	oldestFirst := make([]store.Message, len(newestFirst))
	for i, m := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = m
	}
	return oldestFirst, nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	start := time.Now()
	defer func() { metrics.StoreOperationDuration.WithLabelValues("stats").Observe(time.Since(start).Seconds()) }()

	var st store.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&st.Channels); err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats channels failed", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_members`).Scan(&st.Members); err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats members failed", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		metrics.StoreErrors.WithLabelValues("stats").Inc()
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats messages failed", err)
	}
	metrics.ChannelsActive.Set(float64(st.Channels))
	return st, nil
}

func (s *Store) Export(ctx context.Context, channelID string) (store.ExportSet, error) {
	var set store.ExportSet
	set.BatchID = uuid.NewString()

	chanRows, err := s.queryChannels(ctx, channelID)
	if err != nil {
		return store.ExportSet{}, err
	}
	set.Channels = chanRows

	for _, ch := range chanRows {
		members, err := s.Members(ctx, ch.ChannelID)
		if err != nil {
			return store.ExportSet{}, err
		}
		set.Members = append(set.Members, members...)

		msgs, err := s.allMessages(ctx, ch.ChannelID)
		if err != nil {
			return store.ExportSet{}, err
		}
		set.Messages = append(set.Messages, msgs...)
	}
	return set, nil
}

func (s *Store) queryChannels(ctx context.Context, channelID string) ([]store.Channel, error) {
	query := `SELECT channel_id, name, type, owner_node_id, created_at FROM channels`
	args := []interface{}{}
	if channelID != "" {
		query += ` WHERE channel_id = ?`
		args = append(args, channelID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "export channels failed", err)
	}
	defer rows.Close()

	var out []store.Channel
	for rows.Next() {
		var ch store.Channel
		var chType, owner string
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &chType, &owner, &ch.CreatedAt); err != nil {
			return nil, logger.NewMeshError(logger.ErrStorageFailure, "scan export channel failed", err)
		}
		ch.Type = store.ChannelType(chType)
		ch.OwnerNodeID = owner
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) allMessages(ctx context.Context, channelID string) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at
		FROM messages WHERE channel_id = ? ORDER BY timestamp ASC
	`, channelID)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "export messages failed", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var enc int
		var nonce sql.NullString
		if err := rows.Scan(&m.MsgID, &m.ChannelID, &m.SenderID, &m.Timestamp, &m.Content, &m.Signature, &enc, &nonce, &m.CreatedAt); err != nil {
			return nil, logger.NewMeshError(logger.ErrStorageFailure, "scan export message failed", err)
		}
		m.IsEncrypted = enc != 0
		m.Nonce = nonce.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Import(ctx context.Context, set store.ExportSet) error {
	logger.GetDefaultLogger().Info("importing export batch",
		logger.String("batch_id", set.BatchID),
		logger.Int("channels", len(set.Channels)),
		logger.Int("messages", len(set.Messages)),
	)
	for _, ch := range set.Channels {
		if err := s.PutChannel(ctx, ch); err != nil {
			return err
		}
	}
	for _, m := range set.Members {
		if err := s.PutMember(ctx, m); err != nil {
			return err
		}
	}
	for _, msg := range set.Messages {
		if _, err := s.PutMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ store.Store = (*Store)(nil)
