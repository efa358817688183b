// Package postgres implements store.Store on a networked PostgreSQL
// database, for deployments that outgrow the single-file sqlite default.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatmesh/node/internal/logger"
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
  is_encrypted BOOLEAN NOT NULL,
  nonce TEXT,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_ts ON messages(channel_id, timestamp DESC);
`

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and runs the idempotent schema migration.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	return OpenDSN(ctx, connString)
}

// OpenDSN connects using a pgx-style connection string or URL directly,
// for callers (config.StoreConfig.DSN) that already carry one instead of
// discrete fields.
func OpenDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to ping database", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, logger.NewMeshError(logger.ErrFatalStartup, "failed to migrate schema", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) PutChannel(ctx context.Context, ch store.Channel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channels (channel_id, name, type, owner_node_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel_id) DO NOTHING
	`, ch.ChannelID, ch.Name, string(ch.Type), ch.OwnerNodeID, ch.CreatedAt)
	if err != nil {
		return logger.NewMeshError(logger.ErrStorageFailure, "put channel failed", err)
	}
	return nil
}

func (s *Store) PutMember(ctx context.Context, m store.Member) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_members (channel_id, node_id, role, joined_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, node_id) DO NOTHING
	`, m.ChannelID, m.NodeID, string(m.Role), m.JoinedAt)
	if err != nil {
		return logger.NewMeshError(logger.ErrStorageFailure, "put member failed", err)
	}
	return nil
}

func (s *Store) PutMessage(ctx context.Context, msg store.Message) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (msg_id) DO NOTHING
	`, msg.MsgID, msg.ChannelID, msg.SenderID, msg.Timestamp, msg.Content, msg.Signature, msg.IsEncrypted, msg.Nonce, msg.CreatedAt)
	if err != nil {
		return false, logger.NewMeshError(logger.ErrStorageFailure, "put message failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Channel(ctx context.Context, channelID string) (store.Channel, bool, error) {
	var ch store.Channel
	var chType, owner string
	err := s.pool.QueryRow(ctx, `
		SELECT channel_id, name, type, owner_node_id, created_at FROM channels WHERE channel_id = $1
	`, channelID).Scan(&ch.ChannelID, &ch.Name, &chType, &owner, &ch.CreatedAt)
	if err == pgx.ErrNoRows {
		return store.Channel{}, false, nil
	}
	if err != nil {
		return store.Channel{}, false, logger.NewMeshError(logger.ErrStorageFailure, "get channel failed", err)
	}
	ch.Type = store.ChannelType(chType)
	ch.OwnerNodeID = owner
	return ch, true, nil
}

func (s *Store) Members(ctx context.Context, channelID string) ([]store.Member, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, node_id, role, joined_at FROM channel_members WHERE channel_id = $1
	`, channelID)
	if err != nil {
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
	rows, err := s.pool.Query(ctx, `
		SELECT msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at
		FROM messages WHERE channel_id = $1 ORDER BY timestamp DESC LIMIT $2
	`, channelID, n)
	if err != nil {
		return nil, logger.NewMeshError(logger.ErrStorageFailure, "recent messages failed", err)
	}
	defer rows.Close()

	var newestFirst []store.Message
	for rows.Next() {
		var m store.Message
		var nonce *string
		if err := rows.Scan(&m.MsgID, &m.ChannelID, &m.SenderID, &m.Timestamp, &m.Content, &m.Signature, &m.IsEncrypted, &nonce, &m.CreatedAt); err != nil {
			return nil, logger.NewMeshError(logger.ErrStorageFailure, "scan message failed", err)
		}
		if nonce != nil {
			m.Nonce = *nonce
		}
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
	var st store.Stats
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channels`).Scan(&st.Channels); err != nil {
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats channels failed", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM channel_members`).Scan(&st.Members); err != nil {
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats members failed", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return store.Stats{}, logger.NewMeshError(logger.ErrStorageFailure, "stats messages failed", err)
	}
	return st, nil
}

func (s *Store) Export(ctx context.Context, channelID string) (store.ExportSet, error) {
	var set store.ExportSet
	set.BatchID = uuid.NewString()

	query := `SELECT channel_id, name, type, owner_node_id, created_at FROM channels`
	var rows pgx.Rows
	var err error
	if channelID != "" {
		rows, err = s.pool.Query(ctx, query+` WHERE channel_id = $1`, channelID)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "export channels failed", err)
	}
	var channels []store.Channel
	for rows.Next() {
		var ch store.Channel
		var chType, owner string
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &chType, &owner, &ch.CreatedAt); err != nil {
			rows.Close()
			return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "scan export channel failed", err)
		}
		ch.Type = store.ChannelType(chType)
		ch.OwnerNodeID = owner
		channels = append(channels, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "iterate export channels failed", err)
	}
	set.Channels = channels

	for _, ch := range channels {
		members, err := s.Members(ctx, ch.ChannelID)
		if err != nil {
			return store.ExportSet{}, err
		}
		set.Members = append(set.Members, members...)

		msgRows, err := s.pool.Query(ctx, `
			SELECT msg_id, channel_id, sender_id, timestamp, content, signature, is_encrypted, nonce, created_at
			FROM messages WHERE channel_id = $1 ORDER BY timestamp ASC
		`, ch.ChannelID)
		if err != nil {
			return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "export messages failed", err)
		}
		for msgRows.Next() {
			var m store.Message
			var nonce *string
			if err := msgRows.Scan(&m.MsgID, &m.ChannelID, &m.SenderID, &m.Timestamp, &m.Content, &m.Signature, &m.IsEncrypted, &nonce, &m.CreatedAt); err != nil {
				msgRows.Close()
				return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "scan export message failed", err)
			}
			if nonce != nil {
				m.Nonce = *nonce
			}
			set.Messages = append(set.Messages, m)
		}
		msgRows.Close()
		if err := msgRows.Err(); err != nil {
			return store.ExportSet{}, logger.NewMeshError(logger.ErrStorageFailure, "iterate export messages failed", err)
		}
	}
	return set, nil
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

var _ store.Store = (*Store)(nil)
