package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT         PRIMARY KEY,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
    id               TEXT         PRIMARY KEY,
    conversation_id  TEXT         NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    role             TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages (conversation_id, created_at);
`

// PostgresStore is a PostgreSQL-backed memory store. All methods are safe
// for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ MemoryStore = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, verifies the connection and creates
// the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("memory store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("memory store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// AddMessage appends a message, creating the conversation if needed.
func (s *PostgresStore) AddMessage(ctx context.Context, conversationID, role, content string) error {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsert = `
		INSERT INTO conversations (id, created_at, updated_at) VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, conversationID, now); err != nil {
		return fmt.Errorf("memory store: upsert conversation: %w", err)
	}

	const insert = `
		INSERT INTO messages (id, conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, insert, newMessageID(), conversationID, role, content, now); err != nil {
		return fmt.Errorf("memory store: insert message: %w", err)
	}

	return tx.Commit(ctx)
}

// History returns the conversation's messages oldest first.
func (s *PostgresStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	const q = `
		SELECT id, conversation_id, role, content, created_at
		FROM   messages
		WHERE  conversation_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("memory store: history: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan history: %w", err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Conversation returns the conversation with its messages, or nil.
func (s *PostgresStore) Conversation(ctx context.Context, id string) (*Conversation, error) {
	const q = `SELECT id, created_at, updated_at FROM conversations WHERE id = $1`

	var conv Conversation
	err := s.pool.QueryRow(ctx, q, id).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory store: get conversation: %w", err)
	}

	conv.Messages, err = s.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns conversations newest first with their latest
// message.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	const q = `
		SELECT c.id, c.created_at, c.updated_at,
		       m.id, m.role, m.content, m.created_at
		FROM   conversations c
		LEFT   JOIN LATERAL (
		           SELECT id, role, content, created_at
		           FROM   messages
		           WHERE  conversation_id = c.id
		           ORDER  BY created_at DESC, id DESC
		           LIMIT  1
		       ) m ON true
		ORDER  BY c.updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("memory store: list conversations: %w", err)
	}
	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		var (
			conv                 Conversation
			msgID, role, content *string
			msgCreated           *time.Time
		)
		if err := row.Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt, &msgID, &role, &content, &msgCreated); err != nil {
			return conv, err
		}
		if msgID != nil {
			conv.Messages = []Message{{
				ID:             *msgID,
				ConversationID: conv.ID,
				Role:           deref(role),
				Content:        deref(content),
			}}
			if msgCreated != nil {
				conv.Messages[0].CreatedAt = *msgCreated
			}
		}
		return conv, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan conversations: %w", err)
	}
	if convs == nil {
		convs = []Conversation{}
	}
	return convs, nil
}

// DeleteConversation removes the conversation's messages, then the
// conversation itself.
func (s *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("memory store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("memory store: delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("memory store: delete conversation: %w", err)
	}
	return tx.Commit(ctx)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
