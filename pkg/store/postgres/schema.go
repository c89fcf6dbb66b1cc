// Package postgres provides the PostgreSQL-backed implementation of the
// northstar store interfaces: conversation log, audit log, session usage, and
// the task/trade/document domain stores.
//
// All stores share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	_, _ = st.AppendMessage(ctx, sessionID, msg)
//	_ = st.AppendAction(ctx, action)
//	results, _ := st.SearchText(ctx, "quarterly planning", 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Conversation log
// ─────────────────────────────────────────────────────────────────────────────

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    seq          BIGSERIAL    PRIMARY KEY,
    id           TEXT         NOT NULL UNIQUE,
    session_id   TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    content      TEXT         NOT NULL DEFAULT '',
    name         TEXT         NOT NULL DEFAULT '',
    tool_calls   JSONB        NOT NULL DEFAULT '[]',
    tool_call_id TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_id
    ON messages (session_id);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq
    ON messages (session_id, seq);
`

// ─────────────────────────────────────────────────────────────────────────────
// Audit log + session usage
// ─────────────────────────────────────────────────────────────────────────────

const ddlAudit = `
CREATE TABLE IF NOT EXISTS actions (
    seq           BIGSERIAL    PRIMARY KEY,
    id            TEXT         NOT NULL UNIQUE,
    session_id    TEXT         NOT NULL,
    action        TEXT         NOT NULL,
    entity_type   TEXT         NOT NULL DEFAULT '',
    entity_id     TEXT         NOT NULL DEFAULT '',
    parameters    TEXT         NOT NULL DEFAULT '',
    outcome       TEXT         NOT NULL,
    error_message TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_actions_session_id
    ON actions (session_id);

CREATE TABLE IF NOT EXISTS session_usage (
    session_id        TEXT         PRIMARY KEY,
    model             TEXT         NOT NULL DEFAULT '',
    prompt_tokens     BIGINT       NOT NULL DEFAULT 0,
    completion_tokens BIGINT       NOT NULL DEFAULT 0,
    total_tokens      BIGINT       NOT NULL DEFAULT 0,
    turns             BIGINT       NOT NULL DEFAULT 0,
    updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Domain stores — tasks, trades
// ─────────────────────────────────────────────────────────────────────────────

const ddlDomain = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT         PRIMARY KEY,
    title        TEXT         NOT NULL,
    notes        TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL DEFAULT 'open',
    due_at       TIMESTAMPTZ,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);

CREATE TABLE IF NOT EXISTS trades (
    id          TEXT              PRIMARY KEY,
    symbol      TEXT              NOT NULL,
    side        TEXT              NOT NULL,
    quantity    DOUBLE PRECISION  NOT NULL,
    price       DOUBLE PRECISION  NOT NULL,
    fees        DOUBLE PRECISION  NOT NULL DEFAULT 0,
    notes       TEXT              NOT NULL DEFAULT '',
    executed_at TIMESTAMPTZ       NOT NULL,
    created_at  TIMESTAMPTZ       NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol);
`

// ddlDocuments returns the documents DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlDocuments(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
    id         TEXT         PRIMARY KEY,
    title      TEXT         NOT NULL,
    content    TEXT         NOT NULL DEFAULT '',
    embedding  vector(%d),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_fts
    ON documents USING GIN (to_tsvector('english', title || ' ' || content));

CREATE INDEX IF NOT EXISTS idx_documents_embedding
    ON documents USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMessages,
		ddlAudit,
		ddlDomain,
		ddlDocuments(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
