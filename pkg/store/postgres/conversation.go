package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

// AppendMessage implements [store.ConversationStore]. Messages are append-only;
// the assigned ID and timestamp are returned in the stored record.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg types.Message) (*store.StoredMessage, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("conversation store: sessionID must not be empty")
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO messages (id, session_id, role, content, name, tool_calls, tool_call_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	toolCalls := msg.ToolCalls
	if toolCalls == nil {
		toolCalls = []types.ToolCall{}
	}

	var createdAt time.Time
	err := s.pool.QueryRow(ctx, q,
		id,
		sessionID,
		msg.Role,
		msg.Content,
		msg.Name,
		toolCalls,
		msg.ToolCallID,
	).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("conversation store: append message: %w", err)
	}

	return &store.StoredMessage{
		ID:        id,
		SessionID: sessionID,
		Message:   msg,
		CreatedAt: createdAt,
	}, nil
}

// ReadRecent implements [store.ConversationStore]. It returns the last n
// messages of the session in chronological order (oldest first).
func (s *Store) ReadRecent(ctx context.Context, sessionID string, n int) ([]store.StoredMessage, error) {
	const q = `
		SELECT id, session_id, role, content, name, tool_calls, tool_call_id, created_at
		FROM (
			SELECT seq, id, session_id, role, content, name, tool_calls, tool_call_id, created_at
			FROM   messages
			WHERE  session_id = $1
			ORDER  BY seq DESC
			LIMIT  $2
		) recent
		ORDER BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("conversation store: read recent: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.StoredMessage, error) {
		var m store.StoredMessage
		if err := row.Scan(
			&m.ID,
			&m.SessionID,
			&m.Message.Role,
			&m.Message.Content,
			&m.Message.Name,
			&m.Message.ToolCalls,
			&m.Message.ToolCallID,
			&m.CreatedAt,
		); err != nil {
			return store.StoredMessage{}, err
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store: scan rows: %w", err)
	}
	if messages == nil {
		messages = []store.StoredMessage{}
	}
	return messages, nil
}
