package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

// isNoRows reports whether err is the pgx no-rows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// AppendAction implements [store.AuditStore]. When the action carries no ID a
// fresh UUID is assigned; a zero CreatedAt defers to the database clock.
func (s *Store) AppendAction(ctx context.Context, action types.AgentAction) error {
	id := action.ID
	if id == "" {
		id = uuid.NewString()
	}

	const q = `
		INSERT INTO actions
		    (id, session_id, action, entity_type, entity_id, parameters, outcome, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	createdAt := action.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, q,
		id,
		action.SessionID,
		action.Action,
		action.EntityType,
		action.EntityID,
		action.Parameters,
		string(action.Outcome),
		action.ErrorMessage,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("audit store: append action: %w", err)
	}
	return nil
}

// RecordUsage implements [store.UsageStore]. The turn's counts are added to
// the session's cumulative counters, creating the row when absent.
func (s *Store) RecordUsage(ctx context.Context, usage store.SessionUsage) error {
	const q = `
		INSERT INTO session_usage
		    (session_id, model, prompt_tokens, completion_tokens, total_tokens, turns, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (session_id) DO UPDATE SET
		    model             = EXCLUDED.model,
		    prompt_tokens     = session_usage.prompt_tokens     + EXCLUDED.prompt_tokens,
		    completion_tokens = session_usage.completion_tokens + EXCLUDED.completion_tokens,
		    total_tokens      = session_usage.total_tokens      + EXCLUDED.total_tokens,
		    turns             = session_usage.turns             + EXCLUDED.turns,
		    updated_at        = now()`

	_, err := s.pool.Exec(ctx, q,
		usage.SessionID,
		usage.Model,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.TotalTokens,
		usage.Turns,
	)
	if err != nil {
		return fmt.Errorf("usage store: record usage: %w", err)
	}
	return nil
}

// GetUsage implements [store.UsageStore]. Returns (nil, nil) when the session
// has no recorded usage.
func (s *Store) GetUsage(ctx context.Context, sessionID string) (*store.SessionUsage, error) {
	const q = `
		SELECT session_id, model, prompt_tokens, completion_tokens, total_tokens, turns, updated_at
		FROM   session_usage
		WHERE  session_id = $1`

	var u store.SessionUsage
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&u.SessionID,
		&u.Model,
		&u.PromptTokens,
		&u.CompletionTokens,
		&u.TotalTokens,
		&u.Turns,
		&u.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("usage store: get usage: %w", err)
	}
	return &u, nil
}
