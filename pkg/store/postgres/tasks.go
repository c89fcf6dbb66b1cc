package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/northstar-hq/northstar/pkg/store"
)

const defaultListLimit = 50

// CreateTask implements [store.TaskStore].
func (s *Store) CreateTask(ctx context.Context, task store.Task) error {
	const q = `
		INSERT INTO tasks (id, title, notes, status, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		task.ID,
		task.Title,
		task.Notes,
		task.Status,
		task.DueAt,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("task store: create task: %w", err)
	}
	return nil
}

// CompleteTask implements [store.TaskStore]. It marks the task done and
// returns the updated record; completing an unknown task is an error.
func (s *Store) CompleteTask(ctx context.Context, id string) (*store.Task, error) {
	const q = `
		UPDATE tasks
		SET    status = 'done', completed_at = now()
		WHERE  id = $1
		RETURNING id, title, notes, status, due_at, created_at, completed_at`

	var t store.Task
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.Title, &t.Notes, &t.Status, &t.DueAt, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("task store: task %q not found", id)
		}
		return nil, fmt.Errorf("task store: complete task: %w", err)
	}
	return &t, nil
}

// ListTasks implements [store.TaskStore]. Tasks are returned newest first.
func (s *Store) ListTasks(ctx context.Context, status string, limit int) ([]store.Task, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `
		SELECT id, title, notes, status, due_at, created_at, completed_at
		FROM   tasks`
	args := []any{}
	if status != "" {
		q += `
		WHERE  status = $1`
		args = append(args, status)
	}
	q += fmt.Sprintf(`
		ORDER  BY created_at DESC
		LIMIT  $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("task store: list tasks: %w", err)
	}

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Task, error) {
		var t store.Task
		err := row.Scan(&t.ID, &t.Title, &t.Notes, &t.Status, &t.DueAt, &t.CreatedAt, &t.CompletedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("task store: scan rows: %w", err)
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return tasks, nil
}
