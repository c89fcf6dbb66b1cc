package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

// createTaskArgs is the JSON-decoded input for the "create_task" tool.
type createTaskArgs struct {
	// Title is the short task summary. Required.
	Title string `json:"title"`

	// Notes holds optional free-form detail.
	Notes string `json:"notes"`

	// DueAt is an optional RFC 3339 due date.
	DueAt string `json:"due_at"`
}

// completeTaskArgs is the JSON-decoded input for the "complete_task" tool.
type completeTaskArgs struct {
	// ID identifies the task to mark done. Required.
	ID string `json:"id"`
}

// listTasksArgs is the JSON-decoded input for the "list_tasks" tool.
type listTasksArgs struct {
	// Status filters tasks by "open" or "done". Empty means all.
	Status string `json:"status"`

	// Limit caps the number of returned tasks. Defaults to 20.
	Limit int `json:"limit"`
}

// TaskTools returns the task management tool set backed by ts.
func TaskTools(ts store.TaskStore) []Tool {
	return []Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "create_task",
				Description: "Create a new task with a title, optional notes and an optional RFC 3339 due date.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":  map[string]any{"type": "string", "description": "Short task summary"},
						"notes":  map[string]any{"type": "string", "description": "Free-form detail"},
						"due_at": map[string]any{"type": "string", "description": "Due date in RFC 3339 format"},
					},
					"required": []string{"title"},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return createTask(ctx, ts, args)
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "complete_task",
				Description: "Mark an existing task as done by its id.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{"type": "string", "description": "Task id"},
					},
					"required": []string{"id"},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return completeTask(ctx, ts, args)
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "list_tasks",
				Description: "List tasks, optionally filtered by status (open or done).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"status": map[string]any{"type": "string", "enum": []string{"open", "done"}},
						"limit":  map[string]any{"type": "integer", "description": "Maximum number of tasks to return"},
					},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return listTasks(ctx, ts, args)
			},
		},
	}
}

func createTask(ctx context.Context, ts store.TaskStore, args string) (string, *types.AgentAction, error) {
	var in createTaskArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", nil, fmt.Errorf("tools: invalid create_task args: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" {
		return "", nil, fmt.Errorf("tools: create_task requires a non-empty title")
	}

	task := store.Task{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Notes:     in.Notes,
		Status:    store.TaskStatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if in.DueAt != "" {
		due, err := time.Parse(time.RFC3339, in.DueAt)
		if err != nil {
			return "", nil, fmt.Errorf("tools: create_task due_at must be RFC 3339: %w", err)
		}
		task.DueAt = &due
	}

	if err := ts.CreateTask(ctx, task); err != nil {
		return "", nil, fmt.Errorf("tools: create_task: %w", err)
	}

	action := &types.AgentAction{
		Action:     "create_task",
		EntityType: "task",
		EntityID:   task.ID,
		Parameters: args,
	}
	return fmt.Sprintf("Created task %q with id %s.", task.Title, task.ID), action, nil
}

func completeTask(ctx context.Context, ts store.TaskStore, args string) (string, *types.AgentAction, error) {
	var in completeTaskArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", nil, fmt.Errorf("tools: invalid complete_task args: %w", err)
	}
	if in.ID == "" {
		return "", nil, fmt.Errorf("tools: complete_task requires an id")
	}

	task, err := ts.CompleteTask(ctx, in.ID)
	if err != nil {
		return "", nil, fmt.Errorf("tools: complete_task: %w", err)
	}

	action := &types.AgentAction{
		Action:     "complete_task",
		EntityType: "task",
		EntityID:   task.ID,
		Parameters: args,
	}
	return fmt.Sprintf("Marked task %q as done.", task.Title), action, nil
}

func listTasks(ctx context.Context, ts store.TaskStore, args string) (string, *types.AgentAction, error) {
	in := listTasksArgs{Limit: 20}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", nil, fmt.Errorf("tools: invalid list_tasks args: %w", err)
		}
	}
	if in.Limit <= 0 {
		in.Limit = 20
	}

	tasks, err := ts.ListTasks(ctx, in.Status, in.Limit)
	if err != nil {
		return "", nil, fmt.Errorf("tools: list_tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "No tasks found.", nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d task(s):\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- [%s] %s (id %s", t.Status, t.Title, t.ID)
		if t.DueAt != nil {
			fmt.Fprintf(&sb, ", due %s", t.DueAt.Format(time.RFC3339))
		}
		sb.WriteString(")\n")
	}
	return sb.String(), nil, nil
}
