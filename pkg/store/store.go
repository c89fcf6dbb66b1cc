// Package store defines the persistence interfaces the orchestration core
// depends on: the append-only conversation log, the side-effect audit log,
// per-session usage metadata, and the domain stores the built-in tools act on
// (tasks, trades, documents).
//
// The core only ever issues single request-scoped calls against these
// interfaces; it never holds long-lived locks or caches store state between
// requests. All interfaces are public so external packages can supply
// alternative backends (PostgreSQL, in-memory, …) without depending on
// northstar internals.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/northstar-hq/northstar/pkg/types"
)

// StoredMessage is one persisted conversation message with its storage
// metadata. Messages are append-only: once written they are never mutated.
type StoredMessage struct {
	// ID is the unique identifier assigned at append time.
	ID string

	// SessionID is the conversation this message belongs to.
	SessionID string

	// Message is the conversation payload (role, content, tool calls).
	Message types.Message

	// CreatedAt is when the message was appended.
	CreatedAt time.Time
}

// SessionUsage accumulates token and model usage for one session. Updated
// after each successful agent turn; best-effort relative to the user-visible
// answer.
type SessionUsage struct {
	// SessionID identifies the session this usage belongs to.
	SessionID string

	// Model is the model that served the most recent turn.
	Model string

	// PromptTokens, CompletionTokens, and TotalTokens are cumulative counts
	// across all turns of the session.
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// Turns is the number of completed agent turns.
	Turns int

	// UpdatedAt is when the usage row was last written.
	UpdatedAt time.Time
}

// Task is one entry in the personal task tracker.
type Task struct {
	// ID is the unique task identifier.
	ID string

	// Title is the short task summary.
	Title string

	// Notes holds free-form detail text.
	Notes string

	// Status is "open" or "done".
	Status string

	// DueAt is the optional due date. Nil when the task has no deadline.
	DueAt *time.Time

	// CreatedAt is when the task was created.
	CreatedAt time.Time

	// CompletedAt is when the task was marked done. Nil while open.
	CompletedAt *time.Time
}

// Task status values.
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// Trade is one entry in the trading journal.
type Trade struct {
	// ID is the unique trade identifier.
	ID string

	// Symbol is the traded instrument, e.g. "NVDA".
	Symbol string

	// Side is "buy" or "sell".
	Side string

	// Quantity is the number of units traded.
	Quantity float64

	// Price is the per-unit execution price.
	Price float64

	// Fees is the total fees paid for the execution.
	Fees float64

	// Notes holds the journal commentary for this trade.
	Notes string

	// ExecutedAt is when the trade was executed.
	ExecutedAt time.Time

	// CreatedAt is when the journal entry was written.
	CreatedAt time.Time
}

// Trade side values.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// Document is a stored note or document, optionally carrying a pre-computed
// embedding for semantic search. The embedding dimension must match the store
// configuration.
type Document struct {
	// ID is the unique document identifier.
	ID string

	// Title is the document title.
	Title string

	// Content is the full document text.
	Content string

	// Embedding is the vector representation of Content. Nil when no
	// embedding provider was available at write time; such documents are
	// still reachable through full-text search.
	Embedding []float32

	// CreatedAt is when the document was created.
	CreatedAt time.Time

	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time
}

// DocumentResult pairs a retrieved document with its relevance score. For
// vector search the score is cosine distance (lower is more similar); for
// full-text search it is an FTS rank (higher is more relevant). Callers use
// the ordering, not the absolute value.
type DocumentResult struct {
	Document Document
	Score    float64
}

// ConversationStore is the append-only conversation log.
type ConversationStore interface {
	// AppendMessage appends msg to the session's log and returns the stored
	// record. sessionID must be non-empty.
	AppendMessage(ctx context.Context, sessionID string, msg types.Message) (*StoredMessage, error)

	// ReadRecent returns the last n messages of the session in chronological
	// order (oldest first). Returns an empty (non-nil) slice when the session
	// has no messages.
	ReadRecent(ctx context.Context, sessionID string, n int) ([]StoredMessage, error)
}

// AuditStore persists side-effect records produced by tool executions.
type AuditStore interface {
	// AppendAction appends one audit record. Append order within a session
	// must match call order, because the audit log is read as a timeline.
	AppendAction(ctx context.Context, action types.AgentAction) error
}

// UsageStore persists per-session token/model usage metadata.
type UsageStore interface {
	// RecordUsage adds the given turn's usage to the session's cumulative
	// counters, creating the row when absent.
	RecordUsage(ctx context.Context, usage SessionUsage) error

	// GetUsage returns the session's cumulative usage, or (nil, nil) when the
	// session has no recorded usage.
	GetUsage(ctx context.Context, sessionID string) (*SessionUsage, error)
}

// TaskStore is the task tracker collaborator used by the task tools.
type TaskStore interface {
	// CreateTask persists a new task. ID and CreatedAt are assigned by the
	// caller before the call.
	CreateTask(ctx context.Context, task Task) error

	// CompleteTask marks the task done and returns the updated record.
	// Returns an error when the task does not exist.
	CompleteTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns tasks filtered by status ("" matches all), newest
	// first, capped at limit (0 means implementation default). Returns an
	// empty (non-nil) slice when nothing matches.
	ListTasks(ctx context.Context, status string, limit int) ([]Task, error)
}

// TradeStore is the trading journal collaborator used by the trading tools.
type TradeStore interface {
	// LogTrade persists a new journal entry.
	LogTrade(ctx context.Context, trade Trade) error

	// ListTrades returns trades filtered by symbol ("" matches all), newest
	// first, capped at limit (0 means implementation default). Returns an
	// empty (non-nil) slice when nothing matches.
	ListTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
}

// DocumentStore is the document collaborator used by the document tools.
type DocumentStore interface {
	// CreateDocument persists a new document, embedding included when present.
	CreateDocument(ctx context.Context, doc Document) error

	// SearchByEmbedding returns the topK documents closest to the query
	// embedding by cosine distance, most similar first. Documents without an
	// embedding are never returned by this path.
	SearchByEmbedding(ctx context.Context, embedding []float32, topK int) ([]DocumentResult, error)

	// SearchText performs full-text search over title and content, ranked by
	// relevance. The fallback path when no query embedding is available.
	SearchText(ctx context.Context, query string, limit int) ([]DocumentResult, error)
}
