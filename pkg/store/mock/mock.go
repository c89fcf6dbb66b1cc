// Package mock provides in-memory test doubles for the store interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	conv := &mock.ConversationStore{}
//	conv.ReadRecentResult = []store.StoredMessage{{SessionID: "s1"}}
//
//	// inject conv into the system under test …
//
//	if got := conv.CallCount("AppendMessage"); got != 1 {
//	    t.Errorf("expected 1 AppendMessage call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northstar-hq/northstar/pkg/store"
	"github.com/northstar-hq/northstar/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// recorder supplies call recording shared by every mock in this package.
type recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *recorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls without altering response configuration.
func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ConversationStore mock
// ─────────────────────────────────────────────────────────────────────────────

// ConversationStore is a configurable test double for [store.ConversationStore].
// AppendMessage synthesizes a [store.StoredMessage] with a fresh ID unless
// AppendMessageErr is set.
type ConversationStore struct {
	recorder

	// AppendMessageErr is returned by [ConversationStore.AppendMessage] when non-nil.
	AppendMessageErr error

	// ReadRecentResult is returned by [ConversationStore.ReadRecent].
	// When nil, ReadRecent returns an empty non-nil slice.
	ReadRecentResult []store.StoredMessage

	// ReadRecentErr is returned by [ConversationStore.ReadRecent] when non-nil.
	ReadRecentErr error
}

// AppendMessage implements [store.ConversationStore].
func (m *ConversationStore) AppendMessage(_ context.Context, sessionID string, msg types.Message) (*store.StoredMessage, error) {
	m.record("AppendMessage", sessionID, msg)
	if m.AppendMessageErr != nil {
		return nil, m.AppendMessageErr
	}
	return &store.StoredMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Message:   msg,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ReadRecent implements [store.ConversationStore].
func (m *ConversationStore) ReadRecent(_ context.Context, sessionID string, n int) ([]store.StoredMessage, error) {
	m.record("ReadRecent", sessionID, n)
	if m.ReadRecentResult == nil {
		return []store.StoredMessage{}, m.ReadRecentErr
	}
	out := make([]store.StoredMessage, len(m.ReadRecentResult))
	copy(out, m.ReadRecentResult)
	return out, m.ReadRecentErr
}

// Ensure ConversationStore satisfies the interface at compile time.
var _ store.ConversationStore = (*ConversationStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// AuditStore mock
// ─────────────────────────────────────────────────────────────────────────────

// AuditStore is a configurable test double for [store.AuditStore].
type AuditStore struct {
	recorder

	// AppendActionErr is returned by [AuditStore.AppendAction] when non-nil.
	AppendActionErr error
}

// AppendAction implements [store.AuditStore].
func (m *AuditStore) AppendAction(_ context.Context, action types.AgentAction) error {
	m.record("AppendAction", action)
	return m.AppendActionErr
}

// Actions returns every action passed to AppendAction, in order.
func (m *AuditStore) Actions() []types.AgentAction {
	var out []types.AgentAction
	for _, c := range m.Calls() {
		if c.Method == "AppendAction" {
			out = append(out, c.Args[0].(types.AgentAction))
		}
	}
	return out
}

// Ensure AuditStore satisfies the interface at compile time.
var _ store.AuditStore = (*AuditStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// UsageStore mock
// ─────────────────────────────────────────────────────────────────────────────

// UsageStore is a configurable test double for [store.UsageStore].
type UsageStore struct {
	recorder

	// RecordUsageErr is returned by [UsageStore.RecordUsage] when non-nil.
	RecordUsageErr error

	// GetUsageResult is returned by [UsageStore.GetUsage].
	GetUsageResult *store.SessionUsage

	// GetUsageErr is returned by [UsageStore.GetUsage] when non-nil.
	GetUsageErr error
}

// RecordUsage implements [store.UsageStore].
func (m *UsageStore) RecordUsage(_ context.Context, usage store.SessionUsage) error {
	m.record("RecordUsage", usage)
	return m.RecordUsageErr
}

// GetUsage implements [store.UsageStore].
func (m *UsageStore) GetUsage(_ context.Context, sessionID string) (*store.SessionUsage, error) {
	m.record("GetUsage", sessionID)
	return m.GetUsageResult, m.GetUsageErr
}

// Ensure UsageStore satisfies the interface at compile time.
var _ store.UsageStore = (*UsageStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// TaskStore mock
// ─────────────────────────────────────────────────────────────────────────────

// TaskStore is a configurable test double for [store.TaskStore].
type TaskStore struct {
	recorder

	// CreateTaskErr is returned by [TaskStore.CreateTask] when non-nil.
	CreateTaskErr error

	// CompleteTaskResult is returned by [TaskStore.CompleteTask].
	CompleteTaskResult *store.Task

	// CompleteTaskErr is returned by [TaskStore.CompleteTask] when non-nil.
	CompleteTaskErr error

	// ListTasksResult is returned by [TaskStore.ListTasks].
	// When nil, ListTasks returns an empty non-nil slice.
	ListTasksResult []store.Task

	// ListTasksErr is returned by [TaskStore.ListTasks] when non-nil.
	ListTasksErr error
}

// CreateTask implements [store.TaskStore].
func (m *TaskStore) CreateTask(_ context.Context, task store.Task) error {
	m.record("CreateTask", task)
	return m.CreateTaskErr
}

// CompleteTask implements [store.TaskStore].
func (m *TaskStore) CompleteTask(_ context.Context, id string) (*store.Task, error) {
	m.record("CompleteTask", id)
	return m.CompleteTaskResult, m.CompleteTaskErr
}

// ListTasks implements [store.TaskStore].
func (m *TaskStore) ListTasks(_ context.Context, status string, limit int) ([]store.Task, error) {
	m.record("ListTasks", status, limit)
	if m.ListTasksResult == nil {
		return []store.Task{}, m.ListTasksErr
	}
	out := make([]store.Task, len(m.ListTasksResult))
	copy(out, m.ListTasksResult)
	return out, m.ListTasksErr
}

// Ensure TaskStore satisfies the interface at compile time.
var _ store.TaskStore = (*TaskStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// TradeStore mock
// ─────────────────────────────────────────────────────────────────────────────

// TradeStore is a configurable test double for [store.TradeStore].
type TradeStore struct {
	recorder

	// LogTradeErr is returned by [TradeStore.LogTrade] when non-nil.
	LogTradeErr error

	// ListTradesResult is returned by [TradeStore.ListTrades].
	// When nil, ListTrades returns an empty non-nil slice.
	ListTradesResult []store.Trade

	// ListTradesErr is returned by [TradeStore.ListTrades] when non-nil.
	ListTradesErr error
}

// LogTrade implements [store.TradeStore].
func (m *TradeStore) LogTrade(_ context.Context, trade store.Trade) error {
	m.record("LogTrade", trade)
	return m.LogTradeErr
}

// ListTrades implements [store.TradeStore].
func (m *TradeStore) ListTrades(_ context.Context, symbol string, limit int) ([]store.Trade, error) {
	m.record("ListTrades", symbol, limit)
	if m.ListTradesResult == nil {
		return []store.Trade{}, m.ListTradesErr
	}
	out := make([]store.Trade, len(m.ListTradesResult))
	copy(out, m.ListTradesResult)
	return out, m.ListTradesErr
}

// Ensure TradeStore satisfies the interface at compile time.
var _ store.TradeStore = (*TradeStore)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// DocumentStore mock
// ─────────────────────────────────────────────────────────────────────────────

// DocumentStore is a configurable test double for [store.DocumentStore].
type DocumentStore struct {
	recorder

	// CreateDocumentErr is returned by [DocumentStore.CreateDocument] when non-nil.
	CreateDocumentErr error

	// SearchByEmbeddingResult is returned by [DocumentStore.SearchByEmbedding].
	// When nil, SearchByEmbedding returns an empty non-nil slice.
	SearchByEmbeddingResult []store.DocumentResult

	// SearchByEmbeddingErr is returned by [DocumentStore.SearchByEmbedding] when non-nil.
	SearchByEmbeddingErr error

	// SearchTextResult is returned by [DocumentStore.SearchText].
	// When nil, SearchText returns an empty non-nil slice.
	SearchTextResult []store.DocumentResult

	// SearchTextErr is returned by [DocumentStore.SearchText] when non-nil.
	SearchTextErr error
}

// CreateDocument implements [store.DocumentStore].
func (m *DocumentStore) CreateDocument(_ context.Context, doc store.Document) error {
	m.record("CreateDocument", doc)
	return m.CreateDocumentErr
}

// SearchByEmbedding implements [store.DocumentStore].
func (m *DocumentStore) SearchByEmbedding(_ context.Context, embedding []float32, topK int) ([]store.DocumentResult, error) {
	m.record("SearchByEmbedding", embedding, topK)
	if m.SearchByEmbeddingResult == nil {
		return []store.DocumentResult{}, m.SearchByEmbeddingErr
	}
	out := make([]store.DocumentResult, len(m.SearchByEmbeddingResult))
	copy(out, m.SearchByEmbeddingResult)
	return out, m.SearchByEmbeddingErr
}

// SearchText implements [store.DocumentStore].
func (m *DocumentStore) SearchText(_ context.Context, query string, limit int) ([]store.DocumentResult, error) {
	m.record("SearchText", query, limit)
	if m.SearchTextResult == nil {
		return []store.DocumentResult{}, m.SearchTextErr
	}
	out := make([]store.DocumentResult, len(m.SearchTextResult))
	copy(out, m.SearchTextResult)
	return out, m.SearchTextErr
}

// Ensure DocumentStore satisfies the interface at compile time.
var _ store.DocumentStore = (*DocumentStore)(nil)
