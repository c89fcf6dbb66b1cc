package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/northstar-hq/northstar/internal/agent"
	"github.com/northstar-hq/northstar/internal/cascade"
	"github.com/northstar-hq/northstar/internal/observe"
	"github.com/northstar-hq/northstar/pkg/provider/llm"
)

const defaultListenAddr = ":8080"

// errUnknownAgent distinguishes a 404 from ordinary request validation.
var errUnknownAgent = errors.New("unknown agent")

// shutdownGrace bounds how long in-flight requests may run after the serve
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. On cancellation the server drains in-flight requests for up to
// [shutdownGrace] before returning.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     observe.Middleware(a.metrics)(a.Handler()),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket streams stay open indefinitely.
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", addr, "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Handler returns the route table without the observability middleware.
// Exposed for tests that drive the API through httptest.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/agents", a.handleAgents)
	mux.HandleFunc("POST /v1/chat", a.handleChat)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", a.handleMessages)
	mux.HandleFunc("GET /v1/sessions/{id}/usage", a.handleUsage)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", a.handleStream)

	return mux
}

// ─── JSON helpers ────────────────────────────────────────────────────────────

// writeJSON encodes v to w. Encode errors typically mean the client
// disconnected mid-response, which is not actionable.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": a.AgentNames()})
}

// chatRequest is the body of POST /v1/chat and the first client message on a
// stream connection.
type chatRequest struct {
	// Agent selects the persona. Required.
	Agent string `json:"agent"`

	// SessionID identifies the conversation. Required.
	SessionID string `json:"session_id"`

	// Message is the user's text. Required.
	Message string `json:"message"`

	// UserName optionally names the speaker.
	UserName string `json:"user_name,omitempty"`

	// Complexity optionally overrides the agent's default tier.
	Complexity string `json:"complexity,omitempty"`

	// PreferredModel optionally overrides the cascade's starting model.
	PreferredModel string `json:"preferred_model,omitempty"`
}

// chatResponse is the body of a successful POST /v1/chat.
type chatResponse struct {
	SessionID string              `json:"session_id"`
	Agent     string              `json:"agent"`
	Reply     string              `json:"reply"`
	Model     string              `json:"model"`
	Cycles    int                 `json:"cycles"`
	Capped    bool                `json:"capped,omitempty"`
	Usage     llm.Usage           `json:"usage"`
	Actions   []chatAction        `json:"actions,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// chatAction is the API projection of an audit action.
type chatAction struct {
	Action     string `json:"action"`
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// turnRequest resolves a chatRequest against the configured agents. The
// returned entry carries the agent plus its default complexity.
func (a *App) turnRequest(req chatRequest) (*agentEntry, agent.TurnRequest, error) {
	if req.Agent == "" {
		return nil, agent.TurnRequest{}, errors.New("agent is required")
	}
	if req.SessionID == "" {
		return nil, agent.TurnRequest{}, errors.New("session_id is required")
	}
	if req.Message == "" {
		return nil, agent.TurnRequest{}, errors.New("message is required")
	}
	entry, ok := a.agents[req.Agent]
	if !ok {
		return nil, agent.TurnRequest{}, fmt.Errorf("%w %q", errUnknownAgent, req.Agent)
	}

	complexity := entry.defaultComplexity
	if req.Complexity != "" {
		c := cascade.Complexity(req.Complexity)
		if !c.IsValid() {
			return nil, agent.TurnRequest{}, errors.New("invalid complexity " + strconv.Quote(req.Complexity))
		}
		complexity = c
	}

	return entry, agent.TurnRequest{
		SessionID:      req.SessionID,
		Message:        req.Message,
		UserName:       req.UserName,
		Complexity:     complexity,
		PreferredModel: req.PreferredModel,
	}, nil
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	entry, turn, err := a.turnRequest(req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUnknownAgent) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	result, err := entry.agent.HandleMessage(r.Context(), turn)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody is listening for the error body.
			return
		}
		slog.Error("turn failed", "agent", req.Agent, "session", req.SessionID, "err", err)
		writeError(w, http.StatusBadGateway, "completion failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(req, result))
}

func toChatResponse(req chatRequest, result *agent.TurnResult) chatResponse {
	resp := chatResponse{
		SessionID: req.SessionID,
		Agent:     req.Agent,
		Reply:     result.FinalText,
		Model:     result.ModelUsed,
		Cycles:    result.Cycles,
		Capped:    result.Capped,
		Usage:     result.TokensUsed,
		Warnings:  result.Warnings,
	}
	for _, ac := range result.Actions {
		resp.Actions = append(resp.Actions, chatAction{
			Action:     ac.Action,
			EntityType: ac.EntityType,
			EntityID:   ac.EntityID,
			Outcome:    string(ac.Outcome),
			Error:      ac.ErrorMessage,
		})
	}
	return resp
}

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := a.stores.Conversations.ReadRecent(r.Context(), sessionID, limit)
	if err != nil {
		slog.Error("read messages failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (a *App) handleUsage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	usage, err := a.stores.Usage.GetUsage(r.Context(), sessionID)
	if err != nil {
		slog.Error("read usage failed", "session", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	if usage == nil {
		writeError(w, http.StatusNotFound, "no usage recorded for session "+strconv.Quote(sessionID))
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// ─── Streaming ───────────────────────────────────────────────────────────────

// streamEvent is one websocket message on a stream connection.
// Type is "text" (incremental assistant output), "result" (turn finished),
// or "error" (turn failed; the connection stays open for the next request).
type streamEvent struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Result *chatResponse `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// handleStream upgrades to a websocket and runs one streamed turn per client
// request message. The session id comes from the path; each request message
// is a [chatRequest] (its session_id field is ignored).
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "session", sessionID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server shutting down")

	ctx := r.Context()
	for {
		var req chatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			// Normal closure or client gone.
			return
		}
		req.SessionID = sessionID

		if !a.streamOneTurn(ctx, conn, req) {
			return
		}
	}
}

// streamOneTurn runs a single streamed turn and forwards its events to the
// websocket. It reports whether the connection is still usable.
func (a *App) streamOneTurn(ctx context.Context, conn *websocket.Conn, req chatRequest) bool {
	send := func(ev streamEvent) bool {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			slog.Debug("websocket write failed", "session", req.SessionID, "err", err)
			return false
		}
		return true
	}

	entry, turn, err := a.turnRequest(req)
	if err != nil {
		return send(streamEvent{Type: "error", Error: err.Error()})
	}

	events, err := entry.agent.StreamMessage(ctx, turn)
	if err != nil {
		return send(streamEvent{Type: "error", Error: err.Error()})
	}

	for ev := range events {
		switch {
		case ev.Err != nil:
			if !send(streamEvent{Type: "error", Error: ev.Err.Error()}) {
				return false
			}
		case ev.Result != nil:
			resp := toChatResponse(req, ev.Result)
			if !send(streamEvent{Type: "result", Result: &resp}) {
				return false
			}
		case ev.Text != "":
			if !send(streamEvent{Type: "text", Text: ev.Text}) {
				return false
			}
		}
	}
	return true
}
