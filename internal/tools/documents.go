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

// Embedder turns text into a dense vector for semantic document search.
// When no embedder is available the document tools fall back to full-text
// search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// saveDocumentArgs is the JSON-decoded input for the "save_document" tool.
type saveDocumentArgs struct {
	// Title is the document name. Required.
	Title string `json:"title"`

	// Content is the document body. Required.
	Content string `json:"content"`
}

// searchDocumentsArgs is the JSON-decoded input for the "search_documents" tool.
type searchDocumentsArgs struct {
	// Query is the natural-language search query. Required.
	Query string `json:"query"`

	// Limit caps the number of returned documents. Defaults to 5.
	Limit int `json:"limit"`
}

// DocumentTools returns the knowledge base tool set backed by ds.
//
// embed may be nil; without it documents are stored unembedded and search
// uses full-text ranking only.
func DocumentTools(ds store.DocumentStore, embed Embedder) []Tool {
	return []Tool{
		{
			Definition: types.ToolDefinition{
				Name:        "save_document",
				Description: "Save a note or document to the knowledge base so it can be found later.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":   map[string]any{"type": "string"},
						"content": map[string]any{"type": "string"},
					},
					"required": []string{"title", "content"},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return saveDocument(ctx, ds, embed, args)
			},
		},
		{
			Definition: types.ToolDefinition{
				Name:        "search_documents",
				Description: "Search the knowledge base for documents matching a query.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
						"limit": map[string]any{"type": "integer"},
					},
					"required": []string{"query"},
				},
			},
			Handler: func(ctx context.Context, args string) (string, *types.AgentAction, error) {
				return searchDocuments(ctx, ds, embed, args)
			},
		},
	}
}

func saveDocument(ctx context.Context, ds store.DocumentStore, embed Embedder, args string) (string, *types.AgentAction, error) {
	var in saveDocumentArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", nil, fmt.Errorf("tools: invalid save_document args: %w", err)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Content) == "" {
		return "", nil, fmt.Errorf("tools: save_document requires both title and content")
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:        uuid.NewString(),
		Title:     strings.TrimSpace(in.Title),
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if embed != nil {
		// Embedding failures are not fatal: the document stays findable
		// through full-text search.
		vec, err := embed.Embed(ctx, doc.Title+"\n"+doc.Content)
		if err == nil {
			doc.Embedding = vec
		}
	}

	if err := ds.CreateDocument(ctx, doc); err != nil {
		return "", nil, fmt.Errorf("tools: save_document: %w", err)
	}

	action := &types.AgentAction{
		Action:     "save_document",
		EntityType: "document",
		EntityID:   doc.ID,
		Parameters: args,
	}
	return fmt.Sprintf("Saved document %q with id %s.", doc.Title, doc.ID), action, nil
}

func searchDocuments(ctx context.Context, ds store.DocumentStore, embed Embedder, args string) (string, *types.AgentAction, error) {
	var in searchDocumentsArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", nil, fmt.Errorf("tools: invalid search_documents args: %w", err)
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", nil, fmt.Errorf("tools: search_documents requires a query")
	}
	if in.Limit <= 0 {
		in.Limit = 5
	}

	var results []store.DocumentResult
	if embed != nil {
		vec, err := embed.Embed(ctx, in.Query)
		if err == nil {
			results, err = ds.SearchByEmbedding(ctx, vec, in.Limit)
			if err != nil {
				return "", nil, fmt.Errorf("tools: search_documents: %w", err)
			}
		}
	}
	if len(results) == 0 {
		var err error
		results, err = ds.SearchText(ctx, in.Query, in.Limit)
		if err != nil {
			return "", nil, fmt.Errorf("tools: search_documents: %w", err)
		}
	}
	if len(results) == 0 {
		return "No matching documents found.", nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d document(s):\n", len(results))
	for _, r := range results {
		fmt.Fprintf(&sb, "- %s (id %s): %s\n", r.Document.Title, r.Document.ID, snippet(r.Document.Content, 160))
	}
	return sb.String(), nil, nil
}

// snippet flattens s to one line and truncates it to at most n runes.
func snippet(s string, n int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
