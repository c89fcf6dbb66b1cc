package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/northstar-hq/northstar/pkg/provider/embeddings/ollama"
)

// mockEmbedServer starts a test HTTP server that answers /api/embed requests
// with the given vector and records the requested model name.
func mockEmbedServer(t *testing.T, wantModel string, vector []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: got %q, want /api/embed", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: got %q, want POST", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model: got %q, want %q", req.Model, wantModel)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"model":      wantModel,
			"embeddings": [][]float32{vector},
		}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEmbed(t *testing.T) {
	srv := mockEmbedServer(t, "nomic-embed-text", []float32{0.1, 0.2, 0.3})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vec, err := p.Embed(context.Background(), "query: hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("unexpected vector: %v", vec)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "missing-model")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestDimensions_KnownModel(t *testing.T) {
	p, err := ollama.New("http://localhost:19999", "mxbai-embed-large")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 1024 {
		t.Errorf("Dimensions: got %d, want 1024", got)
	}
}

func TestDimensions_ProbesUnknownModel(t *testing.T) {
	srv := mockEmbedServer(t, "custom-embedder", []float32{0, 0, 0, 0})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "custom-embedder")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 4 {
		t.Errorf("Dimensions: got %d, want 4", got)
	}
}

func TestDimensions_ExplicitOverride(t *testing.T) {
	p, err := ollama.New("http://localhost:19999", "custom-embedder", ollama.WithDimensions(512))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Dimensions(); got != 512 {
		t.Errorf("Dimensions: got %d, want 512", got)
	}
}
