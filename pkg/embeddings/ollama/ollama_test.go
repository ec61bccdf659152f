package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aulavox/aulavox/pkg/embeddings/ollama"
)

// embedServer answers /api/embed with one canned vector per input, asserting
// the request shape along the way.
func embedServer(t *testing.T, wantModel string, vectors [][]float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path = %q, want /api/embed", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
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
			t.Errorf("model = %q, want %q", req.Model, wantModel)
		}
		out := vectors
		if len(out) > len(req.Input) {
			out = out[:len(req.Input)]
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Error("New(\"\", \"\") error = nil, want error")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, "nomic-embed-text", [][]float32{{0.1, 0.2, 0.3}})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vec, err := p.Embed(context.Background(), "aorta")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("Embed() = %v, want [0.1 0.2 0.3]", vec)
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, "bge-m3", [][]float32{{1, 0}, {0, 1}})
	defer srv.Close()

	p, err := ollama.New(srv.URL, "bge-m3")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"aorta", "ventricolo"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len(vecs) = %d, want 2", len(vecs))
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	t.Parallel()

	p, err := ollama.New("http://unused", "bge-m3")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Errorf("EmbedBatch(nil) error = %v", err)
	}
	if vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", vecs)
	}
}

func TestEmbedServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p, err := ollama.New(srv.URL, "missing-model")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := p.Embed(context.Background(), "aorta"); err == nil {
		t.Error("Embed() error = nil, want status error")
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		opts  []ollama.Option
		want  int
	}{
		{model: "nomic-embed-text", want: 768},
		{model: "bge-m3", want: 1024},
		{model: "all-minilm", want: 384},
		{model: "custom-model", opts: []ollama.Option{ollama.WithDimensions(512)}, want: 512},
	}
	for _, tt := range tests {
		p, err := ollama.New("http://unused", tt.model, tt.opts...)
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.model, err)
		}
		if got := p.Dimensions(); got != tt.want {
			t.Errorf("Dimensions(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}
