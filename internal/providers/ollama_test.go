package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOllamaEmbedModel(t *testing.T) {
	t.Setenv("CHAPTERFLOW_OLLAMA_EMBED_MODEL", "")
	require.Equal(t, "nomic-embed-text", resolveOllamaEmbedModel(""))
	require.Equal(t, "bge-small-en-v1.5", resolveOllamaEmbedModel("bge"))
	require.Equal(t, "all-minilm:l6", resolveOllamaEmbedModel("all-minilm:l6"))

	t.Setenv("CHAPTERFLOW_OLLAMA_EMBED_MODEL_LOCAL", "custom-model")
	require.Equal(t, "custom-model", resolveOllamaEmbedModel("local"))
}

func TestMatchDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	require.Equal(t, []float32{1, 2}, matchDimension(src, 2))
	require.Equal(t, []float32{1, 2, 3, 0, 0}, matchDimension(src, 5))
	require.Equal(t, src, matchDimension(src, 0))
}

func TestOllamaGenerateAndEmbed(t *testing.T) {
	var sawFormat any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/generate":
			sawFormat = body["format"]
			_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"ok":true}`})
		case "/api/embeddings":
			_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5, 0.5, 0.5, 0.5}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("CHAPTERFLOW_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaProvider("")
	resp, info, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x", JSONMode: true})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, resp.Text)
	require.Equal(t, "ollama", info.Name)
	require.Equal(t, "json", sawFormat)

	vecs, _, err := p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}, Dimension: 2})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 2)
}

func TestOllamaSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()
	t.Setenv("CHAPTERFLOW_OLLAMA_BASE_URL", srv.URL)

	_, _, err := NewOllamaProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}
