package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// MockProvider is an offline stand-in for both oracles. Embeddings are hashed
// bags of words, so texts sharing vocabulary land close together.
type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(_ context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, bagOfWordsVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

func (m *MockProvider) Generate(_ context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	op := strings.ToLower(req.Operation)
	switch {
	case strings.Contains(op, "toc_expand"):
		title := promptField(req.Prompt, "Title:")
		concepts := mockConcepts(title)
		body, _ := json.Marshal(map[string]any{
			"key_concepts":         concepts,
			"difficulty":           "intermediate",
			"cognitive_level":      "understand",
			"related_activities":   []string{},
			"learning_objectives":  []string{"Explain " + strings.ToLower(strings.TrimSpace(title))},
			"expanded_description": strings.TrimSpace(title) + ". " + strings.Join(concepts, ", "),
		})
		return GenerateResponse{Text: string(body)}, info, nil
	case strings.Contains(op, "toc_extract"):
		return GenerateResponse{Text: `{"sections":[]}`}, info, nil
	}
	return GenerateResponse{Text: "Mock response."}, info, nil
}

func promptField(prompt, label string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, label) {
			return strings.TrimSpace(strings.TrimPrefix(line, label))
		}
	}
	return ""
}

func mockConcepts(title string) []string {
	out := []string{}
	for _, w := range tokenize(title) {
		if len(out) == 3 {
			break
		}
		out = append(out, w)
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func bagOfWordsVector(input string, dim int) []float32 {
	words := tokenize(input)
	if len(words) == 0 {
		return deterministicVector(input, dim)
	}
	vec := make([]float32, dim)
	for _, w := range words {
		h := sha256.Sum256([]byte(w))
		idx := binary.BigEndian.Uint32(h[:4]) % uint32(dim)
		vec[idx] += 1
	}
	return normalize(vec)
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		vec[i] = float32(u%2000)/1000.0 - 1.0
	}
	return normalize(vec)
}

// normalize scales v to unit L2 length in place.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
