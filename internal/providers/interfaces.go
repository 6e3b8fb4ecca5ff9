package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type GenerateRequest struct {
	Operation string   `json:"operation"`
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	Context   []string `json:"context,omitempty"`
	// JSONMode asks the provider for a single JSON object when it supports it.
	JSONMode    bool    `json:"json_mode,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

// LLMProvider is the text-oracle boundary.
type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

// EmbeddingProvider is the embedding-oracle boundary. Implementations return one
// vector per input, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

// CallRecord describes one oracle call for auditing.
type CallRecord struct {
	Operation string
	Provider  ProviderInfo
	Status    string
	ErrorType ErrorType
	LatencyMS int64
}

// CallRecorder receives CallRecords; implementations must be safe for concurrent use.
type CallRecorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}
