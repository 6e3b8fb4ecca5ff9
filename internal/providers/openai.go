package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIChatModel  = openai.GPT4oMini
	defaultOpenAIEmbedModel = "text-embedding-3-small"
	groqBaseURL             = "https://api.groq.com/openai/v1"
	defaultGroqModel        = "llama-3.1-8b-instant"
	defaultSystemPrompt     = "You are a curriculum analyst for school textbooks. Answer with the requested structure only."
)

// chatClient is the go-openai chat surface shared by every OpenAI-compatible backend.
type chatClient struct {
	name   string
	alias  string
	model  string
	client *openai.Client
}

func newChatClient(name, alias, apiKey, baseURL, model string) chatClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return chatClient{name: name, alias: alias, model: model, client: openai.NewClientWithConfig(cfg)}
}

func (c chatClient) info() ProviderInfo {
	return ProviderInfo{Name: c.name, Model: c.model, Key: c.alias}
}

func (c chatClient) generate(ctx context.Context, apiKey string, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	if apiKey == "" {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s key missing for alias %q", c.name, c.alias)
	}
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}
	prompt := req.Prompt
	if len(req.Context) > 0 {
		prompt += "\n\nContext:\n" + strings.Join(req.Context, "\n\n")
	}
	creq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s chat completion failed: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, c.info(), fmt.Errorf("%s returned empty choices", c.name)
	}
	return GenerateResponse{Text: resp.Choices[0].Message.Content}, c.info(), nil
}

// OpenAIProvider serves both oracles from the OpenAI API.
type OpenAIProvider struct {
	chat       chatClient
	apiKey     string
	embedModel string
}

func NewOpenAIProvider(alias string) *OpenAIProvider {
	apiKey := resolveKey("CHAPTERFLOW_OPENAI_KEY_", "OPENAI_API_KEY", alias)
	model := strings.TrimSpace(os.Getenv("CHAPTERFLOW_OPENAI_MODEL"))
	if model == "" {
		model = defaultOpenAIChatModel
	}
	embedModel := strings.TrimSpace(os.Getenv("CHAPTERFLOW_OPENAI_EMBED_MODEL"))
	if embedModel == "" {
		embedModel = defaultOpenAIEmbedModel
	}
	return &OpenAIProvider{
		chat:       newChatClient("openai", alias, apiKey, strings.TrimSpace(os.Getenv("CHAPTERFLOW_OPENAI_BASE_URL")), model),
		apiKey:     apiKey,
		embedModel: embedModel,
	}
}

func (o *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return o.chat.generate(ctx, o.apiKey, req)
}

func (o *OpenAIProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "openai", Model: o.embedModel, Key: o.chat.alias}
	if o.apiKey == "" {
		return nil, info, fmt.Errorf("openai key missing for alias %q", o.chat.alias)
	}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	ereq := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(o.embedModel),
		Input: req.Inputs,
	}
	if req.Dimension > 0 && strings.HasPrefix(o.embedModel, "text-embedding-3") {
		ereq.Dimensions = req.Dimension
	}
	resp, err := o.chat.client.CreateEmbeddings(ctx, ereq)
	if err != nil {
		return nil, info, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, info, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(req.Inputs))
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, info, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		out[d.Index] = matchDimension(v, req.Dimension)
	}
	return out, info, nil
}

// GroqProvider generates text through Groq's OpenAI-compatible endpoint.
type GroqProvider struct {
	chat   chatClient
	apiKey string
}

func NewGroqProvider(alias string) *GroqProvider {
	model := strings.TrimSpace(os.Getenv("CHAPTERFLOW_GROQ_MODEL"))
	if model == "" {
		model = defaultGroqModel
	}
	apiKey := resolveKey("CHAPTERFLOW_GROQ_KEY_", "GROQ_API_KEY", alias)
	return &GroqProvider{
		chat:   newChatClient("groq", alias, apiKey, groqBaseURL, model),
		apiKey: apiKey,
	}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	return g.chat.generate(ctx, g.apiKey, req)
}

func resolveKey(aliasPrefix, fallbackEnv, alias string) string {
	if alias != "" {
		if k := os.Getenv(aliasPrefix + sanitizeEnvToken(alias)); k != "" {
			return k
		}
	}
	return os.Getenv(fallbackEnv)
}
