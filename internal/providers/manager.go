package providers

import (
	"fmt"

	"chapterflow/internal/config"
)

type Named[P any] struct {
	Ref      ProviderRef
	Provider P
}

type (
	NamedLLMProvider   = Named[LLMProvider]
	NamedEmbedProvider = Named[EmbeddingProvider]
)

// Manager holds the configured oracle providers, real ones first and the
// mock last, each group in declaration order.
type Manager struct {
	llms    []NamedLLMProvider
	embeds  []NamedEmbedProvider
	mockDim int
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{mockDim: cfg.EmbedDim}
	for _, ref := range ParseProviderList(cfg.LLMProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		llm, ok := p.(LLMProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support llm", ref.Raw)
		}
		m.llms = append(m.llms, NamedLLMProvider{Ref: ref, Provider: llm})
	}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		embed, ok := p.(EmbeddingProvider)
		if !ok {
			return nil, fmt.Errorf("provider %s does not support embeddings", ref.Raw)
		}
		m.embeds = append(m.embeds, NamedEmbedProvider{Ref: ref, Provider: embed})
	}
	m.llms, m.embeds = mockLast(m.llms), mockLast(m.embeds)
	return m, nil
}

// NewStaticManager wraps already-built providers; used by tests.
func NewStaticManager(llms []NamedLLMProvider, embeds []NamedEmbedProvider) *Manager {
	return &Manager{llms: mockLast(llms), embeds: mockLast(embeds)}
}

func (m *Manager) LLMs() []NamedLLMProvider {
	if len(m.llms) == 0 {
		return []NamedLLMProvider{{Ref: mockRef, Provider: NewMockProvider(m.dim())}}
	}
	return m.llms
}

func (m *Manager) Embedders() []NamedEmbedProvider {
	if len(m.embeds) == 0 {
		return []NamedEmbedProvider{{Ref: mockRef, Provider: NewMockProvider(m.dim())}}
	}
	return m.embeds
}

func (m *Manager) dim() int {
	if m.mockDim <= 0 {
		return 1536
	}
	return m.mockDim
}

func mockLast[P any](in []Named[P]) []Named[P] {
	out := make([]Named[P], 0, len(in))
	for _, n := range in {
		if n.Ref.Name != "mock" {
			out = append(out, n)
		}
	}
	for _, n := range in {
		if n.Ref.Name == "mock" {
			out = append(out, n)
		}
	}
	return out
}

func buildProvider(ref ProviderRef, dim int) (any, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
