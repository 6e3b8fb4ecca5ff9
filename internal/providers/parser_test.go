package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chapterflow/internal/config"
)

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("mock|openai:key1, Ollama:nomic|mock")
	require.Len(t, refs, 3)
	require.Equal(t, ProviderRef{Raw: "openai:key1", Name: "openai", KeyAlias: "key1"}, refs[1])
	require.Equal(t, "ollama", refs[2].Name)
	require.Equal(t, "nomic", refs[2].KeyAlias)

	require.Equal(t, []ProviderRef{{Raw: "mock", Name: "mock"}}, ParseProviderList(" | ,"))
}

func TestManagerPrefersRealProviders(t *testing.T) {
	m, err := NewManager(config.Config{LLMProviders: "mock|groq:a", EmbedProviders: "mock|ollama:nomic", EmbedDim: 8})
	require.NoError(t, err)
	require.Equal(t, "groq", m.LLMs()[0].Ref.Name)
	require.Equal(t, "mock", m.LLMs()[1].Ref.Name)
	require.Equal(t, "ollama", m.Embedders()[0].Ref.Name)
}

func TestEmptyManagerFallsBackToMock(t *testing.T) {
	m := NewStaticManager(nil, nil)
	require.Equal(t, "mock", m.LLMs()[0].Ref.Name)
	require.Equal(t, "mock", m.Embedders()[0].Ref.Name)
}

func TestManagerRejectsCapabilityMismatch(t *testing.T) {
	_, err := NewManager(config.Config{LLMProviders: "mock", EmbedProviders: "groq"})
	require.Error(t, err)

	_, err = NewManager(config.Config{LLMProviders: "bogus"})
	require.Error(t, err)
}
