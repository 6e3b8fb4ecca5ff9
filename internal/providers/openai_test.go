package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveKeyPrefersAlias(t *testing.T) {
	t.Setenv("CHAPTERFLOW_OPENAI_KEY_TEAM_A", "alias-key")
	t.Setenv("OPENAI_API_KEY", "default-key")
	require.Equal(t, "alias-key", resolveKey("CHAPTERFLOW_OPENAI_KEY_", "OPENAI_API_KEY", "team-a"))
	require.Equal(t, "default-key", resolveKey("CHAPTERFLOW_OPENAI_KEY_", "OPENAI_API_KEY", "other"))
}

func TestProvidersWithoutKeysFailFast(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")

	o := NewOpenAIProvider("")
	_, info, err := o.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, "openai", info.Name)
	_, _, err = o.Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}})
	require.Error(t, err)

	g := NewGroqProvider("")
	_, info, err = g.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, "groq", info.Name)
	require.Equal(t, defaultGroqModel, info.Model)
}
