package vector

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSearchQueryFilters(t *testing.T) {
	vec := pgvector.NewVector([]float32{1, 0})

	q, args := buildSearchQuery("tb", vec, 5, SearchFilters{})
	require.Len(t, args, 3)
	assert.NotContains(t, q, "chapter_number = $")
	assert.NotContains(t, q, "is_activity")

	q, args = buildSearchQuery("tb", vec, 5, SearchFilters{Chapter: 3, ActivitiesOnly: true, EmbeddingVersion: "v1"})
	require.Len(t, args, 5)
	assert.Contains(t, q, "c.chapter_number = $4")
	assert.Contains(t, q, "c.embedding_version = $5")
	assert.Contains(t, q, "AND c.is_activity")
	assert.Equal(t, 3, args[3])
	assert.Equal(t, "v1", args[4])

	_, args = buildSearchQuery("tb", vec, 5, SearchFilters{EmbeddingVersion: "v2"})
	require.Len(t, args, 4)
	assert.Equal(t, "v2", args[3])
}
