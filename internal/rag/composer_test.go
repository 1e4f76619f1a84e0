package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	t.Run("grounded prompt renders row blocks", func(t *testing.T) {
		chunks := []RankedChunk{
			{Chunk: rowChunk(0, "name: Alice; age: 30")},
			{Chunk: rowChunk(1, "name: Bob; age: 25")},
		}

		p := Compose(chunks, "how old is Bob?")

		assert.Contains(t, p.System, "[Row 4]")
		assert.Contains(t, p.System, RefusalSentence)
		assert.Equal(t,
			"Data rows:\n[Row 2]\nname: Alice; age: 30\n\n[Row 3]\nname: Bob; age: 25\n\nQuestion: how old is Bob?",
			p.User,
		)
	})

	t.Run("empty chunks select the empty knowledge base variant", func(t *testing.T) {
		p := Compose(nil, "anything?")

		assert.Contains(t, p.System, "No knowledge base has been synced")
		assert.Equal(t, "anything?", p.User)
		assert.NotContains(t, p.User, "Data rows:")
	})
}

func TestCitations(t *testing.T) {
	t.Run("snapshots chunks in rank order", func(t *testing.T) {
		chunks := []RankedChunk{
			{Chunk: rowChunk(4, "name: Eve"), SimilarityPct: 88},
			{Chunk: rowChunk(1, "name: Bob")},
		}

		citations := Citations(chunks)
		require.Len(t, citations, 2)

		assert.Equal(t, chunks[0].ID, citations[0].ChunkID)
		assert.Equal(t, 4, citations[0].ChunkIndex)
		assert.Equal(t, 6, citations[0].RowNumber)
		assert.Equal(t, "Row 6", citations[0].Reference)
		assert.Equal(t, "name: Eve", citations[0].Excerpt)
		assert.Equal(t, 88, citations[0].SimilarityPct)

		assert.Equal(t, 3, citations[1].RowNumber)
		assert.Zero(t, citations[1].SimilarityPct)
	})

	t.Run("long content is truncated into the excerpt", func(t *testing.T) {
		long := strings.Repeat("x", 500)
		citations := Citations([]RankedChunk{{Chunk: rowChunk(0, long)}})
		require.Len(t, citations, 1)
		assert.Len(t, []rune(citations[0].Excerpt), excerptLength+1)
	})

	t.Run("empty input yields empty slice", func(t *testing.T) {
		assert.Empty(t, Citations(nil))
	})
}
