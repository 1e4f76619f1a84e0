package rag

import (
	"fmt"
	"strings"

	"github.com/rowsage/rowsage/internal/storage"
)

// RefusalSentence is the fixed sentence the model must emit when the
// answer is absent from the provided rows. The UI matches it verbatim.
const RefusalSentence = "I don't have that information in the current knowledge base."

const groundedSystemPrompt = `You are a helpful assistant that answers questions using a table of data rows provided below.

Rules:
- Answer ONLY from the provided rows. Never use outside knowledge and never fabricate values.
- Cite every row you use with its bracket token exactly as given, e.g. [Row 4].
- When several rows are relevant, cite all of them.
- If the answer is not present in the rows, reply exactly: "` + RefusalSentence + `"`

const emptyKBSystemPrompt = `You are a helpful assistant. No knowledge base has been synced yet, so you have no data rows to answer from. Inform the user that the knowledge base is empty and that an administrator must sync data before questions can be answered. Do not attempt to answer from outside knowledge.`

// Prompt is a composed system/user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Compose builds the prompt pair for a question over the retrieved
// chunks. Each chunk renders as "[Row N]" followed by its content; the
// downstream UI parses those bracket tokens back out of the answer, so
// the format must not change.
func Compose(chunks []RankedChunk, question string) Prompt {
	if len(chunks) == 0 {
		return Prompt{
			System: emptyKBSystemPrompt,
			User:   question,
		}
	}

	blocks := make([]string, len(chunks))
	for i, chunk := range chunks {
		blocks[i] = fmt.Sprintf("[Row %d]\n%s", chunk.Metadata.RowNumber, chunk.Content)
	}

	return Prompt{
		System: groundedSystemPrompt,
		User:   fmt.Sprintf("Data rows:\n%s\n\nQuestion: %s", strings.Join(blocks, "\n\n"), question),
	}
}

// excerptLength bounds citation excerpts; full chunk content stays in the
// store.
const excerptLength = 200

// Citations snapshots the retrieved chunks into citation records, in
// retrieval rank order. The snapshot outlives the chunks themselves, which
// the next re-sync may delete.
func Citations(chunks []RankedChunk) []storage.Citation {
	citations := make([]storage.Citation, len(chunks))
	for i, chunk := range chunks {
		citations[i] = storage.Citation{
			ChunkID:       chunk.ID,
			ChunkIndex:    chunk.ChunkIndex,
			Excerpt:       truncate(chunk.Content, excerptLength),
			RowNumber:     chunk.Metadata.RowNumber,
			Reference:     fmt.Sprintf("Row %d", chunk.Metadata.RowNumber),
			SimilarityPct: chunk.SimilarityPct,
		}
	}
	return citations
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
