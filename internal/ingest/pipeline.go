// Package ingest implements the knowledge base sync pipeline.
package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/internal/chunker"
	"github.com/rowsage/rowsage/internal/storage"
	"github.com/rowsage/rowsage/pkg/logger"
)

// InsertBatchSize bounds how many chunks go into one insert request.
const InsertBatchSize = 50

// chunkStore is the store surface the pipeline writes through.
type chunkStore interface {
	InsertBatch(ctx context.Context, chunks []storage.Chunk) error
	DeleteByDoc(ctx context.Context, docID uuid.UUID) (int64, error)
}

// Embedder is the optional embedding dependency. When nil, chunks are
// stored without embeddings and retrieval runs in keyword mode.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Publisher announces completed syncs to other service instances.
type Publisher interface {
	SyncCompleted(ctx context.Context, chunkCount int, sourceLabel string) error
}

// Invalidator drops retrieval caches after the chunk set changes.
type Invalidator interface {
	InvalidateRetrieval(ctx context.Context) error
}

// Result reports what a sync produced.
type Result struct {
	ChunkCount int `json:"chunk_count"`
	RowCount   int `json:"row_count"`
}

// Pipeline replaces the knowledge base from an uploaded source. A sync is
// delete-then-insert, not transactional: a failure mid-way leaves the
// store partially populated with SyncStatus set to error, and the
// operator heals it by re-syncing.
type Pipeline struct {
	chunks   chunkStore
	status   storage.SyncStatusStore
	chunker  *chunker.Chunker
	embedder Embedder
	archive  storage.ObjectStorage
	events   Publisher
	cache    Invalidator
	log      *logger.Logger

	// Progress, when set, is called after each inserted batch.
	Progress func(completed, total int)
}

// NewPipeline creates a new Pipeline. embedder, archive, events, and
// cache may be nil.
func NewPipeline(chunks chunkStore, status storage.SyncStatusStore, ck *chunker.Chunker, embedder Embedder, archive storage.ObjectStorage, events Publisher, cache Invalidator, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Default()
	}
	return &Pipeline{
		chunks:   chunks,
		status:   status,
		chunker:  ck,
		embedder: embedder,
		archive:  archive,
		events:   events,
		cache:    cache,
		log:      log.WithComponent("ingest"),
	}
}

// Sync parses CSV data into one chunk per non-empty data row and replaces
// the current knowledge base generation with the result.
func (p *Pipeline) Sync(ctx context.Context, csvData []byte, sourceLabel string) (Result, error) {
	headers, records, err := parseCSV(csvData)
	if err != nil {
		// Validation failures happen before any state transition; the
		// previous generation stays intact and status is untouched.
		return Result{}, err
	}

	newChunks := buildRowChunks(headers, records, sourceLabel, p.chunker)
	return p.replace(ctx, newChunks, len(records), sourceLabel, csvData)
}

// SyncText replaces the knowledge base from free text, chunked with a
// fixed-size sliding window instead of per-row.
func (p *Pipeline) SyncText(ctx context.Context, text string, sourceLabel string) (Result, error) {
	windows := p.chunker.SplitText(text)
	if len(windows) == 0 {
		return Result{}, fmt.Errorf("%w: source text is empty", apperr.ErrValidation)
	}

	newChunks := make([]storage.Chunk, len(windows))
	for i, w := range windows {
		newChunks[i] = storage.Chunk{
			ID:         uuid.New(),
			DocID:      storage.KnowledgeBaseDocID,
			ChunkIndex: w.Index,
			Content:    w.Content,
			TokenCount: p.chunker.CountTokens(w.Content),
			Metadata:   storage.ChunkMetadata{Source: sourceLabel},
		}
	}

	return p.replace(ctx, newChunks, len(windows), sourceLabel, []byte(text))
}

// replace runs the shared tail of both sync variants: embed, archive,
// delete old generation, insert new one, record status, announce.
func (p *Pipeline) replace(ctx context.Context, newChunks []storage.Chunk, rowCount int, sourceLabel string, raw []byte) (Result, error) {
	start := time.Now()

	if err := p.status.SetSyncing(ctx, sourceLabel); err != nil {
		return Result{}, err
	}

	if err := p.embedChunks(ctx, newChunks); err != nil {
		return Result{}, p.fail(ctx, err)
	}

	p.archiveSource(ctx, raw, sourceLabel, start)

	if _, err := p.chunks.DeleteByDoc(ctx, storage.KnowledgeBaseDocID); err != nil {
		return Result{}, p.fail(ctx, fmt.Errorf("%w: deleting previous generation: %v", apperr.ErrPersistence, err))
	}

	for i := 0; i < len(newChunks); i += InsertBatchSize {
		end := i + InsertBatchSize
		if end > len(newChunks) {
			end = len(newChunks)
		}
		if err := p.chunks.InsertBatch(ctx, newChunks[i:end]); err != nil {
			return Result{}, p.fail(ctx, fmt.Errorf("%w: inserting batch at %d: %v", apperr.ErrPersistence, i, err))
		}
		if p.Progress != nil {
			p.Progress(end, len(newChunks))
		}
	}

	syncedAt := time.Now().UTC()
	if err := p.status.SetDone(ctx, len(newChunks), sourceLabel, syncedAt); err != nil {
		return Result{}, err
	}

	if p.cache != nil {
		_ = p.cache.InvalidateRetrieval(ctx)
	}
	if p.events != nil {
		if err := p.events.SyncCompleted(ctx, len(newChunks), sourceLabel); err != nil {
			p.log.WithError(err).Warn("failed to publish sync event")
		}
	}

	p.log.Info("sync complete",
		"source", sourceLabel,
		"rows", rowCount,
		"chunks", len(newChunks),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Result{ChunkCount: len(newChunks), RowCount: rowCount}, nil
}

// fail records the error in SyncStatus before propagating, so the status
// view reflects the failure even when the caller also sees the error.
func (p *Pipeline) fail(ctx context.Context, err error) error {
	if statusErr := p.status.SetError(ctx, err.Error()); statusErr != nil {
		p.log.WithError(statusErr).Error("failed to record sync error")
	}
	return err
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []storage.Chunk) error {
	if p.embedder == nil || len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: embedding chunks: %v", apperr.ErrRetrieval, err)
	}

	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
	}
	return nil
}

// archiveSource uploads the raw source bytes for later audit. Best
// effort: an archive failure never fails the sync.
func (p *Pipeline) archiveSource(ctx context.Context, raw []byte, sourceLabel string, syncedAt time.Time) {
	if p.archive == nil || len(raw) == 0 {
		return
	}

	path := storage.BuildSourcePath(syncedAt, sourceLabel)
	if _, err := p.archive.UploadBytes(ctx, raw, path, "text/csv"); err != nil {
		p.log.WithError(err).Warn("failed to archive source", "path", path)
	}
}

// parseCSV splits raw CSV into a header row and data rows. Quoted fields
// containing commas, newlines, and escaped quotes are handled per RFC
// 4180. Ragged rows are tolerated.
func parseCSV(data []byte) (headers []string, records [][]string, err error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parsing CSV: %v", apperr.ErrValidation, err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: need a header row and at least one data row", apperr.ErrValidation)
	}

	return rows[0], rows[1:], nil
}

// buildRowChunks synthesizes one chunk per non-empty data row. Chunk
// index tracks the row's position among data rows, so row_number stays
// index+2 even when empty rows leave gaps.
func buildRowChunks(headers []string, records [][]string, sourceLabel string, ck *chunker.Chunker) []storage.Chunk {
	var chunks []storage.Chunk
	for i, record := range records {
		content := chunker.SynthesizeRow(headers, record)
		if content == "" {
			continue
		}

		chunks = append(chunks, storage.Chunk{
			ID:         uuid.New(),
			DocID:      storage.KnowledgeBaseDocID,
			ChunkIndex: i,
			Content:    content,
			TokenCount: ck.CountTokens(content),
			Metadata: storage.ChunkMetadata{
				RowNumber: i + 2,
				Headers:   headers,
				Source:    sourceLabel,
			},
		})
	}
	return chunks
}
