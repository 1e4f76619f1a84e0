package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// SyncStatusStore manages the singleton knowledge base status row.
type SyncStatusStore interface {
	Get(ctx context.Context) (SyncStatus, error)
	SetSyncing(ctx context.Context, docTitle string) error
	SetDone(ctx context.Context, chunkCount int, docTitle string, syncedAt time.Time) error
	SetError(ctx context.Context, message string) error
}

// PgSyncStatusStore implements SyncStatusStore against the sync_status
// table. The table holds at most one row with id = 1.
type PgSyncStatusStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewPgSyncStatusStore creates a new PgSyncStatusStore instance.
func NewPgSyncStatusStore(db *PostgresDB, logger *slog.Logger) *PgSyncStatusStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgSyncStatusStore{
		db:     db,
		logger: logger.With("component", "sync_status_store"),
	}
}

// Get returns the current status. A missing row reads as idle with zero
// chunks, so a fresh database needs no seeding.
func (ss *PgSyncStatusStore) Get(ctx context.Context) (SyncStatus, error) {
	query := `
		SELECT status, chunk_count, doc_title, last_synced_at, error_message
		FROM sync_status
		WHERE id = 1
	`

	var status SyncStatus
	var docTitle, errorMessage sql.NullString
	var lastSyncedAt sql.NullTime

	err := ss.db.QueryRowContext(ctx, query).Scan(
		&status.Status,
		&status.ChunkCount,
		&docTitle,
		&lastSyncedAt,
		&errorMessage,
	)
	if err == sql.ErrNoRows {
		return SyncStatus{Status: SyncStatusIdle}, nil
	}
	if err != nil {
		return SyncStatus{}, fmt.Errorf("failed to get sync status: %w", err)
	}

	status.DocTitle = docTitle.String
	status.ErrorMessage = errorMessage.String
	if lastSyncedAt.Valid {
		t := lastSyncedAt.Time
		status.LastSyncedAt = &t
	}

	return status, nil
}

// SetSyncing marks a sync in progress and clears any previous error.
func (ss *PgSyncStatusStore) SetSyncing(ctx context.Context, docTitle string) error {
	return ss.upsert(ctx, `
		INSERT INTO sync_status (id, status, doc_title, error_message, updated_at)
		VALUES (1, $1, $2, NULL, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			doc_title = EXCLUDED.doc_title,
			error_message = NULL,
			updated_at = now()
	`, SyncStatusSyncing, nullString(docTitle))
}

// SetDone records a completed sync together with its chunk count.
func (ss *PgSyncStatusStore) SetDone(ctx context.Context, chunkCount int, docTitle string, syncedAt time.Time) error {
	return ss.upsert(ctx, `
		INSERT INTO sync_status (id, status, chunk_count, doc_title, last_synced_at, error_message, updated_at)
		VALUES (1, $1, $2, $3, $4, NULL, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			chunk_count = EXCLUDED.chunk_count,
			doc_title = EXCLUDED.doc_title,
			last_synced_at = EXCLUDED.last_synced_at,
			error_message = NULL,
			updated_at = now()
	`, SyncStatusDone, chunkCount, nullString(docTitle), syncedAt)
}

// SetError records a failed sync. Chunk count and last sync time keep
// their previous values so status readers still see the last good state.
func (ss *PgSyncStatusStore) SetError(ctx context.Context, message string) error {
	return ss.upsert(ctx, `
		INSERT INTO sync_status (id, status, error_message, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			updated_at = now()
	`, SyncStatusError, nullString(message))
}

func (ss *PgSyncStatusStore) upsert(ctx context.Context, query string, args ...interface{}) error {
	if _, err := ss.db.ExecContext(ctx, query, args...); err != nil {
		ss.logger.Error("failed to update sync status", "error", err)
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}
