package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rowsage/rowsage/internal/storage"
)

// maxSyncBodyBytes bounds accepted upload size.
const maxSyncBodyBytes = 20 << 20 // 20 MiB

// SyncRequestBody is the JSON form of a sync request. Raw CSV uploads
// (text/csv or multipart) carry the same data outside JSON.
type SyncRequestBody struct {
	Content     string `json:"content"`
	SourceLabel string `json:"source_label,omitempty"`
	// Format selects the chunking strategy: "csv" (default) synthesizes
	// one chunk per data row, "text" splits by sliding window.
	Format string `json:"format,omitempty"`
}

// HandleSync returns a handler that replaces the knowledge base from an
// uploaded source. Admin only.
// POST /api/v1/sync
//
// Accepts:
//   - application/json: {"content": "...", "source_label": "...", "format": "csv|text"}
//   - multipart/form-data: file field "file", optional form field "source_label"
//   - anything else: raw CSV body, source label from the "source_label" query parameter
//
// Response: {"chunk_count": N, "row_count": M}
func HandleSync(syncService SyncService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		r.Body = http.MaxBytesReader(w, r.Body, maxSyncBodyBytes)

		content, sourceLabel, format, err := readSyncRequest(r)
		if err != nil {
			logger.Warn("failed to read sync request", "error", err)
			RespondBadRequest(w, err.Error())
			return
		}
		if strings.TrimSpace(content) == "" {
			RespondError(w, http.StatusBadRequest, ErrCodeValidation, "Upload is empty")
			return
		}
		if sourceLabel == "" {
			sourceLabel = "upload-" + time.Now().UTC().Format("20060102T150405Z")
		}

		logger.Info("starting knowledge base sync",
			"source_label", sourceLabel,
			"format", format,
			"size_bytes", len(content),
		)

		var result any
		if format == "text" {
			result, err = syncService.SyncText(ctx, content, sourceLabel)
		} else {
			result, err = syncService.Sync(ctx, []byte(content), sourceLabel)
		}
		if err != nil {
			logger.Error("knowledge base sync failed", "error", err, "source_label", sourceLabel)
			RespondAppError(w, err)
			return
		}

		logger.Info("knowledge base sync completed", "source_label", sourceLabel)
		RespondJSON(w, http.StatusOK, result)
	}
}

// readSyncRequest extracts the upload from whichever shape the client sent.
func readSyncRequest(r *http.Request) (content, sourceLabel, format string, err error) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		var req SyncRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", "", "", errors.New("invalid request body")
		}
		format = req.Format
		if format == "" {
			format = "csv"
		}
		if format != "csv" && format != "text" {
			return "", "", "", errors.New("format must be csv or text")
		}
		return req.Content, strings.TrimSpace(req.SourceLabel), format, nil

	case strings.HasPrefix(contentType, "multipart/form-data"):
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", "", errors.New("missing file upload")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", "", errors.New("failed to read file upload")
		}
		label := strings.TrimSpace(r.FormValue("source_label"))
		if label == "" {
			label = header.Filename
		}
		return string(data), label, "csv", nil

	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", "", "", errors.New("failed to read request body")
		}
		return string(data), strings.TrimSpace(r.URL.Query().Get("source_label")), "csv", nil
	}
}

// HandleSyncStatus returns a handler reporting the knowledge base status.
// GET /api/v1/sync/status
func HandleSyncStatus(status SyncStatusReader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := status.Get(r.Context())
		if err != nil {
			logger.Error("failed to read sync status", "error", err)
			RespondInternalError(w, "Failed to read sync status")
			return
		}
		RespondJSON(w, http.StatusOK, st)
	}
}

// SourceListing is one archived upload with a time-limited download URL.
type SourceListing struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	DownloadURL  string    `json:"download_url,omitempty"`
}

// HandleListSources returns a handler listing archived source uploads
// with signed download URLs. Admin only.
// GET /api/v1/sync/sources
func HandleListSources(archive SourceArchive, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if archive == nil {
			RespondServiceUnavailable(w, "Source archive not configured")
			return
		}

		objects, err := archive.List(ctx, storage.PathSources+"/")
		if err != nil {
			logger.Error("failed to list archived sources", "error", err)
			RespondInternalError(w, "Failed to list archived sources")
			return
		}

		listings := make([]SourceListing, 0, len(objects))
		for _, obj := range objects {
			listing := SourceListing{
				Path:         obj.Key,
				Size:         obj.Size,
				LastModified: obj.LastModified,
			}
			url, err := archive.GenerateSignedURL(ctx, obj.Key, time.Hour)
			if err != nil {
				logger.Warn("failed to sign source url", "path", obj.Key, "error", err)
			} else {
				listing.DownloadURL = url
			}
			listings = append(listings, listing)
		}

		RespondJSON(w, http.StatusOK, map[string]any{"sources": listings})
	}
}
