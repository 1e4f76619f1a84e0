// Package sse implements the Server-Sent Events wire protocol used for
// streaming answers.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Delta is the incremental-fragment payload. It mirrors the OpenAI chat
// completion chunk shape the web client already parses.
type Delta struct {
	Choices []DeltaChoice `json:"choices"`
}

// DeltaChoice holds one streamed content fragment.
type DeltaChoice struct {
	Delta DeltaContent `json:"delta"`
}

// DeltaContent is the fragment text.
type DeltaContent struct {
	Content string `json:"content"`
}

// Writer writes SSE records and flushes after each one so fragments reach
// the client without buffering.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets streaming headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent sends a named event whose data is the JSON encoding of v.
func (w *Writer) WriteEvent(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteDelta sends one content fragment.
func (w *Writer) WriteDelta(content string) error {
	data, err := json.Marshal(Delta{Choices: []DeltaChoice{{Delta: DeltaContent{Content: content}}}})
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write delta: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteDone terminates the stream. Clients treat a stream that closes
// without this record as a failure.
func (w *Writer) WriteDone() error {
	if _, err := io.WriteString(w.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write done: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteComment sends a comment line. Clients must ignore lines starting
// with a colon; useful as a heartbeat.
func (w *Writer) WriteComment(comment string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("write comment: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// WriteError signals a mid-stream failure. Once the citations preamble is
// out, the response has committed to SSE and cannot downgrade to a JSON
// error body.
func (w *Writer) WriteError(code, message string) error {
	return w.WriteEvent("error", map[string]string{
		"code":    code,
		"message": message,
	})
}
