package sse

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_Protocol(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent("citations", []string{"a"}))
	require.NoError(t, w.WriteDelta("Hel"))
	require.NoError(t, w.WriteDelta("lo"))
	require.NoError(t, w.WriteComment("heartbeat"))
	require.NoError(t, w.WriteDone())

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: citations\ndata: [\"a\"]\n\n"))
	assert.Contains(t, body, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
	assert.Contains(t, body, ": heartbeat\n\n")
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestDecoder_Feed(t *testing.T) {
	t.Run("accumulates fragments in order", func(t *testing.T) {
		d := NewDecoder()
		stream := "event: citations\ndata: []\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n"

		fragments := d.Feed([]byte(stream))
		assert.Equal(t, []string{"Hel", "lo"}, fragments)
		assert.True(t, d.Done())
	})

	t.Run("handles payloads split across reads", func(t *testing.T) {
		d := NewDecoder()
		full := "data: {\"choices\":[{\"delta\":{\"content\":\"split\"}}]}\n\ndata: [DONE]\n\n"

		var fragments []string
		// Feed one byte at a time to force buffering.
		for i := 0; i < len(full); i++ {
			fragments = append(fragments, d.Feed([]byte{full[i]})...)
		}

		assert.Equal(t, []string{"split"}, fragments)
		assert.True(t, d.Done())
	})

	t.Run("ignores comments and heartbeats", func(t *testing.T) {
		d := NewDecoder()
		fragments := d.Feed([]byte(": ping\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n"))
		assert.Equal(t, []string{"x"}, fragments)
	})

	t.Run("puts back unparseable data lines", func(t *testing.T) {
		d := NewDecoder()

		// A stray newline lands mid-payload; the decoder must wait for
		// more bytes instead of discarding the partial JSON.
		fragments := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"ab\n"))
		assert.Empty(t, fragments)

		fragments = d.Feed([]byte("c\"}}]}\n\n"))
		assert.Equal(t, []string{"abc"}, fragments)
	})

	t.Run("empty deltas are dropped", func(t *testing.T) {
		d := NewDecoder()
		fragments := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n"))
		assert.Empty(t, fragments)
	})
}
