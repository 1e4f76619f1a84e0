package sse

import (
	"encoding/json"
	"strings"
)

// Decoder is a client-side incremental SSE decoder. Feed it raw byte
// chunks in arrival order; it buffers until complete newline-terminated
// lines are available and extracts content fragments from data records.
//
// A data line whose JSON payload does not parse is put back into the
// buffer to await more bytes rather than discarded, so payloads split
// across reads are never lost.
type Decoder struct {
	buf  strings.Builder
	done bool
}

// NewDecoder creates a new Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Done reports whether the [DONE] terminator has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed consumes a raw chunk and returns the content fragments of any
// complete data records it unlocked, in stream order.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf.Write(chunk)

	var fragments []string
	for {
		buffered := d.buf.String()
		idx := strings.IndexByte(buffered, '\n')
		if idx < 0 {
			break
		}

		line := strings.TrimRight(buffered[:idx], "\r")
		rest := buffered[idx+1:]

		fragment, consumed, isDone := d.decodeLine(line)
		if !consumed {
			// Put the line back without its newline so the next chunk
			// extends the payload instead of starting a fresh line.
			d.buf.Reset()
			d.buf.WriteString(line)
			d.buf.WriteString(rest)
			break
		}

		d.buf.Reset()
		d.buf.WriteString(rest)

		if isDone {
			d.done = true
			continue
		}
		if fragment != "" {
			fragments = append(fragments, fragment)
		}
	}

	return fragments
}

// decodeLine handles one complete line. consumed is false when the line
// holds a data payload that does not yet parse as JSON and must wait for
// more bytes.
func (d *Decoder) decodeLine(line string) (fragment string, consumed bool, isDone bool) {
	trimmed := strings.TrimSpace(line)

	// Blank record separators, comments, and named-event headers carry no
	// answer content.
	if trimmed == "" || strings.HasPrefix(trimmed, ":") || strings.HasPrefix(trimmed, "event:") {
		return "", true, false
	}

	if !strings.HasPrefix(trimmed, "data:") {
		return "", true, false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "[DONE]" {
		return "", true, true
	}

	var delta Delta
	if err := json.Unmarshal([]byte(payload), &delta); err != nil {
		return "", false, false
	}

	if len(delta.Choices) > 0 {
		fragment = delta.Choices[0].Delta.Content
	}
	return fragment, true, false
}
