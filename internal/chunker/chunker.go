// Package chunker turns knowledge source material into retrievable chunks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Config holds chunker configuration.
type Config struct {
	// WindowSize and Overlap apply to free-text chunking, in characters.
	WindowSize int
	Overlap    int
	// Encoding names the tiktoken encoding used for token counts.
	Encoding string
}

// DefaultConfig returns default chunker configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize: 2000,
		Overlap:    200,
		Encoding:   "cl100k_base",
	}
}

// Chunker synthesizes chunk content from table rows and free text.
type Chunker struct {
	config    Config
	tokenizer *tiktoken.Tiktoken
}

// New creates a new Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 2000
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.WindowSize {
		cfg.Overlap = 200
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "cl100k_base"
	}

	tokenizer, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		tokenizer, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
		}
	}

	return &Chunker{config: cfg, tokenizer: tokenizer}, nil
}

// CountTokens returns the token count of text under the configured
// encoding.
func (c *Chunker) CountTokens(text string) int {
	return len(c.tokenizer.Encode(text, nil, nil))
}

// SynthesizeRow renders one data row as "Header1: Value1; Header2: Value2".
// Pairs with empty values are omitted. Returns "" when every cell is
// empty, which callers treat as a skippable row.
func SynthesizeRow(headers, record []string) string {
	var parts []string
	for i, header := range headers {
		if i >= len(record) {
			break
		}
		value := strings.TrimSpace(record[i])
		if value == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimSpace(header), value))
	}
	return strings.Join(parts, "; ")
}

// Window is one slice of free text produced by SplitText.
type Window struct {
	Index   int
	Content string
}

// SplitText chunks free text with a fixed-size sliding window. Windows
// overlap by the configured amount so sentences straddling a boundary
// stay retrievable.
func (c *Chunker) SplitText(text string) []Window {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	step := c.config.WindowSize - c.config.Overlap

	var windows []Window
	for start, idx := 0, 0; start < len(runes); start, idx = start+step, idx+1 {
		end := start + c.config.WindowSize
		if end > len(runes) {
			end = len(runes)
		}

		content := strings.TrimSpace(string(runes[start:end]))
		if content != "" {
			windows = append(windows, Window{Index: idx, Content: content})
		}

		if end == len(runes) {
			break
		}
	}

	return windows
}
