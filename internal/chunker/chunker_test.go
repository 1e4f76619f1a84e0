package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeRow(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		record  []string
		want    string
	}{
		{
			name:    "all values present",
			headers: []string{"name", "age"},
			record:  []string{"Bob", "25"},
			want:    "name: Bob; age: 25",
		},
		{
			name:    "empty value omitted",
			headers: []string{"name", "age", "city"},
			record:  []string{"Alice", "", "Paris"},
			want:    "name: Alice; city: Paris",
		},
		{
			name:    "whitespace-only value omitted",
			headers: []string{"name", "note"},
			record:  []string{"Carol", "   "},
			want:    "name: Carol",
		},
		{
			name:    "fully empty row",
			headers: []string{"name", "age"},
			record:  []string{"", ""},
			want:    "",
		},
		{
			name:    "short record",
			headers: []string{"a", "b", "c"},
			record:  []string{"1", "2"},
			want:    "a: 1; b: 2",
		},
		{
			name:    "values trimmed",
			headers: []string{" name ", "age"},
			record:  []string{" Bob ", "25"},
			want:    "name: Bob; age: 25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SynthesizeRow(tt.headers, tt.record))
		})
	}
}

func TestSplitText(t *testing.T) {
	c, err := New(Config{WindowSize: 10, Overlap: 2})
	require.NoError(t, err)

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, c.SplitText("   "))
	})

	t.Run("fits in one window", func(t *testing.T) {
		windows := c.SplitText("short")
		require.Len(t, windows, 1)
		assert.Equal(t, 0, windows[0].Index)
		assert.Equal(t, "short", windows[0].Content)
	})

	t.Run("windows overlap", func(t *testing.T) {
		text := "abcdefghijklmnopqrstuvwxyz"
		windows := c.SplitText(text)
		require.True(t, len(windows) > 1)

		// Step is window minus overlap, so each window starts 8 runes
		// after the previous one and repeats its last 2 runes.
		assert.Equal(t, "abcdefghij", windows[0].Content)
		assert.Equal(t, "ijklmnopqr", windows[1].Content)

		var rebuilt strings.Builder
		rebuilt.WriteString(windows[0].Content)
		for i := 1; i < len(windows); i++ {
			rebuilt.WriteString(windows[i].Content[2:])
		}
		assert.Equal(t, text, rebuilt.String())
	})

	t.Run("indexes are sequential", func(t *testing.T) {
		windows := c.SplitText(strings.Repeat("x", 100))
		for i, w := range windows {
			assert.Equal(t, i, w.Index)
		}
	})
}

func TestCountTokens(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, 0, c.CountTokens(""))
	assert.True(t, c.CountTokens("hello world") > 0)
}
