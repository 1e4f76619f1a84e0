package llm

import (
	"errors"
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"

	"github.com/rowsage/rowsage/internal/apperr"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "429 maps to rate limit",
			err:  &openai.APIError{HTTPStatusCode: 429, Message: "slow down"},
			want: apperr.ErrRateLimited,
		},
		{
			name: "402 maps to quota exceeded",
			err:  &openai.APIError{HTTPStatusCode: 402, Message: "billing"},
			want: apperr.ErrQuotaExceeded,
		},
		{
			name: "500 maps to upstream",
			err:  &openai.APIError{HTTPStatusCode: 500, Message: "oops"},
			want: apperr.ErrUpstream,
		},
		{
			name: "transport error maps to upstream",
			err:  errors.New("connection refused"),
			want: apperr.ErrUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			assert.True(t, errors.Is(mapped, tt.want), "got %v", mapped)
		})
	}
}

func TestMapError_PreservesUpstreamBody(t *testing.T) {
	mapped := MapError(&openai.APIError{HTTPStatusCode: 503, Message: "backend unavailable"})
	assert.Contains(t, mapped.Error(), "backend unavailable")
	assert.Contains(t, mapped.Error(), "503")
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream("ab", "cd")

	f, err := s.Recv()
	assert.NoError(t, err)
	assert.Equal(t, "ab", f)

	f, err = s.Recv()
	assert.NoError(t, err)
	assert.Equal(t, "cd", f)

	_, err = s.Recv()
	assert.True(t, errors.Is(err, io.EOF))
	assert.NoError(t, s.Close())
}
