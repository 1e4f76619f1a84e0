// Package llm wraps the upstream chat completion service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rowsage/rowsage/internal/apperr"
	"github.com/rowsage/rowsage/pkg/logger"
)

// TokenStream yields answer fragments in upstream order. Recv returns
// io.EOF when the upstream stream ends normally.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Completer streams a completion for a composed prompt.
type Completer interface {
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
}

// Config holds completion service configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// DefaultConfig returns default completer configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:      apiKey,
		Model:       openai.GPT4oMini,
		MaxTokens:   1024,
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// OpenAICompleter implements Completer against an OpenAI-compatible chat
// completion endpoint.
type OpenAICompleter struct {
	client *openai.Client
	config Config
	log    *logger.Logger
}

// NewOpenAICompleter creates a new OpenAICompleter.
func NewOpenAICompleter(cfg Config, log *logger.Logger) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAICompleter{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		log:    log.WithComponent("completer"),
	}, nil
}

// Stream opens an upstream completion stream for the prompt pair.
func (c *OpenAICompleter) Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error) {
	streamCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	stream, err := c.client.CreateChatCompletionStream(streamCtx, req)
	if err != nil {
		cancel()
		return nil, MapError(err)
	}

	return &openaiStream{stream: stream, cancel: cancel}, nil
}

// openaiStream adapts the SDK stream to TokenStream.
type openaiStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
}

func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", MapError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openaiStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

// SliceStream is a TokenStream over a fixed set of fragments.
type SliceStream struct {
	fragments []string
	pos       int
}

// NewSliceStream creates a TokenStream that yields the given fragments in
// order, then io.EOF.
func NewSliceStream(fragments ...string) *SliceStream {
	return &SliceStream{fragments: fragments}
}

func (s *SliceStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *SliceStream) Close() error { return nil }

// MapError translates upstream failures into the local error taxonomy.
// 429 and 402 pass through with actionable user-facing messages; other
// non-2xx responses surface the upstream body.
func MapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return fmt.Errorf("%w: %v", apperr.ErrRateLimited, err)
		case 402:
			return fmt.Errorf("%w: %v", apperr.ErrQuotaExceeded, err)
		default:
			return fmt.Errorf("%w: upstream status %d: %s", apperr.ErrUpstream, apiErr.HTTPStatusCode, apiErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", apperr.ErrUpstream, err)
}
