// Package chat orchestrates grounded question answering over SSE.
package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rowsage/rowsage/internal/llm"
	"github.com/rowsage/rowsage/pkg/logger"
)

// Sink is the client-facing stream surface a relay writes to.
type Sink interface {
	WriteEvent(event string, v any) error
	WriteDelta(content string) error
	WriteDone() error
}

// Relay forwards an upstream token stream to the sink and persists the
// accumulated answer exactly once via persist. Fragments reach the sink
// in upstream order, and persist is never called more than once.
type Relay interface {
	Relay(ctx context.Context, stream llm.TokenStream, sink Sink, persist func(ctx context.Context, answer string) error) error
}

// PassthroughRelay forwards fragments as they arrive and persists after
// the upstream stream ends. If the client disconnects mid-stream, the
// upstream drain and the persistence still complete server-side so the
// paid completion is not lost.
type PassthroughRelay struct {
	log *logger.Logger
}

// NewPassthroughRelay creates a PassthroughRelay.
func NewPassthroughRelay(log *logger.Logger) *PassthroughRelay {
	if log == nil {
		log = logger.Default()
	}
	return &PassthroughRelay{log: log.WithComponent("relay_passthrough")}
}

func (r *PassthroughRelay) Relay(ctx context.Context, stream llm.TokenStream, sink Sink, persist func(ctx context.Context, answer string) error) error {
	defer stream.Close()

	var answer strings.Builder
	clientGone := false

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil && answer.Len() > 0 {
				// The client disconnected and the cancellation reached
				// the upstream stream. The fragments received so far
				// are still persisted below.
				r.log.WithError(err).Debug("request context cancelled, persisting partial answer")
				clientGone = true
				break
			}
			// Upstream failed: nothing is persisted, the caller signals
			// the failure on the stream.
			return err
		}
		if fragment == "" {
			continue
		}

		answer.WriteString(fragment)

		if !clientGone {
			if werr := sink.WriteDelta(fragment); werr != nil {
				// Keep draining so the full answer can still be
				// persisted.
				clientGone = true
				r.log.WithError(werr).Debug("client write failed, continuing drain")
			}
		}
	}

	// Detached from the request context so a disconnect cannot cancel
	// the write.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := persist(persistCtx, answer.String()); err != nil {
		return err
	}

	if !clientGone {
		if err := sink.WriteDone(); err != nil {
			return err
		}
	}
	return nil
}

// ReplayRelay collects the full upstream answer, persists it, then
// replays it to the client in fixed-size fragments with a small delay so
// the UI still perceives streaming. A disconnect during replay cannot
// lose the answer: the row is already written.
type ReplayRelay struct {
	FragmentSize int
	Delay        time.Duration
	log          *logger.Logger
}

// NewReplayRelay creates a ReplayRelay with the default 6-character
// fragment size.
func NewReplayRelay(log *logger.Logger) *ReplayRelay {
	if log == nil {
		log = logger.Default()
	}
	return &ReplayRelay{
		FragmentSize: 6,
		Delay:        15 * time.Millisecond,
		log:          log.WithComponent("relay_replay"),
	}
}

func (r *ReplayRelay) Relay(ctx context.Context, stream llm.TokenStream, sink Sink, persist func(ctx context.Context, answer string) error) error {
	defer stream.Close()

	var answer strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		answer.WriteString(fragment)
	}

	if err := persist(ctx, answer.String()); err != nil {
		return err
	}

	size := r.FragmentSize
	if size <= 0 {
		size = 6
	}

	runes := []rune(answer.String())
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		if err := sink.WriteDelta(string(runes[start:end])); err != nil {
			// Client gone; the answer is already persisted.
			return nil
		}
		if r.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.Delay):
			}
		}
	}

	return sink.WriteDone()
}
