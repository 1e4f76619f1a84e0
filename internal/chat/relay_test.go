package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowsage/rowsage/internal/llm"
)

// recordingSink captures what a relay writes.
type recordingSink struct {
	events   []string
	deltas   []string
	done     int
	failAt   int // delta index at which writes start failing; -1 disables
	writeErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{failAt: -1}
}

func (s *recordingSink) WriteEvent(event string, v any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) WriteDelta(content string) error {
	if s.failAt >= 0 && len(s.deltas) >= s.failAt {
		if s.writeErr == nil {
			s.writeErr = errors.New("client gone")
		}
		return s.writeErr
	}
	s.deltas = append(s.deltas, content)
	return nil
}

func (s *recordingSink) WriteDone() error {
	s.done++
	return nil
}

// failingStream yields fragments then an error instead of EOF.
type failingStream struct {
	fragments []string
	pos       int
	err       error
}

func (f *failingStream) Recv() (string, error) {
	if f.pos < len(f.fragments) {
		fr := f.fragments[f.pos]
		f.pos++
		return fr, nil
	}
	return "", f.err
}

func (f *failingStream) Close() error { return nil }

// contextStream fails Recv once its context is cancelled, the way a
// live upstream stream does.
type contextStream struct {
	ctx       context.Context
	fragments []string
	pos       int
}

func (s *contextStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	fr := s.fragments[s.pos]
	s.pos++
	return fr, nil
}

func (s *contextStream) Close() error { return nil }

// disconnectSink cancels the request context when a client write fails,
// matching how the HTTP server tears down a dropped connection.
type disconnectSink struct {
	*recordingSink
	cancel context.CancelFunc
}

func (s *disconnectSink) WriteDelta(content string) error {
	err := s.recordingSink.WriteDelta(content)
	if err != nil {
		s.cancel()
	}
	return err
}

type persistRecorder struct {
	calls   int
	answers []string
	err     error
}

func (p *persistRecorder) persist(ctx context.Context, answer string) error {
	p.calls++
	p.answers = append(p.answers, answer)
	return p.err
}

func TestPassthroughRelay(t *testing.T) {
	t.Run("forwards in order and persists once", func(t *testing.T) {
		sink := newRecordingSink()
		rec := &persistRecorder{}
		r := NewPassthroughRelay(nil)

		err := r.Relay(context.Background(), llm.NewSliceStream("Hel", "lo ", "world"), sink, rec.persist)
		require.NoError(t, err)

		assert.Equal(t, []string{"Hel", "lo ", "world"}, sink.deltas)
		assert.Equal(t, 1, sink.done)
		assert.Equal(t, 1, rec.calls)
		assert.Equal(t, "Hello world", rec.answers[0])
	})

	t.Run("upstream failure persists nothing", func(t *testing.T) {
		sink := newRecordingSink()
		rec := &persistRecorder{}
		r := NewPassthroughRelay(nil)

		upstream := &failingStream{fragments: []string{"par"}, err: errors.New("upstream died")}
		err := r.Relay(context.Background(), upstream, sink, rec.persist)
		require.Error(t, err)

		assert.Equal(t, 0, rec.calls)
		assert.Equal(t, 0, sink.done)
	})

	t.Run("client disconnect still persists the full answer", func(t *testing.T) {
		sink := newRecordingSink()
		sink.failAt = 1
		rec := &persistRecorder{}
		r := NewPassthroughRelay(nil)

		err := r.Relay(context.Background(), llm.NewSliceStream("a", "b", "c"), sink, rec.persist)
		require.NoError(t, err)

		assert.Equal(t, []string{"a"}, sink.deltas)
		assert.Equal(t, 0, sink.done)
		assert.Equal(t, 1, rec.calls)
		assert.Equal(t, "abc", rec.answers[0])
	})

	t.Run("cancelled request context persists the partial answer", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		inner := newRecordingSink()
		inner.failAt = 2
		sink := &disconnectSink{recordingSink: inner, cancel: cancel}
		rec := &persistRecorder{}
		r := NewPassthroughRelay(nil)

		stream := &contextStream{ctx: ctx, fragments: []string{"Hel", "lo ", "wor", "ld"}}
		err := r.Relay(ctx, stream, sink, rec.persist)
		require.NoError(t, err)

		assert.Equal(t, []string{"Hel", "lo "}, inner.deltas)
		assert.Equal(t, 0, inner.done)
		assert.Equal(t, 1, rec.calls)
		assert.Equal(t, "Hello wor", rec.answers[0])
	})

	t.Run("empty fragments are skipped", func(t *testing.T) {
		sink := newRecordingSink()
		rec := &persistRecorder{}
		r := NewPassthroughRelay(nil)

		err := r.Relay(context.Background(), llm.NewSliceStream("a", "", "b"), sink, rec.persist)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, sink.deltas)
		assert.Equal(t, "ab", rec.answers[0])
	})
}

func TestReplayRelay(t *testing.T) {
	t.Run("persists before any byte reaches the client", func(t *testing.T) {
		sink := newRecordingSink()
		var persistedBeforeWrite bool
		rec := &persistRecorder{}
		r := NewReplayRelay(nil)
		r.Delay = 0

		persist := func(ctx context.Context, answer string) error {
			persistedBeforeWrite = len(sink.deltas) == 0
			return rec.persist(ctx, answer)
		}

		err := r.Relay(context.Background(), llm.NewSliceStream("Hello", " world!"), sink, persist)
		require.NoError(t, err)

		assert.True(t, persistedBeforeWrite)
		assert.Equal(t, 1, rec.calls)
		assert.Equal(t, "Hello world!", rec.answers[0])
		assert.Equal(t, 1, sink.done)
	})

	t.Run("replays in six character fragments", func(t *testing.T) {
		sink := newRecordingSink()
		r := NewReplayRelay(nil)
		r.Delay = 0

		err := r.Relay(context.Background(), llm.NewSliceStream("abcdefghijklmn"), sink, (&persistRecorder{}).persist)
		require.NoError(t, err)

		assert.Equal(t, []string{"abcdef", "ghijkl", "mn"}, sink.deltas)
		assert.Equal(t, "abcdefghijklmn", strings.Join(sink.deltas, ""))
	})

	t.Run("identical persisted answer regardless of upstream fragmentation", func(t *testing.T) {
		fragmentations := [][]string{
			{"Hello world"},
			{"Hel", "lo wor", "ld"},
			{"H", "e", "l", "l", "o", " ", "w", "o", "r", "l", "d"},
		}

		for _, frags := range fragmentations {
			rec := &persistRecorder{}
			r := NewReplayRelay(nil)
			r.Delay = 0
			err := r.Relay(context.Background(), llm.NewSliceStream(frags...), newRecordingSink(), rec.persist)
			require.NoError(t, err)
			assert.Equal(t, "Hello world", rec.answers[0])
		}
	})

	t.Run("upstream failure persists nothing", func(t *testing.T) {
		rec := &persistRecorder{}
		r := NewReplayRelay(nil)

		upstream := &failingStream{fragments: []string{"par"}, err: errors.New("upstream died")}
		err := r.Relay(context.Background(), upstream, newRecordingSink(), rec.persist)
		require.Error(t, err)
		assert.Equal(t, 0, rec.calls)
	})

	t.Run("disconnect during replay keeps the persisted answer", func(t *testing.T) {
		sink := newRecordingSink()
		sink.failAt = 1
		rec := &persistRecorder{}
		r := NewReplayRelay(nil)
		r.Delay = 0

		err := r.Relay(context.Background(), llm.NewSliceStream("abcdefghijkl"), sink, rec.persist)
		require.NoError(t, err)
		assert.Equal(t, 1, rec.calls)
		assert.Equal(t, 0, sink.done)
	})
}
