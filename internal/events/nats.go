// Package events distributes knowledge base change notifications across
// service instances over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectSyncCompleted carries sync completion events. Every instance
// subscribes and drops its retrieval caches on receipt.
const SubjectSyncCompleted = "kb.sync.completed"

// Config holds NATS connection configuration.
type Config struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		Name:           "rowsage",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// SyncCompletedEvent is the payload published after every sync.
type SyncCompletedEvent struct {
	ChunkCount  int       `json:"chunk_count"`
	SourceLabel string    `json:"source_label"`
	SyncedAt    time.Time `json:"synced_at"`
}

// Bus wraps the NATS connection for sync event publish/subscribe.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
	subs   []*nats.Subscription
}

// NewBus connects to NATS and returns a Bus.
func NewBus(cfg Config, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "events")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(conn *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			log.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			log.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Bus{conn: conn, logger: log}, nil
}

// SyncCompleted publishes a sync completion event.
func (b *Bus) SyncCompleted(ctx context.Context, chunkCount int, sourceLabel string) error {
	event := SyncCompletedEvent{
		ChunkCount:  chunkCount,
		SourceLabel: sourceLabel,
		SyncedAt:    time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode sync event: %w", err)
	}

	if err := b.conn.Publish(SubjectSyncCompleted, data); err != nil {
		return fmt.Errorf("failed to publish sync event: %w", err)
	}

	b.logger.Info("published sync event",
		"subject", SubjectSyncCompleted,
		"chunk_count", chunkCount,
	)
	return nil
}

// OnSyncCompleted subscribes to sync completion events. The handler runs
// on the NATS callback goroutine.
func (b *Bus) OnSyncCompleted(handler func(SyncCompletedEvent)) error {
	sub, err := b.conn.Subscribe(SubjectSyncCompleted, func(msg *nats.Msg) {
		var event SyncCompletedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to decode sync event", "error", err)
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", SubjectSyncCompleted, err)
	}

	b.subs = append(b.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			b.logger.Warn("failed to drain subscription", "error", err)
		}
	}
	return b.conn.Drain()
}
