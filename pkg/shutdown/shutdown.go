// Package shutdown coordinates orderly teardown on SIGINT/SIGTERM.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc releases one component's resources.
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Handler collects cleanups and runs them newest-first when the process
// is told to stop.
type Handler struct {
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	cleanups []cleanup
}

// New creates a Handler. timeout bounds the whole teardown, not each
// individual cleanup.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	return &Handler{logger: logger, timeout: timeout}
}

// Register adds an anonymous cleanup.
func (h *Handler) Register(fn CleanupFunc) {
	h.RegisterNamed("", fn)
}

// RegisterNamed adds a cleanup identified by name in shutdown logs.
func (h *Handler) RegisterNamed(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, cleanup{name: name, fn: fn})
}

// Wait blocks until SIGINT or SIGTERM arrives, then runs Shutdown.
func (h *Handler) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	h.logger.Info("received shutdown signal", "signal", sig.String())
	h.Shutdown()
}

// Shutdown runs registered cleanups in reverse registration order under
// the configured timeout. Errors are logged, not returned, so one
// failing component cannot block the rest of the teardown.
func (h *Handler) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := make([]cleanup, len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(cleanups) - 1; i >= 0; i-- {
			c := cleanups[i]
			if c.name != "" {
				h.logger.Info("shutting down component", "component", c.name)
			}
			if err := c.fn(ctx); err != nil {
				h.logger.Error("cleanup failed", "component", c.name, "error", err)
			}
		}
	}()

	select {
	case <-done:
		h.logger.Info("graceful shutdown completed")
	case <-ctx.Done():
		h.logger.Warn("shutdown timed out, forcing exit")
	}
}
