// Package search serves autocomplete suggestions. A newer request for the
// same session and resource supersedes the one in flight.
package search

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSuperseded is the cancellation cause of a request replaced by a newer one.
var ErrSuperseded = errors.New("search: superseded by a newer request")

type inflight struct {
	token  string
	cancel context.CancelCauseFunc
}

// Coordinator tracks the in-flight request per key.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]inflight
}

// NewCoordinator builds an empty Coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{inflight: make(map[string]inflight)}
}

// Begin registers a request under key, cancelling the previous one with
// ErrSuperseded. The returned done func must be called when the request
// finishes.
func (c *Coordinator) Begin(parent context.Context, key string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	token := uuid.NewString()

	c.mu.Lock()
	if prev, ok := c.inflight[key]; ok {
		prev.cancel(ErrSuperseded)
	}
	c.inflight[key] = inflight{token: token, cancel: cancel}
	c.mu.Unlock()

	return ctx, func() {
		c.mu.Lock()
		if cur, ok := c.inflight[key]; ok && cur.token == token {
			delete(c.inflight, key)
		}
		c.mu.Unlock()
		cancel(context.Canceled)
	}
}

// InFlight reports the number of tracked requests.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Superseded reports whether ctx was cancelled by a newer request.
func Superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrSuperseded)
}
