package engine

import (
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"apisim/internal/collector"
	"apisim/internal/control"
	"apisim/internal/core"
)

// DefaultPollInterval is how often the control record is re-read for
// pause and stop requests written by other processes.
const DefaultPollInterval = 250 * time.Millisecond

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for the specification fetch, token
// exchange and every simulated request.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

// WithClock sets the clock. Tests use core.FakeClock.
func WithClock(c core.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the lifecycle logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStore sets the control store instead of opening the configured backend.
func WithStore(s control.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithObserver registers a status observer.
func WithObserver(o core.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithHook registers a collector hook, called for every recorded metric.
func WithHook(h collector.Hook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// WithRunID fixes the run id. The default is a random UUID.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithDebug dumps every request and response to w.
func WithDebug(w io.Writer) Option {
	return func(e *Engine) { e.debugOut = w }
}

// WithPollInterval sets how often the control record is polled.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}
