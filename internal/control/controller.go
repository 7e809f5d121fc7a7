package control

import (
	"context"
	"fmt"
	"sync"

	"apisim/internal/core"
)

// Controller reads and writes one run's record. Every operation is a full
// read-modify-write through Store.Update, serialized in-process by mu.
type Controller struct {
	mu    sync.Mutex
	store Store
	runID string
	clock core.Clock
}

// StatusOption modifies a record alongside a state change.
type StatusOption func(*Record)

// WithTarget records the target request count.
func WithTarget(n int) StatusOption {
	return func(r *Record) { r.Target = n }
}

// WithError records an error message.
func WithError(msg string) StatusOption {
	return func(r *Record) { r.Error = msg }
}

// New creates the record for runID in the initializing state.
func New(ctx context.Context, store Store, runID string, clock core.Clock) (*Controller, error) {
	if clock == nil {
		clock = core.RealClock{}
	}
	now := clock.Now().UTC()
	rec := Record{
		RunID:     runID,
		State:     core.StateInitializing,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating control record: %w", err)
	}
	return &Controller{store: store, runID: runID, clock: clock}, nil
}

// Attach returns a controller for an existing record, as used by processes
// that steer a run they did not start.
func Attach(store Store, runID string) *Controller {
	return &Controller{store: store, runID: runID, clock: core.RealClock{}}
}

// RunID returns the run this controller manages.
func (c *Controller) RunID() string { return c.runID }

func (c *Controller) update(ctx context.Context, fn func(*Record) error) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Update(ctx, c.runID, func(r *Record) error {
		if err := fn(r); err != nil {
			return err
		}
		r.UpdatedAt = c.clock.Now().UTC()
		return nil
	})
}

// UpdateStatus moves the run to state, rejecting transitions the lifecycle
// does not allow.
func (c *Controller) UpdateStatus(ctx context.Context, state core.State, opts ...StatusOption) error {
	_, err := c.update(ctx, func(r *Record) error {
		if err := checkTransition(r.State, state); err != nil {
			return err
		}
		r.State = state
		for _, opt := range opts {
			opt(r)
		}
		return nil
	})
	return err
}

// UpdateProgress stores the completed and error counters.
func (c *Controller) UpdateProgress(ctx context.Context, completed, errors int) error {
	_, err := c.update(ctx, func(r *Record) error {
		r.Completed = completed
		r.Errors = errors
		return nil
	})
	return err
}

// RequestStop asks the run to stop.
func (c *Controller) RequestStop(ctx context.Context) error {
	return c.setFlags(ctx, func(r *Record) { r.StopRequested = true })
}

// RequestPause asks the run to pause.
func (c *Controller) RequestPause(ctx context.Context) error {
	return c.setFlags(ctx, func(r *Record) { r.PauseRequested = true })
}

// Resume clears a pause request.
func (c *Controller) Resume(ctx context.Context) error {
	return c.setFlags(ctx, func(r *Record) { r.PauseRequested = false })
}

func (c *Controller) setFlags(ctx context.Context, fn func(*Record)) error {
	_, err := c.update(ctx, func(r *Record) error {
		if r.State.IsTerminal() {
			return fmt.Errorf("%w: run is %s", ErrInvalidTransition, r.State)
		}
		fn(r)
		return nil
	})
	return err
}

// Current returns the stored record.
func (c *Controller) Current(ctx context.Context) (Record, error) {
	return c.store.Load(ctx, c.runID)
}

// StopRequested reports whether a stop was requested. Read errors count as no.
func (c *Controller) StopRequested(ctx context.Context) bool {
	rec, err := c.Current(ctx)
	return err == nil && rec.StopRequested
}

// PauseRequested reports whether a pause is in effect. Read errors count as no.
func (c *Controller) PauseRequested(ctx context.Context) bool {
	rec, err := c.Current(ctx)
	return err == nil && rec.PauseRequested
}

// Cleanup deletes the record.
func (c *Controller) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Delete(ctx, c.runID)
}
