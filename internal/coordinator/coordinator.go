// Package coordinator runs a fixed number of tasks over a bounded worker
// pool with submission throttling and cooperative pause and stop.
package coordinator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"apisim/internal/core"
	"apisim/internal/ratelimit"
)

// Task is one unit of work, numbered in submission order from 0.
type Task struct {
	Seq int
}

// Handler performs a task and returns its metric. It is called from worker
// goroutines concurrently.
type Handler func(ctx context.Context, t Task) core.Metric

// Harvester receives every metric on the coordinator's harvest loop, one at
// a time, in completion order.
type Harvester func(m core.Metric)

// Coordinator owns the pool for one run.
type Coordinator struct {
	workers   int
	throttle  *ratelimit.Throttle
	gate      *Gate
	handle    Handler
	harvest   Harvester
	stop      chan struct{}
	stopOnce  sync.Once
	submitted atomic.Int64
	harvested atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithThrottle spaces submissions.
func WithThrottle(t *ratelimit.Throttle) Option {
	return func(c *Coordinator) { c.throttle = t }
}

// WithGate shares a pause gate with the caller.
func WithGate(g *Gate) Option {
	return func(c *Coordinator) { c.gate = g }
}

// WithHarvester sets the completion callback.
func WithHarvester(h Harvester) Option {
	return func(c *Coordinator) { c.harvest = h }
}

func NewCoordinator(workers int, handle Handler, opts ...Option) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	c := &Coordinator{
		workers: workers,
		handle:  handle,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gate == nil {
		c.gate = NewGate()
	}
	if c.throttle == nil {
		c.throttle = ratelimit.NewThrottle(0)
	}
	return c
}

// Gate returns the pause gate.
func (c *Coordinator) Gate() *Gate { return c.gate }

// Pause halts submission and harvesting. In-flight tasks keep running.
func (c *Coordinator) Pause() { c.gate.Pause() }

// Resume undoes Pause.
func (c *Coordinator) Resume() { c.gate.Resume() }

// Stop cancels tasks not yet submitted. Submitted tasks still complete and
// are harvested.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.gate.Close()
	})
}

// Stopped reports whether Stop was called.
func (c *Coordinator) Stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Submitted is the number of tasks handed to workers so far.
func (c *Coordinator) Submitted() int { return int(c.submitted.Load()) }

// Harvested is the number of metrics delivered to the harvester so far.
func (c *Coordinator) Harvested() int { return int(c.harvested.Load()) }

// Run submits tasks 0..n-1 and returns once every submitted task has been
// harvested. Cancelling ctx behaves like Stop for submission and is also
// passed to handlers. A panic in a handler becomes a failure metric; a
// panic in the harvester ends the run with an error.
func (c *Coordinator) Run(ctx context.Context, n int) error {
	tasks := make(chan Task)
	results := make(chan core.Metric)

	release := context.AfterFunc(ctx, c.Stop)
	defer release()

	go c.submit(ctx, n, tasks)

	var g errgroup.Group
	for i := 0; i < c.workers; i++ {
		g.Go(func() error {
			for t := range tasks {
				results <- c.safeHandle(ctx, t)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var harvestErr error
	for m := range results {
		if harvestErr == nil {
			harvestErr = c.safeHarvest(m)
			if harvestErr != nil {
				c.Stop()
			}
		}
		c.harvested.Add(1)
		c.gate.Wait()
	}
	return harvestErr
}

func (c *Coordinator) submit(ctx context.Context, n int, tasks chan<- Task) {
	defer close(tasks)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := c.throttle.Wait(ctx); err != nil {
				return
			}
		}
		if !c.gate.Wait() {
			return
		}
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case tasks <- Task{Seq: i}:
			c.submitted.Add(1)
		}
	}
}

// safeHandle recovers handler panics and reports them as failed metrics.
func (c *Coordinator) safeHandle(ctx context.Context, t Task) (m core.Metric) {
	defer func() {
		if r := recover(); r != nil {
			m = core.Metric{Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return c.handle(ctx, t)
}

func (c *Coordinator) safeHarvest(m core.Metric) (err error) {
	if c.harvest == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in harvest loop: %v\n%s", r, debug.Stack())
		}
	}()
	c.harvest(m)
	return nil
}
