// Package collector records request metrics and aggregates them into
// summaries, error analyses and exported reports.
package collector

import (
	"sync"
	"time"

	"apisim/internal/core"
)

// Hook observes each metric after it has been appended.
type Hook interface {
	OnMetric(core.Metric)
}

// HookFunc adapts a function to Hook.
type HookFunc func(core.Metric)

func (f HookFunc) OnMetric(m core.Metric) { f(m) }

// Option configures a Collector.
type Option func(*Collector)

// WithClock sets the clock used for start, end and throughput.
func WithClock(c core.Clock) Option {
	return func(col *Collector) { col.clock = c }
}

// WithHook registers a hook.
func WithHook(h Hook) Option {
	return func(col *Collector) { col.hooks = append(col.hooks, h) }
}

var _ core.Reporter = (*Collector)(nil)

// Collector is an append-only, mutex-guarded metric log for one run.
// Record is synchronous and never drops a metric.
type Collector struct {
	runID string
	clock core.Clock
	hooks []Hook

	mu        sync.Mutex
	metrics   []core.Metric
	startTime time.Time
	endTime   time.Time
	summary   *Summary
}

// NewCollector creates a collector whose clock starts now.
func NewCollector(runID string, opts ...Option) *Collector {
	c := &Collector{
		runID:   runID,
		clock:   core.RealClock{},
		metrics: make([]core.Metric, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.clock.Now()
	return c
}

// RunID returns the run this collector belongs to.
func (c *Collector) RunID() string { return c.runID }

// Record appends a metric. Negative latencies are clamped to zero.
func (c *Collector) Record(m core.Metric) {
	if m.Latency < 0 {
		m.Latency = 0
	}
	m.LatencyMs = float64(m.Latency) / float64(time.Millisecond)
	if m.RunID == "" {
		m.RunID = c.runID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = m.EndTime
	}

	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	c.mu.Unlock()

	for _, h := range c.hooks {
		h.OnMetric(m)
	}
}

// Start resets the start time to now, so that setup work done before the
// first request is not counted in elapsed time or throughput. It has no
// effect once Finalize has been called.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary == nil {
		c.startTime = c.clock.Now()
	}
}

// RecordRequest fills the timing fields from start and end and records m.
func (c *Collector) RecordRequest(m core.Metric, start, end time.Time) {
	m.StartTime = start
	m.EndTime = end
	m.Latency = end.Sub(start)
	c.Record(m)
}

// Count returns the number of recorded metrics.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.metrics)
}

// Metrics returns a copy of the log.
func (c *Collector) Metrics() []core.Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

// snapshot copies the log together with the elapsed time it covers.
func (c *Collector) snapshot() ([]core.Metric, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Metric, len(c.metrics))
	copy(out, c.metrics)
	return out, c.elapsedLocked()
}

func (c *Collector) elapsedLocked() time.Duration {
	if !c.endTime.IsZero() {
		return c.endTime.Sub(c.startTime)
	}
	return c.clock.Since(c.startTime)
}

// Duration returns start to end once finalized, otherwise start to now.
func (c *Collector) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

// CurrentStatistics summarizes the log so far.
func (c *Collector) CurrentStatistics() Statistics {
	metrics, elapsed := c.snapshot()
	return ComputeStatistics(metrics, elapsed)
}

// StatusCodeDistribution counts metrics per status code.
func (c *Collector) StatusCodeDistribution() map[int]int {
	metrics, _ := c.snapshot()
	return StatusCodes(metrics)
}

// PerEndpointStatistics aggregates metrics per "METHOD path".
func (c *Collector) PerEndpointStatistics() map[string]EndpointStatistics {
	metrics, _ := c.snapshot()
	return ComputeEndpointStatistics(metrics)
}

// ErrorAnalysis groups failed metrics, listing the topN most common messages.
func (c *Collector) ErrorAnalysis(topN int) ErrorAnalysis {
	metrics, _ := c.snapshot()
	return AnalyzeErrors(metrics, topN)
}

// Finalize freezes the end time and returns the run summary. Only the first
// call freezes; later calls return the same summary.
func (c *Collector) Finalize() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary != nil {
		return *c.summary
	}
	c.endTime = c.clock.Now()
	c.summary = &Summary{
		RunID:      c.runID,
		StartTime:  c.startTime.UTC(),
		EndTime:    c.endTime.UTC(),
		Statistics: ComputeStatistics(c.metrics, c.elapsedLocked()),
	}
	return *c.summary
}

// Finalized reports whether Finalize has been called.
func (c *Collector) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.endTime.IsZero()
}

// Summary returns the run summary, finalized or not.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	if c.summary != nil {
		s := *c.summary
		c.mu.Unlock()
		return s
	}
	start := c.startTime
	c.mu.Unlock()

	return Summary{
		RunID:      c.runID,
		StartTime:  start.UTC(),
		Statistics: c.CurrentStatistics(),
	}
}
