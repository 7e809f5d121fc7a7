// Package progress renders a one-line terminal status for a running
// simulation from the engine's status snapshots.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"apisim/internal/core"
)

// DefaultInterval is how often the line is redrawn.
const DefaultInterval = time.Second

// Progress is a core.Observer. OnStatus only stores the snapshot; a ticker
// goroutine draws it, so the engine's harvest loop never waits on the
// terminal.
type Progress struct {
	interval time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopped  atomic.Bool
	quiet    bool
	output   io.Writer
	mu       sync.Mutex
	last     core.Snapshot
	seen     bool
}

func NewProgress(quiet bool) *Progress {
	return &Progress{
		interval: DefaultInterval,
		quiet:    quiet,
		output:   os.Stderr,
	}
}

func (p *Progress) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// SetInterval changes the redraw interval. Call before Start.
func (p *Progress) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// OnStatus records the latest snapshot.
func (p *Progress) OnStatus(s core.Snapshot) {
	p.mu.Lock()
	p.last = s
	p.seen = true
	p.mu.Unlock()
}

func (p *Progress) Start() {
	if p.quiet {
		return
	}
	p.stopCh = make(chan struct{})
	p.ticker = time.NewTicker(p.interval)
	go p.run()
}

func (p *Progress) run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-p.ticker.C:
			p.printProgress()
		}
	}
}

func (p *Progress) printProgress() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.seen {
		return
	}
	fmt.Fprintf(p.output, "\r\033[K%s", Line(p.last))
}

// Line formats a snapshot as a single status line.
func Line(s core.Snapshot) string {
	elapsed := s.Elapsed.Round(time.Second)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60
	errorRate := 0.0
	if s.Completed > 0 {
		errorRate = float64(s.Errors) / float64(s.Completed) * 100
	}
	line := fmt.Sprintf("[%02d:%02d] %s %d/%d (%.0f%%) | RPS: %.1f | Errors: %d (%.1f%%)",
		mins, secs, s.State, s.Completed, s.Target, s.ProgressPercent, s.Throughput, s.Errors, errorRate)
	if s.EstimatedRemaining > 0 {
		line += fmt.Sprintf(" | ETA: %s", (time.Duration(s.EstimatedRemaining * float64(time.Second))).Round(time.Second))
	}
	return line
}

func (p *Progress) Stop() {
	if p.quiet || p.stopped.Swap(true) {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K")
	p.mu.Unlock()
}

func (p *Progress) Print(message string) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K%s\n", message)
	p.mu.Unlock()
}

func (p *Progress) Printf(format string, args ...any) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	fmt.Fprintf(p.output, "\r\033[K"+format+"\n", args...)
	p.mu.Unlock()
}
