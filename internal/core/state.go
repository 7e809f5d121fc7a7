package core

import "time"

// State is the lifecycle state of a simulation run.
type State string

const (
	StateInitializing         State = "initializing"
	StateLoadingSpecification State = "loading_specification"
	StateAnalyzingEndpoints   State = "analyzing_endpoints"
	StateReady                State = "ready"
	StateRunning              State = "running"
	StatePaused               State = "paused"
	StateCompleted            State = "completed"
	StateStopped              State = "stopped"
	StateFailed               State = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// Snapshot is a point-in-time view of run progress handed to observers.
type Snapshot struct {
	RunID              string        `json:"simulation_id"`
	State              State         `json:"status"`
	ProgressPercent    float64       `json:"progress_percent"`
	Completed          int           `json:"current_requests"`
	Target             int           `json:"target_requests"`
	Elapsed            time.Duration `json:"-"`
	ElapsedSeconds     float64       `json:"elapsed_time_seconds"`
	EstimatedRemaining float64       `json:"estimated_remaining_seconds"`
	Throughput         float64       `json:"current_rps"`
	Errors             int           `json:"error_count"`
	LastError          string        `json:"last_error,omitempty"`
}

// Observer receives status snapshots from the engine.
// Observers are called from the engine's harvest loop and must not block.
type Observer interface {
	OnStatus(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

func (f ObserverFunc) OnStatus(s Snapshot) { f(s) }

// NewSnapshot derives the rate and remaining-time fields from raw counters.
func NewSnapshot(runID string, state State, completed, target, errors int, elapsed time.Duration) Snapshot {
	s := Snapshot{
		RunID:          runID,
		State:          state,
		Completed:      completed,
		Target:         target,
		Errors:         errors,
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
	}
	if target > 0 {
		s.ProgressPercent = float64(completed) / float64(target) * 100
	}
	if elapsed > 0 {
		s.Throughput = float64(completed) / elapsed.Seconds()
	}
	if s.Throughput > 0 && target > completed {
		s.EstimatedRemaining = float64(target-completed) / s.Throughput
	}
	return s
}
