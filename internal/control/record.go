// Package control persists the state of a simulation run so that the engine
// and other processes can observe and steer it.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"apisim/internal/core"
)

var (
	// ErrNotFound is returned when no record exists for a run.
	ErrNotFound = errors.New("control record not found")
	// ErrInvalidTransition is returned for state changes the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Record is the persisted control state of one run.
type Record struct {
	RunID          string     `json:"simulation_id"`
	State          core.State `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Completed      int        `json:"completed_requests"`
	Errors         int        `json:"error_count"`
	Target         int        `json:"target_requests"`
	StopRequested  bool       `json:"stop_requested"`
	PauseRequested bool       `json:"pause_requested"`
	Error          string     `json:"error_message,omitempty"`
}

// Store persists records. Update is a read-modify-write that must be atomic
// with respect to every other writer of the same store.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Load(ctx context.Context, runID string) (Record, error)
	Update(ctx context.Context, runID string, fn func(*Record) error) (Record, error)
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

var transitions = map[core.State][]core.State{
	core.StateInitializing:         {core.StateLoadingSpecification},
	core.StateLoadingSpecification: {core.StateAnalyzingEndpoints},
	core.StateAnalyzingEndpoints:   {core.StateReady},
	core.StateReady:                {core.StateRunning},
	core.StateRunning:              {core.StatePaused, core.StateCompleted, core.StateStopped},
	core.StatePaused:               {core.StateRunning, core.StateCompleted, core.StateStopped},
}

// CanTransition reports whether from -> to is allowed. Failed is reachable
// from every non-terminal state and nothing leaves a terminal state.
func CanTransition(from, to core.State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == core.StateFailed || from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to core.State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
