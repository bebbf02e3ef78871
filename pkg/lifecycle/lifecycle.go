package lifecycle

import (
	"context"
	"time"
)

// State is where a role sits in its Stopped, Starting, Running, Stopping
// cycle. Crashed is entered from any live state when the role fails.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{
	StateStopped:  "Stopped",
	StateStarting: "Starting",
	StateRunning:  "Running",
	StateStopping: "Stopping",
	StateCrashed:  "Crashed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// EventEmitter observes state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// StateMachine guards the transitions between States.
type StateMachine interface {
	State() State
	CanStart() bool
	CanStop() bool
	// TransitionTo fails when newState is not reachable from the current state.
	TransitionTo(newState State, reason string) error
}

// TaskGroup tracks the goroutines a role runs between Start and Stop.
// The first Fail cancels the context registered with SetCancel.
type TaskGroup interface {
	SetCancel(cancel context.CancelFunc)
	Cancel()
	Go(fn func())
	AddWorker()
	WorkerDone()
	Fail(err error)
	Failure() error
	Wait()
	// WaitWithTimeout returns ErrShutdownTimeout if workers outlive timeout.
	WaitWithTimeout(timeout time.Duration) error
}

// Manager is what a supervisor drives: a state machine plus its task group.
type Manager interface {
	StateMachine
	TaskGroup
}

var _ Manager = (*DefaultManager)(nil)
