package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/pkg/log"
)

// Lifecycle errors, shared with the domain package so errors.Is matches either.
var (
	ErrNotRunning      = domain.ErrNotRunning
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
)

// ShutdownTimeout is the default maximum time to wait for a role's tasks.
const ShutdownTimeout = 30 * time.Second

// DefaultManager implements Manager with a state machine for lifecycle management.
type DefaultManager struct {
	mu           sync.RWMutex
	state        State
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       log.Logger
	eventEmitter EventEmitter
	failure      error
}

// NewManager creates a new lifecycle manager.
func NewManager(logger log.Logger, emitter EventEmitter) *DefaultManager {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &DefaultManager{
		state:        StateStopped,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *DefaultManager) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo attempts to transition to a new state.
// Returns an error if the transition is not valid.
func (l *DefaultManager) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state

	if err := validTransition(oldState, newState); err != nil {
		l.mu.Unlock()
		return err
	}

	l.state = newState
	l.mu.Unlock()

	// Emit event outside of lock
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Info("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)

	return nil
}

func validTransition(from, to State) error {
	switch from {
	case StateStopped:
		if to != StateStarting {
			return ErrNotRunning
		}
	case StateStarting:
		if to != StateRunning && to != StateStopping && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateRunning:
		if to != StateStopping && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateStopping:
		if to != StateStopped && to != StateCrashed {
			return ErrAlreadyRunning
		}
	case StateCrashed:
		if to != StateStarting {
			return ErrNotRunning
		}
	}
	return nil
}

// CanStart returns true if Start() can be called.
func (l *DefaultManager) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop returns true if Stop() can be called.
func (l *DefaultManager) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// SetCancel stores the cancel function for graceful shutdown.
func (l *DefaultManager) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

// Cancel triggers graceful shutdown.
func (l *DefaultManager) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Fail records the first fatal task error and cancels the remaining tasks.
func (l *DefaultManager) Fail(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	if l.failure == nil {
		l.failure = err
	}
	l.mu.Unlock()
	l.Cancel()
}

// Failure returns the error recorded by Fail, if any.
func (l *DefaultManager) Failure() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failure
}

// Go runs fn as a tracked worker.
func (l *DefaultManager) Go(fn func()) {
	l.AddWorker()
	go func() {
		defer l.WorkerDone()
		fn()
	}()
}

// AddWorker increments the worker count.
func (l *DefaultManager) AddWorker() {
	l.wg.Add(1)
}

// WorkerDone decrements the worker count.
func (l *DefaultManager) WorkerDone() {
	l.wg.Done()
}

// Wait blocks until every worker has finished.
func (l *DefaultManager) Wait() {
	l.wg.Wait()
}

// WaitWithTimeout waits for all workers to finish with a timeout.
// Returns ErrShutdownTimeout if the timeout expires.
func (l *DefaultManager) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		l.logger.Warn("shutdown timeout, forcing exit",
			log.Duration("timeout", timeout),
		)
		return ErrShutdownTimeout
	}
}
