// Package lifecycle provides orchestration and state machine functionality.
//
// This package manages the lifecycle of a running role (Recording,
// Processing or Orchestrator), including state transitions (Stopped,
// Starting, Running, Stopping, Crashed), graceful shutdown with timeout,
// worker coordination, and the jittered backoff used for serial
// reconnects and child restarts.
//
// # Usage
//
// Create a lifecycle manager:
//
//	manager := lifecycle.NewManager(logger, eventEmitter)
//
//	if !manager.CanStart() {
//	    return ErrAlreadyRunning
//	}
//
//	if err := manager.TransitionTo(lifecycle.StateStarting, "starting"); err != nil {
//	    return err
//	}
//
//	manager.Go(func() { serialIntake(ctx) })
//	manager.Go(func() { heartbeat(ctx) })
//
//	// Graceful shutdown
//	if err := manager.WaitWithTimeout(30 * time.Second); err != nil {
//	    return ErrShutdownTimeout
//	}
//
// # State Machine
//
// Valid state transitions:
//   - Stopped -> Starting
//   - Starting -> Running, Stopping, Crashed
//   - Running -> Stopping, Crashed
//   - Stopping -> Stopped, Crashed
//   - Crashed -> Starting
package lifecycle
