package domain

import "errors"

// Domain errors represent role-level failure conditions.
// They are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("adcpship: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("adcpship: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("adcpship: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("adcpship: invalid configuration")

	// ErrBackupEscalated ends the Recorder role after too many consecutive backup write failures.
	ErrBackupEscalated = errors.New("adcpship: backup writes failing")

	// ErrSerialExhausted ends the Recorder role when the serial device cannot be reopened.
	ErrSerialExhausted = errors.New("adcpship: serial reconnect attempts exhausted")

	// ErrOutputUnavailable is returned when an output directory cannot be created at all.
	ErrOutputUnavailable = errors.New("adcpship: output directory unavailable")

	// ErrProcessorLocked is returned when another Processor owns the handoff folder.
	ErrProcessorLocked = errors.New("adcpship: handoff folder locked by another processor")

	// ErrOrchestratorLocked is returned when another Orchestrator owns the runtime directory.
	ErrOrchestratorLocked = errors.New("adcpship: runtime directory locked by another orchestrator")
)
