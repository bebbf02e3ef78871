// Package orchestrator supervises the Recorder and Processor roles as child
// processes of the same executable.
//
// Each child gets a pidfile, a heartbeat artifact and a control pipe under
// the runtime folder. Liveness is judged by polling the heartbeat; a child
// whose heartbeat stops advancing is reported, and a child that exits is
// restarted with bounded exponential backoff. On shutdown every child is
// sent SIGTERM, killed after the grace period if still running, and all
// artifacts are removed.
package orchestrator
