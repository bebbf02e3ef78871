// Package heartbeat maintains the per-role liveness artifacts the
// Orchestrator polls: an atomically replaced JSON Record and a one-line
// readiness signal written into the role's control pipe.
package heartbeat
