package heartbeat

import (
	"time"

	"github.com/bft-labs/adcpship/internal/health"
)

// Record is the per-role liveness artifact read by the Orchestrator.
// Seq advances on every write; a stale Seq means the role stopped making progress.
type Record struct {
	Role      string          `json:"role"`
	PID       int             `json:"pid"`
	RunID     string          `json:"run_id"`
	Seq       uint64          `json:"seq"`
	State     string          `json:"state"`
	Port      string          `json:"port,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Metrics   health.Snapshot `json:"metrics"`
}
