package adcpship

import (
	"context"

	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/internal/orchestrator"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Snapshot is a point-in-time copy of the health counters.
type Snapshot = health.Snapshot

// ChildStatus describes one role managed by the Orchestrator.
type ChildStatus = orchestrator.ChildStatus

// Plugin extends a running Supervisor.
type Plugin interface {
	Name() string
	Initialize(ctx context.Context, cfg PluginConfig) error
	Shutdown(ctx context.Context) error
}

// PluginConfig is handed to every plugin on Start.
type PluginConfig struct {
	Service string
	Mode    Mode
	Logger  log.Logger
	Alerts  sender.Sender

	// Config is the validated configuration the process started with and
	// ConfigPath the file it was read from, empty when none was used.
	Config     Config
	ConfigPath string

	// Snapshot returns the current counters of this process.
	Snapshot func() Snapshot
	// Idle reports whether the process is inside an idle episode.
	Idle func() bool
	// Children lists managed roles; empty outside Orchestrator mode.
	Children func() []ChildStatus
}
