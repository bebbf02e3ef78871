package sender

import (
	"context"
	"time"
)

// Alert kinds raised by the Health Monitor, the Orchestrator and plugins.
const (
	KindIdle          = "idle"
	KindChildExited   = "child_exited"
	KindUnresponsive  = "unresponsive"
	KindConfigChanged = "config_changed"
)

// Alert is the JSON payload delivered to the alert webhook.
type Alert struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Service     string    `json:"service"`
	Role        string    `json:"role"`
	Host        string    `json:"host,omitempty"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	IdleSeconds float64   `json:"idle_seconds,omitempty"`
}

// Sender delivers alerts to an external endpoint.
// Implementations make a single attempt; callers treat delivery as best-effort.
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// NoopSender discards alerts. It is used when no webhook is configured.
type NoopSender struct{}

// Send discards the alert.
func (NoopSender) Send(context.Context, Alert) error { return nil }
