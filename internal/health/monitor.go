package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Default intervals for the monitor loop.
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultCheckInterval     = time.Second
	alertTimeout             = sender.DefaultTimeout
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Service           string
	Role              string
	IdleThreshold     time.Duration
	HeartbeatInterval time.Duration
	CheckInterval     time.Duration
}

// Monitor emits heartbeat log lines and raises one idle alert per idle episode.
type Monitor struct {
	cfg     MonitorConfig
	metrics *Metrics
	alerts  sender.Sender
	logger  log.Logger
	now     func() time.Time
	started time.Time

	mu       sync.Mutex
	idle     bool
	inflight sync.WaitGroup
}

// NewMonitor creates a monitor over metrics. A nil alerts sender disables delivery.
func NewMonitor(cfg MonitorConfig, metrics *Metrics, alerts sender.Sender, logger log.Logger) *Monitor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if alerts == nil {
		alerts = sender.NoopSender{}
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	m := &Monitor{
		cfg:     cfg,
		metrics: metrics,
		alerts:  alerts,
		logger:  logger,
		now:     time.Now,
	}
	m.started = m.now()
	return m
}

// Run emits heartbeats and checks for idleness until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	check := time.NewTicker(m.cfg.CheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			m.Heartbeat()
		case <-check.C:
			m.CheckIdle()
		}
	}
}

// Heartbeat logs one summary line of the current counters.
func (m *Monitor) Heartbeat() {
	s := m.metrics.Snapshot()
	fields := []log.Field{
		log.Uint64("frames", s.Frames),
		log.Uint64("parse_errors", s.ParseErrors),
		log.Uint64("persist_errors", s.PersistErrors),
		log.Time("last_frame_at", s.LastFrameAt),
	}
	if !s.LastFrameAt.IsZero() {
		fields = append(fields, log.Duration("last_frame_age", m.now().Sub(s.LastFrameAt)))
	}
	if s.SerialBytes > 0 {
		fields = append(fields,
			log.Uint64("serial_bytes", s.SerialBytes),
			log.Uint64("backup_errors", s.BackupErrors),
			log.Uint64("rotations", s.Rotations),
		)
	}
	m.logger.Info("heartbeat", fields...)
}

// Idle reports whether the monitor is inside an idle episode.
func (m *Monitor) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idle
}

// CheckIdle evaluates the idle threshold once. It returns true only when this
// call opened a new idle episode and dispatched its alert.
func (m *Monitor) CheckIdle() bool {
	if m.cfg.IdleThreshold <= 0 {
		return false
	}
	now := m.now()
	last := m.metrics.Snapshot().LastFrameAt
	ref := last
	if ref.IsZero() {
		ref = m.started
	}
	gap := now.Sub(ref)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gap <= m.cfg.IdleThreshold {
		if m.idle {
			m.idle = false
			m.logger.Info("frames resumed", log.Duration("idle_for", gap))
		}
		return false
	}
	if m.idle {
		return false
	}
	m.idle = true
	idleAlertsTotal.Inc()

	alert := sender.Alert{
		ID:          uuid.NewString(),
		Kind:        sender.KindIdle,
		Service:     m.cfg.Service,
		Role:        m.cfg.Role,
		Host:        hostname(),
		Message:     fmt.Sprintf("no frames for %s (threshold %s)", gap.Truncate(time.Second), m.cfg.IdleThreshold),
		At:          now,
		LastFrameAt: last,
		IdleSeconds: gap.Seconds(),
	}
	m.logger.Warn("idle threshold exceeded",
		log.Duration("idle_for", gap),
		log.Duration("threshold", m.cfg.IdleThreshold),
		log.String("alert_id", alert.ID),
	)
	m.dispatch(alert)
	return true
}

// dispatch delivers alert off the caller's goroutine. Failures are logged only.
func (m *Monitor) dispatch(alert sender.Alert) {
	Dispatch(m.alerts, alert, m.logger, &m.inflight)
}

// Dispatch sends alert once in the background with a bounded timeout.
// wg, when non-nil, tracks the delivery.
func Dispatch(s sender.Sender, alert sender.Alert, logger log.Logger, wg *sync.WaitGroup) {
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := s.Send(ctx, alert); err != nil {
			logger.Warn("alert delivery failed",
				log.String("alert_id", alert.ID),
				log.String("kind", alert.Kind),
				log.Err(err),
			)
		}
	}()
}

// WaitAlerts blocks until in-flight alert deliveries finish.
func (m *Monitor) WaitAlerts() {
	m.inflight.Wait()
}

func hostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}
