package heartbeat

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/pkg/log"
)

// DefaultInterval is how often a role refreshes its heartbeat artifact.
const DefaultInterval = 5 * time.Second

// Emitter periodically writes a Record for the running role.
type Emitter struct {
	file     *File
	role     string
	port     string
	runID    string
	interval time.Duration
	metrics  *health.Metrics
	state    func() string
	logger   log.Logger
	now      func() time.Time

	seq     uint64
	started time.Time
}

// NewEmitter creates an emitter writing to path. state reports the role's
// lifecycle state at each write and may be nil.
func NewEmitter(path, role string, interval time.Duration, metrics *health.Metrics, state func() string, logger log.Logger) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if state == nil {
		state = func() string { return "Running" }
	}
	return &Emitter{
		file:     NewFile(path),
		role:     role,
		runID:    uuid.NewString(),
		interval: interval,
		metrics:  metrics,
		state:    state,
		logger:   logger,
		now:      time.Now,
	}
}

// WithPort records the serial port on every heartbeat.
func (e *Emitter) WithPort(port string) *Emitter {
	e.port = port
	return e
}

// RunID identifies this process incarnation.
func (e *Emitter) RunID() string { return e.runID }

// Run writes a heartbeat immediately and then every interval until ctx is done.
func (e *Emitter) Run(ctx context.Context) {
	e.started = e.now()
	e.Beat()

	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Beat()
		}
	}
}

// Beat writes one record. Write failures are logged and retried on the next tick.
func (e *Emitter) Beat() {
	e.seq++
	rec := Record{
		Role:      e.role,
		PID:       os.Getpid(),
		RunID:     e.runID,
		Seq:       e.seq,
		State:     e.state(),
		Port:      e.port,
		StartedAt: e.started,
		UpdatedAt: e.now(),
	}
	if e.metrics != nil {
		rec.Metrics = e.metrics.Snapshot()
	}
	if err := e.file.Save(rec); err != nil {
		e.logger.Warn("heartbeat write failed", log.String("path", e.file.Path()), log.Err(err))
	}
}
