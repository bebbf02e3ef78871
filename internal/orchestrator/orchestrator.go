package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/internal/heartbeat"
	"github.com/bft-labs/adcpship/pkg/lifecycle"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Restart policies for a child that exits on its own.
const (
	RestartBackoff = "backoff"
	RestartNone    = "none"
)

const (
	defaultPollInterval     = time.Second
	defaultHeartbeatTimeout = 30 * time.Second
	defaultShutdownGrace    = 10 * time.Second
	defaultRestartInitial   = time.Second
	defaultRestartMax       = 30 * time.Second

	// Upper bound on waiting for a child after SIGKILL.
	killWait = 5 * time.Second
)

// DefaultRoles are the children managed in Orchestrator mode.
var DefaultRoles = []RoleSpec{
	{Name: "recorder", Mode: "Recording"},
	{Name: "processor", Mode: "Processing"},
}

// Config configures an Orchestrator.
type Config struct {
	Service    string
	Executable string
	// Arguments placed before the per-role flags.
	BaseArgs   []string
	ConfigPath string
	RuntimeDir string
	Roles      []RoleSpec
	// Extra environment for children, as KEY=value.
	Env []string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	PollInterval      time.Duration
	ShutdownGrace     time.Duration

	RestartPolicy  string
	MaxRestarts    int
	RestartInitial time.Duration
	RestartMax     time.Duration
}

// ChildStatus is a point-in-time view of one managed role.
type ChildStatus struct {
	Role          string    `json:"role"`
	Mode          string    `json:"mode"`
	PID           int       `json:"pid"`
	Running       bool      `json:"running"`
	Ready         bool      `json:"ready"`
	Unresponsive  bool      `json:"unresponsive"`
	Restarts      int       `json:"restarts"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Orchestrator launches each role as a child process of the same
// executable, watches their heartbeat artifacts and tears everything down
// on shutdown.
type Orchestrator struct {
	cfg     Config
	metrics *health.Metrics
	alerts  sender.Sender
	logger  log.Logger
	now     func() time.Time
	signal  func(pid int, sig unix.Signal) error

	lock *flock.Flock

	mu       sync.Mutex
	children []*child
	inflight sync.WaitGroup
}

// New creates an Orchestrator. alerts may be nil.
func New(cfg Config, metrics *health.Metrics, alerts sender.Sender, logger log.Logger) (*Orchestrator, error) {
	if cfg.RuntimeDir == "" {
		return nil, fmt.Errorf("%w: runtime_dir is empty", domain.ErrInvalidConfig)
	}
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = DefaultRoles
	}
	switch cfg.RestartPolicy {
	case "":
		cfg.RestartPolicy = RestartBackoff
	case RestartBackoff, RestartNone:
	default:
		return nil, fmt.Errorf("%w: restart_policy %q", domain.ErrInvalidConfig, cfg.RestartPolicy)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	if cfg.RestartInitial <= 0 {
		cfg.RestartInitial = defaultRestartInitial
	}
	if cfg.RestartMax <= 0 {
		cfg.RestartMax = defaultRestartMax
	}
	if metrics == nil {
		metrics = health.NewMetrics()
	}
	if alerts == nil {
		alerts = sender.NoopSender{}
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	o := &Orchestrator{cfg: cfg, metrics: metrics, alerts: alerts, logger: logger, now: time.Now, signal: signalGroup}
	for _, spec := range cfg.Roles {
		o.children = append(o.children, &child{
			spec:    spec,
			pidPath: PidFile(cfg.RuntimeDir, spec.Name),
			hbPath:  HeartbeatFile(cfg.RuntimeDir, spec.Name),
			ctlPath: ControlFile(cfg.RuntimeDir, spec.Name),
			logPath: LogFile(cfg.RuntimeDir, spec.Name),
			backoff: lifecycle.NewBackoff(cfg.RestartInitial, cfg.RestartMax),
		})
	}
	return o, nil
}

// Run starts every role and supervises them until ctx is done, then shuts
// them down. It returns domain.ErrOrchestratorLocked when another
// Orchestrator owns the runtime folder and domain.ErrShutdownTimeout when a
// child had to be killed.
func (o *Orchestrator) Run(ctx context.Context) error {
	dir := o.cfg.RuntimeDir
	if err := os.MkdirAll(filepath.Join(dir, logDir), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOutputUnavailable, dir, err)
	}

	o.lock = flock.New(filepath.Join(dir, lockName))
	ok, err := o.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock runtime folder: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrchestratorLocked, dir)
	}

	if err := writePID(PidFile(dir, SelfRole), os.Getpid()); err != nil {
		o.logger.Warn("pidfile write failed", log.Err(err))
	}
	selfCtx, stopSelf := context.WithCancel(context.Background())
	selfDone := make(chan struct{})
	emitter := heartbeat.NewEmitter(HeartbeatFile(dir, SelfRole), SelfRole, o.cfg.HeartbeatInterval, o.metrics, nil, o.logger)
	go func() {
		defer close(selfDone)
		emitter.Run(selfCtx)
	}()

	o.mu.Lock()
	for _, c := range o.children {
		if err := makeControl(c.ctlPath); err != nil {
			o.logger.Warn("control pipe unavailable", log.String("role", c.spec.Name), log.Err(err))
		} else if f, err := os.OpenFile(c.ctlPath, os.O_RDWR|unix.O_NONBLOCK, 0); err != nil {
			o.logger.Warn("control pipe unavailable", log.String("role", c.spec.Name), log.Err(err))
		} else {
			c.ctl = f
			go readControl(c, f, o.logger.With(log.String("role", c.spec.Name)))
		}
		if err := o.spawn(c); err != nil {
			o.logger.Error("spawn failed", log.String("role", c.spec.Name), log.Err(err))
			o.scheduleRestart(c, o.now())
		}
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator started", log.String("runtime_dir", dir), log.Int("roles", len(o.children)))

	t := time.NewTicker(o.cfg.PollInterval)
	defer t.Stop()
supervise:
	for {
		select {
		case <-ctx.Done():
			break supervise
		case <-t.C:
			o.check(o.now())
		}
	}

	err = o.shutdown()

	stopSelf()
	<-selfDone
	if rerr := removeAll(PidFile(dir, SelfRole), PidFile(dir, SelfRole)+".tmp"); rerr != nil {
		o.logger.Warn("artifact cleanup failed", log.Err(rerr))
	}
	if rerr := heartbeat.NewFile(HeartbeatFile(dir, SelfRole)).Remove(); rerr != nil {
		o.logger.Warn("artifact cleanup failed", log.Err(rerr))
	}
	_ = o.lock.Unlock()
	_ = os.Remove(o.lock.Path())

	o.logger.Info("orchestrator stopped")
	return err
}

// spawn launches c. Callers hold o.mu.
func (o *Orchestrator) spawn(c *child) error {
	logFile, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	args := append([]string{}, o.cfg.BaseArgs...)
	if o.cfg.ConfigPath != "" {
		args = append(args, "--config", o.cfg.ConfigPath)
	}
	args = append(args, "--mode", c.spec.Mode)

	cmd := exec.Command(o.cfg.Executable, args...)
	cmd.Env = append(os.Environ(), o.cfg.Env...)
	cmd.Env = append(cmd.Env,
		EnvHeartbeatFile+"="+c.hbPath,
		EnvControlFile+"="+c.ctlPath,
		"ADCP_LOG_FORMAT=json",
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	// A heartbeat left by a previous incarnation must not count as progress.
	_ = heartbeat.NewFile(c.hbPath).Remove()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return err
	}

	now := o.now()
	done := make(chan struct{})
	c.cmd = cmd
	c.done = done
	c.waitErr = nil
	c.exitSeen = false
	c.startedAt = now
	c.lastAdvance = now
	c.lastSeq = 0
	c.runID = ""
	c.unresponsive = false
	c.restartAt = time.Time{}
	c.ready.Store(false)

	go func() {
		err := cmd.Wait()
		logFile.Close()
		o.mu.Lock()
		c.waitErr = err
		o.mu.Unlock()
		close(done)
	}()

	if err := writePID(c.pidPath, cmd.Process.Pid); err != nil {
		o.logger.Warn("pidfile write failed", log.String("role", c.spec.Name), log.Err(err))
	}
	o.logger.Info("child started",
		log.String("role", c.spec.Name),
		log.String("mode", c.spec.Mode),
		log.Int("pid", cmd.Process.Pid),
		log.Int("restarts", c.restarts))
	return nil
}

// check runs one supervision pass.
func (o *Orchestrator) check(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, c := range o.children {
		if c.running() {
			o.checkHeartbeat(c, now)
			continue
		}
		if c.done != nil && !c.exitSeen {
			o.handleExit(c, now)
		}
		if !c.restartAt.IsZero() && !now.Before(c.restartAt) {
			if err := o.spawn(c); err != nil {
				o.logger.Error("restart failed", log.String("role", c.spec.Name), log.Err(err))
				o.scheduleRestart(c, now)
			}
		}
	}
}

// checkHeartbeat flags a child whose heartbeat stopped advancing. Staleness
// alerts only; the process is left alone.
func (o *Orchestrator) checkHeartbeat(c *child, now time.Time) {
	if c.observeHeartbeat(now) {
		if c.unresponsive {
			c.unresponsive = false
			o.logger.Info("child responsive again", log.String("role", c.spec.Name))
		}
		if c.restarts > 0 && now.Sub(c.startedAt) >= o.cfg.HeartbeatTimeout {
			c.restarts = 0
			c.backoff.Reset()
		}
		return
	}
	stale := now.Sub(c.lastAdvance)
	if c.unresponsive || stale <= o.cfg.HeartbeatTimeout {
		return
	}
	c.unresponsive = true
	o.logger.Warn("child unresponsive",
		log.String("role", c.spec.Name),
		log.Int("pid", c.pid()),
		log.Duration("stale_for", stale))
	o.alert(sender.KindUnresponsive, c, fmt.Sprintf("%s heartbeat stale for %s", c.spec.Name, stale.Truncate(time.Second)))
}

func (o *Orchestrator) handleExit(c *child, now time.Time) {
	c.exitSeen = true
	_ = removeAll(c.pidPath)
	o.logger.Error("child exited",
		log.String("role", c.spec.Name),
		log.Int("pid", c.pid()),
		log.Int("exit_code", exitCode(c.waitErr)),
		log.Err(c.waitErr))
	o.alert(sender.KindChildExited, c, fmt.Sprintf("%s exited with code %d", c.spec.Name, exitCode(c.waitErr)))
	o.scheduleRestart(c, now)
}

func (o *Orchestrator) scheduleRestart(c *child, now time.Time) {
	if o.cfg.RestartPolicy == RestartNone {
		o.logger.Warn("restart policy none; role stays down", log.String("role", c.spec.Name))
		c.gaveUp = true
		return
	}
	if o.cfg.MaxRestarts > 0 && c.restarts >= o.cfg.MaxRestarts {
		o.logger.Error("restart limit reached; role stays down",
			log.String("role", c.spec.Name),
			log.Int("restarts", c.restarts))
		c.gaveUp = true
		return
	}
	delay := c.backoff.Next()
	c.restarts++
	c.restartAt = now.Add(delay)
	o.logger.Info("restart scheduled", log.String("role", c.spec.Name), log.Duration("in", delay))
}

func (o *Orchestrator) alert(kind string, c *child, msg string) {
	host, _ := os.Hostname()
	health.Dispatch(o.alerts, sender.Alert{
		ID:      uuid.NewString(),
		Kind:    kind,
		Service: o.cfg.Service,
		Role:    c.spec.Name,
		Host:    host,
		Message: msg,
		At:      o.now(),
	}, o.logger, &o.inflight)
}

// shutdown terminates every running child, waiting up to the grace period
// before killing, and removes the children's artifacts.
func (o *Orchestrator) shutdown() error {
	// Only groups led by a child still running now are ours to signal; a
	// reaped child's pgid may already belong to another process.
	o.mu.Lock()
	var running []*child
	var groups []int
	for _, c := range o.children {
		c.restartAt = time.Time{}
		if c.running() {
			running = append(running, c)
			groups = append(groups, c.pid())
		}
	}
	o.mu.Unlock()

	for _, c := range running {
		o.logger.Info("stopping child", log.String("role", c.spec.Name), log.Int("pid", c.pid()))
		if err := o.signal(c.pid(), unix.SIGTERM); err != nil {
			o.logger.Warn("terminate failed", log.String("role", c.spec.Name), log.Err(err))
		}
	}

	timer := time.NewTimer(o.cfg.ShutdownGrace)
	defer timer.Stop()
	expired := false
	killed := 0
	for _, c := range running {
		if !expired {
			select {
			case <-c.done:
				continue
			case <-timer.C:
				expired = true
			}
		}
		select {
		case <-c.done:
			continue
		default:
		}
		o.logger.Warn("child ignored termination; killing",
			log.String("role", c.spec.Name),
			log.Int("pid", c.pid()),
			log.Duration("grace", o.cfg.ShutdownGrace))
		_ = o.signal(c.pid(), unix.SIGKILL)
		select {
		case <-c.done:
		case <-time.After(killWait):
			o.logger.Error("child did not exit after kill", log.String("role", c.spec.Name), log.Int("pid", c.pid()))
		}
		killed++
	}

	// Sweep grandchildren left in the groups of children stopped above.
	for _, pgid := range groups {
		if pgid > 0 {
			_ = o.signal(pgid, unix.SIGKILL)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range o.children {
		if c.ctl != nil {
			c.ctl.Close()
			c.ctl = nil
		}
		if err := removeAll(c.pidPath, c.pidPath+".tmp", c.ctlPath); err != nil {
			o.logger.Warn("artifact cleanup failed", log.String("role", c.spec.Name), log.Err(err))
		}
		if err := heartbeat.NewFile(c.hbPath).Remove(); err != nil {
			o.logger.Warn("artifact cleanup failed", log.String("role", c.spec.Name), log.Err(err))
		}
	}

	if killed > 0 {
		return fmt.Errorf("%w: %d child(ren) killed after %s", domain.ErrShutdownTimeout, killed, o.cfg.ShutdownGrace)
	}
	return nil
}

// Status reports every managed role.
func (o *Orchestrator) Status() []ChildStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ChildStatus, 0, len(o.children))
	for _, c := range o.children {
		out = append(out, ChildStatus{
			Role:          c.spec.Name,
			Mode:          c.spec.Mode,
			PID:           c.pid(),
			Running:       c.running(),
			Ready:         c.ready.Load(),
			Unresponsive:  c.unresponsive,
			Restarts:      c.restarts,
			LastHeartbeat: c.lastBeat,
		})
	}
	return out
}

// WaitAlerts blocks until in-flight alert deliveries finish.
func (o *Orchestrator) WaitAlerts() { o.inflight.Wait() }
