package adcpship

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/backup"
	"github.com/bft-labs/adcpship/internal/cliconfig"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/internal/heartbeat"
	"github.com/bft-labs/adcpship/internal/intake"
	"github.com/bft-labs/adcpship/internal/orchestrator"
	"github.com/bft-labs/adcpship/internal/persist"
	"github.com/bft-labs/adcpship/internal/recorder"
	"github.com/bft-labs/adcpship/pkg/lifecycle"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Config holds the configuration shared by every role.
type Config = cliconfig.Config

// Mode selects the role a Supervisor runs.
type Mode = cliconfig.Mode

const (
	ModeRecording    = cliconfig.ModeRecording
	ModeProcessing   = cliconfig.ModeProcessing
	ModeOrchestrator = cliconfig.ModeOrchestrator
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config { return cliconfig.DefaultConfig() }

// Supervisor runs one role (Recording, Processing or Orchestrator) with its
// health monitor, heartbeat artifact and plugins.
type Supervisor struct {
	config  Config
	opts    options
	manager lifecycle.Manager
	metrics *health.Metrics
	monitor *health.Monitor
	alerts  sender.Sender
	logger  log.Logger

	mu    sync.Mutex
	orch  *orchestrator.Orchestrator
	tasks []task
}

type task struct {
	name string
	run  func(ctx context.Context) error

	// prepare runs synchronously in Start before the role is reported ready.
	// release undoes it when Start gives up before run is launched.
	prepare func() error
	release func()
}

// New validates cfg and prepares a Supervisor in the Stopped state.
func New(cfg Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	alerts := o.alerts
	if alerts == nil {
		alerts = sender.New(cfg.AlertWebhook, sender.DefaultTimeout)
	}

	metrics := health.NewMetrics()
	s := &Supervisor{
		config:  cfg,
		opts:    o,
		manager: lifecycle.NewManager(logger, o.states),
		metrics: metrics,
		alerts:  alerts,
		logger:  logger,
	}
	s.monitor = health.NewMonitor(health.MonitorConfig{
		Service:       cfg.ServiceName,
		Role:          cfg.Mode.Role(),
		IdleThreshold: cfg.IdleThreshold,
	}, metrics, alerts, logger.With(log.String("component", "health")))

	tasks, err := s.buildTasks()
	if err != nil {
		return nil, err
	}
	s.tasks = tasks
	return s, nil
}

func (s *Supervisor) buildTasks() ([]task, error) {
	cfg := s.config
	switch cfg.Mode {
	case ModeRecording:
		return s.recordingTasks()
	case ModeProcessing:
		return s.processingTasks()
	case ModeOrchestrator:
		orch, err := orchestrator.New(orchestrator.Config{
			Service:           cfg.ServiceName,
			BaseArgs:          s.opts.childArgs,
			ConfigPath:        s.opts.configPath,
			RuntimeDir:        cfg.RuntimeDir,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTimeout:  cfg.HeartbeatTimeout,
			ShutdownGrace:     cfg.ShutdownGrace,
			RestartPolicy:     cfg.RestartPolicy,
			MaxRestarts:       cfg.MaxRestarts,
		}, s.metrics, s.alerts, s.logger.With(log.String("component", "orchestrator")))
		if err != nil {
			return nil, err
		}
		s.orch = orch
		return []task{{name: "orchestrator", run: orch.Run}}, nil
	}
	return nil, fmt.Errorf("unsupported mode %q", cfg.Mode)
}

func (s *Supervisor) recordingTasks() ([]task, error) {
	cfg := s.config
	split, err := backup.ParseSplitMode(cfg.SplitMode)
	if err != nil {
		return nil, err
	}
	rec, err := recorder.New(recorder.Config{
		Port:              cfg.SerialPort,
		BaudRate:          cfg.BaudRate,
		BackupDir:         cfg.BackupFolder,
		Split:             split,
		BackupMaxBytes:    int64(cfg.BackupMaxFileBytes),
		BackupMaxWrites:   cfg.BackupMaxFileWrites,
		FailureLimit:      cfg.BackupFailureLimit,
		HandoffDir:        cfg.DataProcessFolder,
		HandoffMaxBytes:   int64(cfg.HandoffMaxFileBytes),
		ReconnectAttempts: cfg.SerialReconnectAttempts,
		Retention:         backup.Policy{MaxFiles: cfg.MaxBackupFiles, MaxAge: cfg.MaxBackupAge()},
		RetentionInterval: cfg.RetentionInterval,
		ArchiveOnStart:    cfg.ArchiveOnStart,
		CompressArchives:  cfg.CompressArchives,
	}, s.metrics, s.logger.With(log.String("component", "recorder")))
	if err != nil {
		return nil, err
	}
	return s.withAmbient(task{name: "recorder", run: rec.Run}), nil
}

func (s *Supervisor) processingTasks() ([]task, error) {
	cfg := s.config
	w, err := persist.NewWriter(cfg.DataDirectory)
	if err != nil {
		return nil, err
	}
	proc := intake.NewProcessor(intake.Config{
		HandoffDir:      cfg.DataProcessFolder,
		ProcessedDir:    cfg.ProcessedFolder,
		StabilityWindow: cfg.FileStability,
		ScanInterval:    cfg.ScanInterval,
	}, w, s.metrics, s.logger.With(log.String("component", "intake")))

	run := func(ctx context.Context) error {
		err := proc.Run(ctx)
		if cerr := w.Close(); cerr != nil {
			s.logger.Error("close persistence writer", log.Err(cerr))
			if err == nil {
				err = cerr
			}
		}
		return err
	}
	release := func() {
		proc.Release()
		if err := w.Close(); err != nil {
			s.logger.Error("close persistence writer", log.Err(err))
		}
	}
	return s.withAmbient(task{name: "processor", run: run, prepare: proc.Prepare, release: release}), nil
}

// withAmbient adds the health monitor and, when launched by an Orchestrator,
// the heartbeat artifact writer.
func (s *Supervisor) withAmbient(role task) []task {
	tasks := []task{role, {name: "monitor", run: func(ctx context.Context) error {
		s.monitor.Run(ctx)
		return nil
	}}}
	if path := s.config.HeartbeatFile; path != "" {
		em := heartbeat.NewEmitter(path, s.config.Mode.Role(), s.config.HeartbeatInterval, s.metrics,
			func() string { return s.manager.State().String() }, s.logger.With(log.String("component", "heartbeat")))
		if s.config.Mode == ModeRecording {
			em.WithPort(s.config.SerialPort)
		}
		tasks = append(tasks, task{name: "heartbeat", run: func(ctx context.Context) error {
			em.Run(ctx)
			return nil
		}})
	}
	return tasks
}

// Start launches the role's tasks and plugins in the background.
// A task that fails cancels the others; Wait reports the failure.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manager.CanStart() {
		return lifecycle.ErrAlreadyRunning
	}
	if err := s.manager.TransitionTo(lifecycle.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.manager.SetCancel(cancel)

	pluginCfg := PluginConfig{
		Service:    s.config.ServiceName,
		Mode:       s.config.Mode,
		Logger:     s.logger,
		Alerts:     s.alerts,
		Config:     s.config,
		ConfigPath: s.opts.configPath,
		Snapshot:   s.metrics.Snapshot,
		Idle:       s.monitor.Idle,
		Children:   s.Children,
	}
	for _, p := range s.opts.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			s.logger.Error("plugin initialization failed", log.String("plugin", p.Name()), log.Err(err))
			cancel()
			_ = s.manager.TransitionTo(lifecycle.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		s.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	if err := s.prepareTasks(); err != nil {
		cancel()
		s.shutdownPlugins()
		_ = s.manager.TransitionTo(lifecycle.StateCrashed, "prepare failed: "+err.Error())
		return err
	}

	for _, t := range s.tasks {
		t := t
		s.manager.Go(func() {
			err := t.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("task failed", log.String("task", t.name), log.Err(err))
				s.manager.Fail(fmt.Errorf("%s: %w", t.name, err))
			}
		})
	}

	if err := s.manager.TransitionTo(lifecycle.StateRunning, "tasks started"); err != nil {
		return err
	}
	s.signalReady()
	return nil
}

// prepareTasks runs every task's prepare hook in order. When one fails, it
// and every task before it are released.
func (s *Supervisor) prepareTasks() error {
	for i, t := range s.tasks {
		if t.prepare == nil {
			continue
		}
		if err := t.prepare(); err != nil {
			s.logger.Error("task prepare failed", log.String("task", t.name), log.Err(err))
			for _, done := range s.tasks[:i+1] {
				if done.release != nil {
					done.release()
				}
			}
			return fmt.Errorf("%s: %w", t.name, err)
		}
	}
	return nil
}

func (s *Supervisor) signalReady() {
	if s.config.ControlFile == "" {
		return
	}
	if err := heartbeat.SignalReady(s.config.ControlFile, s.config.Mode.Role()); err != nil {
		s.logger.Warn("readiness signal failed", log.Err(err))
	}
}

// Wait blocks until every task has returned, which happens when the start
// context is cancelled or a task fails. It returns the first failure.
func (s *Supervisor) Wait() error {
	s.manager.Wait()
	return s.manager.Failure()
}

// Stop cancels the tasks, waits for them and shuts plugins down in reverse
// order. It returns ErrShutdownTimeout when tasks outlive the grace period.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.manager.CanStop() {
		s.mu.Unlock()
		return lifecycle.ErrNotRunning
	}
	if err := s.manager.TransitionTo(lifecycle.StateStopping, "Stop() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.manager.Cancel()
	s.mu.Unlock()

	err := s.manager.WaitWithTimeout(s.stopTimeout())
	s.monitor.WaitAlerts()
	if s.orch != nil {
		s.orch.WaitAlerts()
	}

	s.shutdownPlugins()

	if err != nil {
		_ = s.manager.TransitionTo(lifecycle.StateCrashed, "shutdown timeout")
		return err
	}
	if failure := s.manager.Failure(); failure != nil {
		_ = s.manager.TransitionTo(lifecycle.StateCrashed, failure.Error())
		return nil
	}
	_ = s.manager.TransitionTo(lifecycle.StateStopped, "graceful shutdown")
	return nil
}

// shutdownPlugins shuts plugins down in reverse registration order.
func (s *Supervisor) shutdownPlugins() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(s.opts.plugins) - 1; i >= 0; i-- {
		p := s.opts.plugins[i]
		if perr := p.Shutdown(shutdownCtx); perr != nil {
			s.logger.Error("plugin shutdown failed", log.String("plugin", p.Name()), log.Err(perr))
		} else {
			s.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// The Orchestrator needs its own grace period to terminate children first.
func (s *Supervisor) stopTimeout() time.Duration {
	if s.config.Mode == ModeOrchestrator {
		return lifecycle.ShutdownTimeout + s.config.ShutdownGrace
	}
	return lifecycle.ShutdownTimeout
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() lifecycle.State {
	return s.manager.State()
}

// Metrics returns the counters shared by this process's components.
func (s *Supervisor) Metrics() *health.Metrics {
	return s.metrics
}

// Children lists the managed roles in Orchestrator mode.
func (s *Supervisor) Children() []ChildStatus {
	if s.orch == nil {
		return nil
	}
	return s.orch.Status()
}

// Replay parses one capture file into the persistence store under the
// configured data directory, outside any running role.
func Replay(ctx context.Context, cfg Config, path string, logger log.Logger) (intake.Result, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	w, err := persist.NewWriter(cfg.DataDirectory)
	if err != nil {
		return intake.Result{}, err
	}
	res, err := intake.Replay(ctx, path, w, health.NewMetrics(), logger)
	if cerr := w.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return res, err
}
