package adcpship

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/internal/heartbeat"
	"github.com/bft-labs/adcpship/internal/intake"
	"github.com/bft-labs/adcpship/internal/persist"
	"github.com/bft-labs/adcpship/pkg/lifecycle"
)

const (
	lineConfiguration = "$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41"
	lineSensor        = "$PNORS,010526,220800,00000000,3ED40002,23.7,1532.0,275.4,-49.1,83.0,0.000,24.02,0,0*77"
	lineCurrent       = "$PNORC,010526,220800,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59,40,37,14,22*35"
)

var day = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func processingConfig(t *testing.T) Config {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Mode = ModeProcessing
	cfg.DataDirectory = filepath.Join(root, "data")
	cfg.DataProcessFolder = filepath.Join(root, "to_process")
	cfg.ProcessedFolder = filepath.Join(root, "processed")
	cfg.BackupFolder = filepath.Join(root, "backup")
	cfg.FileStability = 0
	cfg.ScanInterval = 20 * time.Millisecond
	cfg.IdleThreshold = 0
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingPlugin struct {
	name    string
	mu      *sync.Mutex
	events  *[]string
	initErr error
	cfg     PluginConfig
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Initialize(ctx context.Context, cfg PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.events = append(*p.events, "init:"+p.name)
	p.cfg = cfg
	return p.initErr
}

func (p *recordingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.events = append(*p.events, "shutdown:"+p.name)
	return nil
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeRecording
	cfg.SerialPort = ""
	if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSupervisor_ProcessingEndToEnd(t *testing.T) {
	cfg := processingConfig(t)
	cfg.HeartbeatFile = filepath.Join(t.TempDir(), "processor.heartbeat.json")
	cfg.HeartbeatInterval = 20 * time.Millisecond

	var mu sync.Mutex
	var events []string
	plugin := &recordingPlugin{name: "audit", mu: &mu, events: &events}

	s, err := New(cfg, WithPlugin(plugin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Status() != lifecycle.StateStopped {
		t.Fatalf("expected Stopped before Start, got %s", s.Status())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on second Start, got %v", err)
	}

	capture := strings.Join([]string{lineConfiguration, lineSensor, lineCurrent}, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(cfg.DataProcessFolder, "2026-01-05.raw"), []byte(capture), 0o644); err != nil {
		t.Fatal(err)
	}

	out := persist.DayFile(cfg.DataDirectory, day)
	waitFor(t, "processed capture", func() bool {
		_, err := os.Stat(filepath.Join(cfg.ProcessedFolder, "2026-01-05.raw"))
		return err == nil
	})
	waitFor(t, "heartbeat artifact", func() bool {
		rec, err := heartbeat.NewFile(cfg.HeartbeatFile).Load()
		return err == nil && rec.Role == "processor" && rec.Metrics.Frames == 3
	})

	if got := s.Metrics().Snapshot().Frames; got != 3 {
		t.Errorf("expected 3 frames, got %d", got)
	}
	if plugin.cfg.Mode != ModeProcessing || plugin.cfg.Snapshot == nil || plugin.cfg.Idle == nil {
		t.Errorf("expected plugin config to carry mode and accessors, got %+v", plugin.cfg)
	}
	if children := plugin.cfg.Children(); len(children) != 0 {
		t.Errorf("expected no children outside Orchestrator mode, got %v", children)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status() != lifecycle.StateStopped {
		t.Errorf("expected Stopped after Stop, got %s", s.Status())
	}
	if err := s.Stop(); !errors.Is(err, lifecycle.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning on second Stop, got %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read %s: %v", out, err)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("expected 3 persisted lines, got %d:\n%s", n, data)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(events, ",") != "init:audit,shutdown:audit" {
		t.Errorf("unexpected plugin events %v", events)
	}
}

func TestSupervisor_StartPreparesHandoffBeforeReady(t *testing.T) {
	cfg := processingConfig(t)
	cfg.ControlFile = filepath.Join(t.TempDir(), "control")
	if err := os.WriteFile(cfg.ControlFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if info, err := os.Stat(cfg.DataProcessFolder); err != nil || !info.IsDir() {
		t.Fatalf("expected handoff folder to exist when Start returns, got %v", err)
	}
	other := intake.NewProcessor(intake.Config{HandoffDir: cfg.DataProcessFolder}, nil, nil, nil)
	if err := other.Prepare(); !errors.Is(err, domain.ErrProcessorLocked) {
		other.Release()
		t.Fatalf("expected handoff lock held when Start returns, got %v", err)
	}
	if data, _ := os.ReadFile(cfg.ControlFile); !strings.HasPrefix(string(data), "ready processor ") {
		t.Fatalf("expected readiness signal, got %q", data)
	}
}

func TestSupervisor_StartFailsWhenHandoffLocked(t *testing.T) {
	cfg := processingConfig(t)
	cfg.ControlFile = filepath.Join(t.TempDir(), "control")
	if err := os.WriteFile(cfg.ControlFile, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	holder := intake.NewProcessor(intake.Config{HandoffDir: cfg.DataProcessFolder}, nil, nil, nil)
	if err := holder.Prepare(); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	var mu sync.Mutex
	var events []string
	plugin := &recordingPlugin{name: "audit", mu: &mu, events: &events}
	s, err := New(cfg, WithPlugin(plugin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, domain.ErrProcessorLocked) {
		t.Fatalf("expected ErrProcessorLocked from Start, got %v", err)
	}
	if s.Status() != lifecycle.StateCrashed {
		t.Errorf("expected Crashed, got %s", s.Status())
	}
	if data, _ := os.ReadFile(cfg.ControlFile); len(data) != 0 {
		t.Errorf("expected no readiness signal, got %q", data)
	}
	mu.Lock()
	defer mu.Unlock()
	if strings.Join(events, ",") != "init:audit,shutdown:audit" {
		t.Errorf("expected plugin shut down after failed Start, got %v", events)
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []string
}

func (l *stateLog) OnStateChange(previous, current lifecycle.State, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, current.String())
}

func (l *stateLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.states, ",")
}

func TestSupervisor_ReportsTransitions(t *testing.T) {
	states := &stateLog{}
	s, err := New(processingConfig(t), WithStateEmitter(states))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := states.String(); got != "Starting,Running,Stopping,Stopped" {
		t.Errorf("unexpected transitions %s", got)
	}
}

func TestSupervisor_PluginOrderAndFailure(t *testing.T) {
	cfg := processingConfig(t)

	var mu sync.Mutex
	var events []string
	a := &recordingPlugin{name: "a", mu: &mu, events: &events}
	b := &recordingPlugin{name: "b", mu: &mu, events: &events}

	s, err := New(cfg, WithPlugin(a), WithPlugin(b))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	mu.Lock()
	got := strings.Join(events, ",")
	mu.Unlock()
	if got != "init:a,init:b,shutdown:b,shutdown:a" {
		t.Errorf("expected reverse shutdown order, got %s", got)
	}

	bad := &recordingPlugin{name: "bad", mu: &mu, events: &events, initErr: errors.New("boom")}
	s, err = New(processingConfig(t), WithPlugin(bad))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected plugin init error")
	}
	if s.Status() != lifecycle.StateCrashed {
		t.Errorf("expected Crashed after plugin failure, got %s", s.Status())
	}
}

func TestSupervisor_WaitReturnsOnCancel(t *testing.T) {
	s, err := New(processingConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- s.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil from Wait after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop after cancel: %v", err)
	}
}

func TestReplay(t *testing.T) {
	cfg := processingConfig(t)
	path := filepath.Join(t.TempDir(), "capture.raw")
	capture := lineSensor + "\n" + "garbage\n" + lineCurrent + "\n"
	if err := os.WriteFile(path, []byte(capture), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := Replay(context.Background(), cfg, path, nil)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Frames != 2 || res.ParseErrors != 1 {
		t.Errorf("expected 2 frames and 1 parse error, got %+v", res)
	}
	if _, err := os.Stat(persist.DayFile(cfg.DataDirectory, day)); err != nil {
		t.Errorf("expected dated output: %v", err)
	}
}
