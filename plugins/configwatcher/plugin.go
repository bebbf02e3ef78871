// Package configwatcher reports edits to the configuration file of a running
// supervisor. Settings are read once at start; an edit is validated, logged
// and raised as a config_changed alert so an operator knows a restart is due.
package configwatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/bft-labs/adcpship/internal/cliconfig"
	"github.com/bft-labs/adcpship/pkg/adcpship"
	"github.com/bft-labs/adcpship/pkg/log"
	"github.com/bft-labs/adcpship/pkg/sender"
)

// Plugin watches the configuration file.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	alertTimeout  time.Duration

	path     string
	base     cliconfig.Config
	service  string
	role     string
	alerts   sender.Sender
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	last     []byte
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before reading it.
	// Default: 200 milliseconds
	DebounceDelay time.Duration

	// AlertTimeout bounds one alert delivery.
	// Default: sender.DefaultTimeout
	AlertTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 200 * time.Millisecond,
		AlertTimeout:  sender.DefaultTimeout,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	if cfg.AlertTimeout <= 0 {
		cfg.AlertTimeout = sender.DefaultTimeout
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		alertTimeout:  cfg.AlertTimeout,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize records the starting file contents and begins watching.
func (p *Plugin) Initialize(ctx context.Context, cfg adcpship.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.base = cfg.Config
	p.service = cfg.Service
	p.role = cfg.Mode.Role()
	p.alerts = cfg.Alerts
	p.logger = cfg.Logger
	if p.alerts == nil {
		p.alerts = sender.NoopSender{}
	}
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Info("config watcher disabled: no config file")
		return nil
	}
	p.last, _ = os.ReadFile(p.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(p.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p.debounceCheck(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceCheck(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.check(ctx)
	})
}

// check compares the file with the last seen contents and reports a change.
func (p *Plugin) check(ctx context.Context) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		p.logger.Warn("config file unreadable", log.String("path", p.path), log.Err(err))
		return
	}

	p.mu.Lock()
	unchanged := string(data) == string(p.last)
	p.last = data
	p.mu.Unlock()
	if unchanged {
		return
	}

	msg := "configuration file changed; restart to apply"
	if verr := validate(p.base, p.path); verr != nil {
		msg = fmt.Sprintf("configuration file changed and is invalid: %v", verr)
		p.logger.Error("config file changed", log.String("path", p.path), log.Err(verr))
	} else {
		p.logger.Warn("config file changed; restart to apply", log.String("path", p.path))
	}

	alert := sender.Alert{
		ID:      uuid.NewString(),
		Kind:    sender.KindConfigChanged,
		Service: p.service,
		Role:    p.role,
		Message: msg,
		At:      time.Now().UTC(),
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.alertTimeout)
	defer cancel()
	if err := p.alerts.Send(sendCtx, alert); err != nil {
		p.logger.Warn("alert delivery failed", log.String("kind", alert.Kind), log.Err(err))
	}
}

// validate applies the file over a copy of the running configuration.
func validate(base cliconfig.Config, path string) error {
	fc, err := cliconfig.LoadFileConfig(path)
	if err != nil {
		return err
	}
	cfg := base
	if err := cliconfig.ApplyFileConfig(&cfg, fc, map[string]bool{}); err != nil {
		return err
	}
	return cfg.Validate()
}

var _ adcpship.Plugin = (*Plugin)(nil)
