// Package statusserver exposes a supervisor's health over HTTP:
// GET /healthz returns the counters as JSON (503 while idle) and
// GET /metrics serves the Prometheus registry.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/adcpship/pkg/adcpship"
	"github.com/bft-labs/adcpship/pkg/log"
)

// Config holds configuration options for the status server plugin.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:9310".
	Addr string

	// ReadHeaderTimeout bounds request header reads.
	// Default: 5 seconds
	ReadHeaderTimeout time.Duration
}

// Health is the /healthz response body.
type Health struct {
	Service  string                 `json:"service"`
	Mode     string                 `json:"mode"`
	Status   string                 `json:"status"`
	Metrics  adcpship.Snapshot      `json:"metrics"`
	Children []adcpship.ChildStatus `json:"children,omitempty"`
}

// Plugin serves the status endpoints while the supervisor runs.
type Plugin struct {
	cfg Config

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
	plugin   adcpship.PluginConfig
}

// New creates a status server plugin.
func New(cfg Config) *Plugin {
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	return &Plugin{cfg: cfg}
}

// WithStatusServer returns an Option that serves status endpoints on addr.
func WithStatusServer(addr string) adcpship.Option {
	return adcpship.WithPlugin(New(Config{Addr: addr}))
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "statusserver"
}

// Initialize binds the listener and starts serving.
func (p *Plugin) Initialize(ctx context.Context, cfg adcpship.PluginConfig) error {
	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.plugin = cfg
	p.listener = ln
	p.server = &http.Server{
		Handler:           p.Router(),
		ReadHeaderTimeout: p.cfg.ReadHeaderTimeout,
	}
	p.done = make(chan struct{})
	srv, done := p.server, p.done
	p.mu.Unlock()

	cfg.Logger.Info("status server listening", log.String("addr", ln.Addr().String()))
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.Logger.Error("status server stopped", log.Err(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Initialize.
func (p *Plugin) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Router builds the HTTP routes.
func (p *Plugin) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", p.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (p *Plugin) handleHealth(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	cfg := p.plugin
	p.mu.Unlock()

	body := Health{
		Service: cfg.Service,
		Mode:    string(cfg.Mode),
		Status:  "ok",
	}
	if cfg.Snapshot != nil {
		body.Metrics = cfg.Snapshot()
	}
	if cfg.Children != nil {
		body.Children = cfg.Children()
	}
	code := http.StatusOK
	if cfg.Idle != nil && cfg.Idle() {
		body.Status = "idle"
		code = http.StatusServiceUnavailable
	}
	for _, c := range body.Children {
		if !c.Running || c.Unresponsive {
			body.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	srv, done := p.server, p.done
	p.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}
