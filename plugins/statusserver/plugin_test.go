package statusserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/adcpship/pkg/adcpship"
	"github.com/bft-labs/adcpship/pkg/log"
)

func pluginConfig(idle bool, children []adcpship.ChildStatus) adcpship.PluginConfig {
	return adcpship.PluginConfig{
		Service:  "adcp-test",
		Mode:     adcpship.ModeProcessing,
		Logger:   log.NewNoopLogger(),
		Snapshot: func() adcpship.Snapshot { return adcpship.Snapshot{Frames: 7} },
		Idle:     func() bool { return idle },
		Children: func() []adcpship.ChildStatus { return children },
	}
}

func getHealth(t *testing.T, h http.Handler) (int, Health) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body Health
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		idle     bool
		children []adcpship.ChildStatus
		code     int
		status   string
	}{
		{name: "healthy", code: http.StatusOK, status: "ok"},
		{name: "idle", idle: true, code: http.StatusServiceUnavailable, status: "idle"},
		{
			name:     "child down",
			children: []adcpship.ChildStatus{{Role: "recorder", Running: true}, {Role: "processor", Running: false}},
			code:     http.StatusServiceUnavailable,
			status:   "degraded",
		},
		{
			name:     "children healthy",
			children: []adcpship.ChildStatus{{Role: "recorder", Running: true}},
			code:     http.StatusOK,
			status:   "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{})
			p.plugin = pluginConfig(tt.idle, tt.children)

			code, body := getHealth(t, p.Router())
			if code != tt.code {
				t.Errorf("expected status code %d, got %d", tt.code, code)
			}
			if body.Status != tt.status {
				t.Errorf("expected status %q, got %q", tt.status, body.Status)
			}
			if body.Metrics.Frames != 7 || body.Service != "adcp-test" || body.Mode != "Processing" {
				t.Errorf("unexpected body %+v", body)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	p := New(Config{})
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("expected default registry output")
	}
}

func TestInitializeAndShutdown(t *testing.T) {
	p := New(Config{Addr: "127.0.0.1:0"})
	if p.Addr() != "" {
		t.Fatalf("expected empty address before Initialize")
	}
	if err := p.Initialize(context.Background(), pluginConfig(false, nil)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + p.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), `"status":"ok"`) {
		t.Errorf("unexpected response %d %s", resp.StatusCode, b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := client.Get("http://" + p.Addr() + "/healthz"); err == nil {
		t.Error("expected request to fail after Shutdown")
	}
}

func TestShutdownWithoutInitialize(t *testing.T) {
	if err := New(Config{}).Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
