package recorder

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/pkg/log"
)

const (
	lineConfiguration = "$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41"
	lineSensor        = "$PNORS,010526,220800,00000000,3ED40002,23.7,1532.0,275.4,-49.1,83.0,0.000,24.02,0,0*77"
	lineCurrent       = "$PNORC,010526,220800,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59,40,37,14,22*35"
)

func noHotplug(context.Context, log.Logger) <-chan struct{} { return nil }

func testConfig(t *testing.T, port string) Config {
	t.Helper()
	root := t.TempDir()
	return Config{
		Port:              port,
		BaudRate:          115200,
		BackupDir:         filepath.Join(root, "backup"),
		HandoffDir:        filepath.Join(root, "to_process"),
		HandoffMaxBytes:   1 << 20,
		FailureLimit:      3,
		ReconnectAttempts: 2,
		ReconnectInitial:  time.Millisecond,
		ReconnectMax:      5 * time.Millisecond,
		FollowInterval:    10 * time.Millisecond,
	}
}

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *health.Metrics) {
	t.Helper()
	metrics := health.NewMetrics()
	r, err := New(cfg, metrics, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.hotplug = noHotplug
	return r, metrics
}

// captured concatenates every .raw file in dir in name order.
func captured(t *testing.T, dir string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.raw"))
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			t.Fatal(err)
		}
		b.Write(data)
	}
	return b.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLineSplitter(t *testing.T) {
	var s lineSplitter
	var got []string
	for _, chunk := range []string{"$A*00\r\n$B", "*00\n", "", "$C*00\n$D"} {
		for _, l := range s.Feed([]byte(chunk)) {
			got = append(got, string(l))
		}
	}
	want := []string{"$A*00\r\n", "$B*00\n", "$C*00\n"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if rest := s.Flush(); string(rest) != "$D" {
		t.Fatalf("expected trailing partial, got %q", rest)
	}
	if rest := s.Flush(); rest != nil {
		t.Fatalf("expected empty after flush, got %q", rest)
	}
}

func TestRun_FollowsFileIntoBackupAndHandoff(t *testing.T) {
	port := filepath.Join(t.TempDir(), "capture.txt")
	input := lineConfiguration + "\r\n" + lineSensor + "\r\n" + lineCurrent + "\r\n" + "$PNORS,trunc"
	if err := os.WriteFile(port, []byte(input), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t, port)
	r, metrics := newTestRecorder(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "three lines in backup", func() bool {
		return metrics.Snapshot().BackupWrites >= 3
	})

	// Appended data is picked up while following.
	f, err := os.OpenFile(port, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("\n")
	f.Close()
	waitFor(t, "fourth line", func() bool {
		return metrics.Snapshot().BackupWrites >= 4
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected Run to return on cancel")
	}

	want := input + "\n"
	if got := captured(t, cfg.BackupDir); got != want {
		t.Fatalf("expected byte-identical backup\nwant %q\ngot  %q", want, got)
	}
	if got := captured(t, cfg.HandoffDir); got != want {
		t.Fatalf("expected handoff copy\nwant %q\ngot  %q", want, got)
	}

	s := metrics.Snapshot()
	if s.Frames != 3 || s.ParseErrors != 1 {
		t.Fatalf("expected 3 frames and 1 parse error, got %+v", s)
	}
	if s.SerialBytes != uint64(len(want)) || s.SerialLines != 4 {
		t.Fatalf("expected %d bytes and 4 lines, got %+v", len(want), s)
	}

	markers, _ := filepath.Glob(filepath.Join(cfg.BackupDir, "*.writing"))
	if len(markers) != 0 {
		t.Fatalf("expected markers removed on stop, got %v", markers)
	}
}

func TestRun_SerialExhaustion(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "ttyMissing"))
	r, _ := newTestRecorder(t, cfg)

	err := r.Run(context.Background())
	if !errors.Is(err, domain.ErrSerialExhausted) {
		t.Fatalf("expected ErrSerialExhausted, got %v", err)
	}
}

func TestRun_HotplugWakesReconnect(t *testing.T) {
	dir := t.TempDir()
	port := filepath.Join(dir, "ttyLate")
	cfg := testConfig(t, port)
	cfg.ReconnectAttempts = 0
	cfg.ReconnectInitial = time.Hour
	cfg.ReconnectMax = time.Hour
	r, metrics := newTestRecorder(t, cfg)

	wake := make(chan struct{}, 1)
	r.hotplug = func(context.Context, log.Logger) <-chan struct{} { return wake }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := os.WriteFile(port, []byte(lineSensor+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wake <- struct{}{}

	waitFor(t, "data after hotplug", func() bool {
		return metrics.Snapshot().BackupWrites >= 1
	})
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected nil on cancel, got %v", err)
	}
}

func TestRun_BackupFailuresEscalate(t *testing.T) {
	port := filepath.Join(t.TempDir(), "capture.txt")
	if err := os.WriteFile(port, []byte(strings.Repeat(lineSensor+"\n", 5)), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t, port)
	r, metrics := newTestRecorder(t, cfg)

	// Replace the backup folder with a file so every append fails.
	if err := os.RemoveAll(cfg.BackupDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.BackupDir, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrBackupEscalated) {
			t.Fatalf("expected ErrBackupEscalated, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected escalation to end the role")
	}
	if s := metrics.Snapshot(); s.BackupErrors < uint64(cfg.FailureLimit) {
		t.Fatalf("expected at least %d backup errors, got %+v", cfg.FailureLimit, s)
	}
	// The handoff copy is unaffected by backup failures.
	if got := captured(t, cfg.HandoffDir); !strings.HasPrefix(got, lineSensor) {
		t.Fatalf("expected handoff copy to keep going, got %q", got)
	}
}

func TestDispatch_DropsWhenHandoffFull(t *testing.T) {
	cfg := testConfig(t, "/dev/null")
	r, metrics := newTestRecorder(t, cfg)

	backupCh := make(chan []byte, 1)
	handoffCh := make(chan []byte) // no reader
	if !r.dispatch(context.Background(), []byte(lineSensor+"\n"), backupCh, handoffCh) {
		t.Fatal("expected dispatch to succeed")
	}
	if got := <-backupCh; !bytes.Equal(got, []byte(lineSensor+"\n")) {
		t.Fatalf("expected line on backup queue, got %q", got)
	}
	if s := metrics.Snapshot(); s.HandoffDropped != 1 || s.Frames != 1 {
		t.Fatalf("expected one drop and one frame, got %+v", s)
	}
}

func TestNew_RequiresPort(t *testing.T) {
	_, err := New(Config{BackupDir: t.TempDir()}, nil, nil)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
