package orchestrator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Role name used for the Orchestrator's own artifacts.
const SelfRole = "orchestrator"

const (
	lockName = "orchestrator.lock"
	logDir   = "logs"
)

// Environment variables through which a child learns its artifact paths.
const (
	EnvHeartbeatFile = "ADCP_HEARTBEAT_FILE"
	EnvControlFile   = "ADCP_CONTROL_FILE"
)

// PidFile returns the pidfile path for role under dir.
func PidFile(dir, role string) string { return filepath.Join(dir, role+".pid") }

// HeartbeatFile returns the heartbeat artifact path for role under dir.
func HeartbeatFile(dir, role string) string { return filepath.Join(dir, role+".heartbeat.json") }

// ControlFile returns the control pipe path for role under dir.
func ControlFile(dir, role string) string { return filepath.Join(dir, role+".ctl") }

// LogFile returns the captured output path for role under dir.
func LogFile(dir, role string) string { return filepath.Join(dir, logDir, role+".log") }

func writePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadPID reads a pidfile.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// ProcessAlive reports whether pid names a live process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func makeControl(path string) error {
	_ = os.Remove(path)
	return unix.Mkfifo(path, 0o600)
}

func removeAll(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
