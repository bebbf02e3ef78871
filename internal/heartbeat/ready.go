package heartbeat

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SignalReady writes a single readiness line into the control artifact at path.
// The artifact is a named pipe opened non-blocking, so a missing reader never
// stalls the role; it may also be a plain file.
func SignalReady(path, role string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("open control artifact: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "ready %s %d\n", role, os.Getpid()); err != nil {
		return fmt.Errorf("write control artifact: %w", err)
	}
	return nil
}
