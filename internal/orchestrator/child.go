package orchestrator

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bft-labs/adcpship/internal/heartbeat"
	"github.com/bft-labs/adcpship/pkg/lifecycle"
	"github.com/bft-labs/adcpship/pkg/log"
)

// RoleSpec names a managed child and the mode it is launched in.
type RoleSpec struct {
	Name string
	Mode string
}

// child is the supervision state of one managed role. Fields other than
// ready are guarded by Orchestrator.mu.
type child struct {
	spec RoleSpec

	pidPath string
	hbPath  string
	ctlPath string
	logPath string

	cmd       *exec.Cmd
	done      chan struct{}
	waitErr   error
	startedAt time.Time
	exitSeen  bool

	ctl   *os.File
	ready atomic.Bool

	runID        string
	lastSeq      uint64
	lastAdvance  time.Time
	lastBeat     time.Time
	unresponsive bool

	backoff   *lifecycle.Backoff
	restarts  int
	restartAt time.Time
	gaveUp    bool
}

func (c *child) running() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *child) pid() int {
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// observeHeartbeat reports whether the child's heartbeat advanced.
func (c *child) observeHeartbeat(now time.Time) bool {
	rec, err := heartbeat.NewFile(c.hbPath).Load()
	if err != nil {
		return false
	}
	if rec.RunID == c.runID && rec.Seq == c.lastSeq {
		return false
	}
	c.runID = rec.RunID
	c.lastSeq = rec.Seq
	c.lastAdvance = now
	c.lastBeat = rec.UpdatedAt
	return true
}

// readControl consumes readiness lines until the pipe is closed.
func readControl(c *child, f *os.File, logger log.Logger) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] != "ready" {
			logger.Debug("ignoring control line", log.String("line", sc.Text()))
			continue
		}
		c.ready.Store(true)
		logger.Info("child ready", log.String("line", sc.Text()))
	}
}
