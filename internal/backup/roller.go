package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/pkg/log"
)

const (
	rawSuffix    = ".raw"
	gzSuffix     = ".gz"
	markerSuffix = ".writing"
	dayLayout    = "2006-01-02"
)

// SplitMode selects the rolling period of capture files.
type SplitMode int

const (
	Daily SplitMode = iota
	Weekly
)

func (m SplitMode) String() string {
	if m == Weekly {
		return "Weekly"
	}
	return "Daily"
}

// ParseSplitMode accepts Daily or Weekly in any case.
func ParseSplitMode(s string) (SplitMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	}
	return Daily, fmt.Errorf("%w: split_mode %q (want Daily or Weekly)", domain.ErrInvalidConfig, s)
}

// WriteError is a BackupWriteError: a failed raw append.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string { return fmt.Sprintf("backup write %s: %v", e.Path, e.Err) }

func (e *WriteError) Unwrap() error { return e.Err }

// MarkerPath returns the WriterMarker sibling of a capture file.
func MarkerPath(path string) string { return path + markerSuffix }

// IsMarker reports whether name is a WriterMarker.
func IsMarker(name string) bool { return strings.HasSuffix(name, markerSuffix) }

// Options configures a Roller.
type Options struct {
	Dir   string
	Split SplitMode

	// Zero disables the cap.
	MaxFileBytes  int64
	MaxFileWrites int

	// OnRotate is called with the new path after a cap forces a new file.
	OnRotate func(path string)

	Logger log.Logger
}

// Roller appends raw bytes to YYYY-MM-DD[-N].raw files. Each append opens,
// writes and closes the file so nothing holds a handle between writes.
type Roller struct {
	opts   Options
	logger log.Logger
	now    func() time.Time

	mu     sync.Mutex
	period string
	seq    int
	path   string
	size   int64
	writes int
}

// NewRoller creates the capture folder if needed.
func NewRoller(opts Options) (*Roller, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: capture folder is empty", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOutputUnavailable, opts.Dir, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Roller{opts: opts, logger: logger, now: time.Now}, nil
}

// AppendRaw appends p to the current rolling file and refreshes its marker.
func (r *Roller) AppendRaw(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if err := r.selectFile(now, int64(len(p))); err != nil {
		return &WriteError{Path: r.opts.Dir, Err: err}
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &WriteError{Path: r.path, Err: err}
	}
	n, werr := f.Write(p)
	cerr := f.Close()
	r.size += int64(n)
	if werr != nil {
		return &WriteError{Path: r.path, Err: werr}
	}
	if cerr != nil {
		return &WriteError{Path: r.path, Err: cerr}
	}
	r.writes++

	if err := writeMarker(r.path, now); err != nil {
		// Advisory only; the data is already on disk.
		r.logger.Warn("marker update failed", log.String("path", MarkerPath(r.path)), log.Err(err))
	}
	return nil
}

// Active returns the file the last append went to.
func (r *Roller) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Close removes the marker of the active file so readers can treat it as
// settled once its mtime ages past the stability window.
func (r *Roller) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.path == "" {
		return nil
	}
	return removeMarker(r.path)
}

// selectFile picks the target for the next n bytes, resuming at the highest
// existing sequence for a new period and rolling over when a cap is hit.
func (r *Roller) selectFile(now time.Time, n int64) error {
	period := periodName(now, r.opts.Split)
	if period != r.period {
		seq, size, err := resumeSequence(r.opts.Dir, period)
		if err != nil {
			return err
		}
		r.switchTo(period, seq, size)
	}

	if r.capReached(n) {
		r.switchTo(period, r.seq+1, 0)
		r.logger.Info("capture file rolled over", log.String("path", r.path))
		if r.opts.OnRotate != nil {
			r.opts.OnRotate(r.path)
		}
	}
	return nil
}

func (r *Roller) capReached(n int64) bool {
	if r.size == 0 {
		return false
	}
	if r.opts.MaxFileBytes > 0 && r.size+n > r.opts.MaxFileBytes {
		return true
	}
	return r.opts.MaxFileWrites > 0 && r.writes >= r.opts.MaxFileWrites
}

func (r *Roller) switchTo(period string, seq int, size int64) {
	if r.path != "" {
		_ = removeMarker(r.path)
	}
	r.period = period
	r.seq = seq
	r.path = filepath.Join(r.opts.Dir, fileName(period, seq))
	r.size = size
	r.writes = 0
}

// periodName is the calendar day, or the Monday starting the week.
func periodName(t time.Time, mode SplitMode) string {
	t = t.UTC()
	if mode == Weekly {
		offset := (int(t.Weekday()) + 6) % 7
		t = t.AddDate(0, 0, -offset)
	}
	return t.Format(dayLayout)
}

func fileName(period string, seq int) string {
	if seq == 0 {
		return period + rawSuffix
	}
	return period + "-" + strconv.Itoa(seq) + rawSuffix
}

// parseFileName splits YYYY-MM-DD[-N].raw into its period and sequence.
func parseFileName(name string) (string, int, bool) {
	base, ok := strings.CutSuffix(name, rawSuffix)
	if !ok || len(base) < len(dayLayout) {
		return "", 0, false
	}
	period := base[:len(dayLayout)]
	if _, err := time.Parse(dayLayout, period); err != nil {
		return "", 0, false
	}
	rest := base[len(dayLayout):]
	if rest == "" {
		return period, 0, true
	}
	if rest[0] != '-' {
		return "", 0, false
	}
	seq, err := strconv.Atoi(rest[1:])
	if err != nil || seq < 1 {
		return "", 0, false
	}
	return period, seq, true
}

func resumeSequence(dir, period string) (int, int64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}
	seq, found := 0, false
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		p, n, ok := parseFileName(e.Name())
		if !ok || p != period {
			continue
		}
		if !found || n > seq {
			seq, found = n, true
		}
	}
	if !found {
		return 0, 0, nil
	}
	info, err := os.Stat(filepath.Join(dir, fileName(period, seq)))
	if err != nil {
		return 0, 0, err
	}
	return seq, info.Size(), nil
}

func writeMarker(path string, now time.Time) error {
	marker := MarkerPath(path)
	if err := os.WriteFile(marker, []byte(strconv.FormatInt(now.Unix(), 10)+"\n"), 0o644); err != nil {
		return err
	}
	// Readers age the marker by mtime; keep it in step with the roller's clock.
	return os.Chtimes(marker, now, now)
}

func removeMarker(path string) error {
	if err := os.Remove(MarkerPath(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
