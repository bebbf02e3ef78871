package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bft-labs/adcpship/pkg/log"
)

const archivePrefix = "archive_"

var retentionTickerNow = true // sweep once immediately; used for tests

// Policy bounds how much capture history is kept. Zero values disable a bound.
type Policy struct {
	MaxFiles int
	MaxAge   time.Duration
}

func (p Policy) enabled() bool { return p.MaxFiles > 0 || p.MaxAge > 0 }

// Retention deletes old capture files from the backup folder. It only ever
// looks at capture files at the top level and inside archive_* folders, and
// never inside the handoff folder.
type Retention struct {
	dir        string
	handoffDir string
	policy     Policy
	interval   time.Duration
	active     func() string
	logger     log.Logger
	now        func() time.Time
}

// NewRetention creates a sweeper for dir. active reports the file currently
// being written, which is never removed.
func NewRetention(dir, handoffDir string, policy Policy, interval time.Duration, active func() string, logger log.Logger) *Retention {
	if interval <= 0 {
		interval = time.Hour
	}
	if active == nil {
		active = func() string { return "" }
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Retention{
		dir:        dir,
		handoffDir: handoffDir,
		policy:     policy,
		interval:   interval,
		active:     active,
		logger:     logger,
		now:        time.Now,
	}
}

type capture struct {
	path    string
	modTime time.Time
	size    int64
}

// Run sweeps on every interval until ctx is done.
func (r *Retention) Run(ctx context.Context) {
	if !r.policy.enabled() {
		return
	}
	if samePath(r.dir, r.handoffDir) {
		r.logger.Warn("retention disabled: backup folder is the handoff folder", log.String("dir", r.dir))
		return
	}

	if retentionTickerNow {
		r.Sweep(ctx)
	}

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep removes captures older than MaxAge, then the oldest captures beyond
// MaxFiles. It returns the number of files removed.
func (r *Retention) Sweep(ctx context.Context) int {
	if !r.policy.enabled() || samePath(r.dir, r.handoffDir) {
		return 0
	}

	caps, err := r.captures()
	if err != nil {
		r.logger.Error("retention: list captures failed", log.Err(err))
		return 0
	}

	now := r.now()
	keep := len(caps)
	removed := 0
	var freed int64
	for _, c := range caps {
		if ctx.Err() != nil {
			break
		}
		tooOld := r.policy.MaxAge > 0 && now.Sub(c.modTime) > r.policy.MaxAge
		tooMany := r.policy.MaxFiles > 0 && keep > r.policy.MaxFiles
		if !tooOld && !tooMany {
			continue
		}
		if err := os.Remove(c.path); err != nil {
			r.logger.Error("retention: remove failed", log.String("path", c.path), log.Err(err))
			continue
		}
		_ = removeMarker(c.path)
		keep--
		removed++
		freed += c.size
	}
	r.pruneArchiveDirs()

	if removed > 0 {
		r.logger.Info("retention sweep completed",
			log.Int("removed", removed),
			log.String("freed", formatBytes(freed)),
			log.Int("remaining", keep))
	}
	return removed
}

// captures lists removable capture files, oldest first.
func (r *Retention) captures() ([]capture, error) {
	active := r.active()
	var out []capture

	scan := func(dir string) error {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range ents {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() {
				if dir == r.dir && strings.HasPrefix(e.Name(), archivePrefix) && !samePath(path, r.handoffDir) {
					if err := scanArchive(path, &out); err != nil {
						return err
					}
				}
				continue
			}
			if !isCapture(e.Name()) || (active != "" && samePath(path, active)) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				return err
			}
			out = append(out, capture{path: path, modTime: info.ModTime(), size: info.Size()})
		}
		return nil
	}
	if err := scan(r.dir); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].modTime.Equal(out[j].modTime) {
			return out[i].modTime.Before(out[j].modTime)
		}
		return filepath.Base(out[i].path) < filepath.Base(out[j].path)
	})
	return out, nil
}

func scanArchive(dir string, out *[]capture) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() || !isCapture(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		*out = append(*out, capture{path: filepath.Join(dir, e.Name()), modTime: info.ModTime(), size: info.Size()})
	}
	return nil
}

func (r *Retention) pruneArchiveDirs() {
	ents, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	for _, e := range ents {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), archivePrefix) {
			continue
		}
		// Remove fails on a non-empty directory, which is what we want.
		_ = os.Remove(filepath.Join(r.dir, e.Name()))
	}
}

func isCapture(name string) bool {
	return strings.HasSuffix(name, rawSuffix) || strings.HasSuffix(name, rawSuffix+gzSuffix)
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

func formatBytes(b int64) string {
	const (
		_          = iota
		KB float64 = 1 << (10 * iota)
		MB
		GB
	)

	fb := float64(b)
	switch {
	case fb >= GB:
		return fmt.Sprintf("%.2fGiB", fb/GB)
	case fb >= MB:
		return fmt.Sprintf("%.2fMiB", fb/MB)
	case fb >= KB:
		return fmt.Sprintf("%.2fKiB", fb/KB)
	default:
		return fmt.Sprintf("%dB", b)
	}
}
