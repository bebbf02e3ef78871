package intake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/bft-labs/adcpship/internal/backup"
	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/pkg/log"
)

const (
	processingSuffix = ".processing"
	failedSuffix     = ".failed"
	tmpSuffix        = ".tmp"
	lockName         = ".adcp-processor.lock"

	// Move-only retries for a replayed file before it is failed in place.
	maxMoveAttempts = 3

	watchDebounce = 200 * time.Millisecond
)

// Config configures a Processor.
type Config struct {
	HandoffDir      string
	ProcessedDir    string
	StabilityWindow time.Duration
	ScanInterval    time.Duration
}

// Stable reports whether path has been quiet for window: its mtime is at
// least window old and its WriterMarker is either absent or at least window
// old too.
func Stable(path string, window time.Duration, now time.Time) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if now.Sub(info.ModTime()) < window {
		return false, nil
	}
	marker, err := os.Stat(backup.MarkerPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return now.Sub(marker.ModTime()) >= window, nil
}

// Processor drains the handoff folder. Each file goes Discovered, Stable,
// Replaying (renamed *.processing), then Processed (moved to ProcessedDir) or
// Failed (*.failed). Folder membership is the only state kept on disk.
type Processor struct {
	cfg     Config
	writer  FrameWriter
	metrics *health.Metrics
	logger  log.Logger
	now     func() time.Time

	// Claimed files whose replay finished but whose move failed, by path.
	pendingMoves map[string]int

	lock *flock.Flock
	wake chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
}

// NewProcessor creates a Processor writing frames to w.
func NewProcessor(cfg Config, w FrameWriter, metrics *health.Metrics, logger log.Logger) *Processor {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	if metrics == nil {
		metrics = health.NewMetrics()
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Processor{
		cfg:          cfg,
		writer:       w,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		pendingMoves: make(map[string]int),
		wake:         make(chan struct{}, 1),
	}
}

// Prepare creates the handoff folder and takes its lock. Run calls it when
// the caller has not, so a supervisor can fail fast before reporting ready.
func (p *Processor) Prepare() error {
	if p.lock != nil && p.lock.Locked() {
		return nil
	}
	if err := os.MkdirAll(p.cfg.HandoffDir, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrOutputUnavailable, p.cfg.HandoffDir, err)
	}
	return p.acquire()
}

// Run holds the handoff folder lock and scans until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Prepare(); err != nil {
		return err
	}
	defer p.release()

	p.Recover()

	if stop := p.watch(ctx); stop != nil {
		defer stop()
	}

	t := time.NewTicker(p.cfg.ScanInterval)
	defer t.Stop()

	for {
		p.Scan(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-p.wake:
		}
	}
}

func (p *Processor) acquire() error {
	p.lock = flock.New(filepath.Join(p.cfg.HandoffDir, lockName))
	ok, err := p.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock handoff folder: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProcessorLocked, p.cfg.HandoffDir)
	}
	return nil
}

func (p *Processor) release() {
	if p.lock != nil {
		_ = p.lock.Unlock()
	}
}

// Release drops the handoff folder lock taken by Prepare.
func (p *Processor) Release() {
	p.release()
}

// Recover renames files left claimed by an earlier run back to their
// original names so they are replayed again in full.
func (p *Processor) Recover() int {
	ents, err := os.ReadDir(p.cfg.HandoffDir)
	if err != nil {
		p.logger.Error("recover: list handoff folder failed", log.Err(err))
		return 0
	}
	n := 0
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), processingSuffix) {
			continue
		}
		claimed := filepath.Join(p.cfg.HandoffDir, e.Name())
		orig := strings.TrimSuffix(claimed, processingSuffix)
		if _, err := os.Lstat(orig); err == nil {
			// A newer file took the name meanwhile; replay the old one under a fresh name.
			dst, err := moveNoClobber(claimed, p.cfg.HandoffDir, filepath.Base(orig))
			if err != nil {
				p.logger.Error("recover failed", log.String("file", claimed), log.Err(err))
				continue
			}
			orig = dst
		} else if err := os.Rename(claimed, orig); err != nil {
			p.logger.Error("recover failed", log.String("file", claimed), log.Err(err))
			continue
		}
		p.logger.Info("recovered interrupted file", log.String("file", filepath.Base(orig)))
		n++
	}
	return n
}

// Scan visits the handoff folder once in filename order.
func (p *Processor) Scan(ctx context.Context) {
	p.retryMoves()

	ents, err := os.ReadDir(p.cfg.HandoffDir)
	if err != nil {
		p.logger.Error("scan failed", log.String("dir", p.cfg.HandoffDir), log.Err(err))
		return
	}
	for _, e := range ents {
		if ctx.Err() != nil {
			return
		}
		if e.IsDir() || skipName(e.Name()) {
			continue
		}
		p.visit(ctx, filepath.Join(p.cfg.HandoffDir, e.Name()))
	}
}

func skipName(name string) bool {
	if strings.HasPrefix(name, ".") || backup.IsMarker(name) {
		return true
	}
	for _, s := range []string{failedSuffix, processingSuffix, tmpSuffix} {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func (p *Processor) visit(ctx context.Context, path string) {
	name := filepath.Base(path)
	stable, err := Stable(path, p.cfg.StabilityWindow, p.now())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("stat failed", log.String("file", name), log.Err(err))
		}
		return
	}
	if !stable {
		return
	}

	claimed := path + processingSuffix
	if err := os.Rename(path, claimed); err != nil {
		p.logger.Warn("claim failed", log.String("file", name), log.Err(err))
		return
	}

	logger := p.logger.With(log.String("file", name))
	res, err := Replay(ctx, claimed, p.writer, p.metrics, logger)
	if err != nil {
		if ctx.Err() != nil {
			// Left claimed; the next start recovers and replays it.
			return
		}
		logger.Error("replay failed", log.Err(err))
		p.fail(claimed)
		return
	}

	logger.Info("file replayed",
		log.Int("lines", res.Lines),
		log.Int("frames", res.Frames),
		log.Int("parse_errors", res.ParseErrors),
		log.Int("persist_errors", res.PersistErrors))
	p.finish(claimed)
}

// finish moves a replayed file to the processed folder, or queues a move retry.
func (p *Processor) finish(claimed string) {
	name := originalName(claimed)
	dst, err := moveNoClobber(claimed, p.cfg.ProcessedDir, name)
	if err != nil {
		p.pendingMoves[claimed]++
		p.logger.Warn("move to processed failed; will retry", log.String("file", name), log.Err(err))
		return
	}
	delete(p.pendingMoves, claimed)
	p.removeMarker(name)
	p.metrics.RecordFileOutcome(health.OutcomeProcessed)
	p.logger.Info("file processed", log.String("file", name), log.String("dest", dst))
}

func (p *Processor) retryMoves() {
	for claimed, attempts := range p.pendingMoves {
		if attempts >= maxMoveAttempts {
			delete(p.pendingMoves, claimed)
			p.failInPlace(claimed)
			continue
		}
		p.finish(claimed)
	}
}

// fail moves an unreadable file to the processed folder as *.failed,
// falling back to a rename in place.
func (p *Processor) fail(claimed string) {
	name := originalName(claimed)
	dst, err := moveNoClobber(claimed, p.cfg.ProcessedDir, name+failedSuffix)
	if err != nil {
		p.logger.Warn("move of failed file refused", log.String("file", name), log.Err(err))
		p.failInPlace(claimed)
		return
	}
	p.removeMarker(name)
	p.metrics.RecordFileOutcome(health.OutcomeFailed)
	p.logger.Error("file failed", log.String("file", name), log.String("dest", dst))
}

func (p *Processor) failInPlace(claimed string) {
	name := originalName(claimed)
	dst, err := moveNoClobber(claimed, p.cfg.HandoffDir, name+failedSuffix)
	if err != nil {
		// Still claimed; the next start recovers it.
		p.logger.Error("mark failed refused", log.String("file", name), log.Err(err))
		return
	}
	p.removeMarker(name)
	p.metrics.RecordFileOutcome(health.OutcomeFailed)
	p.logger.Error("file failed in place", log.String("file", name), log.String("dest", dst))
}

func (p *Processor) removeMarker(name string) {
	marker := backup.MarkerPath(filepath.Join(p.cfg.HandoffDir, name))
	if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("marker cleanup failed", log.String("marker", marker), log.Err(err))
	}
}

func originalName(claimed string) string {
	return strings.TrimSuffix(filepath.Base(claimed), processingSuffix)
}

// watch wakes the scan loop early when files land in the handoff folder.
// Polling continues to work if the watcher cannot be set up.
func (p *Processor) watch(ctx context.Context) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Warn("handoff watcher unavailable", log.Err(err))
		return nil
	}
	if err := watcher.Add(p.cfg.HandoffDir); err != nil {
		p.logger.Warn("handoff watcher unavailable", log.String("dir", p.cfg.HandoffDir), log.Err(err))
		watcher.Close()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if skipName(filepath.Base(event.Name)) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				p.debounceWake(watchDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("handoff watcher error", log.Err(err))
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
		p.mu.Lock()
		if p.debounce != nil {
			p.debounce.Stop()
		}
		p.mu.Unlock()
	}
}

func (p *Processor) debounceWake(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(delay, func() {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
}
