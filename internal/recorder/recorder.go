package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/backup"
	"github.com/bft-labs/adcpship/internal/codec"
	"github.com/bft-labs/adcpship/internal/domain"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/pkg/lifecycle"
	"github.com/bft-labs/adcpship/pkg/log"
)

const (
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 30 * time.Second
	defaultFollowInterval   = 250 * time.Millisecond

	lineQueue = 256
	readSize  = 4096
)

// Config configures the Recorder role.
type Config struct {
	Port     string
	BaudRate int

	BackupDir       string
	Split           backup.SplitMode
	BackupMaxBytes  int64
	BackupMaxWrites int
	// Consecutive backup failures that end the role. Zero never escalates.
	FailureLimit int

	// Empty disables the handoff copy.
	HandoffDir      string
	HandoffMaxBytes int64

	ReconnectAttempts int
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	FollowInterval    time.Duration

	Retention         backup.Policy
	RetentionInterval time.Duration
	ArchiveOnStart    bool
	CompressArchives  bool
}

// Recorder is the capture role: one reader on the serial source fanning out
// raw lines to the backup roller and the handoff roller.
type Recorder struct {
	cfg       Config
	metrics   *health.Metrics
	logger    log.Logger
	backup    *backup.Roller
	handoff   *backup.Roller
	retention *backup.Retention

	open    func(port string, baud int) (*source, error)
	hotplug func(ctx context.Context, logger log.Logger) <-chan struct{}

	// Read position in a followed regular file, kept across reconnects.
	offset int64
}

// New prepares the capture folders.
func New(cfg Config, metrics *health.Metrics, logger log.Logger) (*Recorder, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: serial_port is required for recording", domain.ErrInvalidConfig)
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = defaultReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.FollowInterval <= 0 {
		cfg.FollowInterval = defaultFollowInterval
	}
	if metrics == nil {
		metrics = health.NewMetrics()
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}

	r := &Recorder{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		open:    openSource,
		hotplug: watchHotplug,
	}

	var err error
	r.backup, err = backup.NewRoller(backup.Options{
		Dir:           cfg.BackupDir,
		Split:         cfg.Split,
		MaxFileBytes:  cfg.BackupMaxBytes,
		MaxFileWrites: cfg.BackupMaxWrites,
		OnRotate:      func(string) { metrics.RecordRotation() },
		Logger:        logger.With(log.String("target", health.TargetBackup)),
	})
	if err != nil {
		return nil, err
	}
	if cfg.HandoffDir != "" {
		r.handoff, err = backup.NewRoller(backup.Options{
			Dir:          cfg.HandoffDir,
			Split:        cfg.Split,
			MaxFileBytes: cfg.HandoffMaxBytes,
			Logger:       logger.With(log.String("target", health.TargetHandoff)),
		})
		if err != nil {
			return nil, err
		}
	}
	r.retention = backup.NewRetention(cfg.BackupDir, cfg.HandoffDir, cfg.Retention,
		cfg.RetentionInterval, r.backup.Active, logger.With(log.String("component", "retention")))
	return r, nil
}

// Run captures until ctx is done. It returns an error wrapping
// domain.ErrSerialExhausted or domain.ErrBackupEscalated when the role can
// no longer do its job, and nil on cancellation.
func (r *Recorder) Run(ctx context.Context) error {
	if r.cfg.ArchiveOnStart {
		if _, err := backup.ArchiveExisting(r.cfg.BackupDir, r.cfg.CompressArchives, time.Now(), r.logger); err != nil {
			r.logger.Error("archive on start failed", log.Err(err))
		}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	backupCh := make(chan []byte, lineQueue)
	var handoffCh chan []byte
	if r.handoff != nil {
		handoffCh = make(chan []byte, lineQueue)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.retention.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.writeBackup(backupCh, cancel)
	}()
	if handoffCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.writeHandoff(handoffCh)
		}()
	}

	err := r.readLoop(ctx, backupCh, handoffCh)

	close(backupCh)
	if handoffCh != nil {
		close(handoffCh)
	}
	cancel(nil)
	wg.Wait()

	if cerr := r.backup.Close(); cerr != nil {
		r.logger.Warn("backup marker cleanup failed", log.Err(cerr))
	}
	if r.handoff != nil {
		if cerr := r.handoff.Close(); cerr != nil {
			r.logger.Warn("handoff marker cleanup failed", log.Err(cerr))
		}
	}

	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrBackupEscalated) {
		return cause
	}
	return err
}

func (r *Recorder) readLoop(ctx context.Context, backupCh, handoffCh chan []byte) error {
	wake := r.hotplug(ctx, r.logger)
	bo := lifecycle.NewBoundedBackoff(r.cfg.ReconnectInitial, r.cfg.ReconnectMax, r.cfg.ReconnectAttempts)
	var split lineSplitter

	defer func() {
		// A trailing partial line still belongs in the byte-identical backup.
		if rest := split.Flush(); rest != nil {
			backupCh <- rest
			if handoffCh != nil {
				handoffCh <- rest
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		src, err := r.connect()
		if err == nil {
			r.logger.Info("serial connected", log.String("port", r.cfg.Port), log.String("kind", src.kind))
			var got bool
			got, err = r.pump(ctx, src, &split, backupCh, handoffCh)
			_ = src.Close()
			if ctx.Err() != nil {
				return nil
			}
			if got {
				bo.Reset()
			}
		}

		serr := &SerialReadError{Port: r.cfg.Port, Err: err}
		if bo.Exhausted() {
			return fmt.Errorf("%w after %d attempts: %v", domain.ErrSerialExhausted, bo.Attempts(), serr)
		}
		r.logger.Warn("serial unavailable; retrying",
			log.Int("attempt", bo.Attempts()+1),
			log.Duration("backoff", bo.Current()),
			log.Err(serr))
		if bo.Wait(ctx, wake) != nil {
			return nil
		}
	}
}

func (r *Recorder) connect() (*source, error) {
	src, err := r.open(r.cfg.Port, r.cfg.BaudRate)
	if err != nil {
		return nil, err
	}
	if src.follow && r.offset > 0 {
		if s, ok := src.ReadCloser.(io.Seeker); ok {
			end, err := s.Seek(0, io.SeekEnd)
			if err == nil && end >= r.offset {
				_, err = s.Seek(r.offset, io.SeekStart)
			} else {
				// Truncated or rotated underneath us.
				r.offset = 0
				_, err = s.Seek(0, io.SeekStart)
			}
			if err != nil {
				src.Close()
				return nil, err
			}
		}
	}
	return src, nil
}

// pump reads src until it fails or ctx is done. It reports whether any
// bytes arrived.
func (r *Recorder) pump(ctx context.Context, src *source, split *lineSplitter, backupCh, handoffCh chan []byte) (bool, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks a pending Read.
			_ = src.Close()
		case <-stop:
		}
	}()

	buf := make([]byte, readSize)
	got := false
	for {
		n, err := src.Read(buf)
		if n > 0 {
			got = true
			if src.follow {
				r.offset += int64(n)
			}
			lines := split.Feed(buf[:n])
			r.metrics.RecordData(n, len(lines))
			for _, line := range lines {
				if !r.dispatch(ctx, line, backupCh, handoffCh) {
					return got, nil
				}
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return got, nil
		}
		if errors.Is(err, io.EOF) && src.follow {
			select {
			case <-ctx.Done():
				return got, nil
			case <-time.After(r.cfg.FollowInterval):
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return got, err
	}
}

// dispatch hands line to both writers. The backup queue applies
// backpressure; the handoff queue drops when full so a slow handoff folder
// never stalls the backup.
func (r *Recorder) dispatch(ctx context.Context, line []byte, backupCh, handoffCh chan []byte) bool {
	select {
	case backupCh <- line:
	case <-ctx.Done():
		return false
	}
	if handoffCh != nil {
		select {
		case handoffCh <- line:
		default:
			r.metrics.RecordHandoffDrop()
			r.logger.Debug("handoff queue full; line dropped")
		}
	}
	r.observe(line)
	return true
}

// observe decodes line for health accounting only.
func (r *Recorder) observe(line []byte) {
	for _, s := range codec.SplitSentences(string(line)) {
		f, err := codec.Parse(s)
		if err != nil {
			r.metrics.RecordParseError(err)
			continue
		}
		r.metrics.RecordFrame(f.Kind())
	}
}

func (r *Recorder) writeBackup(lines <-chan []byte, escalate context.CancelCauseFunc) {
	failures := 0
	escalated := false
	for line := range lines {
		err := r.backup.AppendRaw(line)
		r.metrics.RecordWrite(health.TargetBackup, err)
		if err == nil {
			failures = 0
			continue
		}
		failures++
		r.logger.Error("backup write failed", log.Int("consecutive", failures), log.Err(err))
		if r.cfg.FailureLimit > 0 && failures >= r.cfg.FailureLimit && !escalated {
			escalated = true
			escalate(fmt.Errorf("%w: %d consecutive failures: %v", domain.ErrBackupEscalated, failures, err))
		}
	}
}

func (r *Recorder) writeHandoff(lines <-chan []byte) {
	for line := range lines {
		err := r.handoff.AppendRaw(line)
		r.metrics.RecordWrite(health.TargetHandoff, err)
		if err != nil {
			r.logger.Warn("handoff write failed", log.Err(err))
		}
	}
}

// Active returns the backup file currently being written.
func (r *Recorder) Active() string { return r.backup.Active() }
