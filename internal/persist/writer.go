package persist

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/codec"
	"github.com/bft-labs/adcpship/internal/domain"
)

const (
	dayLayout   = "2006-01-02"
	fileSuffix  = ".jsonl"
	undatedName = "undated" + fileSuffix
)

// Error is a PersistError: an IO failure writing the dated output.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("persist %s: %v", e.Path, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// record is one persisted JSON line.
type record struct {
	Type string      `json:"type"`
	Data codec.Frame `json:"data"`
}

// Writer appends frames to one JSON-lines file per calendar day of the
// frame's own timestamp. Frames without a timestamp are held until a dated
// frame arrives, then written ahead of it into that frame's file.
type Writer struct {
	dir string

	mu      sync.Mutex
	day     string
	f       *os.File
	buf     *bufio.Writer
	pending [][]byte
}

// NewWriter prepares dir for output. Failure to create dir is fatal to the
// role and wraps domain.ErrOutputUnavailable.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrOutputUnavailable, dir, err)
	}
	return &Writer{dir: dir}, nil
}

// DayFile returns the output path for the calendar day of t (UTC).
func DayFile(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format(dayLayout)+fileSuffix)
}

// Append serializes f as one line and flushes before returning.
func (w *Writer) Append(f codec.Frame) error {
	line, err := json.Marshal(record{Type: f.Kind().String(), Data: f})
	if err != nil {
		// Frames come out of the codec already validated; this guards the type switch.
		return &Error{Path: w.dir, Err: fmt.Errorf("encode %s frame: %w", f.Kind(), err)}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ts, dated := f.Timestamp()
	if !dated {
		if w.day == "" {
			w.pending = append(w.pending, line)
			return nil
		}
		return w.writeLines(line)
	}

	day := ts.UTC().Format(dayLayout)
	if day != w.day || w.f == nil {
		if err := w.open(day); err != nil {
			return err
		}
	}
	lines := append(w.pending, line)
	if err := w.writeLines(lines...); err != nil {
		return err
	}
	w.pending = nil
	return nil
}

// open switches the active file to day, creating the directory on demand.
func (w *Writer) open(day string) error {
	w.closeFile()
	path := filepath.Join(w.dir, day+fileSuffix)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return &Error{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	w.day = day
	w.f = f
	w.buf = bufio.NewWriter(f)
	return nil
}

func (w *Writer) writeLines(lines ...[]byte) error {
	if w.f == nil {
		if err := w.open(w.day); err != nil {
			return err
		}
	}
	for _, l := range lines {
		w.buf.Write(l)
		w.buf.WriteByte('\n')
	}
	if err := w.buf.Flush(); err != nil {
		path := w.f.Name()
		// Drop the handle so the next append reopens the file.
		w.closeFile()
		return &Error{Path: path, Err: err}
	}
	return nil
}

func (w *Writer) closeFile() {
	if w.f != nil {
		_ = w.f.Close()
	}
	w.f = nil
	w.buf = nil
}

// Pending returns the number of undated frames waiting for a dated frame.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close writes frames still undated to undated.jsonl and closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if len(w.pending) > 0 {
		err = w.writeUndated()
	}
	w.closeFile()
	return err
}

func (w *Writer) writeUndated() error {
	path := filepath.Join(w.dir, undatedName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &Error{Path: path, Err: err}
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	for _, l := range w.pending {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := buf.Flush(); err != nil {
		return &Error{Path: path, Err: err}
	}
	w.pending = nil
	return nil
}
