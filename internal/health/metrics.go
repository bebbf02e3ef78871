package health

import (
	"sync"
	"time"

	"github.com/bft-labs/adcpship/internal/codec"
)

// Backup targets reported by RecordWrite.
const (
	TargetBackup  = "backup"
	TargetHandoff = "handoff"
)

// Terminal outcomes reported by RecordFileOutcome.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
)

// Snapshot is a consistent read-only copy of the role counters.
type Snapshot struct {
	Frames           uint64    `json:"frames_total"`
	ParseErrors      uint64    `json:"parse_errors"`
	ChecksumErrors   uint64    `json:"checksum_errors"`
	FieldErrors      uint64    `json:"field_errors"`
	UnknownSentences uint64    `json:"unknown_sentences"`
	PersistErrors    uint64    `json:"persist_errors"`
	LastFrameAt      time.Time `json:"last_frame_at"`

	SerialBytes    uint64    `json:"serial_bytes"`
	SerialLines    uint64    `json:"serial_lines"`
	LastDataAt     time.Time `json:"last_data_at"`
	BackupWrites   uint64    `json:"backup_writes"`
	BackupErrors   uint64    `json:"backup_errors"`
	HandoffWrites  uint64    `json:"handoff_writes"`
	HandoffErrors  uint64    `json:"handoff_errors"`
	HandoffDropped uint64    `json:"handoff_dropped"`
	Rotations      uint64    `json:"rotations"`
	FilesProcessed uint64    `json:"files_processed"`
	FilesFailed    uint64    `json:"files_failed"`
}

// Metrics holds process-wide counters. All methods are safe for concurrent use;
// readers only ever see a Snapshot.
type Metrics struct {
	mu  sync.Mutex
	s   Snapshot
	now func() time.Time
}

// NewMetrics creates an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{now: time.Now}
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

// RecordFrame counts a successfully handled frame and stamps last_frame_at.
func (m *Metrics) RecordFrame(kind codec.Kind) {
	now := m.now()
	m.mu.Lock()
	m.s.Frames++
	m.s.LastFrameAt = now
	m.mu.Unlock()

	framesTotal.WithLabelValues(kind.String()).Inc()
	lastFrameSeconds.Set(float64(now.UnixNano()) / 1e9)
}

// RecordParseError counts a rejected line by its codec class.
func (m *Metrics) RecordParseError(err error) {
	class := codec.Classify(err)
	m.mu.Lock()
	m.s.ParseErrors++
	switch class {
	case codec.ClassChecksum:
		m.s.ChecksumErrors++
	case codec.ClassField:
		m.s.FieldErrors++
	case codec.ClassUnknown:
		m.s.UnknownSentences++
	}
	m.mu.Unlock()

	parseErrorsTotal.WithLabelValues(class).Inc()
}

// RecordPersistError counts a frame the Persistence Writer could not store.
func (m *Metrics) RecordPersistError() {
	m.mu.Lock()
	m.s.PersistErrors++
	m.mu.Unlock()

	persistErrorsTotal.Inc()
}

// RecordData counts bytes and complete lines read from the serial source.
func (m *Metrics) RecordData(bytes, lines int) {
	now := m.now()
	m.mu.Lock()
	m.s.SerialBytes += uint64(bytes)
	m.s.SerialLines += uint64(lines)
	m.s.LastDataAt = now
	m.mu.Unlock()

	serialBytesTotal.Add(float64(bytes))
}

// RecordWrite counts a raw append to target; err marks a failed append.
func (m *Metrics) RecordWrite(target string, err error) {
	result := "ok"
	m.mu.Lock()
	switch {
	case target == TargetBackup && err == nil:
		m.s.BackupWrites++
	case target == TargetBackup:
		m.s.BackupErrors++
	case err == nil:
		m.s.HandoffWrites++
	default:
		m.s.HandoffErrors++
	}
	m.mu.Unlock()

	if err != nil {
		result = "error"
	}
	backupWritesTotal.WithLabelValues(target, result).Inc()
}

// RecordHandoffDrop counts a line the handoff writer could not keep up with.
func (m *Metrics) RecordHandoffDrop() {
	m.mu.Lock()
	m.s.HandoffDropped++
	m.mu.Unlock()
}

// RecordRotation counts a rolling file change.
func (m *Metrics) RecordRotation() {
	m.mu.Lock()
	m.s.Rotations++
	m.mu.Unlock()
}

// RecordFileOutcome counts a handoff file reaching a terminal state.
func (m *Metrics) RecordFileOutcome(outcome string) {
	m.mu.Lock()
	if outcome == OutcomeProcessed {
		m.s.FilesProcessed++
	} else {
		m.s.FilesFailed++
	}
	m.mu.Unlock()

	handoffFilesTotal.WithLabelValues(outcome).Inc()
}
