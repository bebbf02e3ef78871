package persist

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bft-labs/adcpship/internal/codec"
	"github.com/bft-labs/adcpship/internal/domain"
)

const (
	lineConfiguration = "$PNORI,4,Signature1000_100297,4,21,0.20,1.00,0*41"
	lineSensorDay1    = "$PNORS,010526,220800,00000000,3ED40002,23.7,1532.0,275.4,-49.1,83.0,0.000,24.02,0,0*77"
	lineCurrentDay1   = "$PNORC,010526,220800,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59,40,37,14,22*35"
	lineSensorDay2    = "$PNORS,010626,000100,00000000,3ED40002,23.6,1532.0,270.1,-49.0,83.1,0.000,23.98,0,0*78"
	lineCurrentDay2   = "$PNORC,010626,000100,1,-32.77,-32.77,-32.77,-32.77,46.34,225.0,C,65,64,61,59,40,37,14,22*3F"
)

func mustParse(t *testing.T, line string) codec.Frame {
	t.Helper()
	f, err := codec.Parse(line)
	if err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	return f
}

func readTypes(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("invalid JSON line %q: %v", sc.Text(), err)
		}
		types = append(types, rec.Type)
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return types
}

func TestWriter_ThreeFamiliesOneDatedFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{lineConfiguration, lineSensorDay1, lineCurrentDay1} {
		if err := w.Append(mustParse(t, line)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "2026-01-05.jsonl" {
		t.Fatalf("expected exactly 2026-01-05.jsonl, got %v", entries)
	}

	got := readTypes(t, filepath.Join(dir, "2026-01-05.jsonl"))
	want := []string{"Configuration", "Sensor", "Current"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestWriter_PartitionsByFrameDate(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range []string{lineSensorDay1, lineCurrentDay1, lineSensorDay2, lineCurrentDay2, lineConfiguration} {
		if err := w.Append(mustParse(t, line)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two dated files, got %v", entries)
	}
	if got := readTypes(t, filepath.Join(dir, "2026-01-05.jsonl")); len(got) != 2 {
		t.Fatalf("expected 2 lines for 2026-01-05, got %v", got)
	}
	// The trailing configuration frame follows the last dated file.
	if got := readTypes(t, filepath.Join(dir, "2026-01-06.jsonl")); len(got) != 3 || got[2] != "Configuration" {
		t.Fatalf("expected 3 lines ending in Configuration for 2026-01-06, got %v", got)
	}
}

func TestWriter_UndatedOnlyGoesToUndatedFileOnClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(mustParse(t, lineConfiguration)); err != nil {
		t.Fatal(err)
	}
	if w.Pending() != 1 {
		t.Fatalf("expected one pending frame, got %d", w.Pending())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := readTypes(t, filepath.Join(dir, undatedName)); len(got) != 1 {
		t.Fatalf("expected one undated line, got %v", got)
	}
}

func TestWriter_AppendsAcrossWriters(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		w, err := NewWriter(dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Append(mustParse(t, lineSensorDay1)); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	// Replays are at-least-once: duplicates are kept, not merged.
	if got := readTypes(t, filepath.Join(dir, "2026-01-05.jsonl")); len(got) != 2 {
		t.Fatalf("expected duplicate lines to be kept, got %v", got)
	}
}

func TestNewWriter_UnusableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewWriter(filepath.Join(blocker, "out"))
	if !errors.Is(err, domain.ErrOutputUnavailable) {
		t.Fatalf("expected ErrOutputUnavailable, got %v", err)
	}
}

func TestWriter_IOFailureIsPersistError(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	// A directory squatting on the day file makes the open fail.
	if err := os.Mkdir(filepath.Join(dir, "2026-01-05.jsonl"), 0o755); err != nil {
		t.Fatal(err)
	}
	err = w.Append(mustParse(t, lineSensorDay1))
	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *persist.Error, got %v", err)
	}
	// The writer stays usable for other days.
	if err := w.Append(mustParse(t, lineSensorDay2)); err != nil {
		t.Fatalf("expected next day to succeed, got %v", err)
	}
}
