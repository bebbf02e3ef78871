package heartbeat

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// File reads and writes a heartbeat record at a fixed path.
type File struct {
	path string
}

// NewFile creates a File for path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the record. A missing file returns fs.ErrNotExist.
func (f *File) Load() (Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Save persists rec atomically (write to temp file, then rename).
func (f *File) Save(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Remove deletes the record and any leftover temp file.
func (f *File) Remove() error {
	_ = os.Remove(f.path + ".tmp")
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the full path to the heartbeat file.
func (f *File) Path() string {
	return f.path
}
