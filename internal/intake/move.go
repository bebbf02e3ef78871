package intake

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const maxCollisions = 1000

// TransitionError is a FileTransitionError: a file could not be moved to
// its terminal location.
type TransitionError struct {
	Path string
	Dest string
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Path, e.Dest, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// candidate returns name, or name with _N inserted before its extension.
func candidate(dir, name string, n int) string {
	if n == 0 {
		return filepath.Join(dir, name)
	}
	ext := filepath.Ext(name)
	return filepath.Join(dir, strings.TrimSuffix(name, ext)+"_"+strconv.Itoa(n)+ext)
}

// moveNoClobber moves src into dir under name without replacing an existing
// file. It hard-links then unlinks, and falls back to a synced copy when
// links are not possible (another filesystem, or no link support).
func moveNoClobber(src, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &TransitionError{Path: src, Dest: dir, Err: err}
	}

	for n := 0; n < maxCollisions; n++ {
		dst := candidate(dir, name, n)
		err := os.Link(src, dst)
		if err == nil {
			if err := os.Remove(src); err != nil {
				// Leave exactly one copy behind.
				_ = os.Remove(dst)
				return "", &TransitionError{Path: src, Dest: dst, Err: err}
			}
			return dst, nil
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			return "", &TransitionError{Path: src, Dest: dst, Err: err}
		}
		return copyNoClobber(src, dir, name)
	}
	return "", &TransitionError{Path: src, Dest: dir, Err: errors.New("too many name collisions")}
}

func copyNoClobber(src, dir, name string) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", &TransitionError{Path: src, Dest: dir, Err: err}
	}
	tmpPath := tmp.Name()
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return "", &TransitionError{Path: src, Dest: dir, Err: err}
	}

	in, err := os.Open(src)
	if err != nil {
		return fail(err)
	}
	_, err = io.Copy(tmp, in)
	in.Close()
	if err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", &TransitionError{Path: src, Dest: dir, Err: err}
	}

	for n := 0; n < maxCollisions; n++ {
		dst := candidate(dir, name, n)
		if _, err := os.Lstat(dst); err == nil {
			continue
		}
		if err := os.Rename(tmpPath, dst); err != nil {
			os.Remove(tmpPath)
			return "", &TransitionError{Path: src, Dest: dst, Err: err}
		}
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return "", &TransitionError{Path: src, Dest: dst, Err: err}
		}
		return dst, nil
	}
	os.Remove(tmpPath)
	return "", &TransitionError{Path: src, Dest: dir, Err: errors.New("too many name collisions")}
}
