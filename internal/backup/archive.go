package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bft-labs/adcpship/pkg/log"
)

const archiveLayout = "20060102_150405"

// ArchiveExisting moves the capture files left at the top of dir into a
// fresh archive_YYYYMMDD_HHMMSS folder, gzip-compressing them when compress
// is set. It returns the archive folder, or "" when there was nothing to move.
func ArchiveExisting(dir string, compress bool, now time.Time, logger log.Logger) (string, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var names []string
	for _, e := range ents {
		if !e.IsDir() && isCapture(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}

	archive := filepath.Join(dir, archivePrefix+now.UTC().Format(archiveLayout))
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	for _, name := range names {
		src := filepath.Join(dir, name)
		_ = removeMarker(src)
		if compress && filepath.Ext(name) != gzSuffix {
			err = compressFile(src, filepath.Join(archive, name+gzSuffix))
		} else {
			err = os.Rename(src, filepath.Join(archive, name))
		}
		if err != nil {
			return archive, fmt.Errorf("archive %s: %w", name, err)
		}
	}

	logger.Info("archived previous captures",
		log.String("archive", archive),
		log.Int("files", len(names)),
		log.Bool("compressed", compress))
	return archive, nil
}

// compressFile writes src to dst as gzip and removes src once dst is synced.
func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(src)
	zw.ModTime = info.ModTime()
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	// Keep the original mtime so retention ages the archive by capture time.
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return os.Remove(src)
}
