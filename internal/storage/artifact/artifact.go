// Package artifact writes downloaded build artifacts to the local tree.
//
// Writes go to a temporary "<name>.part" file first and are renamed to the
// final name only after the whole body arrived, so a killed process never
// leaves a partial file under a final name.
package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

const partSuffix = ".part"

// DownloadError reports a failure while streaming an artifact body to disk.
type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download to %s: %v", e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type Storage struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewStorage(log *slog.Logger) *Storage {
	return NewStorageWithFS(afero.NewOsFs(), log)
}

func NewStorageWithFS(fs afero.Fs, log *slog.Logger) *Storage {
	return &Storage{
		fs:  fs,
		log: log.With(slog.String("item", "ArtifactStorage")),
	}
}

// Exists reports whether the final destination file is already on disk.
func (s *Storage) Exists(dir, name string) (bool, error) {
	exists, err := afero.Exists(s.fs, filepath.Join(dir, name))
	if err != nil {
		return false, fmt.Errorf("cannot check destination: %w", err)
	}

	return exists, nil
}

// Store streams r into dir/name. Returns the final path and whether the write
// was skipped because the destination already existed. On a mid-stream
// failure the orphaned part file is left behind; it never becomes visible
// under the final name.
func (s *Storage) Store(dir, name string, r io.Reader) (string, bool, error) {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("cannot create destination dir %s: %w", dir, err)
	}

	dest := filepath.Join(dir, name)

	exists, err := afero.Exists(s.fs, dest)
	if err != nil {
		return "", false, fmt.Errorf("cannot check destination %s: %w", dest, err)
	}
	if exists {
		return dest, true, nil
	}

	part := dest + partSuffix

	s.log.Debug("Streaming", slog.String("path", part))

	f, err := s.fs.Create(part)
	if err != nil {
		return "", false, fmt.Errorf("cannot create part file %s: %w", part, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", false, &DownloadError{Path: part, Err: err}
	}

	if err := f.Close(); err != nil {
		return "", false, &DownloadError{Path: part, Err: err}
	}

	if err := s.fs.Rename(part, dest); err != nil {
		return "", false, fmt.Errorf("cannot promote %s: %w", part, err)
	}

	return dest, false, nil
}
