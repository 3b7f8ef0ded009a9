package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
)

// ChunkSize is the size of the buffer used to stream objects to disk.
const ChunkSize = 1 << 20

// LocalStore is the download directory. Files appear at their final path
// only once fully written; partial data lives in a hidden .<name>.*.part
// file next to it.
type LocalStore struct {
	fs        afero.Fs
	dir       string
	chunkSize int
}

// NewLocalStore returns a store rooted at dir on fs.
func NewLocalStore(fs afero.Fs, dir string) *LocalStore {
	return &LocalStore{fs: fs, dir: dir, chunkSize: ChunkSize}
}

// Fs returns the underlying filesystem.
func (s *LocalStore) Fs() afero.Fs {
	return s.fs
}

// Dir returns the directory files are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Path returns the final path of name.
func (s *LocalStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a completed copy of name is present.
func (s *LocalStore) Exists(name string) (bool, error) {
	return afero.Exists(s.fs, s.Path(name))
}

// Write streams r into name through a temporary file and renames it into
// place. The context is checked between chunks. On any error the temporary
// file is removed and nothing is left at the final path.
func (s *LocalStore) Write(ctx context.Context, name string, r io.Reader) (written int64, err error) {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, "."+name+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	tmpName := tmp.Name()
	closed := false

	defer func() {
		if err == nil {
			return
		}

		if !closed {
			_ = tmp.Close()
		}

		_ = s.fs.Remove(tmpName)
	}()

	buf := make([]byte, s.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, rerr := r.Read(buf)
		if n > 0 {
			w, werr := tmp.Write(buf[:n])
			written += int64(w)

			if werr != nil {
				return written, fmt.Errorf("failed to write %s: %w", tmpName, werr)
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}

		if rerr != nil {
			return written, fmt.Errorf("failed to read stream: %w", rerr)
		}
	}

	if err := tmp.Sync(); err != nil {
		return written, fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}

	closed = true

	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err := s.fs.Rename(tmpName, s.Path(name)); err != nil {
		return written, fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	return written, nil
}

// WriteFile writes data to name through the same temp-then-rename path.
func (s *LocalStore) WriteFile(ctx context.Context, name string, data io.Reader) error {
	_, err := s.Write(ctx, name, data)

	return err
}
