// Package cleanup removes artifacts left behind by interrupted runs.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/grfn_downloader/internal/logctx"
	"github.com/spf13/afero"
)

// IsTempArtifact reports whether name is a partial download file
// (.<name>.<random>.part).
func IsTempArtifact(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".part") && len(name) > len("..part")
}

// RemoveStaleTemps deletes partial download files in dir last modified more
// than olderThan before now. Younger files may belong to a concurrent run and
// are kept. It returns the number of files removed.
func RemoveStaleTemps(ctx context.Context, fs afero.Fs, dir string, olderThan time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, e := range entries {
		if e.IsDir() || !IsTempArtifact(e.Name()) {
			continue
		}

		if now.Sub(e.ModTime()) <= olderThan {
			continue
		}

		filePath := filepath.Join(dir, e.Name())

		if err := fs.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.ErrorContext(ctx, "failed to delete stale temp file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.InfoContext(ctx, "deleted stale temp file", "file", filePath)
	}

	return removed, nil
}
