// Package media provides the filesystem collaborator for screenshots.
package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fairwaylabs/coursehound/internal/types"
)

// Store hands out writable screenshot paths under a media directory keyed
// by target ID.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewAppError(types.KindFileSystem,
			fmt.Sprintf("create media directory %s", dir), err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "media_store"),
	}, nil
}

// ScreenshotPath returns a fresh writable path for a full-page capture of
// the given target: <dir>/<id>/screenshot-<timestamp>.png.
func (s *Store) ScreenshotPath(targetID string) (string, error) {
	id := sanitizeID(targetID)
	targetDir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", types.NewAppError(types.KindFileSystem,
			fmt.Sprintf("create target directory %s", targetDir), err)
	}
	name := fmt.Sprintf("screenshot-%s.png", time.Now().UTC().Format("2006-01-02T15-04-05.000Z"))
	return filepath.Join(targetDir, name), nil
}

// WriteScreenshot persists captured PNG bytes for a target and returns the
// path written.
func (s *Store) WriteScreenshot(targetID string, data []byte) (string, error) {
	path, err := s.ScreenshotPath(targetID)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", types.NewAppError(types.KindFileSystem,
			fmt.Sprintf("write screenshot %s", path), err)
	}
	s.logger.Debug("screenshot written", "target_id", targetID, "path", path, "size", len(data))
	return path, nil
}

// sanitizeID makes a target ID safe to use as a directory name.
func sanitizeID(id string) string {
	if id == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(id)
}
