package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/stwalsh4118/featuresync/internal/logger"
)

// FileStore keeps the watermark in a dedicated JSON record. Writes go to a
// temporary file that is renamed over the record, so a crash mid-write
// leaves the previous value intact.
type FileStore struct {
	path string
	key  string
	log  *logger.Logger
	now  func() time.Time
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path, key string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.Nop()
	}
	return &FileStore{path: path, key: key, log: log, now: time.Now}
}

// Read loads the record, nil when the file does not exist.
func (s *FileStore) Read(ctx context.Context) (*Watermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Watermark file not found. Starting full load.", map[string]interface{}{
				"path": s.path,
			})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read watermark file: %w", err)
	}

	var wm Watermark
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("failed to decode watermark file %s: %w", s.path, err)
	}
	return &wm, nil
}

// Write replaces the record atomically.
func (s *FileStore) Write(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(Watermark{
		ID:        id,
		Key:       s.key,
		UpdatedAt: s.now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode watermark: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create watermark directory: %w", err)
		}
	}

	if err := atomic.WriteFile(s.path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("failed to write watermark file: %w", err)
	}

	s.log.Info("Updated watermark", map[string]interface{}{
		"id":   id,
		"path": s.path,
	})
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
