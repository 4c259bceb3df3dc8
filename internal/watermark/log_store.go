package watermark

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/stwalsh4118/featuresync/internal/logger"
)

var lastIDPattern = regexp.MustCompile(`last ID: (\d+)`)

// maxLogLine bounds a single scanned log line.
const maxLogLine = 1 << 20

// LogStore keeps the watermark inside the operational log: Write appends
// a "last ID: <n>" line and Read returns the last such line in the file.
type LogStore struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
}

// NewLogStore creates a LogStore over the log file at path.
func NewLogStore(path string, log *logger.Logger) *LogStore {
	if log == nil {
		log = logger.Nop()
	}
	return &LogStore{path: path, log: log}
}

// Read scans the log for the most recent watermark line.
func (s *LogStore) Read(ctx context.Context) (*Watermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("Log file not found. Starting full load.", map[string]interface{}{
				"path": s.path,
			})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	var last *Watermark
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		match := lastIDPattern.FindSubmatch(scanner.Bytes())
		if match == nil {
			continue
		}
		id, err := strconv.ParseInt(string(match[1]), 10, 64)
		if err != nil {
			continue
		}
		last = &Watermark{ID: id}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	return last, nil
}

// Write appends a watermark line to the log.
func (s *LogStore) Write(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "last ID: %d\n", id); err != nil {
		f.Close()
		return fmt.Errorf("failed to append watermark: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	s.log.Info("Updated last logged ID", map[string]interface{}{
		"id": id,
	})
	return nil
}

// Close is a no-op.
func (s *LogStore) Close() error {
	return nil
}
