// Package watermark persists the highest incremental identifier loaded so
// far, so the next incremental load can ask only for newer features.
package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/stwalsh4118/featuresync/internal/config"
	"github.com/stwalsh4118/featuresync/internal/logger"
)

// Watermark is a persisted last-seen identifier.
type Watermark struct {
	ID        int64     `json:"last_id"`
	Key       string    `json:"key,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Store reads and writes the watermark.
// Read returns nil, nil when no watermark has been recorded yet.
type Store interface {
	Read(ctx context.Context) (*Watermark, error)
	Write(ctx context.Context, id int64) error
	Close() error
}

// New opens the store selected by cfg.Backend. key identifies the
// service layer and is only used by backends that hold several watermarks.
func New(cfg config.WatermarkConfig, key string, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	switch cfg.Backend {
	case config.WatermarkBackendLog:
		return NewLogStore(cfg.Path, log), nil
	case config.WatermarkBackendFile, "":
		return NewFileStore(cfg.Path, key, log), nil
	case config.WatermarkBackendBolt:
		return OpenBoltStore(cfg.Path, key, log)
	default:
		return nil, fmt.Errorf("unknown watermark backend %q", cfg.Backend)
	}
}
