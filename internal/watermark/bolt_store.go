package watermark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/stwalsh4118/featuresync/internal/logger"
)

const (
	// DefaultBoltFileMode is the file mode for a new state database
	DefaultBoltFileMode = 0o600

	// DefaultBoltTimeout bounds how long Open waits for the file lock
	DefaultBoltTimeout = time.Second
)

var watermarkBucket = []byte("watermarks")

// BoltStore keeps one watermark per key in a BoltDB file, so several
// layers can share a single state database.
type BoltStore struct {
	db  *bolt.DB
	key []byte
	log *logger.Logger
	now func() time.Time
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path, key string, log *logger.Logger) (*BoltStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	if key == "" {
		return nil, fmt.Errorf("bolt watermark store requires a key")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for database: %w", err)
	}

	db, err := bolt.Open(path, DefaultBoltFileMode, &bolt.Options{Timeout: DefaultBoltTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(watermarkBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	log.Debug("Opened watermark database", map[string]interface{}{
		"path": path,
		"key":  key,
	})
	return &BoltStore{db: db, key: []byte(key), log: log, now: time.Now}, nil
}

// Read returns the watermark stored under the store key.
func (s *BoltStore) Read(ctx context.Context) (*Watermark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var wm *Watermark
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(watermarkBucket)
		if b == nil {
			return fmt.Errorf("watermarks bucket not found")
		}
		data := b.Get(s.key)
		if data == nil {
			return nil
		}
		wm = &Watermark{}
		if err := json.Unmarshal(data, wm); err != nil {
			return fmt.Errorf("failed to decode watermark: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wm, nil
}

// Write stores id under the store key.
func (s *BoltStore) Write(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Watermark{
		ID:        id,
		Key:       string(s.key),
		UpdatedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode watermark: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(watermarkBucket)
		if b == nil {
			return fmt.Errorf("watermarks bucket not found")
		}
		return b.Put(s.key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to store watermark: %w", err)
	}

	s.log.Info("Updated watermark", map[string]interface{}{
		"id":  id,
		"key": string(s.key),
	})
	return nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
