// Package sink persists a materialized table to files or a database.
// Every write replaces whatever the destination held before.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/models"
	"github.com/stwalsh4118/featuresync/internal/repository"
)

// Sink kinds accepted by ParseTarget.
const (
	KindCSV       = "csv"
	KindGeoJSON   = "geojson"
	KindShapefile = "shapefile"
	KindPostGIS   = "postgis"
)

// ErrDatabaseNotConfigured is returned when a postgis target is requested
// without a database connection.
var ErrDatabaseNotConfigured = errors.New("postgis sink requires a database connection")

// Writer persists a table.
type Writer interface {
	// Name identifies the sink in logs and reports.
	Name() string
	Write(ctx context.Context, t *models.Table) error
}

// Target is a parsed sink argument: a kind plus a file path or table name.
type Target struct {
	Kind string
	Path string
}

func (t Target) String() string {
	if t.Path == "" {
		return t.Kind
	}
	return t.Kind + ":" + t.Path
}

// ParseTarget parses "csv:<path>", "geojson:<path>", "shapefile:<path>" or
// "postgis[:<table>]".
func ParseTarget(raw string) (Target, error) {
	kind, path, _ := strings.Cut(strings.TrimSpace(raw), ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	path = strings.TrimSpace(path)

	switch kind {
	case KindCSV, KindGeoJSON, KindShapefile:
		if path == "" {
			return Target{}, fmt.Errorf("sink %q requires a path", kind)
		}
	case "shp":
		kind = KindShapefile
		if path == "" {
			return Target{}, fmt.Errorf("sink %q requires a path", kind)
		}
	case KindPostGIS:
	default:
		return Target{}, fmt.Errorf("unknown sink %q", raw)
	}
	return Target{Kind: kind, Path: path}, nil
}

// ParseTargets parses every argument, stopping at the first invalid one.
func ParseTargets(args []string) ([]Target, error) {
	targets := make([]Target, 0, len(args))
	for _, raw := range args {
		target, err := ParseTarget(raw)
		if err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Deps carries what the writers need beyond their target.
type Deps struct {
	// Repository is required only for postgis targets.
	Repository   repository.FeatureTableRepository
	DefaultTable string
	DefaultSRID  int
	Logger       *logger.Logger
}

// Build creates a writer per target.
func Build(targets []Target, deps Deps) ([]Writer, error) {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	srid := deps.DefaultSRID
	if srid == 0 {
		srid = models.DefaultSRID
	}

	writers := make([]Writer, 0, len(targets))
	for _, target := range targets {
		switch target.Kind {
		case KindCSV:
			writers = append(writers, NewCSVWriter(target.Path))
		case KindGeoJSON:
			writers = append(writers, NewGeoJSONWriter(target.Path))
		case KindShapefile:
			writers = append(writers, NewShapefileWriter(target.Path, srid, log))
		case KindPostGIS:
			if deps.Repository == nil {
				return nil, ErrDatabaseNotConfigured
			}
			table := target.Path
			if table == "" {
				table = deps.DefaultTable
			}
			writers = append(writers, NewPostGISWriter(deps.Repository, table, srid, log))
		default:
			return nil, fmt.Errorf("unknown sink %q", target.Kind)
		}
	}
	return writers, nil
}

// ensureDir creates the parent directory of path.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}
