package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/sfomuseum/go-csvdict"

	"github.com/stwalsh4118/featuresync/internal/models"
)

// CSVWriter writes one row per feature with the geometry as WKT in the
// trailing geometry column.
type CSVWriter struct {
	path string
}

// NewCSVWriter creates a CSVWriter for path.
func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

func (w *CSVWriter) Name() string {
	return KindCSV + ":" + w.path
}

// Write replaces the file at path.
func (w *CSVWriter) Write(ctx context.Context, t *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	names := models.UniqueColumnNames(t.Columns, []string{models.GeometryColumn}, 0)
	fieldnames := append(append([]string{}, names...), models.GeometryColumn)

	var buf bytes.Buffer
	wr, err := csvdict.NewWriter(&buf, fieldnames)
	if err != nil {
		return fmt.Errorf("failed to create csv writer: %w", err)
	}
	if err := wr.WriteHeader(); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range t.Rows {
		out := make(map[string]string, len(fieldnames))
		for i, column := range t.Columns {
			out[names[i]] = models.FormatValue(row.Properties[column])
		}
		out[models.GeometryColumn] = wkt.MarshalString(row.Geometry)

		if err := wr.WriteRow(out); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	wr.Flush()
	if err := wr.Error(); err != nil {
		return fmt.Errorf("failed to flush csv rows: %w", err)
	}

	if err := ensureDir(w.path); err != nil {
		return err
	}
	if err := atomic.WriteFile(w.path, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	return nil
}
