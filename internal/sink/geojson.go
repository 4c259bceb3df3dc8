package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	"github.com/paulmach/orb/geojson"

	"github.com/stwalsh4118/featuresync/internal/models"
)

// GeoJSONWriter writes a FeatureCollection.
type GeoJSONWriter struct {
	path string
}

// NewGeoJSONWriter creates a GeoJSONWriter for path.
func NewGeoJSONWriter(path string) *GeoJSONWriter {
	return &GeoJSONWriter{path: path}
}

func (w *GeoJSONWriter) Name() string {
	return KindGeoJSON + ":" + w.path
}

// Write replaces the file at path.
func (w *GeoJSONWriter) Write(ctx context.Context, t *models.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := EncodeFeatureCollection(t)
	if err != nil {
		return err
	}

	if err := ensureDir(w.path); err != nil {
		return err
	}
	if err := atomic.WriteFile(w.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	return nil
}

// EncodeFeatureCollection renders t as a GeoJSON FeatureCollection.
func EncodeFeatureCollection(t *models.Table) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, row := range t.Rows {
		f := geojson.NewFeature(row.Geometry)
		for k, v := range row.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature collection: %w", err)
	}
	return data, nil
}

// ReadFeatureCollection loads a GeoJSON file written by GeoJSONWriter.
func ReadFeatureCollection(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return fc, nil
}
