package sink

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/models"
	"github.com/stwalsh4118/featuresync/internal/repository"
)

// PostGISWriter replaces a database table with the materialized rows.
type PostGISWriter struct {
	repo  repository.FeatureTableRepository
	table string
	srid  int
	log   *logger.Logger
}

// NewPostGISWriter creates a PostGISWriter. srid is used when the table
// carries none.
func NewPostGISWriter(repo repository.FeatureTableRepository, table string, srid int, log *logger.Logger) *PostGISWriter {
	if log == nil {
		log = logger.Nop()
	}
	return &PostGISWriter{repo: repo, table: table, srid: srid, log: log}
}

func (w *PostGISWriter) Name() string {
	return KindPostGIS + ":" + w.table
}

// Write drops and recreates the table. An empty table is not written.
func (w *PostGISWriter) Write(ctx context.Context, t *models.Table) error {
	if t.Len() == 0 {
		w.log.Warn("Table is empty. Nothing to insert into the database.", map[string]interface{}{
			"table": w.table,
		})
		return nil
	}

	srid := t.SRID
	if srid == 0 {
		srid = w.srid
		w.log.Warn("Table has no SRID. Using default SRID", map[string]interface{}{
			"srid": srid,
		})
	}

	written, err := w.repo.Replace(ctx, w.table, t, srid)
	if err != nil {
		w.log.Error("Error inserting data into PostGIS", err, map[string]interface{}{
			"table": w.table,
		})
		return fmt.Errorf("failed to replace table %s: %w", w.table, err)
	}

	w.log.Info("Data inserted successfully into PostGIS", map[string]interface{}{
		"table": w.table,
		"rows":  written,
	})
	return nil
}
