// Package geometry turns decoded features into a geometry-aware table.
package geometry

import (
	"errors"

	"github.com/stwalsh4118/featuresync/internal/logger"
	"github.com/stwalsh4118/featuresync/internal/metrics"
	"github.com/stwalsh4118/featuresync/internal/models"
)

// Drop reasons, also used as metrics labels.
const (
	ReasonMissingGeometry     = "missing_geometry"
	ReasonUnsupportedGeometry = "unsupported_geometry"
	ReasonInvalidCoordinates  = "invalid_coordinates"
)

// DropSummary counts features left out of the table.
type DropSummary struct {
	Total    int            `json:"total"`
	ByReason map[string]int `json:"by_reason,omitempty"`
}

func (d *DropSummary) add(reason string) {
	if d.ByReason == nil {
		d.ByReason = make(map[string]int)
	}
	d.ByReason[reason]++
	d.Total++
}

// Materialize builds a table with one row per Point feature. Features
// without a geometry, with a non-Point geometry or with unusable
// coordinates are dropped and logged. No coordinate transform is applied
// and the table SRID stays unset.
func Materialize(features []models.Feature, log *logger.Logger, m *metrics.Metrics) (*models.Table, DropSummary) {
	if log == nil {
		log = logger.Nop()
	}

	table := models.NewTable()
	var dropped DropSummary

	for i, feature := range features {
		if feature.Geometry == nil {
			dropped.add(ReasonMissingGeometry)
			log.Warn("Feature has no geometry, skipping", map[string]interface{}{
				"index": i,
				"id":    feature.ID,
			})
			continue
		}

		point, err := feature.Geometry.Point()
		if err != nil {
			reason := ReasonInvalidCoordinates
			if errors.Is(err, models.ErrUnsupportedGeometry) {
				reason = ReasonUnsupportedGeometry
			}
			dropped.add(reason)
			log.Warn("Unsupported geometry type, skipping", map[string]interface{}{
				"index":  i,
				"id":     feature.ID,
				"type":   feature.Geometry.Type,
				"reason": reason,
				"error":  err.Error(),
			})
			continue
		}

		properties := feature.Properties
		if properties == nil {
			properties = map[string]interface{}{}
		}
		table.Append(properties, point, feature.PropertyKeys())
	}

	for reason, n := range dropped.ByReason {
		m.AddRowsDropped(reason, n)
	}

	if dropped.Total > 0 {
		log.Info("Materialized features", map[string]interface{}{
			"rows":    table.Len(),
			"dropped": dropped.Total,
		})
	}
	return table, dropped
}
