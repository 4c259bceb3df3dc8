package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/stwalsh4118/featuresync/internal/models"
)

// FetchResult is the accumulated output of a paginated fetch.
type FetchResult struct {
	Features []models.Feature
	// LastID is the identifier of the last feature of the last non-empty
	// batch, nil when no batch was received.
	LastID   *int64
	Requests int
	Batches  int
}

type featurePage struct {
	Features []models.Feature `json:"features"`
}

// fetchParams builds the page query at offset.
func (c *Client) fetchParams(q Query, offset int) url.Values {
	params := url.Values{}
	params.Set("where", q.Where)
	params.Set("geometryType", "esriGeometryEnvelope")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("units", "esriSRUnit_Meter")
	params.Set("relationParam", "")
	params.Set("outFields", q.OutFields)
	params.Set("returnGeometry", "true")
	params.Set("featureEncoding", "esriDefault")
	params.Set("f", "geojson")
	params.Set("resultOffset", strconv.Itoa(offset))
	params.Set("resultRecordCount", strconv.Itoa(c.batchSize))
	params.Set("maxAllowableOffset", "100")
	params.Set("returnExceededLimitFeatures", "true")
	if q.IncrementalField != "" {
		params.Set("orderByFields", q.IncrementalField+" ASC")
	}
	return params
}

// FetchFeatures pages through the layer until the offset reaches total, a
// batch comes back empty, or a request fails. On failure the features
// gathered so far are returned together with an ErrFetchInterrupted error.
// There is no retry and no backoff.
func (c *Client) FetchFeatures(ctx context.Context, q Query, total int) (*FetchResult, error) {
	result := &FetchResult{Features: []models.Feature{}}

	for offset := 0; offset < total; offset += c.batchSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w at offset %d: %w", ErrFetchInterrupted, offset, err)
		}

		result.Requests++
		body, err := c.get(ctx, requestFetch, c.fetchParams(q, offset))
		if err != nil {
			c.log.Error("Error occurred while fetching data", err, map[string]interface{}{
				"offset": offset,
			})
			return result, fmt.Errorf("%w at offset %d: %w", ErrFetchInterrupted, offset, err)
		}

		var page featurePage
		if err := json.Unmarshal(body, &page); err != nil {
			c.log.Error("Error occurred while decoding batch", err, map[string]interface{}{
				"offset": offset,
			})
			return result, fmt.Errorf("%w at offset %d: failed to decode batch: %w", ErrFetchInterrupted, offset, err)
		}

		if len(page.Features) == 0 {
			c.log.Warn("No features found in the current batch", map[string]interface{}{
				"offset": offset,
			})
			break
		}

		result.Features = append(result.Features, page.Features...)
		result.Batches++
		c.metrics.AddFeaturesFetched(len(page.Features))

		lastID, err := page.Features[len(page.Features)-1].IntProperty(q.IncrementalField)
		if err != nil {
			c.log.Error("Error reading incremental identifier", err, map[string]interface{}{
				"offset": offset,
				"field":  q.IncrementalField,
			})
			return result, fmt.Errorf("%w at offset %d: %w: %v", ErrFetchInterrupted, offset, ErrMissingIdentifier, err)
		}
		result.LastID = &lastID

		c.log.Info("Fetched batch", map[string]interface{}{
			"offset":  offset,
			"count":   len(page.Features),
			"last_id": lastID,
		})
	}

	c.log.Info("Data collection complete", map[string]interface{}{
		"features": len(result.Features),
		"requests": result.Requests,
	})
	return result, nil
}
