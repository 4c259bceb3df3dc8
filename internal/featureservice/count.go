package featureservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

// countStatisticField is the output name of the count statistic.
const countStatisticField = "COUNT"

type outStatistic struct {
	StatisticType         string `json:"statisticType"`
	OnStatisticField      string `json:"onStatisticField"`
	OutStatisticFieldName string `json:"outStatisticFieldName"`
}

// countParams builds the statistics query that counts records matching q.
func countParams(q Query) (url.Values, error) {
	stats, err := json.Marshal([]outStatistic{{
		StatisticType:         "count",
		OnStatisticField:      q.IncrementalField,
		OutStatisticFieldName: countStatisticField,
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode outStatistics: %w", err)
	}

	params := url.Values{}
	params.Set("where", q.Where)
	params.Set("groupByFieldsForStatistics", "")
	params.Set("orderByFields", "")
	params.Set("returnDistinctValues", "true")
	params.Set("outStatistics", string(stats))
	params.Set("f", "geojson")
	return params, nil
}

// CountFeatures returns the number of records matching q.
// A failed query is reported as ErrCountFailed, never as a zero count.
func (c *Client) CountFeatures(ctx context.Context, q Query) (int, error) {
	params, err := countParams(q)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCountFailed, err)
	}

	body, err := c.get(ctx, requestCount, params)
	if err != nil {
		c.log.Error("Error occurred while counting features", err, map[string]interface{}{
			"where": q.Where,
		})
		return 0, fmt.Errorf("%w: %w", ErrCountFailed, err)
	}

	count := gjson.GetBytes(body, "features.0.properties."+countStatisticField)
	if !count.Exists() {
		err := fmt.Errorf("%w: response carries no %s statistic", ErrCountFailed, countStatisticField)
		c.log.Error("Error occurred while counting features", err, map[string]interface{}{
			"where": q.Where,
		})
		return 0, err
	}

	total := int(count.Int())
	if total < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrCountFailed, total)
	}

	c.log.Info("Total features to fetch", map[string]interface{}{
		"total": total,
		"where": q.Where,
	})
	return total, nil
}
