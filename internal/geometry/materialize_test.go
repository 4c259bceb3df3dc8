package geometry

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/featuresync/internal/metrics"
	"github.com/stwalsh4118/featuresync/internal/models"
)

func decodeFeatures(t *testing.T, payload string) []models.Feature {
	t.Helper()
	var features []models.Feature
	require.NoError(t, json.Unmarshal([]byte(payload), &features))
	return features
}

func TestMaterialize_DropsNonPointFeatures(t *testing.T) {
	features := decodeFeatures(t, `[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[3.1,6.5]},"properties":{"FID":1,"NAME":"a"}},
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"FID":2,"NAME":"b"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[7.4,9.0,12.5]},"properties":{"FID":3,"NAME":"c"}}
	]`)
	m := metrics.New()

	table, dropped := Materialize(features, nil, m)

	require.Equal(t, 2, table.Len())
	assert.Equal(t, orb.Point{3.1, 6.5}, table.Rows[0].Geometry)
	assert.Equal(t, orb.Point{7.4, 9.0}, table.Rows[1].Geometry, "extra ordinates are ignored")
	assert.Equal(t, json.Number("3"), table.Rows[1].Properties["FID"])
	assert.Equal(t, []string{"FID", "NAME"}, table.Columns)
	assert.Equal(t, 0, table.SRID)

	assert.Equal(t, 1, dropped.Total)
	assert.Equal(t, map[string]int{ReasonUnsupportedGeometry: 1}, dropped.ByReason)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), `featuresync_rows_dropped_total{reason="unsupported_geometry"} 1`)
}

func TestMaterialize_DropReasons(t *testing.T) {
	features := decodeFeatures(t, `[
		{"type":"Feature","geometry":null,"properties":{"FID":1}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[1]},"properties":{"FID":2}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":"bad"},"properties":{"FID":3}},
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"FID":4}}
	]`)

	table, dropped := Materialize(features, nil, nil)

	assert.Equal(t, 0, table.Len())
	assert.Equal(t, 4, dropped.Total)
	assert.Equal(t, map[string]int{
		ReasonMissingGeometry:     1,
		ReasonInvalidCoordinates:  2,
		ReasonUnsupportedGeometry: 1,
	}, dropped.ByReason)
}

func TestMaterialize_ColumnUnionInFirstSeenOrder(t *testing.T) {
	features := decodeFeatures(t, `[
		{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{"FID":1,"NAME":"a"}},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]},"properties":{"FID":2,"CITY":"Lagos","NAME":"b"}}
	]`)

	table, dropped := Materialize(features, nil, nil)

	assert.Equal(t, []string{"FID", "NAME", "CITY"}, table.Columns)
	assert.Equal(t, 0, dropped.Total)
	assert.Nil(t, dropped.ByReason)
}

func TestMaterialize_Empty(t *testing.T) {
	table, dropped := Materialize(nil, nil, nil)

	require.NotNil(t, table)
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Columns)
	assert.Equal(t, 0, dropped.Total)
}
