package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRequest("fetch", StatusOK)
	m.ObserveRequest("fetch", StatusOK)
	m.ObserveRequest("count", StatusError)
	m.AddFeaturesFetched(2000)
	m.AddRowsDropped("unsupported_geometry", 3)
	m.ObserveLoad("incremental", "completed")
	m.ObserveSinkWrite("csv", StatusOK)
	m.SetWatermark(55)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("fetch", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("count", StatusError)))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.featuresFetched))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsDropped.WithLabelValues("unsupported_geometry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loadRuns.WithLabelValues("incremental", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkWrites.WithLabelValues("csv", StatusOK)))
	assert.Equal(t, 55.0, testutil.ToFloat64(m.watermark))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRequest("fetch", StatusOK)
		m.AddFeaturesFetched(1)
		m.AddRowsDropped("missing_geometry", 1)
		m.ObserveLoad("full", "completed")
		m.ObserveSinkWrite("csv", StatusError)
		m.SetWatermark(1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveLoad("full", "no_features")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `featuresync_load_runs_total{mode="full",outcome="no_features"} 1`))
}
