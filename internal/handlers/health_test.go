package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockPinger is a stand-in for the database in readiness checks.
type MockPinger struct {
	pingErr error
	calls   int
}

func (m *MockPinger) Ping(ctx context.Context) error {
	m.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("ping called without deadline")
	}
	return m.pingErr
}

// setupTestRouter creates a test Gin router.
func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestHealthHandler_Health(t *testing.T) {
	handler := NewHealthHandler(nil, ServiceInfo{Env: "test"})

	router := setupTestRouter()
	router.GET("/health", handler.Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, HealthResponse{Status: "healthy"}, response)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name           string
		db             *MockPinger
		expectedStatus int
		expectedBody   ReadyResponse
	}{
		{
			name:           "no database configured",
			expectedStatus: http.StatusOK,
			expectedBody:   ReadyResponse{Status: "ready", Database: "not_configured"},
		},
		{
			name:           "database connected",
			db:             &MockPinger{},
			expectedStatus: http.StatusOK,
			expectedBody:   ReadyResponse{Status: "ready", Database: "connected"},
		},
		{
			name:           "database unreachable",
			db:             &MockPinger{pingErr: errors.New("connection refused")},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   ReadyResponse{Status: "not_ready", Database: "disconnected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handler *HealthHandler
			if tt.db != nil {
				handler = NewHealthHandler(tt.db, ServiceInfo{})
			} else {
				handler = NewHealthHandler(nil, ServiceInfo{})
			}

			router := setupTestRouter()
			router.GET("/health/ready", handler.Ready)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			var response ReadyResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedBody, response)
			if tt.db != nil {
				assert.Equal(t, 1, tt.db.calls)
			}
		})
	}
}

func TestHealthHandler_Info(t *testing.T) {
	handler := NewHealthHandler(nil, ServiceInfo{
		Env:   "production",
		Layer: "https://services.arcgis.com/x/FeatureServer/0/query",
		Sinks: []string{"csv:out/stores.csv", "postgis:stores"},
	})
	handler.startTime = time.Now().Add(-2 * time.Hour)

	router := setupTestRouter()
	router.GET("/api/v1/info", handler.Info)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response InfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, APIVersion, response.Version)
	assert.Equal(t, "production", response.Environment)
	assert.Equal(t, "https://services.arcgis.com/x/FeatureServer/0/query", response.Layer)
	assert.Equal(t, []string{"csv:out/stores.csv", "postgis:stores"}, response.Sinks)
	assert.Contains(t, response.Uptime, "2h")
}

func TestHealthHandler_InfoWithoutSinks(t *testing.T) {
	handler := NewHealthHandler(nil, ServiceInfo{Env: "test"})

	router := setupTestRouter()
	router.GET("/api/v1/info", handler.Info)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/info", nil))

	assert.Contains(t, w.Body.String(), `"sinks":[]`)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{name: "seconds only", duration: 45 * time.Second, expected: "0h 0m 45s"},
		{name: "minutes and seconds", duration: 5*time.Minute + 30*time.Second, expected: "0h 5m 30s"},
		{name: "hours minutes seconds", duration: 2*time.Hour + 15*time.Minute + 45*time.Second, expected: "2h 15m 45s"},
		{name: "days", duration: 3*24*time.Hour + 5*time.Hour + 30*time.Minute + 15*time.Second, expected: "3d 5h 30m 15s"},
		{name: "exactly one day", duration: 24 * time.Hour, expected: "1d 0h 0m 0s"},
		{name: "zero", duration: 0, expected: "0h 0m 0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatUptime(tt.duration))
		})
	}
}

func TestReadyResponse_JSON(t *testing.T) {
	data, err := json.Marshal(ReadyResponse{Status: "ready", Database: "not_configured"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ready","database":"not_configured"}`, string(data))
}

func BenchmarkHealthHandler_Health(b *testing.B) {
	handler := NewHealthHandler(nil, ServiceInfo{Env: "test"})

	router := setupTestRouter()
	router.GET("/health", handler.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
