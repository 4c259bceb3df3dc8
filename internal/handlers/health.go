package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/featuresync/internal/middleware"
)

const (
	// APIVersion is the current version of the service
	APIVersion = "0.1.0"
	// HealthCheckTimeout is the timeout for database health checks
	HealthCheckTimeout = 2 * time.Second
)

// Pinger is the part of the database the readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServiceInfo describes what this instance loads and where it writes.
type ServiceInfo struct {
	Env   string
	Layer string
	Sinks []string
}

// HealthHandler handles health check and readiness endpoints.
type HealthHandler struct {
	db        Pinger
	startTime time.Time
	info      ServiceInfo
}

// NewHealthHandler creates a new HealthHandler. db is nil when no database
// sink is configured.
func NewHealthHandler(db Pinger, info ServiceInfo) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startTime: time.Now(),
		info:      info,
	}
}

// HealthResponse represents the basic health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// InfoResponse represents the service information response.
type InfoResponse struct {
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	Uptime      string   `json:"uptime"`
	Layer       string   `json:"layer"`
	Sinks       []string `json:"sinks"`
}

// Health handles GET /health. It never checks dependencies.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
	})
}

// Ready handles GET /health/ready. Without a database it is always ready;
// with one it reports 503 until a ping succeeds.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db == nil {
		c.JSON(http.StatusOK, ReadyResponse{
			Status:   "ready",
			Database: "not_configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), HealthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		if log := middleware.GetLogger(c); log != nil {
			log.Error("Database health check failed", err, map[string]interface{}{
				"timeout": HealthCheckTimeout.String(),
			})
		}

		c.JSON(http.StatusServiceUnavailable, ReadyResponse{
			Status:   "not_ready",
			Database: "disconnected",
		})
		return
	}

	c.JSON(http.StatusOK, ReadyResponse{
		Status:   "ready",
		Database: "connected",
	})
}

// Info handles GET /api/v1/info.
func (h *HealthHandler) Info(c *gin.Context) {
	sinks := h.info.Sinks
	if sinks == nil {
		sinks = []string{}
	}

	c.JSON(http.StatusOK, InfoResponse{
		Version:     APIVersion,
		Environment: h.info.Env,
		Uptime:      formatUptime(time.Since(h.startTime)),
		Layer:       h.info.Layer,
		Sinks:       sinks,
	})
}

// formatUptime formats a duration into a human-readable string.
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
