package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/stwalsh4118/featuresync/internal/errors"
	"github.com/stwalsh4118/featuresync/internal/middleware"
	"github.com/stwalsh4118/featuresync/internal/services"
	"github.com/stwalsh4118/featuresync/internal/sink"
)

// LoadHandler exposes the orchestrator over HTTP.
type LoadHandler struct {
	service services.LoadService
	sinks   []sink.Writer
}

// NewLoadHandler creates a LoadHandler that writes every triggered load
// to sinks.
func NewLoadHandler(service services.LoadService, sinks []sink.Writer) *LoadHandler {
	return &LoadHandler{
		service: service,
		sinks:   sinks,
	}
}

// LoadRequest is the body of POST /api/v1/loads.
type LoadRequest struct {
	Mode string `json:"mode" binding:"required,oneof=full incremental"`
}

// WatermarkResponse represents the stored watermark.
type WatermarkResponse struct {
	LastID    int64     `json:"last_id"`
	Key       string    `json:"key,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Watermark handles GET /api/v1/watermark.
func (h *LoadHandler) Watermark(c *gin.Context) {
	wm, err := h.service.Watermark(c.Request.Context())
	if err != nil {
		apierrors.InternalServerError(c, "Failed to read watermark", err)
		return
	}
	if wm == nil {
		apierrors.NotFound(c, "No watermark recorded")
		return
	}

	c.JSON(http.StatusOK, WatermarkResponse{
		LastID:    wm.ID,
		Key:       wm.Key,
		UpdatedAt: wm.UpdatedAt,
	})
}

// Load handles POST /api/v1/loads. The load runs within the request and
// the response carries its report.
func (h *LoadHandler) Load(c *gin.Context) {
	var req LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	if len(h.sinks) == 0 {
		apierrors.BadRequest(c, "No sinks configured; set DEFAULT_SINKS", nil)
		return
	}

	mode, err := services.ParseMode(req.Mode)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Processing load request", map[string]interface{}{
			"mode":  mode,
			"sinks": len(h.sinks),
		})
	}

	report, err := h.service.Run(c.Request.Context(), mode, h.sinks)
	switch {
	case errors.Is(err, services.ErrLoadInProgress):
		apierrors.Conflict(c, "A load is already running")
		return
	case report == nil:
		apierrors.InternalServerError(c, "Load could not start", err)
		return
	case report.Failed():
		apierrors.BadGateway(c, "Load did not complete", err, map[string]interface{}{
			"run_id":  report.RunID,
			"outcome": report.Outcome,
			"errors":  report.Errors,
			"sinks":   report.Sinks,
		})
		return
	}

	c.JSON(http.StatusOK, report)
}
