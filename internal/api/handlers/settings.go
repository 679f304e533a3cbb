package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// SettingsHandler exposes the runtime settings that can change without a
// restart
type SettingsHandler struct {
	logService *services.LogService
	scheduler  *services.FetchScheduler
}

// NewSettingsHandler creates a new SettingsHandler instance
func NewSettingsHandler(logService *services.LogService, scheduler *services.FetchScheduler) *SettingsHandler {
	return &SettingsHandler{
		logService: logService,
		scheduler:  scheduler,
	}
}

// SettingsResponse represents the runtime settings
type SettingsResponse struct {
	LogLevel  string `json:"log_level"`
	AutoFetch bool   `json:"auto_fetch"`
}

// UpdateSettingsRequest represents a partial settings update
type UpdateSettingsRequest struct {
	LogLevel  *string `json:"log_level"`
	AutoFetch *bool   `json:"auto_fetch"`
}

func (h *SettingsHandler) current() SettingsResponse {
	return SettingsResponse{
		LogLevel:  string(h.logService.GetLogLevel()),
		AutoFetch: h.scheduler.IsRunning(),
	}
}

// GetSettings returns the runtime settings
// GET /api/settings
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	respondOK(c, h.current())
}

// UpdateSettings changes the persisted log level and starts or stops the
// background fetch loop
// PUT /api/settings
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	if req.LogLevel != nil {
		switch models.LogLevel(strings.ToUpper(*req.LogLevel)) {
		case models.LogLevelDebug, models.LogLevelInfo, models.LogLevelWarn, models.LogLevelError:
			h.logService.SetLogLevel(*req.LogLevel)
		default:
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "log_level must be debug, info, warn or error")
			return
		}
	}

	if req.AutoFetch != nil {
		if *req.AutoFetch {
			h.scheduler.Start()
		} else {
			h.scheduler.Stop()
		}
	}

	respondOK(c, h.current())
}
