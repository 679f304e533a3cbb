package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/services"
)

// LogHandler serves the system log
type LogHandler struct {
	logService *services.LogService
}

// NewLogHandler creates a new LogHandler instance
func NewLogHandler(logService *services.LogService) *LogHandler {
	return &LogHandler{logService: logService}
}

// parseTimeParam accepts RFC3339 or a unix timestamp in seconds
func parseTimeParam(raw string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		t := time.Unix(sec, 0)
		return &t, true
	}
	return nil, false
}

// QueryLogs returns a page of system log entries
// GET /api/logs?level=&module=&action=&start=&end=&page=&limit=
func (h *LogHandler) QueryLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	start, ok := parseTimeParam(c.Query("start"))
	if !ok {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid start time")
		return
	}
	end, ok := parseTimeParam(c.Query("end"))
	if !ok {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid end time")
		return
	}

	result, err := h.logService.QueryLogs(services.LogQuery{
		Level:     c.Query("level"),
		Module:    c.Query("module"),
		Action:    c.Query("action"),
		StartTime: start,
		EndTime:   end,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, gin.H{
		"total": result.Total,
		"logs":  result.Logs,
		"page":  page,
		"limit": limit,
	})
}
