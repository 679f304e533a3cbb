package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/services"
)

// RequestLogger logs each request through slog. Requests that end in a
// server error are also written to the system log.
func RequestLogger(log *slog.Logger, logService *services.LogService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", elapsed,
			"actor", Actor(c),
		)

		if status >= 500 && logService != nil {
			logService.LogAPIRequest(c.Request.Method, path, status, elapsed.Milliseconds(), c.ClientIP(), c.GetHeader("User-Agent"))
		}
	}
}
