package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderAdminID identifies the caller of admin routes.
const HeaderAdminID = "X-Admin-ID"

// requestLogger tags each request with an id and logs its outcome.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)

		c.Next()

		status := c.Writer.Status()
		args := []any{
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request completed", args...)
		case status >= http.StatusBadRequest:
			logger.Warn("request completed", args...)
		default:
			logger.Info("request completed", args...)
		}
	}
}

// requireAdmin rejects callers whose X-Admin-ID is not the configured admin.
func requireAdmin(adminID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderAdminID)
		if raw == "" {
			fail(c, http.StatusUnauthorized, "missing "+HeaderAdminID+" header")
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || adminID == 0 || id != adminID {
			fail(c, http.StatusForbidden, "admin only")
			return
		}
		c.Next()
	}
}

func withTimeout(d time.Duration, fn gin.HandlerFunc) gin.HandlerFunc {
	if d <= 0 {
		return fn
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		fn(c)
	}
}
