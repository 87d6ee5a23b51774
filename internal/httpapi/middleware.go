package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/requestdata"
)

// AttachRequestData stores the gateway-forwarded identity on the request
// context. It never rejects; RequireUser does.
func AttachRequestData() gin.HandlerFunc {
	return func(c *gin.Context) {
		rd := requestdata.New(c.GetHeader(requestdata.Header))
		c.Request = c.Request.WithContext(requestdata.WithRequestData(c.Request.Context(), rd))
		c.Header("X-Request-Id", rd.RequestID)
		c.Next()
	}
}

func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestdata.UserID(c.Request.Context()) == "" {
			respondError(c, http.StatusUnauthorized, CodeUnauthorized, msgMissingUser)
			return
		}
		c.Next()
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []any{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if rd := requestdata.GetRequestData(c.Request.Context()); rd != nil {
			fields = append(fields, "request_id", rd.RequestID)
			if rd.UserID != "" {
				fields = append(fields, "user_id", rd.UserID)
			}
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
