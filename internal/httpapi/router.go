package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/realtime"
)

// NewRouter builds the gin engine: /health is public, everything else
// requires the gateway identity header.
func NewRouter(h *Handler, stream *realtime.StreamHandler, log *logger.Logger) *gin.Engine {
	if log == nil {
		log = logger.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), AttachRequestData(), RequestLogger(log.With("component", "HTTP")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "matching-service"})
	})

	authed := r.Group("/", RequireUser())
	h.RegisterRoutes(authed)
	if stream != nil {
		authed.GET(realtime.StreamPath, stream.Stream)
	}
	return r
}
