// Package realtime moves notify events over Server-Sent Events: a gin
// endpoint that streams a user's room and a reconnecting client for it.
package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/requestdata"
)

// StreamPath is where the stream endpoint is mounted.
const StreamPath = "/events/stream"

type StreamHandler struct {
	d         *notify.Dispatcher
	heartbeat time.Duration
	log       *logger.Logger
}

func NewStreamHandler(d *notify.Dispatcher, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if log == nil {
		log = logger.Nop()
	}
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{d: d, heartbeat: heartbeat, log: log.With("component", "SSEStream")}
}

// Stream subscribes the caller's room and writes every event as an SSE
// frame until the client goes away or the subscription is closed. An
// optional ?events=a,b query narrows the event names.
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := requestdata.UserID(c.Request.Context())
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{"message": "missing user identity", "code": "UNAUTHORIZED"},
		})
		return
	}

	names, err := parseNames(c.Query("events"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": err.Error(), "code": "VALIDATION_ERROR", "field": "events"},
		})
		return
	}

	ctx := c.Request.Context()
	sub, err := h.d.Subscribe(ctx, userID, names...)
	if err != nil {
		h.log.Warn("subscribe failed", "user_id", userID, "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{"message": "event stream unavailable", "code": "INTERNAL"},
		})
		return
	}
	defer sub.Unsubscribe()

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	w.Flush()

	h.log.Info("SSE stream open", "user_id", userID, "token", sub.Token())
	defer h.log.Info("SSE stream closed", "user_id", userID, "token", sub.Token())

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			w.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				// evicted or shutting down; the client reconnects
				return
			}
			if err := WriteEvent(w, ev); err != nil {
				h.log.Warn("failed to write SSE frame", "user_id", userID, "err", err)
				return
			}
			w.Flush()
		}
	}
}

// WriteEvent writes ev as one SSE frame whose data is the JSON event.
func WriteEvent(w io.Writer, ev notify.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Name, raw)
	return err
}

// parseNames splits a comma-separated event filter and rejects names the
// service never emits.
func parseNames(raw string) ([]notify.EventName, error) {
	var out []notify.EventName
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		n := notify.EventName(part)
		if !notify.Known(n) {
			return nil, fmt.Errorf("unknown event %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
