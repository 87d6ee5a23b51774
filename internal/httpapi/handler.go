// Package httpapi exposes the matching service over HTTP.
//
// All routes except /health expect an x-user-id header forwarded by the
// Gateway.
//
// Routes:
//
//	POST   /matching/request              → join the matching queue
//	DELETE /matching/request              → leave the matching queue
//	GET    /matching/status               → queue state + visible sessions
//	POST   /matching/:matchId/respond     → accept or reject a match
//	GET    /recommendations               → ranked postings
//	GET    /recommendations/similar       → postings taken by similar workers
//	GET    /notifications                 → offline inbox
//	POST   /notifications/:id/read        → mark a notification read
//	GET    /events/stream                 → SSE event stream
package httpapi

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/matching"
	"onetime/matching-service/internal/notify"
	"onetime/matching-service/internal/recommend"
	"onetime/matching-service/internal/requestdata"
)

const defaultSimilarLimit = 10

type Handler struct {
	queue      *matching.Queue
	recommend  *recommend.Service
	similar    *recommend.CollaborativeFilter
	dispatcher *notify.Dispatcher
	log        *logger.Logger
}

func NewHandler(q *matching.Queue, rec *recommend.Service, similar *recommend.CollaborativeFilter, d *notify.Dispatcher, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		queue:      q,
		recommend:  rec,
		similar:    similar,
		dispatcher: d,
		log:        log.With("component", "HTTPHandler"),
	}
}

// RegisterRoutes mounts the authenticated routes on g.
func (h *Handler) RegisterRoutes(g gin.IRoutes) {
	g.POST("/matching/request", h.join)
	g.DELETE("/matching/request", h.leave)
	g.GET("/matching/status", h.status)
	g.POST("/matching/:matchId/respond", h.respond)
	g.GET("/recommendations", h.recommendations)
	g.GET("/recommendations/similar", h.similarJobs)
	g.GET("/notifications", h.notifications)
	g.POST("/notifications/:id/read", h.markRead)
}

type joinRequest struct {
	Location       string   `json:"location"`
	Category       string   `json:"category"`
	ExpectedSalary float64  `json:"expectedSalary"`
	MaxDistance    float64  `json:"maxDistance"`
	UrgentOnly     bool     `json:"urgentOnly"`
	AvailableTime  []string `json:"availableTime"`
	Latitude       *float64 `json:"latitude"`
	Longitude      *float64 `json:"longitude"`
}

func (h *Handler) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	if req.ExpectedSalary < 0 || req.ExpectedSalary > math.MaxInt32 || math.IsNaN(req.ExpectedSalary) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorEnvelope{
			Error: APIError{Message: msgSalaryRange, Code: CodeValidation, Field: "expectedSalary"},
		})
		return
	}
	res, err := h.queue.Join(c.Request.Context(), userID(c), matching.Preferences{
		Location:       req.Location,
		Category:       req.Category,
		ExpectedSalary: int(math.Round(req.ExpectedSalary)),
		MaxDistance:    req.MaxDistance,
		UrgentOnly:     req.UrgentOnly,
		AvailableTime:  req.AvailableTime,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
	})
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	respondOK(c, res)
}

func (h *Handler) leave(c *gin.Context) {
	state, err := h.queue.Leave(c.Request.Context(), userID(c))
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	respondOK(c, gin.H{"status": state})
}

func (h *Handler) status(c *gin.Context) {
	view, err := h.queue.Status(c.Request.Context(), userID(c))
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	respondOK(c, view)
}

type respondRequest struct {
	Response string  `json:"response"`
	Message  *string `json:"message"`
}

func (h *Handler) respond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	uid := userID(c)

	session, err := h.queue.Respond(ctx, uid, c.Param("matchId"), req.Response, req.Message)
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	if req.Message != nil {
		h.log.Debug("match response message", "session_id", session.ID, "message", logger.Truncate(*req.Message, 80))
	}
	if session.Status == matching.StatusAccepted && h.recommend != nil {
		// the accepted posting should stop showing up as a recommendation
		h.recommend.Invalidate(ctx, uid)
	}
	respondOK(c, session)
}

func (h *Handler) recommendations(c *gin.Context) {
	opts := recommend.Options{
		Category: c.Query("category"),
		Location: c.Query("location"),
	}
	var err error
	if opts.Limit, err = queryInt(c, "limit", 0); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "limit must be an integer")
		return
	}
	if opts.UrgentOnly, err = queryBool(c, "urgentOnly"); err != nil {
		respondError(c, http.StatusBadRequest, CodeValidation, "urgentOnly must be true or false")
		return
	}
	if raw := c.Query("minScore"); raw != "" {
		opts.MinScore, err = strconv.ParseFloat(raw, 64)
		if err != nil || opts.MinScore < 0 || opts.MinScore > 1 {
			respondError(c, http.StatusBadRequest, CodeValidation, "minScore must be between 0 and 1")
			return
		}
	}

	list, err := h.recommend.Recommend(c.Request.Context(), userID(c), opts)
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	respondOK(c, gin.H{"recommendations": list, "count": len(list)})
}

func (h *Handler) similarJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultSimilarLimit)
	if err != nil || limit < 1 {
		respondError(c, http.StatusBadRequest, CodeValidation, "limit must be a positive integer")
		return
	}
	jobs := h.similar.Similar(c.Request.Context(), userID(c), limit)
	respondOK(c, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *Handler) notifications(c *gin.Context) {
	uid := userID(c)
	inbox := h.dispatcher.Inbox()
	if inbox == nil {
		respondOK(c, gin.H{"notifications": []notify.Notification{}, "unreadCount": 0})
		return
	}
	respondOK(c, gin.H{"notifications": inbox.List(uid), "unreadCount": inbox.UnreadCount(uid)})
}

func (h *Handler) markRead(c *gin.Context) {
	n, err := h.dispatcher.MarkRead(userID(c), c.Param("id"))
	if err != nil {
		respondDomainError(c, h.log, err)
		return
	}
	respondOK(c, n)
}

func userID(c *gin.Context) string {
	return requestdata.UserID(c.Request.Context())
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func queryBool(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
