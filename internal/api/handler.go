package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tidewatch/go-hazard-alerts/internal/escalation"
	"github.com/tidewatch/go-hazard-alerts/internal/models"
	"github.com/tidewatch/go-hazard-alerts/internal/policy"
	"github.com/tidewatch/go-hazard-alerts/internal/repository"
	"github.com/tidewatch/go-hazard-alerts/internal/tracker"
)

type Handler struct {
	store    repository.Store
	engine   *escalation.Engine
	tracker  *tracker.Tracker
	policies *policy.Table
	stream   *Stream
}

func NewHandler(store repository.Store, engine *escalation.Engine, tr *tracker.Tracker, policies *policy.Table, stream *Stream) *Handler {
	return &Handler{
		store:    store,
		engine:   engine,
		tracker:  tr,
		policies: policies,
		stream:   stream,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	r.GET("/api/hazards", h.getHazards)
	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts/:id", h.getAlert)
	r.POST("/api/alerts/:id/ack", h.ackAlert)
	r.POST("/api/alerts/:id/resolve", h.resolveAlert)
	r.GET("/api/policies", h.getPolicies)
	r.GET("/api/stats/deliveries", h.deliveryStats)

	r.POST("/api/hooks/delivery", h.deliveryHook)
	r.POST("/api/hooks/reply", h.replyHook)

	if h.stream != nil {
		r.GET("/api/alerts/stream", h.stream.Serve)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getHazards(c *gin.Context) {
	filter := repository.HazardFilter{
		Limit: 20,
	}

	if t := c.Query("type"); t != "" {
		ht := models.HazardType(t)
		filter.Type = &ht
	}
	if m := c.Query("min_magnitude"); m != "" {
		if mag, err := strconv.ParseFloat(m, 64); err == nil {
			filter.MinMagnitude = &mag
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	events, err := h.store.ListHazards(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch hazard events",
		})
		return
	}

	fc := toGeoJSON(events)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := repository.AlertFilter{
		Limit: 50,
	}

	if s := c.Query("status"); s != "" {
		st := models.AlertStatus(s)
		filter.Status = &st
	}
	if sev := c.Query("severity"); sev != "" {
		if v, err := strconv.Atoi(sev); err == nil && v >= 1 && v <= 5 {
			filter.Severity = &v
		}
	}
	if c.Query("open") == "true" {
		filter.Open = true
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	alerts, err := h.store.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *Handler) getAlert(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	alert, err := h.store.GetAlert(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}

	entities, err := h.store.ListAffectedEntities(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch affected entities"})
		return
	}

	deliveries, err := h.tracker.AlertSummary(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alert":      alert,
		"affected":   entities,
		"deliveries": deliveries,
	})
}

type ackRequest struct {
	AcknowledgedBy string `json:"acknowledged_by" binding:"required"`
}

func (h *Handler) ackAlert(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "acknowledged_by is required"})
		return
	}

	err := h.engine.Acknowledge(c.Request.Context(), c.Param("id"), req.AcknowledgedBy)
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

func (h *Handler) resolveAlert(c *gin.Context) {
	err := h.engine.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeControlError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func (h *Handler) writeControlError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, escalation.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine is not running"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update alert"})
	}
}

func (h *Handler) getPolicies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"policies": h.policies.Policies()})
}

func (h *Handler) deliveryStats(c *gin.Context) {
	until := time.Now().UTC()
	since := until.Add(-24 * time.Hour)

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			since = t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			until = t
		}
	}

	stats, err := h.tracker.ChannelStats(c.Request.Context(), since, until)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch delivery stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "until": until, "channels": stats})
}

// deliveryHook accepts provider status callbacks (delivered, read,
// bounced, failed) correlated by provider message ID.
func (h *Handler) deliveryHook(c *gin.Context) {
	var upd tracker.ProviderUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed callback payload"})
		return
	}

	if err := h.tracker.HandleProviderUpdate(c.Request.Context(), upd); err != nil {
		if errors.Is(err, tracker.ErrUnknownMessage) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider message id"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type replyRequest struct {
	From string `json:"from" binding:"required"`
	Body string `json:"body" binding:"required"`
}

// replyHook accepts inbound messages from recipients, e.g. "ACK <id>"
// SMS replies forwarded by the gateway.
func (h *Handler) replyHook(c *gin.Context) {
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and body are required"})
		return
	}

	if err := h.tracker.HandleReply(c.Request.Context(), req.From, req.Body); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process reply"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
