// Package tracking serves the email open pixel, tracked click redirects and
// engagement analytics.
package tracking

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"notification-pipeline/internal/common/errors"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/metrics"
)

// Pixel is a 1x1 transparent PNG.
var Pixel = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4, 0x89, 0x00, 0x00, 0x00,
	0x0A, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82,
}

const defaultSummaryDays = 30

type Store interface {
	RecordOpen(ctx context.Context, notificationID, clientIP, userAgent string) (bool, error)
	RecordClick(ctx context.Context, notificationID, clientIP, userAgent, linkType, destination string) error
	Analytics(ctx context.Context, notificationID string) (*Analytics, error)
	Summary(ctx context.Context, days int) (*Summary, error)
}

type Handler struct {
	store  Store
	allow  AllowList
	logger logger.Logger
}

func NewHandler(store Store, allow AllowList, log logger.Logger) *Handler {
	return &Handler{
		store:  store,
		allow:  allow,
		logger: logger.ForComponent(log, "tracking"),
	}
}

// Register mounts the tracking routes under /api/email-tracking.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/email-tracking")
	g.GET("/pixel/:id", h.pixel)
	g.GET("/click/:id", h.click)
	g.GET("/analytics/:id", h.analytics)
	g.GET("/stats/summary", h.summary)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func userAgent(c *gin.Context) string {
	if ua := c.Request.UserAgent(); ua != "" {
		return ua
	}
	return "Unknown"
}

// validID reports whether id can name a queued notification. Only the
// canonical 36 character form is accepted.
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// pixel always answers with the image; recording is best effort.
func (h *Handler) pixel(c *gin.Context) {
	id := c.Param("id")

	var recorded bool
	if validID(id) {
		var err error
		recorded, err = h.store.RecordOpen(c.Request.Context(), id, c.ClientIP(), userAgent(c))
		if err != nil {
			h.logger.Error("Failed to record email open", map[string]interface{}{
				"notificationId": id,
				"error":          err.Error(),
			})
		}
	}
	metrics.TrackingEvents.WithLabelValues("open", strconv.FormatBool(recorded)).Inc()

	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Data(http.StatusOK, "image/png", Pixel)
}

func (h *Handler) click(c *gin.Context) {
	id := c.Param("id")
	dest := c.Query("url")
	linkType := c.DefaultQuery("link_type", "generic")

	if dest == "" || !h.allow.Allowed(dest) {
		h.logger.Warn("Rejected click redirect", map[string]interface{}{
			"notificationId": id,
			"url":            dest,
		})
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:   string(errors.ErrCodeRedirectNotAllowed),
			Message: "destination is not allowed",
		})
		return
	}

	recorded := validID(id)
	if !recorded {
		h.logger.Debug("Click on malformed tracking id, not recorded", map[string]interface{}{"notificationId": id})
	} else if err := h.store.RecordClick(c.Request.Context(), id, c.ClientIP(), userAgent(c), linkType, dest); err != nil {
		recorded = false
		h.logger.Error("Failed to record email click", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
	}
	metrics.TrackingEvents.WithLabelValues("click", strconv.FormatBool(recorded)).Inc()

	c.Redirect(http.StatusFound, dest)
}

func (h *Handler) analytics(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		c.JSON(http.StatusNotFound, errorResponse{Error: string(errors.ErrCodeNotFound), Message: "notification not found"})
		return
	}
	a, err := h.store.Analytics(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) summary(c *gin.Context) {
	days := defaultSummaryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "validation_error", Message: "days must be an integer"})
			return
		}
		days = n
	}

	s, err := h.store.Summary(c.Request.Context(), ClampDays(days))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, errors.ErrCodeNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: string(errors.ErrCodeNotFound), Message: "notification not found"})
		return
	}
	h.logger.Error("Tracking query failed", map[string]interface{}{"error": err.Error()})
	c.JSON(http.StatusInternalServerError, errorResponse{Error: string(errors.CodeOf(err)), Message: "internal error"})
}
