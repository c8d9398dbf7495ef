package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/store"
)

// MarkRecipientRead handles POST /api/recipients/:id/read. The -1 delta is
// pushed only when this request made the unread-to-read transition, so a
// double click can't drive the counter negative.
func (h *Handler) MarkRecipientRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid recipient ID"})
		return
	}
	userID := mw.UserID(c)

	rec, err := h.store.GetRecipient(c.Request.Context(), id, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load notification"})
		return
	}

	changed, err := h.store.MarkRead(c.Request.Context(), id, userID, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification read"})
		return
	}
	if changed {
		h.counters.Invalidate(userID)
		h.pusher.PushRead(c.Request.Context(), &rec.Notification, userID)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MarkReadByNotification handles POST /api/notifications/:id/read, marking
// the caller's delivery row for that notification read.
func (h *Handler) MarkReadByNotification(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}
	userID := mw.UserID(c)

	changed, err := h.store.MarkReadByNotification(c.Request.Context(), id, userID, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notification read"})
		return
	}
	if changed {
		h.counters.Invalidate(userID)
		if n, err := h.store.GetNotification(c.Request.Context(), id); err == nil {
			h.pusher.PushRead(c.Request.Context(), n, userID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// MarkAllNotificationsRead handles POST /api/notifications/read_all. The
// bulk update bypasses per-row change tracking, so connected clients are
// told to resync instead of receiving deltas.
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	userID := mw.UserID(c)

	updated, err := h.store.MarkAllRead(c.Request.Context(), userID, false, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications read"})
		return
	}
	if updated > 0 {
		h.counters.Invalidate(userID)
		h.pusher.PushForceResync(c.Request.Context(), userID)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}

// MarkAllCircularsRead handles POST /api/circulars/read_all. Circulars stay
// in the pending-signature counter until signed, so reading them changes no
// counter and no resync is needed.
func (h *Handler) MarkAllCircularsRead(c *gin.Context) {
	userID := mw.UserID(c)

	updated, err := h.store.MarkAllRead(c.Request.Context(), userID, true, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark circulars read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}
