package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/model"
	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/store"
)

// CreateNotificationRequest is the authoring payload. RecipientIDs may be
// empty, in which case the audience is resolved from school membership.
type CreateNotificationRequest struct {
	Title               string     `json:"title" binding:"required"`
	Message             string     `json:"message" binding:"required"`
	SchoolID            *int64     `json:"school_id"`
	RequiresSignature   bool       `json:"requires_signature"`
	SignatureDeadlineAt *time.Time `json:"signature_deadline_at"`
	SignatureAckText    string     `json:"signature_ack_text"`
	ExpiresAt           *time.Time `json:"expires_at"`
	RecipientIDs        []int64    `json:"recipient_ids"`
}

// CreateNotification handles POST /api/notifications. The notification is
// committed first; delivery is handed to the dispatcher afterwards, so a
// failed dispatch never loses the authored message.
func (h *Handler) CreateNotification(c *gin.Context) {
	var req CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	userID := mw.UserID(c)
	n := &model.Notification{
		Title:               req.Title,
		Message:             req.Message,
		SchoolID:            req.SchoolID,
		RequiresSignature:   req.RequiresSignature,
		SignatureDeadlineAt: req.SignatureDeadlineAt,
		SignatureAckText:    req.SignatureAckText,
		ExpiresAt:           req.ExpiresAt,
		CreatedByID:         &userID,
	}
	if err := h.store.CreateNotification(c.Request.Context(), n); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to create notification"})
		return
	}

	// The row is committed at this point. Dispatch failure is reported in
	// the response body but never fails the request.
	dispatched := true
	err := h.dispatcher.Dispatch(c.Request.Context(), dispatch.Job{
		Kind:           dispatch.KindFanout,
		NotificationID: n.ID,
		RecipientIDs:   req.RecipientIDs,
	})
	if err != nil {
		dispatched = false
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":         n.ID,
		"dispatched": dispatched,
	})
}

// NotificationItem is one entry of a recipient's notification list.
type NotificationItem struct {
	RecipientID         int64      `json:"recipient_id"`
	NotificationID      int64      `json:"notification_id"`
	Title               string     `json:"title"`
	Message             string     `json:"message"`
	SchoolID            *int64     `json:"school_id"`
	RequiresSignature   bool       `json:"requires_signature"`
	SignatureDeadlineAt *time.Time `json:"signature_deadline_at,omitempty"`
	SignatureAckText    string     `json:"signature_ack_text,omitempty"`
	IsRead              bool       `json:"is_read"`
	ReadAt              *time.Time `json:"read_at,omitempty"`
	IsSigned            bool       `json:"is_signed"`
	SignedAt            *time.Time `json:"signed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ListMyNotifications handles GET /api/notifications for the calling
// recipient, scoped to the active school plus global notifications.
func (h *Handler) ListMyNotifications(c *gin.Context) {
	userID := mw.UserID(c)
	activeSchoolID := parseSchoolIDQuery(c)

	rows, err := h.store.ListRecipientRows(c.Request.Context(), userID, activeSchoolID, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve notifications"})
		return
	}

	items := make([]NotificationItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, NotificationItem{
			RecipientID:         r.ID,
			NotificationID:      r.NotificationID,
			Title:               r.Notification.Title,
			Message:             r.Notification.Message,
			SchoolID:            r.Notification.SchoolID,
			RequiresSignature:   r.Notification.RequiresSignature,
			SignatureDeadlineAt: r.Notification.SignatureDeadlineAt,
			SignatureAckText:    r.Notification.SignatureAckText,
			IsRead:              r.IsRead,
			ReadAt:              r.ReadAt,
			IsSigned:            r.IsSigned,
			SignedAt:            r.SignedAt,
			CreatedAt:           r.Notification.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// DeleteNotification handles DELETE /api/notifications/:id. Delivery rows
// go with the notification; connected clients recover via resync.
func (h *Handler) DeleteNotification(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	if err := h.store.DeleteNotification(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete notification"})
		return
	}
	c.Status(http.StatusNoContent)
}

// parseSchoolIDQuery reads the optional active_school_id query parameter.
// Absent or malformed values mean no tenant scope.
func parseSchoolIDQuery(c *gin.Context) *int64 {
	raw := c.Query("active_school_id")
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
