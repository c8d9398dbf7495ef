package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"school-notify-backend/internal/mw"
)

// GetUnreadCount handles GET /api/notifications/unread_count. The endpoint
// is polled by every open tab, including logged-out ones: anonymous callers
// get a zero answer, never a 401, so pollers don't have to special-case
// session expiry.
func (h *Handler) GetUnreadCount(c *gin.Context) {
	userID := mw.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusOK, gin.H{
			"count":         0,
			"authenticated": false,
		})
		return
	}

	counts, err := h.counters.CountsFor(c.Request.Context(), userID, parseSchoolIDQuery(c))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute counters"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":              counts.Count,
		"unread":             counts.Unread,
		"signatures_pending": counts.SignaturesPending,
		"authenticated":      true,
	})
}
