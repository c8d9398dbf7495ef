package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/signature"
	"school-notify-backend/internal/store"
)

// SignRequest is the signing payload: the confirmation value the signer
// re-typed plus the acknowledgement checkbox state.
type SignRequest struct {
	Phone        string `json:"phone"`
	Acknowledged bool   `json:"acknowledged"`
}

// SignCircular handles POST /api/recipients/:id/sign. Every outcome except
// a system fault maps to a user-facing answer; a repeated sign of an
// already-signed circular succeeds without changing signed_at.
func (h *Handler) SignCircular(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid recipient ID"})
		return
	}
	userID := mw.UserID(c)

	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	err = h.signatures.Sign(c.Request.Context(), id, userID, req.Phone, req.Acknowledged)
	switch {
	case err == nil:
		h.counters.Invalidate(userID)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, signature.ErrAlreadySigned):
		c.JSON(http.StatusOK, gin.H{"ok": true, "already_signed": true})
	case errors.Is(err, signature.ErrLockedOut):
		resp := gin.H{"error": "Too many attempts, please try again later"}
		var lockout *signature.LockoutError
		if errors.As(err, &lockout) {
			resp["retry_after_seconds"] = int(lockout.RetryAfter.Seconds())
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
	case errors.Is(err, signature.ErrNotRequired):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Notification does not require a signature"})
	case errors.Is(err, signature.ErrAcknowledgementMissing):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Acknowledgement is required before signing"})
	case errors.Is(err, signature.ErrConfirmationMismatch):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Phone number does not match the one on file"})
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign"})
	}
}
