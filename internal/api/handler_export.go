package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"school-notify-backend/internal/signature"
	"school-notify-backend/internal/store"
)

const exportTimeLayout = "2006-01-02 15:04"

// ExportSignaturesCSV handles GET /api/notifications/:id/signatures.csv,
// the administrative signature report. Phone numbers are masked in the
// export; the raw value never leaves the store layer.
func (h *Handler) ExportSignaturesCSV(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	n, err := h.store.GetNotification(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load notification"})
		return
	}
	if !n.RequiresSignature {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Notification does not collect signatures"})
		return
	}

	rows, err := h.store.DeliveryRows(c.Request.Context(), id)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to load delivery rows"})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="signatures_%d.csv"`, id))

	// The status line is already on the wire here, so a mid-stream failure
	// can only be logged; the client sees a truncated body, not a 200 lie
	// in the logs.
	if err := writeSignatureReport(c.Writer, rows); err != nil {
		logrus.WithField("notification_id", id).Errorf("signature export aborted mid-stream: %v", err)
	}
}

// writeSignatureReport streams the report rows as CSV.
func writeSignatureReport(dst io.Writer, rows []store.DeliveryRow) error {
	w := csv.NewWriter(dst)
	if err := w.Write([]string{"name", "role", "phone", "read", "read_at", "signed", "signed_at"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.TeacherName,
			r.RoleLabel,
			signature.MaskPhone(r.Phone),
			yesNo(r.IsRead),
			formatTime(r.ReadAt),
			yesNo(r.IsSigned),
			formatTime(r.SignedAt),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(exportTimeLayout)
}
