package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"school-notify-backend/internal/model"
)

// scopedRecipients builds the base query for a recipient's rows: isolated to
// the active school (global notifications always included) and with expired
// notifications excluded.
func (s *gormStore) scopedRecipients(ctx context.Context, teacherID int64, activeSchoolID *int64, now time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Joins("JOIN notifications ON notifications.id = notification_recipients.notification_id").
		Where("notification_recipients.teacher_id = ?", teacherID).
		Where("notifications.expires_at IS NULL OR notifications.expires_at > ?", now)

	if activeSchoolID != nil {
		q = q.Where("notifications.school_id = ? OR notifications.school_id IS NULL", *activeSchoolID)
	}
	return q
}

// CountsFor computes the full counter snapshot directly from delivery rows.
// This is the authoritative aggregate behind both the polling endpoint and
// every realtime snapshot.
func (s *gormStore) CountsFor(ctx context.Context, teacherID int64, activeSchoolID *int64, now time.Time) (Counts, error) {
	var row struct {
		Unread            int64
		SignaturesPending int64
	}

	err := s.scopedRecipients(ctx, teacherID, activeSchoolID, now).
		Select(
			"COUNT(CASE WHEN notification_recipients.is_read = ? AND notifications.requires_signature = ? THEN 1 END) AS unread, "+
				"COUNT(CASE WHEN notifications.requires_signature = ? AND notification_recipients.is_signed = ? THEN 1 END) AS signatures_pending",
			false, false, true, false,
		).
		Scan(&row).Error
	if err != nil {
		return Counts{}, fmt.Errorf("failed to aggregate counts for teacher %d: %w", teacherID, err)
	}

	// Unread and pending-signature rows cannot overlap, so the
	// back-compatible total is exactly their sum.
	return Counts{
		Count:             row.Unread + row.SignaturesPending,
		Unread:            row.Unread,
		SignaturesPending: row.SignaturesPending,
	}, nil
}

// ListRecipientRows returns a recipient's delivery rows, newest first, with
// the owning notifications preloaded.
func (s *gormStore) ListRecipientRows(ctx context.Context, teacherID int64, activeSchoolID *int64, now time.Time) ([]model.NotificationRecipient, error) {
	var rows []model.NotificationRecipient
	err := s.scopedRecipients(ctx, teacherID, activeSchoolID, now).
		Preload("Notification").
		Order("notification_recipients.created_at DESC, notification_recipients.id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recipient rows for teacher %d: %w", teacherID, err)
	}
	return rows, nil
}

// DeliveryRows returns the per-recipient report lines for a notification,
// ordered by recipient name.
func (s *gormStore) DeliveryRows(ctx context.Context, notificationID int64) ([]DeliveryRow, error) {
	var rows []DeliveryRow
	err := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Select("teachers.name AS teacher_name, teachers.role_label, teachers.phone, "+
			"notification_recipients.is_read, notification_recipients.read_at, "+
			"notification_recipients.is_signed, notification_recipients.signed_at").
		Joins("JOIN teachers ON teachers.id = notification_recipients.teacher_id").
		Where("notification_recipients.notification_id = ?", notificationID).
		Order("teachers.name, notification_recipients.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery rows for notification %d: %w", notificationID, err)
	}
	return rows, nil
}

// GetRecipient fetches a delivery row owned by the given teacher, with the
// notification and teacher preloaded.
func (s *gormStore) GetRecipient(ctx context.Context, id, teacherID int64) (*model.NotificationRecipient, error) {
	var rec model.NotificationRecipient
	err := s.db.WithContext(ctx).
		Preload("Notification").
		Preload("Teacher").
		Where("id = ? AND teacher_id = ?", id, teacherID).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recipient row %d: %w", id, err)
	}
	return &rec, nil
}

// MarkRead marks a single delivery row read and reports whether this call
// made the transition. Already-read rows are left untouched so read_at
// keeps its original value.
func (s *gormStore) MarkRead(ctx context.Context, recipientID, teacherID int64, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Where("id = ? AND teacher_id = ? AND is_read = ?", recipientID, teacherID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark recipient row %d read: %w", recipientID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkReadByNotification marks the caller's row for a notification read and
// reports whether this call made the transition.
func (s *gormStore) MarkReadByNotification(ctx context.Context, notificationID, teacherID int64, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Where("notification_id = ? AND teacher_id = ? AND is_read = ?", notificationID, teacherID, false).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark notification %d read for teacher %d: %w", notificationID, teacherID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkAllRead bulk-marks a teacher's unread rows read, split by whether the
// owning notification requires a signature. The bulk update produces no
// per-row change events, so the caller must publish a force_resync.
func (s *gormStore) MarkAllRead(ctx context.Context, teacherID int64, requiresSignature bool, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Where("teacher_id = ? AND is_read = ?", teacherID, false).
		Where("notification_id IN (?)",
			s.db.Model(&model.Notification{}).Select("id").Where("requires_signature = ?", requiresSignature),
		).
		Updates(map[string]any{"is_read": true, "read_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to bulk mark read for teacher %d: %w", teacherID, res.Error)
	}
	return res.RowsAffected, nil
}

// RegisterSignatureAttempt persists the attempt counter and timestamp. It
// runs before the attempt is validated so a crash mid-validation can never
// under-count attempts.
func (s *gormStore) RegisterSignatureAttempt(ctx context.Context, recipientID int64, attempts int, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Where("id = ?", recipientID).
		Updates(map[string]any{
			"signature_attempt_count":   attempts,
			"signature_last_attempt_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to register signature attempt on row %d: %w", recipientID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteSignature marks a row signed and read. signed_at is written only
// on the UNSIGNED -> SIGNED transition; the guard keeps it from ever being
// overwritten.
func (s *gormStore) CompleteSignature(ctx context.Context, recipientID int64, now time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&model.NotificationRecipient{}).
		Where("id = ? AND is_signed = ?", recipientID, false).
		Updates(map[string]any{
			"is_signed": true,
			"signed_at": now,
			"is_read":   true,
			"read_at":   gorm.Expr("COALESCE(read_at, ?)", now),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete signature on row %d: %w", recipientID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPushSubscription creates or refreshes a browser push subscription.
func (s *gormStore) UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"teacher_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to upsert push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeletePushSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

func (s *gormStore) SubscriptionsForTeachers(ctx context.Context, teacherIDs []int64) ([]model.PushSubscription, error) {
	if len(teacherIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("teacher_id IN ?", teacherIDs).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch push subscriptions: %w", err)
	}
	return subs, nil
}
