package model

import "time"

// NotificationRecipient is one delivery row per (notification, teacher).
// The unique index makes fan-out idempotent: duplicate creation attempts
// are skipped at the store level, which stays correct under concurrent
// re-dispatch of the same delivery job.
type NotificationRecipient struct {
	ID             int64 `gorm:"primaryKey"`
	NotificationID int64 `gorm:"index:idx_recipient_notification_teacher,unique;not null"`
	TeacherID      int64 `gorm:"index:idx_recipient_notification_teacher,unique;not null;index:idx_recipient_teacher_read"`

	IsRead bool       `gorm:"not null;default:false;index:idx_recipient_teacher_read"`
	ReadAt *time.Time `gorm:""`

	// Signature state. Only meaningful when the owning notification requires
	// a signature; signed_at is set exactly once and never cleared.
	IsSigned               bool       `gorm:"not null;default:false"`
	SignedAt               *time.Time `gorm:""`
	SignatureAttemptCount  int        `gorm:"not null;default:0"`
	SignatureLastAttemptAt *time.Time `gorm:""`

	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Notification Notification `gorm:"constraint:OnDelete:CASCADE"`
	Teacher      Teacher      `gorm:"constraint:OnDelete:CASCADE"`
}
