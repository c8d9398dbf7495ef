package model

import "time"

// DefaultAckText is shown on the signing page when the author leaves the
// acknowledgement text empty.
const DefaultAckText = "I confirm that I have read this circular, understood its contents and commit to complying with it."

// Notification is a message authored once and fanned out to recipients.
// A nil SchoolID makes it global: visible to recipients of every tenant.
// Immutable after creation except for administrative deletion.
type Notification struct {
	ID      int64  `gorm:"primaryKey"`
	Title   string `gorm:"size:120"`
	Message string `gorm:"not null"`

	// Circulars: requires_signature turns the notification into a circular
	// that recipients must acknowledge and sign.
	RequiresSignature   bool       `gorm:"not null;default:false"`
	SignatureDeadlineAt *time.Time `gorm:""`
	SignatureAckText    string     `gorm:""`

	SchoolID    *int64     `gorm:"index"`
	ExpiresAt   *time.Time `gorm:""`
	CreatedByID *int64     `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`

	// Associations
	School     *School                 `gorm:"constraint:OnDelete:SET NULL"`
	Recipients []NotificationRecipient `gorm:"foreignKey:NotificationID"`
}

// Expired reports whether the notification is past its expiry at the given time.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}
