package model

import "time"

// PushSubscription holds the information for a browser push subscription,
// keyed to the teacher who registered it.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	TeacherID int64     `gorm:"index;not null"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Teacher Teacher `gorm:"constraint:OnDelete:CASCADE"`
}
