package model

import "time"

// School is the tenant a notification can be scoped to.
type School struct {
	ID        int64     `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;size:128;not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Memberships []SchoolMembership `gorm:"foreignKey:SchoolID"`
}
