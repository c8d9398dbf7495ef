package model

import "time"

// Teacher is a staff account and the recipient of notifications. Phone is the
// on-file identity value re-entered when signing a circular.
type Teacher struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"size:256;not null"`
	Phone     string `gorm:"size:20"`
	RoleLabel string `gorm:"size:64"`
	IsActive  bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time

	// Associations
	Memberships []SchoolMembership `gorm:"foreignKey:TeacherID"`
}
