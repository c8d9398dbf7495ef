package model

import "time"

// SchoolMembership ties a teacher to a school. Audience resolution only
// considers active memberships in active schools.
type SchoolMembership struct {
	ID        int64 `gorm:"primaryKey"`
	TeacherID int64 `gorm:"index:idx_membership_teacher_school,unique;not null"`
	SchoolID  int64 `gorm:"index:idx_membership_teacher_school,unique;not null"`
	IsActive  bool  `gorm:"not null;default:true"`
	CreatedAt time.Time

	// Associations
	Teacher Teacher `gorm:"constraint:OnDelete:CASCADE"`
	School  School  `gorm:"constraint:OnDelete:CASCADE"`
}
