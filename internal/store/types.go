package store

import "time"

// Counts is the aggregate a recipient sees in the badge. Unread covers
// unread non-signature notifications, SignaturesPending covers unsigned
// circulars. The two sets are disjoint by construction, so Count (the
// back-compatible total) always equals their sum.
type Counts struct {
	Count             int64 `json:"count"`
	Unread            int64 `json:"unread"`
	SignaturesPending int64 `json:"signatures_pending"`
}

// DeliveryRow is one line of the administrative signature report for a
// notification. Phone carries the raw value; masking happens at the edge.
type DeliveryRow struct {
	TeacherName string
	RoleLabel   string
	Phone       string
	IsRead      bool
	ReadAt      *time.Time
	IsSigned    bool
	SignedAt    *time.Time
}
