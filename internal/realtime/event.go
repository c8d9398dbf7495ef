package realtime

import "strconv"

// Delta is an incremental counter change published to one recipient's
// broadcast group. NotificationSchoolID carries the triggering
// notification's tenant scope (nil = global) so the client can decide
// whether the delta applies to its current context. ForceResync tells the
// client to discard accumulated deltas and request a fresh snapshot; it is
// used whenever the server cannot compute an exact delta, e.g. after a bulk
// mark-all-read update.
type Delta struct {
	DeltaUnread            int64  `json:"delta_unread"`
	DeltaSignaturesPending int64  `json:"delta_signatures_pending"`
	DeltaCount             int64  `json:"delta_count"`
	NotificationSchoolID   *int64 `json:"notification_school_id"`
	ForceResync            bool   `json:"force_resync"`
}

// GroupName returns the broadcast group for a recipient. ASCII
// alphanumerics plus '.' only; shared by both broker backends.
func GroupName(teacherID int64) string {
	return "notif.u" + strconv.FormatInt(teacherID, 10)
}
