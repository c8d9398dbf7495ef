package realtime

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"school-notify-backend/internal/model"
)

// Pusher publishes counter events for delivery and read-state changes.
// Push failures are never fatal: counters stay correct through the polling
// endpoint and the next full snapshot.
type Pusher struct {
	broker Broker
}

// NewPusher wraps a broker.
func NewPusher(b Broker) *Pusher {
	return &Pusher{broker: b}
}

// PushDelta publishes a single delta to one recipient's group.
func (p *Pusher) PushDelta(ctx context.Context, teacherID int64, d Delta) {
	if err := p.broker.Publish(ctx, teacherID, d); err != nil {
		logrus.WithFields(logrus.Fields{
			"group": GroupName(teacherID),
		}).Warnf("realtime push failed: %v", err)
	}
}

// PushForceResync asks a recipient's connected clients to discard their
// delta state and fetch a fresh snapshot. Used after bulk updates, which
// bypass per-row change notification.
func (p *Pusher) PushForceResync(ctx context.Context, teacherID int64) {
	p.PushDelta(ctx, teacherID, Delta{ForceResync: true})
}

// PushNewNotification publishes the +1 delta for each newly-created
// delivery row. Callers must pass only rows actually inserted in this run;
// rows skipped as duplicates would otherwise inflate the counters.
// Already-expired notifications publish nothing.
func (p *Pusher) PushNewNotification(ctx context.Context, n *model.Notification, teacherIDs []int64) {
	if n.Expired(time.Now()) {
		return
	}

	d := Delta{DeltaCount: 1, NotificationSchoolID: n.SchoolID}
	if n.RequiresSignature {
		d.DeltaSignaturesPending = 1
	} else {
		d.DeltaUnread = 1
	}

	for _, id := range teacherIDs {
		p.PushDelta(ctx, id, d)
	}
}

// PushRead publishes the -1 delta for a single row transitioning to read.
// Only non-signature rows affect the unread counter.
func (p *Pusher) PushRead(ctx context.Context, n *model.Notification, teacherID int64) {
	if n.RequiresSignature {
		return
	}
	p.PushDelta(ctx, teacherID, Delta{
		DeltaUnread:          -1,
		DeltaCount:           -1,
		NotificationSchoolID: n.SchoolID,
	})
}

// PushSigned publishes the -1 delta for a circular transitioning to signed.
func (p *Pusher) PushSigned(ctx context.Context, n *model.Notification, teacherID int64) {
	p.PushDelta(ctx, teacherID, Delta{
		DeltaSignaturesPending: -1,
		DeltaCount:             -1,
		NotificationSchoolID:   n.SchoolID,
	})
}
