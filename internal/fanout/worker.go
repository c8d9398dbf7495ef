package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/model"
	"school-notify-backend/internal/push"
	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/store"
)

// Worker resolves a notification's audience and creates its delivery rows.
// It implements dispatch.Runner, so the same code serves all three
// execution tiers.
type Worker struct {
	store     store.Store
	pusher    *realtime.Pusher
	pushPool  *push.Pool // nil when web push is not configured
	batchSize int
}

// NewWorker builds a fan-out worker. pushPool may be nil.
func NewWorker(s store.Store, p *realtime.Pusher, pool *push.Pool, batchSize int) *Worker {
	return &Worker{store: s, pusher: p, pushPool: pool, batchSize: batchSize}
}

// Run executes a dispatched job.
func (w *Worker) Run(ctx context.Context, job dispatch.Job) error {
	switch job.Kind {
	case dispatch.KindFanout:
		return w.Deliver(ctx, job.NotificationID, job.RecipientIDs)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// Deliver creates delivery rows for the notification's audience in batches
// and publishes a +1 delta for each row actually inserted in this run.
// Batch creation bypasses per-row change notification, so publishing here
// is what keeps connected clients' counters moving. Re-running the same
// delivery is a no-op for recipients that already have a row.
func (w *Worker) Deliver(ctx context.Context, notificationID int64, explicitRecipientIDs []int64) error {
	n, err := w.store.GetNotification(ctx, notificationID)
	if errors.Is(err, store.ErrNotFound) {
		// The notification was deleted between dispatch and execution;
		// nothing left to deliver.
		logrus.Warnf("fanout: notification %d no longer exists", notificationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fanout: %w", err)
	}

	audience, err := w.store.ResolveAudience(ctx, n, explicitRecipientIDs)
	if err != nil {
		return fmt.Errorf("fanout: %w", err)
	}
	if len(audience) == 0 {
		logrus.WithField("notification_id", notificationID).Info("fanout: empty audience")
		return nil
	}

	inserted, err := w.store.CreateRecipients(ctx, notificationID, audience, w.batchSize)
	// Deltas for rows that did get written must go out even when a later
	// batch failed; the job will be re-dispatched for the remainder.
	w.publish(ctx, n, inserted)
	if err != nil {
		return fmt.Errorf("fanout: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"notification_id": notificationID,
		"audience":        len(audience),
		"inserted":        len(inserted),
	}).Info("fanout complete")
	return nil
}

func (w *Worker) publish(ctx context.Context, n *model.Notification, inserted []int64) {
	if len(inserted) == 0 {
		return
	}

	w.pusher.PushNewNotification(ctx, n, inserted)

	if w.pushPool != nil && !n.Expired(time.Now()) {
		w.pushPool.Enqueue(push.Job{
			TeacherIDs: inserted,
			Title:      n.Title,
			Body:       n.Message,
		})
	}
}
