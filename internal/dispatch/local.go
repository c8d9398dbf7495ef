package dispatch

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Thread is the detached-goroutine tier, allowed only when explicitly
// configured for environments without a queue broker. The job runs on a
// fresh background context so nothing request-scoped leaks into it; job
// failures are logged and not retried.
type Thread struct {
	runner Runner
}

// NewThread builds the goroutine tier over the given runner.
func NewThread(runner Runner) *Thread {
	return &Thread{runner: runner}
}

func (t *Thread) Name() string { return "thread" }

func (t *Thread) Submit(_ context.Context, job Job) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.WithField("kind", job.Kind).Errorf("background job panicked: %v", r)
			}
		}()
		if err := t.runner.Run(context.Background(), job); err != nil {
			logrus.WithFields(logrus.Fields{
				"kind":            job.Kind,
				"notification_id": job.NotificationID,
			}).Errorf("background job failed: %v", err)
		}
	}()
	return nil
}

// Inline is the last-resort tier: synchronous execution in the calling
// context, so a missing broker never silently drops work. A failure here is
// terminal for the job.
type Inline struct {
	runner Runner
}

// NewInline builds the synchronous tier over the given runner.
func NewInline(runner Runner) *Inline {
	return &Inline{runner: runner}
}

func (i *Inline) Name() string { return "inline" }

func (i *Inline) Submit(ctx context.Context, job Job) error {
	return i.runner.Run(ctx, job)
}
