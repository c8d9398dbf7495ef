package dispatch

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrDispatchUnavailable means every execution tier failed. It is logged and
// swallowed by callers: the authoring action already committed, and delivery
// is recoverable by re-dispatch.
var ErrDispatchUnavailable = errors.New("dispatch unavailable: all execution tiers failed")

// Job is one unit of deferred work. Jobs are JSON on the wire so the queue
// tier can hand them to a separate worker process.
type Job struct {
	Kind           string  `json:"kind"`
	NotificationID int64   `json:"notification_id"`
	RecipientIDs   []int64 `json:"recipient_ids,omitempty"`
}

// Job kinds.
const (
	KindFanout = "fanout"
)

// Runner executes a job. The fan-out worker is the only implementation.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Submitter is one execution tier. Submit either takes responsibility for
// the job or returns an error so the next tier can be tried.
type Submitter interface {
	Name() string
	Submit(ctx context.Context, job Job) error
}

// Dispatcher tries an ordered list of tiers, first success wins. It must be
// invoked only after the transaction that created the job's subject has
// durably committed: deferred work may never observe uncommitted state or
// run for a rolled-back write.
type Dispatcher struct {
	tiers []Submitter
}

// NewDispatcher builds a dispatcher over the given tiers, in order of
// preference.
func NewDispatcher(tiers ...Submitter) *Dispatcher {
	return &Dispatcher{tiers: tiers}
}

// Dispatch hands the job to the best available tier. No tier is retried
// beyond the fallback chain itself; redelivery of queued jobs is the queue
// broker's own concern.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) error {
	for _, tier := range d.tiers {
		if err := tier.Submit(ctx, job); err != nil {
			logrus.WithFields(logrus.Fields{
				"tier":            tier.Name(),
				"kind":            job.Kind,
				"notification_id": job.NotificationID,
			}).Warnf("dispatch tier failed, falling back: %v", err)
			continue
		}
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"kind":            job.Kind,
		"notification_id": job.NotificationID,
	}).Error("all dispatch tiers exhausted, job dropped")
	return ErrDispatchUnavailable
}
