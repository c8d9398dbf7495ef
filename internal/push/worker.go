package push

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"school-notify-backend/internal/model"
	"school-notify-backend/internal/store"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Job asks the pool to push a browser notification to the given recipients.
type Job struct {
	TeacherIDs []int64
	Title      string
	Body       string
}

// Pool manages a pool of workers delivering browser push messages. Browser
// push is best-effort on top of the realtime channel: recipients without an
// open connection still get a heads-up on new notifications.
type Pool struct {
	size    int
	jobs    chan Job
	store   store.Store
	options *webpush.Options
	sender  Sender
}

// NewPool creates a new worker pool.
func NewPool(size int, s store.Store, options *webpush.Options) *Pool {
	return &Pool{
		size:    size,
		jobs:    make(chan Job, size),
		store:   s,
		options: options,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

// Enqueue hands a job to the pool, blocking if every worker is busy.
func (p *Pool) Enqueue(job Job) {
	p.jobs <- job
}

func (p *Pool) worker(ctx context.Context, id int) {
	logrus.Debugf("push worker %d started", id)
	for {
		select {
		case job := <-p.jobs:
			p.deliver(ctx, job)
		case <-ctx.Done():
			logrus.Debugf("push worker %d shutting down", id)
			return
		}
	}
}

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (p *Pool) deliver(ctx context.Context, job Job) {
	subs, err := p.store.SubscriptionsForTeachers(ctx, job.TeacherIDs)
	if err != nil {
		logrus.Errorf("error fetching push subscriptions: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{Title: job.Title, Body: job.Body})
	if err != nil {
		logrus.Errorf("error marshaling push payload: %v", err)
		return
	}

	logrus.Debugf("sending %d browser pushes", len(subs))
	for _, sub := range subs {
		p.send(ctx, sub, payload)
	}
}

func (p *Pool) send(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := p.sender.Send(payload, wpSub, p.options)
	if err != nil {
		logrus.Warnf("error sending push to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// The push service reports expired subscriptions with 410.
	if resp.StatusCode == http.StatusGone {
		logrus.Infof("push subscription %s expired, deleting", sub.Endpoint)
		if err := p.store.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
			logrus.Warnf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
