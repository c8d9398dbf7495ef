package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"school-notify-backend/internal/db"
	"school-notify-backend/internal/model"
	"school-notify-backend/internal/store"
)

type fakeSender struct {
	mu       sync.Mutex
	statuses map[string]int
	sent     []string
}

func (f *fakeSender) Send(_ []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sub.Endpoint)

	status := http.StatusCreated
	if s, ok := f.statuses[sub.Endpoint]; ok {
		status = s
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (f *fakeSender) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestPool(t *testing.T, sender Sender) (*Pool, store.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := testDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(testDB))

	s := store.NewGormStore(testDB)
	pool := NewPool(2, s, &webpush.Options{})
	pool.sender = sender
	return pool, s
}

func seedSubscription(t *testing.T, s store.Store, teacherID int64, endpoint string) {
	t.Helper()
	require.NoError(t, s.DB().Create(&model.Teacher{
		ID: teacherID, Name: fmt.Sprintf("t%d", teacherID), IsActive: true,
	}).Error)
	require.NoError(t, s.UpsertPushSubscription(context.Background(), &model.PushSubscription{
		Endpoint: endpoint, TeacherID: teacherID, P256DH: "k", Auth: "a",
	}))
}

func TestDeliverSendsToSubscribedRecipients(t *testing.T) {
	sender := &fakeSender{}
	pool, s := newTestPool(t, sender)
	seedSubscription(t, s, 1, "https://push.example/ep1")
	seedSubscription(t, s, 2, "https://push.example/ep2")

	pool.deliver(context.Background(), Job{TeacherIDs: []int64{1, 2}, Title: "t", Body: "b"})

	assert.ElementsMatch(t, []string{"https://push.example/ep1", "https://push.example/ep2"}, sender.endpoints())
}

func TestDeliverSkipsUnsubscribedRecipients(t *testing.T) {
	sender := &fakeSender{}
	pool, s := newTestPool(t, sender)
	seedSubscription(t, s, 1, "https://push.example/ep1")

	pool.deliver(context.Background(), Job{TeacherIDs: []int64{2}, Title: "t", Body: "b"})

	assert.Empty(t, sender.endpoints())
}

func TestGoneSubscriptionIsDeleted(t *testing.T) {
	sender := &fakeSender{statuses: map[string]int{
		"https://push.example/ep1": http.StatusGone,
	}}
	pool, s := newTestPool(t, sender)
	seedSubscription(t, s, 1, "https://push.example/ep1")

	pool.deliver(context.Background(), Job{TeacherIDs: []int64{1}, Title: "t", Body: "b"})

	subs, err := s.SubscriptionsForTeachers(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPoolProcessesEnqueuedJobs(t *testing.T) {
	sender := &fakeSender{}
	pool, s := newTestPool(t, sender)
	seedSubscription(t, s, 1, "https://push.example/ep1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Enqueue(Job{TeacherIDs: []int64{1}, Title: "t", Body: "b"})

	require.Eventually(t, func() bool {
		return len(sender.endpoints()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
