package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"school-notify-backend/config"
	"school-notify-backend/internal/counter"
	"school-notify-backend/internal/db"
	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/fanout"
	"school-notify-backend/internal/model"
	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/signature"
	"school-notify-backend/internal/store"
)

const testSecret = "test-secret"

type apiFixture struct {
	store  store.Store
	hub    *realtime.Hub
	router *gin.Engine
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	cfg := &config.Config{}
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Auth.JWTSecret = testSecret

	hub := realtime.NewHub()
	pusher := realtime.NewPusher(hub)
	worker := fanout.NewWorker(s, pusher, nil, 500)
	dispatcher := dispatch.NewDispatcher(dispatch.NewInline(worker))
	counters := counter.New(s, 15*time.Second)
	signatures := signature.NewService(s, pusher, 5, 15*time.Minute)
	gateway := realtime.NewGateway(s, hub, func(token string) (int64, error) {
		return mw.ParseToken(testSecret, token)
	})

	handler := NewHandler(s, counters, dispatcher, pusher, signatures, nil)
	router := NewRouter(handler, gateway, cfg)

	return &apiFixture{store: s, hub: hub, router: router}
}

// subscribe joins a teacher's broadcast group for the rest of the test.
func (f *apiFixture) subscribe(t *testing.T, teacherID int64) <-chan realtime.Delta {
	t.Helper()
	ch, leave, err := f.hub.Subscribe(teacherID)
	require.NoError(t, err)
	t.Cleanup(leave)
	return ch
}

func drainDeltas(ch <-chan realtime.Delta) []realtime.Delta {
	var out []realtime.Delta
	for {
		select {
		case d := <-ch:
			out = append(out, d)
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func (f *apiFixture) seedTeacher(t *testing.T, id int64, phone string) {
	t.Helper()
	require.NoError(t, f.store.DB().Create(&model.Teacher{
		ID: id, Name: fmt.Sprintf("Teacher %d", id), Phone: phone, RoleLabel: "teacher", IsActive: true,
	}).Error)
}

func (f *apiFixture) request(t *testing.T, method, path string, body any, userID int64) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		token, err := mw.GenerateToken(testSecret, userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestUnreadCountAnonymous(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(t, http.MethodGet, "/api/notifications/unread_count", nil, 0)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, false, body["authenticated"])
}

func TestAuthedRoutesRejectAnonymous(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(t, http.MethodPost, "/api/notifications/read_all", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateNotificationDeliversInline(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")
	f.seedTeacher(t, 2, "600333444")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title":         "Staff meeting",
		"message":       "Friday 10:00",
		"recipient_ids": []int64{1, 2},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["dispatched"])

	// The inline tier ran before the response, so counters are live.
	w = f.request(t, http.MethodGet, "/api/notifications/unread_count", nil, 2)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestCreateNotificationValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{"title": "no message"}, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMyNotifications(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "hello", "message": "world", "recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.request(t, http.MethodGet, "/api/notifications", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)

	var items []NotificationItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "hello", items[0].Title)
	assert.False(t, items[0].IsRead)
}

func TestMarkRecipientReadDropsCounter(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "n", "message": "m", "recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec model.NotificationRecipient
	require.NoError(t, f.store.DB().Where("teacher_id = ?", 1).First(&rec).Error)

	ch := f.subscribe(t, 1)
	w = f.request(t, http.MethodPost, fmt.Sprintf("/api/recipients/%d/read", rec.ID), nil, 1)
	require.Equal(t, http.StatusOK, w.Code)

	// The transition publishes the compensating delta to the reader's group.
	deltas := drainDeltas(ch)
	require.Len(t, deltas, 1)
	assert.EqualValues(t, -1, deltas[0].DeltaUnread)
	assert.EqualValues(t, -1, deltas[0].DeltaCount)
	assert.EqualValues(t, 0, deltas[0].DeltaSignaturesPending)

	w = f.request(t, http.MethodGet, "/api/notifications/unread_count", nil, 1)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	// A repeated read stays 200 and publishes nothing: the row did not
	// transition, so a second -1 would drive the counter negative.
	w = f.request(t, http.MethodPost, fmt.Sprintf("/api/recipients/%d/read", rec.ID), nil, 1)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, drainDeltas(ch))
}

func TestMarkAllNotificationsRead(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	for i := 0; i < 3; i++ {
		w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
			"title": fmt.Sprintf("n%d", i), "message": "m", "recipient_ids": []int64{1},
		}, 1)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	ch := f.subscribe(t, 1)
	w := f.request(t, http.MethodPost, "/api/notifications/read_all", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["updated"])

	// Bulk updates bypass per-row deltas; clients get told to resync.
	deltas := drainDeltas(ch)
	require.Len(t, deltas, 1)
	assert.True(t, deltas[0].ForceResync)

	w = f.request(t, http.MethodGet, "/api/notifications/unread_count", nil, 1)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	// Nothing left to update: no resync churn for connected clients.
	w = f.request(t, http.MethodPost, "/api/notifications/read_all", nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["updated"])
	assert.Empty(t, drainDeltas(ch))
}

func TestSignCircularFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "+34 600 111 222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "circular", "message": "m", "requires_signature": true,
		"recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec model.NotificationRecipient
	require.NoError(t, f.store.DB().Where("teacher_id = ?", 1).First(&rec).Error)
	signPath := fmt.Sprintf("/api/recipients/%d/sign", rec.ID)

	ch := f.subscribe(t, 1)

	// Wrong phone.
	w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "000000000", "acknowledged": true}, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing acknowledgement.
	w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "600111222"}, 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Failed attempts publish nothing.
	assert.Empty(t, drainDeltas(ch))

	// Correct attempt; formatting differences are tolerated.
	w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "600-111-222", "acknowledged": true}, 1)
	require.Equal(t, http.StatusOK, w.Code)

	// The signature transition publishes its compensating delta.
	deltas := drainDeltas(ch)
	require.Len(t, deltas, 1)
	assert.EqualValues(t, -1, deltas[0].DeltaSignaturesPending)
	assert.EqualValues(t, -1, deltas[0].DeltaCount)
	assert.EqualValues(t, 0, deltas[0].DeltaUnread)

	// Signing again reports success without re-signing, and without a
	// second delta.
	w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "600111222", "acknowledged": true}, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["already_signed"])
	assert.Empty(t, drainDeltas(ch))

	w = f.request(t, http.MethodGet, "/api/notifications/unread_count", nil, 1)
	assert.EqualValues(t, 0, decode(t, w)["signatures_pending"])
}

func TestSignCircularLockout(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "circular", "message": "m", "requires_signature": true,
		"recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	var rec model.NotificationRecipient
	require.NoError(t, f.store.DB().Where("teacher_id = ?", 1).First(&rec).Error)
	signPath := fmt.Sprintf("/api/recipients/%d/sign", rec.ID)

	for i := 0; i < 5; i++ {
		w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "999999999", "acknowledged": true}, 1)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	w = f.request(t, http.MethodPost, signPath, gin.H{"phone": "600111222", "acknowledged": true}, 1)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := decode(t, w)
	assert.Greater(t, body["retry_after_seconds"], float64(0))
}

func TestExportSignaturesCSV(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "0512345678")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "circular", "message": "m", "requires_signature": true,
		"recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)
	notificationID := int64(decode(t, w)["id"].(float64))

	w = f.request(t, http.MethodGet, fmt.Sprintf("/api/notifications/%d/signatures.csv", notificationID), nil, 1)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "signatures_")

	body := w.Body.String()
	assert.Contains(t, body, "name,role,phone,read,read_at,signed,signed_at")
	// The raw phone never appears; only the masked form does.
	assert.NotContains(t, body, "0512345678")
	assert.Contains(t, body, "******5678")
}

func TestExportSignaturesCSVRejectsPlainNotification(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "plain", "message": "m", "recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)
	notificationID := int64(decode(t, w)["id"].(float64))

	w = f.request(t, http.MethodGet, fmt.Sprintf("/api/notifications/%d/signatures.csv", notificationID), nil, 1)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDeleteNotification(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPost, "/api/notifications", gin.H{
		"title": "n", "message": "m", "recipient_ids": []int64{1},
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)
	notificationID := int64(decode(t, w)["id"].(float64))

	w = f.request(t, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", notificationID), nil, 1)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.request(t, http.MethodDelete, fmt.Sprintf("/api/notifications/%d", notificationID), nil, 1)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.seedTeacher(t, 1, "600111222")

	w := f.request(t, http.MethodPut, "/api/push_subscriptions", gin.H{
		"endpoint": "https://push.example/ep1", "p256dh": "k", "auth": "a",
	}, 1)
	require.Equal(t, http.StatusCreated, w.Code)

	subs, err := f.store.SubscriptionsForTeachers(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	w = f.request(t, http.MethodDelete, "/api/push_subscriptions", gin.H{
		"endpoint": "https://push.example/ep1",
	}, 1)
	require.Equal(t, http.StatusNoContent, w.Code)

	subs, err = f.store.SubscriptionsForTeachers(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestVAPIDPublicKeyUnconfigured(t *testing.T) {
	f := newAPIFixture(t)

	w := f.request(t, http.MethodGet, "/api/vapid_public_key", nil, 0)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
