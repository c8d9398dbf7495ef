package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"school-notify-backend/internal/model"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for all database operations. It is the single
// source of truth for delivery state; every snapshot sent over the realtime
// channel is computed from here, never from the counter cache.
type Store interface {
	DB() *gorm.DB

	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotification(ctx context.Context, id int64) (*model.Notification, error)
	DeleteNotification(ctx context.Context, id int64) error

	ResolveAudience(ctx context.Context, n *model.Notification, explicitIDs []int64) ([]int64, error)
	CreateRecipients(ctx context.Context, notificationID int64, teacherIDs []int64, batchSize int) ([]int64, error)

	CountsFor(ctx context.Context, teacherID int64, activeSchoolID *int64, now time.Time) (Counts, error)
	ListRecipientRows(ctx context.Context, teacherID int64, activeSchoolID *int64, now time.Time) ([]model.NotificationRecipient, error)
	DeliveryRows(ctx context.Context, notificationID int64) ([]DeliveryRow, error)

	GetRecipient(ctx context.Context, id, teacherID int64) (*model.NotificationRecipient, error)
	MarkRead(ctx context.Context, recipientID, teacherID int64, now time.Time) (bool, error)
	MarkReadByNotification(ctx context.Context, notificationID, teacherID int64, now time.Time) (bool, error)
	MarkAllRead(ctx context.Context, teacherID int64, requiresSignature bool, now time.Time) (int64, error)

	RegisterSignatureAttempt(ctx context.Context, recipientID int64, attempts int, at time.Time) error
	CompleteSignature(ctx context.Context, recipientID int64, now time.Time) error

	UpsertPushSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeletePushSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForTeachers(ctx context.Context, teacherIDs []int64) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// CreateNotification persists a new notification. The caller owns the
// surrounding transaction; dispatching delivery work must wait until that
// transaction has committed.
func (s *gormStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.RequiresSignature && n.SignatureAckText == "" {
		n.SignatureAckText = model.DefaultAckText
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *gormStore) GetNotification(ctx context.Context, id int64) (*model.Notification, error) {
	var n model.Notification
	err := s.db.WithContext(ctx).First(&n, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notification %d: %w", id, err)
	}
	return &n, nil
}

// DeleteNotification removes a notification; its recipient rows go with it
// via the cascading foreign key.
func (s *gormStore) DeleteNotification(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("notification_id = ?", id).Delete(&model.NotificationRecipient{}).Error; err != nil {
			return fmt.Errorf("failed to delete recipient rows for notification %d: %w", id, err)
		}
		res := tx.Delete(&model.Notification{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete notification %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ResolveAudience returns the teacher ids a notification should be delivered
// to. Explicit ids are filtered down to active accounts; without them the
// audience is every active member of the notification's school, or every
// active account platform-wide when the notification is global.
func (s *gormStore) ResolveAudience(ctx context.Context, n *model.Notification, explicitIDs []int64) ([]int64, error) {
	var ids []int64

	if len(explicitIDs) > 0 {
		err := s.db.WithContext(ctx).
			Model(&model.Teacher{}).
			Where("id IN ? AND is_active = ?", explicitIDs, true).
			Pluck("id", &ids).Error
		if err != nil {
			return nil, fmt.Errorf("failed to filter explicit recipients: %w", err)
		}
		return ids, nil
	}

	q := s.db.WithContext(ctx).
		Model(&model.Teacher{}).
		Distinct("teachers.id").
		Joins("JOIN school_memberships ON school_memberships.teacher_id = teachers.id").
		Joins("JOIN schools ON schools.id = school_memberships.school_id").
		Where("teachers.is_active = ?", true).
		Where("school_memberships.is_active = ?", true).
		Where("schools.is_active = ?", true)

	if n.SchoolID != nil {
		q = q.Where("school_memberships.school_id = ?", *n.SchoolID)
	}

	if err := q.Pluck("teachers.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}
	return ids, nil
}

// CreateRecipients inserts delivery rows for the given audience in batches
// and returns the teacher ids of rows actually inserted in this run. Rows
// already present for the notification are skipped by the conflict clause,
// so re-running delivery for a retried job is a safe no-op for them. Each
// batch is its own atomic statement: a failure partway leaves earlier
// batches intact and the whole job re-dispatchable from the start.
func (s *gormStore) CreateRecipients(ctx context.Context, notificationID int64, teacherIDs []int64, batchSize int) ([]int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var inserted []int64
	for start := 0; start < len(teacherIDs); start += batchSize {
		end := start + batchSize
		if end > len(teacherIDs) {
			end = len(teacherIDs)
		}
		batch := teacherIDs[start:end]

		var existing []int64
		err := s.db.WithContext(ctx).
			Model(&model.NotificationRecipient{}).
			Where("notification_id = ? AND teacher_id IN ?", notificationID, batch).
			Pluck("teacher_id", &existing).Error
		if err != nil {
			return inserted, fmt.Errorf("failed to pre-check recipients for notification %d: %w", notificationID, err)
		}
		existingSet := make(map[int64]struct{}, len(existing))
		for _, id := range existing {
			existingSet[id] = struct{}{}
		}

		var rows []model.NotificationRecipient
		var fresh []int64
		for _, id := range batch {
			if _, dup := existingSet[id]; dup {
				continue
			}
			rows = append(rows, model.NotificationRecipient{
				NotificationID: notificationID,
				TeacherID:      id,
			})
			fresh = append(fresh, id)
		}
		if len(rows) == 0 {
			continue
		}

		err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "teacher_id"}},
			DoNothing: true,
		}).Create(&rows).Error
		if err != nil {
			return inserted, fmt.Errorf("failed to insert recipient batch for notification %d: %w", notificationID, err)
		}

		inserted = append(inserted, fresh...)
	}
	return inserted, nil
}
