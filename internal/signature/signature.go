package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/store"
)

// Signature errors are user-facing by design: they are surfaced to the
// signer as messages, not treated as system faults.
var (
	ErrNotRequired            = errors.New("notification does not require a signature")
	ErrAlreadySigned          = errors.New("already signed")
	ErrLockedOut              = errors.New("too many signature attempts")
	ErrAcknowledgementMissing = errors.New("acknowledgement is required before signing")
	ErrConfirmationMismatch   = errors.New("phone number does not match the one on file")
)

// LockoutError carries how long the signer has to wait. It matches
// ErrLockedOut under errors.Is.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many signature attempts, retry in %s", e.RetryAfter.Round(time.Minute))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrLockedOut
}

// Service enforces the acknowledgement protocol for circulars: a recipient
// signs by confirming the acknowledgement text and re-entering the phone
// number on file, bounded by an attempt throttle.
type Service struct {
	store       store.Store
	pusher      *realtime.Pusher // nil disables push side effects
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewService builds the workflow with the given throttle bounds.
func NewService(s store.Store, pusher *realtime.Pusher, maxAttempts int, window time.Duration) *Service {
	return &Service{
		store:       s,
		pusher:      pusher,
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// Sign records a signature attempt on the recipient's delivery row and, if
// the attempt is valid, transitions the row UNSIGNED -> SIGNED. The
// transition is terminal; a second call reports ErrAlreadySigned. The
// attempt counter and timestamp are persisted before any validation so a
// crash mid-validation can never under-count attempts.
func (s *Service) Sign(ctx context.Context, recordID, teacherID int64, confirmationValue string, acknowledged bool) error {
	rec, err := s.store.GetRecipient(ctx, recordID, teacherID)
	if err != nil {
		return err
	}

	if !rec.Notification.RequiresSignature {
		return ErrNotRequired
	}
	if rec.IsSigned {
		return ErrAlreadySigned
	}

	now := s.now()
	attempts := rec.SignatureAttemptCount
	last := rec.SignatureLastAttemptAt

	// The window is measured from the last attempt; once it elapses the
	// counter starts over.
	if last != nil && now.Sub(*last) > s.window {
		attempts = 0
	}
	if last != nil && now.Sub(*last) <= s.window && attempts >= s.maxAttempts {
		return &LockoutError{RetryAfter: s.window - now.Sub(*last)}
	}

	if err := s.store.RegisterSignatureAttempt(ctx, recordID, attempts+1, now); err != nil {
		return err
	}

	if !acknowledged {
		return ErrAcknowledgementMissing
	}
	if PhoneKey(confirmationValue) == "" || PhoneKey(confirmationValue) != PhoneKey(rec.Teacher.Phone) {
		return ErrConfirmationMismatch
	}

	if err := s.store.CompleteSignature(ctx, recordID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost the race with another session signing the same row.
			return ErrAlreadySigned
		}
		return err
	}

	if s.pusher != nil {
		s.pusher.PushSigned(ctx, &rec.Notification, teacherID)
	}
	return nil
}
