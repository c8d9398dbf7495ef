package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"school-notify-backend/internal/counter"
	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/signature"
	"school-notify-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	counters   *counter.Cache
	dispatcher *dispatch.Dispatcher
	pusher     *realtime.Pusher
	signatures *signature.Service
	webpush    *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(
	s store.Store,
	counters *counter.Cache,
	dispatcher *dispatch.Dispatcher,
	pusher *realtime.Pusher,
	signatures *signature.Service,
	webpushOptions *webpush.Options,
) *Handler {
	return &Handler{
		store:      s,
		counters:   counters,
		dispatcher: dispatcher,
		pusher:     pusher,
		signatures: signatures,
		webpush:    webpushOptions,
	}
}
