package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"school-notify-backend/config"
	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/realtime"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, gateway *realtime.Gateway, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)

	// API group
	api := r.Group("/api")
	api.Use(mw.OptionalAuth(cfg.Auth.JWTSecret))
	api.Use(rateLimiter)
	{
		// Anonymous pollers get {"count":0,"authenticated":false}, never a 401.
		api.GET("/notifications/unread_count", h.GetUnreadCount)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

		// The gateway authenticates inside the handshake so it can close
		// unauthenticated sockets with its own code.
		api.GET("/ws/notifications", gateway.Handle)

		authed := api.Group("")
		authed.Use(mw.RequireUser())
		{
			authed.POST("/notifications", h.CreateNotification)
			authed.GET("/notifications", h.ListMyNotifications)
			authed.DELETE("/notifications/:id", h.DeleteNotification)
			authed.GET("/notifications/:id/signatures.csv", h.ExportSignaturesCSV)

			authed.POST("/notifications/:id/read", h.MarkReadByNotification)
			authed.POST("/notifications/read_all", h.MarkAllNotificationsRead)
			authed.POST("/circulars/read_all", h.MarkAllCircularsRead)

			authed.POST("/recipients/:id/read", h.MarkRecipientRead)
			authed.POST("/recipients/:id/sign", h.SignCircular)

			authed.PUT("/push_subscriptions", h.PutPushSubscription)
			authed.DELETE("/push_subscriptions", h.DeletePushSubscription)
		}
	}

	return r
}
