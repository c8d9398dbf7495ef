package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"school-notify-backend/config"
	"school-notify-backend/internal/api"
	"school-notify-backend/internal/counter"
	"school-notify-backend/internal/db"
	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/fanout"
	"school-notify-backend/internal/mw"
	"school-notify-backend/internal/push"
	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/signature"
	"school-notify-backend/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logrus.Infof("configuration loaded from %s", configPath)

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logrus.Fatalf("failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Broker: redis when configured, otherwise a single-process hub.
	var broker realtime.Broker
	if cfg.Realtime.RedisURL != "" {
		rb, err := realtime.NewRedisBroker(ctx, cfg.Realtime.RedisURL)
		if err != nil {
			logrus.Fatalf("failed to connect to redis: %v", err)
		}
		broker = rb
		logrus.Info("realtime broker: redis")
	} else {
		broker = realtime.NewHub()
		logrus.Warn("realtime broker: in-process hub, deltas will not cross processes")
	}
	defer broker.Close()

	pusher := realtime.NewPusher(broker)

	// Web push is optional; without VAPID keys the pool stays nil and
	// fan-out skips browser notifications.
	var pushPool *push.Pool
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pushPool = push.NewPool(cfg.WorkerPool.Size, appStore, webpushOptions)
		pushPool.Start(ctx)
	} else {
		logrus.Warn("VAPID keys not configured, web push disabled")
	}

	worker := fanout.NewWorker(appStore, pusher, pushPool, cfg.Fanout.BatchSize)

	// Dispatch tiers in order of preference: queue, detached goroutine,
	// inline. At least the inline tier is always present.
	var tiers []dispatch.Submitter
	if cfg.Queue.URL != "" {
		queue, err := dispatch.NewQueue(cfg.Queue.URL, cfg.Queue.QueueName)
		if err != nil {
			logrus.Warnf("queue tier unavailable: %v", err)
		} else {
			defer queue.Close()
			tiers = append(tiers, queue)
		}
	}
	if cfg.Dispatch.AllowThread {
		tiers = append(tiers, dispatch.NewThread(worker))
	}
	tiers = append(tiers, dispatch.NewInline(worker))
	dispatcher := dispatch.NewDispatcher(tiers...)

	counters := counter.New(appStore, cfg.Counters.CacheTTL())
	signatures := signature.NewService(appStore, pusher, cfg.Signature.MaxAttempts, cfg.Signature.LockoutWindow())

	gateway := realtime.NewGateway(appStore, broker, func(token string) (int64, error) {
		return mw.ParseToken(cfg.Auth.JWTSecret, token)
	})

	handler := api.NewHandler(appStore, counters, dispatcher, pusher, signatures, webpushOptions)
	router := api.NewRouter(handler, gateway, cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logrus.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("HTTP server shutdown: %v", err)
	}

	logrus.Info("server gracefully stopped")
}
