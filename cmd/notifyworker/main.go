package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"school-notify-backend/config"
	"school-notify-backend/internal/db"
	"school-notify-backend/internal/dispatch"
	"school-notify-backend/internal/fanout"
	"school-notify-backend/internal/push"
	"school-notify-backend/internal/realtime"
	"school-notify-backend/internal/store"
)

// notifyworker consumes queued delivery jobs. It runs alongside notifyd
// when a message queue is configured; without one, notifyd executes jobs
// itself through the thread or inline tiers.
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
	if cfg.Queue.URL == "" {
		logrus.Fatal("queue.url must be configured for the worker process")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logrus.Fatalf("failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)

	// Deltas produced here must reach gateway connections held by the API
	// process, so the worker needs the shared redis broker. Without it the
	// badge still converges through polling and snapshots.
	var broker realtime.Broker
	if cfg.Realtime.RedisURL != "" {
		rb, err := realtime.NewRedisBroker(ctx, cfg.Realtime.RedisURL)
		if err != nil {
			logrus.Fatalf("failed to connect to redis: %v", err)
		}
		broker = rb
	} else {
		logrus.Warn("realtime.redis_url not configured, worker deltas will not reach API processes")
		broker = realtime.NewHub()
	}
	defer broker.Close()
	pusher := realtime.NewPusher(broker)

	var pushPool *push.Pool
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pushPool = push.NewPool(cfg.WorkerPool.Size, appStore, &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		})
		pushPool.Start(ctx)
	}

	worker := fanout.NewWorker(appStore, pusher, pushPool, cfg.Fanout.BatchSize)

	queue, err := dispatch.NewQueue(cfg.Queue.URL, cfg.Queue.QueueName)
	if err != nil {
		logrus.Fatalf("failed to connect to queue: %v", err)
	}
	defer queue.Close()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logrus.Info("shutdown signal received, stopping consumer")
		cancel()
	}()

	logrus.Infof("worker consuming from queue %q", cfg.Queue.QueueName)
	if err := queue.Consume(ctx, worker); err != nil && ctx.Err() == nil {
		logrus.Fatalf("consumer stopped: %v", err)
	}
	logrus.Info("worker stopped")
}
