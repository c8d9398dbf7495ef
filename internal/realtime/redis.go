package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBroker is the multi-process Broker: deltas travel over Redis pub/sub
// so a worker process can reach gateway connections held by other server
// processes. Redis preserves per-channel publish order, which carries the
// per-recipient ordering guarantee across processes.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, url string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBroker{client: client}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, teacherID int64, d Delta) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	if err := b.client.Publish(ctx, GroupName(teacherID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish delta to %s: %w", GroupName(teacherID), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(teacherID int64) (<-chan Delta, func(), error) {
	group := GroupName(teacherID)
	pubsub := b.client.Subscribe(context.Background(), group)

	// Wait for the subscription to be established so no delta published
	// after Subscribe returns is missed.
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", group, err)
	}

	out := make(chan Delta, subscriberBuffer)
	go forwardDeltas(group, pubsub.Channel(), out)

	cancel := func() {
		pubsub.Close()
	}
	return out, cancel, nil
}

// forwardDeltas decodes pub/sub payloads into the subscriber channel. The
// send never blocks: a full buffer means the consumer stopped draining (slow
// or already gone), and a parked send would outlive the subscription. Like
// the hub, dropped deltas are corrected by the client's next snapshot.
func forwardDeltas(group string, msgs <-chan *redis.Message, out chan<- Delta) {
	defer close(out)
	for msg := range msgs {
		var d Delta
		if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
			logrus.WithField("group", group).Warnf("dropping malformed delta: %v", err)
			continue
		}
		select {
		case out <- d:
		default:
			logrus.WithField("group", group).Warn("subscriber buffer full, dropping delta; next snapshot will correct")
		}
	}
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
