package federation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventQueueName = "vidforge:federation:video-changed"
)

// RedisNotifier implements Notifier by pushing events onto a Redis list. The
// federation broadcaster pops from the same list, giving at-least-once
// delivery between the two processes.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a new Redis-backed notifier
func NewRedisNotifier(addr, password string, db int) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return &RedisNotifier{client: client}, nil
}

// NotifyVideoChanged raises the event onto the queue
func (r *RedisNotifier) NotifyVideoChanged(ctx context.Context, event VideoChangedEvent) error {
	if event.ChangedAt.IsZero() {
		event.ChangedAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, EventQueueName, data).Err()
}

// Close terminates the Redis connection
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
