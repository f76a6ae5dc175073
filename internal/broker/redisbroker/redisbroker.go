// Package redisbroker implements broker.Broker on top of a Redis list,
// grounded on discovery_service/internal/cache/redis.go's connection/ping
// setup and library_service's existing go-redis/v9 dependency. It is the
// out-of-process option for deployments with more than one worker process
// sharing a queue.
package redisbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbarrow/framewatch/internal/broker"
)

const queueKey = "framewatch:tasks"

// Broker is a Redis list-backed task queue (RPUSH/BLPOP).
type Broker struct {
	client *redis.Client
}

// New connects to redisURL (as accepted by redis.ParseURL) and verifies the
// connection with a Ping, matching discovery_service's NewRedisCache.
func New(ctx context.Context, redisURL string) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redisbroker: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redisbroker: ping: %w", err)
	}
	return &Broker{client: client}, nil
}

// Enqueue pushes a task onto the list.
func (b *Broker) Enqueue(ctx context.Context, task broker.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("redisbroker: marshal task: %w", err)
	}
	if err := b.client.RPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("redisbroker: rpush: %w", err)
	}
	return nil
}

// Consume blocks on BLPOP in a loop, streaming tasks onto the returned
// channel until ctx is cancelled.
func (b *Broker) Consume(ctx context.Context) (<-chan broker.Task, error) {
	out := make(chan broker.Task)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := b.client.BLPop(ctx, 5*time.Second, queueKey).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}
			if len(res) != 2 {
				continue
			}
			var task broker.Task
			if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
				continue
			}
			select {
			case out <- task:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection.
func (b *Broker) Close() error { return b.client.Close() }
