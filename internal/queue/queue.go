// Package queue implements the durable Redis-backed job queues the worker
// consumes. Jobs are pushed onto a list and moved to a per-queue processing
// list while a handler runs, so a crashed worker leaves the job recoverable
// instead of lost.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Queue names. Every job type has its own list.
const (
	QueueBuildDeploy      = "build_deploy"
	QueueCreatePostgres   = "create_postgres"
	QueueDeletePostgres   = "delete_postgres"
	QueueCreateRedis      = "create_redis"
	QueueDeleteRedis      = "delete_redis"
	QueueSendNotification = "send_notification"
)

// Names lists every queue the worker consumes.
var Names = []string{
	QueueBuildDeploy,
	QueueCreatePostgres,
	QueueDeletePostgres,
	QueueCreateRedis,
	QueueDeleteRedis,
	QueueSendNotification,
}

func listKey(queue string) string {
	return "chief:queue:" + queue
}

func processingKey(queue string) string {
	return listKey(queue) + ":processing"
}

// Producer enqueues jobs.
type Producer interface {
	Enqueue(ctx context.Context, queue string, payload any) error
}

// RedisProducer pushes jobs onto Redis lists.
type RedisProducer struct {
	client *redis.Client
}

// NewProducer constructs a RedisProducer.
func NewProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{client: client}
}

// Enqueue serializes the payload and pushes it onto the named queue.
func (p *RedisProducer) Enqueue(ctx context.Context, queue string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := p.client.LPush(ctx, listKey(queue), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return nil
}
