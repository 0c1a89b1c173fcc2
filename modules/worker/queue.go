package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	redisutil "seedream-studio-server/modules/common/redis"
)

// Queue - Redis list of task ids (LPUSH in, BRPOP out)
type Queue struct {
	rdb *redis.Client
	key string
}

// NewQueue - queue on the shared tasks:queue list
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, key: redisutil.TaskQueueKey}
}

// Key - the Redis list name
func (q *Queue) Key() string {
	return q.key
}

// Enqueue - push a task id; delivery is at-least-once
func (q *Queue) Enqueue(ctx context.Context, taskID string) error {
	if err := q.rdb.LPush(ctx, q.key, taskID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", taskID, err)
	}
	return nil
}

// Dequeue - block up to timeout for the next task id; "" when none arrived
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	result, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// result[0] is the list name, result[1] the task id
	return result[1], nil
}

// Len - queued task ids
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
