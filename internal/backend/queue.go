package backend

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is the shared work queue the Distributed backend dispatches
// per-cycle work items through.
type Queue interface {
	// Push enqueues one work item payload.
	Push(ctx context.Context, payload []byte) error
	// Pop dequeues the next payload, blocking up to timeout. A timeout
	// with nothing available returns (nil, nil).
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// RedisQueue is a Queue over a Redis list (LPUSH producer, BRPOP
// consumer). Plain-list semantics are sufficient here: the version
// counter on the checkpoint store, not the queue, is what serializes a
// task's cycles.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue creates a queue on key backed by rdb.
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

// Push implements Queue.
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	return q.rdb.LPush(ctx, q.key, payload).Err()
}

// Pop implements Queue.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	vals, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(vals) < 2 {
		return nil, nil
	}
	return []byte(vals[1]), nil
}

// MemQueue is an in-process Queue for tests and single-binary
// deployments that still want the per-cycle dispatch shape.
type MemQueue struct {
	ch chan []byte
}

// NewMemQueue creates a MemQueue buffering up to size items.
func NewMemQueue(size int) *MemQueue {
	if size <= 0 {
		size = 256
	}
	return &MemQueue{ch: make(chan []byte, size)}
}

// Push implements Queue.
func (q *MemQueue) Push(ctx context.Context, payload []byte) error {
	select {
	case q.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop implements Queue.
func (q *MemQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-q.ch:
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
