package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"reel/internal/pkg/errors"
)

// doorbellLimit bounds the list when no worker is draining it.
const doorbellLimit = 1000

// RedisWaker rings workers through a Redis list: Notify LPUSHes a job id
// and Wait BRPOPs it. The list is only a hint; job state lives in the store.
type RedisWaker struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisWaker(rdb *redis.Client, queueName string) *RedisWaker {
	return &RedisWaker{rdb: rdb, queueName: queueName}
}

func (w *RedisWaker) Notify(ctx context.Context, jobID string) error {
	pipe := w.rdb.Pipeline()
	pipe.LPush(ctx, w.queueName, jobID)
	pipe.LTrim(ctx, w.queueName, 0, doorbellLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.notify", "push wake-up")
	}
	return nil
}

// Wait blocks in BRPOP for up to timeout.
func (w *RedisWaker) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	if timeout < time.Second {
		timeout = time.Second
	}
	res, err := w.rdb.BRPop(ctx, timeout, w.queueName).Result()
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.wait", "pop wake-up")
	}
	return len(res) == 2, nil
}
