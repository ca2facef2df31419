package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// redisPollTimeout ограничивает одно ожидание BRPOP, чтобы Receive замечал Close.
const redisPollTimeout = time.Second

// RedisQueue хранит уведомления в Redis list: LPUSH на запись, BRPOP на чтение.
// Задача удаляется из списка при чтении, доставка не повторяется.
type RedisQueue struct {
	client *redis.Client
	key    string
	closed atomic.Bool
}

var _ domain.NotificationQueue = (*RedisQueue)(nil)

// NewRedisQueue создаёт очередь по указанному ключу.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

// Enqueue публикует задачу. После Close возвращает ErrQueueClosed.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	if q.closed.Load() {
		return domain.ErrQueueClosed
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal notification %s: %w", job.ID, err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push notification %s: %w", job.ID, err)
	}
	return nil
}

// Receive ждёт задачу. После Close забирает оставшиеся задачи без ожидания
// и возвращает ErrQueueClosed, когда список пуст.
func (q *RedisQueue) Receive(ctx context.Context) (domain.NotificationJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.NotificationJob{}, nil, err
		}
		if q.closed.Load() {
			return q.drainOne(ctx)
		}

		start := time.Now()
		res, err := q.client.BRPop(ctx, redisPollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return domain.NotificationJob{}, nil, ctx.Err()
			}
			metrics.ObserveNetworkRequest("redis", "brpop", q.key, start, err)
			return domain.NotificationJob{}, nil, fmt.Errorf("pop notification: %w", err)
		}
		metrics.ObserveNetworkRequest("redis", "brpop", q.key, start, nil)
		if len(res) != 2 {
			return domain.NotificationJob{}, nil, fmt.Errorf("pop notification: unexpected reply of %d items", len(res))
		}
		job, err := decodeJob(res[1])
		if err != nil {
			return domain.NotificationJob{}, nil, err
		}
		return job, noopAck, nil
	}
}

func (q *RedisQueue) drainOne(ctx context.Context) (domain.NotificationJob, domain.AckFunc, error) {
	start := time.Now()
	payload, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.NotificationJob{}, nil, domain.ErrQueueClosed
	}
	metrics.ObserveNetworkRequest("redis", "rpop", q.key, start, err)
	if err != nil {
		return domain.NotificationJob{}, nil, fmt.Errorf("pop notification: %w", err)
	}
	job, err := decodeJob(payload)
	if err != nil {
		return domain.NotificationJob{}, nil, err
	}
	return job, noopAck, nil
}

// Close прекращает приём задач. Оставшиеся в списке задачи ещё можно прочитать.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}

func decodeJob(payload string) (domain.NotificationJob, error) {
	var job domain.NotificationJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return domain.NotificationJob{}, fmt.Errorf("decode notification: %w", err)
	}
	return job, nil
}
