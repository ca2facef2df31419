package queue

import (
	"context"
	"sync"

	"github.com/gettixvp/newtg/internal/domain"
)

// MemoryQueue хранит очередь уведомлений в памяти процесса на буферизованном канале.
type MemoryQueue struct {
	jobs chan domain.NotificationJob

	mu     sync.RWMutex
	closed bool
}

var _ domain.NotificationQueue = (*MemoryQueue)(nil)

// NewMemoryQueue создаёт очередь с буфером size.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{jobs: make(chan domain.NotificationJob, size)}
}

// Enqueue кладёт задачу без блокировки. При заполненном буфере возвращает ErrQueueFull.
func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Receive ждёт задачу. Задачи из буфера отдаются раньше отмены ctx.
// После Close отдаёт оставшиеся задачи и затем ErrQueueClosed.
func (q *MemoryQueue) Receive(ctx context.Context) (domain.NotificationJob, domain.AckFunc, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return domain.NotificationJob{}, nil, domain.ErrQueueClosed
		}
		return job, noopAck, nil
	default:
	}
	select {
	case <-ctx.Done():
		return domain.NotificationJob{}, nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return domain.NotificationJob{}, nil, domain.ErrQueueClosed
		}
		return job, noopAck, nil
	}
}

// Close прекращает приём задач.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

func noopAck(bool) error { return nil }
