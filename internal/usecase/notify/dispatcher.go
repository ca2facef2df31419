package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// Dispatcher читает очередь и отправляет сообщения несколькими воркерами.
// Неудачная отправка не повторяется.
type Dispatcher struct {
	queue     domain.NotificationQueue
	messenger domain.Messenger
	workers   int
	log       zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher создаёт диспетчер.
func NewDispatcher(queue domain.NotificationQueue, messenger domain.Messenger, workers int, log zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{queue: queue, messenger: messenger, workers: workers, log: log}
}

// Start запускает воркеры. Отмена ctx их не останавливает: воркеры выходят,
// когда очередь закрыта и пуста, или по истечении срока Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(worker int) {
			defer d.wg.Done()
			d.run(workerCtx, d.log.With().Int("worker", worker).Logger())
		}(i)
	}
	d.log.Info().Int("workers", d.workers).Msg("notify: диспетчер запущен")
}

// Wait блокируется до остановки всех воркеров.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stop ждёт, пока воркеры дочитают закрытую очередь. Если ctx истёк раньше,
// чтение отменяется и оставшиеся задачи не отправляются.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.log.Warn().Msg("notify: очередь не разобрана до конца остановки")
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		return ctx.Err()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.log.Info().Msg("notify: диспетчер остановлен")
	return nil
}

func (d *Dispatcher) run(ctx context.Context, log zerolog.Logger) {
	for {
		job, ack, err := d.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrQueueClosed) {
				return
			}
			log.Error().Err(err).Msg("notify: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		d.deliver(ctx, job, ack, log)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job domain.NotificationJob, ack domain.AckFunc, log zerolog.Logger) {
	jobLog := log.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int64("chat_id", job.ChatID).
		Logger()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	err := d.messenger.Send(sendCtx, job.ChatID, job.Text, job.Actions)
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		jobLog.Error().Err(err).Msg("notify: не удалось отправить уведомление")
	} else {
		metrics.Notifications.WithLabelValues("sent").Inc()
		jobLog.Debug().Msg("notify: уведомление отправлено")
	}
	if ackErr := ack(err == nil); ackErr != nil {
		jobLog.Error().Err(ackErr).Msg("notify: не удалось подтвердить задачу")
	}
}
