package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// Service ставит уведомления в очередь. Отправкой занимается Dispatcher.
type Service struct {
	queue domain.NotificationQueue
	log   zerolog.Logger
	now   func() time.Time
}

var _ domain.Notifier = (*Service)(nil)

// NewService создаёт сервис уведомлений.
func NewService(queue domain.NotificationQueue, log zerolog.Logger) *Service {
	return &Service{queue: queue, log: log, now: time.Now}
}

// NotifyNewAds сообщает пользователю о новых объявлениях в городе.
// Ничего не делает, если новых нет или requesterID не является идентификатором чата.
// Ошибки постановки в очередь только логируются.
func (s *Service) NotifyNewAds(ctx context.Context, requesterID string, city domain.City, newCount int) {
	if newCount <= 0 {
		return
	}
	chatID, ok := domain.ParseChatID(requesterID)
	if !ok {
		return
	}
	s.enqueue(ctx, domain.NotificationJob{
		Kind:   domain.NotificationNewAds,
		ChatID: chatID,
		Text:   domain.NewAdsText(city, newCount),
	})
}

// NotifyModeration сообщает автору заявки о решении модератора.
func (s *Service) NotifyModeration(ctx context.Context, submission domain.Submission) {
	chatID, ok := domain.ParseChatID(submission.RequesterID)
	if !ok {
		return
	}
	s.enqueue(ctx, domain.NotificationJob{
		Kind:   domain.NotificationModeration,
		ChatID: chatID,
		Text:   domain.ModerationResultText(submission),
	})
}

func (s *Service) enqueue(ctx context.Context, job domain.NotificationJob) {
	job.ID = uuid.NewString()
	job.EnqueuedAt = s.now().UTC()

	err := s.queue.Enqueue(ctx, job)
	if err == nil {
		metrics.Notifications.WithLabelValues("queued").Inc()
		return
	}
	status := "enqueue_failed"
	if errors.Is(err, domain.ErrQueueFull) {
		status = "dropped"
	}
	metrics.Notifications.WithLabelValues(status).Inc()
	s.log.Warn().Err(err).
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int64("chat_id", job.ChatID).
		Msg("notify: не удалось поставить уведомление в очередь")
}
