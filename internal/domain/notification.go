package domain

import (
	"context"
	"fmt"
	"time"
)

// NotificationKind описывает повод уведомления.
type NotificationKind string

const (
	// NotificationNewAds: в запуске пользователя нашлись новые объявления.
	NotificationNewAds NotificationKind = "new_ads"
	// NotificationModeration: модератор принял решение по заявке.
	NotificationModeration NotificationKind = "moderation"
)

// NotificationJob описывает задачу на отправку сообщения.
type NotificationJob struct {
	ID         string           `json:"job_id"`
	Kind       NotificationKind `json:"kind"`
	ChatID     int64            `json:"chat_id"`
	Text       string           `json:"text"`
	Actions    []InlineAction   `json:"actions,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

// NotificationQueue передаёт задачи на отправку.
type NotificationQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	Receive(ctx context.Context) (NotificationJob, AckFunc, error)
}

// AckFunc подтверждает обработку задачи. Повторная доставка не выполняется.
type AckFunc func(success bool) error

// NewAdsText формирует текст уведомления о новых объявлениях.
func NewAdsText(city City, count int) string {
	return fmt.Sprintf("Появилось %d новых объявлений в %s!", count, city.Title())
}

// ModerationResultText формирует текст для автора заявки.
func ModerationResultText(s Submission) string {
	switch s.Status {
	case SubmissionApproved:
		return fmt.Sprintf("Ваше объявление (ID: %d) одобрено и опубликовано.", s.ID)
	case SubmissionRejected:
		return fmt.Sprintf("Ваше объявление (ID: %d) отклонено модератором.", s.ID)
	default:
		return fmt.Sprintf("Ваше объявление (ID: %d) на модерации.", s.ID)
	}
}

// ModeratorAlertText формирует сообщение модератору о новой заявке.
func ModeratorAlertText(s Submission) string {
	return fmt.Sprintf("Новое объявление на модерацию (ID: %d)\nГород: %s\nЦена: %d USD\nАдрес: %s",
		s.ID, s.City.Title(), s.Price, s.Address)
}

// ModeratorActions возвращает кнопки одобрения и отклонения заявки.
func ModeratorActions(submissionID int64) []InlineAction {
	return []InlineAction{
		{Text: "Одобрить", Data: ActionApprove.CallbackData(submissionID)},
		{Text: "Отклонить", Data: ActionReject.CallbackData(submissionID)},
	}
}
