package domain

import (
	"context"
	"io"
	"time"
)

// PageFetcher загружает страницу выдачи площадки по городу и фильтру.
type PageFetcher interface {
	Fetch(ctx context.Context, city City, filter PageFilter) ([]byte, error)
}

// AdExtractor разбирает разметку страницы в объявления.
type AdExtractor interface {
	Extract(markup []byte, city City) ([]Ad, error)
}

// AdCatalog хранит все найденные объявления по ссылке.
type AdCatalog interface {
	Exists(ctx context.Context, link string) (bool, error)
	// ExistingLinks возвращает подмножество links, уже сохранённое в каталоге.
	ExistingLinks(ctx context.Context, links []string) (map[string]struct{}, error)
	// InsertIfAbsent сохраняет объявления, пропуская уже известные ссылки, и возвращает число вставленных.
	InsertIfAbsent(ctx context.Context, ads []Ad) (int, error)
}

// CatalogReader отдаёт каталог постранично.
type CatalogReader interface {
	ListAds(ctx context.Context, q AdQuery) (AdPage, error)
	ListNewAds(ctx context.Context, requesterID string, offset, limit int) ([]NewAdRecord, int, error)
}

// NewAdTracker хранит новые объявления в разрезе пользователя, запустившего цикл.
type NewAdTracker interface {
	Record(ctx context.Context, ads []Ad, requesterID string) (int, error)
}

// SubmissionRepo хранит пользовательские объявления.
type SubmissionRepo interface {
	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, id int64) (Submission, error)
	// TransitionSubmission атомарно переводит заявку из from в to.
	// Возвращает ErrInvalidTransition, если заявка уже не в состоянии from.
	TransitionSubmission(ctx context.Context, id int64, from, to SubmissionStatus, moderatorID int64, at time.Time) (Submission, error)
}

// ImageStore сохраняет файлы пользовательских объявлений.
type ImageStore interface {
	Save(ctx context.Context, name string, body io.Reader) (string, error)
	Remove(ctx context.Context, ref string) error
}

// InlineAction описывает кнопку под сообщением с callback-данными.
type InlineAction struct {
	Text string `json:"text"`
	Data string `json:"data,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Messenger отправляет сообщения в чат.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, actions []InlineAction) error
}

// Notifier сообщает пользователю о новых объявлениях.
type Notifier interface {
	NotifyNewAds(ctx context.Context, requesterID string, city City, newCount int)
}

// Cache используется для коротких TTL-блокировок.
type Cache interface {
	// Acquire занимает ключ на ttl и возвращает false, если он уже занят.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
