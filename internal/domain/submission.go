package domain

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// MaxSubmissionImages ограничивает число фотографий в пользовательском объявлении.
const MaxSubmissionImages = 5

// SubmissionStatus описывает состояние модерации.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Terminal сообщает, что из состояния нет переходов.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionApproved || s == SubmissionRejected
}

// CanTransition проверяет допустимость перехода.
func (s SubmissionStatus) CanTransition(to SubmissionStatus) bool {
	return s == SubmissionPending && to.Terminal()
}

// ModerationAction кодирует решение модератора.
type ModerationAction string

const (
	ActionApprove ModerationAction = "approve"
	ActionReject  ModerationAction = "reject"
)

// Target возвращает состояние, в которое переводит действие.
func (a ModerationAction) Target() (SubmissionStatus, bool) {
	switch a {
	case ActionApprove:
		return SubmissionApproved, true
	case ActionReject:
		return SubmissionRejected, true
	default:
		return "", false
	}
}

// CallbackData кодирует действие для inline-кнопки: approve_<id>.
func (a ModerationAction) CallbackData(submissionID int64) string {
	return fmt.Sprintf("%s_%d", a, submissionID)
}

// ParseModerationCallback разбирает callback вида approve_<id> или reject_<id>.
func ParseModerationCallback(data string) (ModerationAction, int64, bool) {
	action, rawID, found := strings.Cut(data, "_")
	if !found {
		return "", 0, false
	}
	a := ModerationAction(action)
	if _, ok := a.Target(); !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return a, id, true
}

// Submission хранит объявление пользователя и его статус модерации.
type Submission struct {
	ID           int64            `json:"id"`
	RequesterID  string           `json:"user_id"`
	Images       []string         `json:"images"`
	City         City             `json:"city"`
	Rooms        *int             `json:"rooms"`
	Price        int              `json:"price"`
	Address      string           `json:"address"`
	Description  string           `json:"description"`
	ContactPhone string           `json:"phone"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Status       SubmissionStatus `json:"status"`
	ReviewedBy   *int64           `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
}

// CatalogLink строит идентификатор одобренного объявления в общем каталоге.
func (s Submission) CatalogLink() string {
	return fmt.Sprintf("user_ad:%d", s.ID)
}

// ToAd переносит одобренную заявку в объявление каталога.
func (s Submission) ToAd() Ad {
	ad := Ad{
		Link:        s.CatalogLink(),
		Source:      SourceUser,
		City:        s.City,
		Price:       s.Price,
		Rooms:       s.Rooms,
		Address:     s.Address,
		Description: s.Description,
	}
	if strings.TrimSpace(ad.Description) == "" {
		ad.Description = DescriptionMissing
	}
	if len(s.Images) > 0 {
		image := s.Images[0]
		ad.Image = &image
	}
	return ad
}

// SubmissionInput содержит сырые поля формы подачи объявления.
type SubmissionInput struct {
	RequesterID string
	City        string
	Price       string
	Address     string
	Rooms       string
	Description string
	Phone       string
	Images      []ImageUpload
}

// ImageUpload описывает загруженный пользователем файл.
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

// Transition описывает результат успешной модерации.
type Transition struct {
	Submission Submission
	From       SubmissionStatus
	To         SubmissionStatus
}
