package submissions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// ModerationNotifier сообщает автору о решении.
type ModerationNotifier interface {
	NotifyModeration(ctx context.Context, submission domain.Submission)
}

var allowedImageExt = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

// Service принимает пользовательские объявления и проводит их модерацию.
type Service struct {
	repo      domain.SubmissionRepo
	images    domain.ImageStore
	catalog   domain.AdCatalog
	messenger domain.Messenger
	notifier  ModerationNotifier
	adminID   int64
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис заявок. adminID задаёт чат единственного модератора.
func NewService(repo domain.SubmissionRepo, images domain.ImageStore, catalog domain.AdCatalog, messenger domain.Messenger, notifier ModerationNotifier, adminID int64, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		images:    images,
		catalog:   catalog,
		messenger: messenger,
		notifier:  notifier,
		adminID:   adminID,
		log:       log,
		now:       time.Now,
	}
}

// Submit проверяет форму, сохраняет изображения и заявку, затем уведомляет модератора.
func (s *Service) Submit(ctx context.Context, in domain.SubmissionInput) (domain.Submission, error) {
	sub, err := parseInput(in)
	if err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return domain.Submission{}, err
	}

	refs, err := s.saveImages(ctx, in.Images)
	if err != nil {
		metrics.Submissions.WithLabelValues("error").Inc()
		return domain.Submission{}, err
	}
	sub.Images = refs

	created, err := s.repo.CreateSubmission(ctx, sub)
	if err != nil {
		s.removeImages(refs)
		metrics.Submissions.WithLabelValues("error").Inc()
		return domain.Submission{}, fmt.Errorf("create submission: %w", err)
	}
	metrics.Submissions.WithLabelValues("accepted").Inc()

	log := s.log.With().Int64("submission_id", created.ID).Str("requester", created.RequesterID).Logger()
	log.Info().Int("images", len(refs)).Msg("submissions: заявка принята")

	if s.adminID != 0 {
		if err := s.messenger.Send(ctx, s.adminID, domain.ModeratorAlertText(created), domain.ModeratorActions(created.ID)); err != nil {
			log.Error().Err(err).Msg("submissions: не удалось уведомить модератора")
		}
	}
	return created, nil
}

// Moderate применяет решение модератора. Повторное решение по той же заявке
// возвращает ErrInvalidTransition.
func (s *Service) Moderate(ctx context.Context, moderatorID int64, action domain.ModerationAction, submissionID int64) (domain.Transition, error) {
	if s.adminID == 0 || moderatorID != s.adminID {
		metrics.ModerationTransitions.WithLabelValues(string(action), "forbidden").Inc()
		return domain.Transition{}, domain.ErrNotModerator
	}
	target, ok := action.Target()
	if !ok {
		return domain.Transition{}, fmt.Errorf("unknown action %q: %w", action, domain.ErrInvalidTransition)
	}

	updated, err := s.repo.TransitionSubmission(ctx, submissionID, domain.SubmissionPending, target, moderatorID, s.now().UTC())
	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, domain.ErrInvalidTransition):
			result = "already_reviewed"
		case errors.Is(err, domain.ErrSubmissionNotFound):
			result = "not_found"
		}
		metrics.ModerationTransitions.WithLabelValues(string(action), result).Inc()
		return domain.Transition{}, err
	}
	metrics.ModerationTransitions.WithLabelValues(string(action), "applied").Inc()

	log := s.log.With().Int64("submission_id", updated.ID).Str("status", string(updated.Status)).Logger()
	log.Info().Int64("moderator", moderatorID).Msg("submissions: решение применено")

	if updated.Status == domain.SubmissionApproved {
		if _, err := s.catalog.InsertIfAbsent(ctx, []domain.Ad{updated.ToAd()}); err != nil {
			log.Error().Err(err).Msg("submissions: не удалось опубликовать объявление в каталоге")
		}
	}
	s.notifier.NotifyModeration(ctx, updated)

	return domain.Transition{Submission: updated, From: domain.SubmissionPending, To: target}, nil
}

func parseInput(in domain.SubmissionInput) (domain.Submission, error) {
	requesterID := strings.TrimSpace(in.RequesterID)
	if requesterID == "" {
		return domain.Submission{}, &domain.ValidationError{Field: "user_id", Reason: "required"}
	}
	city, ok := domain.ParseCity(in.City)
	if !ok {
		return domain.Submission{}, &domain.ValidationError{Field: "city", Reason: "unsupported city"}
	}
	rawPrice := strings.TrimSpace(in.Price)
	if rawPrice == "" {
		return domain.Submission{}, &domain.ValidationError{Field: "price", Reason: "required"}
	}
	price, err := strconv.Atoi(rawPrice)
	if err != nil {
		return domain.Submission{}, &domain.ValidationError{Field: "price", Reason: "must be an integer"}
	}
	if price <= 0 {
		return domain.Submission{}, &domain.ValidationError{Field: "price", Reason: "must be positive"}
	}
	address := strings.TrimSpace(in.Address)
	if address == "" {
		return domain.Submission{}, &domain.ValidationError{Field: "address", Reason: "required"}
	}

	var rooms *int
	if raw := strings.TrimSpace(in.Rooms); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return domain.Submission{}, &domain.ValidationError{Field: "rooms", Reason: "must be a non-negative integer"}
		}
		rooms = &n
	}

	return domain.Submission{
		RequesterID:  requesterID,
		City:         city,
		Rooms:        rooms,
		Price:        price,
		Address:      address,
		Description:  strings.TrimSpace(in.Description),
		ContactPhone: strings.TrimSpace(in.Phone),
		Status:       domain.SubmissionPending,
	}, nil
}

// saveImages сохраняет не больше MaxSubmissionImages файлов из начала списка,
// пропуская файлы с неподдерживаемым расширением.
func (s *Service) saveImages(ctx context.Context, uploads []domain.ImageUpload) ([]string, error) {
	if len(uploads) > domain.MaxSubmissionImages {
		uploads = uploads[:domain.MaxSubmissionImages]
	}
	refs := make([]string, 0, len(uploads))
	for _, up := range uploads {
		if !AllowedImage(up.Filename) {
			s.log.Debug().Str("file", up.Filename).Msg("submissions: файл пропущен")
			continue
		}
		ref, err := s.images.Save(ctx, up.Filename, up.Body)
		if err != nil {
			s.removeImages(refs)
			return nil, fmt.Errorf("save image: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Service) removeImages(refs []string) {
	for _, ref := range refs {
		if err := s.images.Remove(context.Background(), ref); err != nil {
			s.log.Warn().Err(err).Str("ref", ref).Msg("submissions: не удалось удалить файл")
		}
	}
}

// AllowedImage проверяет расширение файла без учёта регистра.
func AllowedImage(name string) bool {
	_, ok := allowedImageExt[strings.ToLower(filepath.Ext(name))]
	return ok
}
