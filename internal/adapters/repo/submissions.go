package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

var _ domain.SubmissionRepo = (*Postgres)(nil)

const submissionColumns = `id, user_id, images, city, rooms, price, address, description, phone, submitted_at, status, reviewed_by, reviewed_at`

// CreateSubmission сохраняет заявку в статусе pending.
func (p *Postgres) CreateSubmission(ctx context.Context, s domain.Submission) (domain.Submission, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	images := s.Images
	if images == nil {
		images = []string{}
	}
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO user_ads (user_id, images, city, rooms, price, address, description, phone)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING `+submissionColumns,
		s.RequesterID, images, string(s.City), s.Rooms, s.Price, s.Address, s.Description, s.ContactPhone)
	created, err := scanSubmission(row)
	metrics.ObserveNetworkRequest("postgres", "user_ads_insert", "user_ads", start, err)
	if err != nil {
		return domain.Submission{}, &domain.StorageError{Op: "create submission", Err: err}
	}
	return created, nil
}

// GetSubmission возвращает заявку по идентификатору.
func (p *Postgres) GetSubmission(ctx context.Context, id int64) (domain.Submission, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	s, err := scanSubmission(p.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM user_ads WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "user_ads_get", "user_ads", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return domain.Submission{}, &domain.StorageError{Op: "get submission", Err: err}
	}
	return s, nil
}

// TransitionSubmission меняет статус одним условным UPDATE.
// Из двух конкурентных решений по одной заявке применяется только первое.
func (p *Postgres) TransitionSubmission(ctx context.Context, id int64, from, to domain.SubmissionStatus, moderatorID int64, at time.Time) (domain.Submission, error) {
	if !from.CanTransition(to) {
		return domain.Submission{}, domain.ErrInvalidTransition
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE user_ads SET status = $3, reviewed_by = $4, reviewed_at = $5
WHERE id = $1 AND status = $2
RETURNING `+submissionColumns,
		id, string(from), string(to), moderatorID, at)
	s, err := scanSubmission(row)
	metrics.ObserveNetworkRequest("postgres", "user_ads_transition", "user_ads", start, err)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, &domain.StorageError{Op: "transition submission", Err: err}
	}

	if _, getErr := p.GetSubmission(ctx, id); getErr != nil {
		return domain.Submission{}, getErr
	}
	return domain.Submission{}, domain.ErrInvalidTransition
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var (
		s      domain.Submission
		city   string
		status string
	)
	err := row.Scan(&s.ID, &s.RequesterID, &s.Images, &city, &s.Rooms, &s.Price, &s.Address, &s.Description,
		&s.ContactPhone, &s.SubmittedAt, &status, &s.ReviewedBy, &s.ReviewedAt)
	s.City = domain.City(city)
	s.Status = domain.SubmissionStatus(status)
	return s, err
}
