package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/metrics"
)

// Service выполняет цикл сбора: загрузка, разбор, дедупликация, сохранение, уведомление.
type Service struct {
	fetcher     domain.PageFetcher
	extractor   domain.AdExtractor
	catalog     domain.AdCatalog
	tracker     domain.NewAdTracker
	notifier    domain.Notifier
	concurrency int
	log         zerolog.Logger
	now         func() time.Time
}

// NewService создаёт сервис сбора. concurrency ограничивает число городов, обрабатываемых одновременно.
func NewService(fetcher domain.PageFetcher, extractor domain.AdExtractor, catalog domain.AdCatalog, tracker domain.NewAdTracker, notifier domain.Notifier, concurrency int, log zerolog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		fetcher:     fetcher,
		extractor:   extractor,
		catalog:     catalog,
		tracker:     tracker,
		notifier:    notifier,
		concurrency: concurrency,
		log:         log,
		now:         time.Now,
	}
}

// RunCycle обходит города фильтра. Ошибка одного города не прерывает остальные
// и попадает в отчёт.
func (s *Service) RunCycle(ctx context.Context, filter domain.IngestFilter) domain.CycleReport {
	filter.RequesterID = domain.NormalizeRequester(filter.RequesterID)
	cities := filter.Scope()
	report := domain.CycleReport{
		RequesterID: filter.RequesterID,
		StartedAt:   s.now(),
		Cities:      make([]domain.CityResult, len(cities)),
	}

	log := s.log.With().Str("requester", filter.RequesterID).Logger()
	log.Info().Int("cities", len(cities)).Msg("ingest: цикл запущен")

	page := filter.Page()
	g := &errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i, city := range cities {
		g.Go(func() error {
			report.Cities[i] = s.processCity(ctx, city, page, filter.RequesterID, log)
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = s.now().Sub(report.StartedAt)
	metrics.IngestCycleSeconds.Observe(report.Duration.Seconds())
	log.Info().
		Dur("duration", report.Duration).
		Int("new", report.NewTotal()).
		Int("failed", len(report.Failed())).
		Msg("ingest: цикл завершён")
	return report
}

func (s *Service) processCity(ctx context.Context, city domain.City, page domain.PageFilter, requesterID string, log zerolog.Logger) domain.CityResult {
	result := domain.CityResult{City: city}
	cityLog := log.With().Str("city", string(city)).Logger()

	fail := func(kind string, err error) domain.CityResult {
		result.Err = err
		metrics.IngestCityErrors.WithLabelValues(string(city), kind).Inc()
		cityLog.Error().Err(err).Str("kind", kind).Msg("ingest: город пропущен")
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}

	markup, err := s.fetcher.Fetch(ctx, city, page)
	if err != nil {
		return fail("fetch", err)
	}
	ads, err := s.extractor.Extract(markup, city)
	if err != nil {
		return fail("extract", fmt.Errorf("extract %s: %w", city, err))
	}
	ads = persistable(ads)
	result.Extracted = len(ads)
	metrics.AdsExtracted.WithLabelValues(string(city)).Add(float64(len(ads)))
	if len(ads) == 0 {
		cityLog.Debug().Msg("ingest: на странице нет объявлений")
		return result
	}

	existing, err := s.catalog.ExistingLinks(ctx, domain.Links(ads))
	if err != nil {
		return fail(storageKind(err), err)
	}
	part := domain.Partition(ads, existing)
	result.New = len(part.New)
	if len(part.New) == 0 {
		cityLog.Debug().Int("extracted", result.Extracted).Msg("ingest: новых объявлений нет")
		return result
	}

	inserted, err := s.catalog.InsertIfAbsent(ctx, part.New)
	result.Inserted = inserted
	if err != nil {
		return fail(storageKind(err), err)
	}
	if _, err := s.tracker.Record(ctx, part.New, requesterID); err != nil {
		return fail(storageKind(err), err)
	}
	metrics.AdsNew.WithLabelValues(string(city)).Add(float64(len(part.New)))

	s.notifier.NotifyNewAds(ctx, requesterID, city, len(part.New))

	cityLog.Info().
		Int("extracted", result.Extracted).
		Int("new", result.New).
		Int("inserted", result.Inserted).
		Msg("ingest: город обработан")
	return result
}

func persistable(ads []domain.Ad) []domain.Ad {
	out := ads[:0:0]
	for _, ad := range ads {
		if ad.Persistable() {
			out = append(out, ad)
		}
	}
	return out
}

func storageKind(err error) string {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return "storage"
	}
	return "unknown"
}
