package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
)

// Runner выполняет один цикл сбора.
type Runner interface {
	RunCycle(ctx context.Context, filter domain.IngestFilter) domain.CycleReport
}

// Scheduler запускает анонимный цикл сбора по всем городам с фиксированным периодом.
// Новый запуск пропускается, пока предыдущий не завершился.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      zerolog.Logger
	cron     *cron.Cron

	initial sync.WaitGroup
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler создаёт планировщик.
func NewScheduler(runner Runner, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
	}
}

// Start регистрирует задачу и запускает cron. При runOnStart первый цикл стартует сразу.
// Отмена ctx не прерывает идущий цикл: циклы останавливает только Stop.
func (s *Scheduler) Start(ctx context.Context, runOnStart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log})).Then(cron.FuncJob(s.tick))
	if _, err := s.cron.AddJob("@every "+s.interval.String(), job); err != nil {
		s.cancel()
		return fmt.Errorf("register ingest job: %w", err)
	}
	s.cron.Start()
	s.started = true
	s.log.Info().Dur("interval", s.interval).Msg("ingest: планировщик запущен")

	if runOnStart {
		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			job.Run()
		}()
	}
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего цикла или отмены ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	cronDone := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.initial.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		s.log.Info().Msg("ingest: планировщик остановлен")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	report := s.runner.RunCycle(s.ctx, domain.IngestFilter{RequesterID: domain.RequesterAnonymous})
	if failed := report.Failed(); len(failed) > 0 {
		s.log.Warn().Int("failed", len(failed)).Msg("ingest: часть городов не обработана")
	}
}

// cronLogger пишет события cron в zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
