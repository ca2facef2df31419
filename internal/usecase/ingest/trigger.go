package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/domain"
)

// ErrCooldown возвращается, если пользователь запускал сбор совсем недавно.
var ErrCooldown = errors.New("manual fetch is on cooldown")

// Trigger запускает внеплановый цикл сбора в фоне.
type Trigger struct {
	runner   Runner
	cache    domain.Cache
	cooldown time.Duration
	log      zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrigger создаёт запускатель. Циклы не зависят от контекста запроса
// и отменяются только в Stop по истечении его срока.
func NewTrigger(runner Runner, cache domain.Cache, cooldown time.Duration, log zerolog.Logger) *Trigger {
	base, cancel := context.WithCancel(context.Background())
	return &Trigger{runner: runner, cache: cache, cooldown: cooldown, log: log, base: base, cancel: cancel}
}

// Request ставит цикл в работу и сразу возвращается.
func (t *Trigger) Request(ctx context.Context, filter domain.IngestFilter) error {
	filter.RequesterID = domain.NormalizeRequester(filter.RequesterID)
	if t.cache != nil && t.cooldown > 0 {
		ok, err := t.cache.Acquire(ctx, "fetch:"+filter.RequesterID, t.cooldown)
		if err != nil {
			t.log.Warn().Err(err).Msg("ingest: кэш недоступен, пропускаем проверку частоты")
		} else if !ok {
			return ErrCooldown
		}
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		report := t.runner.RunCycle(t.base, filter)
		t.log.Debug().
			Str("requester", report.RequesterID).
			Int("new", report.NewTotal()).
			Msg("ingest: ручной запуск завершён")
	}()
	return nil
}

// Stop дожидается фоновых циклов. Если ctx истёк раньше, циклы отменяются.
func (t *Trigger) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		return ctx.Err()
	}
}
