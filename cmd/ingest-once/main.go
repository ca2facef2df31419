package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/gettixvp/newtg/internal/adapters/kufar"
	"github.com/gettixvp/newtg/internal/adapters/repo"
	"github.com/gettixvp/newtg/internal/adapters/telegram"
	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/config"
	"github.com/gettixvp/newtg/internal/infra/db"
	"github.com/gettixvp/newtg/internal/infra/queue"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
	"github.com/gettixvp/newtg/internal/usecase/notify"
)

func main() {
	var (
		cityName    string
		requesterID string
		filter      domain.IngestFilter
	)
	flag.StringVar(&cityName, "city", "", "City code (minsk, brest, ...); empty means all cities")
	flag.StringVar(&requesterID, "user", "", "Requester id; numeric ids receive a Telegram notification")
	flag.Func("min-price", "Lower price bound in USD", optionalInt(&filter.MinPrice))
	flag.Func("max-price", "Upper price bound in USD", optionalInt(&filter.MaxPrice))
	flag.Func("rooms", "Number of rooms", optionalInt(&filter.Rooms))
	flag.Parse()

	filter.RequesterID = requesterID
	if cityName != "" {
		city, ok := domain.ParseCity(cityName)
		if !ok {
			log.Fatal().Str("city", cityName).Msg("ingest-once: unknown city")
		}
		filter.City = &city
	}

	cfg := config.Load()
	if cfg.PGDSN == "" {
		log.Fatal().Msg("ingest-once: PG_DSN environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest-once: failed to connect to database")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("ingest-once: failed to apply schema")
	}

	fetcher, err := kufar.NewFetcher(kufar.FetcherConfig{
		BaseURL:     cfg.Kufar.BaseURL,
		UserAgent:   cfg.Kufar.UserAgent,
		Timeout:     cfg.Kufar.Timeout,
		MaxInFlight: cfg.Kufar.Concurrency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("ingest-once: invalid fetcher config")
	}
	extractor, err := kufar.NewExtractor(cfg.Kufar.BaseURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("ingest-once: invalid extractor config")
	}

	notifyQueue := queue.NewMemoryQueue(cfg.Notify.Buffer)
	var dispatcher *notify.Dispatcher
	if cfg.Telegram.Token != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("ingest-once: failed to create bot")
		}
		dispatcher = notify.NewDispatcher(notifyQueue, telegram.NewMessenger(botAPI), 1, log.Logger)
		dispatcher.Start(ctx)
	}

	service := ingest.NewService(fetcher, extractor, repoAdapter, repoAdapter, notify.NewService(notifyQueue, log.Logger), cfg.Kufar.Concurrency, log.Logger)
	report := service.RunCycle(ctx, filter)

	// Close даёт диспетчеру дочитать очередь и завершиться.
	_ = notifyQueue.Close()
	if dispatcher != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := dispatcher.Stop(drainCtx); err != nil {
			log.Warn().Err(err).Msg("ingest-once: not all notifications were sent")
		}
		cancel()
	}

	fmt.Printf("Cycle for %s finished in %s\n", report.RequesterID, report.Duration.Round(time.Millisecond))
	for _, res := range report.Cities {
		if res.Err != nil {
			fmt.Printf("  %-8s error: %v\n", res.City, res.Err)
			continue
		}
		fmt.Printf("  %-8s extracted=%d new=%d inserted=%d\n", res.City, res.Extracted, res.New, res.Inserted)
	}
	if len(report.Failed()) == len(report.Cities) && len(report.Cities) > 0 {
		os.Exit(1)
	}
}

func optionalInt(dst **int) func(string) error {
	return func(raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		*dst = &n
		return nil
	}
}
