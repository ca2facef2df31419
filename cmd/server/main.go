package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gettixvp/newtg/internal/adapters/api"
	"github.com/gettixvp/newtg/internal/adapters/bot"
	"github.com/gettixvp/newtg/internal/adapters/kufar"
	"github.com/gettixvp/newtg/internal/adapters/repo"
	"github.com/gettixvp/newtg/internal/adapters/storage"
	"github.com/gettixvp/newtg/internal/adapters/telegram"
	"github.com/gettixvp/newtg/internal/domain"
	"github.com/gettixvp/newtg/internal/infra/cache"
	"github.com/gettixvp/newtg/internal/infra/config"
	"github.com/gettixvp/newtg/internal/infra/db"
	httpinfra "github.com/gettixvp/newtg/internal/infra/http"
	applog "github.com/gettixvp/newtg/internal/infra/log"
	"github.com/gettixvp/newtg/internal/infra/metrics"
	"github.com/gettixvp/newtg/internal/infra/queue"
	"github.com/gettixvp/newtg/internal/usecase/ingest"
	"github.com/gettixvp/newtg/internal/usecase/notify"
	"github.com/gettixvp/newtg/internal/usecase/submissions"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("server: не указан адрес БД (PG_DSN)")
	}
	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("server: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server: не удалось применить схему БД")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	var cooldowns domain.Cache = cache.NewMemory()
	if redisClient != nil {
		cooldowns = cache.NewRedis(redisClient, "newtg:")
	}

	notifyQueue, closeQueue := openQueue(cfg, redisClient, logger)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("server: не указан токен Telegram (TELEGRAM_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("server: не удалось создать бота")
	}
	messenger := telegram.NewMessenger(botAPI)

	fetcher, err := kufar.NewFetcher(kufar.FetcherConfig{
		BaseURL:     cfg.Kufar.BaseURL,
		UserAgent:   cfg.Kufar.UserAgent,
		Timeout:     cfg.Kufar.Timeout,
		MaxInFlight: cfg.Kufar.Concurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("server: некорректная конфигурация площадки")
	}
	extractor, err := kufar.NewExtractor(cfg.Kufar.BaseURL, logger.With().Str("component", "extractor").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("server: некорректная конфигурация площадки")
	}

	notifier := notify.NewService(notifyQueue, logger.With().Str("component", "notify").Logger())
	dispatcher := notify.NewDispatcher(notifyQueue, messenger, cfg.Notify.Workers, logger.With().Str("component", "dispatcher").Logger())
	dispatcher.Start(ctx)

	ingestLog := logger.With().Str("component", "ingest").Logger()
	ingestService := ingest.NewService(fetcher, extractor, repoAdapter, repoAdapter, notifier, cfg.Kufar.Concurrency, ingestLog)
	scheduler := ingest.NewScheduler(ingestService, cfg.ParseInterval(), ingestLog)
	trigger := ingest.NewTrigger(ingestService, cooldowns, cfg.Ingest.ManualCooldown, ingestLog)

	images, err := storage.NewDisk(cfg.UploadFolder, strings.Trim(cfg.UploadFolder, "/"))
	if err != nil {
		logger.Fatal().Err(err).Msg("server: не удалось подготовить каталог загрузок")
	}
	submissionService := submissions.NewService(repoAdapter, images, repoAdapter, messenger, notifier, cfg.Telegram.AdminID, logger.With().Str("component", "submissions").Logger())

	botHandler := bot.NewHandler(messenger, submissionService, trigger, cfg.Telegram.WebAppURL, logger.With().Str("component", "bot").Logger())
	apiHandler := api.NewHandler(repoAdapter, submissionService, trigger, cfg.PageSize, logger.With().Str("component", "api").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	apiHandler.Mount(server.Router, httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token, cfg.Telegram.WebAppAuth))
	server.Router.Post("/webhook", webhookHandler(botHandler, logger))
	uploadsPrefix := "/" + strings.Trim(cfg.UploadFolder, "/")
	server.Router.Handle(uploadsPrefix+"/*", http.StripPrefix(uploadsPrefix+"/", http.FileServer(http.Dir(images.Dir()))))

	if cfg.Telegram.WebhookURL != "" {
		registerWebhook(botAPI, cfg.Telegram.WebhookURL, logger)
	}

	if err := scheduler.Start(ctx, cfg.Ingest.RunOnStart); err != nil {
		logger.Fatal().Err(err).Msg("server: не удалось запустить планировщик")
	}

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("server: http сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server: остановка")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server: цикл сбора прерван по таймауту остановки")
	}
	if err := trigger.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server: ручной сбор прерван по таймауту остановки")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server: http сервер не завершился вовремя")
	}
	if err := closeQueue(); err != nil {
		logger.Warn().Err(err).Msg("server: ошибка закрытия очереди")
	}
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := dispatcher.Stop(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("server: часть уведомлений не отправлена")
	}
	logger.Info().Msg("server: остановлен")
}

// openQueue выбирает очередь уведомлений по NOTIFY_QUEUE.
func openQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) (domain.NotificationQueue, func() error) {
	switch cfg.Notify.Backend {
	case "redis":
		if redisClient == nil {
			logger.Fatal().Msg("server: для очереди redis нужен REDIS_ADDR")
		}
		q := queue.NewRedisQueue(redisClient, cfg.Notify.QueueKey)
		return q, q.Close
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("server: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitQueue(cfg.RabbitURL, cfg.Notify.QueueKey, cfg.Notify.Workers)
		if err != nil {
			logger.Fatal().Err(err).Msg("server: не удалось инициализировать очередь RabbitMQ")
		}
		return q, q.Close
	case "", "memory":
		q := queue.NewMemoryQueue(cfg.Notify.Buffer)
		return q, q.Close
	default:
		logger.Fatal().Str("backend", cfg.Notify.Backend).Msg("server: неизвестный тип очереди")
		return nil, nil
	}
}

func webhookHandler(h *bot.Handler, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var upd tgbotapi.Update
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&upd); err != nil {
			logger.Warn().Err(err).Msg("server: некорректный апдейт")
			httpinfra.WriteError(w, http.StatusBadRequest, err)
			return
		}
		h.HandleUpdate(r.Context(), upd)
		httpinfra.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func registerWebhook(botAPI *tgbotapi.BotAPI, url string, logger zerolog.Logger) {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		logger.Error().Err(err).Msg("server: некорректный WEBHOOK_URL")
		return
	}
	if _, err := botAPI.Request(wh); err != nil {
		logger.Error().Err(err).Msg("server: не удалось установить вебхук")
		return
	}
	logger.Info().Str("url", url).Msg("server: вебхук установлен")
}
