package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	IngestCycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_cycle_seconds",
		Help:    "Длительность цикла сбора объявлений",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180},
	})
	AdsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_extracted_total",
		Help: "Объявления, разобранные со страниц выдачи",
	}, []string{"city"})
	AdsNew = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ads_new_total",
		Help: "Объявления, которых не было в каталоге на начало цикла",
	}, []string{"city"})
	CandidatesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ad_candidates_dropped_total",
		Help: "Кандидаты, отброшенные из-за отсутствия обязательного поля",
	}, []string{"field"})
	IngestCityErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_city_errors_total",
		Help: "Ошибки обработки города в цикле сбора",
	}, []string{"city", "kind"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Уведомления по статусу доставки",
	}, []string{"status"})

	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "submissions_total",
		Help: "Пользовательские объявления по результату приёма",
	}, []string{"result"})
	ModerationTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_transitions_total",
		Help: "Действия модератора по результату",
	}, []string{"action", "result"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		IngestCycleSeconds,
		AdsExtracted,
		AdsNew,
		CandidatesDropped,
		IngestCityErrors,
		Notifications,
		Submissions,
		ModerationTransitions,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
