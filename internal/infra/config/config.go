package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token      string `envconfig:"TELEGRAM_TOKEN"`
		AdminID    int64  `envconfig:"ADMIN_ID"`
		WebhookURL string `envconfig:"WEBHOOK_URL"`
		WebAppURL  string `envconfig:"WEBAPP_URL"`
		WebAppAuth bool   `envconfig:"WEBAPP_AUTH_REQUIRED" default:"false"`
	} `envconfig:""`

	PGDSN     string `envconfig:"PG_DSN"`
	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Kufar struct {
		BaseURL     string        `envconfig:"KUFAR_BASE_URL" default:"https://re.kufar.by"`
		UserAgent   string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"`
		Timeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"15s"`
		Concurrency int           `envconfig:"FETCH_CONCURRENCY" default:"3"`
	} `envconfig:""`

	Ingest struct {
		IntervalMinutes int           `envconfig:"PARSE_INTERVAL" default:"5"`
		RunOnStart      bool          `envconfig:"PARSE_ON_START" default:"true"`
		ManualCooldown  time.Duration `envconfig:"MANUAL_FETCH_COOLDOWN" default:"1m"`
	} `envconfig:""`

	Notify struct {
		Backend  string `envconfig:"NOTIFY_QUEUE" default:"memory"`
		QueueKey string `envconfig:"NOTIFY_QUEUE_KEY" default:"notifications"`
		Workers  int    `envconfig:"NOTIFY_WORKERS" default:"4"`
		Buffer   int    `envconfig:"NOTIFY_BUFFER" default:"256"`
	} `envconfig:""`

	UploadFolder string `envconfig:"UPLOAD_FOLDER" default:"uploads"`
	// PageSize задаёт размер страницы каталога в /api/ads.
	PageSize int `envconfig:"KUFAR_LIMIT" default:"7"`
}

// ParseInterval возвращает период запуска планировщика.
func (c AppConfig) ParseInterval() time.Duration {
	if c.Ingest.IntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Ingest.IntervalMinutes) * time.Minute
}

// Load загружает конфиг из .env и окружения.
func Load() AppConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("не удалось прочитать .env: %v", err)
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
