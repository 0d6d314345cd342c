package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Capture string `envconfig:"CAPTURE_QUEUE_KEY" default:"capture_jobs"`
	} `envconfig:""`

	Browser struct {
		// Путь к бинарю Chrome/Chromium для фоновых страниц.
		ExecPath string `envconfig:"BROWSER_EXEC_PATH" default:"/usr/bin/chromium-browser"`
		// Базовый адрес страниц видео; переопределяется в тестах.
		WatchBaseURL string `envconfig:"WATCH_BASE_URL" default:"https://www.youtube.com/watch"`
	} `envconfig:""`

	Checker struct {
		PollInterval time.Duration `envconfig:"CHECK_POLL_INTERVAL" default:"800ms"`
		WaitTimeout  time.Duration `envconfig:"CHECK_WAIT_TIMEOUT" default:"10s"`
		VideoPause   time.Duration `envconfig:"CHECK_VIDEO_PAUSE" default:"1s"`
	} `envconfig:""`

	Capture struct {
		SuppressionWindow time.Duration `envconfig:"CAPTURE_SUPPRESSION_WINDOW" default:"2s"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_NOTIFY_CHAT_ID"`
	} `envconfig:""`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
