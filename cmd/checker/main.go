package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/adapters/browser"
	"yt-comment-keeper/internal/adapters/notify"
	"yt-comment-keeper/internal/adapters/repo"
	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/cache"
	"yt-comment-keeper/internal/infra/config"
	"yt-comment-keeper/internal/infra/db"
	applog "yt-comment-keeper/internal/infra/log"
	"yt-comment-keeper/internal/infra/metrics"
	"yt-comment-keeper/internal/usecase/checker"
	"yt-comment-keeper/internal/usecase/verify"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("checker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var cacheAdapter domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cacheAdapter = cache.NewRedis(redisClient)
	}

	var notifier domain.Notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("checker: не удалось создать бота")
		}
		notifier = notify.NewTelegram(botAPI, cfg.Telegram.ChatID, logger.With().Str("component", "notify").Logger())
	}

	pages := browser.NewChrome(cfg.Browser.ExecPath, cfg.Browser.WatchBaseURL)
	verifier := verify.NewService(pages, logger.With().Str("component", "verify").Logger(), cfg.Checker.PollInterval, cfg.Checker.WaitTimeout)
	checkerUC := checker.NewService(repoAdapter, repoAdapter, repoAdapter, verifier, notifier, cacheAdapter, logger.With().Str("component", "checker").Logger(), cfg.Checker.VideoPause)

	logger.Info().Msg("checker: запуск планировщика")
	runScheduler(ctx, logger, repoAdapter, checkerUC)
	logger.Info().Msg("checker: остановлен")
}

// runScheduler раз в минуту выясняет, пора ли запускать плановый цикл.
// Срок отсчитывается от итога последней проверки, включая ручные: ручной
// запуск сдвигает плановый.
func runScheduler(ctx context.Context, logger zerolog.Logger, store *repo.Postgres, checkerUC *checker.Service) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		settings, err := store.LoadSettings(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("checker: не удалось загрузить настройки")
			continue
		}
		settings = domain.NormalizeSettings(settings)
		if !settings.AutoCheckEnabled {
			continue
		}

		last, err := store.LastCheck(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("checker: не удалось получить итог последней проверки")
			continue
		}
		if last != nil && time.Since(last.CheckedAt) < settings.CheckInterval() {
			continue
		}

		summary, err := checkerUC.RunCycle(ctx, domain.TriggerScheduled)
		if errors.Is(err, checker.ErrAlreadyRunning) {
			logger.Debug().Msg("checker: цикл уже идёт, плановый запуск пропущен")
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("checker: плановый цикл завершился ошибкой")
			continue
		}
		logger.Info().
			Int("checked", summary.CheckedCount).
			Int("deleted", summary.DeletedCount).
			Int("unknown", summary.UnknownCount).
			Int("videos", summary.VideoCount).
			Msg("checker: плановый цикл завершён")
	}
}
