package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	apiadapter "yt-comment-keeper/internal/adapters/api"
	"yt-comment-keeper/internal/adapters/browser"
	"yt-comment-keeper/internal/adapters/repo"
	"yt-comment-keeper/internal/infra/cache"
	"yt-comment-keeper/internal/infra/config"
	"yt-comment-keeper/internal/infra/db"
	httpinfra "yt-comment-keeper/internal/infra/http"
	applog "yt-comment-keeper/internal/infra/log"
	"yt-comment-keeper/internal/infra/metrics"
	"yt-comment-keeper/internal/infra/queue"
	"yt-comment-keeper/internal/usecase/capture"
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
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("api: не указан адрес Redis (REDIS_ADDR)")
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cacheAdapter := cache.NewRedis(redisClient)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("api: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	captureQueue, err := queue.NewRabbitCaptureQueue(cfg.RabbitURL, cfg.Queues.Capture)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
	}
	defer captureQueue.Close()

	pages := browser.NewChrome(cfg.Browser.ExecPath, cfg.Browser.WatchBaseURL)
	verifier := verify.NewService(pages, logger.With().Str("component", "verify").Logger(), cfg.Checker.PollInterval, cfg.Checker.WaitTimeout)
	checkerUC := checker.NewService(repoAdapter, repoAdapter, repoAdapter, verifier, nil, cacheAdapter, logger.With().Str("component", "checker").Logger(), cfg.Checker.VideoPause)
	captureUC := capture.NewService(repoAdapter, cacheAdapter, logger.With().Str("component", "capture").Logger(), cfg.Capture.SuppressionWindow)

	handler := apiadapter.NewHandler(repoAdapter, repoAdapter, repoAdapter, captureQueue, captureUC, checkerUC, logger.With().Str("component", "api").Logger())

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Register(srv.Router)

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
