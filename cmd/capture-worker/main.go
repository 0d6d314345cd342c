package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/adapters/repo"
	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/cache"
	"yt-comment-keeper/internal/infra/config"
	"yt-comment-keeper/internal/infra/db"
	applog "yt-comment-keeper/internal/infra/log"
	"yt-comment-keeper/internal/infra/metrics"
	"yt-comment-keeper/internal/infra/queue"
	"yt-comment-keeper/internal/usecase/capture"
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
		logger.Fatal().Err(err).Msg("capture-worker: нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	var cacheAdapter domain.Cache
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cacheAdapter = cache.NewRedis(redisClient)
	}

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("capture-worker: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	captureQueue, err := queue.NewRabbitCaptureQueue(cfg.RabbitURL, cfg.Queues.Capture)
	if err != nil {
		logger.Fatal().Err(err).Msg("capture-worker: не удалось инициализировать очередь RabbitMQ")
	}
	defer captureQueue.Close()

	captureUC := capture.NewService(repoAdapter, cacheAdapter, logger.With().Str("component", "capture").Logger(), cfg.Capture.SuppressionWindow)

	worker := &captureWorker{
		log:     logger,
		queue:   captureQueue,
		service: captureUC,
	}

	logger.Info().Msg("capture-worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("capture-worker: остановлен")
}

type captureWorker struct {
	log     zerolog.Logger
	queue   domain.CaptureQueue
	service *capture.Service
}

func (w *captureWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("capture-worker: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("video_id", job.VideoID).
			Logger()

		comment, saved, err := w.service.Capture(ctx, job)
		if errors.Is(err, capture.ErrEmptyCapture) {
			jobLog.Warn().Msg("capture-worker: пустое событие, подтверждаем и пропускаем")
			if ackErr := ack(true); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("capture-worker: не удалось подтвердить пустое событие")
			}
			continue
		}
		if err != nil {
			jobLog.Error().Err(err).Msg("capture-worker: не удалось сохранить комментарий, вернём в очередь")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("capture-worker: не удалось вернуть событие в очередь")
			}
			time.Sleep(time.Second)
			continue
		}

		if saved {
			metrics.CapturedTotal.Inc()
			jobLog.Info().Str("comment_id", comment.ID).Msg("capture-worker: комментарий сохранён")
		} else {
			metrics.CaptureSuppressedTotal.Inc()
			jobLog.Debug().Msg("capture-worker: дубликат в окне подавления, пропущен")
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("capture-worker: не удалось подтвердить событие")
		}
	}
}
