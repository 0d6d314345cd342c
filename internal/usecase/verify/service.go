package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/metrics"
)

// Значения подобраны под скорость отрисовки страницы видео: опрос раз в
// сотни миллисекунд, общий потолок ожидания порядка десяти секунд.
const (
	DefaultPollInterval = 800 * time.Millisecond
	DefaultWaitTimeout  = 10 * time.Second
)

// Service получает вердикты для всех комментариев одного видео, используя
// ровно один контекст страницы.
type Service struct {
	pages        domain.PageProvisioner
	log          zerolog.Logger
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewService создаёт оркестратор проверки. Нулевые интервалы заменяются
// значениями по умолчанию.
func NewService(pages domain.PageProvisioner, logger zerolog.Logger, pollInterval, waitTimeout time.Duration) *Service {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	return &Service{pages: pages, log: logger, pollInterval: pollInterval, waitTimeout: waitTimeout}
}

// VerifyVideo открывает страницу видео в фоне и сверяет комментарии со
// снимком. Превышение потолка ожидания — не ошибка: затронутые комментарии
// понижаются до неопределённого вердикта. Ошибка возвращается только если
// страницу не удалось открыть вовсе.
func (s *Service) VerifyVideo(ctx context.Context, videoID string, comments []domain.Comment) ([]domain.VerificationResult, error) {
	if len(comments) == 0 {
		return nil, nil
	}

	start := time.Now()
	session, err := s.pages.OpenBackground(ctx, videoID)
	metrics.ObserveNetworkRequest("browser", "open_page", videoID, start, err)
	if err != nil {
		return nil, fmt.Errorf("открытие страницы %s: %w", videoID, err)
	}
	// Страница закрывается всегда, в том числе после таймаута; контекст
	// вызова к этому моменту может быть уже отменён.
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			s.log.Error().Err(err).Str("video", videoID).Msg("verify: не удалось закрыть страницу")
		}
	}()

	deadline := time.Now().Add(s.waitTimeout)
	contacted := false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		loaded, err := session.CommentsLoaded(ctx)
		if err != nil {
			s.log.Debug().Err(err).Str("video", videoID).Msg("verify: страница ещё не отвечает")
		} else {
			contacted = true
			if loaded {
				snapshot, err := session.Snapshot(ctx)
				if err == nil {
					return MapVerificationResults(comments, snapshot), nil
				}
				s.log.Debug().Err(err).Str("video", videoID).Msg("verify: не удалось снять снимок")
			}
		}

		if !time.Now().Add(s.pollInterval).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	// Секция комментариев так и не загрузилась: «ещё не отрисовано»
	// неотличимо от «удалено», поэтому не угадываем.
	reason := domain.ReasonVerificationTimeout
	if contacted {
		reason = domain.ReasonCommentsNotLoaded
	}
	metrics.VerificationTimeoutsTotal.WithLabelValues(reason).Inc()
	s.log.Warn().Str("video", videoID).Str("reason", reason).Int("comments", len(comments)).Msg("verify: проверка не дала результата")

	results := make([]domain.VerificationResult, 0, len(comments))
	for _, c := range comments {
		results = append(results, domain.VerificationResult{ID: c.ID, Reason: reason})
	}
	return results, nil
}
