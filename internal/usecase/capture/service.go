package capture

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
)

// ErrEmptyCapture возвращается для события без текста или без видео.
var ErrEmptyCapture = errors.New("пустое событие захвата")

// DefaultSuppressionWindow — окно подавления повторного захвата того же
// текста под тем же видео (двойной клик, горячая клавиша поверх клика).
const DefaultSuppressionWindow = 2 * time.Second

// Service создаёт отслеживаемые комментарии из событий захвата.
type Service struct {
	comments domain.CommentRepo
	cache    domain.Cache
	log      zerolog.Logger
	window   time.Duration

	now   func() time.Time
	newID func() string
}

// NewService создаёт сервис захвата. cache может быть nil — тогда окно
// подавления не применяется.
func NewService(comments domain.CommentRepo, cache domain.Cache, logger zerolog.Logger, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &Service{
		comments: comments,
		cache:    cache,
		log:      logger,
		window:   window,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Capture сохраняет новый комментарий со статусом active. Повторный захват
// того же нормализованного текста под тем же видео внутри окна подавления
// отбрасывается; created=false сообщает о подавлении.
func (s *Service) Capture(ctx context.Context, job domain.CaptureJob) (domain.Comment, bool, error) {
	normalized := domain.NormalizeText(job.Text)
	if normalized == "" || job.VideoID == "" {
		return domain.Comment{}, false, ErrEmptyCapture
	}

	submittedAt := job.CapturedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}

	comment := domain.Comment{
		ID:               s.newID(),
		Text:             job.Text,
		VideoID:          job.VideoID,
		VideoTitle:       job.VideoTitle,
		VideoURL:         job.VideoURL,
		SubmittedAt:      submittedAt,
		Status:           domain.StatusActive,
		RemoteCommentID:  job.RemoteCommentID,
		RemoteCommentURL: job.RemoteCommentURL,
	}

	if s.cache == nil {
		return comment, true, s.comments.Save(ctx, comment)
	}

	key := suppressionKey(job.VideoID, normalized)
	first, err := s.cache.Once(ctx, key, s.window, func() error {
		return s.comments.Save(ctx, comment)
	})
	if err != nil {
		return domain.Comment{}, false, fmt.Errorf("сохранение захвата: %w", err)
	}
	if !first {
		s.log.Debug().Str("video", job.VideoID).Msg("capture: повторный захват подавлен")
		return domain.Comment{}, false, nil
	}
	return comment, true, nil
}

// Тот же текст под другим видео даёт другой ключ; истечение TTL снова
// открывает окно.
func suppressionKey(videoID, normalizedText string) string {
	sum := sha1.Sum([]byte(normalizedText))
	return "capture:" + videoID + ":" + hex.EncodeToString(sum[:])
}
