package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/metrics"
)

// ErrAlreadyRunning возвращается при попытке запустить цикл, пока другой
// ещё выполняется. Второй запуск отклоняется сразу, а не ставится в очередь.
var ErrAlreadyRunning = errors.New("проверка уже выполняется")

// DefaultVideoPause — пауза между видео, чтобы не заваливать площадку
// фоновыми загрузками страниц.
const DefaultVideoPause = time.Second

const videoIndexCacheKey = "comments_by_video"

// Межпроцессная аренда цикла: ручные проверки живут в процессе API,
// плановые — в процессе checker, и локального флага недостаточно.
// TTL страхует от зависшей аренды после падения держателя.
const (
	checkLeaseKey = "check_cycle_lease"
	checkLeaseTTL = 10 * time.Minute
)

// Verifier получает вердикты для комментариев одного видео.
type Verifier interface {
	VerifyVideo(ctx context.Context, videoID string, comments []domain.Comment) ([]domain.VerificationResult, error)
}

// Service выполняет цикл проверки по всем подходящим комментариям,
// видео за видео, с агрегацией и single-flight защитой.
type Service struct {
	comments  domain.CommentRepo
	settings  domain.SettingsRepo
	summaries domain.SummaryRepo
	verifier  Verifier
	notifier  domain.Notifier
	cache     domain.Cache
	log       zerolog.Logger
	pause     time.Duration

	// Единственный процесс-wide цикл: флаг ставится на входе и снимается
	// на каждом пути выхода, включая ошибки.
	running atomic.Bool

	now func() time.Time
}

// NewService создаёт планировщик проверок. notifier и cache могут быть nil.
func NewService(comments domain.CommentRepo, settings domain.SettingsRepo, summaries domain.SummaryRepo, verifier Verifier, notifier domain.Notifier, cache domain.Cache, logger zerolog.Logger, pause time.Duration) *Service {
	if pause <= 0 {
		pause = DefaultVideoPause
	}
	return &Service{
		comments:  comments,
		settings:  settings,
		summaries: summaries,
		verifier:  verifier,
		notifier:  notifier,
		cache:     cache,
		log:       logger,
		pause:     pause,
		now:       time.Now,
	}
}

// RunCycle выполняет один цикл проверки по всем подходящим комментариям.
// Плановый запуск при выключенной автопроверке — успешный no-op.
func (s *Service) RunCycle(ctx context.Context, trigger domain.CheckTrigger) (domain.CheckSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.CheckSummary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	release, err := s.acquireLease(ctx)
	if err != nil {
		return domain.CheckSummary{}, err
	}
	defer release()

	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return domain.CheckSummary{}, fmt.Errorf("загрузка настроек: %w", err)
	}
	settings = domain.NormalizeSettings(settings)

	if trigger == domain.TriggerScheduled && !settings.AutoCheckEnabled {
		s.log.Debug().Msg("checker: автопроверка выключена, плановый запуск пропущен")
		return domain.CheckSummary{Trigger: trigger, CheckedAt: s.now()}, nil
	}

	all, err := s.comments.GetAll(ctx)
	if err != nil {
		return domain.CheckSummary{}, fmt.Errorf("получение комментариев: %w", err)
	}
	s.refreshVideoIndex(ctx, all)

	grouped := groupEligible(all, "")
	return s.runGroups(ctx, trigger, settings, grouped, true)
}

// CheckVideo проверяет комментарии одного видео по запросу пользователя.
// В отличие от пакетного цикла, сбой проверки видео здесь фатален:
// вызывающий ждёт интерактивного результата.
func (s *Service) CheckVideo(ctx context.Context, videoID string) (domain.CheckSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.CheckSummary{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	release, err := s.acquireLease(ctx)
	if err != nil {
		return domain.CheckSummary{}, err
	}
	defer release()

	settings, err := s.settings.LoadSettings(ctx)
	if err != nil {
		return domain.CheckSummary{}, fmt.Errorf("загрузка настроек: %w", err)
	}
	settings = domain.NormalizeSettings(settings)

	all, err := s.comments.GetAll(ctx)
	if err != nil {
		return domain.CheckSummary{}, fmt.Errorf("получение комментариев: %w", err)
	}

	grouped := groupEligible(all, videoID)
	if len(grouped) == 0 {
		return domain.CheckSummary{Trigger: domain.TriggerManual, CheckedAt: s.now()}, nil
	}

	toCheck := grouped[videoID]
	results, err := s.verifier.VerifyVideo(ctx, videoID, toCheck)
	if err != nil {
		return domain.CheckSummary{}, err
	}

	summary := domain.CheckSummary{Trigger: domain.TriggerManual, CheckedAt: s.now(), VideoCount: 1}
	if err := s.applyResults(ctx, settings, toCheck, results, &summary); err != nil {
		return domain.CheckSummary{}, err
	}
	return summary, nil
}

// Archive переводит комментарий в архив. Возвращает false при неизвестном id.
func (s *Service) Archive(ctx context.Context, id string) (bool, error) {
	c, err := s.comments.Get(ctx, id)
	if errors.Is(err, domain.ErrCommentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("получение комментария: %w", err)
	}
	next := domain.ApplyStatusTransition(c, domain.ArchiveIntent(s.now()), s.now())
	if err := s.comments.Save(ctx, next); err != nil {
		return false, fmt.Errorf("сохранение комментария: %w", err)
	}
	return true, nil
}

// Unarchive возвращает комментарий из архива: в deleted с прежним DeletedAt,
// если он был удалён до архивации, иначе в active.
func (s *Service) Unarchive(ctx context.Context, id string) (bool, error) {
	c, err := s.comments.Get(ctx, id)
	if errors.Is(err, domain.ErrCommentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("получение комментария: %w", err)
	}
	next := domain.ApplyStatusTransition(c, domain.UnarchiveIntent(c), s.now())
	if err := s.comments.Save(ctx, next); err != nil {
		return false, fmt.Errorf("сохранение комментария: %w", err)
	}
	return true, nil
}

// acquireLease захватывает межпроцессную аренду цикла через SetNX. Локальный
// CAS остаётся быстрым путём; аренда отсекает цикл из другого процесса.
// Без кэша остаётся только локальная защита.
func (s *Service) acquireLease(ctx context.Context) (func(), error) {
	if s.cache == nil {
		return func() {}, nil
	}
	first, err := s.cache.Once(ctx, checkLeaseKey, checkLeaseTTL, func() error { return nil })
	if err != nil {
		return nil, fmt.Errorf("захват аренды цикла: %w", err)
	}
	if !first {
		return nil, ErrAlreadyRunning
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.Del(releaseCtx, checkLeaseKey); err != nil {
			s.log.Warn().Err(err).Msg("checker: не удалось снять аренду цикла, истечёт по TTL")
		}
	}, nil
}

func (s *Service) runGroups(ctx context.Context, trigger domain.CheckTrigger, settings domain.Settings, grouped map[string][]domain.Comment, persistSummary bool) (domain.CheckSummary, error) {
	started := s.now()
	summary := domain.CheckSummary{Trigger: trigger, CheckedAt: started}

	videoIDs := make([]string, 0, len(grouped))
	for videoID := range grouped {
		videoIDs = append(videoIDs, videoID)
	}
	sort.Strings(videoIDs)

	for i, videoID := range videoIDs {
		toCheck := grouped[videoID]
		results, err := s.verifier.VerifyVideo(ctx, videoID, toCheck)
		if err != nil {
			// Сбой одного видео не прерывает цикл: его комментарии просто
			// не попадают в результаты этого прогона.
			s.log.Error().Err(err).Str("video", videoID).Msg("checker: не удалось проверить видео")
			continue
		}
		summary.VideoCount++
		if err := s.applyResults(ctx, settings, toCheck, results, &summary); err != nil {
			return domain.CheckSummary{}, err
		}

		if i < len(videoIDs)-1 {
			select {
			case <-ctx.Done():
				return domain.CheckSummary{}, ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}

	metrics.CheckCycleSeconds.Observe(time.Since(started).Seconds())
	metrics.CommentsCheckedTotal.Add(float64(summary.CheckedCount))
	metrics.DeletedDetectedTotal.Add(float64(summary.DeletedCount))

	if persistSummary {
		if err := s.summaries.SaveLastCheck(ctx, summary); err != nil {
			return domain.CheckSummary{}, fmt.Errorf("сохранение сводки: %w", err)
		}
	}

	s.notify(ctx, trigger, settings, summary)
	return summary, nil
}

func (s *Service) applyResults(ctx context.Context, settings domain.Settings, toCheck []domain.Comment, results []domain.VerificationResult, summary *domain.CheckSummary) error {
	byID := make(map[string]domain.Comment, len(toCheck))
	for _, c := range toCheck {
		byID[c.ID] = c
	}

	now := s.now()
	archiveAfter := settings.AutoArchiveAfter()

	updated := make([]domain.Comment, 0, len(results))
	for _, r := range results {
		c, ok := byID[r.ID]
		if !ok {
			continue
		}
		updated = append(updated, s.applyOutcome(c, r, archiveAfter, now, summary))
		summary.CheckedCount++
	}

	if len(updated) == 0 {
		return nil
	}
	if err := s.comments.SaveAll(ctx, updated); err != nil {
		return fmt.Errorf("сохранение результатов проверки: %w", err)
	}
	return nil
}

func (s *Service) applyOutcome(c domain.Comment, r domain.VerificationResult, archiveAfter *time.Duration, now time.Time, summary *domain.CheckSummary) domain.Comment {
	switch {
	case r.Found == nil:
		summary.UnknownCount++
		return domain.ApplyStatusTransition(c, domain.StatusIntent{
			Status:        domain.StatusUnknown,
			UnknownReason: r.Reason,
		}, now)

	case !*r.Found:
		summary.DeletedCount++
		return domain.ApplyStatusTransition(c, domain.StatusIntent{Status: domain.StatusDeleted}, now)

	default:
		// Присутствие подтверждено: свежеразрешённая идентичность
		// переносится в запись, не затирая уже известную пустыми значениями.
		if r.CommentID != "" {
			c.RemoteCommentID = r.CommentID
		}
		if r.CommentURL != "" {
			c.RemoteCommentURL = r.CommentURL
		}

		if archiveAfter != nil && now.Sub(c.SubmittedAt) >= *archiveAfter {
			summary.ArchivedCount++
			return domain.ApplyStatusTransition(c, domain.StatusIntent{Status: domain.StatusArchived}, now)
		}

		// Подлинная переверификация: устаревшие отметки удаления и
		// архивации стираются явными null.
		return domain.ApplyStatusTransition(c, domain.StatusIntent{
			Status:     domain.StatusActive,
			DeletedAt:  domain.TimeNull(),
			ArchivedAt: domain.TimeNull(),
		}, now)
	}
}

func (s *Service) notify(ctx context.Context, trigger domain.CheckTrigger, settings domain.Settings, summary domain.CheckSummary) {
	// Ручные запуски не шлют фоновых уведомлений: пользователь уже видит
	// результат в интерфейсе.
	if trigger != domain.TriggerScheduled || s.notifier == nil {
		return
	}
	if !settings.AutoCheckNotifications {
		return
	}
	if summary.DeletedCount+summary.UnknownCount == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, summary); err != nil {
		s.log.Error().Err(err).Msg("checker: не удалось отправить уведомление")
	}
}

// refreshVideoIndex сверяет кэшированный индекс videoId -> id с пересборкой
// из коллекции и перезаписывает кэш при расхождении. Кэшу никогда не
// доверяют как источнику истины.
func (s *Service) refreshVideoIndex(ctx context.Context, all map[string]domain.Comment) {
	if s.cache == nil {
		return
	}
	fresh := domain.BuildVideoIndex(all)

	var cached domain.VideoIndex
	if raw, err := s.cache.Get(ctx, videoIndexCacheKey); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &cached); err != nil {
			cached = nil
		}
	}
	if cached.Equal(fresh) {
		return
	}

	raw, err := json.Marshal(fresh)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, videoIndexCacheKey, raw, 0); err != nil {
		s.log.Warn().Err(err).Msg("checker: не удалось обновить кэш индекса видео")
	}
}

// groupEligible отбирает комментарии для проверки и группирует их по видео.
// Проверяются только active и unknown: deleted уже разрешён, archived
// отложен намеренно.
func groupEligible(all map[string]domain.Comment, onlyVideoID string) map[string][]domain.Comment {
	grouped := make(map[string][]domain.Comment)
	for _, c := range all {
		if c.VideoID == "" {
			continue
		}
		if onlyVideoID != "" && c.VideoID != onlyVideoID {
			continue
		}
		if c.Status != domain.StatusActive && c.Status != domain.StatusUnknown {
			continue
		}
		grouped[c.VideoID] = append(grouped[c.VideoID], c)
	}
	for videoID, comments := range grouped {
		sort.Slice(comments, func(i, j int) bool { return comments[i].ID < comments[j].ID })
		grouped[videoID] = comments
	}
	return grouped
}
