package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
)

type stubRepo struct {
	mu       sync.Mutex
	comments map[string]domain.Comment
	settings domain.Settings
	last     *domain.CheckSummary
	getAllErr error
}

func newStubRepo(comments ...domain.Comment) *stubRepo {
	r := &stubRepo{comments: make(map[string]domain.Comment), settings: domain.DefaultSettings()}
	for _, c := range comments {
		r.comments[c.ID] = c
	}
	return r
}

func (r *stubRepo) GetAll(context.Context) (map[string]domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getAllErr != nil {
		return nil, r.getAllErr
	}
	out := make(map[string]domain.Comment, len(r.comments))
	for id, c := range r.comments {
		out[id] = c
	}
	return out, nil
}

func (r *stubRepo) Get(_ context.Context, id string) (domain.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return domain.Comment{}, domain.ErrCommentNotFound
	}
	return c, nil
}

func (r *stubRepo) Save(_ context.Context, c domain.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments[c.ID] = c
	return nil
}

func (r *stubRepo) SaveAll(_ context.Context, comments []domain.Comment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range comments {
		r.comments[c.ID] = c
	}
	return nil
}

func (r *stubRepo) LoadSettings(context.Context) (domain.Settings, error) { return r.settings, nil }
func (r *stubRepo) SaveSettings(_ context.Context, s domain.Settings) error {
	r.settings = s
	return nil
}

func (r *stubRepo) SaveLastCheck(_ context.Context, s domain.CheckSummary) error {
	r.last = &s
	return nil
}
func (r *stubRepo) LastCheck(context.Context) (*domain.CheckSummary, error) { return r.last, nil }

type stubVerifier struct {
	mu      sync.Mutex
	visible map[string][]domain.VisibleComment
	errFor  map[string]error
	calls   []string
	block   chan struct{}
}

func (v *stubVerifier) VerifyVideo(_ context.Context, videoID string, comments []domain.Comment) ([]domain.VerificationResult, error) {
	if v.block != nil {
		<-v.block
	}
	v.mu.Lock()
	v.calls = append(v.calls, videoID)
	v.mu.Unlock()
	if err := v.errFor[videoID]; err != nil {
		return nil, err
	}
	// Используем настоящий движок сопоставления: стаб отдаёт только снимок.
	return mapResults(comments, v.visible[videoID]), nil
}

func mapResults(comments []domain.Comment, visible []domain.VisibleComment) []domain.VerificationResult {
	results := make([]domain.VerificationResult, 0, len(comments))
	for _, c := range comments {
		matched := 0
		var entry domain.VisibleComment
		for _, vc := range visible {
			if domain.NormalizeText(vc.Text) == domain.NormalizeText(c.Text) {
				matched++
				entry = vc
			}
		}
		found := matched > 0
		r := domain.VerificationResult{ID: c.ID, Found: &found}
		if matched == 1 {
			r.CommentID = entry.CommentID
			r.CommentURL = entry.CommentURL
		}
		results = append(results, r)
	}
	return results
}

type indeterminateVerifier struct{ reason string }

func (v *indeterminateVerifier) VerifyVideo(_ context.Context, _ string, comments []domain.Comment) ([]domain.VerificationResult, error) {
	results := make([]domain.VerificationResult, 0, len(comments))
	for _, c := range comments {
		results = append(results, domain.VerificationResult{ID: c.ID, Reason: v.reason})
	}
	return results, nil
}

type stubNotifier struct {
	mu        sync.Mutex
	summaries []domain.CheckSummary
}

func (n *stubNotifier) Notify(_ context.Context, s domain.CheckSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return nil
}

func newService(repo *stubRepo, verifier Verifier, notifier domain.Notifier, now time.Time) *Service {
	svc := NewService(repo, repo, repo, verifier, notifier, nil, zerolog.Nop(), time.Millisecond)
	svc.now = func() time.Time { return now }
	return svc
}

func TestRunCycleAutoArchive(t *testing.T) {
	submitted := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	now := submitted.Add(25 * time.Hour)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: submitted, Status: domain.StatusActive})
	repo.settings = domain.Settings{AutoCheckIntervalHours: 12, AutoArchiveHours: 24}
	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "hello"}}}}

	svc := newService(repo, verifier, nil, now)
	summary, err := svc.RunCycle(context.Background(), domain.TriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.ArchivedCount != 1 || summary.CheckedCount != 1 {
		t.Fatalf("ожидали 1 заархивированный из 1, получили %+v", summary)
	}

	c := repo.comments["c1"]
	if c.Status != domain.StatusArchived {
		t.Fatalf("комментарий старше порога должен архивироваться, получили %s", c.Status)
	}
	if c.ArchivedAt == nil || !c.ArchivedAt.Equal(now) {
		t.Fatalf("ArchivedAt должен быть временем проверки")
	}
	if c.LastCheckedAt == nil || !c.LastCheckedAt.Equal(now) {
		t.Fatalf("LastCheckedAt должен отражать время проверки")
	}
}

func TestRunCycleMarksDeleted(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(
		domain.Comment{ID: "c1", Text: "removed by mods", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive},
		domain.Comment{ID: "c2", Text: "still here", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive},
	)
	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "still here", CommentID: "r2"}}}}

	svc := newService(repo, verifier, nil, now)
	summary, err := svc.RunCycle(context.Background(), domain.TriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.DeletedCount != 1 || summary.CheckedCount != 2 {
		t.Fatalf("неожиданная сводка: %+v", summary)
	}

	deleted := repo.comments["c1"]
	if deleted.Status != domain.StatusDeleted || deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(now) {
		t.Fatalf("c1 должен стать deleted с DeletedAt=now: %+v", deleted)
	}
	alive := repo.comments["c2"]
	if alive.Status != domain.StatusActive {
		t.Fatalf("c2 должен остаться active")
	}
	if alive.RemoteCommentID != "r2" {
		t.Fatalf("разрешённая идентичность должна сохраниться в записи")
	}
}

func TestRunCycleIndeterminate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
	svc := newService(repo, &indeterminateVerifier{reason: domain.ReasonVerificationTimeout}, nil, now)

	summary, err := svc.RunCycle(context.Background(), domain.TriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.UnknownCount != 1 {
		t.Fatalf("ожидали 1 unknown, получили %+v", summary)
	}
	c := repo.comments["c1"]
	if c.Status != domain.StatusUnknown || c.UnknownReason != domain.ReasonVerificationTimeout {
		t.Fatalf("неопределённый вердикт не должен считаться удалением: %+v", c)
	}
}

func TestRunCycleSingleFlight(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "hello"}}}, block: make(chan struct{})}
	svc := newService(repo, verifier, nil, now)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.RunCycle(context.Background(), domain.TriggerManual)
		firstDone <- err
	}()

	// Дождаться, пока первый цикл займёт флаг.
	deadline := time.Now().Add(time.Second)
	for !svc.running.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("первый цикл не стартовал")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := svc.RunCycle(context.Background(), domain.TriggerManual); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("второй запуск должен отклоняться с ErrAlreadyRunning, получили %v", err)
	}

	close(verifier.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("первый цикл должен завершиться успешно: %v", err)
	}

	// Флаг снимается на выходе — следующий запуск снова возможен.
	if _, err := svc.RunCycle(context.Background(), domain.TriggerManual); err != nil {
		t.Fatalf("после завершения цикла запуск должен проходить: %v", err)
	}
}

// memCache воспроизводит SetNX-семантику Redis для аренды цикла.
type memCache struct {
	mu   sync.Mutex
	keys map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{keys: make(map[string][]byte)}
}

func (c *memCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) (bool, error) {
	c.mu.Lock()
	if _, ok := c.keys[key]; ok {
		c.mu.Unlock()
		return false, nil
	}
	c.keys[key] = []byte("1")
	c.mu.Unlock()
	if err := fn(); err != nil {
		_ = c.Del(context.Background(), key)
		return false, err
	}
	return true, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *memCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

// Ручные проверки живут в процессе API, плановые — в процессе checker.
// Два экземпляра сервиса над одним хранилищем и общим кэшем не должны
// пересекаться: локальный флаг одного экземпляра не виден другому,
// одновременность отсекает аренда.
func TestRunCycleLeaseAcrossInstances(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
	shared := newMemCache()

	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "hello"}}}, block: make(chan struct{})}
	apiSvc := NewService(repo, repo, repo, verifier, nil, shared, zerolog.Nop(), time.Millisecond)
	apiSvc.now = func() time.Time { return now }
	checkerSvc := NewService(repo, repo, repo, &stubVerifier{}, nil, shared, zerolog.Nop(), time.Millisecond)
	checkerSvc.now = func() time.Time { return now }

	firstDone := make(chan error, 1)
	go func() {
		_, err := apiSvc.RunCycle(context.Background(), domain.TriggerManual)
		firstDone <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !apiSvc.running.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("первый цикл не стартовал")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := checkerSvc.RunCycle(context.Background(), domain.TriggerScheduled); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("цикл из другого экземпляра должен отклоняться с ErrAlreadyRunning, получили %v", err)
	}
	if _, err := checkerSvc.CheckVideo(context.Background(), "v1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("проверка видео из другого экземпляра должна отклоняться с ErrAlreadyRunning, получили %v", err)
	}

	close(verifier.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("первый цикл должен завершиться успешно: %v", err)
	}

	// Аренда снимается на выходе — другой экземпляр снова может запускаться.
	if _, err := checkerSvc.RunCycle(context.Background(), domain.TriggerManual); err != nil {
		t.Fatalf("после завершения цикла запуск из другого экземпляра должен проходить: %v", err)
	}
}

func TestRunCycleScheduledDisabled(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", Status: domain.StatusActive})
	repo.settings.AutoCheckEnabled = false
	verifier := &stubVerifier{}

	svc := newService(repo, verifier, nil, now)
	summary, err := svc.RunCycle(context.Background(), domain.TriggerScheduled)
	if err != nil {
		t.Fatalf("выключенная автопроверка — успешный no-op: %v", err)
	}
	if summary.CheckedCount != 0 || len(verifier.calls) != 0 {
		t.Fatalf("при выключенной автопроверке ничего не проверяется")
	}
}

func TestRunCycleVideoFailureIsolated(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(
		domain.Comment{ID: "a1", Text: "first", VideoID: "va", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive},
		domain.Comment{ID: "b1", Text: "second", VideoID: "vb", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive},
	)
	verifier := &stubVerifier{
		visible: map[string][]domain.VisibleComment{"vb": {{Text: "second"}}},
		errFor:  map[string]error{"va": errors.New("страница недоступна")},
	}

	svc := newService(repo, verifier, nil, now)
	summary, err := svc.RunCycle(context.Background(), domain.TriggerManual)
	if err != nil {
		t.Fatalf("сбой одного видео не должен валить цикл: %v", err)
	}
	if summary.CheckedCount != 1 || summary.VideoCount != 1 {
		t.Fatalf("упавшее видео не должно давать счётчиков: %+v", summary)
	}
	// Комментарии упавшего видео остаются нетронутыми.
	if repo.comments["a1"].Status != domain.StatusActive || repo.comments["a1"].LastCheckedAt != nil {
		t.Fatalf("комментарии упавшего видео не должны меняться: %+v", repo.comments["a1"])
	}
}

func TestRunCycleEligibility(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(
		domain.Comment{ID: "c1", Text: "active", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive},
		domain.Comment{ID: "c2", Text: "unknown", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusUnknown},
		domain.Comment{ID: "c3", Text: "deleted", VideoID: "v1", Status: domain.StatusDeleted},
		domain.Comment{ID: "c4", Text: "archived", VideoID: "v1", Status: domain.StatusArchived},
		domain.Comment{ID: "c5", Text: "no video", Status: domain.StatusActive},
	)
	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "active"}, {Text: "unknown"}}}}

	svc := newService(repo, verifier, nil, now)
	summary, err := svc.RunCycle(context.Background(), domain.TriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.CheckedCount != 2 {
		t.Fatalf("проверяются только active и unknown с видео, получили %d", summary.CheckedCount)
	}
	if repo.comments["c2"].Status != domain.StatusActive {
		t.Fatalf("подтверждённый unknown должен вернуться в active")
	}
}

func TestRunCycleNotificationGating(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	run := func(trigger domain.CheckTrigger, notifications bool, visible []domain.VisibleComment) *stubNotifier {
		repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
		repo.settings = domain.Settings{AutoCheckEnabled: true, AutoCheckIntervalHours: 12, AutoCheckNotifications: notifications, AutoArchiveHours: 0}
		notifier := &stubNotifier{}
		svc := newService(repo, &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": visible}}, notifier, now)
		if _, err := svc.RunCycle(context.Background(), trigger); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		return notifier
	}

	if n := run(domain.TriggerScheduled, true, nil); len(n.summaries) != 1 {
		t.Fatalf("плановый цикл с удалением должен уведомлять")
	}
	if n := run(domain.TriggerManual, true, nil); len(n.summaries) != 0 {
		t.Fatalf("ручной запуск не шлёт уведомлений")
	}
	if n := run(domain.TriggerScheduled, false, nil); len(n.summaries) != 0 {
		t.Fatalf("выключенные уведомления не отправляются")
	}
	if n := run(domain.TriggerScheduled, true, []domain.VisibleComment{{Text: "hello"}}); len(n.summaries) != 0 {
		t.Fatalf("без удалённых и неопределённых уведомления нет")
	}
}

func TestRunCyclePersistsSummary(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
	verifier := &stubVerifier{visible: map[string][]domain.VisibleComment{"v1": {{Text: "hello"}}}}

	svc := newService(repo, verifier, nil, now)
	if _, err := svc.RunCycle(context.Background(), domain.TriggerManual); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if repo.last == nil || repo.last.CheckedCount != 1 {
		t.Fatalf("сводка цикла должна сохраняться, получили %+v", repo.last)
	}
}

func TestCheckVideoNoComments(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	svc := newService(repo, &stubVerifier{}, nil, now)

	summary, err := svc.CheckVideo(context.Background(), "v1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if summary.CheckedCount != 0 {
		t.Fatalf("нечего проверять: %+v", summary)
	}
	if summary.Message() != "No comments to check" {
		t.Fatalf("неожиданное сообщение: %q", summary.Message())
	}
}

func TestCheckVideoPropagatesFailure(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", SubmittedAt: now.Add(-time.Hour), Status: domain.StatusActive})
	verifier := &stubVerifier{errFor: map[string]error{"v1": errors.New("вкладка недоступна")}}

	svc := newService(repo, verifier, nil, now)
	if _, err := svc.CheckVideo(context.Background(), "v1"); err == nil {
		t.Fatalf("ручная проверка одного видео должна возвращать ошибку вызывающему")
	}
}

func TestArchiveAndUnarchive(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	checkedAt := now.Add(-2 * time.Hour)
	repo := newStubRepo(domain.Comment{ID: "c1", Text: "hello", VideoID: "v1", Status: domain.StatusActive, LastCheckedAt: &checkedAt})
	svc := newService(repo, &stubVerifier{}, nil, now)

	ok, err := svc.Archive(context.Background(), "c1")
	if err != nil || !ok {
		t.Fatalf("архивация должна удаться: %v", err)
	}
	c := repo.comments["c1"]
	if c.Status != domain.StatusArchived {
		t.Fatalf("ожидали archived")
	}
	if c.LastCheckedAt == nil || !c.LastCheckedAt.Equal(checkedAt) {
		t.Fatalf("ручная архивация не считается проверкой свежести")
	}

	ok, err = svc.Unarchive(context.Background(), "c1")
	if err != nil || !ok {
		t.Fatalf("разархивация должна удаться: %v", err)
	}
	if repo.comments["c1"].Status != domain.StatusActive {
		t.Fatalf("ожидали возврат в active")
	}

	ok, err = svc.Archive(context.Background(), "missing")
	if err != nil {
		t.Fatalf("неизвестный id — не ошибка: %v", err)
	}
	if ok {
		t.Fatalf("неизвестный id должен давать false")
	}
}

func TestRunCycleStorageFailureFatal(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubRepo()
	repo.getAllErr = errors.New("хранилище недоступно")
	svc := newService(repo, &stubVerifier{}, nil, now)

	if _, err := svc.RunCycle(context.Background(), domain.TriggerManual); err == nil {
		t.Fatalf("сбой хранилища фатален для цикла")
	}
	if svc.running.Load() {
		t.Fatalf("флаг single-flight должен сниматься и при ошибке")
	}
}
