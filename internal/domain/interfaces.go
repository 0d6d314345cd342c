package domain

import (
	"context"
	"errors"
	"time"
)

// ErrCommentNotFound возвращается, если комментарий с таким id не отслеживается.
var ErrCommentNotFound = errors.New("комментарий не найден")

// CommentRepo управляет коллекцией отслеживаемых комментариев.
// Ядро не рассчитывает на многоключевые транзакции: единственная защита от
// перемежающихся записей — single-flight цикла проверки.
type CommentRepo interface {
	GetAll(ctx context.Context) (map[string]Comment, error)
	Get(ctx context.Context, id string) (Comment, error)
	Save(ctx context.Context, comment Comment) error
	SaveAll(ctx context.Context, comments []Comment) error
}

// SettingsRepo хранит настройки автопроверки.
type SettingsRepo interface {
	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
}

// SummaryRepo хранит итог последнего цикла проверки. Каждый новый цикл
// перезаписывает предыдущий.
type SummaryRepo interface {
	SaveLastCheck(ctx context.Context, summary CheckSummary) error
	// LastCheck возвращает nil, если ни один цикл ещё не выполнялся.
	LastCheck(ctx context.Context) (*CheckSummary, error)
}

// PageSession — открытая страница видео. Запросы не имеют побочных эффектов
// и могут повторяться.
type PageSession interface {
	CommentsLoaded(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) ([]VisibleComment, error)
	Close(ctx context.Context) error
}

// PageProvisioner открывает страницы видео в фоновом контексте.
type PageProvisioner interface {
	OpenBackground(ctx context.Context, videoID string) (PageSession, error)
}

// Notifier отправляет сводку цикла. Ошибки доставки логируются и не фатальны.
type Notifier interface {
	Notify(ctx context.Context, summary CheckSummary) error
}

// Cache — простое TTL-хранилище.
type Cache interface {
	// Once выполняет fn, если ключ ещё не занят, и сообщает, была ли попытка
	// первой в пределах ttl.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}
