package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CommentStatus описывает состояние жизненного цикла комментария.
type CommentStatus string

const (
	// StatusActive — комментарий виден на странице (или ещё не проверялся).
	StatusActive CommentStatus = "active"
	// StatusDeleted — комментарий подтверждённо отсутствует на странице.
	StatusDeleted CommentStatus = "deleted"
	// StatusArchived — комментарий отложен пользователем или автоархивацией.
	StatusArchived CommentStatus = "archived"
	// StatusUnknown — последняя проверка не смогла установить присутствие.
	StatusUnknown CommentStatus = "unknown"
)

// Причины неопределённого результата проверки.
const (
	ReasonCommentsNotLoaded   = "comments_not_loaded"
	ReasonVerificationTimeout = "verification_timeout"
)

// Comment — захваченный комментарий под видео.
type Comment struct {
	ID          string
	Text        string
	VideoID     string
	VideoTitle  string
	VideoURL    string
	SubmittedAt time.Time

	Status        CommentStatus
	LastCheckedAt *time.Time
	DeletedAt     *time.Time
	ArchivedAt    *time.Time
	UnknownAt     *time.Time
	UnknownReason string

	// RemoteCommentID и RemoteCommentURL — идентичность, присвоенная площадкой.
	// Разрешаются асинхронно после захвата, когда страница отрисует комментарий.
	RemoteCommentID  string
	RemoteCommentURL string
}

// TargetURL возвращает ссылку для перехода к комментарию: глубокая ссылка,
// пока комментарий не удалён, иначе страница видео.
func (c Comment) TargetURL() string {
	if c.Status != StatusDeleted && c.RemoteCommentURL != "" {
		return c.RemoteCommentURL
	}
	if c.VideoURL != "" {
		return c.VideoURL
	}
	if c.VideoID != "" {
		return "https://www.youtube.com/watch?v=" + c.VideoID
	}
	return ""
}

// Fingerprint вычисляет отпечаток содержимого для дедупликации при импорте.
func (c Comment) Fingerprint() string {
	return fmt.Sprintf("%s|%s|%s|%d", c.VideoID, c.RemoteCommentID, NormalizeText(c.Text), c.SubmittedAt.UnixMilli())
}

// VisibleComment — комментарий, извлечённый со страницы видео.
type VisibleComment struct {
	Text       string
	CommentID  string
	CommentURL string
}

// VerificationResult — вердикт проверки одного комментария.
// Found == nil означает «не удалось установить» и отличается от false
// («подтверждённо отсутствует»).
type VerificationResult struct {
	ID         string
	Found      *bool
	Reason     string
	CommentID  string
	CommentURL string
}

// CheckTrigger описывает источник запуска цикла проверки.
type CheckTrigger string

const (
	// TriggerManual — пользователь запустил проверку вручную.
	TriggerManual CheckTrigger = "manual"
	// TriggerScheduled — цикл запущен по расписанию.
	TriggerScheduled CheckTrigger = "scheduled"
)

// CheckSummary — итог одного цикла проверки. Хранится только последний.
type CheckSummary struct {
	Trigger       CheckTrigger
	CheckedAt     time.Time
	CheckedCount  int
	DeletedCount  int
	ArchivedCount int
	UnknownCount  int
	VideoCount    int
}

// Message строит человекочитаемую сводку для ручных проверок.
func (s CheckSummary) Message() string {
	if s.CheckedCount == 0 {
		return "No comments to check"
	}
	commentWord := "comments"
	if s.CheckedCount == 1 {
		commentWord = "comment"
	}
	if s.VideoCount > 1 {
		return fmt.Sprintf("Checked %d %s across %d videos. %d deleted.", s.CheckedCount, commentWord, s.VideoCount, s.DeletedCount)
	}
	return fmt.Sprintf("Checked %d %s. %d deleted.", s.CheckedCount, commentWord, s.DeletedCount)
}

// NormalizeText схлопывает пробельные последовательности в один пробел.
// Все текстовые сравнения работают только с нормализованным текстом:
// рендеринг площадки может менять пробелы, не меняя содержимого.
func NormalizeText(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// VideoIndex — производное отображение videoId -> отсортированные id комментариев.
// Не авторитетно: всегда восстановимо из коллекции комментариев и хранится
// только как кэш.
type VideoIndex map[string][]string

// BuildVideoIndex строит индекс заново из коллекции.
func BuildVideoIndex(comments map[string]Comment) VideoIndex {
	index := make(VideoIndex)
	for _, c := range comments {
		if c.VideoID == "" {
			continue
		}
		index[c.VideoID] = append(index[c.VideoID], c.ID)
	}
	for videoID, ids := range index {
		sort.Strings(ids)
		index[videoID] = ids
	}
	return index
}

// Equal сравнивает индексы поэлементно.
func (v VideoIndex) Equal(other VideoIndex) bool {
	if len(v) != len(other) {
		return false
	}
	for videoID, ids := range v {
		otherIDs, ok := other[videoID]
		if !ok || len(ids) != len(otherIDs) {
			return false
		}
		for i := range ids {
			if ids[i] != otherIDs[i] {
				return false
			}
		}
	}
	return true
}
