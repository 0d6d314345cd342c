package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"yt-comment-keeper/internal/domain"
)

// ExportedComment — запись переносимого формата. Времена — эпоха в
// миллисекундах, как их пишет браузерное расширение.
type ExportedComment struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	VideoID       string `json:"videoId"`
	VideoTitle    string `json:"videoTitle,omitempty"`
	VideoURL      string `json:"videoUrl,omitempty"`
	SubmittedAt   int64  `json:"submittedAt"`
	Status        string `json:"status"`
	LastCheckedAt *int64 `json:"lastCheckedAt"`
	DeletedAt     *int64 `json:"deletedAt"`
	ArchivedAt    *int64 `json:"archivedAt"`
	UnknownAt     *int64 `json:"unknownAt"`
	UnknownReason string `json:"unknownReason,omitempty"`
	CommentID     string `json:"commentId,omitempty"`
	CommentURL    string `json:"commentUrl,omitempty"`
}

// ExportPayload — корневой объект экспорта.
type ExportPayload struct {
	Comments []ExportedComment `json:"comments"`
}

// ImportResult — счётчики одного импорта.
type ImportResult struct {
	ImportedCount int `json:"importedCount"`
	SkippedCount  int `json:"skippedCount"`
}

// Export выгружает всю коллекцию, свежие записи первыми.
func (s *Service) Export(ctx context.Context) (ExportPayload, error) {
	all, err := s.comments.GetAll(ctx)
	if err != nil {
		return ExportPayload{}, fmt.Errorf("получение комментариев: %w", err)
	}

	exported := make([]ExportedComment, 0, len(all))
	for _, c := range all {
		exported = append(exported, toExported(c))
	}
	sort.Slice(exported, func(i, j int) bool {
		if exported[i].SubmittedAt != exported[j].SubmittedAt {
			return exported[i].SubmittedAt > exported[j].SubmittedAt
		}
		return exported[i].ID < exported[j].ID
	})
	return ExportPayload{Comments: exported}, nil
}

// Import вливает записи в коллекцию. Некорректные записи пропускаются
// поштучно, не прерывая пакет; дубликаты по отпечатку содержимого
// (видео + идентификатор площадки + нормализованный текст + время
// отправки) пропускаются, а не перезаписываются.
func (s *Service) Import(ctx context.Context, raw []byte) (ImportResult, error) {
	var payload ExportPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ImportResult{}, fmt.Errorf("разбор импорта: %w", err)
	}

	existing, err := s.comments.GetAll(ctx)
	if err != nil {
		return ImportResult{}, fmt.Errorf("получение комментариев: %w", err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c.Fingerprint()] = struct{}{}
	}

	var result ImportResult
	toSave := make([]domain.Comment, 0, len(payload.Comments))
	for _, entry := range payload.Comments {
		c, err := fromExported(entry)
		if err != nil {
			s.log.Debug().Err(err).Str("id", entry.ID).Msg("capture: запись импорта отклонена")
			result.SkippedCount++
			continue
		}
		fp := c.Fingerprint()
		if _, dup := seen[fp]; dup {
			result.SkippedCount++
			continue
		}
		seen[fp] = struct{}{}
		if _, idTaken := existing[c.ID]; idTaken || c.ID == "" {
			c.ID = s.newID()
		}
		toSave = append(toSave, c)
		result.ImportedCount++
	}

	if len(toSave) > 0 {
		if err := s.comments.SaveAll(ctx, toSave); err != nil {
			return ImportResult{}, fmt.Errorf("сохранение импорта: %w", err)
		}
	}
	return result, nil
}

func toExported(c domain.Comment) ExportedComment {
	return ExportedComment{
		ID:            c.ID,
		Text:          c.Text,
		VideoID:       c.VideoID,
		VideoTitle:    c.VideoTitle,
		VideoURL:      c.VideoURL,
		SubmittedAt:   c.SubmittedAt.UnixMilli(),
		Status:        string(c.Status),
		LastCheckedAt: msPtr(c.LastCheckedAt),
		DeletedAt:     msPtr(c.DeletedAt),
		ArchivedAt:    msPtr(c.ArchivedAt),
		UnknownAt:     msPtr(c.UnknownAt),
		UnknownReason: c.UnknownReason,
		CommentID:     c.RemoteCommentID,
		CommentURL:    c.RemoteCommentURL,
	}
}

func fromExported(e ExportedComment) (domain.Comment, error) {
	if domain.NormalizeText(e.Text) == "" {
		return domain.Comment{}, fmt.Errorf("пустой текст")
	}
	if e.VideoID == "" {
		return domain.Comment{}, fmt.Errorf("нет идентификатора видео")
	}
	if e.SubmittedAt <= 0 {
		return domain.Comment{}, fmt.Errorf("некорректное время отправки")
	}

	status := domain.CommentStatus(e.Status)
	switch status {
	case domain.StatusActive, domain.StatusDeleted, domain.StatusArchived, domain.StatusUnknown:
	case "":
		status = domain.StatusActive
	default:
		return domain.Comment{}, fmt.Errorf("неизвестный статус %q", e.Status)
	}

	return domain.Comment{
		ID:               e.ID,
		Text:             e.Text,
		VideoID:          e.VideoID,
		VideoTitle:       e.VideoTitle,
		VideoURL:         e.VideoURL,
		SubmittedAt:      time.UnixMilli(e.SubmittedAt).UTC(),
		Status:           status,
		LastCheckedAt:    timePtr(e.LastCheckedAt),
		DeletedAt:        timePtr(e.DeletedAt),
		ArchivedAt:       timePtr(e.ArchivedAt),
		UnknownAt:        timePtr(e.UnknownAt),
		UnknownReason:    e.UnknownReason,
		RemoteCommentID:  e.CommentID,
		RemoteCommentURL: e.CommentURL,
	}, nil
}

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func timePtr(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
