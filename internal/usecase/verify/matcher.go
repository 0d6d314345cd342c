package verify

import (
	"net/url"

	"yt-comment-keeper/internal/domain"
)

// ExtractRemoteCommentID достаёт идентификатор комментария из глубокой ссылки
// вида https://www.youtube.com/watch?v=...&lc=<id>.
func ExtractRemoteCommentID(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("lc")
}

// MapVerificationResults сверяет список комментариев со снимком страницы и
// выдаёт вердикт по каждому.
//
// Сопоставление по идентификатору авторитетно и дёшево; текстовое — запасной
// путь, потому что идентификатор становится известен лишь после того, как
// страница отрисует свежеотправленный комментарий. Голое текстовое
// сопоставление небезопасно при дубликатах, поэтому при нескольких
// неотличимых совпадениях идентичность не присваивается.
func MapVerificationResults(comments []domain.Comment, visible []domain.VisibleComment) []domain.VerificationResult {
	// Индекс нормализованный текст -> записи страницы в порядке появления:
	// одинаковый текст возможен, например у скопированных комментариев.
	textIndex := make(map[string][]domain.VisibleComment)
	// Индекс известный идентификатор -> запись страницы.
	idIndex := make(map[string]domain.VisibleComment)
	for _, entry := range visible {
		// Идентификатор восстанавливается из ссылки до индексации, чтобы
		// обе ветки сопоставления отдавали одинаково полную запись.
		remoteID := entry.CommentID
		if remoteID == "" {
			remoteID = ExtractRemoteCommentID(entry.CommentURL)
			entry.CommentID = remoteID
		}

		normalized := domain.NormalizeText(entry.Text)
		textIndex[normalized] = append(textIndex[normalized], entry)
		if remoteID != "" {
			idIndex[remoteID] = entry
		}
	}

	results := make([]domain.VerificationResult, 0, len(comments))
	for _, c := range comments {
		results = append(results, resolveComment(c, textIndex, idIndex))
	}
	return results
}

func resolveComment(c domain.Comment, textIndex map[string][]domain.VisibleComment, idIndex map[string]domain.VisibleComment) domain.VerificationResult {
	result := domain.VerificationResult{ID: c.ID}

	// Уже известный идентификатор подтверждает конкретный экземпляр,
	// а не просто совпадающий текст.
	if c.RemoteCommentID != "" {
		if entry, ok := idIndex[c.RemoteCommentID]; ok {
			return foundResult(c.ID, entry)
		}
	}
	if remoteID := ExtractRemoteCommentID(c.RemoteCommentURL); remoteID != "" {
		if entry, ok := idIndex[remoteID]; ok {
			return foundResult(c.ID, entry)
		}
	}

	entries := textIndex[domain.NormalizeText(c.Text)]
	switch len(entries) {
	case 0:
		// Текста нет нигде на странице — кандидат на удаление.
		result.Found = boolPtr(false)
	case 1:
		// Однозначное совпадение: безопасно разрешить идентичность.
		return foundResult(c.ID, entries[0])
	default:
		// Несколько неотличимых совпадений: присутствие подтверждено,
		// но идентичность не присваиваем.
		result.Found = boolPtr(true)
	}
	return result
}

func foundResult(id string, entry domain.VisibleComment) domain.VerificationResult {
	return domain.VerificationResult{
		ID:         id,
		Found:      boolPtr(true),
		CommentID:  entry.CommentID,
		CommentURL: entry.CommentURL,
	}
}

func boolPtr(v bool) *bool {
	return &v
}
