package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/usecase/capture"
	"yt-comment-keeper/internal/usecase/checker"
)

const importBodyLimit = 10 << 20

// Handler обслуживает HTTP API расширения.
type Handler struct {
	comments  domain.CommentRepo
	settings  domain.SettingsRepo
	summaries domain.SummaryRepo
	queue     domain.CaptureQueue
	capture   *capture.Service
	checker   *checker.Service
	log       zerolog.Logger
}

// NewHandler создаёт обработчик API.
func NewHandler(comments domain.CommentRepo, settings domain.SettingsRepo, summaries domain.SummaryRepo, queue domain.CaptureQueue, captureUC *capture.Service, checkerUC *checker.Service, log zerolog.Logger) *Handler {
	return &Handler{
		comments:  comments,
		settings:  settings,
		summaries: summaries,
		queue:     queue,
		capture:   captureUC,
		checker:   checkerUC,
		log:       log,
	}
}

// Register вешает маршруты API на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/capture", h.handleCapture)
		r.Get("/comments", h.handleListComments)
		r.Post("/comments/{id}/archive", h.handleArchive)
		r.Post("/comments/{id}/unarchive", h.handleUnarchive)
		r.Post("/check", h.handleCheckAll)
		r.Post("/check/{videoID}", h.handleCheckVideo)
		r.Get("/settings", h.handleGetSettings)
		r.Put("/settings", h.handleSaveSettings)
		r.Get("/last-check", h.handleLastCheck)
		r.Get("/export", h.handleExport)
		r.Post("/import", h.handleImport)
	})
}

type captureRequest struct {
	Text       string `json:"text"`
	VideoID    string `json:"videoId"`
	VideoTitle string `json:"videoTitle"`
	VideoURL   string `json:"videoUrl"`
	CommentID  string `json:"commentId"`
	CommentURL string `json:"commentUrl"`
	CapturedAt int64  `json:"capturedAt"`
}

// handleCapture принимает событие захвата и ставит его в очередь на
// сохранение. Подавление дубликатов выполняет воркер.
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if domain.NormalizeText(req.Text) == "" || req.VideoID == "" {
		writeError(w, http.StatusBadRequest, "text and videoId are required")
		return
	}
	job := domain.CaptureJob{
		Text:             req.Text,
		VideoID:          req.VideoID,
		VideoTitle:       req.VideoTitle,
		VideoURL:         req.VideoURL,
		RemoteCommentID:  req.CommentID,
		RemoteCommentURL: req.CommentURL,
	}
	if req.CapturedAt > 0 {
		job.CapturedAt = time.UnixMilli(req.CapturedAt).UTC()
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		h.log.Error().Err(err).Str("video_id", req.VideoID).Msg("api: не удалось поставить захват в очередь")
		writeError(w, http.StatusInternalServerError, "failed to enqueue capture")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

type commentView struct {
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
	TargetURL     string `json:"targetUrl,omitempty"`
}

func toView(c domain.Comment) commentView {
	return commentView{
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
		TargetURL:     c.TargetURL(),
	}
}

func msPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func (h *Handler) handleListComments(w http.ResponseWriter, r *http.Request) {
	all, err := h.comments.GetAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось получить комментарии")
		writeError(w, http.StatusInternalServerError, "failed to load comments")
		return
	}
	views := make([]commentView, 0, len(all))
	for _, c := range all {
		views = append(views, toView(c))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].SubmittedAt != views[j].SubmittedAt {
			return views[i].SubmittedAt > views[j].SubmittedAt
		}
		return views[i].ID < views[j].ID
	})
	writeJSON(w, map[string]any{"comments": views})
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	h.toggleArchive(w, r, h.checker.Archive)
}

func (h *Handler) handleUnarchive(w http.ResponseWriter, r *http.Request) {
	h.toggleArchive(w, r, h.checker.Unarchive)
}

func (h *Handler) toggleArchive(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (bool, error)) {
	id := chi.URLParam(r, "id")
	found, err := op(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Str("comment_id", id).Msg("api: не удалось изменить архивный статус")
		writeError(w, http.StatusInternalServerError, "failed to update comment")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "comment not found")
		return
	}
	comment, err := h.comments.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load comment")
		return
	}
	writeJSON(w, map[string]any{"comment": toView(comment)})
}

type summaryView struct {
	Trigger       string `json:"trigger"`
	CheckedAt     int64  `json:"checkedAt"`
	CheckedCount  int    `json:"checkedCount"`
	DeletedCount  int    `json:"deletedCount"`
	ArchivedCount int    `json:"archivedCount"`
	UnknownCount  int    `json:"unknownCount"`
	VideoCount    int    `json:"videoCount"`
	Message       string `json:"message"`
}

func toSummaryView(s domain.CheckSummary) summaryView {
	return summaryView{
		Trigger:       string(s.Trigger),
		CheckedAt:     s.CheckedAt.UnixMilli(),
		CheckedCount:  s.CheckedCount,
		DeletedCount:  s.DeletedCount,
		ArchivedCount: s.ArchivedCount,
		UnknownCount:  s.UnknownCount,
		VideoCount:    s.VideoCount,
		Message:       s.Message(),
	}
}

// handleCheckAll запускает ручную проверку всей коллекции. Если цикл уже
// идёт, запуск пропускается, а не ставится в очередь.
func (h *Handler) handleCheckAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.checker.RunCycle(r.Context(), domain.TriggerManual)
	if errors.Is(err, checker.ErrAlreadyRunning) {
		writeJSON(w, map[string]any{"success": false, "skipped": true, "reason": "already_running"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("api: ручная проверка не удалась")
		writeError(w, http.StatusInternalServerError, "check failed")
		return
	}
	writeJSON(w, map[string]any{"success": true, "summary": toSummaryView(summary)})
}

// handleCheckVideo проверяет комментарии одного видео. Ошибка браузера
// здесь возвращается вызывающему, а не сворачивается в unknown.
func (h *Handler) handleCheckVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	summary, err := h.checker.CheckVideo(r.Context(), videoID)
	if errors.Is(err, checker.ErrAlreadyRunning) {
		writeJSON(w, map[string]any{"success": false, "skipped": true, "reason": "already_running"})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("video_id", videoID).Msg("api: проверка видео не удалась")
		writeError(w, http.StatusBadGateway, "video check failed")
		return
	}
	view := toSummaryView(summary)
	if summary.CheckedCount == 0 {
		view.Message = "No comments to check for this video"
	}
	writeJSON(w, map[string]any{"success": true, "summary": view})
}

type settingsView struct {
	Enabled       bool `json:"enabled"`
	Interval      int  `json:"interval"`
	Notifications bool `json:"notifications"`
	AutoArchive   int  `json:"autoArchive"`
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.LoadSettings(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось загрузить настройки")
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	settings = domain.NormalizeSettings(settings)
	writeJSON(w, settingsView{
		Enabled:       settings.AutoCheckEnabled,
		Interval:      settings.AutoCheckIntervalHours,
		Notifications: settings.AutoCheckNotifications,
		AutoArchive:   settings.AutoArchiveHours,
	})
}

func (h *Handler) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req settingsView
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings := domain.NormalizeSettings(domain.Settings{
		AutoCheckEnabled:       req.Enabled,
		AutoCheckIntervalHours: req.Interval,
		AutoCheckNotifications: req.Notifications,
		AutoArchiveHours:       req.AutoArchive,
	})
	if err := h.settings.SaveSettings(r.Context(), settings); err != nil {
		h.log.Error().Err(err).Msg("api: не удалось сохранить настройки")
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, settingsView{
		Enabled:       settings.AutoCheckEnabled,
		Interval:      settings.AutoCheckIntervalHours,
		Notifications: settings.AutoCheckNotifications,
		AutoArchive:   settings.AutoArchiveHours,
	})
}

func (h *Handler) handleLastCheck(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summaries.LastCheck(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: не удалось получить итог проверки")
		writeError(w, http.StatusInternalServerError, "failed to load last check")
		return
	}
	if summary == nil {
		writeJSON(w, map[string]any{"lastCheck": nil})
		return
	}
	writeJSON(w, map[string]any{"lastCheck": toSummaryView(*summary)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	payload, err := h.capture.Export(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("api: экспорт не удался")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, payload)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, importBodyLimit))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	result, err := h.capture.Import(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid import payload")
		return
	}
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
