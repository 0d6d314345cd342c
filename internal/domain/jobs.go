package domain

import (
	"context"
	"time"
)

// CaptureJob — событие захвата нового комментария, ожидающее сохранения.
type CaptureJob struct {
	ID               string    `json:"job_id,omitempty"`
	Text             string    `json:"text"`
	VideoID          string    `json:"video_id"`
	VideoTitle       string    `json:"video_title,omitempty"`
	VideoURL         string    `json:"video_url,omitempty"`
	RemoteCommentID  string    `json:"comment_id,omitempty"`
	RemoteCommentURL string    `json:"comment_url,omitempty"`
	CapturedAt       time.Time `json:"captured_at"`
}

// CaptureAckFunc подтверждает обработку задачи или возвращает её в очередь.
type CaptureAckFunc func(success bool) error

// CaptureQueue — очередь событий захвата между API и воркером.
type CaptureQueue interface {
	Enqueue(ctx context.Context, job CaptureJob) error
	Receive(ctx context.Context) (CaptureJob, CaptureAckFunc, error)
}
