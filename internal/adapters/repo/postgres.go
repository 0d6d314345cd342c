package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.CommentRepo  = (*Postgres)(nil)
	_ domain.SettingsRepo = (*Postgres)(nil)
	_ domain.SummaryRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const commentColumns = `id, text, video_id, video_title, video_url, submitted_at, status, last_checked_at, deleted_at, archived_at, unknown_at, unknown_reason, remote_comment_id, remote_comment_url`

func scanComment(row pgx.Row) (domain.Comment, error) {
	var (
		c             domain.Comment
		status        string
		videoTitle    sql.NullString
		videoURL      sql.NullString
		lastChecked   sql.NullTime
		deletedAt     sql.NullTime
		archivedAt    sql.NullTime
		unknownAt     sql.NullTime
		unknownReason sql.NullString
		remoteID      sql.NullString
		remoteURL     sql.NullString
	)
	err := row.Scan(&c.ID, &c.Text, &c.VideoID, &videoTitle, &videoURL, &c.SubmittedAt, &status, &lastChecked, &deletedAt, &archivedAt, &unknownAt, &unknownReason, &remoteID, &remoteURL)
	if err != nil {
		return domain.Comment{}, err
	}
	c.Status = domain.CommentStatus(status)
	c.VideoTitle = videoTitle.String
	c.VideoURL = videoURL.String
	if lastChecked.Valid {
		ts := lastChecked.Time
		c.LastCheckedAt = &ts
	}
	if deletedAt.Valid {
		ts := deletedAt.Time
		c.DeletedAt = &ts
	}
	if archivedAt.Valid {
		ts := archivedAt.Time
		c.ArchivedAt = &ts
	}
	if unknownAt.Valid {
		ts := unknownAt.Time
		c.UnknownAt = &ts
	}
	c.UnknownReason = unknownReason.String
	c.RemoteCommentID = remoteID.String
	c.RemoteCommentURL = remoteURL.String
	return c, nil
}

func commentArgs(c domain.Comment) []any {
	return []any{
		c.ID,
		c.Text,
		c.VideoID,
		nullString(c.VideoTitle),
		nullString(c.VideoURL),
		c.SubmittedAt,
		string(c.Status),
		nullTime(c.LastCheckedAt),
		nullTime(c.DeletedAt),
		nullTime(c.ArchivedAt),
		nullTime(c.UnknownAt),
		nullString(c.UnknownReason),
		nullString(c.RemoteCommentID),
		nullString(c.RemoteCommentURL),
	}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

const upsertCommentSQL = `
INSERT INTO comments (` + commentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
	text = EXCLUDED.text,
	video_id = EXCLUDED.video_id,
	video_title = EXCLUDED.video_title,
	video_url = EXCLUDED.video_url,
	submitted_at = EXCLUDED.submitted_at,
	status = EXCLUDED.status,
	last_checked_at = EXCLUDED.last_checked_at,
	deleted_at = EXCLUDED.deleted_at,
	archived_at = EXCLUDED.archived_at,
	unknown_at = EXCLUDED.unknown_at,
	unknown_reason = EXCLUDED.unknown_reason,
	remote_comment_id = EXCLUDED.remote_comment_id,
	remote_comment_url = EXCLUDED.remote_comment_url,
	updated_at = now()
`

// GetAll возвращает все отслеживаемые комментарии по их id.
func (p *Postgres) GetAll(ctx context.Context) (map[string]domain.Comment, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+commentColumns+` FROM comments`)
	metrics.ObserveNetworkRequest("postgres", "comments_get_all", "comments", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка комментариев: %w", err)
	}
	defer rows.Close()

	comments := make(map[string]domain.Comment)
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение комментария: %w", err)
		}
		comments[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("обход комментариев: %w", err)
	}
	return comments, nil
}

// Get возвращает комментарий по id.
func (p *Postgres) Get(ctx context.Context, id string) (domain.Comment, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+commentColumns+` FROM comments WHERE id=$1`, id)
	c, err := scanComment(row)
	metrics.ObserveNetworkRequest("postgres", "comments_get", "comments", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Comment{}, domain.ErrCommentNotFound
	}
	if err != nil {
		return domain.Comment{}, fmt.Errorf("чтение комментария: %w", err)
	}
	return c, nil
}

// Save сохраняет один комментарий.
func (p *Postgres) Save(ctx context.Context, comment domain.Comment) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, upsertCommentSQL, commentArgs(comment)...)
	metrics.ObserveNetworkRequest("postgres", "comments_upsert", "comments", start, err)
	if err != nil {
		return fmt.Errorf("сохранение комментария: %w", err)
	}
	return nil
}

// SaveAll сохраняет пакет комментариев одной транзакцией.
func (p *Postgres) SaveAll(ctx context.Context, comments []domain.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "comments", start, err)
	if err != nil {
		return fmt.Errorf("открытие транзакции: %w", err)
	}

	for _, c := range comments {
		start = time.Now()
		_, err = tx.Exec(ctx, upsertCommentSQL, commentArgs(c)...)
		metrics.ObserveNetworkRequest("postgres", "comments_upsert", "comments", start, err)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("сохранение комментария %s: %w", c.ID, err)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "comments", start, err)
	if err != nil {
		return fmt.Errorf("фиксация транзакции: %w", err)
	}
	return nil
}

// LoadSettings возвращает настройки автопроверки. Отсутствующая строка
// означает настройки по умолчанию.
func (p *Postgres) LoadSettings(ctx context.Context) (domain.Settings, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var s domain.Settings
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT auto_check_enabled, auto_check_interval_hours, auto_check_notifications, auto_archive_hours
FROM settings WHERE id=1
`).Scan(&s.AutoCheckEnabled, &s.AutoCheckIntervalHours, &s.AutoCheckNotifications, &s.AutoArchiveHours)
	metrics.ObserveNetworkRequest("postgres", "settings_load", "settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("чтение настроек: %w", err)
	}
	return s, nil
}

// SaveSettings сохраняет настройки автопроверки.
func (p *Postgres) SaveSettings(ctx context.Context, settings domain.Settings) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO settings (id, auto_check_enabled, auto_check_interval_hours, auto_check_notifications, auto_archive_hours)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	auto_check_enabled = EXCLUDED.auto_check_enabled,
	auto_check_interval_hours = EXCLUDED.auto_check_interval_hours,
	auto_check_notifications = EXCLUDED.auto_check_notifications,
	auto_archive_hours = EXCLUDED.auto_archive_hours,
	updated_at = now()
`, settings.AutoCheckEnabled, settings.AutoCheckIntervalHours, settings.AutoCheckNotifications, settings.AutoArchiveHours)
	metrics.ObserveNetworkRequest("postgres", "settings_save", "settings", start, err)
	if err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	return nil
}

// SaveLastCheck перезаписывает итог последнего цикла проверки.
func (p *Postgres) SaveLastCheck(ctx context.Context, summary domain.CheckSummary) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO last_check (id, trigger_kind, checked_at, checked_count, deleted_count, archived_count, unknown_count, video_count)
VALUES (1, $1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	trigger_kind = EXCLUDED.trigger_kind,
	checked_at = EXCLUDED.checked_at,
	checked_count = EXCLUDED.checked_count,
	deleted_count = EXCLUDED.deleted_count,
	archived_count = EXCLUDED.archived_count,
	unknown_count = EXCLUDED.unknown_count,
	video_count = EXCLUDED.video_count
`, string(summary.Trigger), summary.CheckedAt, summary.CheckedCount, summary.DeletedCount, summary.ArchivedCount, summary.UnknownCount, summary.VideoCount)
	metrics.ObserveNetworkRequest("postgres", "last_check_save", "last_check", start, err)
	if err != nil {
		return fmt.Errorf("сохранение итога проверки: %w", err)
	}
	return nil
}

// LastCheck возвращает итог последнего цикла либо nil, если проверок не было.
func (p *Postgres) LastCheck(ctx context.Context) (*domain.CheckSummary, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		summary domain.CheckSummary
		trigger string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT trigger_kind, checked_at, checked_count, deleted_count, archived_count, unknown_count, video_count
FROM last_check WHERE id=1
`).Scan(&trigger, &summary.CheckedAt, &summary.CheckedCount, &summary.DeletedCount, &summary.ArchivedCount, &summary.UnknownCount, &summary.VideoCount)
	metrics.ObserveNetworkRequest("postgres", "last_check_get", "last_check", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение итога проверки: %w", err)
	}
	summary.Trigger = domain.CheckTrigger(trigger)
	return &summary, nil
}
