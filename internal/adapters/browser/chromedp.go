package browser

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"yt-comment-keeper/internal/domain"
)

const evalTimeout = 5 * time.Second

// Chrome открывает страницы видео в headless-браузере.
type Chrome struct {
	execPath     string
	watchBaseURL string
}

var _ domain.PageProvisioner = (*Chrome)(nil)

// NewChrome создаёт провайдер страниц. execPath может быть пустым, тогда
// chromedp ищет браузер в стандартных путях.
func NewChrome(execPath, watchBaseURL string) *Chrome {
	if watchBaseURL == "" {
		watchBaseURL = "https://www.youtube.com/watch"
	}
	return &Chrome{execPath: execPath, watchBaseURL: watchBaseURL}
}

func (c *Chrome) watchURL(videoID string) string {
	return c.watchBaseURL + "?v=" + url.QueryEscape(videoID)
}

// OpenBackground открывает страницу видео в фоновой вкладке. Сессия живёт
// до вызова Close независимо от ctx вызова.
func (c *Chrome) OpenBackground(ctx context.Context, videoID string) (domain.PageSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	session := &chromeSession{ctx: taskCtx, cancel: func() {
		taskCancel()
		allocCancel()
	}}

	navCtx, navCancel := context.WithTimeout(taskCtx, 30*time.Second)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		network.Enable(),
		// Сам видеопоток не нужен для проверки комментариев.
		network.SetBlockedURLs([]string{"*.googlevideo.com/*"}),
		chromedp.Navigate(c.watchURL(videoID)),
		chromedp.WaitReady("body"),
	); err != nil {
		session.cancel()
		return nil, fmt.Errorf("открытие страницы видео %s: %w", videoID, err)
	}
	return session, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Комментарии подгружаются лениво, поэтому каждая проверка готовности
// дополнительно прокручивает страницу к секции комментариев.
const commentsLoadedJS = `(function() {
	const section = document.querySelector('ytd-comments');
	if (section) {
		section.scrollIntoView();
	} else {
		window.scrollTo(0, document.documentElement.scrollHeight);
	}
	return document.querySelectorAll('ytd-comment-thread-renderer').length > 0;
})()`

const snapshotJS = `(function() {
	const out = [];
	document.querySelectorAll('ytd-comment-thread-renderer').forEach(function(thread) {
		const textEl = thread.querySelector('#content-text');
		if (!textEl) {
			return;
		}
		let commentUrl = '';
		const link = thread.querySelector('#published-time-text a');
		if (link && link.href) {
			commentUrl = link.href;
		}
		let commentId = '';
		if (commentUrl) {
			try {
				commentId = new URL(commentUrl).searchParams.get('lc') || '';
			} catch (e) {}
		}
		out.push({text: textEl.textContent || '', commentId: commentId, commentUrl: commentUrl});
	});
	return out;
})()`

type pageComment struct {
	Text       string `json:"text"`
	CommentID  string `json:"commentId"`
	CommentURL string `json:"commentUrl"`
}

// CommentsLoaded сообщает, отрисовала ли страница секцию комментариев.
func (s *chromeSession) CommentsLoaded(ctx context.Context) (bool, error) {
	runCtx, cancel := s.runCtx(ctx)
	defer cancel()

	var loaded bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(commentsLoadedJS, &loaded)); err != nil {
		return false, fmt.Errorf("проверка загрузки комментариев: %w", err)
	}
	return loaded, nil
}

// Snapshot возвращает видимые комментарии страницы.
func (s *chromeSession) Snapshot(ctx context.Context) ([]domain.VisibleComment, error) {
	runCtx, cancel := s.runCtx(ctx)
	defer cancel()

	var raw []pageComment
	if err := chromedp.Run(runCtx, chromedp.Evaluate(snapshotJS, &raw)); err != nil {
		return nil, fmt.Errorf("снимок комментариев: %w", err)
	}
	visible := make([]domain.VisibleComment, 0, len(raw))
	for _, item := range raw {
		visible = append(visible, domain.VisibleComment{
			Text:       item.Text,
			CommentID:  item.CommentID,
			CommentURL: item.CommentURL,
		})
	}
	return visible, nil
}

// Close закрывает вкладку и процесс браузера.
func (s *chromeSession) Close(ctx context.Context) error {
	s.cancel()
	return nil
}

func (s *chromeSession) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(s.ctx, deadline)
	}
	return context.WithTimeout(s.ctx, evalTimeout)
}
