package domain

import (
	"testing"
	"time"
)

func TestNormalizeSettingsClampsUnsupported(t *testing.T) {
	s := NormalizeSettings(Settings{AutoCheckIntervalHours: 7, AutoArchiveHours: 100})
	if s.AutoCheckIntervalHours != DefaultAutoCheckIntervalHours {
		t.Fatalf("ожидали интервал по умолчанию, получили %d", s.AutoCheckIntervalHours)
	}
	if s.AutoArchiveHours != DefaultAutoArchiveHours {
		t.Fatalf("ожидали порог архивации по умолчанию, получили %d", s.AutoArchiveHours)
	}
}

func TestNormalizeSettingsKeepsAllowed(t *testing.T) {
	for _, interval := range []int{6, 12, 24} {
		if got := NormalizeSettings(Settings{AutoCheckIntervalHours: interval, AutoArchiveHours: 24}).AutoCheckIntervalHours; got != interval {
			t.Fatalf("интервал %d не должен меняться, получили %d", interval, got)
		}
	}
	for _, hours := range []int{0, 24, 72, 168} {
		if got := NormalizeSettings(Settings{AutoCheckIntervalHours: 12, AutoArchiveHours: hours}).AutoArchiveHours; got != hours {
			t.Fatalf("порог %d не должен меняться, получили %d", hours, got)
		}
	}
}

func TestAutoArchiveAfter(t *testing.T) {
	if (Settings{AutoArchiveHours: 0}).AutoArchiveAfter() != nil {
		t.Fatalf("0 часов должно выключать автоархивацию")
	}
	got := (Settings{AutoArchiveHours: 72}).AutoArchiveAfter()
	if got == nil || *got != 72*time.Hour {
		t.Fatalf("ожидали 72 часа, получили %v", got)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  first\n\tsecond   third "); got != "first second third" {
		t.Fatalf("неожиданная нормализация: %q", got)
	}
}

func TestBuildVideoIndex(t *testing.T) {
	comments := map[string]Comment{
		"b": {ID: "b", VideoID: "v1"},
		"a": {ID: "a", VideoID: "v1"},
		"c": {ID: "c", VideoID: "v2"},
		"d": {ID: "d"},
	}
	index := BuildVideoIndex(comments)
	if len(index) != 2 {
		t.Fatalf("ожидали 2 видео в индексе, получили %d", len(index))
	}
	if index["v1"][0] != "a" || index["v1"][1] != "b" {
		t.Fatalf("идентификаторы должны быть отсортированы: %v", index["v1"])
	}
	if !index.Equal(BuildVideoIndex(comments)) {
		t.Fatalf("повторная сборка должна давать равный индекс")
	}
	delete(index, "v2")
	if index.Equal(BuildVideoIndex(comments)) {
		t.Fatalf("усечённый индекс не должен считаться равным")
	}
}

func TestTargetURL(t *testing.T) {
	c := Comment{Status: StatusActive, RemoteCommentURL: "https://www.youtube.com/watch?v=abc&lc=xyz", VideoURL: "https://www.youtube.com/watch?v=abc"}
	if got := c.TargetURL(); got != c.RemoteCommentURL {
		t.Fatalf("активный комментарий должен вести на глубокую ссылку, получили %q", got)
	}
	c.Status = StatusDeleted
	if got := c.TargetURL(); got != c.VideoURL {
		t.Fatalf("удалённый комментарий должен вести на видео, получили %q", got)
	}
	c.VideoURL = ""
	c.VideoID = "abc"
	if got := c.TargetURL(); got != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("ожидали ссылку по videoId, получили %q", got)
	}
}
