package domain

import "time"

// Настройки по умолчанию.
const (
	DefaultAutoCheckIntervalHours = 12
	DefaultAutoArchiveHours       = 24
)

// Settings — конфигурация автопроверки и автоархивации.
type Settings struct {
	AutoCheckEnabled       bool
	AutoCheckIntervalHours int
	AutoCheckNotifications bool
	// AutoArchiveHours — возраст комментария, после которого подтверждённо
	// живой комментарий уходит в архив. 0 выключает автоархивацию.
	AutoArchiveHours int
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		AutoCheckEnabled:       false,
		AutoCheckIntervalHours: DefaultAutoCheckIntervalHours,
		AutoCheckNotifications: false,
		AutoArchiveHours:       DefaultAutoArchiveHours,
	}
}

var (
	allowedIntervals    = map[int]struct{}{6: {}, 12: {}, 24: {}}
	allowedArchiveHours = map[int]struct{}{0: {}, 24: {}, 72: {}, 168: {}}
)

// NormalizeSettings приводит произвольный ввод к допустимым значениям:
// неподдерживаемые интервалы заменяются значениями по умолчанию.
func NormalizeSettings(s Settings) Settings {
	if _, ok := allowedIntervals[s.AutoCheckIntervalHours]; !ok {
		s.AutoCheckIntervalHours = DefaultAutoCheckIntervalHours
	}
	if _, ok := allowedArchiveHours[s.AutoArchiveHours]; !ok {
		s.AutoArchiveHours = DefaultAutoArchiveHours
	}
	return s
}

// AutoArchiveAfter возвращает порог автоархивации либо nil, если она выключена.
func (s Settings) AutoArchiveAfter() *time.Duration {
	if s.AutoArchiveHours <= 0 {
		return nil
	}
	d := time.Duration(s.AutoArchiveHours) * time.Hour
	return &d
}

// CheckInterval возвращает период автопроверки.
func (s Settings) CheckInterval() time.Duration {
	return time.Duration(s.AutoCheckIntervalHours) * time.Hour
}
