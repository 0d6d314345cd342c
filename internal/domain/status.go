package domain

import "time"

// OptionalTime различает «поле не задано в намерении» и «явно передан null».
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// TimeValue оборачивает конкретное время.
func TimeValue(t time.Time) OptionalTime {
	return OptionalTime{Set: true, Value: &t}
}

// TimeNull — явный null: вызывающий требует очистить поле.
func TimeNull() OptionalTime {
	return OptionalTime{Set: true}
}

// StatusIntent описывает намерение перевода комментария в новое состояние.
// Незаданные поля времени подчиняются правилу сверки ApplyStatusTransition.
type StatusIntent struct {
	Status        CommentStatus
	DeletedAt     OptionalTime
	ArchivedAt    OptionalTime
	UnknownAt     OptionalTime
	UnknownReason string
	// SkipLastChecked не обновляет LastCheckedAt: ручная архивация не
	// считается проверкой свежести.
	SkipLastChecked bool
}

// ApplyStatusTransition возвращает копию комментария в новом состоянии.
// Чистая функция: сохранение — забота вызывающего.
//
// Правило сверки для каждого отслеживаемого поля времени:
//   - новый статус владеет полем — берём явное значение намерения либо now;
//   - намерение явно задало поле (включая null) — берём дословно, это
//     позволяет сохранить или очистить историю (разархивация в deleted
//     обязана вернуть прежний DeletedAt);
//   - иначе поле очищается, кроме перехода в active: active — состояние
//     «по умолчанию» и не трогает DeletedAt/ArchivedAt без явного указания.
func ApplyStatusTransition(c Comment, intent StatusIntent, now time.Time) Comment {
	next := c
	next.Status = intent.Status

	if !intent.SkipLastChecked {
		checkedAt := now
		next.LastCheckedAt = &checkedAt
	}

	next.DeletedAt = reconcileField(c.DeletedAt, intent.DeletedAt, intent.Status, StatusDeleted, now)
	next.ArchivedAt = reconcileField(c.ArchivedAt, intent.ArchivedAt, intent.Status, StatusArchived, now)

	switch {
	case intent.Status == StatusUnknown:
		if intent.UnknownAt.Set {
			next.UnknownAt = intent.UnknownAt.Value
		} else {
			unknownAt := now
			next.UnknownAt = &unknownAt
		}
		next.UnknownReason = intent.UnknownReason
	case intent.UnknownAt.Set:
		next.UnknownAt = intent.UnknownAt.Value
		next.UnknownReason = ""
	default:
		next.UnknownAt = nil
		next.UnknownReason = ""
	}

	return next
}

func reconcileField(current *time.Time, requested OptionalTime, status, owner CommentStatus, now time.Time) *time.Time {
	if status == owner {
		if requested.Set {
			return requested.Value
		}
		enteredAt := now
		return &enteredAt
	}
	if requested.Set {
		return requested.Value
	}
	if status == StatusActive {
		return current
	}
	return nil
}

// ArchiveIntent — ручная архивация. Не считается проверкой.
func ArchiveIntent(now time.Time) StatusIntent {
	return StatusIntent{
		Status:          StatusArchived,
		ArchivedAt:      TimeValue(now),
		SkipLastChecked: true,
	}
}

// UnarchiveIntent возвращает комментарий из архива: если до архивации он был
// удалён — восстанавливаем deleted с прежним DeletedAt, иначе active.
// ArchivedAt очищается всегда.
func UnarchiveIntent(c Comment) StatusIntent {
	intent := StatusIntent{
		Status:          StatusActive,
		ArchivedAt:      TimeNull(),
		SkipLastChecked: true,
	}
	if c.DeletedAt != nil {
		intent.Status = StatusDeleted
		intent.DeletedAt = OptionalTime{Set: true, Value: c.DeletedAt}
	}
	return intent
}
