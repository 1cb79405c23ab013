package model

import "time"

// Теги итогов реконсиляции волонтёра. Каждый терминальный исход
// добавляет помеченную строку в отчёт волонтёра.
const (
	// OutcomeUpdated — полное обновление применено.
	OutcomeUpdated = "updated"
	// OutcomeUpdateLocked — локальная блокировка, поля не перезаписаны.
	OutcomeUpdateLocked = "update_locked"
	// OutcomeDisabled — источник пометил волонтёра неактивным.
	OutcomeDisabled = "disabled"
	// OutcomeSkipped — идемпотентный пропуск (метки времени совпали).
	OutcomeSkipped = "skipped"
	// OutcomeFailed — в детальном payload отсутствует идентификатор персоны.
	OutcomeFailed = "failed"
	// OutcomeMinor — несовершеннолетний, принудительно отключён.
	OutcomeMinor = "minor"
)

// MinorAgeThreshold — возраст (в годах), ниже которого волонтёр
// принудительно отключается независимо от флага источника.
const MinorAgeThreshold = 18

// Volunteer — локальный волонтёр.
// Хранится в таблице volunteers. Проекция записи кэша типа volunteer.
type Volunteer struct {
	// ID — UUID записи
	ID string
	// ExternalID — идентификатор персоны во внешнем источнике
	ExternalID string
	// FirstName — имя (первая буква заглавная, остальные строчные)
	FirstName string
	// LastName — фамилия (нормализуется так же)
	LastName string
	// Birthday — дата рождения (nil, если источник не дал корректной даты)
	Birthday *time.Time
	// Email — канонический адрес электронной почты
	Email *string
	// EmailLocked — запрет перезаписи email данными источника
	EmailLocked bool
	// PhoneLocked — запрет изменения телефонов данными источника
	PhoneLocked bool
	// Phones — телефоны волонтёра (ровно один может быть preferred)
	Phones []*Phone
	// StructureIDs — UUID структур, в которых волонтёр состоит
	StructureIDs []string
	// BadgeIDs — UUID бейджей волонтёра
	BadgeIDs []string
	// Enabled — волонтёр активен. Несовершеннолетний всегда false.
	Enabled bool
	// Locked — локальная блокировка записи целиком
	Locked bool
	// LastUpstreamUpdate — зеркало updated_at записи кэша
	LastUpstreamUpdate time.Time
	// UserID — UUID связанной учётной записи (nil, если не связана)
	UserID *string
	// Report — упорядоченный журнал итогов реконсиляции.
	// Сбрасывается в начале каждой реконсиляции этого волонтёра.
	Report []string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// AppendReport добавляет строку в отчёт реконсиляции.
func (v *Volunteer) AppendReport(entry string) {
	v.Report = append(v.Report, entry)
}

// Age возвращает полный возраст волонтёра в годах на момент at.
// Если дата рождения неизвестна — возвращает -1.
func (v *Volunteer) Age(at time.Time) int {
	if v.Birthday == nil {
		return -1
	}
	b := *v.Birthday
	years := at.Year() - b.Year()
	anniversary := time.Date(at.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	if at.Before(anniversary) {
		years--
	}
	return years
}

// IsMinor — возраст известен и ниже порога совершеннолетия.
func (v *Volunteer) IsMinor(at time.Time) bool {
	age := v.Age(at)
	return age >= 0 && age < MinorAgeThreshold
}

// HasPhone проверяет, привязан ли уже канонический номер.
func (v *Volunteer) HasPhone(number string) bool {
	for _, p := range v.Phones {
		if p.Number == number {
			return true
		}
	}
	return false
}

// Phone — телефон волонтёра.
// Хранится в таблице phones, number глобально уникален.
type Phone struct {
	// ID — UUID записи
	ID string
	// VolunteerID — UUID волонтёра-владельца
	VolunteerID string
	// Number — канонический номер в формате E.164
	Number string
	// Preferred — предпочтительный номер для оповещений
	Preferred bool
}
