package model

// Пространства имён external_id бейджей. Бейдж выводится из одной
// из четырёх независимых категорий источника.
const (
	// BadgeKindAction — активность (action-<id>).
	BadgeKindAction = "action"
	// BadgeKindActionGroup — группа активностей (groupeAction-<id>).
	BadgeKindActionGroup = "groupeAction"
	// BadgeKindSkill — компетенция (skill-<id>).
	BadgeKindSkill = "skill"
	// BadgeKindTraining — формация (training-<id>).
	BadgeKindTraining = "training"
	// BadgeKindNomination — назначение (nomination-<id>).
	BadgeKindNomination = "nomination"
)

// Лимиты длины полей бейджа.
const (
	// BadgeNameMaxLen — максимальная длина имени бейджа.
	BadgeNameMaxLen = 64
	// BadgeDescriptionMaxLen — максимальная длина описания.
	BadgeDescriptionMaxLen = 255
)

// Badge — дедуплицированный тег волонтёра.
// Хранится в таблице badges, external_id глобально уникален;
// создаётся лениво при первой встрече.
type Badge struct {
	// ID — UUID записи
	ID string
	// ExternalID — namespaced идентификатор: <kind>-<id источника>
	ExternalID string
	// Name — имя (обрезается до BadgeNameMaxLen)
	Name string
	// Description — описание (обрезается до BadgeDescriptionMaxLen,
	// по умолчанию равно Name)
	Description string
}

// BadgeExternalID собирает namespaced external_id бейджа.
func BadgeExternalID(kind, upstreamID string) string {
	return kind + "-" + upstreamID
}

// TruncateRunes обрезает строку до max рун (лимиты полей бейджа
// считаются в символах, не в байтах).
func TruncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
