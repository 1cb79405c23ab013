// Пакет upstream — граница внешнего источника данных (фид организации).
// Опáковые payload записей кэша декодируются здесь один раз в типизированные
// структуры; реконсиляторы не разбирают сырой JSON повторно.
package upstream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Коды каналов связи источника (moyenComId).
const (
	// ChannelMobile — мобильный телефон.
	ChannelMobile = "POR"
	// ChannelMobileAlt — второй мобильный телефон.
	ChannelMobileAlt = "PORE"
	// ChannelHome — домашний телефон.
	ChannelHome = "FIXE"
	// ChannelWork — рабочий телефон (низший приоритет).
	ChannelWork = "TRAV"

	// ChannelMail — основной email.
	ChannelMail = "MAIL"
	// ChannelMailHome — домашний email.
	ChannelMailHome = "MAILDOM"
	// ChannelMailWork — рабочий email.
	ChannelMailWork = "MAILTRAV"
)

// PhoneChannels — whitelist телефонных каналов в порядке приоритета.
var PhoneChannels = []string{ChannelMobile, ChannelMobileAlt, ChannelHome, ChannelWork}

// MailChannels — whitelist email-каналов в порядке приоритета.
var MailChannels = []string{ChannelMail, ChannelMailHome, ChannelMailWork}

// StructureDetail — типизированный payload записи кэша типа structure.
type StructureDetail struct {
	// ID — идентификатор структуры в источнике (0 — payload неполный)
	ID int64 `json:"id"`
	// Label — название структуры
	Label string `json:"libelle"`
	// ShortLabel — краткое название
	ShortLabel string `json:"libelleCourt"`
	// PresidentID — идентификатор ответственного лица (может нести ведущие нули)
	PresidentID string `json:"responsableId"`
	// Parent — родительская структура (ID == 0 — корень)
	Parent StructureRef `json:"parent"`
}

// StructureRef — ссылка на структуру внутри payload.
type StructureRef struct {
	ID int64 `json:"id"`
}

// ExternalID возвращает идентификатор структуры в строковом виде,
// как он хранится в кэше. Пустая строка — идентификатора нет.
func (d *StructureDetail) ExternalID() string {
	if d.ID == 0 {
		return ""
	}
	return strconv.FormatInt(d.ID, 10)
}

// ParentExternalID — идентификатор родителя либо пустая строка для корня.
func (d *StructureDetail) ParentExternalID() string {
	if d.Parent.ID == 0 {
		return ""
	}
	return strconv.FormatInt(d.Parent.ID, 10)
}

// VolunteerDetail — типизированный payload записи кэша типа volunteer.
type VolunteerDetail struct {
	// User — карточка персоны
	User PersonCard `json:"user"`
	// Contacts — контактные записи всех каналов
	Contacts []ContactEntry `json:"coordonnees"`
	// FavoriteContactID — id предпочитаемой контактной записи (опционально)
	FavoriteContactID string `json:"coordonneesFavorite,omitempty"`
	// Actions — активности волонтёра (несут членство в структурах)
	Actions []ActionEntry `json:"actions"`
	// Skills — компетенции
	Skills []SkillEntry `json:"competences"`
	// Trainings — формации (с датой ресертификации)
	Trainings []TrainingEntry `json:"formations"`
	// Nominations — назначения
	Nominations []NominationEntry `json:"nominations"`
}

// PersonCard — вложенная карточка user детального payload.
type PersonCard struct {
	// ID — идентификатор персоны в источнике
	ID string `json:"id"`
	// FirstName — имя
	FirstName string `json:"prenom"`
	// LastName — фамилия
	LastName string `json:"nom"`
	// Birthday — дата рождения в виде строки источника
	Birthday string `json:"dateNaissance"`
	// Active — персона активна в источнике
	Active bool `json:"actif"`
}

// ContactEntry — контактная запись источника.
type ContactEntry struct {
	// ID — идентификатор контактной записи
	ID string `json:"id"`
	// ChannelID — код канала (moyenComId)
	ChannelID string `json:"moyenComId"`
	// Value — значение: номер телефона или адрес почты
	Value string `json:"libelle"`
}

// ActionEntry — активность волонтёра.
type ActionEntry struct {
	ID    int64  `json:"id"`
	Label string `json:"libelle"`
	// GroupAction — группа активностей, даёт второй бейдж
	GroupAction ActionGroupRef `json:"groupeAction"`
	// Structure — структура, в рамках которой ведётся активность
	Structure StructureRef `json:"structure"`
}

// ActionGroupRef — ссылка на группу активностей.
type ActionGroupRef struct {
	ID    int64  `json:"id"`
	Label string `json:"libelle"`
}

// SkillEntry — компетенция волонтёра.
type SkillEntry struct {
	ID    int64  `json:"id"`
	Label string `json:"libelle"`
}

// TrainingEntry — пройденная формация.
type TrainingEntry struct {
	ID string `json:"id"`
	// Formation — справочная карточка формации
	Formation FormationRef `json:"formation"`
	// ObtainedAt — дата получения (строка источника)
	ObtainedAt string `json:"dateObtention"`
	// RefreshDueAt — дата, к которой требуется ресертификация (опционально)
	RefreshDueAt string `json:"dateRecyclage,omitempty"`
}

// FormationRef — справочная карточка формации.
type FormationRef struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Label string `json:"libelle"`
}

// NominationEntry — назначение волонтёра.
type NominationEntry struct {
	ID    int64  `json:"id"`
	Label string `json:"libelle"`
}

// DecodeStructure декодирует payload записи кэша типа structure.
func DecodeStructure(content []byte) (*StructureDetail, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("пустой payload структуры")
	}
	var d StructureDetail
	if err := json.Unmarshal(content, &d); err != nil {
		return nil, fmt.Errorf("декодирование payload структуры: %w", err)
	}
	return &d, nil
}

// DecodeVolunteer декодирует payload записи кэша типа volunteer.
func DecodeVolunteer(content []byte) (*VolunteerDetail, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("пустой payload волонтёра")
	}
	var d VolunteerDetail
	if err := json.Unmarshal(content, &d); err != nil {
		return nil, fmt.Errorf("декодирование payload волонтёра: %w", err)
	}
	return &d, nil
}

// birthdayPattern — строгий шаблон даты рождения: 4-2-2 цифры.
var birthdayPattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)

// ParseBirthday разбирает дату рождения источника.
// Строка, не совпадающая со строгим шаблоном, молча игнорируется (nil).
func ParseBirthday(s string) *time.Time {
	if !birthdayPattern.MatchString(s) {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
