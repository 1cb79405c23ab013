package model

import (
	"strings"
	"time"
)

// RecordKind — тип записи в кэше внешнего источника.
type RecordKind string

const (
	// KindStructure — организационная структура.
	KindStructure RecordKind = "structure"
	// KindVolunteer — волонтёр.
	KindVolunteer RecordKind = "volunteer"
)

// SentinelTime — сигнальная метка времени «запись ни разу не загружена»
// или «принудительно устарела». Unix epoch, заведомо в прошлом.
var SentinelTime = time.Unix(0, 0).UTC()

// UpstreamRecord — запись кэша внешнего источника.
// Хранится в таблице upstream_records, одна строка на сущность источника.
// Записи никогда не удаляются физически: устаревание моделируется
// через enabled=false и/или очистку parent_trail.
type UpstreamRecord struct {
	// ID — UUID записи
	ID string
	// Kind — тип записи (structure, volunteer)
	Kind RecordKind
	// Identifier — идентификатор, присвоенный источником (уникален в рамках Kind)
	Identifier string
	// ParentTrail — упорядоченный набор идентификаторов родителей,
	// pipe-формат |id1|id2| (волонтёр может состоять в N структурах)
	ParentTrail Trail
	// Content — сырой payload источника (nil до первой успешной загрузки)
	Content []byte
	// Enabled — запись активна
	Enabled bool
	// UpdatedAt — время последней успешной загрузки.
	// Двигается только вперёд, кроме сброса в SentinelTime для форсирования re-fetch.
	UpdatedAt time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// NeverFetched возвращает true, если запись ни разу не загружалась
// (или была принудительно помечена устаревшей).
func (r *UpstreamRecord) NeverFetched() bool {
	return !r.UpdatedAt.After(SentinelTime)
}

// Trail — pipe-кодированный список идентификаторов родителей: |id1|id2|.
// Пустой trail — пустая строка.
type Trail string

// TrailOf строит Trail из списка идентификаторов.
func TrailOf(ids ...string) Trail {
	if len(ids) == 0 {
		return ""
	}
	return Trail("|" + strings.Join(ids, "|") + "|")
}

// IDs возвращает идентификаторы trail в исходном порядке.
func (t Trail) IDs() []string {
	s := strings.Trim(string(t), "|")
	if s == "" {
		return nil
	}
	return strings.Split(s, "|")
}

// Contains проверяет наличие идентификатора в trail.
func (t Trail) Contains(id string) bool {
	return strings.Contains(string(t), "|"+id+"|")
}

// Add добавляет идентификатор в конец trail, если его там ещё нет.
func (t Trail) Add(id string) Trail {
	if id == "" || t.Contains(id) {
		return t
	}
	if t == "" {
		return Trail("|" + id + "|")
	}
	return t + Trail(id+"|")
}

// Remove убирает идентификатор из trail. Отсутствующий идентификатор — no-op.
func (t Trail) Remove(id string) Trail {
	if !t.Contains(id) {
		return t
	}
	ids := t.IDs()
	kept := make([]string, 0, len(ids)-1)
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	return TrailOf(kept...)
}

// Empty — trail не содержит идентификаторов.
func (t Trail) Empty() bool {
	return len(t.IDs()) == 0
}
