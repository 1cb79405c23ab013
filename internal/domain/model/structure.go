// Пакет model — доменные сущности Sync Module: кэш внешнего источника,
// локальный граф структур и волонтёров, бейджи, связанные учётные записи.
package model

import "time"

// Structure — локальная организационная структура.
// Хранится в таблице structures. Проекция записи кэша типа structure.
type Structure struct {
	// ID — UUID записи
	ID string
	// ExternalID — идентификатор структуры во внешнем источнике
	ExternalID string
	// Name — название структуры
	Name string
	// President — идентификатор ответственного лица (ведущие нули убраны)
	President string
	// ParentID — UUID родительской структуры (nil для корня).
	// Отношение parent обязано оставаться ацикличным: связь,
	// замыкающая цикл, отклоняется и логируется, но не применяется.
	ParentID *string
	// LastUpstreamUpdate — зеркало updated_at записи кэша,
	// используется для идемпотентного пропуска
	LastUpstreamUpdate time.Time
	// Locked — локальная блокировка: запрещает любую перезапись данными источника
	Locked bool
	// Enabled — структура активна
	Enabled bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
