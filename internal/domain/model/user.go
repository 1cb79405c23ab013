package model

import "time"

// User — учётная запись платформы оповещения, опционально связанная 1:1
// с волонтёром по внешнему идентификатору. Sync Module выводит и записывает
// флаги is_admin / is_trusted; остальным владеет внешний сервис.
type User struct {
	// ID — UUID записи
	ID string
	// ExternalID — внешний идентификатор персоны (совпадает с Volunteer.ExternalID)
	ExternalID string
	// IsAdmin — административные права на платформе
	IsAdmin bool
	// IsTrusted — доверенная учётная запись.
	// Отключённый волонтёр не может оставаться доверенным.
	IsTrusted bool
	// StructureExternalIDs — область видимости, выведенная из членства
	// волонтёра в структурах (синхронизируется при реконсиляции)
	StructureExternalIDs []string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
