package model

import "time"

// SyncState — состояние синхронизации (одна строка в БД).
// Хранится в таблице sync_state (id = 1, всегда одна запись).
type SyncState struct {
	// ID — всегда 1
	ID int
	// LastStructureSyncAt — время последнего прохода по структурам
	LastStructureSyncAt *time.Time
	// LastVolunteerSyncAt — время последнего прохода по волонтёрам
	LastVolunteerSyncAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// StructureSyncResult — итог прохода по кэшированным структурам.
type StructureSyncResult struct {
	// Visited — записей кэша посещено
	Visited int
	// Updated — локальных структур создано или обновлено
	Updated int
	// Skipped — идемпотентных пропусков
	Skipped int
	// Locked — структур, пропущенных из-за локальной блокировки
	Locked int
	// Failed — записей, чья реконсиляция завершилась ошибкой
	Failed int
	// Linked — родительских связей установлено
	Linked int
	// Cycles — отклонённых связей из-за цикла
	Cycles int
}

// VolunteerSyncResult — итог прохода по кэшированным волонтёрам.
type VolunteerSyncResult struct {
	// Visited — записей кэша посещено
	Visited int
	// Outcomes — количество терминальных исходов по тегам
	Outcomes map[string]int
	// Failed — записей, чья реконсиляция завершилась ошибкой
	Failed int
}

// RefreshResult — итог полного прохода (структуры, затем волонтёры).
type RefreshResult struct {
	// Forced — проход выполнялся с force=true
	Forced bool
	// Structures — итог прохода по структурам
	Structures StructureSyncResult
	// Volunteers — итог прохода по волонтёрам
	Volunteers VolunteerSyncResult
	// StartedAt — время начала прохода
	StartedAt time.Time
	// CompletedAt — время завершения прохода
	CompletedAt time.Time
}
