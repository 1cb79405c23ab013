// Пакет queue — интеграция с AMQP-брокером: уведомления об обновлённых
// сущностях и fan-out задач асинхронной реконсиляции.
package queue

// Имена очередей брокера.
const (
	// TasksQueue — очередь задач реконсиляции (fan-out refreshAsync).
	TasksQueue = "sync.tasks"
	// EntityUpdatedQueue — очередь уведомлений об обновлённых сущностях.
	EntityUpdatedQueue = "sync.entity-updated"
)

// EntityUpdatedEvent публикуется после каждого обновления локальной
// структуры или волонтёра. Содержит достаточно данных, чтобы подписчик
// не обращался к основной базе.
type EntityUpdatedEvent struct {
	// Kind — тип сущности: structure или volunteer
	Kind string `json:"kind"`
	// ID — UUID локальной сущности
	ID string `json:"id"`
	// ExternalID — идентификатор сущности во внешнем источнике
	ExternalID string `json:"external_id"`
	// Name — название структуры либо полное имя волонтёра
	Name string `json:"name"`
	// Enabled — сущность активна после реконсиляции
	Enabled bool `json:"enabled"`
	// UpdatedAt — время обновления (RFC 3339)
	UpdatedAt string `json:"updated_at"`
}

// Типы задач реконсиляции.
const (
	// TaskReconcileRecord — реконсиляция одной записи кэша.
	TaskReconcileRecord = "reconcile-record"
	// TaskLinkParents — финализация: установка родительских связей структур.
	TaskLinkParents = "link-parents"
	// TaskBulkSync — финализация: полный проход структуры + волонтёры.
	TaskBulkSync = "bulk-sync"
)

// ReconcileTask — единица работы fan-out'а refreshAsync: одна задача
// на запись кэша плюс две фиксированные задачи финализации.
type ReconcileTask struct {
	// Type — тип задачи (reconcile-record, link-parents, bulk-sync)
	Type string `json:"type"`
	// Kind — тип записи кэша (только для reconcile-record)
	Kind string `json:"kind,omitempty"`
	// Identifier — идентификатор записи кэша (только для reconcile-record)
	Identifier string `json:"identifier,omitempty"`
	// Force — игнорировать идемпотентный пропуск по меткам времени
	Force bool `json:"force,omitempty"`
}
