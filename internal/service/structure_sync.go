// structure_sync.go — реконсилятор структур.
//
// Проецирует записи кэша типа structure на локальные структуры в два
// прохода: сначала создание/обновление всех узлов (SyncAll → ReconcileOne),
// затем установка родительских связей (LinkParents). Двухпроходный порядок
// обязателен: родитель может ссылаться на структуру, ещё не
// материализованную локально в рамках того же прохода.
//
// Инвариант: отношение parent_id остаётся лесом. Связь, замыкающая цикл,
// отклоняется и логируется Error с именами всех вовлечённых структур,
// существующая связь не трогается.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/queue"
	"github.com/benevalert/sync-module/internal/repository"
	"github.com/benevalert/sync-module/internal/upstream"
)

// StructureSyncService — реконсилятор структур.
type StructureSyncService struct {
	curator       *Curator
	structureRepo repository.StructureRepository
	publisher     queue.Publisher
	logger        *slog.Logger
	cycleLogger   *slog.Logger
}

// NewStructureSyncService создаёт реконсилятор структур.
func NewStructureSyncService(
	curator *Curator,
	structureRepo repository.StructureRepository,
	publisher queue.Publisher,
	logger *slog.Logger,
) *StructureSyncService {
	return &StructureSyncService{
		curator:       curator,
		structureRepo: structureRepo,
		publisher:     publisher,
		logger:        logger.With(slog.String("component", "structure_sync")),
		// Выделенный канал для алертов о циклах иерархии.
		cycleLogger: logger.With(slog.String("component", "structure_cycles")),
	}
}

// SyncAll выполняет полный проход по кэшированным структурам:
// проход 1 — создание/обновление узлов, проход 2 — родительские связи.
func (s *StructureSyncService) SyncAll(ctx context.Context, force bool) (*model.StructureSyncResult, error) {
	result := &model.StructureSyncResult{}

	visited, failed, err := s.curator.Walk(ctx, model.KindStructure,
		func(ctx context.Context, rec *model.UpstreamRecord) error {
			outcome, err := s.ReconcileOne(ctx, rec, force)
			switch outcome {
			case model.OutcomeUpdated:
				result.Updated++
			case model.OutcomeSkipped:
				result.Skipped++
			case model.OutcomeUpdateLocked:
				result.Locked++
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	result.Visited = visited
	result.Failed = failed

	linked, cycles, err := s.LinkParents(ctx)
	if err != nil {
		return nil, err
	}
	result.Linked = linked
	result.Cycles = cycles

	s.logger.Info("Проход по структурам завершён",
		slog.Int("visited", result.Visited),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("locked", result.Locked),
		slog.Int("failed", result.Failed),
		slog.Int("linked", result.Linked),
		slog.Int("cycles", result.Cycles),
	)
	return result, nil
}

// ReconcileOne проецирует одну запись кэша на локальную структуру.
// Возвращает тег исхода (updated, skipped, update_locked) либо "" для
// молча пропущенной некорректной записи.
func (s *StructureSyncService) ReconcileOne(ctx context.Context, rec *model.UpstreamRecord, force bool) (string, error) {
	detail, err := upstream.DecodeStructure(rec.Content)
	if err != nil || detail.ExternalID() == "" {
		// Некорректная или ещё не загруженная запись — ожидаемый шум
		// источника, пропускаем без локальных изменений.
		s.logger.Debug("Запись структуры без идентифицирующего ключа пропущена",
			slog.String("identifier", rec.Identifier),
		)
		return "", nil
	}

	st, err := s.structureRepo.GetByExternalID(ctx, detail.ExternalID())
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		st = &model.Structure{
			ID:                 uuid.New().String(),
			ExternalID:         detail.ExternalID(),
			Enabled:            true,
			LastUpstreamUpdate: model.SentinelTime,
		}
		created = true
	case err != nil:
		return "", fmt.Errorf("получение структуры %s: %w", detail.ExternalID(), err)
	}

	// Локальная блокировка запрещает любые перезаписи данными источника.
	if st.Locked {
		return model.OutcomeUpdateLocked, nil
	}

	// Идемпотентный пропуск: метки времени сравниваются с точностью
	// до секунды.
	if !force && sameSecond(st.LastUpstreamUpdate, rec.UpdatedAt) {
		return model.OutcomeSkipped, nil
	}

	st.Name = detail.Label
	st.President = strings.TrimLeft(detail.PresidentID, "0")
	st.Enabled = true
	st.LastUpstreamUpdate = rec.UpdatedAt

	if created {
		if err := s.structureRepo.Create(ctx, st); err != nil {
			return "", fmt.Errorf("создание структуры %s: %w", st.ExternalID, err)
		}
	} else {
		if err := s.structureRepo.Update(ctx, st); err != nil {
			return "", fmt.Errorf("обновление структуры %s: %w", st.ExternalID, err)
		}
	}

	s.publishUpdated(ctx, "structure", st.ID, st.ExternalID, st.Name, st.Enabled)
	return model.OutcomeUpdated, nil
}

// LinkParents — второй проход: установка родительских связей по кэшу.
// Выполняется после того, как все узлы созданы. Возвращает количество
// установленных связей и отклонённых циклов.
func (s *StructureSyncService) LinkParents(ctx context.Context) (linked, cycles int, err error) {
	_, _, err = s.curator.Walk(ctx, model.KindStructure,
		func(ctx context.Context, rec *model.UpstreamRecord) error {
			outcome, linkErr := s.linkOne(ctx, rec)
			switch outcome {
			case linkApplied:
				linked++
			case linkCycle:
				cycles++
			}
			return linkErr
		})
	return linked, cycles, err
}

// Исходы установки одной родительской связи.
const (
	linkNoop    = "noop"
	linkApplied = "applied"
	linkCycle   = "cycle"
)

// linkOne устанавливает родительскую связь для одной записи кэша.
func (s *StructureSyncService) linkOne(ctx context.Context, rec *model.UpstreamRecord) (string, error) {
	detail, err := upstream.DecodeStructure(rec.Content)
	if err != nil || detail.ExternalID() == "" || detail.ParentExternalID() == "" {
		return linkNoop, nil
	}

	child, err := s.structureRepo.GetByExternalID(ctx, detail.ExternalID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return linkNoop, nil
		}
		return linkNoop, fmt.Errorf("получение структуры %s: %w", detail.ExternalID(), err)
	}

	parent, err := s.structureRepo.GetByExternalID(ctx, detail.ParentExternalID())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Родитель ещё не материализован — свяжем на следующем проходе.
			return linkNoop, nil
		}
		return linkNoop, fmt.Errorf("получение родительской структуры %s: %w", detail.ParentExternalID(), err)
	}

	// Связь уже установлена — no-op.
	if child.ParentID != nil && *child.ParentID == parent.ID {
		return linkNoop, nil
	}

	// Проверка цикла: если кандидат-родитель уже числит ребёнка среди
	// своих предков, связь замкнула бы петлю.
	ancestors, err := s.structureRepo.Ancestors(ctx, parent.ID)
	if err != nil {
		return linkNoop, fmt.Errorf("получение предков структуры %s: %w", parent.ExternalID, err)
	}
	for _, ancestorID := range ancestors {
		if ancestorID == child.ID {
			s.cycleLogger.Error("Обнаружен цикл иерархии структур, связь отклонена",
				slog.String("child", child.ExternalID),
				slog.String("attempted_parent", parent.ExternalID),
				slog.String("closed_loop", child.ExternalID),
			)
			return linkCycle, nil
		}
	}
	if parent.ID == child.ID {
		s.cycleLogger.Error("Обнаружен цикл иерархии структур, связь отклонена",
			slog.String("child", child.ExternalID),
			slog.String("attempted_parent", parent.ExternalID),
			slog.String("closed_loop", child.ExternalID),
		)
		return linkCycle, nil
	}

	child.ParentID = &parent.ID
	if err := s.structureRepo.Update(ctx, child); err != nil {
		return linkNoop, fmt.Errorf("сохранение родительской связи %s → %s: %w",
			child.ExternalID, parent.ExternalID, err)
	}

	s.logger.Debug("Родительская связь установлена",
		slog.String("child", child.ExternalID),
		slog.String("parent", parent.ExternalID),
	)
	return linkApplied, nil
}

// publishUpdated отправляет уведомление об обновлённой сущности.
// Ошибка публикации не прерывает реконсиляцию.
func (s *StructureSyncService) publishUpdated(ctx context.Context, kind, id, externalID, name string, enabled bool) {
	err := s.publisher.PublishEntityUpdated(ctx, queue.EntityUpdatedEvent{
		Kind:       kind,
		ID:         id,
		ExternalID: externalID,
		Name:       name,
		Enabled:    enabled,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("Ошибка публикации уведомления об обновлении",
			slog.String("kind", kind),
			slog.String("external_id", externalID),
			slog.String("error", err.Error()),
		)
	}
}

// sameSecond сравнивает метки времени с точностью до секунды.
func sameSecond(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
