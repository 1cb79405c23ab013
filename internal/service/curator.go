// curator.go — куратор кэша внешнего источника.
//
// Единственный владелец операций создания/обновления/устаревания записей
// в upstream_records. Вызывается шагом загрузки фида (FetchService) и
// реконсиляторами при обходе кэша.
//
// Политика отказов: частичный или пустой листинг источника никогда не
// приводит к жёсткому удалению — только мягкое устаревание через сброс
// updated_at в сигнальную метку либо очистку parent_trail.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/repository"
)

// Curator — сервис кэша внешнего источника.
type Curator struct {
	cacheRepo repository.UpstreamRecordRepository
	logger    *slog.Logger
}

// NewCurator создаёт куратора кэша.
func NewCurator(cacheRepo repository.UpstreamRecordRepository, logger *slog.Logger) *Curator {
	return &Curator{
		cacheRepo: cacheRepo,
		logger:    logger.With(slog.String("component", "curator")),
	}
}

// UpsertFromListing применяет свежезагруженный список детей родителя:
//   - неизвестные идентификаторы получают новую запись с сигнальной меткой;
//   - существующим записям без родителя в trail родитель добавляется;
//   - записям, нёсшим родителя, но отсутствующим в новом списке,
//     родитель из trail убирается; опустевший trail отключает запись.
func (c *Curator) UpsertFromListing(ctx context.Context, kind model.RecordKind, parentID string, roster []string) error {
	seen := make(map[string]bool, len(roster))

	for _, identifier := range roster {
		if identifier == "" {
			continue
		}
		seen[identifier] = true

		rec, err := c.cacheRepo.GetByIdentifier(ctx, kind, identifier)
		switch {
		case err == nil:
			changed := false
			if !rec.ParentTrail.Contains(parentID) {
				rec.ParentTrail = rec.ParentTrail.Add(parentID)
				changed = true
			}
			if !rec.Enabled {
				rec.Enabled = true
				changed = true
			}
			if changed {
				if err := c.cacheRepo.Update(ctx, rec); err != nil {
					return fmt.Errorf("обновление trail записи %s/%s: %w", kind, identifier, err)
				}
			}

		case errors.Is(err, repository.ErrNotFound):
			rec = &model.UpstreamRecord{
				ID:          uuid.New().String(),
				Kind:        kind,
				Identifier:  identifier,
				ParentTrail: model.TrailOf(parentID),
				Enabled:     true,
				UpdatedAt:   model.SentinelTime,
			}
			if err := c.cacheRepo.Create(ctx, rec); err != nil {
				return fmt.Errorf("создание записи кэша %s/%s: %w", kind, identifier, err)
			}
			c.logger.Debug("Обнаружена новая запись источника",
				slog.String("kind", string(kind)),
				slog.String("identifier", identifier),
				slog.String("parent", parentID),
			)

		default:
			return fmt.Errorf("чтение записи кэша %s/%s: %w", kind, identifier, err)
		}
	}

	// Убираем родителя из trail записей, выпавших из нового списка.
	return c.pruneParent(ctx, kind, parentID, seen)
}

// pruneParent убирает parentID из trail активных записей типа kind,
// не попавших в свежий список. Опустевший trail отключает запись.
func (c *Curator) pruneParent(ctx context.Context, kind model.RecordKind, parentID string, seen map[string]bool) error {
	records, err := c.cacheRepo.ListEnabled(ctx, kind)
	if err != nil {
		return fmt.Errorf("получение записей кэша для очистки trail: %w", err)
	}

	for _, rec := range records {
		if seen[rec.Identifier] || !rec.ParentTrail.Contains(parentID) {
			continue
		}

		rec.ParentTrail = rec.ParentTrail.Remove(parentID)
		if rec.ParentTrail.Empty() {
			rec.Enabled = false
			c.logger.Info("Запись кэша отключена: trail опустел",
				slog.String("kind", string(kind)),
				slog.String("identifier", rec.Identifier),
			)
		}
		if err := c.cacheRepo.Update(ctx, rec); err != nil {
			return fmt.Errorf("очистка trail записи %s/%s: %w", kind, rec.Identifier, err)
		}
	}
	return nil
}

// MarkMissing помечает устаревшими активные записи типа kind, чьи
// идентификаторы отсутствуют в seen: их updated_at сбрасывается в
// сигнальную метку, что форсирует повторную загрузку на следующем
// проходе. Записи не отключаются — листинг мог быть неполным.
func (c *Curator) MarkMissing(ctx context.Context, kind model.RecordKind, seen []string) (int, error) {
	marked, err := c.cacheRepo.MarkStaleExcept(ctx, kind, seen)
	if err != nil {
		return 0, fmt.Errorf("пометка пропавших записей %s: %w", kind, err)
	}
	if marked > 0 {
		c.logger.Info("Записи кэша помечены устаревшими",
			slog.String("kind", string(kind)),
			slog.Int("marked", marked),
		)
	}
	return marked, nil
}

// Visitor — обработчик одной записи кэша при обходе.
type Visitor func(ctx context.Context, rec *model.UpstreamRecord) error

// Walk вызывает visitor для каждой активной записи типа kind в порядке
// обнаружения. Ошибка visitor'а для одной записи логируется Warn и не
// прерывает обход. Возвращает количество посещённых и отказавших записей.
func (c *Curator) Walk(ctx context.Context, kind model.RecordKind, visitor Visitor) (visited, failed int, err error) {
	records, listErr := c.cacheRepo.ListEnabled(ctx, kind)
	if listErr != nil {
		return 0, 0, fmt.Errorf("получение записей кэша для обхода: %w", listErr)
	}

	for _, rec := range records {
		visited++
		if visitErr := visitor(ctx, rec); visitErr != nil {
			failed++
			c.logger.Warn("Ошибка обработки записи кэша",
				slog.String("kind", string(kind)),
				slog.String("identifier", rec.Identifier),
				slog.String("error", visitErr.Error()),
			)
		}
	}
	return visited, failed, nil
}

// StoreDetail сохраняет детальный payload записи и продвигает updated_at.
// Метка времени двигается только вперёд; назад — лишь сбросом в сигнальную
// метку через MarkMissing.
func (c *Curator) StoreDetail(ctx context.Context, kind model.RecordKind, identifier string, payload []byte, fetchedAt time.Time) error {
	rec, err := c.cacheRepo.GetByIdentifier(ctx, kind, identifier)
	switch {
	case err == nil:
		rec.Content = payload
		rec.Enabled = true
		if fetchedAt.After(rec.UpdatedAt) {
			rec.UpdatedAt = fetchedAt
		}
		if err := c.cacheRepo.Update(ctx, rec); err != nil {
			return fmt.Errorf("сохранение payload записи %s/%s: %w", kind, identifier, err)
		}
		return nil

	case errors.Is(err, repository.ErrNotFound):
		rec = &model.UpstreamRecord{
			ID:         uuid.New().String(),
			Kind:       kind,
			Identifier: identifier,
			Content:    payload,
			Enabled:    true,
			UpdatedAt:  fetchedAt,
		}
		if err := c.cacheRepo.Create(ctx, rec); err != nil {
			return fmt.Errorf("создание записи кэша %s/%s с payload: %w", kind, identifier, err)
		}
		return nil

	default:
		return fmt.Errorf("чтение записи кэша %s/%s: %w", kind, identifier, err)
	}
}

// Get возвращает запись кэша по (kind, identifier).
func (c *Curator) Get(ctx context.Context, kind model.RecordKind, identifier string) (*model.UpstreamRecord, error) {
	rec, err := c.cacheRepo.GetByIdentifier(ctx, kind, identifier)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListStale возвращает активные записи, требующие повторной загрузки:
// загруженные раньше olderThan, включая записи с сигнальной меткой.
func (c *Curator) ListStale(ctx context.Context, kind model.RecordKind, olderThan time.Time) ([]*model.UpstreamRecord, error) {
	return c.cacheRepo.ListStale(ctx, kind, olderThan)
}
