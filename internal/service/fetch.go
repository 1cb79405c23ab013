// fetch.go — шаг загрузки внешнего фида.
//
// FetchService наполняет кэш источника через куратора: листинг структур,
// детальные payload'ы, постраничные roster'ы и детали волонтёров. Ядро
// реконсиляции о фиде не знает — оно работает только по кэшу; этот сервис
// является единственным потребителем интерфейса upstream.Fetcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/upstream"
)

// FetchService — сервис загрузки фида в кэш.
type FetchService struct {
	fetcher      upstream.Fetcher
	curator      *Curator
	refetchAfter time.Duration
	logger       *slog.Logger
}

// FetchResult — итог одного цикла загрузки фида.
type FetchResult struct {
	// StructuresListed — структур в листинге источника
	StructuresListed int
	// StructuresFetched — детальных payload'ов структур загружено
	StructuresFetched int
	// RostersFetched — roster'ов структур загружено
	RostersFetched int
	// VolunteersFetched — детальных payload'ов волонтёров загружено
	VolunteersFetched int
	// MarkedMissing — записей помечено устаревшими
	MarkedMissing int
	// Failed — отказавших загрузок (не прерывают цикл)
	Failed int
}

// NewFetchService создаёт сервис загрузки фида.
func NewFetchService(fetcher upstream.Fetcher, curator *Curator, refetchAfter time.Duration, logger *slog.Logger) *FetchService {
	return &FetchService{
		fetcher:      fetcher,
		curator:      curator,
		refetchAfter: refetchAfter,
		logger:       logger.With(slog.String("component", "fetch")),
	}
}

// FetchAll выполняет полный цикл загрузки фида:
//  1. листинг структур → записи кэша, пропавшие помечаются устаревшими;
//  2. детальный payload каждой устаревшей структуры;
//  3. roster каждой структуры → trail волонтёров;
//  4. детальный payload каждого устаревшего волонтёра.
//
// Отказ загрузки одной записи логируется Warn и не прерывает цикл.
func (s *FetchService) FetchAll(ctx context.Context) (*FetchResult, error) {
	if s.fetcher == nil {
		return nil, ErrFeedDisabled
	}
	result := &FetchResult{}

	// 1. Листинг структур.
	structureIDs, err := s.fetcher.ListStructureIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("листинг структур фида: %w", err)
	}
	result.StructuresListed = len(structureIDs)

	for _, id := range structureIDs {
		if _, err := s.curator.Get(ctx, model.KindStructure, id); errors.Is(err, ErrNotFound) {
			if err := s.curator.StoreDetail(ctx, model.KindStructure, id, nil, model.SentinelTime); err != nil {
				return nil, err
			}
		}
	}

	marked, err := s.curator.MarkMissing(ctx, model.KindStructure, structureIDs)
	if err != nil {
		return nil, err
	}
	result.MarkedMissing += marked

	// 2. Детальные payload'ы устаревших структур.
	cutoff := time.Now().UTC().Add(-s.refetchAfter)
	staleStructures, err := s.curator.ListStale(ctx, model.KindStructure, cutoff)
	if err != nil {
		return nil, err
	}
	for _, rec := range staleStructures {
		payload, err := s.fetcher.FetchStructure(ctx, rec.Identifier)
		if err != nil {
			result.Failed++
			s.logger.Warn("Ошибка загрузки структуры",
				slog.String("identifier", rec.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.curator.StoreDetail(ctx, model.KindStructure, rec.Identifier, payload, time.Now().UTC()); err != nil {
			return nil, err
		}
		result.StructuresFetched++
	}

	// 3. Roster'ы структур → trail волонтёров.
	for _, structureID := range structureIDs {
		roster, err := s.fetcher.FetchRoster(ctx, structureID)
		if err != nil {
			result.Failed++
			s.logger.Warn("Ошибка загрузки roster структуры",
				slog.String("structure", structureID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.curator.UpsertFromListing(ctx, model.KindVolunteer, structureID, roster); err != nil {
			return nil, err
		}
		result.RostersFetched++
	}

	// 4. Детальные payload'ы устаревших волонтёров.
	staleVolunteers, err := s.curator.ListStale(ctx, model.KindVolunteer, cutoff)
	if err != nil {
		return nil, err
	}
	for _, rec := range staleVolunteers {
		payload, err := s.fetcher.FetchVolunteer(ctx, rec.Identifier)
		if err != nil {
			result.Failed++
			s.logger.Warn("Ошибка загрузки волонтёра",
				slog.String("identifier", rec.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.curator.StoreDetail(ctx, model.KindVolunteer, rec.Identifier, payload, time.Now().UTC()); err != nil {
			return nil, err
		}
		result.VolunteersFetched++
	}

	s.logger.Info("Цикл загрузки фида завершён",
		slog.Int("structures_listed", result.StructuresListed),
		slog.Int("structures_fetched", result.StructuresFetched),
		slog.Int("rosters_fetched", result.RostersFetched),
		slog.Int("volunteers_fetched", result.VolunteersFetched),
		slog.Int("marked_missing", result.MarkedMissing),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}
