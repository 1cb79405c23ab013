// refresh.go — оркестратор реконсиляции.
//
// RefreshService запускает фоновую горутину с ticker (SM_SYNC_INTERVAL),
// которая выполняет полный проход: структуры, затем волонтёры. Проходы
// никогда не перекрываются — и по ticker'у, и по требованию они
// сериализуются мьютексом.
//
// Prometheus-метрики:
//   - sm_refresh_duration_seconds — длительность полного прохода
//   - sm_records_processed_total{kind} — посещённых записей кэша
//   - sm_volunteer_outcomes_total{outcome} — терминальных исходов волонтёров
//   - sm_structure_cycles_total — отклонённых циклов иерархии
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/queue"
	"github.com/benevalert/sync-module/internal/repository"
)

// Prometheus-метрики реконсиляции.
var (
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sm_refresh_duration_seconds",
		Help:    "Длительность полного прохода реконсиляции",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~3.5m
	})
	recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_records_processed_total",
		Help: "Количество посещённых записей кэша по типам",
	}, []string{"kind"})
	volunteerOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sm_volunteer_outcomes_total",
		Help: "Количество терминальных исходов реконсиляции волонтёров",
	}, []string{"outcome"})
	structureCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sm_structure_cycles_total",
		Help: "Количество отклонённых родительских связей из-за цикла",
	})
)

// RefreshService — оркестратор полного прохода реконсиляции.
type RefreshService struct {
	curator       *Curator
	structureSync *StructureSyncService
	volunteerSync *VolunteerSyncService
	syncStateRepo repository.SyncStateRepository
	dispatcher    queue.Dispatcher
	fetch         *FetchService
	interval      time.Duration
	logger        *slog.Logger

	// passMu сериализует проходы: одновременно выполняется не более одного.
	passMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshService создаёт оркестратор реконсиляции.
func NewRefreshService(
	curator *Curator,
	structureSync *StructureSyncService,
	volunteerSync *VolunteerSyncService,
	syncStateRepo repository.SyncStateRepository,
	dispatcher queue.Dispatcher,
	interval time.Duration,
	logger *slog.Logger,
) *RefreshService {
	return &RefreshService{
		curator:       curator,
		structureSync: structureSync,
		volunteerSync: volunteerSync,
		syncStateRepo: syncStateRepo,
		dispatcher:    dispatcher,
		interval:      interval,
		logger:        logger.With(slog.String("component", "refresh")),
	}
}

// SetFetchService подключает сервис загрузки фида: периодический проход
// тогда начинается с обновления кэша. Без него проход работает только
// по уже загруженному кэшу.
func (s *RefreshService) SetFetchService(fetch *FetchService) {
	s.fetch = fetch
}

// Start запускает фоновую горутину с периодическим полным проходом.
func (s *RefreshService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая реконсиляция запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая реконсиляция остановлена")
				return
			case <-ticker.C:
				s.logger.Info("Запуск периодического прохода реконсиляции")
				if s.fetch != nil {
					if _, err := s.fetch.FetchAll(ctx); err != nil {
						s.logger.Error("Ошибка загрузки фида, проход по текущему кэшу",
							slog.String("error", err.Error()),
						)
					}
				}
				result, err := s.Refresh(ctx, false)
				if err != nil {
					s.logger.Error("Ошибка периодического прохода реконсиляции",
						slog.String("error", err.Error()),
					)
				} else {
					s.logger.Info("Периодический проход реконсиляции завершён",
						slog.Int("structures_visited", result.Structures.Visited),
						slog.Int("structures_updated", result.Structures.Updated),
						slog.Int("volunteers_visited", result.Volunteers.Visited),
						slog.String("duration", result.CompletedAt.Sub(result.StartedAt).String()),
					)
				}
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *RefreshService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Refresh выполняет синхронный полный проход: структуры, затем волонтёры.
// force=true отключает идемпотентный пропуск по меткам времени.
func (s *RefreshService) Refresh(ctx context.Context, force bool) (*model.RefreshResult, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	startedAt := time.Now().UTC()

	structures, err := s.structureSync.SyncAll(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("проход по структурам: %w", err)
	}
	if err := s.syncStateRepo.UpdateStructureSyncAt(ctx, time.Now().UTC()); err != nil {
		s.logger.Warn("Ошибка обновления last_structure_sync_at", slog.String("error", err.Error()))
	}

	volunteers, err := s.volunteerSync.SyncAll(ctx, force)
	if err != nil {
		return nil, fmt.Errorf("проход по волонтёрам: %w", err)
	}
	if err := s.syncStateRepo.UpdateVolunteerSyncAt(ctx, time.Now().UTC()); err != nil {
		s.logger.Warn("Ошибка обновления last_volunteer_sync_at", slog.String("error", err.Error()))
	}

	completedAt := time.Now().UTC()

	refreshDuration.Observe(completedAt.Sub(startedAt).Seconds())
	recordsProcessed.WithLabelValues(string(model.KindStructure)).Add(float64(structures.Visited))
	recordsProcessed.WithLabelValues(string(model.KindVolunteer)).Add(float64(volunteers.Visited))
	structureCycles.Add(float64(structures.Cycles))
	for outcome, count := range volunteers.Outcomes {
		volunteerOutcomes.WithLabelValues(outcome).Add(float64(count))
	}

	return &model.RefreshResult{
		Forced:      force,
		Structures:  *structures,
		Volunteers:  *volunteers,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}, nil
}

// RefreshAsync раскладывает полный проход в очередь задач: одна задача
// на каждую активную запись кэша плюс две фиксированные задачи
// финализации (link-parents, bulk-sync). Возвращает количество
// отправленных задач.
func (s *RefreshService) RefreshAsync(ctx context.Context, force bool) (int, error) {
	dispatched := 0

	for _, kind := range []model.RecordKind{model.KindStructure, model.KindVolunteer} {
		_, _, err := s.curator.Walk(ctx, kind, func(ctx context.Context, rec *model.UpstreamRecord) error {
			task := queue.ReconcileTask{
				Type:       queue.TaskReconcileRecord,
				Kind:       string(rec.Kind),
				Identifier: rec.Identifier,
				Force:      force,
			}
			if err := s.dispatcher.DispatchTask(ctx, task); err != nil {
				return err
			}
			dispatched++
			return nil
		})
		if err != nil {
			return dispatched, err
		}
	}

	// Две фиксированные задачи финализации: родительские связи структур
	// и контрольный полный проход.
	for _, taskType := range []string{queue.TaskLinkParents, queue.TaskBulkSync} {
		task := queue.ReconcileTask{Type: taskType, Force: force}
		if err := s.dispatcher.DispatchTask(ctx, task); err != nil {
			return dispatched, fmt.Errorf("отправка задачи финализации %s: %w", taskType, err)
		}
		dispatched++
	}

	s.logger.Info("Асинхронный проход разложен в очередь задач",
		slog.Int("dispatched", dispatched),
	)
	return dispatched, nil
}

// ExecuteTask выполняет одну задачу реконсиляции из очереди.
// Реализует queue.TaskExecutor.
func (s *RefreshService) ExecuteTask(ctx context.Context, task queue.ReconcileTask) error {
	switch task.Type {
	case queue.TaskReconcileRecord:
		rec, err := s.curator.Get(ctx, model.RecordKind(task.Kind), task.Identifier)
		if err != nil {
			return fmt.Errorf("получение записи кэша %s/%s: %w", task.Kind, task.Identifier, err)
		}
		switch rec.Kind {
		case model.KindStructure:
			_, err = s.structureSync.ReconcileOne(ctx, rec, task.Force)
		case model.KindVolunteer:
			_, err = s.volunteerSync.ReconcileOne(ctx, rec, task.Force)
		default:
			err = fmt.Errorf("неизвестный тип записи кэша: %s", rec.Kind)
		}
		return err

	case queue.TaskLinkParents:
		_, _, err := s.structureSync.LinkParents(ctx)
		return err

	case queue.TaskBulkSync:
		_, err := s.Refresh(ctx, task.Force)
		return err

	default:
		return fmt.Errorf("неизвестный тип задачи: %s", task.Type)
	}
}

// Status возвращает текущее состояние синхронизации для API статуса.
func (s *RefreshService) Status(ctx context.Context) (*model.SyncState, error) {
	return s.syncStateRepo.Get(ctx)
}
