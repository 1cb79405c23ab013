// handler.go — HTTP-обработчики управления синхронизацией Sync Module.
// POST /api/v1/sync/refresh       — синхронный полный проход реконсиляции
// POST /api/v1/sync/refresh-async — разложить проход в очередь задач (202)
// GET  /api/v1/sync/status        — состояние синхронизации и счётчики
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/benevalert/sync-module/internal/api/errors"
	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/repository"
	"github.com/benevalert/sync-module/internal/service"
)

// SyncHandler — обработчик endpoints управления синхронизацией.
type SyncHandler struct {
	refresh       *service.RefreshService
	recordRepo    repository.UpstreamRecordRepository
	structureRepo repository.StructureRepository
	volunteerRepo repository.VolunteerRepository
	logger        *slog.Logger
}

// NewSyncHandler создаёт обработчик управления синхронизацией.
func NewSyncHandler(
	refresh *service.RefreshService,
	recordRepo repository.UpstreamRecordRepository,
	structureRepo repository.StructureRepository,
	volunteerRepo repository.VolunteerRepository,
	logger *slog.Logger,
) *SyncHandler {
	return &SyncHandler{
		refresh:       refresh,
		recordRepo:    recordRepo,
		structureRepo: structureRepo,
		volunteerRepo: volunteerRepo,
		logger:        logger.With(slog.String("component", "sync_handler")),
	}
}

// refreshResponse — ответ синхронного прохода.
type refreshResponse struct {
	Forced     bool   `json:"forced"`
	StartedAt  string `json:"started_at"`
	DurationMS int64  `json:"duration_ms"`
	Structures struct {
		Visited int `json:"visited"`
		Updated int `json:"updated"`
		Skipped int `json:"skipped"`
		Locked  int `json:"locked"`
		Failed  int `json:"failed"`
		Linked  int `json:"linked"`
		Cycles  int `json:"cycles"`
	} `json:"structures"`
	Volunteers struct {
		Visited  int            `json:"visited"`
		Outcomes map[string]int `json:"outcomes"`
		Failed   int            `json:"failed"`
	} `json:"volunteers"`
}

// refreshAsyncResponse — ответ асинхронного прохода.
type refreshAsyncResponse struct {
	Dispatched int    `json:"dispatched"`
	Status     string `json:"status"`
}

// statusResponse — ответ endpoint статуса синхронизации.
type statusResponse struct {
	LastStructureSyncAt *string `json:"last_structure_sync_at"`
	LastVolunteerSyncAt *string `json:"last_volunteer_sync_at"`
	CachedStructures    int     `json:"cached_structures"`
	CachedVolunteers    int     `json:"cached_volunteers"`
	Structures          int     `json:"structures"`
	Volunteers          int     `json:"volunteers"`
}

// PostSyncRefresh — синхронный полный проход реконсиляции.
// Query-параметр force=true отключает идемпотентный пропуск.
func (h *SyncHandler) PostSyncRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	result, err := h.refresh.Refresh(r.Context(), force)
	if err != nil {
		h.logger.Error("Ошибка полного прохода реконсиляции",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка прохода реконсиляции")
		return
	}

	resp := refreshResponse{
		Forced:     result.Forced,
		StartedAt:  result.StartedAt.Format(time.RFC3339),
		DurationMS: result.CompletedAt.Sub(result.StartedAt).Milliseconds(),
	}
	resp.Structures.Visited = result.Structures.Visited
	resp.Structures.Updated = result.Structures.Updated
	resp.Structures.Skipped = result.Structures.Skipped
	resp.Structures.Locked = result.Structures.Locked
	resp.Structures.Failed = result.Structures.Failed
	resp.Structures.Linked = result.Structures.Linked
	resp.Structures.Cycles = result.Structures.Cycles
	resp.Volunteers.Visited = result.Volunteers.Visited
	resp.Volunteers.Outcomes = result.Volunteers.Outcomes
	resp.Volunteers.Failed = result.Volunteers.Failed

	writeJSON(w, http.StatusOK, resp)
}

// PostSyncRefreshAsync — раскладывает полный проход в очередь задач.
// Возвращает 202 Accepted с количеством отправленных задач.
func (h *SyncHandler) PostSyncRefreshAsync(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	dispatched, err := h.refresh.RefreshAsync(r.Context(), force)
	if err != nil {
		h.logger.Error("Ошибка отправки задач реконсиляции в очередь",
			slog.String("error", err.Error()),
			slog.Int("dispatched", dispatched),
		)
		apierrors.InternalError(w, "Ошибка отправки задач в очередь")
		return
	}

	writeJSON(w, http.StatusAccepted, refreshAsyncResponse{
		Dispatched: dispatched,
		Status:     "accepted",
	})
}

// GetSyncStatus — текущее состояние синхронизации и счётчики записей.
func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state, err := h.refresh.Status(ctx)
	if err != nil {
		h.logger.Error("Ошибка получения состояния синхронизации",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка получения состояния синхронизации")
		return
	}

	resp := statusResponse{
		LastStructureSyncAt: formatTimePtr(state.LastStructureSyncAt),
		LastVolunteerSyncAt: formatTimePtr(state.LastVolunteerSyncAt),
	}

	if resp.CachedStructures, err = h.recordRepo.Count(ctx, model.KindStructure); err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта записей кэша")
		return
	}
	if resp.CachedVolunteers, err = h.recordRepo.Count(ctx, model.KindVolunteer); err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта записей кэша")
		return
	}
	if resp.Structures, err = h.structureRepo.Count(ctx); err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта структур")
		return
	}
	if resp.Volunteers, err = h.volunteerRepo.Count(ctx); err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта волонтёров")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON записывает JSON-ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// formatTimePtr форматирует опциональную метку времени в RFC3339.
func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
