package service

import (
	"context"
	"sync"
	"time"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/queue"
	"github.com/benevalert/sync-module/internal/repository"
)

// --- In-memory реализации репозиториев для unit-тестов сервисного слоя ---

// fakeRecordRepo — in-memory кэш источника с сохранением порядка обнаружения.
type fakeRecordRepo struct {
	mu      sync.Mutex
	records []*model.UpstreamRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{}
}

func (r *fakeRecordRepo) Create(_ context.Context, rec *model.UpstreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.records = append(r.records, &cp)
	return nil
}

func (r *fakeRecordRepo) GetByIdentifier(_ context.Context, kind model.RecordKind, identifier string) (*model.UpstreamRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Identifier == identifier {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRecordRepo) ListEnabled(_ context.Context, kind model.RecordKind) ([]*model.UpstreamRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UpstreamRecord
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Enabled {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) ListStale(_ context.Context, kind model.RecordKind, olderThan time.Time) ([]*model.UpstreamRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.UpstreamRecord
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Enabled && rec.UpdatedAt.Before(olderThan) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRecordRepo) Update(_ context.Context, rec *model.UpstreamRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.records {
		if existing.ID == rec.ID {
			cp := *rec
			cp.CreatedAt = existing.CreatedAt
			r.records[i] = &cp
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeRecordRepo) MarkStaleExcept(_ context.Context, kind model.RecordKind, seen []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seenSet := make(map[string]bool, len(seen))
	for _, id := range seen {
		seenSet[id] = true
	}
	marked := 0
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Enabled && !seenSet[rec.Identifier] && !rec.UpdatedAt.Equal(model.SentinelTime) {
			rec.UpdatedAt = model.SentinelTime
			marked++
		}
	}
	return marked, nil
}

func (r *fakeRecordRepo) Count(_ context.Context, kind model.RecordKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Kind == kind && rec.Enabled {
			n++
		}
	}
	return n, nil
}

// fakeStructureRepo — in-memory репозиторий структур.
type fakeStructureRepo struct {
	mu         sync.Mutex
	structures map[string]*model.Structure // по UUID
}

func newFakeStructureRepo() *fakeStructureRepo {
	return &fakeStructureRepo{structures: make(map[string]*model.Structure)}
}

func (r *fakeStructureRepo) Create(_ context.Context, s *model.Structure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.structures[s.ID] = &cp
	return nil
}

func (r *fakeStructureRepo) GetByID(_ context.Context, id string) (*model.Structure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.structures[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeStructureRepo) GetByExternalID(_ context.Context, externalID string) (*model.Structure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.structures {
		if s.ExternalID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeStructureRepo) Update(_ context.Context, s *model.Structure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.structures[s.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *s
	r.structures[s.ID] = &cp
	return nil
}

func (r *fakeStructureRepo) Ancestors(_ context.Context, id string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	current := r.structures[id]
	for current != nil && current.ParentID != nil {
		parent, ok := r.structures[*current.ParentID]
		if !ok {
			break
		}
		out = append(out, parent.ID)
		if len(out) > 64 {
			break
		}
		current = parent
	}
	return out, nil
}

func (r *fakeStructureRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.structures), nil
}

// fakeVolunteerRepo — in-memory репозиторий волонтёров со связями.
type fakeVolunteerRepo struct {
	mu         sync.Mutex
	volunteers map[string]*model.Volunteer // по UUID, без связей
	phones     map[string]*model.Phone     // по UUID телефона
	structures map[string][]string         // volunteerID → structureIDs
	badges     map[string][]string         // volunteerID → badgeIDs
}

func newFakeVolunteerRepo() *fakeVolunteerRepo {
	return &fakeVolunteerRepo{
		volunteers: make(map[string]*model.Volunteer),
		phones:     make(map[string]*model.Phone),
		structures: make(map[string][]string),
		badges:     make(map[string][]string),
	}
}

// withRelations возвращает копию волонтёра с загруженными связями.
func (r *fakeVolunteerRepo) withRelations(v *model.Volunteer) *model.Volunteer {
	cp := *v
	cp.Phones = nil
	for _, p := range r.phones {
		if p.VolunteerID == v.ID {
			pc := *p
			cp.Phones = append(cp.Phones, &pc)
		}
	}
	cp.StructureIDs = append([]string(nil), r.structures[v.ID]...)
	cp.BadgeIDs = append([]string(nil), r.badges[v.ID]...)
	cp.Report = append([]string(nil), v.Report...)
	return &cp
}

func (r *fakeVolunteerRepo) Create(_ context.Context, v *model.Volunteer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.volunteers[v.ID] = &cp
	return nil
}

func (r *fakeVolunteerRepo) GetByExternalID(_ context.Context, externalID string) (*model.Volunteer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.volunteers {
		if v.ExternalID == externalID {
			return r.withRelations(v), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeVolunteerRepo) Update(_ context.Context, v *model.Volunteer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.volunteers[v.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *v
	r.volunteers[v.ID] = &cp
	return nil
}

func (r *fakeVolunteerRepo) StructureIDs(_ context.Context, volunteerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.structures[volunteerID]...), nil
}

func (r *fakeVolunteerRepo) AddStructure(_ context.Context, volunteerID, structureID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.structures[volunteerID] {
		if id == structureID {
			return nil
		}
	}
	r.structures[volunteerID] = append(r.structures[volunteerID], structureID)
	return nil
}

func (r *fakeVolunteerRepo) RemoveStructure(_ context.Context, volunteerID, structureID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []string
	for _, id := range r.structures[volunteerID] {
		if id != structureID {
			kept = append(kept, id)
		}
	}
	r.structures[volunteerID] = kept
	return nil
}

func (r *fakeVolunteerRepo) ReplaceBadges(_ context.Context, volunteerID string, badgeIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.badges[volunteerID] = append([]string(nil), badgeIDs...)
	return nil
}

func (r *fakeVolunteerRepo) AddPhone(_ context.Context, p *model.Phone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.phones {
		if existing.Number == p.Number {
			return repository.ErrConflict
		}
	}
	cp := *p
	r.phones[p.ID] = &cp
	return nil
}

func (r *fakeVolunteerRepo) RemovePhone(_ context.Context, phoneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.phones, phoneID)
	return nil
}

func (r *fakeVolunteerRepo) FindPhoneHolder(_ context.Context, number string) (*model.Volunteer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.phones {
		if p.Number == number {
			if v, ok := r.volunteers[p.VolunteerID]; ok {
				return r.withRelations(v), nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeVolunteerRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.volunteers), nil
}

// fakeBadgeRepo — in-memory репозиторий бейджей с глобальной дедупликацией.
type fakeBadgeRepo struct {
	mu     sync.Mutex
	badges map[string]*model.Badge // по external_id
}

func newFakeBadgeRepo() *fakeBadgeRepo {
	return &fakeBadgeRepo{badges: make(map[string]*model.Badge)}
}

func (r *fakeBadgeRepo) GetByExternalID(_ context.Context, externalID string) (*model.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.badges[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBadgeRepo) GetOrCreate(_ context.Context, b *model.Badge) (*model.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.badges[b.ExternalID]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *b
	r.badges[b.ExternalID] = &cp
	out := cp
	return &out, nil
}

// fakeUserRepo — in-memory репозиторий учётных записей.
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User // по UUID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByExternalID(_ context.Context, externalID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

// fakeSyncStateRepo — in-memory состояние синхронизации.
type fakeSyncStateRepo struct {
	mu    sync.Mutex
	state model.SyncState
}

func newFakeSyncStateRepo() *fakeSyncStateRepo {
	return &fakeSyncStateRepo{state: model.SyncState{ID: 1}}
}

func (r *fakeSyncStateRepo) Get(_ context.Context) (*model.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.state
	return &cp, nil
}

func (r *fakeSyncStateRepo) UpdateStructureSyncAt(_ context.Context, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.LastStructureSyncAt = &t
	return nil
}

func (r *fakeSyncStateRepo) UpdateVolunteerSyncAt(_ context.Context, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.LastVolunteerSyncAt = &t
	return nil
}

// --- Заглушки брокера ---

// capturePublisher сохраняет опубликованные события.
type capturePublisher struct {
	mu     sync.Mutex
	events []queue.EntityUpdatedEvent
}

func (p *capturePublisher) PublishEntityUpdated(_ context.Context, ev queue.EntityUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// captureDispatcher сохраняет отправленные задачи.
type captureDispatcher struct {
	mu    sync.Mutex
	tasks []queue.ReconcileTask
}

func (d *captureDispatcher) DispatchTask(_ context.Context, task queue.ReconcileTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}
