package service

import (
	"context"
	"testing"
	"time"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// structureFixture — реконсилятор структур поверх in-memory репозиториев.
type structureFixture struct {
	recordRepo *fakeRecordRepo
	structRepo *fakeStructureRepo
	publisher  *capturePublisher
	curator    *Curator
	svc        *StructureSyncService
}

func newStructureFixture() *structureFixture {
	f := &structureFixture{
		recordRepo: newFakeRecordRepo(),
		structRepo: newFakeStructureRepo(),
		publisher:  &capturePublisher{},
	}
	f.curator = NewCurator(f.recordRepo, testLogger())
	f.svc = NewStructureSyncService(f.curator, f.structRepo, f.publisher, testLogger())
	return f
}

// seed кладёт payload структуры в кэш от имени куратора.
func (f *structureFixture) seed(t *testing.T, id string, payload string, fetchedAt time.Time) {
	t.Helper()
	if err := f.curator.StoreDetail(context.Background(), model.KindStructure, id, []byte(payload), fetchedAt); err != nil {
		t.Fatalf("StoreDetail(%s): %v", id, err)
	}
}

func TestStructureSyncAll_CreatesAndLinks(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	now := time.Now().UTC()

	f.seed(t, "75", `{"id": 75, "libelle": "Délégation de Paris"}`, now)
	f.seed(t, "89", `{"id": 89, "libelle": "UL Paris 5", "responsableId": "00123", "parent": {"id": 75}}`, now)

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatalf("SyncAll() ошибка: %v", err)
	}

	if result.Visited != 2 || result.Updated != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, ожидается visited=2 updated=2 failed=0", result)
	}
	if result.Linked != 1 || result.Cycles != 0 {
		t.Errorf("linked = %d, cycles = %d, ожидается 1 и 0", result.Linked, result.Cycles)
	}

	child, err := f.structRepo.GetByExternalID(ctx, "89")
	if err != nil {
		t.Fatalf("структура 89 не создана: %v", err)
	}
	if child.Name != "UL Paris 5" {
		t.Errorf("Name = %q", child.Name)
	}
	// Ведущие нули идентификатора президента убираются
	if child.President != "123" {
		t.Errorf("President = %q, ожидается 123", child.President)
	}
	parent, _ := f.structRepo.GetByExternalID(ctx, "75")
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Error("родительская связь 89 → 75 не установлена")
	}
	if parent.ParentID != nil {
		t.Error("корневая структура не должна получить родителя")
	}

	f.publisher.mu.Lock()
	events := len(f.publisher.events)
	f.publisher.mu.Unlock()
	if events != 2 {
		t.Errorf("опубликовано %d событий, ожидается 2", events)
	}
}

func TestStructureSyncAll_IdempotentSecondPass(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	now := time.Now().UTC()
	f.seed(t, "89", `{"id": 89, "libelle": "UL Paris 5"}`, now)

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Метка кэша не менялась — повторный проход пропускает запись
	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Updated != 0 || result.Skipped != 1 {
		t.Errorf("повторный проход: updated=%d skipped=%d, ожидается 0 и 1", result.Updated, result.Skipped)
	}

	// force игнорирует сравнение меток
	result, err = f.svc.SyncAll(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Updated != 1 || result.Skipped != 0 {
		t.Errorf("force-проход: updated=%d skipped=%d, ожидается 1 и 0", result.Updated, result.Skipped)
	}
}

func TestStructureReconcileOne_Locked(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	now := time.Now().UTC()
	f.seed(t, "89", `{"id": 89, "libelle": "UL Paris 5"}`, now)

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Оператор переименовал структуру и заблокировал её
	st, _ := f.structRepo.GetByExternalID(ctx, "89")
	st.Name = "Ручное имя"
	st.Locked = true
	if err := f.structRepo.Update(ctx, st); err != nil {
		t.Fatal(err)
	}

	rec, _ := f.recordRepo.GetByIdentifier(ctx, model.KindStructure, "89")
	outcome, err := f.svc.ReconcileOne(ctx, rec, true)
	if err != nil {
		t.Fatalf("ReconcileOne() ошибка: %v", err)
	}
	if outcome != model.OutcomeUpdateLocked {
		t.Errorf("outcome = %q, ожидается %q", outcome, model.OutcomeUpdateLocked)
	}

	st, _ = f.structRepo.GetByExternalID(ctx, "89")
	if st.Name != "Ручное имя" {
		t.Errorf("заблокированная структура перезаписана: Name = %q", st.Name)
	}

	// Заблокированная запись видна в итоге прохода отдельным счётчиком
	result, err := f.svc.SyncAll(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Locked != 1 || result.Updated != 0 || result.Skipped != 0 {
		t.Errorf("result = %+v, ожидается locked=1 updated=0 skipped=0", result)
	}
}

func TestStructureReconcileOne_PayloadWithoutID(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	f.seed(t, "89", `{"libelle": "sans id"}`, time.Now().UTC())

	rec, _ := f.recordRepo.GetByIdentifier(ctx, model.KindStructure, "89")
	outcome, err := f.svc.ReconcileOne(ctx, rec, false)
	if err != nil {
		t.Fatalf("ReconcileOne() ошибка: %v", err)
	}
	if outcome != "" {
		t.Errorf("outcome = %q, запись без id должна пропускаться молча", outcome)
	}
	if n, _ := f.structRepo.Count(ctx); n != 0 {
		t.Errorf("создано %d структур, ожидается 0", n)
	}
}

func TestLinkParents_CycleRejected(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	now := time.Now().UTC()

	// Источник утверждает: 1 ← 2 и 2 ← 1 одновременно
	f.seed(t, "1", `{"id": 1, "libelle": "A", "parent": {"id": 2}}`, now)
	f.seed(t, "2", `{"id": 2, "libelle": "B", "parent": {"id": 1}}`, now)

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	// Первая связь применяется, встречная замкнула бы петлю
	if result.Linked != 1 || result.Cycles != 1 {
		t.Errorf("linked=%d cycles=%d, ожидается 1 и 1", result.Linked, result.Cycles)
	}

	a, _ := f.structRepo.GetByExternalID(ctx, "1")
	b, _ := f.structRepo.GetByExternalID(ctx, "2")
	if a.ParentID == nil || *a.ParentID != b.ID {
		t.Error("связь 1 → 2 должна быть установлена")
	}
	if b.ParentID != nil {
		t.Error("встречная связь 2 → 1 должна быть отклонена")
	}
}

func TestLinkParents_SelfParentRejected(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	f.seed(t, "5", `{"id": 5, "libelle": "C", "parent": {"id": 5}}`, time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Cycles != 1 || result.Linked != 0 {
		t.Errorf("linked=%d cycles=%d, ожидается 0 и 1", result.Linked, result.Cycles)
	}

	st, _ := f.structRepo.GetByExternalID(ctx, "5")
	if st.ParentID != nil {
		t.Error("структура не может быть родителем самой себя")
	}
}

func TestLinkParents_ParentNotMaterialized(t *testing.T) {
	ctx := context.Background()
	f := newStructureFixture()
	f.seed(t, "89", `{"id": 89, "libelle": "UL", "parent": {"id": 999}}`, time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	// Родителя нет ни в кэше, ни локально — связь отложена до следующего прохода
	if result.Linked != 0 || result.Cycles != 0 {
		t.Errorf("linked=%d cycles=%d, ожидается 0 и 0", result.Linked, result.Cycles)
	}
}
