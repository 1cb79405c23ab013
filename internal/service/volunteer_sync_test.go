package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/repository"
)

// volunteerFixture — реконсилятор волонтёров поверх in-memory репозиториев.
type volunteerFixture struct {
	recordRepo *fakeRecordRepo
	structRepo *fakeStructureRepo
	volRepo    *fakeVolunteerRepo
	badgeRepo  *fakeBadgeRepo
	userRepo   *fakeUserRepo
	publisher  *capturePublisher
	curator    *Curator
	svc        *VolunteerSyncService
}

func newVolunteerFixture() *volunteerFixture {
	f := &volunteerFixture{
		recordRepo: newFakeRecordRepo(),
		structRepo: newFakeStructureRepo(),
		volRepo:    newFakeVolunteerRepo(),
		badgeRepo:  newFakeBadgeRepo(),
		userRepo:   newFakeUserRepo(),
		publisher:  &capturePublisher{},
	}
	f.curator = NewCurator(f.recordRepo, testLogger())
	f.svc = NewVolunteerSyncService(
		f.curator, f.volRepo, f.structRepo, f.badgeRepo, f.userRepo, f.publisher,
		"FR", "nomination-1", []string{"croix-rouge.fr"}, testLogger(),
	)
	return f
}

// addStructure материализует локальную структуру и возвращает её UUID.
func (f *volunteerFixture) addStructure(t *testing.T, externalID string) string {
	t.Helper()
	st := &model.Structure{ID: "st-" + externalID, ExternalID: externalID, Enabled: true}
	if err := f.structRepo.Create(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	return st.ID
}

// seed кладёт волонтёра в кэш: листинг от родителя plus детальный payload.
func (f *volunteerFixture) seed(t *testing.T, parentID, volID, payload string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := f.curator.UpsertFromListing(ctx, model.KindVolunteer, parentID, []string{volID}); err != nil {
		t.Fatal(err)
	}
	if payload != "" {
		if err := f.curator.StoreDetail(ctx, model.KindVolunteer, volID, []byte(payload), at); err != nil {
			t.Fatal(err)
		}
	}
}

// fullPayload — детальный payload активного волонтёра со всеми категориями.
func fullPayload() string {
	return `{
		"user": {"id": "100", "prenom": "MARIE", "nom": "dupont", "dateNaissance": "1990-04-01", "actif": true},
		"coordonnees": [
			{"id": "c1", "moyenComId": "POR", "libelle": "0612345678"},
			{"id": "c2", "moyenComId": "MAIL", "libelle": "marie@example.org"}
		],
		"actions": [
			{"id": 5, "libelle": "Urgence", "groupeAction": {"id": 2, "libelle": "Secours"}, "structure": {"id": 89}}
		],
		"competences": [{"id": 7, "libelle": "Conduite VPSP"}],
		"formations": [
			{"id": "f1", "formation": {"id": "PSC1", "code": "PSC1", "libelle": "Premiers secours"}, "dateRecyclage": "2099-01-01"}
		],
		"nominations": []
	}`
}

func reportContains(report []string, tag string) bool {
	for _, line := range report {
		if strings.HasPrefix(line, tag) {
			return true
		}
	}
	return false
}

func TestVolunteerReconcile_FullUpdate(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	f.seed(t, "89", "100", fullPayload(), time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatalf("SyncAll() ошибка: %v", err)
	}
	if result.Visited != 1 || result.Outcomes[model.OutcomeUpdated] != 1 {
		t.Fatalf("result = %+v, ожидается visited=1 updated=1", result)
	}

	v, err := f.volRepo.GetByExternalID(ctx, "100")
	if err != nil {
		t.Fatalf("волонтёр не создан: %v", err)
	}

	// Имена нормализуются: первая буква заглавная, остальные строчные
	if v.FirstName != "Marie" || v.LastName != "Dupont" {
		t.Errorf("имя = %q %q, ожидается Marie Dupont", v.FirstName, v.LastName)
	}
	if v.Birthday == nil || v.Birthday.Year() != 1990 {
		t.Errorf("Birthday = %v, ожидается 1990-04-01", v.Birthday)
	}
	if v.Email == nil || *v.Email != "marie@example.org" {
		t.Errorf("Email = %v, ожидается marie@example.org", v.Email)
	}
	if !v.Enabled {
		t.Error("волонтёр должен быть активен")
	}

	// Телефон разобран в E.164 по региону по умолчанию, первый — preferred
	if len(v.Phones) != 1 {
		t.Fatalf("привязано %d номеров, ожидается 1", len(v.Phones))
	}
	if v.Phones[0].Number != "+33612345678" {
		t.Errorf("Number = %q, ожидается +33612345678", v.Phones[0].Number)
	}
	if !v.Phones[0].Preferred {
		t.Error("единственный номер должен быть preferred")
	}

	// Членство: объединение trail кэша и структур из активностей
	if len(v.StructureIDs) != 1 || v.StructureIDs[0] != "st-89" {
		t.Errorf("StructureIDs = %v, ожидается [st-89]", v.StructureIDs)
	}

	// Бейджи: активность, группа, компетенция, валидная формация
	if len(v.BadgeIDs) != 4 {
		t.Errorf("BadgeIDs = %v, ожидается 4 бейджа", v.BadgeIDs)
	}
	for _, externalID := range []string{"action-5", "groupeAction-2", "skill-7", "training-PSC1"} {
		if _, err := f.badgeRepo.GetByExternalID(ctx, externalID); err != nil {
			t.Errorf("бейдж %s не создан: %v", externalID, err)
		}
	}

	if !reportContains(v.Report, model.OutcomeUpdated) {
		t.Errorf("Report = %v, ожидается строка с тегом updated", v.Report)
	}

	f.publisher.mu.Lock()
	events := len(f.publisher.events)
	f.publisher.mu.Unlock()
	if events != 1 {
		t.Errorf("опубликовано %d событий, ожидается 1", events)
	}
}

func TestVolunteerReconcile_IdempotentSkip(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	f.seed(t, "89", "100", fullPayload(), time.Now().UTC())

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeSkipped] != 1 || result.Outcomes[model.OutcomeUpdated] != 0 {
		t.Errorf("повторный проход: outcomes = %v, ожидается skipped=1", result.Outcomes)
	}

	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if !reportContains(v.Report, model.OutcomeSkipped) {
		t.Errorf("Report = %v, ожидается строка с тегом skipped", v.Report)
	}

	// force игнорирует сравнение меток
	result, err = f.svc.SyncAll(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeUpdated] != 1 {
		t.Errorf("force-проход: outcomes = %v, ожидается updated=1", result.Outcomes)
	}
}

func TestVolunteerReconcile_Locked(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	f.addStructure(t, "102")
	now := time.Now().UTC()
	f.seed(t, "89", "100", fullPayload(), now)

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Оператор блокирует запись
	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	v.Locked = true
	if err := f.volRepo.Update(ctx, v); err != nil {
		t.Fatal(err)
	}

	// Источник переименовал персону и добавил структуру 102
	changed := strings.Replace(fullPayload(), `"prenom": "MARIE"`, `"prenom": "JEANNE"`, 1)
	changed = strings.Replace(changed, `"structure": {"id": 89}`, `"structure": {"id": 102}`, 1)
	f.seed(t, "89", "100", changed, now.Add(time.Minute))

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeUpdateLocked] != 1 {
		t.Errorf("outcomes = %v, ожидается update_locked=1", result.Outcomes)
	}

	v, _ = f.volRepo.GetByExternalID(ctx, "100")
	// Поля не перезаписаны
	if v.FirstName != "Marie" {
		t.Errorf("FirstName = %q, заблокированная запись перезаписана", v.FirstName)
	}
	// Членство при этом пересчитывается: trail |89| плюс активность в 102
	if len(v.StructureIDs) != 2 {
		t.Errorf("StructureIDs = %v, ожидается членство в двух структурах", v.StructureIDs)
	}
}

func TestVolunteerReconcile_InactiveDisabled(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.seed(t, "89", "100",
		`{"user": {"id": "100", "prenom": "MARIE", "nom": "dupont", "actif": false}}`,
		time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeDisabled] != 1 {
		t.Errorf("outcomes = %v, ожидается disabled=1", result.Outcomes)
	}

	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if v.Enabled {
		t.Error("неактивная в источнике персона должна быть отключена")
	}
	// Поля при этом не обновляются
	if v.FirstName != "" {
		t.Errorf("FirstName = %q, отключение не должно обновлять поля", v.FirstName)
	}
}

func TestVolunteerReconcile_Minor(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	birthday := time.Now().UTC().AddDate(-16, 0, -1).Format("2006-01-02")
	payload := fmt.Sprintf(
		`{"user": {"id": "100", "prenom": "Léa", "nom": "Martin", "dateNaissance": %q, "actif": true}}`,
		birthday)
	f.seed(t, "89", "100", payload, time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeMinor] != 1 {
		t.Errorf("outcomes = %v, ожидается minor=1", result.Outcomes)
	}

	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	// Несовершеннолетний отключается независимо от флага источника
	if v.Enabled {
		t.Error("несовершеннолетний должен быть принудительно отключён")
	}
	if !reportContains(v.Report, model.OutcomeMinor) {
		t.Errorf("Report = %v, ожидается строка с тегом minor", v.Report)
	}
}

func TestVolunteerReconcile_PhoneTakeoverFromDisabled(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()

	// Номер числится за отключённым волонтёром
	holder := &model.Volunteer{ID: "vol-old", ExternalID: "200", Enabled: false}
	if err := f.volRepo.Create(ctx, holder); err != nil {
		t.Fatal(err)
	}
	if err := f.volRepo.AddPhone(ctx, &model.Phone{
		ID: "ph-old", VolunteerID: "vol-old", Number: "+33612345678", Preferred: true,
	}); err != nil {
		t.Fatal(err)
	}

	f.seed(t, "89", "100", fullPayload(), time.Now().UTC())
	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Номер перехвачен новым волонтёром
	current, err := f.volRepo.FindPhoneHolder(ctx, "+33612345678")
	if err != nil {
		t.Fatalf("номер потерян: %v", err)
	}
	if current.ExternalID != "100" {
		t.Errorf("владелец номера = %s, ожидается 100", current.ExternalID)
	}

	old, _ := f.volRepo.GetByExternalID(ctx, "200")
	if len(old.Phones) != 0 {
		t.Errorf("у прежнего владельца осталось %d номеров, ожидается 0", len(old.Phones))
	}
}

func TestVolunteerReconcile_PhoneConflictWithEnabled(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()

	// Номер занят активным волонтёром — конфликт не разрешается
	holder := &model.Volunteer{ID: "vol-active", ExternalID: "200", Enabled: true}
	if err := f.volRepo.Create(ctx, holder); err != nil {
		t.Fatal(err)
	}
	if err := f.volRepo.AddPhone(ctx, &model.Phone{
		ID: "ph-active", VolunteerID: "vol-active", Number: "+33612345678", Preferred: true,
	}); err != nil {
		t.Fatal(err)
	}

	f.seed(t, "89", "100", fullPayload(), time.Now().UTC())
	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	current, _ := f.volRepo.FindPhoneHolder(ctx, "+33612345678")
	if current.ExternalID != "200" {
		t.Errorf("владелец номера = %s, активный владелец не должен терять номер", current.ExternalID)
	}
	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if len(v.Phones) != 0 {
		t.Errorf("спорный номер присвоен новому волонтёру: %v", v.Phones)
	}
}

func TestVolunteerReconcile_EmailDenylistOrdering(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	payload := `{
		"user": {"id": "100", "prenom": "Marie", "nom": "Dupont", "actif": true},
		"coordonnees": [
			{"id": "c1", "moyenComId": "MAIL", "libelle": "marie@croix-rouge.fr"},
			{"id": "c2", "moyenComId": "MAILDOM", "libelle": "perso@example.org"}
		]
	}`
	f.seed(t, "89", "100", payload, time.Now().UTC())

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Организационный домен отодвигается в конец, несмотря на приоритет канала
	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if v.Email == nil || *v.Email != "perso@example.org" {
		t.Errorf("Email = %v, ожидается perso@example.org", v.Email)
	}
}

func TestVolunteerReconcile_FavoriteEmailWins(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	payload := `{
		"user": {"id": "100", "prenom": "Marie", "nom": "Dupont", "actif": true},
		"coordonneesFavorite": "c1",
		"coordonnees": [
			{"id": "c1", "moyenComId": "MAIL", "libelle": "marie@croix-rouge.fr"},
			{"id": "c2", "moyenComId": "MAILDOM", "libelle": "perso@example.org"}
		]
	}`
	f.seed(t, "89", "100", payload, time.Now().UTC())

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Предпочитаемый контакт возвращается немедленно, denylist не применяется
	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if v.Email == nil || *v.Email != "marie@croix-rouge.fr" {
		t.Errorf("Email = %v, ожидается marie@croix-rouge.fr", v.Email)
	}
}

func TestVolunteerReconcile_ExpiredTrainingExcluded(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	expired := time.Now().UTC().AddDate(0, -8, 0).Format("2006-01-02")
	payload := fmt.Sprintf(`{
		"user": {"id": "100", "prenom": "Marie", "nom": "Dupont", "actif": true},
		"formations": [
			{"id": "f1", "formation": {"id": "PSC1", "code": "PSC1", "libelle": "Premiers secours"}, "dateRecyclage": %q}
		]
	}`, expired)
	f.seed(t, "89", "100", payload, time.Now().UTC())

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Ресертификация просрочена — бейдж формации не выдаётся
	if _, err := f.badgeRepo.GetByExternalID(ctx, "training-PSC1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("просроченная формация не должна создавать бейдж, err = %v", err)
	}
	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if len(v.BadgeIDs) != 0 {
		t.Errorf("BadgeIDs = %v, ожидается пустой набор", v.BadgeIDs)
	}
}

func TestVolunteerReconcile_AdminBadgeGrantsRole(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	payload := `{
		"user": {"id": "100", "prenom": "Marie", "nom": "Dupont", "actif": true},
		"nominations": [{"id": 1, "libelle": "Présidente"}]
	}`
	f.seed(t, "89", "100", payload, time.Now().UTC())

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	user, err := f.userRepo.GetByExternalID(ctx, "100")
	if err != nil {
		t.Fatalf("учётная запись не создана по административному бейджу: %v", err)
	}
	if !user.IsAdmin {
		t.Error("учётная запись должна нести флаг администратора")
	}

	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if v.UserID == nil || *v.UserID != user.ID {
		t.Error("обратная ссылка волонтёр → учётная запись не установлена")
	}

	// Второй проход синхронизирует scope структур учётной записи
	if _, err := f.svc.SyncAll(ctx, true); err != nil {
		t.Fatal(err)
	}
	user, _ = f.userRepo.GetByExternalID(ctx, "100")
	if len(user.StructureExternalIDs) != 1 || user.StructureExternalIDs[0] != "89" {
		t.Errorf("StructureExternalIDs = %v, ожидается [89]", user.StructureExternalIDs)
	}
}

func TestVolunteerReconcile_DisabledClearsTrusted(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	payload := `{
		"user": {"id": "100", "prenom": "Marie", "nom": "Dupont", "actif": true},
		"nominations": [{"id": 1, "libelle": "Présidente"}]
	}`
	now := time.Now().UTC()
	f.seed(t, "89", "100", payload, now)
	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	user, _ := f.userRepo.GetByExternalID(ctx, "100")
	user.IsTrusted = true
	if err := f.userRepo.Update(ctx, user); err != nil {
		t.Fatal(err)
	}

	// Источник отключил персону
	disabled := strings.Replace(payload, `"actif": true`, `"actif": false`, 1)
	f.seed(t, "89", "100", disabled, now.Add(time.Minute))
	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeDisabled] != 1 {
		t.Errorf("outcomes = %v, ожидается disabled=1", result.Outcomes)
	}

	user, _ = f.userRepo.GetByExternalID(ctx, "100")
	if user.IsTrusted {
		t.Error("флаг доверенности отключённого волонтёра должен быть снят")
	}
}

func TestVolunteerReconcile_DetailWithoutPersonID(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.seed(t, "89", "100", `{"user": {"actif": true}}`, time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeFailed] != 1 {
		t.Errorf("outcomes = %v, ожидается failed=1", result.Outcomes)
	}

	v, _ := f.volRepo.GetByExternalID(ctx, "100")
	if !reportContains(v.Report, model.OutcomeFailed) {
		t.Errorf("Report = %v, ожидается строка с тегом failed", v.Report)
	}
}

func TestVolunteerReconcile_EmptyPayloadSilentSkip(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	// Запись известна из листинга, но детальный payload ещё не загружен
	f.seed(t, "89", "100", "", time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Visited != 1 || len(result.Outcomes) != 0 {
		t.Errorf("result = %+v, ожидается молчаливый пропуск без исходов", result)
	}
	if _, err := f.volRepo.GetByExternalID(ctx, "100"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("волонтёр не должен создаваться без payload")
	}
}

func TestVolunteerReconcile_SharedBadgeNotDuplicated(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	payload := func(id string) string {
		return fmt.Sprintf(`{
			"user": {"id": %q, "actif": true},
			"competences": [{"id": 7, "libelle": "Conduite VPSP"}]
		}`, id)
	}
	if err := f.curator.UpsertFromListing(ctx, model.KindVolunteer, "89", []string{"100", "101"}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	for _, id := range []string{"100", "101"} {
		if err := f.curator.StoreDetail(ctx, model.KindVolunteer, id, []byte(payload(id)), now); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := f.svc.SyncAll(ctx, false); err != nil {
		t.Fatal(err)
	}

	// Общая компетенция даёт один бейдж, на который ссылаются оба волонтёра
	badge, err := f.badgeRepo.GetByExternalID(ctx, "skill-7")
	if err != nil {
		t.Fatalf("бейдж skill-7 не создан: %v", err)
	}
	for _, externalID := range []string{"100", "101"} {
		v, err := f.volRepo.GetByExternalID(ctx, externalID)
		if err != nil {
			t.Fatal(err)
		}
		if len(v.BadgeIDs) != 1 || v.BadgeIDs[0] != badge.ID {
			t.Errorf("волонтёр %s: BadgeIDs = %v, ожидается общий бейдж %s",
				externalID, v.BadgeIDs, badge.ID)
		}
	}
}

func TestVolunteerReconcile_MembershipFromTrailOnly(t *testing.T) {
	ctx := context.Background()
	f := newVolunteerFixture()
	f.addStructure(t, "89")
	// Волонтёр числится в листинге структуры 89, но в детальном payload
	// нет ни одной активности
	f.seed(t, "89", "100", `{"user": {"id": "100", "actif": true}}`, time.Now().UTC())

	result, err := f.svc.SyncAll(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcomes[model.OutcomeUpdated] != 1 {
		t.Fatalf("outcomes = %v, ожидается updated=1", result.Outcomes)
	}

	v, err := f.volRepo.GetByExternalID(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if len(v.StructureIDs) != 1 || v.StructureIDs[0] != "st-89" {
		t.Errorf("StructureIDs = %v, ожидается членство из trail кэша [st-89]", v.StructureIDs)
	}
}
