// volunteer_sync.go — реконсилятор волонтёров.
//
// Проецирует записи кэша типа volunteer на локальных волонтёров.
// Конечный автомат на волонтёра (терминальные исходы взаимоисключающие,
// первый совпавший выигрывает, каждый добавляет помеченную строку в report
// и сохраняет запись):
//
//  1. Payload без идентификатора персоны → молчаливый пропуск.
//  2. Resolve-or-create по external_id; сброс report.
//  3. Пересчёт членства: объединение trail записи кэша и структур
//     из активностей волонтёра.
//  4. Locked → update_locked: только членство и связанная учётная запись.
//  5. Источник пометил неактивным → disabled.
//  6. Идемпотентный пропуск (метки времени совпали, не force) → skipped.
//  7. Идентификатор персоны отсутствует в детальном payload → failed.
//  8. Полное обновление: имена, дата рождения, телефоны, email, бейджи;
//     несовершеннолетний → minor с принудительным enabled=false.
//
// Вывод административной роли (deriveAdminRole) выполняется безусловно
// в конце каждого исхода.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"

	"github.com/benevalert/sync-module/internal/domain/model"
	"github.com/benevalert/sync-module/internal/queue"
	"github.com/benevalert/sync-module/internal/repository"
	"github.com/benevalert/sync-module/internal/upstream"
)

// TrainingValidityMonths — окно валидности формации: бейдж формации с
// датой ресертификации старше этого окна исключается из набора.
const TrainingValidityMonths = 6

// VolunteerSyncService — реконсилятор волонтёров.
type VolunteerSyncService struct {
	curator       *Curator
	volunteerRepo repository.VolunteerRepository
	structureRepo repository.StructureRepository
	badgeRepo     repository.BadgeRepository
	userRepo      repository.UserRepository
	publisher     queue.Publisher

	defaultRegion string
	adminBadgeID  string
	emailDenylist []string

	logger *slog.Logger
}

// NewVolunteerSyncService создаёт реконсилятор волонтёров.
func NewVolunteerSyncService(
	curator *Curator,
	volunteerRepo repository.VolunteerRepository,
	structureRepo repository.StructureRepository,
	badgeRepo repository.BadgeRepository,
	userRepo repository.UserRepository,
	publisher queue.Publisher,
	defaultRegion string,
	adminBadgeID string,
	emailDenylist []string,
	logger *slog.Logger,
) *VolunteerSyncService {
	return &VolunteerSyncService{
		curator:       curator,
		volunteerRepo: volunteerRepo,
		structureRepo: structureRepo,
		badgeRepo:     badgeRepo,
		userRepo:      userRepo,
		publisher:     publisher,
		defaultRegion: defaultRegion,
		adminBadgeID:  adminBadgeID,
		emailDenylist: emailDenylist,
		logger:        logger.With(slog.String("component", "volunteer_sync")),
	}
}

// SyncAll выполняет полный проход по кэшированным волонтёрам.
func (s *VolunteerSyncService) SyncAll(ctx context.Context, force bool) (*model.VolunteerSyncResult, error) {
	result := &model.VolunteerSyncResult{Outcomes: make(map[string]int)}

	visited, failed, err := s.curator.Walk(ctx, model.KindVolunteer,
		func(ctx context.Context, rec *model.UpstreamRecord) error {
			outcome, err := s.ReconcileOne(ctx, rec, force)
			if outcome != "" {
				result.Outcomes[outcome]++
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	result.Visited = visited
	result.Failed = failed

	s.logger.Info("Проход по волонтёрам завершён",
		slog.Int("visited", result.Visited),
		slog.Int("failed", result.Failed),
		slog.Any("outcomes", result.Outcomes),
	)
	return result, nil
}

// ReconcileOne проецирует одну запись кэша на локального волонтёра.
// Возвращает тег терминального исхода либо "" для молчаливого пропуска.
func (s *VolunteerSyncService) ReconcileOne(ctx context.Context, rec *model.UpstreamRecord, force bool) (string, error) {
	// Шаг 1: запись без идентификатора персоны — ожидаемый шум источника.
	if rec.Identifier == "" {
		return "", nil
	}
	detail, err := upstream.DecodeVolunteer(rec.Content)
	if err != nil {
		s.logger.Debug("Запись волонтёра без корректного payload пропущена",
			slog.String("identifier", rec.Identifier),
		)
		return "", nil
	}

	// Шаг 2: resolve-or-create, сброс report.
	v, err := s.resolveOrCreate(ctx, rec)
	if err != nil {
		return "", err
	}
	v.Report = []string{}
	now := time.Now().UTC()

	// Шаг 3: пересчёт членства.
	memberExternalIDs, err := s.recomputeMembership(ctx, v, rec, detail)
	if err != nil {
		return "", err
	}

	// Шаг 4: локальная блокировка — только членство и учётная запись.
	if v.Locked {
		v.AppendReport(model.OutcomeUpdateLocked + ": запись заблокирована локально, поля не перезаписаны")
		return s.finish(ctx, v, model.OutcomeUpdateLocked, memberExternalIDs, true)
	}

	// Шаг 5: источник пометил персону неактивной.
	if !detail.User.Active {
		v.Enabled = false
		v.LastUpstreamUpdate = rec.UpdatedAt
		v.AppendReport(model.OutcomeDisabled + ": персона неактивна в источнике")
		return s.finish(ctx, v, model.OutcomeDisabled, memberExternalIDs, false)
	}

	// Шаг 6: идемпотентный пропуск.
	if !force && sameSecond(v.LastUpstreamUpdate, rec.UpdatedAt) {
		v.AppendReport(model.OutcomeSkipped + ": метки времени совпали")
		return s.finish(ctx, v, model.OutcomeSkipped, memberExternalIDs, false)
	}

	// Шаг 7: детальный payload без идентификатора персоны.
	if detail.User.ID == "" {
		v.AppendReport(model.OutcomeFailed + ": детальный payload без идентификатора персоны")
		return s.finish(ctx, v, model.OutcomeFailed, memberExternalIDs, false)
	}

	// Шаг 8: полное обновление.
	v.Enabled = true
	v.FirstName = normalizeName(detail.User.FirstName)
	v.LastName = normalizeName(detail.User.LastName)
	if birthday := upstream.ParseBirthday(detail.User.Birthday); birthday != nil {
		v.Birthday = birthday
	}

	if !v.PhoneLocked {
		if err := s.resolvePhones(ctx, v, detail); err != nil {
			return "", err
		}
	}
	if !v.EmailLocked {
		if email := s.resolveEmail(detail); email != nil {
			v.Email = email
		}
	}

	if err := s.replaceBadges(ctx, v, detail, now); err != nil {
		return "", err
	}

	v.LastUpstreamUpdate = rec.UpdatedAt

	// Несовершеннолетний принудительно отключается независимо от
	// флага источника.
	if v.IsMinor(now) {
		v.Enabled = false
		v.AppendReport(model.OutcomeMinor + ": несовершеннолетний, принудительно отключён")
		return s.finish(ctx, v, model.OutcomeMinor, memberExternalIDs, false)
	}

	v.AppendReport(model.OutcomeUpdated + ": полное обновление применено")
	outcome, err := s.finish(ctx, v, model.OutcomeUpdated, memberExternalIDs, true)
	if err != nil {
		return "", err
	}
	s.publishUpdated(ctx, v)
	return outcome, nil
}

// resolveOrCreate возвращает локального волонтёра по external_id,
// создавая запись при первой встрече.
func (s *VolunteerSyncService) resolveOrCreate(ctx context.Context, rec *model.UpstreamRecord) (*model.Volunteer, error) {
	v, err := s.volunteerRepo.GetByExternalID(ctx, rec.Identifier)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, repository.ErrNotFound):
		v = &model.Volunteer{
			ID:                 uuid.New().String(),
			ExternalID:         rec.Identifier,
			Enabled:            true,
			LastUpstreamUpdate: model.SentinelTime,
			Report:             []string{},
		}
		if err := s.volunteerRepo.Create(ctx, v); err != nil {
			return nil, fmt.Errorf("создание волонтёра %s: %w", rec.Identifier, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("получение волонтёра %s: %w", rec.Identifier, err)
	}
}

// recomputeMembership пересчитывает членство волонтёра: объединение
// структур из trail записи кэша и структур из активностей payload
// (дедупликация по идентификатору структуры). Лишние членства удаляются,
// недостающие добавляются. Возвращает external_id применённых структур.
func (s *VolunteerSyncService) recomputeMembership(ctx context.Context, v *model.Volunteer, rec *model.UpstreamRecord, detail *upstream.VolunteerDetail) ([]string, error) {
	wantExternal := make(map[string]bool)
	for _, id := range rec.ParentTrail.IDs() {
		wantExternal[id] = true
	}
	for _, action := range detail.Actions {
		if action.Structure.ID != 0 {
			wantExternal[strconv.FormatInt(action.Structure.ID, 10)] = true
		}
	}

	// Преобразуем external_id в локальные UUID; не материализованные
	// локально структуры пропускаются до следующего прохода.
	wantLocal := make(map[string]bool, len(wantExternal))
	var appliedExternal []string
	for externalID := range wantExternal {
		st, err := s.structureRepo.GetByExternalID(ctx, externalID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("получение структуры %s: %w", externalID, err)
		}
		wantLocal[st.ID] = true
		appliedExternal = append(appliedExternal, externalID)
	}
	sort.Strings(appliedExternal)

	// Удаляем членства, выпавшие из пересчитанного набора.
	var kept []string
	for _, structureID := range v.StructureIDs {
		if wantLocal[structureID] {
			kept = append(kept, structureID)
			continue
		}
		if err := s.volunteerRepo.RemoveStructure(ctx, v.ID, structureID); err != nil {
			return nil, fmt.Errorf("удаление членства волонтёра %s: %w", v.ExternalID, err)
		}
	}

	// Добавляем недостающие (идемпотентно).
	have := make(map[string]bool, len(kept))
	for _, id := range kept {
		have[id] = true
	}
	for structureID := range wantLocal {
		if have[structureID] {
			continue
		}
		if err := s.volunteerRepo.AddStructure(ctx, v.ID, structureID); err != nil {
			return nil, fmt.Errorf("добавление членства волонтёра %s: %w", v.ExternalID, err)
		}
		kept = append(kept, structureID)
	}

	sort.Strings(kept)
	v.StructureIDs = kept
	return appliedExternal, nil
}

// finish — общий хвост каждого терминального исхода: сохранение волонтёра,
// синхронизация связанной учётной записи (при syncUser) и безусловный
// вывод административной роли.
func (s *VolunteerSyncService) finish(ctx context.Context, v *model.Volunteer, outcome string, memberExternalIDs []string, syncUser bool) (string, error) {
	if err := s.volunteerRepo.Update(ctx, v); err != nil {
		return "", fmt.Errorf("сохранение волонтёра %s: %w", v.ExternalID, err)
	}
	if syncUser {
		if err := s.syncLinkedUser(ctx, v, memberExternalIDs); err != nil {
			return "", err
		}
	}
	if err := s.deriveAdminRole(ctx, v); err != nil {
		return "", err
	}
	return outcome, nil
}

// resolvePhones — выбор канонических телефонов (правила 4.3.1 спецификации
// продукта): whitelist каналов в порядке приоритета, разбор в E.164,
// перехват номера у отключённого владельца, preferred только для первого
// номера волонтёра.
func (s *VolunteerSyncService) resolvePhones(ctx context.Context, v *model.Volunteer, detail *upstream.VolunteerDetail) error {
	for _, channel := range upstream.PhoneChannels {
		for _, contact := range detail.Contacts {
			if contact.ChannelID != channel || contact.Value == "" {
				continue
			}

			parsed, err := phonenumbers.Parse(contact.Value, s.defaultRegion)
			if err != nil || !phonenumbers.IsValidNumber(parsed) {
				// Неразбираемый кандидат не фатален, пробуем следующий.
				continue
			}
			number := phonenumbers.Format(parsed, phonenumbers.E164)

			if v.HasPhone(number) {
				continue
			}

			holder, err := s.volunteerRepo.FindPhoneHolder(ctx, number)
			switch {
			case err == nil:
				if holder.Enabled {
					// Номер занят активным волонтёром — конфликт
					// оставляем, номер не присваиваем.
					s.logger.Debug("Номер занят активным волонтёром",
						slog.String("number", number),
						slog.String("holder", holder.ExternalID),
					)
					continue
				}
				// Номер отключённого волонтёра подлежит перехвату.
				if err := s.transferPhone(ctx, holder, number); err != nil {
					return err
				}
			case errors.Is(err, repository.ErrNotFound):
				// Номер свободен.
			default:
				return fmt.Errorf("поиск владельца номера %s: %w", number, err)
			}

			phone := &model.Phone{
				ID:          uuid.New().String(),
				VolunteerID: v.ID,
				Number:      number,
				Preferred:   len(v.Phones) == 0,
			}
			if err := s.volunteerRepo.AddPhone(ctx, phone); err != nil {
				return fmt.Errorf("привязка номера %s волонтёру %s: %w", number, v.ExternalID, err)
			}
			v.Phones = append(v.Phones, phone)
		}
	}
	return nil
}

// transferPhone отвязывает номер от отключённого владельца и сохраняет его.
func (s *VolunteerSyncService) transferPhone(ctx context.Context, holder *model.Volunteer, number string) error {
	for _, p := range holder.Phones {
		if p.Number != number {
			continue
		}
		if err := s.volunteerRepo.RemovePhone(ctx, p.ID); err != nil {
			return fmt.Errorf("отвязка номера %s от волонтёра %s: %w", number, holder.ExternalID, err)
		}
	}
	if err := s.volunteerRepo.Update(ctx, holder); err != nil {
		return fmt.Errorf("сохранение прежнего владельца номера %s: %w", holder.ExternalID, err)
	}
	s.logger.Info("Номер перехвачен у отключённого волонтёра",
		slog.String("number", number),
		slog.String("previous_holder", holder.ExternalID),
	)
	return nil
}

// emailPattern — минимальная проверка формы адреса.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// resolveEmail — выбор канонического адреса (правила 4.3.2): whitelist
// email-каналов с валидацией формы; совпадение с предпочитаемой контактной
// записью возвращается немедленно; адреса на доменах организации
// сортируются в конец.
func (s *VolunteerSyncService) resolveEmail(detail *upstream.VolunteerDetail) *string {
	type candidate struct {
		value      string
		denylisted bool
	}
	var candidates []candidate

	for _, channel := range upstream.MailChannels {
		for _, contact := range detail.Contacts {
			if contact.ChannelID != channel || !emailPattern.MatchString(contact.Value) {
				continue
			}
			if detail.FavoriteContactID != "" && contact.ID == detail.FavoriteContactID {
				value := contact.Value
				return &value
			}
			candidates = append(candidates, candidate{
				value:      contact.Value,
				denylisted: s.isDenylistedDomain(contact.Value),
			})
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	// Кандидаты уже в порядке приоритета каналов; стабильная сортировка
	// лишь отодвигает организационные домены в конец.
	sort.SliceStable(candidates, func(i, j int) bool {
		return !candidates[i].denylisted && candidates[j].denylisted
	})

	value := candidates[0].value
	return &value
}

// isDenylistedDomain — адрес на домене организации.
func (s *VolunteerSyncService) isDenylistedDomain(address string) bool {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return false
	}
	domain := strings.ToLower(address[at+1:])
	for _, denied := range s.emailDenylist {
		if domain == strings.ToLower(denied) {
			return true
		}
	}
	return false
}

// replaceBadges пересчитывает полный набор бейджей волонтёра (правила
// 4.3.3): четыре независимые категории источника, глобальная дедупликация
// по external_id, ленивое создание с обрезкой полей, полная замена набора.
func (s *VolunteerSyncService) replaceBadges(ctx context.Context, v *model.Volunteer, detail *upstream.VolunteerDetail, now time.Time) error {
	seen := make(map[string]bool)
	var badgeIDs []string

	add := func(kind, upstreamID, name, description string) error {
		if upstreamID == "" || upstreamID == "0" {
			return nil
		}
		externalID := model.BadgeExternalID(kind, upstreamID)
		if seen[externalID] {
			return nil
		}
		seen[externalID] = true

		if description == "" {
			description = name
		}
		badge, err := s.badgeRepo.GetOrCreate(ctx, &model.Badge{
			ID:          uuid.New().String(),
			ExternalID:  externalID,
			Name:        model.TruncateRunes(name, model.BadgeNameMaxLen),
			Description: model.TruncateRunes(description, model.BadgeDescriptionMaxLen),
		})
		if err != nil {
			return fmt.Errorf("получение бейджа %s: %w", externalID, err)
		}
		badgeIDs = append(badgeIDs, badge.ID)
		return nil
	}

	for _, action := range detail.Actions {
		if err := add(model.BadgeKindAction, strconv.FormatInt(action.ID, 10), action.Label, ""); err != nil {
			return err
		}
		if action.GroupAction.ID != 0 {
			if err := add(model.BadgeKindActionGroup,
				strconv.FormatInt(action.GroupAction.ID, 10), action.GroupAction.Label, ""); err != nil {
				return err
			}
		}
	}
	for _, skill := range detail.Skills {
		if err := add(model.BadgeKindSkill, strconv.FormatInt(skill.ID, 10), skill.Label, ""); err != nil {
			return err
		}
	}
	for _, training := range detail.Trainings {
		// Просроченные формации исключаются целиком: ресертификация
		// требовалась раньше окна валидности.
		if trainingExpired(training.RefreshDueAt, now) {
			continue
		}
		name := training.Formation.Label
		if name == "" {
			name = training.Formation.Code
		}
		if err := add(model.BadgeKindTraining, training.Formation.ID, name, ""); err != nil {
			return err
		}
	}
	for _, nomination := range detail.Nominations {
		if err := add(model.BadgeKindNomination, strconv.FormatInt(nomination.ID, 10), nomination.Label, ""); err != nil {
			return err
		}
	}

	if err := s.volunteerRepo.ReplaceBadges(ctx, v.ID, badgeIDs); err != nil {
		return fmt.Errorf("замена бейджей волонтёра %s: %w", v.ExternalID, err)
	}
	v.BadgeIDs = badgeIDs
	return nil
}

// trainingExpired — дата ресертификации формации старше окна валидности.
// Неразбираемая дата считается валидной (формация не исключается).
func trainingExpired(refreshDueAt string, now time.Time) bool {
	if refreshDueAt == "" {
		return false
	}
	due, err := time.Parse("2006-01-02", refreshDueAt[:min(len(refreshDueAt), 10)])
	if err != nil {
		return false
	}
	return due.Before(now.AddDate(0, -TrainingValidityMonths, 0))
}

// deriveAdminRole — безусловный вывод административной роли в конце
// каждого исхода реконсиляции:
//   - отключённый волонтёр со связанной учётной записью теряет флаг
//     доверенности; дальнейшая оценка не выполняется;
//   - волонтёр с административным бейджем получает учётную запись
//     (создаётся по требованию) с установленным флагом администратора.
//
// Автоматическое снятие административного флага при потере бейджа
// сознательно не выполняется.
func (s *VolunteerSyncService) deriveAdminRole(ctx context.Context, v *model.Volunteer) error {
	if !v.Enabled {
		if v.UserID == nil {
			return nil
		}
		user, err := s.userRepo.GetByID(ctx, *v.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("получение учётной записи волонтёра %s: %w", v.ExternalID, err)
		}
		if user.IsTrusted {
			user.IsTrusted = false
			if err := s.userRepo.Update(ctx, user); err != nil {
				return fmt.Errorf("снятие флага доверенности %s: %w", v.ExternalID, err)
			}
			s.logger.Info("Флаг доверенности снят: волонтёр отключён",
				slog.String("external_id", v.ExternalID),
			)
		}
		return nil
	}

	hasAdmin, err := s.hasAdminBadge(ctx, v)
	if err != nil {
		return err
	}
	if !hasAdmin {
		return nil
	}

	user, err := s.ensureUser(ctx, v)
	if err != nil {
		return err
	}
	if !user.IsAdmin {
		user.IsAdmin = true
		if err := s.userRepo.Update(ctx, user); err != nil {
			return fmt.Errorf("установка флага администратора %s: %w", v.ExternalID, err)
		}
		s.logger.Info("Флаг администратора установлен по бейджу",
			slog.String("external_id", v.ExternalID),
			slog.String("badge", s.adminBadgeID),
		)
	}
	return nil
}

// hasAdminBadge — волонтёр несёт административный бейдж.
func (s *VolunteerSyncService) hasAdminBadge(ctx context.Context, v *model.Volunteer) (bool, error) {
	badge, err := s.badgeRepo.GetByExternalID(ctx, s.adminBadgeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("получение административного бейджа: %w", err)
	}
	for _, id := range v.BadgeIDs {
		if id == badge.ID {
			return true, nil
		}
	}
	return false, nil
}

// ensureUser возвращает связанную учётную запись волонтёра, создавая её
// по требованию и устанавливая обратную ссылку.
func (s *VolunteerSyncService) ensureUser(ctx context.Context, v *model.Volunteer) (*model.User, error) {
	if v.UserID != nil {
		user, err := s.userRepo.GetByID(ctx, *v.UserID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("получение учётной записи волонтёра %s: %w", v.ExternalID, err)
		}
	}

	user, err := s.userRepo.GetByExternalID(ctx, v.ExternalID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		user = &model.User{
			ID:         uuid.New().String(),
			ExternalID: v.ExternalID,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("создание учётной записи волонтёра %s: %w", v.ExternalID, err)
		}
	default:
		return nil, fmt.Errorf("поиск учётной записи волонтёра %s: %w", v.ExternalID, err)
	}

	if v.UserID == nil || *v.UserID != user.ID {
		v.UserID = &user.ID
		if err := s.volunteerRepo.Update(ctx, v); err != nil {
			return nil, fmt.Errorf("установка ссылки на учётную запись %s: %w", v.ExternalID, err)
		}
	}
	return user, nil
}

// syncLinkedUser синхронизирует scope структур связанной учётной записи
// с членством волонтёра.
func (s *VolunteerSyncService) syncLinkedUser(ctx context.Context, v *model.Volunteer, memberExternalIDs []string) error {
	if v.UserID == nil {
		return nil
	}
	user, err := s.userRepo.GetByID(ctx, *v.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("получение учётной записи волонтёра %s: %w", v.ExternalID, err)
	}

	if equalStringSets(user.StructureExternalIDs, memberExternalIDs) {
		return nil
	}
	user.StructureExternalIDs = memberExternalIDs
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("синхронизация scope учётной записи %s: %w", v.ExternalID, err)
	}
	return nil
}

// publishUpdated отправляет уведомление об обновлённом волонтёре.
func (s *VolunteerSyncService) publishUpdated(ctx context.Context, v *model.Volunteer) {
	err := s.publisher.PublishEntityUpdated(ctx, queue.EntityUpdatedEvent{
		Kind:       "volunteer",
		ID:         v.ID,
		ExternalID: v.ExternalID,
		Name:       strings.TrimSpace(v.FirstName + " " + v.LastName),
		Enabled:    v.Enabled,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.logger.Warn("Ошибка публикации уведомления об обновлении",
			slog.String("external_id", v.ExternalID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeName — первая буква заглавная, остальные строчные.
func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r := []rune(strings.ToLower(name))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// equalStringSets сравнивает срезы как множества.
func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if !set[s] {
			return false
		}
	}
	return true
}
