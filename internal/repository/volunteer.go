package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// VolunteerRepository — интерфейс для таблиц volunteers, phones,
// volunteer_structures и volunteer_badges.
type VolunteerRepository interface {
	// Create создаёт нового волонтёра.
	Create(ctx context.Context, v *model.Volunteer) error
	// GetByExternalID возвращает волонтёра по внешнему идентификатору
	// вместе с телефонами и членством.
	GetByExternalID(ctx context.Context, externalID string) (*model.Volunteer, error)
	// Update обновляет поля волонтёра (телефоны и членство — отдельными операциями).
	Update(ctx context.Context, v *model.Volunteer) error

	// StructureIDs возвращает UUID структур, в которых волонтёр состоит.
	StructureIDs(ctx context.Context, volunteerID string) ([]string, error)
	// AddStructure добавляет членство (идемпотентно).
	AddStructure(ctx context.Context, volunteerID, structureID string) error
	// RemoveStructure убирает членство.
	RemoveStructure(ctx context.Context, volunteerID, structureID string) error

	// ReplaceBadges полностью заменяет набор бейджей волонтёра.
	ReplaceBadges(ctx context.Context, volunteerID string, badgeIDs []string) error

	// AddPhone привязывает телефон.
	AddPhone(ctx context.Context, p *model.Phone) error
	// RemovePhone отвязывает телефон.
	RemovePhone(ctx context.Context, phoneID string) error
	// FindPhoneHolder возвращает волонтёра, владеющего каноническим номером.
	FindPhoneHolder(ctx context.Context, number string) (*model.Volunteer, error)

	// Count возвращает количество волонтёров.
	Count(ctx context.Context) (int, error)
}

// volunteerRepo — реализация VolunteerRepository.
type volunteerRepo struct {
	db DBTX
}

// NewVolunteerRepository создаёт репозиторий волонтёров.
func NewVolunteerRepository(db DBTX) VolunteerRepository {
	return &volunteerRepo{db: db}
}

const volunteerColumns = `id, external_id, first_name, last_name, birthday,
	email, email_locked, phone_locked, enabled, locked,
	last_upstream_update, user_id, report, created_at, updated_at`

// scanVolunteer сканирует строку результата в модель Volunteer (без связей).
func scanVolunteer(row pgx.Row) (*model.Volunteer, error) {
	v := &model.Volunteer{}
	err := row.Scan(
		&v.ID, &v.ExternalID, &v.FirstName, &v.LastName, &v.Birthday,
		&v.Email, &v.EmailLocked, &v.PhoneLocked, &v.Enabled, &v.Locked,
		&v.LastUpstreamUpdate, &v.UserID, &v.Report, &v.CreatedAt, &v.UpdatedAt,
	)
	return v, err
}

func (r *volunteerRepo) Create(ctx context.Context, v *model.Volunteer) error {
	query := `
		INSERT INTO volunteers (id, external_id, first_name, last_name, birthday,
			email, email_locked, phone_locked, enabled, locked,
			last_upstream_update, user_id, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		v.ID, v.ExternalID, v.FirstName, v.LastName, v.Birthday,
		v.Email, v.EmailLocked, v.PhoneLocked, v.Enabled, v.Locked,
		v.LastUpstreamUpdate, v.UserID, v.Report,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: волонтёр с external_id %s уже существует", ErrConflict, v.ExternalID)
		}
		return fmt.Errorf("ошибка создания волонтёра: %w", err)
	}
	return nil
}

func (r *volunteerRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Volunteer, error) {
	query := fmt.Sprintf(`SELECT %s FROM volunteers WHERE external_id = $1`, volunteerColumns)
	v, err := scanVolunteer(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения волонтёра по external_id: %w", err)
	}
	return r.loadRelations(ctx, v)
}

// getByID — внутренний вариант для FindPhoneHolder.
func (r *volunteerRepo) getByID(ctx context.Context, id string) (*model.Volunteer, error) {
	query := fmt.Sprintf(`SELECT %s FROM volunteers WHERE id = $1`, volunteerColumns)
	v, err := scanVolunteer(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения волонтёра: %w", err)
	}
	return r.loadRelations(ctx, v)
}

// loadRelations догружает телефоны, членство и бейджи.
func (r *volunteerRepo) loadRelations(ctx context.Context, v *model.Volunteer) (*model.Volunteer, error) {
	phones, err := r.phones(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	v.Phones = phones

	v.StructureIDs, err = r.StructureIDs(ctx, v.ID)
	if err != nil {
		return nil, err
	}

	v.BadgeIDs, err = r.badgeIDs(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *volunteerRepo) phones(ctx context.Context, volunteerID string) ([]*model.Phone, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, volunteer_id, number, preferred
		 FROM phones WHERE volunteer_id = $1 ORDER BY preferred DESC, number`,
		volunteerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения телефонов: %w", err)
	}
	defer rows.Close()

	var result []*model.Phone
	for rows.Next() {
		p := &model.Phone{}
		if err := rows.Scan(&p.ID, &p.VolunteerID, &p.Number, &p.Preferred); err != nil {
			return nil, fmt.Errorf("ошибка сканирования телефона: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *volunteerRepo) badgeIDs(ctx context.Context, volunteerID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT badge_id FROM volunteer_badges WHERE volunteer_id = $1`, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения бейджей волонтёра: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования бейджа: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *volunteerRepo) Update(ctx context.Context, v *model.Volunteer) error {
	query := `
		UPDATE volunteers
		SET first_name = $2, last_name = $3, birthday = $4,
			email = $5, email_locked = $6, phone_locked = $7,
			enabled = $8, locked = $9, last_upstream_update = $10,
			user_id = $11, report = $12, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		v.ID, v.FirstName, v.LastName, v.Birthday,
		v.Email, v.EmailLocked, v.PhoneLocked,
		v.Enabled, v.Locked, v.LastUpstreamUpdate,
		v.UserID, v.Report,
	).Scan(&v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления волонтёра: %w", err)
	}
	return nil
}

func (r *volunteerRepo) StructureIDs(ctx context.Context, volunteerID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT structure_id FROM volunteer_structures WHERE volunteer_id = $1`, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения членства: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования членства: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *volunteerRepo) AddStructure(ctx context.Context, volunteerID, structureID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO volunteer_structures (volunteer_id, structure_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		volunteerID, structureID)
	if err != nil {
		return fmt.Errorf("ошибка добавления членства: %w", err)
	}
	return nil
}

func (r *volunteerRepo) RemoveStructure(ctx context.Context, volunteerID, structureID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM volunteer_structures WHERE volunteer_id = $1 AND structure_id = $2`,
		volunteerID, structureID)
	if err != nil {
		return fmt.Errorf("ошибка удаления членства: %w", err)
	}
	return nil
}

func (r *volunteerRepo) ReplaceBadges(ctx context.Context, volunteerID string, badgeIDs []string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM volunteer_badges WHERE volunteer_id = $1`, volunteerID); err != nil {
		return fmt.Errorf("ошибка очистки бейджей: %w", err)
	}
	for _, badgeID := range badgeIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO volunteer_badges (volunteer_id, badge_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			volunteerID, badgeID); err != nil {
			return fmt.Errorf("ошибка добавления бейджа: %w", err)
		}
	}
	return nil
}

func (r *volunteerRepo) AddPhone(ctx context.Context, p *model.Phone) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO phones (id, volunteer_id, number, preferred)
		 VALUES ($1, $2, $3, $4)`,
		p.ID, p.VolunteerID, p.Number, p.Preferred)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: номер %s уже привязан", ErrConflict, p.Number)
		}
		return fmt.Errorf("ошибка привязки телефона: %w", err)
	}
	return nil
}

func (r *volunteerRepo) RemovePhone(ctx context.Context, phoneID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM phones WHERE id = $1`, phoneID)
	if err != nil {
		return fmt.Errorf("ошибка отвязки телефона: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *volunteerRepo) FindPhoneHolder(ctx context.Context, number string) (*model.Volunteer, error) {
	var volunteerID string
	err := r.db.QueryRow(ctx,
		`SELECT volunteer_id FROM phones WHERE number = $1`, number,
	).Scan(&volunteerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска владельца номера: %w", err)
	}
	return r.getByID(ctx, volunteerID)
}

func (r *volunteerRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM volunteers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта волонтёров: %w", err)
	}
	return count, nil
}
