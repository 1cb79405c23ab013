package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// UserRepository — интерфейс для таблицы users (связанные учётные записи).
type UserRepository interface {
	// Create создаёт учётную запись.
	Create(ctx context.Context, u *model.User) error
	// GetByID возвращает учётную запись по UUID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByExternalID возвращает учётную запись по внешнему идентификатору персоны.
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)
	// Update обновляет учётную запись.
	Update(ctx context.Context, u *model.User) error
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий учётных записей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, external_id, is_admin, is_trusted, structure_external_ids, created_at, updated_at`

// scanUser сканирует строку результата в модель User.
func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.IsAdmin, &u.IsTrusted,
		&u.StructureExternalIDs, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, external_id, is_admin, is_trusted, structure_external_ids)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.ExternalID, u.IsAdmin, u.IsTrusted, u.StructureExternalIDs,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: учётная запись для %s уже существует", ErrConflict, u.ExternalID)
		}
		return fmt.Errorf("ошибка создания учётной записи: %w", err)
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения учётной записи: %w", err)
	}
	return u, nil
}

func (r *userRepo) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE external_id = $1`, userColumns)
	u, err := scanUser(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения учётной записи по external_id: %w", err)
	}
	return u, nil
}

func (r *userRepo) Update(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET is_admin = $2, is_trusted = $3, structure_external_ids = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.IsAdmin, u.IsTrusted, u.StructureExternalIDs,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления учётной записи: %w", err)
	}
	return nil
}
