package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// BadgeRepository — интерфейс для таблицы badges.
type BadgeRepository interface {
	// GetByExternalID возвращает бейдж по namespaced external_id.
	GetByExternalID(ctx context.Context, externalID string) (*model.Badge, error)
	// GetOrCreate возвращает существующий бейдж с данным external_id
	// или создаёт новый. Дедупликация глобальная.
	GetOrCreate(ctx context.Context, b *model.Badge) (*model.Badge, error)
}

// badgeRepo — реализация BadgeRepository.
type badgeRepo struct {
	db DBTX
}

// NewBadgeRepository создаёт репозиторий бейджей.
func NewBadgeRepository(db DBTX) BadgeRepository {
	return &badgeRepo{db: db}
}

func (r *badgeRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Badge, error) {
	b := &model.Badge{}
	err := r.db.QueryRow(ctx,
		`SELECT id, external_id, name, description FROM badges WHERE external_id = $1`,
		externalID,
	).Scan(&b.ID, &b.ExternalID, &b.Name, &b.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения бейджа: %w", err)
	}
	return b, nil
}

func (r *badgeRepo) GetOrCreate(ctx context.Context, b *model.Badge) (*model.Badge, error) {
	existing, err := r.GetByExternalID(ctx, b.ExternalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	insertErr := r.db.QueryRow(ctx,
		`INSERT INTO badges (id, external_id, name, description)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		 RETURNING id, external_id, name, description`,
		b.ID, b.ExternalID, b.Name, b.Description,
	).Scan(&b.ID, &b.ExternalID, &b.Name, &b.Description)
	if insertErr != nil {
		return nil, fmt.Errorf("ошибка создания бейджа: %w", insertErr)
	}
	return b, nil
}
