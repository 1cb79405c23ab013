package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// StructureRepository — интерфейс для таблицы structures.
type StructureRepository interface {
	// Create создаёт новую структуру.
	Create(ctx context.Context, s *model.Structure) error
	// GetByID возвращает структуру по UUID.
	GetByID(ctx context.Context, id string) (*model.Structure, error)
	// GetByExternalID возвращает структуру по внешнему идентификатору.
	GetByExternalID(ctx context.Context, externalID string) (*model.Structure, error)
	// Update обновляет структуру.
	Update(ctx context.Context, s *model.Structure) error
	// Ancestors возвращает UUID всех предков структуры (транзитивное
	// замыкание parent_id), от ближайшего к корню.
	Ancestors(ctx context.Context, id string) ([]string, error)
	// Count возвращает количество структур.
	Count(ctx context.Context) (int, error)
}

// structureRepo — реализация StructureRepository.
type structureRepo struct {
	db DBTX
}

// NewStructureRepository создаёт репозиторий структур.
func NewStructureRepository(db DBTX) StructureRepository {
	return &structureRepo{db: db}
}

const structureColumns = `id, external_id, name, president, parent_id,
	last_upstream_update, locked, enabled, created_at, updated_at`

// scanStructure сканирует строку результата в модель Structure.
func scanStructure(row pgx.Row) (*model.Structure, error) {
	s := &model.Structure{}
	err := row.Scan(
		&s.ID, &s.ExternalID, &s.Name, &s.President, &s.ParentID,
		&s.LastUpstreamUpdate, &s.Locked, &s.Enabled, &s.CreatedAt, &s.UpdatedAt,
	)
	return s, err
}

func (r *structureRepo) Create(ctx context.Context, s *model.Structure) error {
	query := `
		INSERT INTO structures (id, external_id, name, president, parent_id,
			last_upstream_update, locked, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.ExternalID, s.Name, s.President, s.ParentID,
		s.LastUpstreamUpdate, s.Locked, s.Enabled,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: структура с external_id %s уже существует", ErrConflict, s.ExternalID)
		}
		return fmt.Errorf("ошибка создания структуры: %w", err)
	}
	return nil
}

func (r *structureRepo) GetByID(ctx context.Context, id string) (*model.Structure, error) {
	query := fmt.Sprintf(`SELECT %s FROM structures WHERE id = $1`, structureColumns)
	s, err := scanStructure(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения структуры: %w", err)
	}
	return s, nil
}

func (r *structureRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Structure, error) {
	query := fmt.Sprintf(`SELECT %s FROM structures WHERE external_id = $1`, structureColumns)
	s, err := scanStructure(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения структуры по external_id: %w", err)
	}
	return s, nil
}

func (r *structureRepo) Update(ctx context.Context, s *model.Structure) error {
	query := `
		UPDATE structures
		SET name = $2, president = $3, parent_id = $4,
			last_upstream_update = $5, locked = $6, enabled = $7,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.Name, s.President, s.ParentID,
		s.LastUpstreamUpdate, s.Locked, s.Enabled,
	).Scan(&s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления структуры: %w", err)
	}
	return nil
}

func (r *structureRepo) Ancestors(ctx context.Context, id string) ([]string, error) {
	// Рекурсивный обход parent_id. Защита от бесконечного цикла
	// глубиной 64: инвариант ацикличности поддерживает реконсилятор,
	// но повреждённые данные не должны вешать запрос.
	query := `
		WITH RECURSIVE chain(id, parent_id, depth) AS (
			SELECT s.id, s.parent_id, 0 FROM structures s WHERE s.id = $1
			UNION ALL
			SELECT s.id, s.parent_id, c.depth + 1
			FROM structures s
			JOIN chain c ON s.id = c.parent_id
			WHERE c.depth < 64
		)
		SELECT id FROM chain WHERE depth > 0 ORDER BY depth`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предков структуры: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var ancestorID string
		if err := rows.Scan(&ancestorID); err != nil {
			return nil, fmt.Errorf("ошибка сканирования предка: %w", err)
		}
		result = append(result, ancestorID)
	}
	return result, rows.Err()
}

func (r *structureRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM structures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта структур: %w", err)
	}
	return count, nil
}
