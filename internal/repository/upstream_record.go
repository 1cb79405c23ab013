package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/benevalert/sync-module/internal/domain/model"
)

// UpstreamRecordRepository — интерфейс для таблицы upstream_records (кэш фида).
type UpstreamRecordRepository interface {
	// Create создаёт новую запись кэша.
	Create(ctx context.Context, rec *model.UpstreamRecord) error
	// GetByIdentifier возвращает запись по (kind, identifier).
	GetByIdentifier(ctx context.Context, kind model.RecordKind, identifier string) (*model.UpstreamRecord, error)
	// ListEnabled возвращает все активные записи указанного типа
	// в порядке обнаружения (created_at).
	ListEnabled(ctx context.Context, kind model.RecordKind) ([]*model.UpstreamRecord, error)
	// ListStale возвращает активные записи, загруженные раньше olderThan
	// (включая записи с сигнальной меткой «ни разу не загружена»).
	ListStale(ctx context.Context, kind model.RecordKind, olderThan time.Time) ([]*model.UpstreamRecord, error)
	// Update обновляет запись кэша.
	Update(ctx context.Context, rec *model.UpstreamRecord) error
	// MarkStaleExcept сбрасывает updated_at в сигнальную метку у активных
	// записей типа kind, чьи идентификаторы отсутствуют в seen.
	// Возвращает количество помеченных записей.
	MarkStaleExcept(ctx context.Context, kind model.RecordKind, seen []string) (int, error)
	// Count возвращает количество активных записей типа kind.
	Count(ctx context.Context, kind model.RecordKind) (int, error)
}

// upstreamRecordRepo — реализация UpstreamRecordRepository.
type upstreamRecordRepo struct {
	db DBTX
}

// NewUpstreamRecordRepository создаёт репозиторий кэша фида.
func NewUpstreamRecordRepository(db DBTX) UpstreamRecordRepository {
	return &upstreamRecordRepo{db: db}
}

const upstreamRecordColumns = `id, kind, identifier, parent_trail, content, enabled, updated_at, created_at`

// scanUpstreamRecord сканирует строку результата в модель UpstreamRecord.
func scanUpstreamRecord(row pgx.Row) (*model.UpstreamRecord, error) {
	rec := &model.UpstreamRecord{}
	err := row.Scan(
		&rec.ID, &rec.Kind, &rec.Identifier, &rec.ParentTrail,
		&rec.Content, &rec.Enabled, &rec.UpdatedAt, &rec.CreatedAt,
	)
	return rec, err
}

func (r *upstreamRecordRepo) Create(ctx context.Context, rec *model.UpstreamRecord) error {
	query := `
		INSERT INTO upstream_records (id, kind, identifier, parent_trail, content, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.Kind, rec.Identifier, rec.ParentTrail,
		rec.Content, rec.Enabled, rec.UpdatedAt,
	).Scan(&rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись кэша %s/%s уже существует", ErrConflict, rec.Kind, rec.Identifier)
		}
		return fmt.Errorf("ошибка создания записи кэша: %w", err)
	}
	return nil
}

func (r *upstreamRecordRepo) GetByIdentifier(ctx context.Context, kind model.RecordKind, identifier string) (*model.UpstreamRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM upstream_records WHERE kind = $1 AND identifier = $2`, upstreamRecordColumns)
	rec, err := scanUpstreamRecord(r.db.QueryRow(ctx, query, kind, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи кэша: %w", err)
	}
	return rec, nil
}

func (r *upstreamRecordRepo) ListEnabled(ctx context.Context, kind model.RecordKind) ([]*model.UpstreamRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM upstream_records
		WHERE kind = $1 AND enabled
		ORDER BY created_at`, upstreamRecordColumns)

	return r.list(ctx, query, kind)
}

func (r *upstreamRecordRepo) ListStale(ctx context.Context, kind model.RecordKind, olderThan time.Time) ([]*model.UpstreamRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM upstream_records
		WHERE kind = $1 AND enabled AND updated_at < $2
		ORDER BY updated_at`, upstreamRecordColumns)

	return r.list(ctx, query, kind, olderThan)
}

// list выполняет запрос со стандартным набором колонок.
func (r *upstreamRecordRepo) list(ctx context.Context, query string, args ...any) ([]*model.UpstreamRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей кэша: %w", err)
	}
	defer rows.Close()

	var result []*model.UpstreamRecord
	for rows.Next() {
		rec := &model.UpstreamRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.Kind, &rec.Identifier, &rec.ParentTrail,
			&rec.Content, &rec.Enabled, &rec.UpdatedAt, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи кэша: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *upstreamRecordRepo) Update(ctx context.Context, rec *model.UpstreamRecord) error {
	query := `
		UPDATE upstream_records
		SET parent_trail = $2, content = $3, enabled = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.ParentTrail, rec.Content, rec.Enabled, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи кэша: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *upstreamRecordRepo) MarkStaleExcept(ctx context.Context, kind model.RecordKind, seen []string) (int, error) {
	query := `
		UPDATE upstream_records
		SET updated_at = $3
		WHERE kind = $1 AND enabled AND NOT (identifier = ANY($2))`

	tag, err := r.db.Exec(ctx, query, kind, seen, model.SentinelTime)
	if err != nil {
		return 0, fmt.Errorf("ошибка пометки устаревших записей кэша: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *upstreamRecordRepo) Count(ctx context.Context, kind model.RecordKind) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM upstream_records WHERE kind = $1 AND enabled`, kind,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей кэша: %w", err)
	}
	return count, nil
}
