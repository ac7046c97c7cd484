package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
)

type EntityRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewEntityRepository(pool *pgxpool.Pool, log *slog.Logger) *EntityRepository {
	return &EntityRepository{
		pool: pool,
		log:  log.With("component", "entity_repository"),
	}
}

const upsertEntityQuery = `
	INSERT INTO cached_entities (entity_type, entity_id, parent_type, parent_id, data, cached_at, viewed_at, pinned)
	VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
	ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		data        = EXCLUDED.data,
		cached_at   = EXCLUDED.cached_at,
		viewed_at   = EXCLUDED.viewed_at,
		parent_type = COALESCE(EXCLUDED.parent_type, cached_entities.parent_type),
		parent_id   = COALESCE(EXCLUDED.parent_id, cached_entities.parent_id)
	RETURNING id`

const selectEntityQuery = `
	SELECT id, entity_type, entity_id, parent_type, parent_id, data, cached_at, viewed_at, pinned
	FROM cached_entities`

func upsertArgs(e *entity.CachedEntity) []any {
	var parentType *string
	if e.ParentType != nil {
		pt := string(*e.ParentType)
		parentType = &pt
	}
	return []any{
		string(e.EntityType), e.EntityID, parentType, e.ParentID,
		[]byte(e.Data), e.CachedAt.UnixNano(), e.ViewedAt.UnixNano(),
	}
}

func (r *EntityRepository) Upsert(ctx context.Context, e *entity.CachedEntity) error {
	if err := r.pool.QueryRow(ctx, upsertEntityQuery, upsertArgs(e)...).Scan(&e.ID); err != nil {
		r.log.Error("failed to upsert entity", "entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

func (r *EntityRepository) UpsertMany(ctx context.Context, entities []*entity.CachedEntity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		if err := tx.QueryRow(ctx, upsertEntityQuery, upsertArgs(e)...).Scan(&e.ID); err != nil {
			r.log.Error("failed to upsert entity batch",
				"entity_type", e.EntityType, "entity_id", e.EntityID, "error", err)
			return fmt.Errorf("upsert entity %s/%s: %w", e.EntityType, e.EntityID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *EntityRepository) scanEntity(row pgx.Row) (*entity.CachedEntity, error) {
	var (
		e                    entity.CachedEntity
		entityType           string
		parentType, parentID *string
		data                 []byte
		cachedAt, viewedAt   int64
	)
	if err := row.Scan(&e.ID, &entityType, &e.EntityID, &parentType, &parentID, &data, &cachedAt, &viewedAt, &e.Pinned); err != nil {
		return nil, err
	}

	e.EntityType = entity.Type(entityType)
	e.Data = data
	if parentType != nil {
		pt := entity.Type(*parentType)
		e.ParentType = &pt
	}
	e.ParentID = parentID
	e.CachedAt = time.Unix(0, cachedAt).UTC()
	e.ViewedAt = time.Unix(0, viewedAt).UTC()
	return &e, nil
}

func (r *EntityRepository) Get(ctx context.Context, entityType entity.Type, entityID string) (*entity.CachedEntity, error) {
	const query = selectEntityQuery + ` WHERE entity_type = $1 AND entity_id = $2`

	e, err := r.scanEntity(r.pool.QueryRow(ctx, query, string(entityType), entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to get entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

func (r *EntityRepository) ListByParent(ctx context.Context, parentType entity.Type, parentID string) ([]*entity.CachedEntity, error) {
	const query = selectEntityQuery + ` WHERE parent_type = $1 AND parent_id = $2 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, string(parentType), parentID)
	if err != nil {
		r.log.Error("failed to list children", "parent_type", parentType, "parent_id", parentID, "error", err)
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var result []*entity.CachedEntity
	for rows.Next() {
		e, err := r.scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *EntityRepository) SetPinned(ctx context.Context, entityType entity.Type, entityID string, pinned bool) error {
	const query = `UPDATE cached_entities SET pinned = $1 WHERE entity_type = $2 AND entity_id = $3`

	result, err := r.pool.Exec(ctx, query, pinned, string(entityType), entityID)
	if err != nil {
		r.log.Error("failed to set pinned", "entity_type", entityType, "entity_id", entityID, "error", err)
		return fmt.Errorf("set pinned: %w", err)
	}
	if result.RowsAffected() == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *EntityRepository) DeleteUnpinnedViewedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `DELETE FROM cached_entities WHERE NOT pinned AND viewed_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete stale entities: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *EntityRepository) CountUnpinned(ctx context.Context, entityType entity.Type) (int, error) {
	const query = `SELECT COUNT(*) FROM cached_entities WHERE entity_type = $1 AND NOT pinned`

	var n int
	if err := r.pool.QueryRow(ctx, query, string(entityType)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

func (r *EntityRepository) DeleteOldestUnpinned(ctx context.Context, entityType entity.Type, n int) (int, error) {
	const query = `
		DELETE FROM cached_entities WHERE id IN (
			SELECT id FROM cached_entities
			WHERE entity_type = $1 AND NOT pinned
			ORDER BY viewed_at ASC, id ASC
			LIMIT $2
		)`

	if n <= 0 {
		return 0, nil
	}

	result, err := r.pool.Exec(ctx, query, string(entityType), n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest entities: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *EntityRepository) Stats(ctx context.Context) ([]entity.TypeStats, error) {
	const query = `
		SELECT entity_type, COUNT(*), COUNT(*) FILTER (WHERE pinned)
		FROM cached_entities
		GROUP BY entity_type`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("entity stats: %w", err)
	}
	defer rows.Close()

	byType := make(map[entity.Type]entity.TypeStats)
	for rows.Next() {
		var (
			st         entity.TypeStats
			entityType string
		)
		if err := rows.Scan(&entityType, &st.Count, &st.Pinned); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.EntityType = entity.Type(entityType)
		byType[st.EntityType] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]entity.TypeStats, 0, len(byType))
	for _, t := range entity.Types {
		if st, ok := byType[t]; ok {
			result = append(result, st)
		}
	}
	return result, nil
}
