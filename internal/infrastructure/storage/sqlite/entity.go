package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"fieldsync/internal/domain/entity"
)

type entityRepo struct {
	db *sql.DB
}

const upsertEntitySQL = `
	INSERT INTO cached_entities (entity_type, entity_id, parent_type, parent_id, data, cached_at, viewed_at, pinned)
	VALUES (?, ?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		data        = excluded.data,
		cached_at   = excluded.cached_at,
		viewed_at   = excluded.viewed_at,
		parent_type = COALESCE(excluded.parent_type, cached_entities.parent_type),
		parent_id   = COALESCE(excluded.parent_id, cached_entities.parent_id)
	RETURNING id
`

const selectEntitySQL = `
	SELECT id, entity_type, entity_id, parent_type, parent_id, data, cached_at, viewed_at, pinned
	FROM cached_entities
`

func upsertEntity(ctx context.Context, q querier, e *entity.CachedEntity) error {
	var parentType, parentID sql.NullString
	if e.ParentType != nil {
		parentType = sql.NullString{String: string(*e.ParentType), Valid: true}
	}
	if e.ParentID != nil {
		parentID = sql.NullString{String: *e.ParentID, Valid: true}
	}

	err := q.QueryRowContext(ctx, upsertEntitySQL,
		string(e.EntityType), e.EntityID, parentType, parentID,
		[]byte(e.Data), toNanos(e.CachedAt), toNanos(e.ViewedAt),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", e.EntityType, e.EntityID, err)
	}
	return nil
}

func (r *entityRepo) Upsert(ctx context.Context, e *entity.CachedEntity) error {
	return upsertEntity(ctx, r.db, e)
}

func (r *entityRepo) UpsertMany(ctx context.Context, entities []*entity.CachedEntity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entities {
		if err := upsertEntity(ctx, tx, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanEntity(row interface{ Scan(...any) error }) (*entity.CachedEntity, error) {
	var (
		e                    entity.CachedEntity
		entityType           string
		parentType, parentID sql.NullString
		data                 []byte
		cachedAt, viewedAt   int64
		pinned               bool
	)
	if err := row.Scan(&e.ID, &entityType, &e.EntityID, &parentType, &parentID, &data, &cachedAt, &viewedAt, &pinned); err != nil {
		return nil, err
	}

	e.EntityType = entity.Type(entityType)
	if parentType.Valid {
		pt := entity.Type(parentType.String)
		e.ParentType = &pt
	}
	if parentID.Valid {
		pid := parentID.String
		e.ParentID = &pid
	}
	e.Data = data
	e.CachedAt = fromNanos(cachedAt)
	e.ViewedAt = fromNanos(viewedAt)
	e.Pinned = pinned
	return &e, nil
}

func (r *entityRepo) Get(ctx context.Context, entityType entity.Type, entityID string) (*entity.CachedEntity, error) {
	row := r.db.QueryRowContext(ctx, selectEntitySQL+` WHERE entity_type = ? AND entity_id = ?`, string(entityType), entityID)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", entityType, entityID, err)
	}
	return e, nil
}

func (r *entityRepo) ListByParent(ctx context.Context, parentType entity.Type, parentID string) ([]*entity.CachedEntity, error) {
	rows, err := r.db.QueryContext(ctx, selectEntitySQL+` WHERE parent_type = ? AND parent_id = ? ORDER BY id`, string(parentType), parentID)
	if err != nil {
		return nil, fmt.Errorf("list children of %s/%s: %w", parentType, parentID, err)
	}
	defer rows.Close()

	var result []*entity.CachedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *entityRepo) SetPinned(ctx context.Context, entityType entity.Type, entityID string, pinned bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE cached_entities SET pinned = ? WHERE entity_type = ? AND entity_id = ?`,
		pinned, string(entityType), entityID,
	)
	if err != nil {
		return fmt.Errorf("set pinned %s/%s: %w", entityType, entityID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func (r *entityRepo) DeleteUnpinnedViewedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cached_entities WHERE pinned = 0 AND viewed_at < ?`,
		toNanos(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale: %w", err)
	}
	return rowsAffected(res)
}

func (r *entityRepo) CountUnpinned(ctx context.Context, entityType entity.Type) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cached_entities WHERE entity_type = ? AND pinned = 0`,
		string(entityType),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", entityType, err)
	}
	return n, nil
}

func (r *entityRepo) DeleteOldestUnpinned(ctx context.Context, entityType entity.Type, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cached_entities WHERE id IN (
			SELECT id FROM cached_entities
			WHERE entity_type = ? AND pinned = 0
			ORDER BY viewed_at ASC, id ASC
			LIMIT ?
		)
	`, string(entityType), n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest %s: %w", entityType, err)
	}
	return rowsAffected(res)
}

func (r *entityRepo) Stats(ctx context.Context) ([]entity.TypeStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_type, COUNT(*), COALESCE(SUM(pinned), 0)
		FROM cached_entities
		GROUP BY entity_type
	`)
	if err != nil {
		return nil, fmt.Errorf("entity stats: %w", err)
	}
	defer rows.Close()

	var result []entity.TypeStats
	for rows.Next() {
		var (
			st         entity.TypeStats
			entityType string
		)
		if err := rows.Scan(&entityType, &st.Count, &st.Pinned); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.EntityType = entity.Type(entityType)
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByType(result)
	return result, nil
}

func sortByType(stats []entity.TypeStats) {
	order := make(map[entity.Type]int, len(entity.Types))
	for i, t := range entity.Types {
		order[t] = i
	}
	sort.Slice(stats, func(i, j int) bool {
		return order[stats[i].EntityType] < order[stats[j].EntityType]
	})
}
