package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fieldsync/internal/domain/entity"
)

type entityRepo struct {
	s *Store
}

func cloneEntity(e *entity.CachedEntity) *entity.CachedEntity {
	c := *e
	c.Data = append([]byte(nil), e.Data...)
	if e.ParentType != nil {
		pt := *e.ParentType
		c.ParentType = &pt
	}
	if e.ParentID != nil {
		pid := *e.ParentID
		c.ParentID = &pid
	}
	return &c
}

// upsertLocked вызывается под блокировкой хранилища.
func (r *entityRepo) upsertLocked(e *entity.CachedEntity) {
	k := entityKey{e.EntityType, e.EntityID}

	existing, ok := r.s.entities[k]
	if !ok {
		r.s.nextEntityID++
		c := cloneEntity(e)
		c.ID = r.s.nextEntityID
		c.Pinned = false
		r.s.entities[k] = c
		e.ID = c.ID
		return
	}

	c := cloneEntity(e)
	existing.Data = c.Data
	existing.CachedAt = c.CachedAt
	existing.ViewedAt = c.ViewedAt
	if c.ParentType != nil {
		existing.ParentType = c.ParentType
		existing.ParentID = c.ParentID
	}
	e.ID = existing.ID
}

func (r *entityRepo) Upsert(_ context.Context, e *entity.CachedEntity) error {
	if err := e.EntityType.Validate(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.upsertLocked(e)
	return nil
}

// UpsertMany применяет весь набор или ничего.
func (r *entityRepo) UpsertMany(_ context.Context, entities []*entity.CachedEntity) error {
	for i, e := range entities {
		if err := e.EntityType.Validate(); err != nil {
			return fmt.Errorf("entity %d: %w", i, err)
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range entities {
		r.upsertLocked(e)
	}
	return nil
}

func (r *entityRepo) Get(_ context.Context, entityType entity.Type, entityID string) (*entity.CachedEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entities[entityKey{entityType, entityID}]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (r *entityRepo) ListByParent(_ context.Context, parentType entity.Type, parentID string) ([]*entity.CachedEntity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var result []*entity.CachedEntity
	for _, e := range r.s.entities {
		if e.ParentType != nil && *e.ParentType == parentType && e.ParentID != nil && *e.ParentID == parentID {
			result = append(result, cloneEntity(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *entityRepo) SetPinned(_ context.Context, entityType entity.Type, entityID string, pinned bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.entities[entityKey{entityType, entityID}]
	if !ok {
		return entity.ErrNotFound
	}
	e.Pinned = pinned
	return nil
}

func (r *entityRepo) DeleteUnpinnedViewedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for k, e := range r.s.entities {
		if !e.Pinned && e.ViewedAt.Before(cutoff) {
			delete(r.s.entities, k)
			n++
		}
	}
	return n, nil
}

func (r *entityRepo) CountUnpinned(_ context.Context, entityType entity.Type) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, e := range r.s.entities {
		if e.EntityType == entityType && !e.Pinned {
			n++
		}
	}
	return n, nil
}

func (r *entityRepo) DeleteOldestUnpinned(_ context.Context, entityType entity.Type, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var candidates []*entity.CachedEntity
	for _, e := range r.s.entities {
		if e.EntityType == entityType && !e.Pinned {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.ViewedAt.Equal(b.ViewedAt) {
			return a.ViewedAt.Before(b.ViewedAt)
		}
		return a.ID < b.ID
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	for _, e := range candidates[:n] {
		delete(r.s.entities, entityKey{e.EntityType, e.EntityID})
	}
	return n, nil
}

func (r *entityRepo) Stats(_ context.Context) ([]entity.TypeStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byType := make(map[entity.Type]*entity.TypeStats)
	for _, e := range r.s.entities {
		st, ok := byType[e.EntityType]
		if !ok {
			st = &entity.TypeStats{EntityType: e.EntityType}
			byType[e.EntityType] = st
		}
		st.Count++
		if e.Pinned {
			st.Pinned++
		}
	}

	result := make([]entity.TypeStats, 0, len(byType))
	for _, t := range entity.Types {
		if st, ok := byType[t]; ok {
			result = append(result, *st)
		}
	}
	return result, nil
}
