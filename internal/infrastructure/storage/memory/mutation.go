package memory

import (
	"context"
	"sort"
	"time"

	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
)

type mutationRepo struct {
	s *Store
}

func cloneMutation(m *mutation.Item) *mutation.Item {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	return &c
}

// mutationBefore порядок постановки в очередь: (created_at, id).
func mutationBefore(a, b *mutation.Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (r *mutationRepo) sortedLocked(keep func(*mutation.Item) bool) []*mutation.Item {
	var result []*mutation.Item
	for _, m := range r.s.mutations {
		if keep(m) {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return mutationBefore(result[i], result[j])
	})
	return result
}

func (r *mutationRepo) Insert(_ context.Context, item *mutation.Item) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextMutationID++
	c := cloneMutation(item)
	c.ID = r.s.nextMutationID
	r.s.mutations[c.ID] = c
	item.ID = c.ID
	return c.ID, nil
}

func (r *mutationRepo) Get(_ context.Context, id int64) (*mutation.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mutations[id]
	if !ok {
		return nil, mutation.ErrNotFound
	}
	return cloneMutation(m), nil
}

func (r *mutationRepo) ListReady(_ context.Context, now time.Time, limit int) ([]*mutation.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ready := r.sortedLocked(func(m *mutation.Item) bool {
		return m.Status == queue.StatusPending && !m.NextAttemptAt.After(now)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	result := make([]*mutation.Item, 0, len(ready))
	for _, m := range ready {
		result = append(result, cloneMutation(m))
	}
	return result, nil
}

func (r *mutationRepo) ListByStatus(_ context.Context, status queue.Status) ([]*mutation.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	items := r.sortedLocked(func(m *mutation.Item) bool {
		return m.Status == status
	})
	result := make([]*mutation.Item, 0, len(items))
	for _, m := range items {
		result = append(result, cloneMutation(m))
	}
	return result, nil
}

func (r *mutationRepo) CountByStatus(_ context.Context) (queue.Counts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var counts queue.Counts
	for _, m := range r.s.mutations {
		counts.Add(m.Status, 1)
	}
	return counts, nil
}

func (r *mutationRepo) Claim(_ context.Context, id int64, owner string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mutations[id]
	if !ok || m.Status != queue.StatusPending || m.NextAttemptAt.After(now) {
		return false, nil
	}
	for _, other := range r.s.mutations {
		if other.EntityType == m.EntityType && other.EntityID == m.EntityID && mutationBefore(other, m) {
			return false, nil
		}
	}

	m.Status = queue.StatusProcessing
	m.ClaimedBy = owner
	m.ClaimedAt = now
	m.UpdatedAt = now
	return true, nil
}

func (r *mutationRepo) RecordAttempt(_ context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mutations[id]
	if !ok {
		return mutation.ErrNotFound
	}
	m.RetryCount = attempt.RetryCount
	m.Status = attempt.Status
	m.NextAttemptAt = attempt.NextAttemptAt
	m.LastError = lastError
	m.UpdatedAt = now
	m.ClaimedBy, m.ClaimedAt = "", time.Time{}
	return nil
}

func (r *mutationRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.mutations[id]; !ok {
		return mutation.ErrNotFound
	}
	delete(r.s.mutations, id)
	return nil
}

func (r *mutationRepo) Requeue(_ context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mutations[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = queue.StatusPending
	m.NextAttemptAt = now
	m.UpdatedAt = now
	m.ClaimedBy, m.ClaimedAt = "", time.Time{}
	return true, nil
}

func (r *mutationRepo) RequeueExpired(_ context.Context, claimedBefore, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, m := range r.s.mutations {
		if m.Status == queue.StatusProcessing && m.ClaimedAt.Before(claimedBefore) {
			m.Status = queue.StatusPending
			m.NextAttemptAt = now
			m.UpdatedAt = now
			m.ClaimedBy, m.ClaimedAt = "", time.Time{}
			n++
		}
	}
	return n, nil
}

func (r *mutationRepo) DeleteIfStatus(_ context.Context, id int64, status queue.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mutations[id]
	if !ok || m.Status != status {
		return false, nil
	}
	delete(r.s.mutations, id)
	return true, nil
}
