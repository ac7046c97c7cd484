package memory

import (
	"context"
	"sort"
	"time"

	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
)

type photoRepo struct {
	s *Store
}

func clonePhoto(p *photo.Item) *photo.Item {
	c := *p
	return &c
}

func (r *photoRepo) sortedLocked(keep func(*photo.Item) bool) []*photo.Item {
	var result []*photo.Item
	for _, p := range r.s.photos {
		if keep(p) {
			result = append(result, clonePhoto(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result
}

func (r *photoRepo) Insert(_ context.Context, item *photo.Item, blob []byte) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextPhotoID++
	c := clonePhoto(item)
	c.ID = r.s.nextPhotoID
	r.s.photos[c.ID] = c
	r.s.blobs[c.ID] = append([]byte(nil), blob...)
	item.ID = c.ID
	return c.ID, nil
}

func (r *photoRepo) Get(_ context.Context, id int64) (*photo.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.photos[id]
	if !ok {
		return nil, photo.ErrNotFound
	}
	return clonePhoto(p), nil
}

func (r *photoRepo) Blob(_ context.Context, id int64) ([]byte, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.blobs[id]
	if !ok {
		return nil, photo.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (r *photoRepo) ListReady(_ context.Context, now time.Time, limit int) ([]*photo.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ready := r.sortedLocked(func(p *photo.Item) bool {
		return p.Status == queue.StatusPending && !p.NextAttemptAt.After(now)
	})
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (r *photoRepo) ListByStatus(_ context.Context, status queue.Status) ([]*photo.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.sortedLocked(func(p *photo.Item) bool {
		return p.Status == status
	}), nil
}

func (r *photoRepo) CountByStatus(_ context.Context) (queue.Counts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var counts queue.Counts
	for _, p := range r.s.photos {
		counts.Add(p.Status, 1)
	}
	return counts, nil
}

func (r *photoRepo) Claim(_ context.Context, id int64, owner string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.photos[id]
	if !ok || p.Status != queue.StatusPending || p.NextAttemptAt.After(now) {
		return false, nil
	}
	p.Status = queue.StatusProcessing
	p.ClaimedBy = owner
	p.ClaimedAt = now
	p.UpdatedAt = now
	return true, nil
}

func (r *photoRepo) RecordAttempt(_ context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.photos[id]
	if !ok {
		return photo.ErrNotFound
	}
	p.RetryCount = attempt.RetryCount
	p.Status = attempt.Status
	p.NextAttemptAt = attempt.NextAttemptAt
	p.LastError = lastError
	p.UpdatedAt = now
	p.ClaimedBy, p.ClaimedAt = "", time.Time{}
	return nil
}

func (r *photoRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.photos[id]; !ok {
		return photo.ErrNotFound
	}
	delete(r.s.photos, id)
	delete(r.s.blobs, id)
	return nil
}

func (r *photoRepo) Requeue(_ context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.photos[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = queue.StatusPending
	p.NextAttemptAt = now
	p.UpdatedAt = now
	p.ClaimedBy, p.ClaimedAt = "", time.Time{}
	return true, nil
}

func (r *photoRepo) RequeueExpired(_ context.Context, claimedBefore, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, p := range r.s.photos {
		if p.Status == queue.StatusProcessing && p.ClaimedAt.Before(claimedBefore) {
			p.Status = queue.StatusPending
			p.NextAttemptAt = now
			p.UpdatedAt = now
			p.ClaimedBy, p.ClaimedAt = "", time.Time{}
			n++
		}
	}
	return n, nil
}

func (r *photoRepo) DeleteIfStatus(_ context.Context, id int64, status queue.Status) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.photos[id]
	if !ok || p.Status != status {
		return false, nil
	}
	delete(r.s.photos, id)
	delete(r.s.blobs, id)
	return true, nil
}
