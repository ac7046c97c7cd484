// Package storetest общий набор проверок для реализаций storage.Store.
// Каждый движок хранилища запускает его из своих тестов.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage"
)

// Factory создает пустое хранилище для одного теста.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const owner = "agent-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Run запускает все проверки хранилища.
func Run(t *testing.T, newStore Factory) {
	t.Run("entities", func(t *testing.T) { runEntities(t, newStore) })
	t.Run("mutations", func(t *testing.T) { runMutations(t, newStore) })
	t.Run("photos", func(t *testing.T) { runPhotos(t, newStore) })
	t.Run("estimate", func(t *testing.T) { runEstimate(t, newStore) })
}

// clock управляемые тестом часы
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newCache(store storage.Store, clk *clock) *entity.Service {
	return entity.NewService(store.Entities(), store, discardLogger(), entity.DefaultConfig(), entity.WithClock(clk.Now))
}

func runEntities(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		data := json.RawMessage(`{"id":"P1","address":"12 Elm St","units":[1,2]}`)
		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeProperty, "P1", data).OK())

		got, res := cache.GetCachedEntity(ctx, entity.TypeProperty, "P1")
		require.True(t, res.OK())
		assert.JSONEq(t, string(data), string(got))

		missing, res := cache.GetCachedEntity(ctx, entity.TypeProperty, "P2")
		assert.True(t, res.OK())
		assert.Nil(t, missing)
	})

	t.Run("one row per entity", func(t *testing.T) {
		store := newStore(t)
		clk := &clock{now: base}
		cache := newCache(store, clk)

		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeTask, "T1", json.RawMessage(`{"v":1}`)).OK())
		clk.Set(base.Add(time.Minute))
		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeTask, "T1", json.RawMessage(`{"v":2}`)).OK())

		e, err := store.Entities().Get(ctx, entity.TypeTask, "T1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(e.Data))
		assert.True(t, e.ViewedAt.Equal(base.Add(time.Minute)))

		stats, err := store.Entities().Stats(ctx)
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, 1, stats[0].Count)
	})

	t.Run("refresh keeps pin and parent", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		require.True(t, cache.CacheChildren(ctx, entity.TypeProperty, "P1", []entity.Child{
			{EntityType: entity.TypeUnit, EntityID: "U1", Data: json.RawMessage(`{"v":1}`)},
		}).OK())
		require.True(t, cache.PinEntity(ctx, entity.TypeUnit, "U1").OK())
		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeUnit, "U1", json.RawMessage(`{"v":2}`)).OK())

		e, err := store.Entities().Get(ctx, entity.TypeUnit, "U1")
		require.NoError(t, err)
		assert.True(t, e.Pinned)
		require.NotNil(t, e.ParentType)
		assert.Equal(t, entity.TypeProperty, *e.ParentType)
		assert.Equal(t, "P1", *e.ParentID)
		assert.JSONEq(t, `{"v":2}`, string(e.Data))
	})

	t.Run("children by parent", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		require.True(t, cache.CacheChildren(ctx, entity.TypeWorkOrder, "W1", []entity.Child{
			{EntityType: entity.TypeTask, EntityID: "T1", Data: json.RawMessage(`{"n":1}`)},
			{EntityType: entity.TypeTask, EntityID: "T2", Data: json.RawMessage(`{"n":2}`)},
			{EntityType: entity.TypeNote, EntityID: "N1", Data: json.RawMessage(`{"n":3}`)},
		}).OK())
		require.True(t, cache.CacheChildren(ctx, entity.TypeWorkOrder, "W2", []entity.Child{
			{EntityType: entity.TypeTask, EntityID: "T3", Data: json.RawMessage(`{"n":4}`)},
		}).OK())

		children, res := cache.GetCachedChildren(ctx, entity.TypeWorkOrder, "W1")
		require.True(t, res.OK())
		require.Len(t, children, 3)
		assert.JSONEq(t, `{"n":1}`, string(children[0]))
		assert.JSONEq(t, `{"n":3}`, string(children[2]))

		none, res := cache.GetCachedChildren(ctx, entity.TypeWorkOrder, "W9")
		require.True(t, res.OK())
		assert.Empty(t, none)
	})

	t.Run("children are all or nothing", func(t *testing.T) {
		store := newStore(t)
		repo := store.Entities()

		pt, pid := entity.TypeProperty, "P1"
		mk := func(typ entity.Type, id string) *entity.CachedEntity {
			return &entity.CachedEntity{
				EntityType: typ,
				EntityID:   id,
				ParentType: &pt,
				ParentID:   &pid,
				Data:       json.RawMessage(`{}`),
				CachedAt:   base,
				ViewedAt:   base,
			}
		}

		err := repo.UpsertMany(ctx, []*entity.CachedEntity{
			mk(entity.TypeUnit, "U1"),
			mk(entity.TypeUnit, "U2"),
			mk(entity.Type("supplier"), "S1"),
			mk(entity.TypeUnit, "U3"),
		})
		require.Error(t, err)

		children, err := repo.ListByParent(ctx, pt, pid)
		require.NoError(t, err)
		assert.Empty(t, children)

		_, err = repo.Get(ctx, entity.TypeUnit, "U1")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	for _, typ := range entity.Types {
		t.Run(fmt.Sprintf("cap %s", typ), func(t *testing.T) {
			store := newStore(t)
			cache := newCache(store, &clock{now: base})
			limit := entity.DefaultLimits[typ]
			const extra = 3

			for i := 0; i < limit+extra; i++ {
				require.True(t, cache.CacheEntityOnView(ctx, typ, fmt.Sprintf("%s-%d", typ, i), json.RawMessage(`{}`)).OK())
			}

			n, err := store.Entities().CountUnpinned(ctx, typ)
			require.NoError(t, err)
			assert.Equal(t, limit, n)

			for i := 0; i < extra; i++ {
				_, err := store.Entities().Get(ctx, typ, fmt.Sprintf("%s-%d", typ, i))
				assert.ErrorIs(t, err, entity.ErrNotFound, "oldest %d must be evicted", i)
			}
			_, err = store.Entities().Get(ctx, typ, fmt.Sprintf("%s-%d", typ, limit+extra-1))
			assert.NoError(t, err)
		})
	}

	t.Run("51st property evicts the first", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		var evicted int
		for i := 1; i <= 51; i++ {
			res := cache.CacheEntityOnView(ctx, entity.TypeProperty, fmt.Sprintf("P%d", i), json.RawMessage(`{}`))
			require.True(t, res.OK())
			evicted += res.Evicted
		}
		assert.Equal(t, 1, evicted)

		_, err := store.Entities().Get(ctx, entity.TypeProperty, "P1")
		assert.ErrorIs(t, err, entity.ErrNotFound)
		for i := 2; i <= 51; i++ {
			_, err := store.Entities().Get(ctx, entity.TypeProperty, fmt.Sprintf("P%d", i))
			assert.NoError(t, err, "P%d", i)
		}
	})

	t.Run("cap on one type leaves others alone", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeProperty, "P1", json.RawMessage(`{}`)).OK())
		for i := 0; i < entity.DefaultLimits[entity.TypeUnit]+10; i++ {
			require.True(t, cache.CacheEntityOnView(ctx, entity.TypeUnit, fmt.Sprintf("U%d", i), json.RawMessage(`{}`)).OK())
		}

		_, err := store.Entities().Get(ctx, entity.TypeProperty, "P1")
		assert.NoError(t, err)
	})

	t.Run("retention window", func(t *testing.T) {
		store := newStore(t)
		clk := &clock{now: base}
		cache := newCache(store, clk)

		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeNote, "old", json.RawMessage(`{}`)).OK())
		clk.Set(base.Add(6 * 24 * time.Hour))
		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeNote, "recent", json.RawMessage(`{}`)).OK())

		clk.Set(base.Add(entity.DefaultRetention + time.Hour))
		report, err := cache.EvictStaleEntities(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Stale)

		_, err = store.Entities().Get(ctx, entity.TypeNote, "old")
		assert.ErrorIs(t, err, entity.ErrNotFound)
		_, err = store.Entities().Get(ctx, entity.TypeNote, "recent")
		assert.NoError(t, err)
	})

	t.Run("pinned rows survive both rules", func(t *testing.T) {
		store := newStore(t)
		clk := &clock{now: base}
		cache := newCache(store, clk)

		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeProperty, "pinned", json.RawMessage(`{}`)).OK())
		require.True(t, cache.PinEntity(ctx, entity.TypeProperty, "pinned").OK())

		clk.Set(base.Add(30 * 24 * time.Hour))
		for i := 0; i < entity.DefaultLimits[entity.TypeProperty]+5; i++ {
			require.True(t, cache.CacheEntityOnView(ctx, entity.TypeProperty, fmt.Sprintf("P%d", i), json.RawMessage(`{}`)).OK())
		}
		_, err := cache.EvictStaleEntities(ctx)
		require.NoError(t, err)

		e, err := store.Entities().Get(ctx, entity.TypeProperty, "pinned")
		require.NoError(t, err)
		assert.True(t, e.Pinned)

		n, err := store.Entities().CountUnpinned(ctx, entity.TypeProperty)
		require.NoError(t, err)
		assert.Equal(t, entity.DefaultLimits[entity.TypeProperty], n)
	})

	t.Run("unpin makes row evictable", func(t *testing.T) {
		store := newStore(t)
		clk := &clock{now: base}
		cache := newCache(store, clk)

		require.True(t, cache.CacheEntityOnView(ctx, entity.TypeTask, "T1", json.RawMessage(`{}`)).OK())
		require.True(t, cache.PinEntity(ctx, entity.TypeTask, "T1").OK())

		clk.Set(base.Add(entity.DefaultRetention + time.Hour))
		res := cache.UnpinEntity(ctx, entity.TypeTask, "T1")
		require.True(t, res.OK())
		assert.Equal(t, 1, res.Evicted)

		_, err := store.Entities().Get(ctx, entity.TypeTask, "T1")
		assert.ErrorIs(t, err, entity.ErrNotFound)
	})

	t.Run("pin missing row", func(t *testing.T) {
		store := newStore(t)
		cache := newCache(store, &clock{now: base})

		res := cache.PinEntity(ctx, entity.TypeTask, "nope")
		assert.ErrorIs(t, res.Err, entity.ErrNotFound)
	})
}

func newMutation(entityID string, op mutation.Operation, at time.Time) *mutation.Item {
	return &mutation.Item{
		Operation:      op,
		EntityType:     entity.TypeTask,
		EntityID:       entityID,
		Endpoint:       "/api/tasks/" + entityID,
		Method:         op.DefaultMethod(),
		Payload:        json.RawMessage(`{"title":"fix sink"}`),
		IdempotencyKey: fmt.Sprintf("%s-%s-%d", entityID, op, at.UnixNano()),
		CreatedAt:      at,
		UpdatedAt:      at,
		NextAttemptAt:  at,
		Status:         queue.StatusPending,
	}
}

func runMutations(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		repo := newStore(t).Mutations()

		item := newMutation("T1", mutation.OperationCreate, base)
		id, err := repo.Insert(ctx, item)
		require.NoError(t, err)
		assert.NotZero(t, id)
		assert.Equal(t, id, item.ID)

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, mutation.OperationCreate, got.Operation)
		assert.Equal(t, entity.TypeTask, got.EntityType)
		assert.Equal(t, "POST", got.Method)
		assert.Equal(t, item.IdempotencyKey, got.IdempotencyKey)
		assert.JSONEq(t, `{"title":"fix sink"}`, string(got.Payload))
		assert.True(t, got.CreatedAt.Equal(base))
		assert.Equal(t, queue.StatusPending, got.Status)

		_, err = repo.Get(ctx, id+100)
		assert.ErrorIs(t, err, mutation.ErrNotFound)
	})

	t.Run("ready items in enqueue order", func(t *testing.T) {
		repo := newStore(t).Mutations()

		later := newMutation("T2", mutation.OperationCreate, base.Add(2*time.Second))
		first := newMutation("T1", mutation.OperationCreate, base)
		backoff := newMutation("T3", mutation.OperationCreate, base.Add(time.Second))
		backoff.NextAttemptAt = base.Add(time.Hour)
		for _, item := range []*mutation.Item{later, first, backoff} {
			_, err := repo.Insert(ctx, item)
			require.NoError(t, err)
		}

		ready, err := repo.ListReady(ctx, base.Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, ready, 2)
		assert.Equal(t, "T1", ready[0].EntityID)
		assert.Equal(t, "T2", ready[1].EntityID)

		limited, err := repo.ListReady(ctx, base.Add(time.Minute), 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("claim respects per-entity order", func(t *testing.T) {
		repo := newStore(t).Mutations()

		create := newMutation("T1", mutation.OperationCreate, base)
		update := newMutation("T1", mutation.OperationUpdate, base.Add(time.Second))
		other := newMutation("T2", mutation.OperationUpdate, base.Add(2*time.Second))
		for _, item := range []*mutation.Item{create, update, other} {
			_, err := repo.Insert(ctx, item)
			require.NoError(t, err)
		}
		now := base.Add(time.Minute)

		ok, err := repo.Claim(ctx, update.ID, owner, now)
		require.NoError(t, err)
		assert.False(t, ok, "update must wait for create")

		ok, err = repo.Claim(ctx, other.ID, owner, now)
		require.NoError(t, err)
		assert.True(t, ok, "other entity is independent")

		ok, err = repo.Claim(ctx, create.ID, owner, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Claim(ctx, create.ID, owner, now)
		require.NoError(t, err)
		assert.False(t, ok, "second claim must lose")

		ok, err = repo.Claim(ctx, update.ID, owner, now)
		require.NoError(t, err)
		assert.False(t, ok, "create still in flight")

		require.NoError(t, repo.Delete(ctx, create.ID))

		ok, err = repo.Claim(ctx, update.ID, owner, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failed item blocks later items of its entity", func(t *testing.T) {
		repo := newStore(t).Mutations()

		create := newMutation("T1", mutation.OperationCreate, base)
		update := newMutation("T1", mutation.OperationUpdate, base.Add(time.Second))
		for _, item := range []*mutation.Item{create, update} {
			_, err := repo.Insert(ctx, item)
			require.NoError(t, err)
		}
		now := base.Add(time.Minute)

		ok, err := repo.Claim(ctx, create.ID, owner, now)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.RecordAttempt(ctx, create.ID, queue.Attempt{
			RetryCount: 5, Status: queue.StatusFailed, NextAttemptAt: now,
		}, "409 conflict", now))

		ok, err = repo.Claim(ctx, update.ID, owner, now)
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err := repo.DeleteIfStatus(ctx, create.ID, queue.StatusFailed)
		require.NoError(t, err)
		require.True(t, deleted)

		ok, err = repo.Claim(ctx, update.ID, owner, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("claim honours backoff", func(t *testing.T) {
		repo := newStore(t).Mutations()

		item := newMutation("T1", mutation.OperationUpdate, base)
		item.NextAttemptAt = base.Add(time.Hour)
		_, err := repo.Insert(ctx, item)
		require.NoError(t, err)

		ok, err := repo.Claim(ctx, item.ID, owner, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repo.Claim(ctx, item.ID, owner, base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent claims are exclusive", func(t *testing.T) {
		repo := newStore(t).Mutations()

		var ids []int64
		for i := 0; i < 20; i++ {
			item := newMutation(fmt.Sprintf("T%d", i), mutation.OperationCreate, base.Add(time.Duration(i)*time.Millisecond))
			id, err := repo.Insert(ctx, item)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		var mu sync.Mutex
		wins := make(map[int64]int)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, id := range ids {
					ok, err := repo.Claim(ctx, id, owner, base.Add(time.Minute))
					if err != nil {
						t.Errorf("claim %d: %v", id, err)
						return
					}
					if ok {
						mu.Lock()
						wins[id]++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		assert.Len(t, wins, len(ids))
		for id, n := range wins {
			assert.Equal(t, 1, n, "item %d claimed %d times", id, n)
		}
	})

	t.Run("record attempt and requeue", func(t *testing.T) {
		repo := newStore(t).Mutations()

		item := newMutation("T1", mutation.OperationUpdate, base)
		_, err := repo.Insert(ctx, item)
		require.NoError(t, err)
		ok, err := repo.Claim(ctx, item.ID, owner, base)
		require.NoError(t, err)
		require.True(t, ok)

		next := base.Add(4 * time.Second)
		require.NoError(t, repo.RecordAttempt(ctx, item.ID, queue.Attempt{
			RetryCount: 1, Status: queue.StatusFailed, NextAttemptAt: next,
		}, "timeout", base))

		failed, err := repo.ListByStatus(ctx, queue.StatusFailed)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, 1, failed[0].RetryCount)
		assert.Equal(t, "timeout", failed[0].LastError)
		assert.True(t, failed[0].NextAttemptAt.Equal(next))

		ok, err = repo.Requeue(ctx, item.ID, queue.StatusProcessing, base)
		require.NoError(t, err)
		assert.False(t, ok, "wrong source status")

		ok, err = repo.Requeue(ctx, item.ID, queue.StatusFailed, base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("claim records owner and expired claims are requeued", func(t *testing.T) {
		repo := newStore(t).Mutations()

		var items []*mutation.Item
		for i := 0; i < 3; i++ {
			item := newMutation(fmt.Sprintf("T%d", i), mutation.OperationCreate, base.Add(time.Duration(i)*time.Second))
			_, err := repo.Insert(ctx, item)
			require.NoError(t, err)
			items = append(items, item)
		}

		// T0 захвачен давно, T1 только что, T2 остается pending
		ok, err := repo.Claim(ctx, items[0].ID, "crashed", base.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = repo.Claim(ctx, items[1].ID, owner, base.Add(time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		got, err := repo.Get(ctx, items[1].ID)
		require.NoError(t, err)
		assert.Equal(t, owner, got.ClaimedBy)
		assert.True(t, got.ClaimedAt.Equal(base.Add(time.Hour)))

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Counts{Pending: 1, Processing: 2}, counts)

		n, err := repo.RequeueExpired(ctx, base.Add(30*time.Minute), base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err = repo.Get(ctx, items[0].ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusPending, got.Status)
		assert.Empty(t, got.ClaimedBy)
		assert.True(t, got.ClaimedAt.IsZero())

		got, err = repo.Get(ctx, items[1].ID)
		require.NoError(t, err)
		assert.Equal(t, queue.StatusProcessing, got.Status, "live claim must survive")

		counts, err = repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Counts{Pending: 2, Processing: 1}, counts)
	})

	t.Run("delete if status", func(t *testing.T) {
		repo := newStore(t).Mutations()

		item := newMutation("T1", mutation.OperationDelete, base)
		item.Payload = nil
		_, err := repo.Insert(ctx, item)
		require.NoError(t, err)

		ok, err := repo.DeleteIfStatus(ctx, item.ID, queue.StatusFailed)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Payload)

		ok, err = repo.DeleteIfStatus(ctx, item.ID, queue.StatusPending)
		require.NoError(t, err)
		assert.True(t, ok)

		assert.ErrorIs(t, repo.Delete(ctx, item.ID), mutation.ErrNotFound)
	})
}

func newPhoto(entityID string, at time.Time, size int) (*photo.Item, []byte) {
	blob := make([]byte, size)
	for i := range blob {
		blob[i] = byte(i)
	}
	return &photo.Item{
		EntityType:     entity.TypeWorkOrder,
		EntityID:       entityID,
		Endpoint:       "/api/workOrder/" + entityID + "/photos",
		FileName:       "leak.jpg",
		ContentType:    "image/jpeg",
		Size:           int64(size),
		Checksum:       "abc",
		IdempotencyKey: fmt.Sprintf("%s-%d", entityID, at.UnixNano()),
		CreatedAt:      at,
		UpdatedAt:      at,
		NextAttemptAt:  at,
		Status:         queue.StatusPending,
	}, blob
}

func runPhotos(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("blob round trip", func(t *testing.T) {
		repo := newStore(t).Photos()

		item, blob := newPhoto("W1", base, 4096)
		id, err := repo.Insert(ctx, item, blob)
		require.NoError(t, err)

		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "leak.jpg", got.FileName)
		assert.Equal(t, int64(4096), got.Size)
		assert.Equal(t, "image/jpeg", got.ContentType)

		stored, err := repo.Blob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, blob, stored)
	})

	t.Run("delete removes blob", func(t *testing.T) {
		repo := newStore(t).Photos()

		item, blob := newPhoto("W1", base, 16)
		id, err := repo.Insert(ctx, item, blob)
		require.NoError(t, err)
		require.NoError(t, repo.Delete(ctx, id))

		_, err = repo.Blob(ctx, id)
		assert.ErrorIs(t, err, photo.ErrNotFound)
		_, err = repo.Get(ctx, id)
		assert.ErrorIs(t, err, photo.ErrNotFound)
	})

	t.Run("claim is exclusive without entity ordering", func(t *testing.T) {
		repo := newStore(t).Photos()

		first, blob := newPhoto("W1", base, 8)
		second, _ := newPhoto("W1", base.Add(time.Second), 8)
		_, err := repo.Insert(ctx, first, blob)
		require.NoError(t, err)
		_, err = repo.Insert(ctx, second, blob)
		require.NoError(t, err)

		ok, err := repo.Claim(ctx, second.ID, owner, base.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Claim(ctx, second.ID, owner, base.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		ready, err := repo.ListReady(ctx, base.Add(time.Minute), 0)
		require.NoError(t, err)
		require.Len(t, ready, 1)
		assert.Equal(t, first.ID, ready[0].ID)
	})

	t.Run("attempt, requeue and discard", func(t *testing.T) {
		repo := newStore(t).Photos()

		item, blob := newPhoto("W1", base, 8)
		_, err := repo.Insert(ctx, item, blob)
		require.NoError(t, err)
		ok, err := repo.Claim(ctx, item.ID, owner, base)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, repo.RecordAttempt(ctx, item.ID, queue.Attempt{
			RetryCount: 8, Status: queue.StatusFailed, NextAttemptAt: base,
		}, "413 too large", base))

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Counts{Failed: 1}, counts)

		n, err := repo.RequeueExpired(ctx, base.Add(time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n, "failed items are not claims")

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Empty(t, got.ClaimedBy)

		ok, err = repo.DeleteIfStatus(ctx, item.ID, queue.StatusFailed)
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = repo.Blob(ctx, item.ID)
		assert.ErrorIs(t, err, photo.ErrNotFound)
	})
}

func runEstimate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)
	cache := newCache(store, &clock{now: base})

	require.True(t, cache.CacheEntityOnView(ctx, entity.TypeProperty, "P1", json.RawMessage(`{"a":"b"}`)).OK())
	_, err := store.Mutations().Insert(ctx, newMutation("T1", mutation.OperationCreate, base))
	require.NoError(t, err)
	item, blob := newPhoto("W1", base, 1024)
	_, err = store.Photos().Insert(ctx, item, blob)
	require.NoError(t, err)

	est, err := store.Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, est.Entities)
	assert.Equal(t, 1, est.Mutations)
	assert.Equal(t, 1, est.Photos)
	assert.Equal(t, int64(1024), est.PhotoBytes)
	assert.Positive(t, est.Usage)
}
