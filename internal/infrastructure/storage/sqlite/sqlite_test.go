package sqlite

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage"
	"fieldsync/internal/infrastructure/storage/storetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "fieldsync.db")
	s, err := Open(context.Background(), path, opts, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store {
		s, _ := openTestStore(t, Options{AllowPersist: true})
		return s
	})
}

func TestStore_PersistGrantSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	s, err := Open(ctx, path, Options{AllowPersist: true}, testLogger())
	require.NoError(t, err)

	persisted, err := s.Persisted(ctx)
	require.NoError(t, err)
	assert.False(t, persisted)

	granted, err := s.Persist(ctx)
	require.NoError(t, err)
	assert.True(t, granted)

	var mode int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&mode))
	assert.Equal(t, 2, mode, "FULL")
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{AllowPersist: true}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	persisted, err = s.Persisted(ctx)
	require.NoError(t, err)
	assert.True(t, persisted)

	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&mode))
	assert.Equal(t, 2, mode)
}

func TestStore_PersistDeniedByConfig(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, Options{AllowPersist: false})

	granted, err := s.Persist(ctx)
	require.NoError(t, err)
	assert.False(t, granted)

	persisted, err := s.Persisted(ctx)
	require.NoError(t, err)
	assert.False(t, persisted)
}

func TestStore_EstimateUsesFilesAndQuota(t *testing.T) {
	ctx := context.Background()

	t.Run("configured quota", func(t *testing.T) {
		s, _ := openTestStore(t, Options{QuotaBytes: 64 << 20})

		est, err := s.Estimate(ctx)
		require.NoError(t, err)
		assert.Positive(t, est.Usage)
		assert.Equal(t, int64(64<<20), est.Quota)
		assert.Less(t, est.UsageRatio(), 1.0)
	})

	t.Run("disk backed quota", func(t *testing.T) {
		s, _ := openTestStore(t, Options{})

		est, err := s.Estimate(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, est.Quota, est.Usage)
	})
}

func TestStore_DataSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	s, err := Open(ctx, path, Options{}, testLogger())
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 9, 0, 0, 123, time.UTC)
	e := &entity.CachedEntity{
		EntityType: entity.TypeWorkOrder,
		EntityID:   "W1",
		Data:       json.RawMessage(`{"priority":"high"}`),
		CachedAt:   now,
		ViewedAt:   now,
	}
	require.NoError(t, s.Entities().Upsert(ctx, e))
	require.NoError(t, s.Entities().SetPinned(ctx, entity.TypeWorkOrder, "W1", true))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Entities().Get(ctx, entity.TypeWorkOrder, "W1")
	require.NoError(t, err)
	assert.True(t, got.Pinned)
	assert.True(t, got.ViewedAt.Equal(now), "nanosecond precision is kept")
	assert.JSONEq(t, `{"priority":"high"}`, string(got.Data))
}

type replayFunc func(ctx context.Context, item *mutation.Item) error

func (f replayFunc) Replay(ctx context.Context, item *mutation.Item) error {
	return f(ctx, item)
}

// Агент и CLI открывают одну базу разными соединениями. Второй процесс
// стартует, пока первый отправляет изменение.
func TestStore_SecondProcessDoesNotResendLiveClaim(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fieldsync.db")

	agentStore, err := Open(ctx, path, Options{}, testLogger())
	require.NoError(t, err)
	defer agentStore.Close()
	cliStore, err := Open(ctx, path, Options{}, testLogger())
	require.NoError(t, err)
	defer cliStore.Close()

	var (
		mu   sync.Mutex
		sent = make(map[string]int)
	)
	record := func(item *mutation.Item) {
		mu.Lock()
		defer mu.Unlock()
		sent[item.IdempotencyKey]++
	}

	started := make(chan struct{})
	release := make(chan struct{})
	slow := replayFunc(func(_ context.Context, item *mutation.Item) error {
		close(started)
		<-release
		record(item)
		return nil
	})
	fast := replayFunc(func(_ context.Context, item *mutation.Item) error {
		record(item)
		return nil
	})

	cfg := mutation.Config{Policy: queue.Policy{MaxRetries: 3}, Timeout: 10 * time.Second, Workers: 1}
	agent := mutation.NewService(agentStore.Mutations(), slow, testLogger(), cfg, mutation.WithOwner("agent"))
	cli := mutation.NewService(cliStore.Mutations(), fast, testLogger(), cfg, mutation.WithOwner("cli"))

	id, err := agent.Enqueue(ctx, mutation.EnqueueRequest{
		Operation:  mutation.OperationUpdate,
		EntityType: entity.TypeTask,
		EntityID:   "T1",
		Endpoint:   "/api/tasks/{id}",
		Payload:    json.RawMessage(`{"status":"done"}`),
	})
	require.NoError(t, err)

	type result struct {
		report mutation.ProcessReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := agent.ProcessQueue(ctx)
		done <- result{report, err}
	}()
	<-started

	inFlight, err := cli.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusProcessing, inFlight.Status)
	assert.Equal(t, "agent", inFlight.ClaimedBy)

	n, err := cli.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "live claim must not be requeued")

	report, err := cli.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	close(release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.report.Succeeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	for key, count := range sent {
		assert.Equal(t, 1, count, "mutation %s sent %d times", key, count)
	}

	_, err = cli.Get(ctx, id)
	assert.ErrorIs(t, err, mutation.ErrNotFound)
}
