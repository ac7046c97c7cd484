package mutation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage/memory"
)

// MockReplayer is a mock implementation of mutation.Replayer
type MockReplayer struct {
	mock.Mock
}

func (m *MockReplayer) Replay(ctx context.Context, item *mutation.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// remoteStub записывает успешно принятые изменения
type remoteStub struct {
	mu      sync.Mutex
	offline bool
	delay   time.Duration
	calls   []string
	keys    map[string]int
}

func newRemoteStub() *remoteStub {
	return &remoteStub{keys: make(map[string]int)}
}

func (r *remoteStub) Replay(_ context.Context, item *mutation.Item) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.offline {
		return errors.New("dial tcp: network is unreachable")
	}
	r.calls = append(r.calls, fmt.Sprintf("%s %s", item.Operation, item.EntityID))
	r.keys[item.IdempotencyKey]++
	return nil
}

func (r *remoteStub) setOffline(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = v
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() mutation.Config {
	return mutation.Config{
		Policy:  queue.Policy{MaxRetries: 3},
		Timeout: time.Second,
		Workers: 4,
	}
}

func createTask(id string) mutation.EnqueueRequest {
	return mutation.EnqueueRequest{
		Operation:  mutation.OperationCreate,
		EntityType: entity.TypeTask,
		EntityID:   id,
		Endpoint:   "/api/tasks",
		Payload:    json.RawMessage(`{"title":"replace filter"}`),
	}
}

func updateTask(id string) mutation.EnqueueRequest {
	return mutation.EnqueueRequest{
		Operation:  mutation.OperationUpdate,
		EntityType: entity.TypeTask,
		EntityID:   id,
		Endpoint:   "/api/tasks/{id}",
		Payload:    json.RawMessage(`{"status":"done"}`),
	}
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("binds endpoint and defaults method", func(t *testing.T) {
		store := memory.New(testLogger())
		var notified int
		s := mutation.NewService(store.Mutations(), new(MockReplayer), testLogger(), testConfig(),
			mutation.WithNotify(func() { notified++ }))

		id, err := s.Enqueue(ctx, updateTask("T 1"))
		require.NoError(t, err)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "/api/tasks/T%201", item.Endpoint)
		assert.Equal(t, "PATCH", item.Method)
		assert.Equal(t, queue.StatusPending, item.Status)
		assert.Len(t, item.IdempotencyKey, 36)
		assert.Equal(t, 1, notified)
	})

	tests := []struct {
		name string
		req  mutation.EnqueueRequest
	}{
		{
			name: "unknown operation",
			req:  mutation.EnqueueRequest{Operation: "upsert", EntityType: entity.TypeTask, EntityID: "T1", Endpoint: "/api/tasks"},
		},
		{
			name: "unknown entity type",
			req:  mutation.EnqueueRequest{Operation: mutation.OperationCreate, EntityType: "invoice", EntityID: "I1", Endpoint: "/api/invoices"},
		},
		{
			name: "missing entity id",
			req:  mutation.EnqueueRequest{Operation: mutation.OperationCreate, EntityType: entity.TypeTask, Endpoint: "/api/tasks"},
		},
		{
			name: "relative endpoint",
			req:  mutation.EnqueueRequest{Operation: mutation.OperationCreate, EntityType: entity.TypeTask, EntityID: "T1", Endpoint: "api/tasks"},
		},
		{
			name: "unsupported method",
			req:  mutation.EnqueueRequest{Operation: mutation.OperationCreate, EntityType: entity.TypeTask, EntityID: "T1", Endpoint: "/api/tasks", Method: "GET"},
		},
		{
			name: "payload is not json",
			req:  mutation.EnqueueRequest{Operation: mutation.OperationCreate, EntityType: entity.TypeTask, EntityID: "T1", Endpoint: "/api/tasks", Payload: json.RawMessage(`{`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(testLogger())
			s := mutation.NewService(store.Mutations(), new(MockReplayer), testLogger(), testConfig())

			_, err := s.Enqueue(ctx, tt.req)
			assert.ErrorIs(t, err, mutation.ErrInvalidMutation)

			counts, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, counts.Total())
		})
	}

	t.Run("storage failure propagates", func(t *testing.T) {
		store := memory.New(testLogger())
		repo := &failingInsert{Repository: store.Mutations(), err: errors.New("disk I/O error")}
		s := mutation.NewService(repo, new(MockReplayer), testLogger(), testConfig())

		_, err := s.Enqueue(ctx, createTask("T1"))
		assert.ErrorContains(t, err, "disk I/O error")
	})
}

type failingInsert struct {
	mutation.Repository
	err error
}

func (f *failingInsert) Insert(context.Context, *mutation.Item) (int64, error) {
	return 0, f.err
}

func TestService_ProcessQueueSuccessDeletes(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	replayer.On("Replay", mock.Anything, mock.MatchedBy(func(item *mutation.Item) bool {
		return item.Method == "POST" && item.Endpoint == "/api/tasks"
	})).Return(nil).Once()

	s := mutation.NewService(store.Mutations(), replayer, testLogger(), testConfig())
	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, mutation.ProcessReport{Attempted: 1, Succeeded: 1}, report)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, mutation.ErrNotFound)
	replayer.AssertExpectations(t)
}

func TestService_RetryCeiling(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	replayer.On("Replay", mock.Anything, mock.Anything).Return(errors.New("422 unprocessable"))

	cfg := testConfig()
	s := mutation.NewService(store.Mutations(), replayer, testLogger(), cfg)
	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	for i := 1; i <= cfg.Policy.MaxRetries; i++ {
		_, err := s.ProcessQueue(ctx)
		require.NoError(t, err)

		item, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, item.RetryCount)
		assert.Equal(t, "422 unprocessable", item.LastError)
	}

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, item.Status)

	// Без ручного повтора элемент больше не отправляется
	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)
	replayer.AssertNumberOfCalls(t, "Replay", cfg.Policy.MaxRetries)

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)

	// Ручной повтор дает ровно одну попытку, счетчик не сбрасывается
	require.NoError(t, s.Retry(ctx, id))
	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	item, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Equal(t, cfg.Policy.MaxRetries+1, item.RetryCount)
	replayer.AssertNumberOfCalls(t, "Replay", cfg.Policy.MaxRetries+1)
}

func TestService_BackoffDelaysNextAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	replayer.On("Replay", mock.Anything, mock.Anything).Return(errors.New("503")).Once()
	replayer.On("Replay", mock.Anything, mock.Anything).Return(nil).Once()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	cfg := testConfig()
	cfg.Policy = queue.Policy{MaxRetries: 5, BackoffBase: 10 * time.Second, BackoffMax: time.Minute}
	s := mutation.NewService(store.Mutations(), replayer, testLogger(), cfg, mutation.WithClock(clock))

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, item.NextAttemptAt.Equal(now.Add(10*time.Second)))

	now = now.Add(5 * time.Second)
	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	now = now.Add(5 * time.Second)
	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	replayer.AssertExpectations(t)
}

func TestService_CreateBeforeUpdateAfterOutage(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	remote := newRemoteStub()
	remote.setOffline(true)

	s := mutation.NewService(store.Mutations(), remote, testLogger(), mutation.Config{
		Policy:  queue.Policy{MaxRetries: 10},
		Timeout: time.Second,
		Workers: 4,
	})

	_, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, updateTask("T1"))
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried, "create fails while offline")
	assert.Equal(t, 1, report.Skipped, "update waits behind the create")

	remote.setOffline(false)
	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)

	assert.Equal(t, []string{"create T1", "update T1"}, remote.calls)

	counts, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Total())
}

func TestService_ConcurrentProcessQueueSendsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	remote := newRemoteStub()
	remote.delay = 2 * time.Millisecond

	s := mutation.NewService(store.Mutations(), remote, testLogger(), testConfig())

	const entities = 8
	for i := 0; i < entities; i++ {
		id := fmt.Sprintf("T%d", i)
		_, err := s.Enqueue(ctx, createTask(id))
		require.NoError(t, err)
		_, err = s.Enqueue(ctx, updateTask(id))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ProcessQueue(ctx); err != nil {
				t.Errorf("process queue: %v", err)
			}
		}()
	}
	wg.Wait()

	// Элементы, пропущенные обоими проходами, отправит следующий
	_, err := s.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Len(t, remote.keys, entities*2)
	for key, n := range remote.keys {
		assert.Equal(t, 1, n, "mutation %s sent %d times", key, n)
	}

	// Внутри каждой сущности create всегда раньше update
	seen := make(map[string]bool)
	for _, call := range remote.calls {
		var op, id string
		_, err := fmt.Sscanf(call, "%s %s", &op, &id)
		require.NoError(t, err)
		if op == "create" {
			seen[id] = true
		} else {
			assert.True(t, seen[id], "update of %s before its create", id)
		}
	}
}

func TestService_ReplayTimeoutIsFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	replayer.On("Replay", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	s := mutation.NewService(store.Mutations(), replayer, testLogger(), cfg)

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	assert.Contains(t, item.LastError, "timed out")
}

func TestService_RetryAndDiscardErrors(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	s := mutation.NewService(store.Mutations(), new(MockReplayer), testLogger(), testConfig())

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Retry(ctx, id), mutation.ErrNotFailed)
	assert.ErrorIs(t, s.Discard(ctx, id), mutation.ErrNotFailed)
	assert.ErrorIs(t, s.Retry(ctx, id+1), mutation.ErrNotFound)
	assert.ErrorIs(t, s.Discard(ctx, id+1), mutation.ErrNotFound)
}

func TestService_DiscardUnblocksEntity(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	replayer.On("Replay", mock.Anything, mock.MatchedBy(func(item *mutation.Item) bool {
		return item.Operation == mutation.OperationCreate
	})).Return(errors.New("409 conflict"))
	replayer.On("Replay", mock.Anything, mock.Anything).Return(nil)

	cfg := testConfig()
	cfg.Policy.MaxRetries = 1
	s := mutation.NewService(store.Mutations(), replayer, testLogger(), cfg)

	createID, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)
	updateID, err := s.Enqueue(ctx, updateTask("T1"))
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted, "update stays behind the failed create")

	require.NoError(t, s.Discard(ctx, createID))

	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	_, err = s.Get(ctx, updateID)
	assert.ErrorIs(t, err, mutation.ErrNotFound)
}

func TestService_Recover(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := mutation.NewService(store.Mutations(), new(MockReplayer), testLogger(), testConfig(), mutation.WithClock(clock))

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)
	ok, err := store.Mutations().Claim(ctx, id, "crashed-agent", now)
	require.NoError(t, err)
	require.True(t, ok)

	// Таймаут 1s, захват живет 2s
	now = now.Add(time.Second)
	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(5 * time.Second)
	n, err = s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
	assert.Empty(t, item.ClaimedBy)
}

func TestService_ProcessQueueRequeuesExpiredClaims(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	remote := newRemoteStub()
	s := mutation.NewService(store.Mutations(), remote, testLogger(), testConfig(), mutation.WithClock(clock))

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)
	ok, err := store.Mutations().Claim(ctx, id, "crashed-agent", now)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	now = now.Add(time.Minute)
	report, err = s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"create T1"}, remote.calls)
}

func TestService_ReplayedMutationRemovedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	replayer := new(MockReplayer)
	s := mutation.NewService(store.Mutations(), replayer, testLogger(), testConfig())

	id, err := s.Enqueue(ctx, createTask("T1"))
	require.NoError(t, err)

	// Другой процесс успел завершить тот же элемент
	replayer.On("Replay", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		require.NoError(t, store.Mutations().Delete(ctx, id))
	}).Return(nil).Once()

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	replayer.AssertExpectations(t)
}

func TestService_ListRejectsUnknownStatus(t *testing.T) {
	s := mutation.NewService(memory.New(testLogger()).Mutations(), new(MockReplayer), testLogger(), testConfig())

	_, err := s.List(context.Background(), queue.Status("done"))
	assert.ErrorIs(t, err, mutation.ErrInvalidMutation)
}
