package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/app/agent"
	"fieldsync/internal/config"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage"
)

func newApp(t *testing.T) *agent.App {
	t.Helper()

	cfg := &config.Config{
		Env:      config.EnvLocal,
		Store:    config.Store{Driver: storage.DriverMemory},
		Sync:     config.Sync{Interval: time.Hour, ProbeInterval: time.Hour},
		Cache:    entity.Config{Limits: entity.DefaultLimits},
		Mutation: mutation.DefaultConfig(),
		Photo:    photo.DefaultConfig(),
	}
	app, err := agent.New(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ошиб...", truncate("ошибка сети", 7))
}

func TestQueueCmd_RetryRejectsPendingItem(t *testing.T) {
	app := newApp(t)
	ctx := agent.WithApp(context.Background(), app)

	id, err := app.Mutations.Enqueue(context.Background(), mutation.EnqueueRequest{
		Operation:  mutation.OperationUpdate,
		EntityType: entity.TypeTask,
		EntityID:   "T1",
		Endpoint:   "/api/tasks/:id",
		Payload:    json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	cmd := newQueueCmd("queue", "Очередь изменений", mutationOps)
	cmd.SetArgs([]string{"retry", strconv.FormatInt(id, 10)})
	err = cmd.ExecuteContext(ctx)
	assert.ErrorIs(t, err, mutation.ErrNotFailed)

	item, err := app.Mutations.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, item.Status)
}

func TestQueueCmd_DiscardMissing(t *testing.T) {
	app := newApp(t)
	ctx := agent.WithApp(context.Background(), app)

	cmd := newQueueCmd("photos", "Очередь фотографий", photoOps)
	cmd.SetArgs([]string{"discard", "7"})
	assert.ErrorIs(t, cmd.ExecuteContext(ctx), photo.ErrNotFound)
}

func TestQueueCmd_WithoutApp(t *testing.T) {
	cmd := newQueueCmd("queue", "Очередь изменений", mutationOps)
	cmd.SetArgs([]string{"list-failed"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestMutationOps_Failed(t *testing.T) {
	app := newApp(t)

	rows, err := mutationOps.failed(context.Background(), app)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
