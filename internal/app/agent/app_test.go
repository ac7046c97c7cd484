package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/config"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage"
)

type remoteCall struct {
	method string
	path   string
	key    string
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []remoteCall
}

func (f *fakeRemote) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, remoteCall{method: r.Method, path: r.URL.Path, key: r.Header.Get("Idempotency-Key")})
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fakeRemote) recorded() []remoteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remoteCall(nil), f.calls...)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Env:   config.EnvLocal,
		Store: config.Store{Driver: storage.DriverMemory},
		Remote: config.Remote{
			BaseURL: baseURL,
		},
		Agent: config.Agent{Address: "127.0.0.1:0"},
		Sync: config.Sync{
			Interval:      time.Hour,
			ProbeInterval: time.Hour,
		},
		Cache:    entity.Config{Retention: entity.DefaultRetention, Limits: entity.DefaultLimits},
		Mutation: mutation.DefaultConfig(),
		Photo:    photo.DefaultConfig(),
	}
}

func newTestApp(t *testing.T) (*App, *fakeRemote) {
	t.Helper()

	remote := &fakeRemote{}
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	app, err := New(context.Background(), testConfig(srv.URL), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, remote
}

func TestApp_DrainSendsMutationsThenPhotos(t *testing.T) {
	ctx := context.Background()
	app, remote := newTestApp(t)

	_, err := app.Photos.Enqueue(ctx, photo.EnqueueRequest{
		EntityType: entity.TypeWorkOrder,
		EntityID:   "W1",
		FileName:   "leak.png",
		Blob:       []byte("\x89PNG\r\n\x1a\n0000"),
	})
	require.NoError(t, err)

	_, err = app.Mutations.Enqueue(ctx, mutation.EnqueueRequest{
		Operation:  mutation.OperationUpdate,
		EntityType: entity.TypeWorkOrder,
		EntityID:   "W1",
		Endpoint:   "/api/work-orders/:id",
		Payload:    json.RawMessage(`{"status":"closed"}`),
	})
	require.NoError(t, err)

	mutations, photos, err := app.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mutations.Succeeded)
	assert.Equal(t, 1, photos.Uploaded)

	calls := remote.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, http.MethodPatch, calls[0].method)
	assert.Equal(t, "/api/work-orders/W1", calls[0].path)
	assert.NotEmpty(t, calls[0].key)
	assert.Equal(t, http.MethodPost, calls[1].method)
	assert.True(t, strings.HasSuffix(calls[1].path, "/photos"))

	counts, err := app.Mutations.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestApp_CheckConnection(t *testing.T) {
	app, _ := newTestApp(t)

	assert.False(t, app.Online())
	require.NoError(t, app.CheckConnection(context.Background()))
	assert.True(t, app.Online())
}

func TestApp_NotConfiguredRemoteIsOffline(t *testing.T) {
	app, err := New(context.Background(), testConfig(""), slog.Default())
	require.NoError(t, err)
	defer app.Close()

	assert.Error(t, app.CheckConnection(context.Background()))
	assert.False(t, app.Online())
}

func TestApp_StatusEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	require.NoError(t, app.CheckConnection(context.Background()))

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Online  bool `json:"online"`
		Storage struct {
			Persisted bool `json:"persisted"`
		} `json:"storage"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Online)
	assert.False(t, body.Storage.Persisted)
}

func TestOpenStore_SQLiteFallsBackToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := testConfig("")
	cfg.Store.Driver = storage.DriverSQLite
	cfg.Store.Path = filepath.Join(blocker, "sub", "fieldsync.db")

	store, err := openStore(context.Background(), cfg, true, slog.Default())
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, storage.DriverMemory, store.Driver())
}

func TestNew_CLIDoesNotFallBackToMemory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := testConfig("")
	cfg.Store.Driver = storage.DriverSQLite
	cfg.Store.Path = filepath.Join(blocker, "sub", "fieldsync.db")

	_, err := New(context.Background(), cfg, slog.Default())
	assert.ErrorContains(t, err, "open sqlite store")

	app, err := New(context.Background(), cfg, slog.Default(), WithMemoryFallback())
	require.NoError(t, err)
	defer app.Close()
	assert.Equal(t, storage.DriverMemory, app.Driver())
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := testConfig("")
	cfg.Store.Driver = storage.DriverSQLite
	cfg.Store.Path = filepath.Join(t.TempDir(), "fieldsync.db")

	store, err := openStore(context.Background(), cfg, true, slog.Default())
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, storage.DriverSQLite, store.Driver())
}

func TestOpenStore_PostgresErrorIsFatal(t *testing.T) {
	cfg := testConfig("")
	cfg.Store.Driver = storage.DriverPostgres
	cfg.Store.DatabaseURI = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	_, err := openStore(context.Background(), cfg, true, slog.Default())
	assert.Error(t, err)
}

func TestAppContext(t *testing.T) {
	app, _ := newTestApp(t)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	got, ok := FromContext(WithApp(context.Background(), app))
	require.True(t, ok)
	assert.Same(t, app, got)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, _ := newTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_ManualProcessWaitsForDrain(t *testing.T) {
	app, remote := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	_, err := app.Mutations.Enqueue(context.Background(), mutation.EnqueueRequest{
		Operation:  mutation.OperationCreate,
		EntityType: entity.TypeTask,
		EntityID:   "T1",
		Endpoint:   "/api/tasks",
		Payload:    json.RawMessage(`{"title":"replace filter"}`),
	})
	require.NoError(t, err)

	// Идет проход планировщика
	app.drainMu.Lock()

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/mutations/process", "application/json", nil)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	select {
	case <-done:
		t.Fatal("manual processing must wait for the running drain")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, remote.recorded())

	app.drainMu.Unlock()
	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("manual processing did not finish")
	}
	assert.Len(t, remote.recorded(), 1)
}
