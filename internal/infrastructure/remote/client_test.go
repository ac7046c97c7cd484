package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_HealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, healthPath, r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := New(srv.URL+"/", "secret", testLogger()).HealthCheck(context.Background())
			if tt.wantErr {
				var statusErr *StatusError
				require.ErrorAs(t, err, &statusErr)
				assert.Equal(t, tt.status, statusErr.StatusCode)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestClient_NotConfigured(t *testing.T) {
	c := New("", "", testLogger())
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConfigured)
	assert.ErrorIs(t, c.Replay(context.Background(), &mutation.Item{Method: http.MethodPost, Endpoint: "/api/tasks"}), ErrNotConfigured)
}

func TestClient_Replay(t *testing.T) {
	var got struct {
		method, path, key, contentType string
		body                           map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.EscapedPath()
		got.key = r.Header.Get("Idempotency-Key")
		got.contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	item := &mutation.Item{
		ID:             7,
		Operation:      mutation.OperationUpdate,
		EntityType:     entity.TypeTask,
		EntityID:       "T 1",
		Endpoint:       "/api/tasks/T%201",
		Method:         http.MethodPatch,
		Payload:        json.RawMessage(`{"status":"done"}`),
		IdempotencyKey: "key-7",
	}

	require.NoError(t, New(srv.URL, "", testLogger()).Replay(context.Background(), item))
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/api/tasks/T%201", got.path)
	assert.Equal(t, "key-7", got.key)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, "done", got.body["status"])
}

func TestClient_ReplayRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "validation failed", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := New(srv.URL, "", testLogger()).Replay(context.Background(), &mutation.Item{
		Method:   http.MethodDelete,
		Endpoint: "/api/notes/N1",
	})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestClient_ReplayHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(srv.URL, "", testLogger()).Replay(ctx, &mutation.Item{Method: http.MethodPost, Endpoint: "/api/tasks"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_Upload(t *testing.T) {
	blob := []byte("\x89PNG\r\n\x1a\nrest-of-image")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/workOrder/W1/photos", r.URL.Path)
		assert.Equal(t, "photo-key", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "abc123", r.Header.Get("X-Content-SHA256"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, _ := io.ReadAll(file)
		assert.Equal(t, blob, data)
		assert.Equal(t, "leak.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	item := &photo.Item{
		ID:             1,
		EntityType:     entity.TypeWorkOrder,
		EntityID:       "W1",
		Endpoint:       "/api/workOrder/W1/photos",
		FileName:       "leak.png",
		ContentType:    "image/png",
		Size:           int64(len(blob)),
		Checksum:       "abc123",
		IdempotencyKey: "photo-key",
	}

	require.NoError(t, New(srv.URL, "", testLogger()).Upload(context.Background(), item, blob))
}
