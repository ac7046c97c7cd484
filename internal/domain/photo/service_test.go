package photo_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
	"fieldsync/internal/infrastructure/storage/memory"
)

// MockUploader is a mock implementation of photo.Uploader
type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, item *photo.Item, blob []byte) error {
	args := m.Called(ctx, item, blob)
	return args.Error(0)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() photo.Config {
	cfg := photo.DefaultConfig()
	cfg.Policy = queue.Policy{MaxRetries: 2}
	cfg.Timeout = time.Second
	cfg.MaxSize = 1 << 10
	return cfg
}

func leakPhoto() photo.EnqueueRequest {
	return photo.EnqueueRequest{
		EntityType: entity.TypeWorkOrder,
		EntityID:   "W1",
		FileName:   "C:\\Users\\tech\\leak.png",
		Blob:       append([]byte(nil), pngHeader...),
	}
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	var notified int
	s := photo.NewService(store.Photos(), new(MockUploader), testLogger(), testConfig(),
		photo.WithNotify(func() { notified++ }))

	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	sum := sha256.Sum256(pngHeader)
	assert.Equal(t, "leak.png", item.FileName)
	assert.Equal(t, "image/png", item.ContentType)
	assert.Equal(t, int64(len(pngHeader)), item.Size)
	assert.Equal(t, hex.EncodeToString(sum[:]), item.Checksum)
	assert.Equal(t, "/api/workOrder/W1/photos", item.Endpoint)
	assert.Equal(t, queue.StatusPending, item.Status)
	assert.Equal(t, 1, notified)
}

func TestService_EnqueueValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *photo.EnqueueRequest)
		wantErr error
	}{
		{name: "unknown entity type", mutate: func(r *photo.EnqueueRequest) { r.EntityType = "supplier" }, wantErr: photo.ErrInvalidPhoto},
		{name: "missing entity id", mutate: func(r *photo.EnqueueRequest) { r.EntityID = "" }, wantErr: photo.ErrInvalidPhoto},
		{name: "missing file name", mutate: func(r *photo.EnqueueRequest) { r.FileName = "" }, wantErr: photo.ErrInvalidPhoto},
		{name: "empty blob", mutate: func(r *photo.EnqueueRequest) { r.Blob = nil }, wantErr: photo.ErrInvalidPhoto},
		{name: "not an image", mutate: func(r *photo.EnqueueRequest) { r.Blob = []byte("%PDF-1.7 report") }, wantErr: photo.ErrInvalidPhoto},
		{name: "declared non-image", mutate: func(r *photo.EnqueueRequest) { r.ContentType = "text/plain" }, wantErr: photo.ErrInvalidPhoto},
		{name: "too large", mutate: func(r *photo.EnqueueRequest) { r.Blob = bytes.Repeat([]byte{0xff}, 2<<10) }, wantErr: photo.ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memory.New(testLogger())
			s := photo.NewService(store.Photos(), new(MockUploader), testLogger(), testConfig())

			req := leakPhoto()
			tt.mutate(&req)
			_, err := s.Enqueue(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)

			counts, err := s.Stats(ctx)
			require.NoError(t, err)
			assert.Zero(t, counts.Total())
		})
	}
}

func TestService_UploadSuccessDeletesBlob(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.MatchedBy(func(item *photo.Item) bool {
		return item.FileName == "leak.png"
	}), pngHeader).Return(nil).Once()

	s := photo.NewService(store.Photos(), uploader, testLogger(), testConfig())
	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	assert.Equal(t, int64(len(pngHeader)), report.Bytes)

	_, err = store.Photos().Blob(ctx, id)
	assert.ErrorIs(t, err, photo.ErrNotFound)
	uploader.AssertExpectations(t)
}

func TestService_FailedUploadKeepsBlob(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection reset"))

	cfg := testConfig()
	s := photo.NewService(store.Photos(), uploader, testLogger(), cfg)
	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	for i := 0; i < cfg.Policy.MaxRetries; i++ {
		_, err := s.ProcessQueue(ctx)
		require.NoError(t, err)
	}

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, item.Status)
	assert.Equal(t, cfg.Policy.MaxRetries, item.RetryCount)
	assert.Equal(t, "connection reset", item.LastError)

	blob, err := store.Photos().Blob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, blob)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Attempted)

	require.NoError(t, s.Discard(ctx, id))
	_, err = store.Photos().Blob(ctx, id)
	assert.ErrorIs(t, err, photo.ErrNotFound)
}

func TestService_ManualRetryKeepsCeiling(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("413")).Times(3)

	cfg := testConfig()
	s := photo.NewService(store.Photos(), uploader, testLogger(), cfg)
	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	for i := 0; i < cfg.Policy.MaxRetries; i++ {
		_, err := s.ProcessQueue(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, s.Retry(ctx, id))

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	failed, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, cfg.Policy.MaxRetries+1, failed[0].RetryCount)
	uploader.AssertExpectations(t)
}

func TestService_ConcurrentProcessQueueUploadsOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())

	var mu sync.Mutex
	uploads := make(map[string]int)
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		uploads[args.Get(1).(*photo.Item).IdempotencyKey]++
		mu.Unlock()
	}).Return(nil)

	s := photo.NewService(store.Photos(), uploader, testLogger(), testConfig())
	for i := 0; i < 10; i++ {
		_, err := s.Enqueue(ctx, leakPhoto())
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ProcessQueue(ctx); err != nil {
				t.Errorf("process queue: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, uploads, 10)
	for key, n := range uploads {
		assert.Equal(t, 1, n, "photo %s uploaded %d times", key, n)
	}
}

func TestService_UploadTimeoutIsFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	uploader := new(MockUploader)
	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	s := photo.NewService(store.Photos(), uploader, testLogger(), cfg)
	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, item.LastError, "timed out")
}

func TestService_RecoverInterruptedUpload(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := photo.NewService(store.Photos(), new(MockUploader), testLogger(), testConfig(), photo.WithClock(clock))

	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)
	ok, err := store.Photos().Claim(ctx, id, "crashed-agent", now)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "claim is still within its lease")

	now = now.Add(time.Minute)
	n, err = s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.Retry(ctx, id), photo.ErrNotFailed)
	assert.ErrorIs(t, s.Retry(ctx, id+1), photo.ErrNotFound)
}

func TestService_UploadedPhotoRemovedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := memory.New(testLogger())
	uploader := new(MockUploader)
	s := photo.NewService(store.Photos(), uploader, testLogger(), testConfig())

	id, err := s.Enqueue(ctx, leakPhoto())
	require.NoError(t, err)

	uploader.On("Upload", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		require.NoError(t, store.Photos().Delete(ctx, id))
	}).Return(nil).Once()

	report, err := s.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Uploaded)
	uploader.AssertExpectations(t)
}
