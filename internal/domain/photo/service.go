package photo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/domain/queue"
)

// Servicer интерфейс очереди фотографий
type Servicer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (int64, error)
	ProcessQueue(ctx context.Context) (ProcessReport, error)
	Get(ctx context.Context, id int64) (*Item, error)
	List(ctx context.Context, status queue.Status) ([]*Item, error)
	ListFailed(ctx context.Context) ([]*Item, error)
	Retry(ctx context.Context, id int64) error
	Discard(ctx context.Context, id int64) error
	Stats(ctx context.Context) (queue.Counts, error)
	Recover(ctx context.Context) (int, error)
}

// Service очередь загрузки фотографий
type Service struct {
	repo     Repository
	uploader Uploader
	log      *slog.Logger
	config   Config
	clock    func() time.Time
	notify   func()
	owner    string

	mu   sync.Mutex
	last time.Time
}

// Option дополнительная настройка сервиса
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithNotify задает функцию, вызываемую после каждой успешной постановки в очередь.
func WithNotify(fn func()) Option {
	return func(s *Service) {
		s.notify = fn
	}
}

// WithOwner задает имя, которым помечаются захваченные загрузки.
func WithOwner(owner string) Option {
	return func(s *Service) {
		s.owner = owner
	}
}

// NewService создает очередь фотографий.
func NewService(repo Repository, uploader Uploader, log *slog.Logger, config Config, opts ...Option) *Service {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.ClaimLease < config.Timeout {
		config.ClaimLease = 2 * config.Timeout
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaults.MaxSize
	}
	if config.Endpoint == "" {
		config.Endpoint = defaults.Endpoint
	}

	s := &Service{
		repo:     repo,
		uploader: uploader,
		log:      log.With("component", "photo_queue"),
		config:   config,
		clock:    time.Now,
		owner:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) tick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if !now.After(s.last) {
		now = s.last.Add(time.Nanosecond)
	}
	s.last = now
	return now
}

// Enqueue проверяет и сохраняет фотографию до загрузки.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	item, err := s.prepare(req)
	if err != nil {
		return 0, err
	}

	id, err := s.repo.Insert(ctx, item, req.Blob)
	if err != nil {
		s.log.Error("failed to enqueue photo",
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"size", item.Size,
			"error", err,
		)
		return 0, fmt.Errorf("enqueue photo: %w", err)
	}

	s.log.Debug("photo enqueued", "id", id, "file_name", item.FileName, "size", item.Size)

	if s.notify != nil {
		s.notify()
	}
	return id, nil
}

func (s *Service) prepare(req EnqueueRequest) (*Item, error) {
	if err := req.EntityType.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPhoto, err)
	}
	if req.EntityID == "" {
		return nil, fmt.Errorf("%w: empty entity id", ErrInvalidPhoto)
	}

	name := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, fmt.Errorf("%w: empty file name", ErrInvalidPhoto)
	}

	size := int64(len(req.Blob))
	if size == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrInvalidPhoto)
	}
	if size > s.config.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, size, s.config.MaxSize)
	}

	contentType, err := detectContentType(req.ContentType, req.Blob)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Blob)
	escaped := url.PathEscape(req.EntityID)
	endpoint := strings.NewReplacer(
		"{entityType}", url.PathEscape(string(req.EntityType)),
		"{entityId}", escaped,
		"{id}", escaped,
	).Replace(s.config.Endpoint)

	now := s.tick()
	return &Item{
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Endpoint:       endpoint,
		FileName:       name,
		ContentType:    contentType,
		Size:           size,
		Checksum:       hex.EncodeToString(sum[:]),
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
		NextAttemptAt:  now,
		Status:         queue.StatusPending,
	}, nil
}

// detectContentType принимает заявленный тип или определяет его по
// содержимому. Допускаются только изображения.
func detectContentType(declared string, blob []byte) (string, error) {
	contentType := declared
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(blob)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: bad content type %q", ErrInvalidPhoto, contentType)
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%w: not an image: %s", ErrInvalidPhoto, mediaType)
	}
	return mediaType, nil
}

// ProcessQueue выполняет один проход загрузки готовых фотографий.
// Порядок между фотографиями не гарантируется.
func (s *Service) ProcessQueue(ctx context.Context) (ProcessReport, error) {
	var report ProcessReport

	if _, err := s.Recover(ctx); err != nil {
		return report, err
	}

	items, err := s.repo.ListReady(ctx, s.clock(), s.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list ready photos: %w", err)
	}
	if len(items) == 0 {
		return report, nil
	}

	var attempted, uploaded, retried, failed, skipped atomic.Int64
	var bytes atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for _, item := range items {
		g.Go(func() error {
			if gctx.Err() != nil {
				skipped.Add(1)
				return nil
			}

			claimed, err := s.repo.Claim(gctx, item.ID, s.owner, s.clock())
			if err != nil {
				skipped.Add(1)
				return fmt.Errorf("claim photo %d: %w", item.ID, err)
			}
			if !claimed {
				skipped.Add(1)
				return nil
			}

			attempted.Add(1)
			ok, err := s.attempt(gctx, item)
			if err != nil {
				return err
			}
			switch {
			case ok:
				uploaded.Add(1)
				bytes.Add(item.Size)
			case item.Status == queue.StatusFailed:
				failed.Add(1)
			default:
				retried.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	report = ProcessReport{
		Attempted: int(attempted.Load()),
		Uploaded:  int(uploaded.Load()),
		Retried:   int(retried.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Bytes:     bytes.Load(),
	}

	s.log.Info("photo queue processed",
		"attempted", report.Attempted,
		"uploaded", report.Uploaded,
		"retried", report.Retried,
		"failed", report.Failed,
		"bytes", report.Bytes,
	)

	return report, err
}

// attempt загружает захваченную фотографию. Локальная запись удаляется
// только после подтверждения загрузки.
func (s *Service) attempt(ctx context.Context, item *Item) (bool, error) {
	bg := context.WithoutCancel(ctx)

	blob, err := s.repo.Blob(bg, item.ID)
	var uploadErr error
	if err != nil {
		uploadErr = fmt.Errorf("read local blob: %w", err)
	} else {
		uctx, cancel := context.WithTimeout(bg, s.config.Timeout)
		uploadErr = s.uploader.Upload(uctx, item, blob)
		cancel()
	}

	if uploadErr == nil {
		err := s.repo.Delete(bg, item.ID)
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("uploaded photo already removed", "id", item.ID, "owner", s.owner)
			err = nil
		}
		if err != nil {
			return false, fmt.Errorf("delete uploaded photo %d: %w", item.ID, err)
		}
		s.log.Debug("photo uploaded", "id", item.ID, "endpoint", item.Endpoint, "size", item.Size)
		return true, nil
	}

	if errors.Is(uploadErr, context.DeadlineExceeded) {
		uploadErr = fmt.Errorf("upload timed out after %s: %w", s.config.Timeout, uploadErr)
	}

	now := s.clock()
	attempt := s.config.Policy.Fail(item.RetryCount, now)
	if err := s.repo.RecordAttempt(bg, item.ID, attempt, uploadErr.Error(), now); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("failed photo already removed", "id", item.ID, "error", uploadErr)
			return false, nil
		}
		return false, fmt.Errorf("record photo %d attempt: %w", item.ID, err)
	}

	item.RetryCount = attempt.RetryCount
	item.Status = attempt.Status
	item.NextAttemptAt = attempt.NextAttemptAt
	item.LastError = uploadErr.Error()

	if attempt.Status == queue.StatusFailed {
		s.log.Warn("photo upload failed permanently",
			"id", item.ID,
			"entity_type", item.EntityType,
			"entity_id", item.EntityID,
			"retry_count", attempt.RetryCount,
			"error", uploadErr,
		)
	} else {
		s.log.Info("photo upload failed, will retry",
			"id", item.ID,
			"retry_count", attempt.RetryCount,
			"next_attempt_at", attempt.NextAttemptAt,
			"error", uploadErr,
		)
	}
	return false, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get photo %d: %w", id, err)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, status queue.Status) ([]*Item, error) {
	if err := status.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPhoto, err)
	}
	items, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s photos: %w", status, err)
	}
	return items, nil
}

func (s *Service) ListFailed(ctx context.Context) ([]*Item, error) {
	return s.List(ctx, queue.StatusFailed)
}

// Retry возвращает failed-фотографию в pending с сохранением счетчика попыток.
func (s *Service) Retry(ctx context.Context, id int64) error {
	ok, err := s.repo.Requeue(ctx, id, queue.StatusFailed, s.tick())
	if err != nil {
		return fmt.Errorf("retry photo %d: %w", id, err)
	}
	if !ok {
		return s.notInStatus(ctx, id)
	}

	s.log.Info("photo queued for manual retry", "id", id)
	if s.notify != nil {
		s.notify()
	}
	return nil
}

// Discard удаляет failed-фотографию вместе с содержимым.
func (s *Service) Discard(ctx context.Context, id int64) error {
	ok, err := s.repo.DeleteIfStatus(ctx, id, queue.StatusFailed)
	if err != nil {
		return fmt.Errorf("discard photo %d: %w", id, err)
	}
	if !ok {
		return s.notInStatus(ctx, id)
	}

	s.log.Warn("failed photo discarded", "id", id)
	return nil
}

func (s *Service) notInStatus(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return fmt.Errorf("photo %d: %w", id, err)
	}
	return fmt.Errorf("photo %d: %w", id, ErrNotFailed)
}

func (s *Service) Stats(ctx context.Context) (queue.Counts, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("photo stats: %w", err)
	}
	return counts, nil
}

// Recover возвращает в pending загрузки, захват которых старше ClaimLease.
func (s *Service) Recover(ctx context.Context) (int, error) {
	now := s.clock()
	n, err := s.repo.RequeueExpired(ctx, now.Add(-s.config.ClaimLease), now)
	if err != nil {
		return 0, fmt.Errorf("recover photos: %w", err)
	}
	if n > 0 {
		s.log.Warn("recovered interrupted uploads", "count", n)
	}
	return n, nil
}
