package mutation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

// Servicer интерфейс очереди изменений
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

// Service очередь изменений и процессор их воспроизведения
type Service struct {
	repo     Repository
	replayer Replayer
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

// WithOwner задает имя, которым помечаются захваченные элементы.
func WithOwner(owner string) Option {
	return func(s *Service) {
		s.owner = owner
	}
}

// NewService создает очередь изменений.
func NewService(repo Repository, replayer Replayer, log *slog.Logger, config Config, opts ...Option) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.ClaimLease < config.Timeout {
		config.ClaimLease = 2 * config.Timeout
	}

	s := &Service{
		repo:     repo,
		replayer: replayer,
		log:      log.With("component", "mutation_queue"),
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

// Enqueue проверяет и надежно сохраняет изменение. Ошибка означает, что
// изменение не сохранено и не должно считаться принятым.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	item, err := s.prepare(req)
	if err != nil {
		return 0, err
	}

	id, err := s.repo.Insert(ctx, item)
	if err != nil {
		s.log.Error("failed to enqueue mutation",
			"operation", req.Operation,
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"error", err,
		)
		return 0, fmt.Errorf("enqueue mutation: %w", err)
	}

	s.log.Debug("mutation enqueued",
		"id", id,
		"operation", item.Operation,
		"method", item.Method,
		"endpoint", item.Endpoint,
	)

	if s.notify != nil {
		s.notify()
	}

	return id, nil
}

func (s *Service) prepare(req EnqueueRequest) (*Item, error) {
	if err := req.Operation.Validate(); err != nil {
		return nil, err
	}
	if err := req.EntityType.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}
	if req.EntityID == "" {
		return nil, fmt.Errorf("%w: empty entity id", ErrInvalidMutation)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = req.Operation.DefaultMethod()
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: unsupported method %q", ErrInvalidMutation, req.Method)
	}

	endpoint, err := BindEndpoint(req.Endpoint, req.EntityID)
	if err != nil {
		return nil, err
	}

	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidMutation)
	}

	now := s.tick()
	return &Item{
		Operation:      req.Operation,
		EntityType:     req.EntityType,
		EntityID:       req.EntityID,
		Endpoint:       endpoint,
		Method:         method,
		Payload:        req.Payload,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
		NextAttemptAt:  now,
		Status:         queue.StatusPending,
	}, nil
}

// ProcessQueue выполняет один проход воспроизведения. Цепочки разных
// сущностей обрабатываются параллельно, элементы одной сущности строго
// по порядку постановки. Элементы с истекшим захватом перед проходом
// возвращаются в pending.
func (s *Service) ProcessQueue(ctx context.Context) (ProcessReport, error) {
	var report ProcessReport

	if _, err := s.Recover(ctx); err != nil {
		return report, err
	}

	items, err := s.repo.ListReady(ctx, s.clock(), s.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list ready mutations: %w", err)
	}
	if len(items) == 0 {
		return report, nil
	}

	chains := groupByEntity(items)
	reports := make([]ProcessReport, len(chains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, chain := range chains {
		g.Go(func() error {
			r, err := s.processChain(gctx, chain)
			reports[i] = r
			return err
		})
	}
	err = g.Wait()

	for _, r := range reports {
		report.add(r)
	}

	s.log.Info("mutation queue processed",
		"attempted", report.Attempted,
		"succeeded", report.Succeeded,
		"retried", report.Retried,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	return report, err
}

// processChain обрабатывает элементы одной сущности. Проход по цепочке
// останавливается на первой неудаче или потерянном захвате.
func (s *Service) processChain(ctx context.Context, chain []*Item) (ProcessReport, error) {
	var report ProcessReport

	for i, item := range chain {
		if err := ctx.Err(); err != nil {
			report.Skipped += len(chain) - i
			return report, err
		}

		now := s.clock()
		claimed, err := s.repo.Claim(ctx, item.ID, s.owner, now)
		if err != nil {
			report.Skipped += len(chain) - i
			return report, fmt.Errorf("claim mutation %d: %w", item.ID, err)
		}
		if !claimed {
			report.Skipped += len(chain) - i
			return report, nil
		}

		report.Attempted++
		ok, err := s.attempt(ctx, item)
		if err != nil {
			report.Skipped += len(chain) - i - 1
			return report, err
		}
		if ok {
			report.Succeeded++
			continue
		}

		if item.Status == queue.StatusFailed {
			report.Failed++
		} else {
			report.Retried++
		}
		report.Skipped += len(chain) - i - 1
		return report, nil
	}

	return report, nil
}

// attempt воспроизводит захваченный элемент и фиксирует результат.
// Возвращает ошибку только при сбое хранилища.
func (s *Service) attempt(ctx context.Context, item *Item) (bool, error) {
	// Начатое воспроизведение не отменяется, только ограничивается по времени
	bg := context.WithoutCancel(ctx)

	rctx, cancel := context.WithTimeout(bg, s.config.Timeout)
	replayErr := s.replayer.Replay(rctx, item)
	cancel()

	if replayErr == nil {
		err := s.repo.Delete(bg, item.ID)
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("replayed mutation already removed", "id", item.ID, "owner", s.owner)
			err = nil
		}
		if err != nil {
			return false, fmt.Errorf("delete replayed mutation %d: %w", item.ID, err)
		}
		s.log.Debug("mutation replayed", "id", item.ID, "method", item.Method, "endpoint", item.Endpoint)
		return true, nil
	}

	if errors.Is(replayErr, context.DeadlineExceeded) {
		replayErr = fmt.Errorf("replay timed out after %s: %w", s.config.Timeout, replayErr)
	}

	now := s.clock()
	attempt := s.config.Policy.Fail(item.RetryCount, now)
	if err := s.repo.RecordAttempt(bg, item.ID, attempt, replayErr.Error(), now); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("failed mutation already removed", "id", item.ID, "error", replayErr)
			return false, nil
		}
		return false, fmt.Errorf("record mutation %d attempt: %w", item.ID, err)
	}

	item.RetryCount = attempt.RetryCount
	item.Status = attempt.Status
	item.NextAttemptAt = attempt.NextAttemptAt
	item.LastError = replayErr.Error()

	if attempt.Status == queue.StatusFailed {
		s.log.Warn("mutation failed permanently",
			"id", item.ID,
			"entity_type", item.EntityType,
			"entity_id", item.EntityID,
			"retry_count", attempt.RetryCount,
			"error", replayErr,
		)
	} else {
		s.log.Info("mutation replay failed, will retry",
			"id", item.ID,
			"retry_count", attempt.RetryCount,
			"next_attempt_at", attempt.NextAttemptAt,
			"error", replayErr,
		)
	}

	return false, nil
}

// groupByEntity разбивает упорядоченный список на цепочки по сущности,
// сохраняя порядок внутри цепочки.
func groupByEntity(items []*Item) [][]*Item {
	type key struct {
		entityType entity.Type
		entityID   string
	}

	index := make(map[key]int)
	var chains [][]*Item
	for _, item := range items {
		k := key{item.EntityType, item.EntityID}
		i, ok := index[k]
		if !ok {
			i = len(chains)
			index[k] = i
			chains = append(chains, nil)
		}
		chains[i] = append(chains[i], item)
	}
	return chains
}

func (s *Service) Get(ctx context.Context, id int64) (*Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get mutation %d: %w", id, err)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, status queue.Status) ([]*Item, error) {
	if err := status.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMutation, err)
	}
	items, err := s.repo.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s mutations: %w", status, err)
	}
	return items, nil
}

// ListFailed возвращает изменения, исчерпавшие автоматические попытки.
func (s *Service) ListFailed(ctx context.Context) ([]*Item, error) {
	return s.List(ctx, queue.StatusFailed)
}

// Retry возвращает failed-элемент в pending. Счетчик попыток сохраняется,
// поэтому следующая неудача снова переведет элемент в failed.
func (s *Service) Retry(ctx context.Context, id int64) error {
	ok, err := s.repo.Requeue(ctx, id, queue.StatusFailed, s.tick())
	if err != nil {
		return fmt.Errorf("retry mutation %d: %w", id, err)
	}
	if !ok {
		return s.notInStatus(ctx, id)
	}

	s.log.Info("mutation queued for manual retry", "id", id)
	if s.notify != nil {
		s.notify()
	}
	return nil
}

// Discard удаляет failed-элемент без воспроизведения.
func (s *Service) Discard(ctx context.Context, id int64) error {
	ok, err := s.repo.DeleteIfStatus(ctx, id, queue.StatusFailed)
	if err != nil {
		return fmt.Errorf("discard mutation %d: %w", id, err)
	}
	if !ok {
		return s.notInStatus(ctx, id)
	}

	s.log.Warn("failed mutation discarded", "id", id)
	return nil
}

func (s *Service) notInStatus(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return fmt.Errorf("mutation %d: %w", id, err)
	}
	return fmt.Errorf("mutation %d: %w", id, ErrNotFailed)
}

func (s *Service) Stats(ctx context.Context) (queue.Counts, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return queue.Counts{}, fmt.Errorf("mutation stats: %w", err)
	}
	return counts, nil
}

// Recover возвращает в pending элементы processing, захват которых старше
// ClaimLease. Свежие захваты принадлежат живому процессу и не трогаются.
func (s *Service) Recover(ctx context.Context) (int, error) {
	now := s.clock()
	n, err := s.repo.RequeueExpired(ctx, now.Add(-s.config.ClaimLease), now)
	if err != nil {
		return 0, fmt.Errorf("recover mutations: %w", err)
	}
	if n > 0 {
		s.log.Warn("recovered interrupted mutations", "count", n)
	}
	return n, nil
}
