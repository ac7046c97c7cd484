package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/quota"
)

// Servicer интерфейс менеджера кэша сущностей
type Servicer interface {
	CacheEntityOnView(ctx context.Context, entityType Type, entityID string, data json.RawMessage) Result
	CacheChildren(ctx context.Context, parentType Type, parentID string, children []Child) Result
	GetCachedEntity(ctx context.Context, entityType Type, entityID string) (json.RawMessage, Result)
	GetCachedChildren(ctx context.Context, parentType Type, parentID string) ([]json.RawMessage, Result)
	PinEntity(ctx context.Context, entityType Type, entityID string) Result
	UnpinEntity(ctx context.Context, entityType Type, entityID string) Result
	EvictStaleEntities(ctx context.Context) (EvictionReport, error)
	Stats(ctx context.Context) ([]TypeStats, error)
}

// Service менеджер кэша сущностей
type Service struct {
	repo      Repository
	persister quota.Persister
	log       *slog.Logger
	config    Config
	clock     func() time.Time

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

// NewService создает менеджер кэша. persister может быть nil.
func NewService(repo Repository, persister quota.Persister, log *slog.Logger, config Config, opts ...Option) *Service {
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	s := &Service{
		repo:      repo,
		persister: persister,
		log:       log.With("component", "entity_cache"),
		config:    config,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tick возвращает строго возрастающую метку времени, чтобы cachedAt/viewedAt
// оставались монотонными даже при одинаковых показаниях часов.
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

// CacheEntityOnView сохраняет снимок сущности при просмотре и запускает вытеснение.
// Ошибки хранилища логируются и возвращаются только в Result.
func (s *Service) CacheEntityOnView(ctx context.Context, entityType Type, entityID string, data json.RawMessage) Result {
	now := s.tick()
	e := &CachedEntity{
		EntityType: entityType,
		EntityID:   entityID,
		Data:       data,
		CachedAt:   now,
		ViewedAt:   now,
	}

	if err := e.Validate(); err != nil {
		s.log.Warn("refusing to cache entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return Result{Err: err}
	}

	if err := s.repo.Upsert(ctx, e); err != nil {
		s.log.Warn("failed to cache entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return Result{Err: fmt.Errorf("cache entity: %w", err)}
	}

	return s.afterWrite(ctx)
}

// CacheChildren атомарно сохраняет набор дочерних сущностей родителя.
func (s *Service) CacheChildren(ctx context.Context, parentType Type, parentID string, children []Child) Result {
	if err := parentType.Validate(); err != nil {
		s.log.Warn("refusing to cache children", "parent_type", parentType, "error", err)
		return Result{Err: err}
	}
	if parentID == "" {
		return Result{Err: fmt.Errorf("%w: empty parent id", ErrInvalidEntity)}
	}
	if len(children) == 0 {
		return Result{}
	}

	entities := make([]*CachedEntity, 0, len(children))
	for _, c := range children {
		now := s.tick()
		pt, pid := parentType, parentID
		e := &CachedEntity{
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			ParentType: &pt,
			ParentID:   &pid,
			Data:       c.Data,
			CachedAt:   now,
			ViewedAt:   now,
		}
		// Один невалидный потомок отменяет весь набор
		if err := e.Validate(); err != nil {
			s.log.Warn("refusing to cache children",
				"parent_type", parentType,
				"parent_id", parentID,
				"entity_type", c.EntityType,
				"entity_id", c.EntityID,
				"error", err,
			)
			return Result{Err: err}
		}
		entities = append(entities, e)
	}

	if err := s.repo.UpsertMany(ctx, entities); err != nil {
		s.log.Warn("failed to cache children",
			"parent_type", parentType,
			"parent_id", parentID,
			"count", len(entities),
			"error", err,
		)
		return Result{Err: fmt.Errorf("cache children: %w", err)}
	}

	return s.afterWrite(ctx)
}

func (s *Service) afterWrite(ctx context.Context) Result {
	report, err := s.EvictStaleEntities(ctx)
	if err != nil {
		return Result{Err: fmt.Errorf("evict: %w", err), Evicted: report.Total()}
	}
	return Result{Evicted: report.Total()}
}

// GetCachedEntity точечное чтение. viewedAt не обновляется. Незакрепленная
// запись старше Retention считается промахом, даже если вытеснение еще
// не запускалось.
func (s *Service) GetCachedEntity(ctx context.Context, entityType Type, entityID string) (json.RawMessage, Result) {
	e, err := s.repo.Get(ctx, entityType, entityID)
	if errors.Is(err, ErrNotFound) {
		return nil, Result{}
	}
	if err != nil {
		s.log.Warn("failed to read cached entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, Result{Err: err}
	}
	if s.expired(e, s.clock()) {
		return nil, Result{}
	}
	return e.Data, Result{}
}

func (s *Service) expired(e *CachedEntity, now time.Time) bool {
	return !e.Pinned && e.ViewedAt.Before(now.Add(-s.config.Retention))
}

// GetCachedChildren возвращает данные всех сущностей, привязанных к родителю.
func (s *Service) GetCachedChildren(ctx context.Context, parentType Type, parentID string) ([]json.RawMessage, Result) {
	entities, err := s.repo.ListByParent(ctx, parentType, parentID)
	if err != nil {
		s.log.Warn("failed to read cached children", "parent_type", parentType, "parent_id", parentID, "error", err)
		return nil, Result{Err: err}
	}

	now := s.clock()
	data := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		if s.expired(e, now) {
			continue
		}
		data = append(data, e.Data)
	}
	return data, Result{}
}

// PinEntity исключает запись из вытеснения и запрашивает постоянное хранение.
// Отказ в постоянном хранении не отменяет закрепление.
func (s *Service) PinEntity(ctx context.Context, entityType Type, entityID string) Result {
	if err := s.repo.SetPinned(ctx, entityType, entityID, true); err != nil {
		s.log.Warn("failed to pin entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return Result{Err: err}
	}

	if s.persister == nil {
		return Result{}
	}

	granted, err := s.persister.Persist(ctx)
	if err != nil {
		s.log.Warn("persistent storage request failed", "error", err)
		return Result{}
	}
	if !granted {
		s.log.Info("persistent storage was not granted, pin kept locally",
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
	return Result{Persisted: granted}
}

// UnpinEntity снимает закрепление; запись снова подлежит вытеснению.
func (s *Service) UnpinEntity(ctx context.Context, entityType Type, entityID string) Result {
	if err := s.repo.SetPinned(ctx, entityType, entityID, false); err != nil {
		s.log.Warn("failed to unpin entity", "entity_type", entityType, "entity_id", entityID, "error", err)
		return Result{Err: err}
	}
	return s.afterWrite(ctx)
}

// EvictStaleEntities выполняет двухфазное вытеснение: сначала по давности
// просмотра, затем по потолку количества для каждого типа.
// Закрепленные записи не затрагиваются.
func (s *Service) EvictStaleEntities(ctx context.Context) (EvictionReport, error) {
	report := EvictionReport{ByType: make(map[Type]int)}

	cutoff := s.clock().Add(-s.config.Retention)
	stale, err := s.repo.DeleteUnpinnedViewedBefore(ctx, cutoff)
	if err != nil {
		s.log.Warn("failed to evict stale entities", "error", err)
		return report, fmt.Errorf("evict stale: %w", err)
	}
	report.Stale = stale

	for _, t := range Types {
		limit := s.config.limit(t)

		count, err := s.repo.CountUnpinned(ctx, t)
		if err != nil {
			s.log.Warn("failed to count cached entities", "entity_type", t, "error", err)
			return report, fmt.Errorf("count %s: %w", t, err)
		}
		if count <= limit {
			continue
		}

		removed, err := s.repo.DeleteOldestUnpinned(ctx, t, count-limit)
		if err != nil {
			s.log.Warn("failed to evict over-limit entities", "entity_type", t, "error", err)
			return report, fmt.Errorf("evict %s: %w", t, err)
		}
		report.ByType[t] = removed
	}

	if total := report.Total(); total > 0 {
		s.log.Debug("evicted cached entities", "stale", report.Stale, "total", total)
	}

	return report, nil
}

// Stats статистика кэша по типам с учетом настроенных потолков.
func (s *Service) Stats(ctx context.Context) ([]TypeStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}

	byType := make(map[Type]TypeStats, len(stats))
	for _, st := range stats {
		byType[st.EntityType] = st
	}

	result := make([]TypeStats, 0, len(Types))
	for _, t := range Types {
		st := byType[t]
		st.EntityType = t
		st.Limit = s.config.limit(t)
		result = append(result, st)
	}
	return result, nil
}
