// Package memory хранилище в памяти процесса. Используется в тестах и как
// запасной вариант, когда файловое хранилище недоступно: кэш и очереди
// работают, но не переживают перезапуск.
package memory

import (
	"context"
	"sync"

	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
	"fieldsync/internal/infrastructure/storage"
)

type entityKey struct {
	entityType entity.Type
	entityID   string
}

// Store хранилище в памяти. Все операции выполняются под одной блокировкой,
// что соответствует сериализуемым транзакциям.
type Store struct {
	mu  sync.Mutex
	log *slog.Logger

	entities     map[entityKey]*entity.CachedEntity
	nextEntityID int64

	mutations      map[int64]*mutation.Item
	nextMutationID int64

	photos      map[int64]*photo.Item
	blobs       map[int64][]byte
	nextPhotoID int64
}

var _ storage.Store = (*Store)(nil)

func New(log *slog.Logger) *Store {
	return &Store{
		log:       log.With("component", "memory_store"),
		entities:  make(map[entityKey]*entity.CachedEntity),
		mutations: make(map[int64]*mutation.Item),
		photos:    make(map[int64]*photo.Item),
		blobs:     make(map[int64][]byte),
	}
}

func (s *Store) Entities() entity.Repository {
	return &entityRepo{s: s}
}

func (s *Store) Mutations() mutation.Repository {
	return &mutationRepo{s: s}
}

func (s *Store) Photos() photo.Repository {
	return &photoRepo{s: s}
}

func (s *Store) Driver() storage.Driver {
	return storage.DriverMemory
}

// Persist память процесса не может быть постоянной, запрос всегда отклоняется.
func (s *Store) Persist(_ context.Context) (bool, error) {
	s.log.Debug("persistent storage requested from memory store, denying")
	return false, nil
}

func (s *Store) Persisted(_ context.Context) (bool, error) {
	return false, nil
}

// Estimate суммирует размеры хранимых данных.
func (s *Store) Estimate(_ context.Context) (quota.Estimate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var est quota.Estimate
	for _, e := range s.entities {
		est.Usage += int64(len(e.Data))
	}
	for _, m := range s.mutations {
		est.Usage += int64(len(m.Payload))
	}
	for _, b := range s.blobs {
		est.PhotoBytes += int64(len(b))
	}
	est.Usage += est.PhotoBytes
	est.Entities = len(s.entities)
	est.Mutations = len(s.mutations)
	est.Photos = len(s.photos)

	return est, nil
}

func (s *Store) Close() error {
	return nil
}
