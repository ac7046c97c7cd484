// Package postgres хранилище для общих полевых шлюзов, где несколько
// агентов работают с одной базой PostgreSQL.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
	"fieldsync/internal/infrastructure/migration"
	"fieldsync/internal/infrastructure/storage"
)

type Storage struct {
	pool  *pgxpool.Pool
	log   *slog.Logger
	quota int64

	entities  *EntityRepository
	mutations *MutationRepository
	photos    *PhotoRepository
}

var _ storage.Store = (*Storage)(nil)

// New применяет миграции и открывает пул соединений.
// quotaBytes 0 означает, что квота неизвестна.
func New(ctx context.Context, databaseURI string, quotaBytes int64, log *slog.Logger) (*Storage, error) {
	mg := migration.NewMigration(migration.DialectPostgres, databaseURI, nil)
	if err := mg.Up(); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	pool, err := pgxpool.New(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Storage{
		pool:      pool,
		log:       log.With("component", "postgres_store"),
		quota:     quotaBytes,
		entities:  NewEntityRepository(pool, log),
		mutations: NewMutationRepository(pool, log),
		photos:    NewPhotoRepository(pool, log),
	}, nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Storage) Entities() entity.Repository {
	return s.entities
}

func (s *Storage) Mutations() mutation.Repository {
	return s.mutations
}

func (s *Storage) Photos() photo.Repository {
	return s.photos
}

func (s *Storage) Driver() storage.Driver {
	return storage.DriverPostgres
}

// Persist сервер PostgreSQL и так хранит данные постоянно.
func (s *Storage) Persist(_ context.Context) (bool, error) {
	return true, nil
}

func (s *Storage) Persisted(_ context.Context) (bool, error) {
	return true, nil
}

func (s *Storage) Estimate(ctx context.Context) (quota.Estimate, error) {
	const query = `
		SELECT
			pg_total_relation_size('cached_entities')
			  + pg_total_relation_size('sync_queue')
			  + pg_total_relation_size('photo_queue')
			  + pg_total_relation_size('photo_blobs'),
			(SELECT COUNT(*) FROM cached_entities),
			(SELECT COUNT(*) FROM sync_queue),
			(SELECT COUNT(*) FROM photo_queue),
			(SELECT COALESCE(SUM(size), 0)::BIGINT FROM photo_queue)`

	est := quota.Estimate{Quota: s.quota, Persisted: true}
	err := s.pool.QueryRow(ctx, query).Scan(&est.Usage, &est.Entities, &est.Mutations, &est.Photos, &est.PhotoBytes)
	if err != nil {
		s.log.Error("failed to estimate storage", "error", err)
		return est, fmt.Errorf("estimate storage: %w", err)
	}
	return est, nil
}
