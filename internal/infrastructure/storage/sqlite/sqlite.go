// Package sqlite локальное хранилище по умолчанию на базе SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
	"fieldsync/internal/infrastructure/migration"
	"fieldsync/internal/infrastructure/storage"
)

const metaPersisted = "persisted"

// Options параметры открытия хранилища
type Options struct {
	// AllowPersist разрешает переводить базу в режим постоянного хранения
	AllowPersist bool
	// QuotaBytes квота хранилища; 0 означает занятое место плюс свободное на диске
	QuotaBytes int64
}

// Store хранилище SQLite
type Store struct {
	db   *sql.DB
	path string
	opts Options
	log  *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// querier общий интерфейс *sql.DB и *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open открывает (или создает) базу по пути path и применяет миграции.
func Open(ctx context.Context, path string, opts Options, log *slog.Logger) (*Store, error) {
	log = log.With("component", "sqlite_store", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	if err := migration.NewMigration(migration.DialectSQLite, migration.SQLiteURL(path), nil).Up(); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	dsn := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Одно долгоживущее соединение: запись в SQLite все равно сериализуется,
	// а PRAGMA synchronous действует на уровне соединения.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, path: path, opts: opts, log: log}

	persisted, err := s.Persisted(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if persisted && opts.AllowPersist {
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("restore synchronous mode: %w", err)
		}
	}

	log.Info("sqlite store opened", "persisted", persisted)
	return s, nil
}

func (s *Store) Entities() entity.Repository {
	return &entityRepo{db: s.db}
}

func (s *Store) Mutations() mutation.Repository {
	return &mutationRepo{db: s.db}
}

func (s *Store) Photos() photo.Repository {
	return &photoRepo{db: s.db}
}

func (s *Store) Driver() storage.Driver {
	return storage.DriverSQLite
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Persist переводит базу в режим полной синхронизации с диском и запоминает
// разрешение. Отказ возможен, если постоянное хранение запрещено настройками.
func (s *Store) Persist(ctx context.Context) (bool, error) {
	if !s.opts.AllowPersist {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		return false, fmt.Errorf("set synchronous mode: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, metaPersisted, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("record persistence grant: %w", err)
	}

	return true, nil
}

func (s *Store) Persisted(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, metaPersisted).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read persistence grant: %w", err)
	}
	return true, nil
}

// Estimate оценивает занятое место по размеру файлов базы.
func (s *Store) Estimate(ctx context.Context) (quota.Estimate, error) {
	var est quota.Estimate

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cached_entities),
			(SELECT COUNT(*) FROM sync_queue),
			(SELECT COUNT(*) FROM photo_queue),
			(SELECT COALESCE(SUM(size), 0) FROM photo_queue)
	`).Scan(&est.Entities, &est.Mutations, &est.Photos, &est.PhotoBytes)
	if err != nil {
		return est, fmt.Errorf("count records: %w", err)
	}

	for _, suffix := range []string{"", "-wal", "-shm"} {
		fi, err := os.Stat(s.path + suffix)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return est, fmt.Errorf("stat database file: %w", err)
		}
		est.Usage += fi.Size()
	}

	est.Quota = s.opts.QuotaBytes
	if est.Quota <= 0 {
		free, err := freeBytes(filepath.Dir(s.path))
		if err != nil {
			s.log.Warn("failed to read free disk space", "error", err)
		} else if free > 0 {
			est.Quota = est.Usage + free
		}
	}

	est.Persisted, err = s.Persisted(ctx)
	if err != nil {
		return est, err
	}

	return est, nil
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
