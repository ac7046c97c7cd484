package migration

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// Blank imports register database drivers for migrations
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var migrations embed.FS

// Dialect набор миграций для конкретного движка
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) sourceDir() (string, error) {
	switch d {
	case DialectSQLite:
		return "sql/sqlite", nil
	case DialectPostgres:
		return "sql/postgres", nil
	}
	return "", fmt.Errorf("unknown migration dialect %q", d)
}

// Migrator - интерфейс для самой библиотеки migrate.Migrate
type Migrator interface {
	Up() error
	Close() (error, error)
}

// MigrationEngine - фабрика для создания мигратора (чтобы не лезть в ФС и БД в тестах)
type MigrationEngine func(sourceDir, databaseURL string) (Migrator, error)

type Migration struct {
	dialect     Dialect
	databaseURL string
	engine      MigrationEngine
}

// NewMigration создает мигратор. Для SQLite databaseURL имеет вид
// sqlite3://<путь к файлу>, для Postgres это обычный DSN postgres://.
func NewMigration(dialect Dialect, databaseURL string, engine MigrationEngine) *Migration {
	if engine == nil {
		engine = DefaultEngine
	}
	return &Migration{
		dialect:     dialect,
		databaseURL: databaseURL,
		engine:      engine,
	}
}

// SQLiteURL строит адрес базы SQLite для golang-migrate.
func SQLiteURL(path string) string {
	return "sqlite3://" + path
}

// DefaultEngine - реальная реализация: миграции встроены в бинарник
func DefaultEngine(sourceDir, databaseURL string) (Migrator, error) {
	src, err := iofs.New(migrations, sourceDir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (mg *Migration) Up() (err error) {
	dir, err := mg.dialect.sourceDir()
	if err != nil {
		return err
	}

	m, err := mg.engine(dir, mg.databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		serr, dberr := m.Close()
		if serr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration source error: %v", err, serr)
			} else {
				err = serr
			}
		}
		if dberr != nil {
			if err != nil {
				err = fmt.Errorf("%w; migration database error: %v", err, dberr)
			} else {
				err = dberr
			}
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}
