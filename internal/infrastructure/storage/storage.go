package storage

import (
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
)

// Driver название движка локального хранилища
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMemory   Driver = "memory"
)

// Store локальное хранилище с тремя коллекциями записей: кэш сущностей,
// очередь изменений и очередь фотографий.
type Store interface {
	quota.Persister

	Entities() entity.Repository
	Mutations() mutation.Repository
	Photos() photo.Repository

	Driver() Driver
	Close() error
}
