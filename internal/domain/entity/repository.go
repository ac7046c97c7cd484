package entity

import (
	"context"
	"time"
)

// Repository интерфейс хранилища кэшированных сущностей
type Repository interface {
	// Upsert вставляет или обновляет запись по (entity_type, entity_id).
	// При обновлении флаг pinned сохраняется, ссылка на родителя
	// заменяется только если она задана.
	Upsert(ctx context.Context, e *CachedEntity) error
	// UpsertMany делает то же для набора записей в одной транзакции.
	UpsertMany(ctx context.Context, entities []*CachedEntity) error

	Get(ctx context.Context, entityType Type, entityID string) (*CachedEntity, error)
	ListByParent(ctx context.Context, parentType Type, parentID string) ([]*CachedEntity, error)
	SetPinned(ctx context.Context, entityType Type, entityID string, pinned bool) error

	// Вытеснение
	DeleteUnpinnedViewedBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountUnpinned(ctx context.Context, entityType Type) (int, error)
	DeleteOldestUnpinned(ctx context.Context, entityType Type, n int) (int, error)

	// Статистика
	Stats(ctx context.Context) ([]TypeStats, error)
}
