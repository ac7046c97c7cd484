package photo

import (
	"context"
	"time"

	"fieldsync/internal/domain/queue"
)

// Repository интерфейс хранилища очереди фотографий
type Repository interface {
	Insert(ctx context.Context, item *Item, blob []byte) (int64, error)
	Get(ctx context.Context, id int64) (*Item, error)
	// Blob читает содержимое фотографии.
	Blob(ctx context.Context, id int64) ([]byte, error)
	ListReady(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	ListByStatus(ctx context.Context, status queue.Status) ([]*Item, error)
	CountByStatus(ctx context.Context) (queue.Counts, error)

	// Claim атомарно переводит готовый элемент pending -> processing
	// от имени owner.
	Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error)
	RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error
	// Delete удаляет элемент вместе с содержимым.
	Delete(ctx context.Context, id int64) error

	Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error)
	RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error)
	DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error)
}

// Uploader загружает фотографию на удаленный API. Возврат nil означает,
// что фотография сохранена и привязана к сущности.
type Uploader interface {
	Upload(ctx context.Context, item *Item, blob []byte) error
}
