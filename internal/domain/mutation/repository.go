package mutation

import (
	"context"
	"time"

	"fieldsync/internal/domain/queue"
)

// Repository интерфейс хранилища очереди изменений
type Repository interface {
	Insert(ctx context.Context, item *Item) (int64, error)
	Get(ctx context.Context, id int64) (*Item, error)
	// ListReady возвращает pending-элементы с next_attempt_at <= now
	// в порядке (created_at, id).
	ListReady(ctx context.Context, now time.Time, limit int) ([]*Item, error)
	ListByStatus(ctx context.Context, status queue.Status) ([]*Item, error)
	CountByStatus(ctx context.Context) (queue.Counts, error)

	// Claim атомарно переводит элемент pending -> processing и записывает
	// владельца и время захвата. Успешен только если элемент готов к попытке
	// и для его сущности нет более раннего элемента в любом статусе.
	Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error)
	// RecordAttempt фиксирует неудачную попытку и снимает захват.
	RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error
	Delete(ctx context.Context, id int64) error

	// Requeue переводит элемент из статуса from в pending.
	Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error)
	// RequeueExpired возвращает в pending элементы processing, захваченные
	// раньше claimedBefore.
	RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error)
	DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error)
}

// Replayer выполняет изменение на удаленном API.
type Replayer interface {
	Replay(ctx context.Context, item *Item) error
}
