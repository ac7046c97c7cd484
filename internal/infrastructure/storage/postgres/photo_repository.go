package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
)

type PhotoRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPhotoRepository(pool *pgxpool.Pool, log *slog.Logger) *PhotoRepository {
	return &PhotoRepository{
		pool: pool,
		log:  log.With("component", "photo_repository"),
	}
}

const selectPhotoQuery = `
	SELECT id, entity_type, entity_id, endpoint, file_name, content_type, size, checksum, idempotency_key,
	       created_at, updated_at, next_attempt_at, retry_count, last_error, status, claimed_by, claimed_at
	FROM photo_queue`

func scanPhoto(row pgx.Row) (*photo.Item, error) {
	var (
		p                        photo.Item
		entityType, status       string
		createdAt, updatedAt     int64
		nextAttemptAt, claimedAt int64
	)
	err := row.Scan(&p.ID, &entityType, &p.EntityID, &p.Endpoint, &p.FileName, &p.ContentType, &p.Size,
		&p.Checksum, &p.IdempotencyKey, &createdAt, &updatedAt, &nextAttemptAt, &p.RetryCount, &p.LastError, &status,
		&p.ClaimedBy, &claimedAt)
	if err != nil {
		return nil, err
	}

	p.EntityType = entity.Type(entityType)
	p.Status = queue.Status(status)
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	p.NextAttemptAt = time.Unix(0, nextAttemptAt).UTC()
	if claimedAt != 0 {
		p.ClaimedAt = time.Unix(0, claimedAt).UTC()
	}
	return &p, nil
}

func (r *PhotoRepository) list(ctx context.Context, query string, args ...any) ([]*photo.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*photo.Item
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// Insert сохраняет запись и содержимое в одной транзакции.
func (r *PhotoRepository) Insert(ctx context.Context, item *photo.Item, blob []byte) (int64, error) {
	const (
		insertPhoto = `
			INSERT INTO photo_queue (entity_type, entity_id, endpoint, file_name, content_type, size, checksum,
			                         idempotency_key, created_at, updated_at, next_attempt_at, retry_count, last_error, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`
		insertBlob = `INSERT INTO photo_blobs (photo_id, blob) VALUES ($1, $2)`
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, insertPhoto,
		string(item.EntityType), item.EntityID, item.Endpoint, item.FileName, item.ContentType, item.Size,
		item.Checksum, item.IdempotencyKey, item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano(),
		item.NextAttemptAt.UnixNano(), item.RetryCount, item.LastError, string(item.Status),
	).Scan(&id)
	if err != nil {
		r.log.Error("failed to insert photo", "entity_type", item.EntityType, "entity_id", item.EntityID, "error", err)
		return 0, fmt.Errorf("insert photo: %w", err)
	}

	if _, err := tx.Exec(ctx, insertBlob, id, blob); err != nil {
		r.log.Error("failed to insert photo blob", "id", id, "error", err)
		return 0, fmt.Errorf("insert photo blob: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	item.ID = id
	return id, nil
}

func (r *PhotoRepository) Get(ctx context.Context, id int64) (*photo.Item, error) {
	p, err := scanPhoto(r.pool.QueryRow(ctx, selectPhotoQuery+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, photo.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to get photo", "id", id, "error", err)
		return nil, fmt.Errorf("get photo %d: %w", id, err)
	}
	return p, nil
}

func (r *PhotoRepository) Blob(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx, `SELECT blob FROM photo_blobs WHERE photo_id = $1`, id).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, photo.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to read photo blob", "id", id, "error", err)
		return nil, fmt.Errorf("read photo blob %d: %w", id, err)
	}
	return blob, nil
}

func (r *PhotoRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*photo.Item, error) {
	query := selectPhotoQuery + ` WHERE status = $1 AND next_attempt_at <= $2 ORDER BY created_at, id`
	args := []any{string(queue.StatusPending), now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	items, err := r.list(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list ready photos", "error", err)
		return nil, fmt.Errorf("list ready photos: %w", err)
	}
	return items, nil
}

func (r *PhotoRepository) ListByStatus(ctx context.Context, status queue.Status) ([]*photo.Item, error) {
	items, err := r.list(ctx, selectPhotoQuery+` WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s photos: %w", status, err)
	}
	return items, nil
}

func (r *PhotoRepository) CountByStatus(ctx context.Context) (queue.Counts, error) {
	return countByStatus(ctx, r.pool, "photo_queue")
}

func (r *PhotoRepository) Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	const query = `
		UPDATE photo_queue SET status = $1, updated_at = $2, claimed_by = $5, claimed_at = $2
		WHERE id = $3 AND status = $4 AND next_attempt_at <= $2`

	result, err := r.pool.Exec(ctx, query,
		string(queue.StatusProcessing), now.UnixNano(), id, string(queue.StatusPending), owner)
	if err != nil {
		r.log.Error("failed to claim photo", "id", id, "error", err)
		return false, fmt.Errorf("claim photo %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PhotoRepository) RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	const query = `
		UPDATE photo_queue
		SET retry_count = $1, status = $2, next_attempt_at = $3, last_error = $4, updated_at = $5,
		    claimed_by = '', claimed_at = 0
		WHERE id = $6`

	result, err := r.pool.Exec(ctx, query,
		attempt.RetryCount, string(attempt.Status), attempt.NextAttemptAt.UnixNano(), lastError, now.UnixNano(), id)
	if err != nil {
		r.log.Error("failed to record attempt", "id", id, "error", err)
		return fmt.Errorf("record attempt %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return photo.ErrNotFound
	}
	return nil
}

// Delete удаляет запись; содержимое удаляется каскадно.
func (r *PhotoRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM photo_queue WHERE id = $1`, id)
	if err != nil {
		r.log.Error("failed to delete photo", "id", id, "error", err)
		return fmt.Errorf("delete photo %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return photo.ErrNotFound
	}
	return nil
}

func (r *PhotoRepository) Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	const query = `
		UPDATE photo_queue SET status = $1, next_attempt_at = $2, updated_at = $2, claimed_by = '', claimed_at = 0
		WHERE id = $3 AND status = $4`

	result, err := r.pool.Exec(ctx, query, string(queue.StatusPending), now.UnixNano(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("requeue photo %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *PhotoRepository) RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	const query = `
		UPDATE photo_queue SET status = $1, next_attempt_at = $2, updated_at = $2, claimed_by = '', claimed_at = 0
		WHERE status = $3 AND claimed_at < $4`

	result, err := r.pool.Exec(ctx, query,
		string(queue.StatusPending), now.UnixNano(), string(queue.StatusProcessing), claimedBefore.UnixNano())
	if err != nil {
		r.log.Error("failed to requeue expired claims", "error", err)
		return 0, fmt.Errorf("requeue expired photos: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *PhotoRepository) DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM photo_queue WHERE id = $1 AND status = $2`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("delete photo %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}
