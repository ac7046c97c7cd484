package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
)

type photoRepo struct {
	db *sql.DB
}

// selectPhotoSQL не затрагивает photo_blobs: содержимое читается только в Blob.
const selectPhotoSQL = `
	SELECT id, entity_type, entity_id, endpoint, file_name, content_type, size, checksum, idempotency_key,
	       created_at, updated_at, next_attempt_at, retry_count, last_error, status, claimed_by, claimed_at
	FROM photo_queue
`

func scanPhoto(row interface{ Scan(...any) error }) (*photo.Item, error) {
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
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	p.NextAttemptAt = fromNanos(nextAttemptAt)
	if claimedAt != 0 {
		p.ClaimedAt = fromNanos(claimedAt)
	}
	return &p, nil
}

func (r *photoRepo) list(ctx context.Context, query string, args ...any) ([]*photo.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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
func (r *photoRepo) Insert(ctx context.Context, item *photo.Item, blob []byte) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO photo_queue (entity_type, entity_id, endpoint, file_name, content_type, size, checksum,
		                         idempotency_key, created_at, updated_at, next_attempt_at, retry_count, last_error, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(item.EntityType), item.EntityID, item.Endpoint, item.FileName, item.ContentType, item.Size,
		item.Checksum, item.IdempotencyKey, toNanos(item.CreatedAt), toNanos(item.UpdatedAt),
		toNanos(item.NextAttemptAt), item.RetryCount, item.LastError, string(item.Status))
	if err != nil {
		return 0, fmt.Errorf("insert photo: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO photo_blobs (photo_id, blob) VALUES (?, ?)`, id, blob); err != nil {
		return 0, fmt.Errorf("insert photo blob: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	item.ID = id
	return id, nil
}

func (r *photoRepo) Get(ctx context.Context, id int64) (*photo.Item, error) {
	p, err := scanPhoto(r.db.QueryRowContext(ctx, selectPhotoSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, photo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %d: %w", id, err)
	}
	return p, nil
}

func (r *photoRepo) Blob(ctx context.Context, id int64) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, `SELECT blob FROM photo_blobs WHERE photo_id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, photo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read photo blob %d: %w", id, err)
	}
	return blob, nil
}

func (r *photoRepo) ListReady(ctx context.Context, now time.Time, limit int) ([]*photo.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	items, err := r.list(ctx, selectPhotoSQL+`
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(queue.StatusPending), toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list ready photos: %w", err)
	}
	return items, nil
}

func (r *photoRepo) ListByStatus(ctx context.Context, status queue.Status) ([]*photo.Item, error) {
	items, err := r.list(ctx, selectPhotoSQL+` WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s photos: %w", status, err)
	}
	return items, nil
}

func (r *photoRepo) CountByStatus(ctx context.Context) (queue.Counts, error) {
	return countByStatus(ctx, r.db, "photo_queue")
}

func (r *photoRepo) Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_queue SET status = ?, updated_at = ?, claimed_by = ?, claimed_at = ?
		WHERE id = ? AND status = ? AND next_attempt_at <= ?
	`, string(queue.StatusProcessing), toNanos(now), owner, toNanos(now), id, string(queue.StatusPending), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("claim photo %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (r *photoRepo) RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_queue
		SET retry_count = ?, status = ?, next_attempt_at = ?, last_error = ?, updated_at = ?,
		    claimed_by = '', claimed_at = 0
		WHERE id = ?
	`, attempt.RetryCount, string(attempt.Status), toNanos(attempt.NextAttemptAt), lastError, toNanos(now), id)
	if err != nil {
		return fmt.Errorf("record attempt %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return photo.ErrNotFound
	}
	return nil
}

// Delete удаляет запись; содержимое удаляется каскадно.
func (r *photoRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photo_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete photo %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return photo.ErrNotFound
	}
	return nil
}

func (r *photoRepo) Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_queue SET status = ?, next_attempt_at = ?, updated_at = ?, claimed_by = '', claimed_at = 0
		WHERE id = ? AND status = ?
	`, string(queue.StatusPending), toNanos(now), toNanos(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("requeue photo %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (r *photoRepo) RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photo_queue SET status = ?, next_attempt_at = ?, updated_at = ?, claimed_by = '', claimed_at = 0
		WHERE status = ? AND claimed_at < ?
	`, string(queue.StatusPending), toNanos(now), toNanos(now), string(queue.StatusProcessing), toNanos(claimedBefore))
	if err != nil {
		return 0, fmt.Errorf("requeue expired photos: %w", err)
	}
	return rowsAffected(res)
}

func (r *photoRepo) DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM photo_queue WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("delete photo %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}
