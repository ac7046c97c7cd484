package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
)

type mutationRepo struct {
	db *sql.DB
}

const selectMutationSQL = `
	SELECT id, operation, entity_type, entity_id, endpoint, method, payload, idempotency_key,
	       created_at, updated_at, next_attempt_at, retry_count, last_error, status, claimed_by, claimed_at
	FROM sync_queue
`

func scanMutation(row interface{ Scan(...any) error }) (*mutation.Item, error) {
	var (
		m                        mutation.Item
		operation, entityType    string
		status                   string
		payload                  []byte
		createdAt, updatedAt     int64
		nextAttemptAt, claimedAt int64
	)
	err := row.Scan(&m.ID, &operation, &entityType, &m.EntityID, &m.Endpoint, &m.Method, &payload,
		&m.IdempotencyKey, &createdAt, &updatedAt, &nextAttemptAt, &m.RetryCount, &m.LastError, &status,
		&m.ClaimedBy, &claimedAt)
	if err != nil {
		return nil, err
	}

	m.Operation = mutation.Operation(operation)
	m.EntityType = entity.Type(entityType)
	m.Status = queue.Status(status)
	m.Payload = payload
	m.CreatedAt = fromNanos(createdAt)
	m.UpdatedAt = fromNanos(updatedAt)
	m.NextAttemptAt = fromNanos(nextAttemptAt)
	if claimedAt != 0 {
		m.ClaimedAt = fromNanos(claimedAt)
	}
	return &m, nil
}

func (r *mutationRepo) list(ctx context.Context, query string, args ...any) ([]*mutation.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*mutation.Item
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *mutationRepo) Insert(ctx context.Context, item *mutation.Item) (int64, error) {
	var payload []byte
	if len(item.Payload) > 0 {
		payload = item.Payload
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (operation, entity_type, entity_id, endpoint, method, payload, idempotency_key,
		                        created_at, updated_at, next_attempt_at, retry_count, last_error, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(item.Operation), string(item.EntityType), item.EntityID, item.Endpoint, item.Method, payload,
		item.IdempotencyKey, toNanos(item.CreatedAt), toNanos(item.UpdatedAt), toNanos(item.NextAttemptAt),
		item.RetryCount, item.LastError, string(item.Status))
	if err != nil {
		return 0, fmt.Errorf("insert mutation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	item.ID = id
	return id, nil
}

func (r *mutationRepo) Get(ctx context.Context, id int64) (*mutation.Item, error) {
	m, err := scanMutation(r.db.QueryRowContext(ctx, selectMutationSQL+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mutation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation %d: %w", id, err)
	}
	return m, nil
}

func (r *mutationRepo) ListReady(ctx context.Context, now time.Time, limit int) ([]*mutation.Item, error) {
	if limit <= 0 {
		limit = -1
	}
	items, err := r.list(ctx, selectMutationSQL+`
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(queue.StatusPending), toNanos(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list ready mutations: %w", err)
	}
	return items, nil
}

func (r *mutationRepo) ListByStatus(ctx context.Context, status queue.Status) ([]*mutation.Item, error) {
	items, err := r.list(ctx, selectMutationSQL+` WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s mutations: %w", status, err)
	}
	return items, nil
}

func (r *mutationRepo) CountByStatus(ctx context.Context) (queue.Counts, error) {
	return countByStatus(ctx, r.db, "sync_queue")
}

func countByStatus(ctx context.Context, q querier, table string) (queue.Counts, error) {
	var counts queue.Counts

	rows, err := q.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return counts, fmt.Errorf("count %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scan counts: %w", err)
		}
		counts.Add(queue.Status(status), n)
	}
	return counts, rows.Err()
}

// Claim выполняется одним условным UPDATE, поэтому из двух конкурирующих
// вызовов успешен ровно один.
func (r *mutationRepo) Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, updated_at = ?, claimed_by = ?, claimed_at = ?
		WHERE id = ? AND status = ? AND next_attempt_at <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue prev
			WHERE prev.entity_type = sync_queue.entity_type
			  AND prev.entity_id = sync_queue.entity_id
			  AND (prev.created_at < sync_queue.created_at
			       OR (prev.created_at = sync_queue.created_at AND prev.id < sync_queue.id))
		  )
	`, string(queue.StatusProcessing), toNanos(now), owner, toNanos(now), id, string(queue.StatusPending), toNanos(now))
	if err != nil {
		return false, fmt.Errorf("claim mutation %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (r *mutationRepo) RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
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
		return mutation.ErrNotFound
	}
	return nil
}

func (r *mutationRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mutation %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return mutation.ErrNotFound
	}
	return nil
}

func (r *mutationRepo) Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, next_attempt_at = ?, updated_at = ?, claimed_by = '', claimed_at = 0
		WHERE id = ? AND status = ?
	`, string(queue.StatusPending), toNanos(now), toNanos(now), id, string(from))
	if err != nil {
		return false, fmt.Errorf("requeue mutation %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}

func (r *mutationRepo) RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue SET status = ?, next_attempt_at = ?, updated_at = ?, claimed_by = '', claimed_at = 0
		WHERE status = ? AND claimed_at < ?
	`, string(queue.StatusPending), toNanos(now), toNanos(now), string(queue.StatusProcessing), toNanos(claimedBefore))
	if err != nil {
		return 0, fmt.Errorf("requeue expired mutations: %w", err)
	}
	return rowsAffected(res)
}

func (r *mutationRepo) DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ? AND status = ?`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("delete mutation %d: %w", id, err)
	}
	n, err := rowsAffected(res)
	return n == 1, err
}
