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
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
)

type MutationRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewMutationRepository(pool *pgxpool.Pool, log *slog.Logger) *MutationRepository {
	return &MutationRepository{
		pool: pool,
		log:  log.With("component", "mutation_repository"),
	}
}

const selectMutationQuery = `
	SELECT id, operation, entity_type, entity_id, endpoint, method, payload, idempotency_key,
	       created_at, updated_at, next_attempt_at, retry_count, last_error, status, claimed_by, claimed_at
	FROM sync_queue`

func scanMutation(row pgx.Row) (*mutation.Item, error) {
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
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	m.NextAttemptAt = time.Unix(0, nextAttemptAt).UTC()
	if claimedAt != 0 {
		m.ClaimedAt = time.Unix(0, claimedAt).UTC()
	}
	return &m, nil
}

func (r *MutationRepository) list(ctx context.Context, query string, args ...any) ([]*mutation.Item, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

func (r *MutationRepository) Insert(ctx context.Context, item *mutation.Item) (int64, error) {
	const query = `
		INSERT INTO sync_queue (operation, entity_type, entity_id, endpoint, method, payload, idempotency_key,
		                        created_at, updated_at, next_attempt_at, retry_count, last_error, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var payload []byte
	if len(item.Payload) > 0 {
		payload = item.Payload
	}

	err := r.pool.QueryRow(ctx, query,
		string(item.Operation), string(item.EntityType), item.EntityID, item.Endpoint, item.Method, payload,
		item.IdempotencyKey, item.CreatedAt.UnixNano(), item.UpdatedAt.UnixNano(), item.NextAttemptAt.UnixNano(),
		item.RetryCount, item.LastError, string(item.Status),
	).Scan(&item.ID)
	if err != nil {
		r.log.Error("failed to insert mutation", "entity_type", item.EntityType, "entity_id", item.EntityID, "error", err)
		return 0, fmt.Errorf("insert mutation: %w", err)
	}
	return item.ID, nil
}

func (r *MutationRepository) Get(ctx context.Context, id int64) (*mutation.Item, error) {
	m, err := scanMutation(r.pool.QueryRow(ctx, selectMutationQuery+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mutation.ErrNotFound
	}
	if err != nil {
		r.log.Error("failed to get mutation", "id", id, "error", err)
		return nil, fmt.Errorf("get mutation %d: %w", id, err)
	}
	return m, nil
}

func (r *MutationRepository) ListReady(ctx context.Context, now time.Time, limit int) ([]*mutation.Item, error) {
	query := selectMutationQuery + ` WHERE status = $1 AND next_attempt_at <= $2 ORDER BY created_at, id`
	args := []any{string(queue.StatusPending), now.UnixNano()}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	items, err := r.list(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list ready mutations", "error", err)
		return nil, fmt.Errorf("list ready mutations: %w", err)
	}
	return items, nil
}

func (r *MutationRepository) ListByStatus(ctx context.Context, status queue.Status) ([]*mutation.Item, error) {
	items, err := r.list(ctx, selectMutationQuery+` WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list %s mutations: %w", status, err)
	}
	return items, nil
}

func (r *MutationRepository) CountByStatus(ctx context.Context) (queue.Counts, error) {
	return countByStatus(ctx, r.pool, "sync_queue")
}

func countByStatus(ctx context.Context, pool *pgxpool.Pool, table string) (queue.Counts, error) {
	var counts queue.Counts

	rows, err := pool.Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
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

// Claim захватывает запись, только если перед ней нет более ранних
// изменений той же сущности ни в каком статусе.
func (r *MutationRepository) Claim(ctx context.Context, id int64, owner string, now time.Time) (bool, error) {
	const query = `
		UPDATE sync_queue q SET status = $1, updated_at = $2, claimed_by = $5, claimed_at = $2
		WHERE q.id = $3 AND q.status = $4 AND q.next_attempt_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM sync_queue prev
			WHERE prev.entity_type = q.entity_type
			  AND prev.entity_id = q.entity_id
			  AND (prev.created_at < q.created_at
			       OR (prev.created_at = q.created_at AND prev.id < q.id))
		  )`

	result, err := r.pool.Exec(ctx, query,
		string(queue.StatusProcessing), now.UnixNano(), id, string(queue.StatusPending), owner)
	if err != nil {
		r.log.Error("failed to claim mutation", "id", id, "error", err)
		return false, fmt.Errorf("claim mutation %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *MutationRepository) RecordAttempt(ctx context.Context, id int64, attempt queue.Attempt, lastError string, now time.Time) error {
	const query = `
		UPDATE sync_queue
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
		return mutation.ErrNotFound
	}
	return nil
}

func (r *MutationRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		r.log.Error("failed to delete mutation", "id", id, "error", err)
		return fmt.Errorf("delete mutation %d: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return mutation.ErrNotFound
	}
	return nil
}

func (r *MutationRepository) Requeue(ctx context.Context, id int64, from queue.Status, now time.Time) (bool, error) {
	const query = `
		UPDATE sync_queue SET status = $1, next_attempt_at = $2, updated_at = $2, claimed_by = '', claimed_at = 0
		WHERE id = $3 AND status = $4`

	result, err := r.pool.Exec(ctx, query, string(queue.StatusPending), now.UnixNano(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("requeue mutation %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}

func (r *MutationRepository) RequeueExpired(ctx context.Context, claimedBefore, now time.Time) (int, error) {
	const query = `
		UPDATE sync_queue SET status = $1, next_attempt_at = $2, updated_at = $2, claimed_by = '', claimed_at = 0
		WHERE status = $3 AND claimed_at < $4`

	result, err := r.pool.Exec(ctx, query,
		string(queue.StatusPending), now.UnixNano(), string(queue.StatusProcessing), claimedBefore.UnixNano())
	if err != nil {
		r.log.Error("failed to requeue expired claims", "error", err)
		return 0, fmt.Errorf("requeue expired mutations: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *MutationRepository) DeleteIfStatus(ctx context.Context, id int64, status queue.Status) (bool, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1 AND status = $2`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("delete mutation %d: %w", id, err)
	}
	return result.RowsAffected() == 1, nil
}
