package mutation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

// Operation вид изменения удаленной сущности
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

func (Operation) Schema(_ huma.Registry) *huma.Schema {
	return &huma.Schema{
		Type:        "string",
		Enum:        []any{string(OperationCreate), string(OperationUpdate), string(OperationDelete)},
		Description: "Вид изменения",
	}
}

// Validate проверяет, что вид изменения известен.
func (o Operation) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return nil
	}
	return fmt.Errorf("%w: unknown operation %q", ErrInvalidMutation, o)
}

// DefaultMethod HTTP-метод, используемый если вызывающий его не указал.
func (o Operation) DefaultMethod() string {
	switch o {
	case OperationCreate:
		return http.MethodPost
	case OperationDelete:
		return http.MethodDelete
	default:
		return http.MethodPatch
	}
}

var allowedMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Item элемент очереди изменений
type Item struct {
	ID             int64           `json:"id"`
	Operation      Operation       `json:"operation"`
	EntityType     entity.Type     `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	RetryCount     int             `json:"retry_count"`
	LastError      string          `json:"last_error,omitempty"`
	Status         queue.Status    `json:"status"`
	// ClaimedBy и ClaimedAt заполнены, пока элемент в processing
	ClaimedBy      string          `json:"claimed_by,omitempty"`
	ClaimedAt      time.Time       `json:"claimed_at,omitzero"`
}

// EnqueueRequest параметры постановки изменения в очередь
type EnqueueRequest struct {
	Operation  Operation
	EntityType entity.Type
	EntityID   string
	// Endpoint путь удаленного API, может содержать {id}, {entityId} или :id
	Endpoint string
	// Method HTTP-метод; пустой означает метод по умолчанию для операции
	Method  string
	Payload json.RawMessage
}

// Config настройки очереди изменений
type Config struct {
	Policy  queue.Policy
	Timeout time.Duration
	Workers int
	// BatchSize сколько готовых элементов выбирается за один проход, 0 - без ограничения
	BatchSize int
	// ClaimLease через сколько захват processing считается брошенным.
	// Не меньше Timeout, по умолчанию 2*Timeout.
	ClaimLease time.Duration
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		Policy: queue.Policy{
			MaxRetries:  5,
			BackoffBase: 2 * time.Second,
			BackoffMax:  5 * time.Minute,
		},
		Timeout:   30 * time.Second,
		Workers:   4,
		BatchSize: 500,
	}
}

// ProcessReport итог прохода воспроизведения
type ProcessReport struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	// Skipped элементы, отложенные до следующего прохода из-за порядка внутри сущности
	Skipped int `json:"skipped"`
}

func (r *ProcessReport) add(o ProcessReport) {
	r.Attempted += o.Attempted
	r.Succeeded += o.Succeeded
	r.Retried += o.Retried
	r.Failed += o.Failed
	r.Skipped += o.Skipped
}
