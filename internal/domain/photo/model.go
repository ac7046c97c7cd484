package photo

import (
	"time"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/queue"
)

const (
	// DefaultEndpoint шаблон пути загрузки фотографий
	DefaultEndpoint = "/api/{entityType}/{entityId}/photos"
	// DefaultMaxSize максимальный размер одной фотографии
	DefaultMaxSize int64 = 25 << 20
)

// Item элемент очереди загрузки. Содержимое фотографии хранится отдельно
// и в Item не загружается.
type Item struct {
	ID             int64        `json:"id"`
	EntityType     entity.Type  `json:"entity_type"`
	EntityID       string       `json:"entity_id"`
	Endpoint       string       `json:"endpoint"`
	FileName       string       `json:"file_name"`
	ContentType    string       `json:"content_type"`
	Size           int64        `json:"size"`
	Checksum       string       `json:"checksum"`
	IdempotencyKey string       `json:"idempotency_key"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	NextAttemptAt  time.Time    `json:"next_attempt_at"`
	RetryCount     int          `json:"retry_count"`
	LastError      string       `json:"last_error,omitempty"`
	Status         queue.Status `json:"status"`
	ClaimedBy      string       `json:"claimed_by,omitempty"`
	ClaimedAt      time.Time    `json:"claimed_at,omitzero"`
}

// EnqueueRequest параметры постановки фотографии в очередь
type EnqueueRequest struct {
	EntityType entity.Type
	EntityID   string
	FileName   string
	// ContentType пустой означает определение по содержимому
	ContentType string
	Blob        []byte
}

// Config настройки очереди фотографий
type Config struct {
	Policy    queue.Policy
	Timeout   time.Duration
	Workers   int
	BatchSize int
	MaxSize   int64
	Endpoint  string
	// ClaimLease через сколько захват processing считается брошенным
	ClaimLease time.Duration
}

// DefaultConfig возвращает настройки по умолчанию. Загрузки крупные,
// поэтому задержки и таймаут длиннее, чем у очереди изменений.
func DefaultConfig() Config {
	return Config{
		Policy: queue.Policy{
			MaxRetries:  8,
			BackoffBase: 10 * time.Second,
			BackoffMax:  30 * time.Minute,
		},
		Timeout:   2 * time.Minute,
		Workers:   2,
		BatchSize: 100,
		MaxSize:   DefaultMaxSize,
		Endpoint:  DefaultEndpoint,
	}
}

// ProcessReport итог прохода загрузки
type ProcessReport struct {
	Attempted int   `json:"attempted"`
	Uploaded  int   `json:"uploaded"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Bytes     int64 `json:"bytes"`
}
