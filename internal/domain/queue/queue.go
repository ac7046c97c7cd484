// Package queue содержит общую для очередей синхронизации машину состояний
// и политику повторных попыток.
package queue

import (
	"fmt"
	"time"
)

// Status состояние элемента очереди
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
)

// Validate проверяет, что статус входит в допустимый набор.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusProcessing, StatusFailed:
		return nil
	}
	return fmt.Errorf("unknown queue status: %q", s)
}

func (s Status) String() string {
	return string(s)
}

// Policy политика повторных попыток для очереди
type Policy struct {
	MaxRetries  int           `json:"max_retries"`
	BackoffBase time.Duration `json:"backoff_base"`
	BackoffMax  time.Duration `json:"backoff_max"`
}

// Backoff возвращает задержку перед следующей попыткой.
// Формула: base * 2^(retryCount-1), но не больше max.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount <= 0 || p.BackoffBase <= 0 {
		return 0
	}

	shift := retryCount - 1
	if shift > 30 {
		shift = 30
	}
	backoff := p.BackoffBase * time.Duration(int64(1)<<uint(shift))

	if p.BackoffMax > 0 && (backoff > p.BackoffMax || backoff <= 0) {
		backoff = p.BackoffMax
	}

	return backoff
}

// Attempt результат учета неудачной попытки
type Attempt struct {
	RetryCount    int
	Status        Status
	NextAttemptAt time.Time
}

// Fail учитывает очередную неудачную попытку: увеличивает счетчик и решает,
// вернуть ли элемент в pending (с задержкой) или перевести в failed.
func (p Policy) Fail(retryCount int, now time.Time) Attempt {
	retryCount++

	if retryCount >= p.MaxRetries {
		return Attempt{
			RetryCount:    retryCount,
			Status:        StatusFailed,
			NextAttemptAt: now,
		}
	}

	return Attempt{
		RetryCount:    retryCount,
		Status:        StatusPending,
		NextAttemptAt: now.Add(p.Backoff(retryCount)),
	}
}

// Counts количество элементов очереди по статусам
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
}

// Total общее количество элементов
func (c Counts) Total() int {
	return c.Pending + c.Processing + c.Failed
}

// Add прибавляет n элементов со статусом s.
func (c *Counts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusProcessing:
		c.Processing += n
	case StatusFailed:
		c.Failed += n
	}
}
