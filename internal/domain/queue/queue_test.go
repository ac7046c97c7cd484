package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxRetries: 5, BackoffBase: 5 * time.Second, BackoffMax: time.Minute}

	tests := []struct {
		name       string
		retryCount int
		expected   time.Duration
	}{
		{name: "no retries yet", retryCount: 0, expected: 0},
		{name: "first retry", retryCount: 1, expected: 5 * time.Second},
		{name: "second retry", retryCount: 2, expected: 10 * time.Second},
		{name: "third retry", retryCount: 3, expected: 20 * time.Second},
		{name: "capped", retryCount: 5, expected: time.Minute},
		{name: "huge retry count stays capped", retryCount: 200, expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.Backoff(tt.retryCount))
		})
	}
}

func TestPolicy_BackoffZeroBase(t *testing.T) {
	p := Policy{MaxRetries: 3}
	assert.Equal(t, time.Duration(0), p.Backoff(2))
}

func TestPolicy_Fail(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{MaxRetries: 3, BackoffBase: time.Second, BackoffMax: time.Hour}

	first := p.Fail(0, now)
	assert.Equal(t, 1, first.RetryCount)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, now.Add(time.Second), first.NextAttemptAt)

	second := p.Fail(first.RetryCount, now)
	assert.Equal(t, 2, second.RetryCount)
	assert.Equal(t, StatusPending, second.Status)
	assert.Equal(t, now.Add(2*time.Second), second.NextAttemptAt)

	// Третья неудача достигает потолка
	third := p.Fail(second.RetryCount, now)
	assert.Equal(t, 3, third.RetryCount)
	assert.Equal(t, StatusFailed, third.Status)

	// Ручной повтор сохраняет счетчик, поэтому следующая неудача снова failed
	again := p.Fail(third.RetryCount, now)
	assert.Equal(t, 4, again.RetryCount)
	assert.Equal(t, StatusFailed, again.Status)
}

func TestStatus_Validate(t *testing.T) {
	assert.NoError(t, StatusPending.Validate())
	assert.NoError(t, StatusProcessing.Validate())
	assert.NoError(t, StatusFailed.Validate())
	assert.Error(t, Status("completed").Validate())
}

func TestCounts(t *testing.T) {
	var c Counts
	c.Add(StatusPending, 3)
	c.Add(StatusFailed, 1)
	c.Add(StatusProcessing, 2)
	c.Add(Status("bogus"), 10)

	assert.Equal(t, 3, c.Pending)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 2, c.Processing)
	assert.Equal(t, 6, c.Total())
}
