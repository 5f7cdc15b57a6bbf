package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/logging"
)

func TestMaxAttempts(t *testing.T) {
	assert.Equal(t, 3, MaxAttempts(KindReminder))
	assert.Equal(t, 2, MaxAttempts(KindEscalation))
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		attempt int
		want    time.Duration
	}{
		{"reminder first retry", KindReminder, 1, 5 * time.Second},
		{"reminder second retry", KindReminder, 2, 10 * time.Second},
		{"reminder third retry", KindReminder, 3, 20 * time.Second},
		{"escalation first retry", KindEscalation, 1, 30 * time.Second},
		{"escalation second retry", KindEscalation, 2, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Backoff(tt.kind, tt.attempt))
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	key := IdempotencyKey(Job{Kind: KindReminder, OccurrenceID: "occ-1"}, now)
	assert.Equal(t, "reminder-occ-1-1700000000000", key)

	key = IdempotencyKey(Job{Kind: KindEscalation, OccurrenceID: "occ-1", Level: 3}, now)
	assert.Equal(t, "escalation-occ-1-3-1700000000000", key)
}

func TestEnqueueRefusesPastDueReminder(t *testing.T) {
	q := NewMemory(logging.NewNop(), Events{})

	handle, err := q.Enqueue(context.Background(), Job{
		Kind:         KindReminder,
		OccurrenceID: "occ-1",
		RunAt:        time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	assert.Nil(t, handle, "past-due reminder must not create a job")
	assert.Empty(t, q.Pending())
}

func TestEnqueueAcceptsPastDueEscalation(t *testing.T) {
	q := NewMemory(logging.NewNop(), Events{})
	fired := make(chan Job, 1)
	q.Register(KindEscalation, func(ctx context.Context, job Job) error {
		fired <- job
		return nil
	})

	handle, err := q.Enqueue(context.Background(), Job{
		Kind:         KindEscalation,
		OccurrenceID: "occ-1",
		Level:        2,
		RunAt:        time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.NotNil(t, handle)

	select {
	case job := <-fired:
		assert.Equal(t, "occ-1", job.OccurrenceID)
		assert.Equal(t, 2, job.Level)
		assert.Equal(t, 1, job.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("escalation job with negative delay never fired")
	}
}

func TestFireInvokesHandlerAfterDelay(t *testing.T) {
	q := NewMemory(logging.NewNop(), Events{})
	fired := make(chan Job, 1)
	q.Register(KindReminder, func(ctx context.Context, job Job) error {
		fired <- job
		return nil
	})

	handle, err := q.Enqueue(context.Background(), Job{
		Kind:         KindReminder,
		OccurrenceID: "occ-1",
		RunAt:        time.Now().Add(20 * time.Millisecond),
	})
	require.NoError(t, err)
	require.NotNil(t, handle)

	select {
	case job := <-fired:
		assert.Equal(t, handle.ID, job.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("reminder job never fired")
	}
	assert.Empty(t, q.Pending())
}

func TestCancelRemovesPendingJobsForOccurrence(t *testing.T) {
	q := NewMemory(logging.NewNop(), Events{})
	future := time.Now().Add(time.Hour)

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(context.Background(), Job{
			Kind: KindEscalation, OccurrenceID: "occ-1", Level: i + 1, RunAt: future,
		})
		require.NoError(t, err)
	}
	_, err := q.Enqueue(context.Background(), Job{
		Kind: KindEscalation, OccurrenceID: "occ-2", Level: 1, RunAt: future,
	})
	require.NoError(t, err)

	removed, err := q.Cancel(context.Background(), "occ-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "occ-2", pending[0].OccurrenceID)

	// Cancelling again is a no-op.
	removed, err = q.Cancel(context.Background(), "occ-1")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestFailedJobIsRearmedUntilMaxAttempts(t *testing.T) {
	q := NewMemory(logging.NewNop(), Events{})
	attempts := make(chan int, 3)
	q.Register(KindEscalation, func(ctx context.Context, job Job) error {
		attempts <- job.Attempts
		return errors.New("transport down")
	})

	_, err := q.Enqueue(context.Background(), Job{
		Kind: KindEscalation, OccurrenceID: "occ-1", Level: 1,
		RunAt: time.Now().Add(10 * time.Millisecond),
	})
	require.NoError(t, err)

	select {
	case n := <-attempts:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("job never fired")
	}

	// First failure re-arms the job with the retry backoff.
	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestFailedJobReportsOnFailed(t *testing.T) {
	failed := make(chan Job, 1)
	q := NewMemory(logging.NewNop(), Events{
		OnFailed: func(job Job, err error) { failed <- job },
	})
	// Force immediate exhaustion with a handler that always fails and a
	// job already at the last allowed attempt.
	q.Register(KindEscalation, func(ctx context.Context, job Job) error {
		return errors.New("transport down")
	})

	_, err := q.Enqueue(context.Background(), Job{
		Kind: KindEscalation, OccurrenceID: "occ-1", Level: 1,
		Attempts: MaxAttempts(KindEscalation) - 1,
		RunAt:    time.Now().Add(10 * time.Millisecond),
	})
	require.NoError(t, err)

	select {
	case job := <-failed:
		assert.Equal(t, "occ-1", job.OccurrenceID)
		assert.Equal(t, MaxAttempts(KindEscalation), job.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("exhausted job never reported failure")
	}
	assert.Empty(t, q.Pending())
}
