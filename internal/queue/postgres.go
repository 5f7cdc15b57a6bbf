package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"reminder-service/internal/logging"
)

// defaultStuckTimeout is how long a running row may go without an update
// before the reclaim pass treats its worker as dead.
const defaultStuckTimeout = 5 * time.Minute

// PostgresQueue is the durable backend. Jobs live in the jobs table; due
// rows are claimed with FOR UPDATE SKIP LOCKED so multiple instances can
// poll the same table without double-dispatch. One instance serves one
// kind.
type PostgresQueue struct {
	pool         *pgxpool.Pool
	kind         Kind
	logger       *logging.Logger
	events       Events
	pollInterval time.Duration
	batchSize    int
	stuckTimeout time.Duration

	mu      sync.Mutex
	handler Handler
}

// NewPostgres constructs a durable queue instance for one job kind.
func NewPostgres(pool *pgxpool.Pool, kind Kind, pollInterval time.Duration, batchSize int, logger *logging.Logger, events Events) *PostgresQueue {
	return &PostgresQueue{
		pool:         pool,
		kind:         kind,
		logger:       logger,
		events:       events,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		stuckTimeout: defaultStuckTimeout,
	}
}

func (q *PostgresQueue) Register(kind Kind, h Handler) {
	if kind != q.kind {
		q.logger.Warnf("Handler for kind %s registered on %s queue, ignoring", kind, q.kind)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = h
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job Job) (*JobHandle, error) {
	now := time.Now()
	delay := job.RunAt.Sub(now)
	if job.Kind == KindReminder && delay < 0 {
		q.logger.Warnf("Refusing past-due reminder for occurrence %s (due %s)",
			job.OccurrenceID, job.RunAt.Format(time.RFC3339))
		return nil, nil
	}

	job.ID = uuid.NewString()
	key := IdempotencyKey(job, now)

	query := `
        INSERT INTO jobs (
            id, kind, occurrence_id, patient_id, medication_id, level, snooze_refire,
            run_at, status, attempts, max_attempts, idempotency_key, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0, $9, $10, NOW(), NOW())`
	_, err := q.pool.Exec(ctx, query,
		job.ID, string(job.Kind), job.OccurrenceID, job.PatientID, job.MedicationID, job.Level,
		job.SnoozeRefire, job.RunAt, MaxAttempts(job.Kind), key)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job for occurrence %s: %w", job.Kind, job.OccurrenceID, err)
	}

	q.logger.Debugf("Enqueued %s job %s (key=%s, run_at=%s)", job.Kind, job.ID, key, job.RunAt.Format(time.RFC3339))
	return &JobHandle{ID: job.ID, IdempotencyKey: key, RunAt: job.RunAt}, nil
}

func (q *PostgresQueue) Cancel(ctx context.Context, occurrenceID string) (int, error) {
	// Only pending rows are retracted; a row already claimed by a worker
	// finishes and relies on the handler's status re-check.
	query := `
        UPDATE jobs
        SET status = 'cancelled', updated_at = NOW()
        WHERE occurrence_id = $1 AND kind = $2 AND status = 'pending'`
	tag, err := q.pool.Exec(ctx, query, occurrenceID, string(q.kind))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel %s jobs for occurrence %s: %w", q.kind, occurrenceID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (q *PostgresQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	q.logger.Infof("%s queue started (poll interval %s, batch size %d)", q.kind, q.pollInterval, q.batchSize)
	for {
		select {
		case <-ctx.Done():
			q.logger.Infof("%s queue stopped", q.kind)
			return
		case <-ticker.C:
			q.reclaimStuck(ctx)
			q.processBatch(ctx)
		}
	}
}

// reclaimStatus decides where a stuck running row goes: back to pending
// while attempts remain, failed once they are spent.
func reclaimStatus(attempts, maxAttempts int) string {
	if attempts >= maxAttempts {
		return "failed"
	}
	return "pending"
}

// reclaimStuck restores jobs whose worker died between the claim commit
// and the completion write. A running row not touched for stuckTimeout is
// flipped back to pending (immediately due) while attempts remain, or to
// failed once they are exhausted. Without this pass a crash mid-execute
// would orphan the row forever, since claiming only reads pending rows.
func (q *PostgresQueue) reclaimStuck(ctx context.Context) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		q.logger.Errorf("Failed to begin reclaim transaction: %v", err)
		return
	}
	defer tx.Rollback(ctx)

	query := `
        SELECT id, attempts, max_attempts
        FROM jobs
        WHERE kind = $1 AND status = 'running'
          AND updated_at < NOW() - INTERVAL '1 second' * $2
        FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, string(q.kind), int(q.stuckTimeout.Seconds()))
	if err != nil {
		q.logger.Errorf("Failed to query stuck jobs: %v", err)
		return
	}

	var restore, fail []string
	for rows.Next() {
		var id string
		var attempts, maxAttempts int
		if err := rows.Scan(&id, &attempts, &maxAttempts); err != nil {
			q.logger.Errorf("Failed to scan stuck job row: %v", err)
			rows.Close()
			return
		}
		if reclaimStatus(attempts, maxAttempts) == "failed" {
			fail = append(fail, id)
		} else {
			restore = append(restore, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		q.logger.Errorf("Failed to iterate stuck job rows: %v", err)
		return
	}
	if len(restore) == 0 && len(fail) == 0 {
		return
	}

	if len(restore) > 0 {
		_, err = tx.Exec(ctx, `
	        UPDATE jobs
	        SET status = 'pending', run_at = NOW(),
	            last_error = 'reclaimed after worker interruption', updated_at = NOW()
	        WHERE id = ANY($1)`, restore)
		if err != nil {
			q.logger.Errorf("Failed to restore stuck jobs: %v", err)
			return
		}
	}
	if len(fail) > 0 {
		_, err = tx.Exec(ctx, `
	        UPDATE jobs
	        SET status = 'failed',
	            last_error = 'reclaimed after worker interruption, attempts exhausted', updated_at = NOW()
	        WHERE id = ANY($1)`, fail)
		if err != nil {
			q.logger.Errorf("Failed to mark stuck jobs failed: %v", err)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		q.logger.Errorf("Failed to commit reclaim: %v", err)
		return
	}

	q.logger.Warnf("Reclaimed %d stuck %s jobs (%d restored, %d failed)",
		len(restore)+len(fail), q.kind, len(restore), len(fail))
}

func (q *PostgresQueue) processBatch(ctx context.Context) {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler == nil {
		return
	}

	tx, err := q.pool.Begin(ctx)
	if err != nil {
		q.logger.Errorf("Failed to begin claim transaction: %v", err)
		return
	}
	defer tx.Rollback(ctx)

	// SKIP LOCKED keeps concurrent pollers off each other's rows.
	query := `
        SELECT id, occurrence_id, patient_id, medication_id, level, snooze_refire, run_at, attempts
        FROM jobs
        WHERE kind = $1 AND status = 'pending' AND run_at <= NOW()
        ORDER BY run_at ASC
        LIMIT $2
        FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, string(q.kind), q.batchSize)
	if err != nil {
		q.logger.Errorf("Failed to query due jobs: %v", err)
		return
	}

	var jobs []Job
	var ids []string
	for rows.Next() {
		job := Job{Kind: q.kind}
		if err := rows.Scan(&job.ID, &job.OccurrenceID, &job.PatientID, &job.MedicationID, &job.Level,
			&job.SnoozeRefire, &job.RunAt, &job.Attempts); err != nil {
			q.logger.Errorf("Failed to scan job row: %v", err)
			rows.Close()
			return
		}
		job.Attempts++
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		q.logger.Errorf("Failed to iterate job rows: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	_, err = tx.Exec(ctx, `
        UPDATE jobs
        SET status = 'running', attempts = attempts + 1, updated_at = NOW()
        WHERE id = ANY($1)`, ids)
	if err != nil {
		q.logger.Errorf("Failed to mark jobs running: %v", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		q.logger.Errorf("Failed to commit job claim: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			q.execute(ctx, handler, job)
		}(job)
	}
	wg.Wait()
}

func (q *PostgresQueue) execute(ctx context.Context, handler Handler, job Job) {
	// Status writes run on a detached context: a shutdown that cancels
	// ctx mid-handler must not also abort the bookkeeping, or the row
	// stays running until the reclaim pass picks it up much later.
	uctx := context.WithoutCancel(ctx)

	err := handler(ctx, job)
	if err == nil {
		_, uerr := q.pool.Exec(uctx, `
            UPDATE jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`, job.ID)
		if uerr != nil {
			q.logger.Errorf("Failed to mark job %s completed: %v", job.ID, uerr)
		}
		if q.events.OnCompleted != nil {
			q.events.OnCompleted(job)
		}
		return
	}

	q.logger.Errorf("Job %s (%s, occurrence %s) attempt %d failed: %v",
		job.ID, job.Kind, job.OccurrenceID, job.Attempts, err)
	if q.events.OnError != nil {
		q.events.OnError(job, err)
	}

	if job.Attempts < MaxAttempts(job.Kind) {
		retryAt := time.Now().Add(Backoff(job.Kind, job.Attempts))
		_, uerr := q.pool.Exec(uctx, `
            UPDATE jobs
            SET status = 'pending', run_at = $2, last_error = $3, updated_at = NOW()
            WHERE id = $1`, job.ID, retryAt, err.Error())
		if uerr != nil {
			q.logger.Errorf("Failed to requeue job %s: %v", job.ID, uerr)
		}
		return
	}

	_, uerr := q.pool.Exec(uctx, `
        UPDATE jobs
        SET status = 'failed', last_error = $2, updated_at = NOW()
        WHERE id = $1`, job.ID, err.Error())
	if uerr != nil {
		q.logger.Errorf("Failed to mark job %s failed: %v", job.ID, uerr)
	}
	q.logger.Errorf("Job %s (%s, occurrence %s, level %d) failed after %d attempts",
		job.ID, job.Kind, job.OccurrenceID, job.Level, job.Attempts)
	if q.events.OnFailed != nil {
		q.events.OnFailed(job, err)
	}
}
