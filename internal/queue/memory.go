package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reminder-service/internal/logging"
)

const (
	statusDelayed   = "delayed"
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
)

type memoryJob struct {
	job    Job
	key    string
	status string
	timer  *time.Timer
}

// MemoryQueue is a timer-based in-process backend. It honors the full
// Queue contract (delays, per-kind retries, cancellation index) but does
// not survive a restart; it backs tests and local development.
type MemoryQueue struct {
	logger *logging.Logger
	events Events

	// Now is the clock used for delay computation; replaceable in tests.
	Now func() time.Time

	mu           sync.Mutex
	handlers     map[Kind]Handler
	jobs         map[string]*memoryJob
	byOccurrence map[string]map[string]struct{}
	ctx          context.Context
}

// NewMemory constructs an in-memory queue.
func NewMemory(logger *logging.Logger, events Events) *MemoryQueue {
	return &MemoryQueue{
		logger:       logger,
		events:       events,
		Now:          time.Now,
		handlers:     make(map[Kind]Handler),
		jobs:         make(map[string]*memoryJob),
		byOccurrence: make(map[string]map[string]struct{}),
		ctx:          context.Background(),
	}
}

func (q *MemoryQueue) Register(kind Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) (*JobHandle, error) {
	now := q.Now()
	delay := job.RunAt.Sub(now)
	if job.Kind == KindReminder && delay < 0 {
		q.logger.Warnf("Refusing past-due reminder for occurrence %s (due %s, now %s)",
			job.OccurrenceID, job.RunAt.Format(time.RFC3339), now.Format(time.RFC3339))
		return nil, nil
	}
	if delay < 0 {
		delay = 0
	}

	job.ID = uuid.NewString()
	key := IdempotencyKey(job, now)

	q.mu.Lock()
	defer q.mu.Unlock()

	mj := &memoryJob{job: job, key: key, status: statusDelayed}
	q.jobs[job.ID] = mj
	if _, ok := q.byOccurrence[job.OccurrenceID]; !ok {
		q.byOccurrence[job.OccurrenceID] = make(map[string]struct{})
	}
	q.byOccurrence[job.OccurrenceID][job.ID] = struct{}{}

	id := job.ID
	mj.timer = time.AfterFunc(delay, func() { q.fire(id) })

	q.logger.Debugf("Enqueued %s job %s (key=%s, delay=%s)", job.Kind, job.ID, key, delay)
	return &JobHandle{ID: job.ID, IdempotencyKey: key, RunAt: job.RunAt}, nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, occurrenceID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id := range q.byOccurrence[occurrenceID] {
		mj, ok := q.jobs[id]
		if !ok || mj.status != statusDelayed {
			continue
		}
		mj.timer.Stop()
		mj.status = statusCancelled
		delete(q.byOccurrence[occurrenceID], id)
		removed++
	}
	if len(q.byOccurrence[occurrenceID]) == 0 {
		delete(q.byOccurrence, occurrenceID)
	}
	return removed, nil
}

func (q *MemoryQueue) Run(ctx context.Context) {
	q.mu.Lock()
	q.ctx = ctx
	q.mu.Unlock()

	<-ctx.Done()

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, mj := range q.jobs {
		if mj.status == statusDelayed {
			mj.timer.Stop()
		}
	}
}

// Pending returns a snapshot of not-yet-fired jobs ordered by due time.
func (q *MemoryQueue) Pending() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var jobs []Job
	for _, mj := range q.jobs {
		if mj.status == statusDelayed {
			jobs = append(jobs, mj.job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].RunAt.Before(jobs[j].RunAt) })
	return jobs
}

func (q *MemoryQueue) fire(id string) {
	q.mu.Lock()
	mj, ok := q.jobs[id]
	if !ok || mj.status != statusDelayed {
		q.mu.Unlock()
		return
	}
	handler, ok := q.handlers[mj.job.Kind]
	if !ok {
		// Handler not registered yet; try again shortly.
		mj.timer = time.AfterFunc(time.Second, func() { q.fire(id) })
		q.mu.Unlock()
		return
	}
	mj.status = statusRunning
	mj.job.Attempts++
	job := mj.job
	ctx := q.ctx
	q.mu.Unlock()

	err := handler(ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		mj.status = statusCompleted
		delete(q.byOccurrence[job.OccurrenceID], id)
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
		mj.status = statusDelayed
		backoff := Backoff(job.Kind, job.Attempts)
		mj.timer = time.AfterFunc(backoff, func() { q.fire(id) })
		return
	}

	mj.status = statusFailed
	delete(q.byOccurrence[job.OccurrenceID], id)
	q.logger.Errorf("Job %s (%s, occurrence %s, level %d) failed after %d attempts",
		job.ID, job.Kind, job.OccurrenceID, job.Level, job.Attempts)
	if q.events.OnFailed != nil {
		q.events.OnFailed(job, err)
	}
}
