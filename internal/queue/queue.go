// Package queue implements the delayed job queue the reminder and
// escalation chains run on: at-least-once, time-delayed execution with
// bounded retries and per-kind backoff. Two instances exist at runtime,
// one per job kind.
package queue

import (
	"context"
	"fmt"
	"time"
)

// Kind distinguishes the two job types the service supports.
type Kind string

const (
	KindReminder   Kind = "reminder"
	KindEscalation Kind = "escalation"
)

// Job is one delayed task. The occurrence record, not the job, is the
// durable source of truth; the payload only identifies what to act on.
type Job struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	OccurrenceID string    `json:"occurrence_id"`
	PatientID    string    `json:"patient_id,omitempty"`
	MedicationID string    `json:"medication_id,omitempty"`
	Level        int       `json:"level,omitempty"`         // escalation jobs only
	SnoozeRefire bool      `json:"snooze_refire,omitempty"` // reminder jobs only
	RunAt        time.Time `json:"run_at"`
	Attempts     int       `json:"attempts"`
}

// JobHandle identifies an accepted enqueue.
type JobHandle struct {
	ID             string
	IdempotencyKey string
	RunAt          time.Time
}

// Handler consumes one job. A returned error triggers the kind's retry
// policy; nil completes the job.
type Handler func(ctx context.Context, job Job) error

// Events carries optional observability callbacks. All fields may be nil.
type Events struct {
	OnCompleted func(job Job)
	OnError     func(job Job, err error) // single attempt failed
	OnFailed    func(job Job, err error) // retries exhausted
}

// Queue is the delayed job queue contract. Constructed per kind and
// dependency-injected so tests can substitute the in-memory backend.
type Queue interface {
	// Enqueue schedules the job for job.RunAt. A reminder whose RunAt is
	// already in the past is refused: no job is created and (nil, nil) is
	// returned after a warning, since a past-due reminder indicates an
	// upstream scheduling bug. Escalation jobs accept zero or negative
	// delay so a chain can catch up.
	Enqueue(ctx context.Context, job Job) (*JobHandle, error)
	// Cancel removes all not-yet-claimed jobs for the occurrence and
	// returns how many were removed. Jobs already dispatched to a worker
	// are not retracted; the worker's status re-check handles those.
	Cancel(ctx context.Context, occurrenceID string) (int, error)
	// Register installs the handler for a kind. Exactly one handler per
	// kind; registering again replaces it.
	Register(kind Kind, h Handler)
	// Run consumes due jobs until ctx is cancelled.
	Run(ctx context.Context)
}

// MaxAttempts returns the attempt limit per kind: reminders tolerate a
// short retry burst, escalations fail fast to the next severity level.
func MaxAttempts(kind Kind) int {
	if kind == KindEscalation {
		return 2
	}
	return 3
}

// Backoff returns the delay before retry number attempt (1-based).
// Reminders back off exponentially from 5s; escalations wait a fixed 30s.
func Backoff(kind Kind, attempt int) time.Duration {
	if kind == KindEscalation {
		return 30 * time.Second
	}
	d := 5 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// IdempotencyKey builds the per-enqueue unique key
// "<kind>-<occurrenceID>[-<level>]-<unixMilli>", greppable by occurrence.
func IdempotencyKey(job Job, now time.Time) string {
	if job.Kind == KindEscalation {
		return fmt.Sprintf("%s-%s-%d-%d", job.Kind, job.OccurrenceID, job.Level, now.UnixMilli())
	}
	return fmt.Sprintf("%s-%s-%d", job.Kind, job.OccurrenceID, now.UnixMilli())
}
