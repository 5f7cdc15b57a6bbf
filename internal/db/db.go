package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

type DB struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}

// Migrate creates the tables the service owns if they do not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS patients (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            telegram_chat_id BIGINT NOT NULL DEFAULT 0,
            timezone TEXT NOT NULL DEFAULT 'UTC',
            language TEXT NOT NULL DEFAULT 'en',
            voice_reminders_enabled BOOLEAN NOT NULL DEFAULT FALSE,
            escalation_enabled BOOLEAN NOT NULL DEFAULT TRUE,
            clinic_id TEXT NOT NULL DEFAULT '',
            caregivers JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS medications (
            id TEXT PRIMARY KEY,
            patient_id TEXT NOT NULL,
            name TEXT NOT NULL,
            form TEXT NOT NULL DEFAULT '',
            critical BOOLEAN NOT NULL DEFAULT FALSE,
            active BOOLEAN NOT NULL DEFAULT TRUE,
            schedule JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_medications_patient ON medications (patient_id)`,
		`CREATE TABLE IF NOT EXISTS occurrences (
            id TEXT PRIMARY KEY,
            patient_id TEXT NOT NULL,
            medication_id TEXT NOT NULL,
            scheduled_time TIMESTAMPTZ NOT NULL,
            dose_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
            dose_unit TEXT NOT NULL DEFAULT 'unit',
            status TEXT NOT NULL,
            escalation_level INT NOT NULL DEFAULT 0,
            last_escalated_at TIMESTAMPTZ,
            caregiver_notified BOOLEAN NOT NULL DEFAULT FALSE,
            snooze_count INT NOT NULL DEFAULT 0,
            snoozed_until TIMESTAMPTZ,
            response JSONB,
            sent_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_medication_status ON occurrences (medication_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_occurrences_patient_time ON occurrences (patient_id, scheduled_time)`,
		`CREATE TABLE IF NOT EXISTS escalations (
            id TEXT PRIMARY KEY,
            patient_id TEXT NOT NULL,
            medication_id TEXT NOT NULL,
            occurrence_id TEXT NOT NULL,
            level INT NOT NULL,
            type TEXT NOT NULL,
            status TEXT NOT NULL,
            attempts JSONB,
            caregiver JSONB,
            resolution JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (occurrence_id, level)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_escalations_patient ON escalations (patient_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            kind TEXT NOT NULL,
            occurrence_id TEXT NOT NULL,
            patient_id TEXT NOT NULL DEFAULT '',
            medication_id TEXT NOT NULL DEFAULT '',
            level INT NOT NULL DEFAULT 0,
            snooze_refire BOOLEAN NOT NULL DEFAULT FALSE,
            run_at TIMESTAMPTZ NOT NULL,
            status TEXT NOT NULL,
            attempts INT NOT NULL DEFAULT 0,
            max_attempts INT NOT NULL,
            idempotency_key TEXT NOT NULL UNIQUE,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs (kind, status, run_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_occurrence ON jobs (occurrence_id, status)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}
