package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"reminder-service/internal/models"
)

const occurrenceColumns = `
    id, patient_id, medication_id, scheduled_time, dose_amount, dose_unit, status,
    escalation_level, last_escalated_at, caregiver_notified,
    snooze_count, snoozed_until, response, sent_at, created_at, updated_at`

func scanOccurrence(row pgx.Row) (models.ScheduleOccurrence, error) {
	var o models.ScheduleOccurrence
	var response []byte
	err := row.Scan(
		&o.ID, &o.PatientID, &o.MedicationID, &o.ScheduledTime, &o.Dose.Amount, &o.Dose.Unit, &o.Status,
		&o.Escalation.Level, &o.Escalation.LastEscalatedAt, &o.Escalation.CaregiverNotified,
		&o.Snooze.Count, &o.Snooze.Until, &response, &o.SentAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return models.ScheduleOccurrence{}, err
	}
	if len(response) > 0 {
		if err := json.Unmarshal(response, &o.Response); err != nil {
			return models.ScheduleOccurrence{}, fmt.Errorf("failed to decode response for occurrence %s: %w", o.ID, err)
		}
	}
	return o, nil
}

// CreateOccurrence inserts a new schedule occurrence.
func (d *DB) CreateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error {
	query := `
        INSERT INTO occurrences (
            id, patient_id, medication_id, scheduled_time, dose_amount, dose_unit, status,
            escalation_level, caregiver_notified, snooze_count, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := d.Pool.Exec(ctx, query,
		o.ID, o.PatientID, o.MedicationID, o.ScheduledTime, o.Dose.Amount, o.Dose.Unit, string(o.Status),
		o.Escalation.Level, o.Escalation.CaregiverNotified, o.Snooze.Count, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create occurrence %s: %w", o.ID, err)
	}
	return nil
}

// GetOccurrence retrieves one occurrence by id.
func (d *DB) GetOccurrence(ctx context.Context, id string) (models.ScheduleOccurrence, error) {
	query := `SELECT ` + occurrenceColumns + ` FROM occurrences WHERE id = $1`
	o, err := scanOccurrence(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ScheduleOccurrence{}, fmt.Errorf("occurrence %s: %w", id, ErrNotFound)
		}
		return models.ScheduleOccurrence{}, fmt.Errorf("failed to get occurrence %s: %w", id, err)
	}
	return o, nil
}

// UpdateOccurrence writes the full mutable state of an occurrence.
// Last writer wins; callers re-read before acting.
func (d *DB) UpdateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error {
	var response []byte
	if o.Response != nil {
		var err error
		response, err = json.Marshal(o.Response)
		if err != nil {
			return fmt.Errorf("failed to encode response for occurrence %s: %w", o.ID, err)
		}
	}

	query := `
        UPDATE occurrences
        SET scheduled_time = $2, status = $3, escalation_level = $4, last_escalated_at = $5,
            caregiver_notified = $6, snooze_count = $7, snoozed_until = $8,
            response = $9, sent_at = $10, updated_at = $11
        WHERE id = $1`
	tag, err := d.Pool.Exec(ctx, query,
		o.ID, o.ScheduledTime, string(o.Status), o.Escalation.Level, o.Escalation.LastEscalatedAt,
		o.Escalation.CaregiverNotified, o.Snooze.Count, o.Snooze.Until,
		response, o.SentAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update occurrence %s: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("occurrence %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// ListOccurrencesByMedication returns a medication's occurrences in a status.
func (d *DB) ListOccurrencesByMedication(ctx context.Context, medicationID string, status models.OccurrenceStatus) ([]models.ScheduleOccurrence, error) {
	query := `SELECT ` + occurrenceColumns + `
        FROM occurrences
        WHERE medication_id = $1 AND status = $2
        ORDER BY scheduled_time`
	rows, err := d.Pool.Query(ctx, query, medicationID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrences for medication %s: %w", medicationID, err)
	}
	defer rows.Close()

	var occs []models.ScheduleOccurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		occs = append(occs, o)
	}
	return occs, rows.Err()
}

// ListUpcomingOccurrences returns a patient's future pending occurrences.
func (d *DB) ListUpcomingOccurrences(ctx context.Context, patientID string, limit int) ([]models.ScheduleOccurrence, error) {
	query := `SELECT ` + occurrenceColumns + `
        FROM occurrences
        WHERE patient_id = $1 AND status = 'pending' AND scheduled_time > NOW()
        ORDER BY scheduled_time
        LIMIT $2`
	rows, err := d.Pool.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming occurrences for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var occs []models.ScheduleOccurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}
		occs = append(occs, o)
	}
	return occs, rows.Err()
}
