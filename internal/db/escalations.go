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

const escalationColumns = `
    id, patient_id, medication_id, occurrence_id, level, type, status,
    attempts, caregiver, resolution, created_at, updated_at`

func scanEscalation(row pgx.Row) (models.Escalation, error) {
	var e models.Escalation
	var attempts, caregiver, resolution []byte
	err := row.Scan(
		&e.ID, &e.PatientID, &e.MedicationID, &e.OccurrenceID, &e.Level, &e.Type, &e.Status,
		&attempts, &caregiver, &resolution, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return models.Escalation{}, err
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &e.Attempts); err != nil {
			return models.Escalation{}, fmt.Errorf("failed to decode attempts for escalation %s: %w", e.ID, err)
		}
	}
	if len(caregiver) > 0 {
		if err := json.Unmarshal(caregiver, &e.Caregiver); err != nil {
			return models.Escalation{}, fmt.Errorf("failed to decode caregiver block for escalation %s: %w", e.ID, err)
		}
	}
	if len(resolution) > 0 {
		if err := json.Unmarshal(resolution, &e.Resolution); err != nil {
			return models.Escalation{}, fmt.Errorf("failed to decode resolution for escalation %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func escalationBlobs(e models.Escalation) (attempts, caregiver, resolution []byte, err error) {
	if len(e.Attempts) > 0 {
		if attempts, err = json.Marshal(e.Attempts); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode attempts: %w", err)
		}
	}
	if e.Caregiver != nil {
		if caregiver, err = json.Marshal(e.Caregiver); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode caregiver block: %w", err)
		}
	}
	if e.Resolution != nil {
		if resolution, err = json.Marshal(e.Resolution); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode resolution: %w", err)
		}
	}
	return attempts, caregiver, resolution, nil
}

// CreateEscalation inserts a new escalation record for a level.
func (d *DB) CreateEscalation(ctx context.Context, e models.Escalation) error {
	attempts, caregiver, resolution, err := escalationBlobs(e)
	if err != nil {
		return fmt.Errorf("failed to create escalation %s: %w", e.ID, err)
	}

	query := `
        INSERT INTO escalations (
            id, patient_id, medication_id, occurrence_id, level, type, status,
            attempts, caregiver, resolution, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = d.Pool.Exec(ctx, query,
		e.ID, e.PatientID, e.MedicationID, e.OccurrenceID, e.Level, string(e.Type), string(e.Status),
		attempts, caregiver, resolution, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create escalation %s: %w", e.ID, err)
	}
	return nil
}

// GetEscalationForLevel retrieves the record for one occurrence level.
func (d *DB) GetEscalationForLevel(ctx context.Context, occurrenceID string, level int) (models.Escalation, error) {
	query := `SELECT ` + escalationColumns + `
        FROM escalations
        WHERE occurrence_id = $1 AND level = $2`
	e, err := scanEscalation(d.Pool.QueryRow(ctx, query, occurrenceID, level))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Escalation{}, fmt.Errorf("escalation for occurrence %s level %d: %w", occurrenceID, level, ErrNotFound)
		}
		return models.Escalation{}, fmt.Errorf("failed to get escalation for occurrence %s level %d: %w", occurrenceID, level, err)
	}
	return e, nil
}

// UpdateEscalation mutates an existing record in place.
func (d *DB) UpdateEscalation(ctx context.Context, e models.Escalation) error {
	attempts, caregiver, resolution, err := escalationBlobs(e)
	if err != nil {
		return fmt.Errorf("failed to update escalation %s: %w", e.ID, err)
	}

	query := `
        UPDATE escalations
        SET status = $2, attempts = $3, caregiver = $4, resolution = $5, updated_at = $6
        WHERE id = $1`
	tag, err := d.Pool.Exec(ctx, query, e.ID, string(e.Status), attempts, caregiver, resolution, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update escalation %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("escalation %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// CancelPendingEscalations marks every pending record for the occurrence
// cancelled and stamps a resolution. Returns how many were cancelled.
func (d *DB) CancelPendingEscalations(ctx context.Context, occurrenceID, resolvedBy string) (int, error) {
	resolution, err := json.Marshal(models.Resolution{
		Resolved:   true,
		ResolvedBy: resolvedBy,
		ResolvedAt: time.Now(),
		Outcome:    "cancelled",
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode resolution: %w", err)
	}

	query := `
        UPDATE escalations
        SET status = 'cancelled', resolution = $2, updated_at = NOW()
        WHERE occurrence_id = $1 AND status = 'pending'`
	tag, err := d.Pool.Exec(ctx, query, occurrenceID, resolution)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel escalations for occurrence %s: %w", occurrenceID, err)
	}
	return int(tag.RowsAffected()), nil
}

// ListEscalationsByPatient returns a patient's escalation history, newest first.
func (d *DB) ListEscalationsByPatient(ctx context.Context, patientID string, limit int) ([]models.Escalation, error) {
	query := `SELECT ` + escalationColumns + `
        FROM escalations
        WHERE patient_id = $1
        ORDER BY created_at DESC
        LIMIT $2`
	rows, err := d.Pool.Query(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var escs []models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		escs = append(escs, e)
	}
	return escs, rows.Err()
}

// CountEscalationsByLevel aggregates escalations per level since a cutoff.
func (d *DB) CountEscalationsByLevel(ctx context.Context, patientID string, since time.Time) (map[int]int, error) {
	query := `
        SELECT level, COUNT(*)
        FROM escalations
        WHERE patient_id = $1 AND created_at >= $2
        GROUP BY level`
	rows, err := d.Pool.Query(ctx, query, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations by level for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("failed to scan level count: %w", err)
		}
		counts[level] = count
	}
	return counts, rows.Err()
}

// CountEscalationsByMedication aggregates escalations per medication since a cutoff.
func (d *DB) CountEscalationsByMedication(ctx context.Context, patientID string, since time.Time) (map[string]int, error) {
	query := `
        SELECT medication_id, COUNT(*)
        FROM escalations
        WHERE patient_id = $1 AND created_at >= $2
        GROUP BY medication_id`
	rows, err := d.Pool.Query(ctx, query, patientID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations by medication for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var medicationID string
		var count int
		if err := rows.Scan(&medicationID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan medication count: %w", err)
		}
		counts[medicationID] = count
	}
	return counts, rows.Err()
}

// AverageResolutionMinutes is the mean minutes from creation to resolution
// over resolved escalations since a cutoff. Zero when none resolved.
func (d *DB) AverageResolutionMinutes(ctx context.Context, patientID string, since time.Time) (float64, error) {
	query := `
        SELECT COALESCE(AVG(EXTRACT(EPOCH FROM ((resolution->>'resolved_at')::timestamptz - created_at)) / 60), 0)
        FROM escalations
        WHERE patient_id = $1 AND created_at >= $2
          AND resolution IS NOT NULL AND (resolution->>'resolved')::boolean = TRUE`
	var avg float64
	if err := d.Pool.QueryRow(ctx, query, patientID, since).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to average resolution time for patient %s: %w", patientID, err)
	}
	return avg, nil
}

// CountCaregiverInterventions counts escalations where a caregiver was notified.
func (d *DB) CountCaregiverInterventions(ctx context.Context, patientID string, since time.Time) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM escalations
        WHERE patient_id = $1 AND created_at >= $2 AND caregiver IS NOT NULL`
	var count int
	if err := d.Pool.QueryRow(ctx, query, patientID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count caregiver interventions for patient %s: %w", patientID, err)
	}
	return count, nil
}
