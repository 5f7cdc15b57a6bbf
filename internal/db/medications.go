package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reminder-service/internal/models"
)

func (d *DB) scanMedication(row pgx.Row) (models.Medication, error) {
	var m models.Medication
	var schedule []byte
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Form, &m.Critical, &m.Active, &schedule, &m.CreatedAt)
	if err != nil {
		return models.Medication{}, err
	}
	if err := json.Unmarshal(schedule, &m.Schedule); err != nil {
		return models.Medication{}, fmt.Errorf("failed to decode schedule for medication %s: %w", m.ID, err)
	}
	return m, nil
}

// GetMedication retrieves a medication with its schedule definition.
func (d *DB) GetMedication(ctx context.Context, id string) (models.Medication, error) {
	query := `
        SELECT id, patient_id, name, form, critical, active, schedule, created_at
        FROM medications
        WHERE id = $1`
	m, err := d.scanMedication(d.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Medication{}, fmt.Errorf("medication %s: %w", id, ErrNotFound)
		}
		return models.Medication{}, fmt.Errorf("failed to get medication %s: %w", id, err)
	}
	return m, nil
}

// ListActiveMedications returns a patient's active medications.
func (d *DB) ListActiveMedications(ctx context.Context, patientID string) ([]models.Medication, error) {
	query := `
        SELECT id, patient_id, name, form, critical, active, schedule, created_at
        FROM medications
        WHERE patient_id = $1 AND active = TRUE
        ORDER BY created_at`
	rows, err := d.Pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list medications for patient %s: %w", patientID, err)
	}
	defer rows.Close()

	var meds []models.Medication
	for rows.Next() {
		m, err := d.scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}
