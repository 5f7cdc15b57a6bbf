package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reminder-service/internal/models"
)

// GetPatient retrieves a patient with their caregivers.
func (d *DB) GetPatient(ctx context.Context, id string) (models.Patient, error) {
	query := `
        SELECT id, name, phone, telegram_chat_id, timezone, language,
               voice_reminders_enabled, escalation_enabled, clinic_id, caregivers, created_at
        FROM patients
        WHERE id = $1`

	var p models.Patient
	var caregivers []byte
	err := d.Pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Phone, &p.TelegramChatID, &p.Timezone, &p.Language,
		&p.VoiceRemindersEnabled, &p.EscalationEnabled, &p.ClinicID, &caregivers, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
		}
		return models.Patient{}, fmt.Errorf("failed to get patient %s: %w", id, err)
	}

	if len(caregivers) > 0 {
		if err := json.Unmarshal(caregivers, &p.Caregivers); err != nil {
			return models.Patient{}, fmt.Errorf("failed to decode caregivers for patient %s: %w", id, err)
		}
	}
	return p, nil
}
