package models

import "time"

// MaxEscalationLevel is the last level of the chain; after it the
// occurrence is considered missed.
const MaxEscalationLevel = 5

// EscalationType is the notification action a level maps to.
type EscalationType string

const (
	EscalationUrgent        EscalationType = "urgent"
	EscalationVoiceReminder EscalationType = "voice_reminder"
	EscalationVoiceCall     EscalationType = "voice_call"
	EscalationCaregiver     EscalationType = "caregiver"
	EscalationClinic        EscalationType = "clinic"
)

// TypeForLevel maps a chain level to its notification type. Levels outside
// 1..5 fall back to urgent.
func TypeForLevel(level int) EscalationType {
	switch level {
	case 1:
		return EscalationUrgent
	case 2:
		return EscalationVoiceReminder
	case 3:
		return EscalationVoiceCall
	case 4:
		return EscalationCaregiver
	case 5:
		return EscalationClinic
	default:
		return EscalationUrgent
	}
}

// EscalationStatus is the lifecycle state of an escalation record.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationResolved  EscalationStatus = "resolved"
	EscalationCancelled EscalationStatus = "cancelled"
)

// EscalationAttempt is one outbound notification attempt for a level.
type EscalationAttempt struct {
	Channel   string    `json:"channel"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

// CaregiverNotification records that a caregiver was alerted at level 4.
type CaregiverNotification struct {
	CaregiverID string    `json:"caregiver_id"`
	Name        string    `json:"name"`
	NotifiedAt  time.Time `json:"notified_at"`
}

// Resolution records how an escalation ended.
type Resolution struct {
	Resolved   bool      `json:"resolved"`
	ResolvedBy string    `json:"resolved_by"` // user, caregiver, system
	ResolvedAt time.Time `json:"resolved_at"`
	Outcome    string    `json:"outcome,omitempty"`
}

// Escalation is created once per level reached for an occurrence and
// mutated as caregiver or resolution information arrives.
type Escalation struct {
	ID           string                 `json:"id"`
	PatientID    string                 `json:"patient_id"`
	MedicationID string                 `json:"medication_id"`
	OccurrenceID string                 `json:"occurrence_id"`
	Level        int                    `json:"level"`
	Type         EscalationType         `json:"type"`
	Status       EscalationStatus       `json:"status"`
	Attempts     []EscalationAttempt    `json:"attempts,omitempty"`
	Caregiver    *CaregiverNotification `json:"caregiver,omitempty"`
	Resolution   *Resolution            `json:"resolution,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}
