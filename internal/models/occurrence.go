package models

import "time"

// OccurrenceStatus is the lifecycle state of a schedule occurrence.
type OccurrenceStatus string

const (
	OccurrencePending OccurrenceStatus = "pending"
	OccurrenceSent    OccurrenceStatus = "sent"
	OccurrenceTaken   OccurrenceStatus = "taken"
	OccurrenceSnoozed OccurrenceStatus = "snoozed"
	OccurrenceSkipped OccurrenceStatus = "skipped"
	OccurrenceMissed  OccurrenceStatus = "missed"
	OccurrencePaused  OccurrenceStatus = "paused"
)

// Terminal reports whether the status permits no further transitions.
// snoozed and paused can cycle back into an active state.
func (s OccurrenceStatus) Terminal() bool {
	return s == OccurrenceTaken || s == OccurrenceSkipped || s == OccurrenceMissed
}

// Dose is the amount and unit for a single occurrence.
type Dose struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// EscalationState tracks where an occurrence sits in its escalation chain.
type EscalationState struct {
	Level             int        `json:"level"`
	LastEscalatedAt   *time.Time `json:"last_escalated_at,omitempty"`
	CaregiverNotified bool       `json:"caregiver_notified"`
}

// SnoozeState records how often and until when an occurrence was snoozed.
type SnoozeState struct {
	Count int        `json:"count"`
	Until *time.Time `json:"until,omitempty"`
}

// ResponseRecord is the patient's reply to a reminder.
type ResponseRecord struct {
	Action  string    `json:"action"` // taken, snooze, skip
	At      time.Time `json:"at"`
	Channel string    `json:"channel"` // telegram, voice_call, api
}

// ScheduleOccurrence is one concrete "take this dose at this time" derived
// from a medication schedule. It is the durable source of truth the queue
// jobs are validated against.
type ScheduleOccurrence struct {
	ID            string           `json:"id"`
	PatientID     string           `json:"patient_id"`
	MedicationID  string           `json:"medication_id"`
	ScheduledTime time.Time        `json:"scheduled_time"`
	Dose          Dose             `json:"dose"`
	Status        OccurrenceStatus `json:"status"`
	Escalation    EscalationState  `json:"escalation"`
	Snooze        SnoozeState      `json:"snooze"`
	Response      *ResponseRecord  `json:"response,omitempty"`
	SentAt        *time.Time       `json:"sent_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
