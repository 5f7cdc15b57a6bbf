package models

import "time"

// Caregiver is a person alerted when a patient stops responding to reminders.
type Caregiver struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	TelegramChatID int64  `json:"telegram_chat_id"`
	Relationship   string `json:"relationship,omitempty"`
}

// Patient represents the subject taking medication.
type Patient struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Phone                 string      `json:"phone"`
	TelegramChatID        int64       `json:"telegram_chat_id"`
	Timezone              string      `json:"timezone"` // IANA name, e.g. "Asia/Ho_Chi_Minh"
	Language              string      `json:"language"`
	VoiceRemindersEnabled bool        `json:"voice_reminders_enabled"`
	EscalationEnabled     bool        `json:"escalation_enabled"`
	ClinicID              string      `json:"clinic_id,omitempty"` // non-empty means clinic-affiliated
	Caregivers            []Caregiver `json:"caregivers,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
}
