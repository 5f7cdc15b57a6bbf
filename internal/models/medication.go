package models

import "time"

// Frequency values accepted by the schedule expansion engine.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyAsNeeded Frequency = "asNeeded"
)

// TimeSlot is one dose within a day: a clock time plus dose details.
type TimeSlot struct {
	Time     string  `json:"time"` // "HH:MM" in the patient's local time
	Amount   float64 `json:"amount"`
	WithFood bool    `json:"with_food"`
}

// Schedule is the recurring definition a medication is taken on.
// Exactly one of EndDate and DurationDays bounds the expansion window.
type Schedule struct {
	Frequency    Frequency  `json:"frequency"`
	Times        []TimeSlot `json:"times"`
	DaysOfWeek   []int      `json:"days_of_week,omitempty"` // 0=Sunday, required for weekly
	DayOfMonth   int        `json:"day_of_month,omitempty"` // required for monthly
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	DurationDays int        `json:"duration_days,omitempty"`
}

// Medication is a prescribed medication owned by a patient.
type Medication struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patient_id"`
	Name      string    `json:"name"`
	Form      string    `json:"form,omitempty"` // dispensed form, e.g. "tablet"; doubles as dose unit
	Critical  bool      `json:"critical"`
	Active    bool      `json:"active"`
	Schedule  Schedule  `json:"schedule"`
	CreatedAt time.Time `json:"created_at"`
}

// DoseUnit returns the dose unit for this medication, defaulting to "unit"
// when the dispensed form is unspecified.
func (m Medication) DoseUnit() string {
	if m.Form == "" {
		return "unit"
	}
	return m.Form
}
