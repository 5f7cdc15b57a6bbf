// Package scheduler expands recurring medication schedules into concrete
// future occurrences and owns the occurrence lifecycle mutators.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/queue"
)

// Store is the slice of the record store the scheduler needs.
type Store interface {
	CreateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error
	GetOccurrence(ctx context.Context, id string) (models.ScheduleOccurrence, error)
	UpdateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error
	ListOccurrencesByMedication(ctx context.Context, medicationID string, status models.OccurrenceStatus) ([]models.ScheduleOccurrence, error)
	GetMedication(ctx context.Context, id string) (models.Medication, error)
	ListActiveMedications(ctx context.Context, patientID string) ([]models.Medication, error)
	GetPatient(ctx context.Context, id string) (models.Patient, error)
}

// Escalations is the escalation controller surface the scheduler needs to
// stop a chain when the patient responds.
type Escalations interface {
	Cancel(ctx context.Context, occurrenceID string) error
}

// Service is the schedule expansion engine plus lifecycle mutators.
type Service struct {
	store       Store
	reminders   queue.Queue
	escalations Escalations
	logger      *logging.Logger

	// SnoozeMinutes is the deferral applied to a snooze response.
	SnoozeMinutes int
	// Now is the clock; replaceable in tests.
	Now func() time.Time
}

// New constructs the scheduler service.
func New(store Store, reminders queue.Queue, escalations Escalations, snoozeMinutes int, logger *logging.Logger) *Service {
	if snoozeMinutes <= 0 {
		snoozeMinutes = 15
	}
	return &Service{
		store:         store,
		reminders:     reminders,
		escalations:   escalations,
		logger:        logger,
		SnoozeMinutes: snoozeMinutes,
		Now:           time.Now,
	}
}

// ResolveLocalTime combines a calendar day with an "HH:MM" clock time in
// the given location and returns the absolute timestamp.
func ResolveLocalTime(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// shouldScheduleToday reports whether the schedule produces doses on the
// given local calendar day.
func shouldScheduleToday(s models.Schedule, day time.Time) bool {
	switch s.Frequency {
	case models.FrequencyDaily:
		return true
	case models.FrequencyWeekly:
		for _, wd := range s.DaysOfWeek {
			if wd == int(day.Weekday()) {
				return true
			}
		}
		return false
	case models.FrequencyMonthly:
		return day.Day() == s.DayOfMonth
	default:
		// asNeeded and anything unrecognized never expands.
		return false
	}
}

// expansionWindow resolves the inclusive start/end days of a schedule.
// Exactly one of end date and duration must define the window.
func expansionWindow(s models.Schedule, loc *time.Location) (time.Time, time.Time, error) {
	start := s.StartDate.In(loc)
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)

	switch {
	case s.EndDate != nil && s.DurationDays > 0:
		return time.Time{}, time.Time{}, fmt.Errorf("schedule has both an end date and a duration")
	case s.EndDate != nil:
		end := s.EndDate.In(loc)
		return startDay, time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc), nil
	case s.DurationDays > 0:
		return startDay, startDay.AddDate(0, 0, s.DurationDays-1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("schedule needs an end date or a duration")
	}
}

func validateSchedule(s models.Schedule) error {
	switch s.Frequency {
	case models.FrequencyWeekly:
		if len(s.DaysOfWeek) == 0 {
			return fmt.Errorf("weekly schedule needs days of week")
		}
	case models.FrequencyMonthly:
		if s.DayOfMonth == 0 {
			return fmt.Errorf("monthly schedule needs a day of month")
		}
	}
	return nil
}

// Expand turns a medication's recurring schedule into persisted future
// occurrences, each with a queued reminder. Occurrences are created only
// for due times strictly in the future; past slots on the start day are
// silently skipped.
func (s *Service) Expand(ctx context.Context, med models.Medication) ([]models.ScheduleOccurrence, error) {
	if err := validateSchedule(med.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule for medication %s: %w", med.ID, err)
	}
	switch med.Schedule.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
	default:
		s.logger.Warnf("Medication %s has non-expandable frequency %q, no occurrences created",
			med.ID, med.Schedule.Frequency)
		return nil, nil
	}

	patient, err := s.store.GetPatient(ctx, med.PatientID)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(patient.Timezone)
	if err != nil {
		s.logger.Warnf("Unknown timezone %q for patient %s, falling back to UTC", patient.Timezone, patient.ID)
		loc = time.UTC
	}

	startDay, endDay, err := expansionWindow(med.Schedule, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule for medication %s: %w", med.ID, err)
	}

	now := s.Now()
	unit := med.DoseUnit()
	var created []models.ScheduleOccurrence

	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if !shouldScheduleToday(med.Schedule, day) {
			continue
		}
		for _, slot := range med.Schedule.Times {
			due, err := ResolveLocalTime(day, slot.Time, loc)
			if err != nil {
				s.logger.Warnf("Skipping slot for medication %s: %v", med.ID, err)
				continue
			}
			if !due.After(now) {
				continue
			}

			occ := models.ScheduleOccurrence{
				ID:            uuid.NewString(),
				PatientID:     med.PatientID,
				MedicationID:  med.ID,
				ScheduledTime: due,
				Dose:          models.Dose{Amount: slot.Amount, Unit: unit},
				Status:        models.OccurrencePending,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := s.store.CreateOccurrence(ctx, occ); err != nil {
				return created, err
			}
			if _, err := s.AddReminder(ctx, occ, due, false); err != nil {
				return created, err
			}
			created = append(created, occ)
		}
	}

	s.logger.Infof("Expanded schedule for medication %s: %d occurrences", med.ID, len(created))
	return created, nil
}

// ExpandForPatient expands every active medication of a patient.
func (s *Service) ExpandForPatient(ctx context.Context, patientID string) ([]models.ScheduleOccurrence, error) {
	meds, err := s.store.ListActiveMedications(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var created []models.ScheduleOccurrence
	for _, med := range meds {
		occs, err := s.Expand(ctx, med)
		if err != nil {
			return created, err
		}
		created = append(created, occs...)
	}

	s.logger.Infof("Expanded schedules for patient %s: %d occurrences across %d medications",
		patientID, len(created), len(meds))
	return created, nil
}

// AddReminder enqueues the reminder job firing at runAt. A runAt already
// in the past is refused by the queue; the refusal is surfaced here as a
// nil handle with no error.
func (s *Service) AddReminder(ctx context.Context, occ models.ScheduleOccurrence, runAt time.Time, snoozeRefire bool) (*queue.JobHandle, error) {
	handle, err := s.reminders.Enqueue(ctx, queue.Job{
		Kind:         queue.KindReminder,
		OccurrenceID: occ.ID,
		PatientID:    occ.PatientID,
		MedicationID: occ.MedicationID,
		SnoozeRefire: snoozeRefire,
		RunAt:        runAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue reminder for occurrence %s: %w", occ.ID, err)
	}
	return handle, nil
}
