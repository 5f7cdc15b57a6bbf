package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reminder-service/internal/db"
	"reminder-service/internal/models"
)

// ErrNotReschedulable reports a reschedule attempt on an occurrence that
// has already been sent, answered, or paused.
var ErrNotReschedulable = errors.New("occurrence is not reschedulable")

// Snooze defers an occurrence by the given minutes: the snooze sub-state
// is recorded and a fresh reminder is queued as a snooze re-fire. A
// missing occurrence is a deliberate silent no-op (nil time, nil error);
// callers needing a hard failure use Reschedule.
func (s *Service) Snooze(ctx context.Context, occurrenceID string, minutes int) (*time.Time, error) {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Infof("Snooze requested for unknown occurrence %s, ignoring", occurrenceID)
			return nil, nil
		}
		return nil, err
	}
	if minutes <= 0 {
		minutes = s.SnoozeMinutes
	}

	now := s.Now()
	until := now.Add(time.Duration(minutes) * time.Minute)
	occ.Status = models.OccurrenceSnoozed
	occ.Snooze.Count++
	occ.Snooze.Until = &until
	occ.UpdatedAt = now
	if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
		return nil, err
	}
	if _, err := s.AddReminder(ctx, occ, until, true); err != nil {
		return nil, err
	}

	s.logger.Infof("Snoozed occurrence %s for %d minutes (until %s)",
		occ.ID, minutes, until.Format(time.RFC3339))
	return &until, nil
}

// Pause transitions all pending occurrences of a medication to paused and
// removes their queued reminders. Returns how many were paused.
func (s *Service) Pause(ctx context.Context, medicationID string) (int, error) {
	occs, err := s.store.ListOccurrencesByMedication(ctx, medicationID, models.OccurrencePending)
	if err != nil {
		return 0, err
	}

	now := s.Now()
	paused := 0
	for _, occ := range occs {
		occ.Status = models.OccurrencePaused
		occ.UpdatedAt = now
		if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
			return paused, err
		}
		if _, err := s.reminders.Cancel(ctx, occ.ID); err != nil {
			return paused, err
		}
		paused++
	}

	s.logger.Infof("Paused medication %s: %d occurrences", medicationID, paused)
	return paused, nil
}

// Resume reactivates a medication's paused occurrences whose due time is
// still in the future, requeueing their reminders. Occurrences whose due
// time has passed stay paused.
func (s *Service) Resume(ctx context.Context, medicationID string) (int, error) {
	occs, err := s.store.ListOccurrencesByMedication(ctx, medicationID, models.OccurrencePaused)
	if err != nil {
		return 0, err
	}

	now := s.Now()
	resumed := 0
	for _, occ := range occs {
		if !occ.ScheduledTime.After(now) {
			continue
		}
		occ.Status = models.OccurrencePending
		occ.UpdatedAt = now
		if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
			return resumed, err
		}
		if _, err := s.AddReminder(ctx, occ, occ.ScheduledTime, false); err != nil {
			return resumed, err
		}
		resumed++
	}

	s.logger.Infof("Resumed medication %s: %d occurrences", medicationID, resumed)
	return resumed, nil
}

// Reschedule moves an occurrence to a new due time: the old reminder is
// removed and a fresh one queued. Only pending and snoozed occurrences
// qualify; a snoozed one returns to pending with its snooze cleared.
// Unlike Snooze this fails on a missing occurrence.
func (s *Service) Reschedule(ctx context.Context, occurrenceID string, newTime time.Time) error {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return err
	}
	switch occ.Status {
	case models.OccurrencePending:
	case models.OccurrenceSnoozed:
		occ.Status = models.OccurrencePending
		occ.Snooze.Until = nil
	default:
		return fmt.Errorf("occurrence %s has status %s: %w", occ.ID, occ.Status, ErrNotReschedulable)
	}

	if _, err := s.reminders.Cancel(ctx, occ.ID); err != nil {
		return err
	}
	occ.ScheduledTime = newTime
	occ.UpdatedAt = s.Now()
	if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
		return err
	}
	if _, err := s.AddReminder(ctx, occ, newTime, false); err != nil {
		return err
	}

	s.logger.Infof("Rescheduled occurrence %s to %s", occ.ID, newTime.Format(time.RFC3339))
	return nil
}

// ApplyResponse records the patient's reply to a reminder and stops the
// escalation chain. Actions: taken, snooze, skip.
func (s *Service) ApplyResponse(ctx context.Context, occurrenceID, action, channel string) error {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		return err
	}
	if occ.Status.Terminal() {
		s.logger.Infof("Occurrence %s already %s, ignoring %s response", occ.ID, occ.Status, action)
		return nil
	}

	now := s.Now()
	occ.Response = &models.ResponseRecord{Action: action, At: now, Channel: channel}

	switch action {
	case "taken":
		occ.Status = models.OccurrenceTaken
	case "skip":
		occ.Status = models.OccurrenceSkipped
	case "snooze":
		// Snooze rewrites the status and queues the re-fire below.
	default:
		return fmt.Errorf("unknown response action %q for occurrence %s", action, occ.ID)
	}

	occ.UpdatedAt = now
	if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
		return err
	}
	if err := s.escalations.Cancel(ctx, occ.ID); err != nil {
		return err
	}

	if action == "snooze" {
		if _, err := s.Snooze(ctx, occ.ID, s.SnoozeMinutes); err != nil {
			return err
		}
	}

	s.logger.Infof("Applied %s response for occurrence %s via %s", action, occ.ID, channel)
	return nil
}
