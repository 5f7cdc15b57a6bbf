// Package escalation drives the level 1..5 follow-up chain for
// occurrences the patient has not responded to.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"reminder-service/internal/db"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/providers"
	"reminder-service/internal/queue"
)

// Store is the slice of the record store the controller needs.
type Store interface {
	GetOccurrence(ctx context.Context, id string) (models.ScheduleOccurrence, error)
	UpdateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error
	GetPatient(ctx context.Context, id string) (models.Patient, error)
	GetMedication(ctx context.Context, id string) (models.Medication, error)
	CreateEscalation(ctx context.Context, e models.Escalation) error
	GetEscalationForLevel(ctx context.Context, occurrenceID string, level int) (models.Escalation, error)
	UpdateEscalation(ctx context.Context, e models.Escalation) error
	CancelPendingEscalations(ctx context.Context, occurrenceID, resolvedBy string) (int, error)
	ListEscalationsByPatient(ctx context.Context, patientID string, limit int) ([]models.Escalation, error)
	CountEscalationsByLevel(ctx context.Context, patientID string, since time.Time) (map[int]int, error)
	CountEscalationsByMedication(ctx context.Context, patientID string, since time.Time) (map[string]int, error)
	AverageResolutionMinutes(ctx context.Context, patientID string, since time.Time) (float64, error)
	CountCaregiverInterventions(ctx context.Context, patientID string, since time.Time) (int, error)
}

// Service is the escalation chain controller.
type Service struct {
	store     Store
	jobs      queue.Queue
	messenger providers.Messenger
	tts       providers.Synthesizer
	clinic    providers.ClinicNotifier
	logger    *logging.Logger

	// VoiceCallEnabled gates level 3 for the deployment.
	VoiceCallEnabled bool
	// CallPromptURL serves the interactive call script.
	CallPromptURL string
	// Now is the clock; replaceable in tests.
	Now func() time.Time
}

// New constructs the escalation controller.
func New(store Store, jobs queue.Queue, messenger providers.Messenger, tts providers.Synthesizer, clinic providers.ClinicNotifier, voiceCallEnabled bool, callPromptURL string, logger *logging.Logger) *Service {
	return &Service{
		store:            store,
		jobs:             jobs,
		messenger:        messenger,
		tts:              tts,
		clinic:           clinic,
		logger:           logger,
		VoiceCallEnabled: voiceCallEnabled,
		CallPromptURL:    callPromptURL,
		Now:              time.Now,
	}
}

// DelayForLevel is the wait before the given level fires. Unrecognized
// levels fall back to the level-1 delay.
func DelayForLevel(level int) time.Duration {
	switch level {
	case 1:
		return 30 * time.Minute
	case 2, 3:
		return 15 * time.Minute
	case 4:
		return 10 * time.Minute
	case 5:
		return 5 * time.Minute
	default:
		return 30 * time.Minute
	}
}

// Start kicks off the chain for a freshly sent occurrence by queueing the
// level-1 job. The delayed queue is the only timer; nothing in-process.
func (s *Service) Start(ctx context.Context, occ models.ScheduleOccurrence) error {
	_, err := s.jobs.Enqueue(ctx, queue.Job{
		Kind:         queue.KindEscalation,
		OccurrenceID: occ.ID,
		PatientID:    occ.PatientID,
		MedicationID: occ.MedicationID,
		Level:        1,
		RunAt:        s.Now().Add(DelayForLevel(1)),
	})
	if err != nil {
		return fmt.Errorf("failed to start escalation chain for occurrence %s: %w", occ.ID, err)
	}
	s.logger.Infof("Escalation chain started for occurrence %s", occ.ID)
	return nil
}

// HandleLevel executes one level of the chain. The occurrence is
// re-fetched first: if it is gone or no longer in sent status the chain
// is considered resolved and the level is skipped; this is the
// race-safety check against a response that arrived after the job was
// dispatched.
func (s *Service) HandleLevel(ctx context.Context, occurrenceID string, level int) error {
	occ, err := s.store.GetOccurrence(ctx, occurrenceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Infof("Occurrence %s no longer exists, skipping escalation level %d", occurrenceID, level)
			return nil
		}
		return err
	}
	if occ.Status != models.OccurrenceSent {
		s.logger.Infof("Occurrence %s is %s, escalation level %d resolved as no-op", occ.ID, occ.Status, level)
		return nil
	}
	if level < 1 || level > models.MaxEscalationLevel {
		s.logger.Warnf("Unknown escalation level %d for occurrence %s, treating as terminal", level, occ.ID)
		return nil
	}

	patient, err := s.store.GetPatient(ctx, occ.PatientID)
	if err != nil {
		return err
	}
	med, err := s.store.GetMedication(ctx, occ.MedicationID)
	if err != nil {
		return err
	}

	attempt, caregiver, err := s.act(ctx, occ, patient, med, level)
	if err != nil {
		return err
	}

	now := s.Now()
	if err := s.recordLevel(ctx, occ, level, attempt, caregiver, now); err != nil {
		return err
	}

	occ.Escalation.Level = level
	occ.Escalation.LastEscalatedAt = &now
	if caregiver != nil {
		occ.Escalation.CaregiverNotified = true
	}
	if level == models.MaxEscalationLevel {
		// End of the chain with no response: the dose is missed.
		occ.Status = models.OccurrenceMissed
	}
	occ.UpdatedAt = now
	if err := s.store.UpdateOccurrence(ctx, occ); err != nil {
		return err
	}

	if level < models.MaxEscalationLevel {
		_, err := s.jobs.Enqueue(ctx, queue.Job{
			Kind:         queue.KindEscalation,
			OccurrenceID: occ.ID,
			PatientID:    occ.PatientID,
			MedicationID: occ.MedicationID,
			Level:        level + 1,
			RunAt:        now.Add(DelayForLevel(level)),
		})
		if err != nil {
			return fmt.Errorf("failed to queue escalation level %d for occurrence %s: %w", level+1, occ.ID, err)
		}
	}

	s.logger.Infof("Escalation level %d handled for occurrence %s (type %s)",
		level, occ.ID, models.TypeForLevel(level))
	return nil
}

// act performs the level's notification action. A transient send failure
// is returned to the queue for retry, after same-chain fallbacks
// (voice call -> voice reminder -> urgent text) have been tried.
func (s *Service) act(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication, level int) (models.EscalationAttempt, *models.CaregiverNotification, error) {
	switch level {
	case 1:
		attempt, err := s.sendUrgent(ctx, occ, patient, med)
		return attempt, nil, err
	case 2:
		attempt, err := s.sendVoiceReminder(ctx, occ, patient, med)
		return attempt, nil, err
	case 3:
		attempt, err := s.placeCall(ctx, occ, patient, med)
		return attempt, nil, err
	case 4:
		return s.alertCaregiver(ctx, occ, patient, med)
	default:
		attempt, err := s.alertClinic(ctx, occ, patient, med)
		return attempt, nil, err
	}
}

func chatRecipient(patient models.Patient) string {
	return strconv.FormatInt(patient.TelegramChatID, 10)
}

func doseText(occ models.ScheduleOccurrence, med models.Medication) string {
	return fmt.Sprintf("%s: %g %s", med.Name, occ.Dose.Amount, occ.Dose.Unit)
}

func (s *Service) sendUrgent(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication) (models.EscalationAttempt, error) {
	text := fmt.Sprintf("URGENT: you have not confirmed your medication.\n%s was due at %s. Please respond.",
		doseText(occ, med), occ.ScheduledTime.Format("15:04"))
	msgID, err := s.messenger.SendText(ctx, chatRecipient(patient), text,
		[]string{"Taken now", "Snooze 15 min", "Skip today"}, "")
	if err != nil {
		return models.EscalationAttempt{}, fmt.Errorf("failed to send urgent reminder for occurrence %s: %w", occ.ID, err)
	}
	return models.EscalationAttempt{Channel: "urgent", MessageID: msgID, At: s.Now()}, nil
}

func (s *Service) sendVoiceReminder(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication) (models.EscalationAttempt, error) {
	if patient.VoiceRemindersEnabled {
		spoken := fmt.Sprintf("This is your medication reminder. Please take %s now.", doseText(occ, med))
		audioURL, err := s.tts.Synthesize(ctx, spoken, patient.Language)
		if err == nil {
			msgID, err := s.messenger.SendVoiceNote(ctx, chatRecipient(patient), audioURL)
			if err == nil {
				return models.EscalationAttempt{Channel: "voice_reminder", MessageID: msgID, At: s.Now()}, nil
			}
			s.logger.Warnf("Voice note delivery failed for occurrence %s, falling back to urgent text: %v", occ.ID, err)
		} else {
			s.logger.Warnf("Speech synthesis failed for occurrence %s, falling back to urgent text: %v", occ.ID, err)
		}
	}
	return s.sendUrgent(ctx, occ, patient, med)
}

func (s *Service) placeCall(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication) (models.EscalationAttempt, error) {
	if s.VoiceCallEnabled {
		promptURL := fmt.Sprintf("%s?occurrence_id=%s", s.CallPromptURL, occ.ID)
		callID, err := s.messenger.PlaceVoiceCall(ctx, patient.Phone, promptURL)
		if err == nil {
			return models.EscalationAttempt{Channel: "voice_call", MessageID: callID, At: s.Now()}, nil
		}
		s.logger.Warnf("Voice call placement failed for occurrence %s, falling back to voice reminder: %v", occ.ID, err)
	}
	return s.sendVoiceReminder(ctx, occ, patient, med)
}

func (s *Service) alertCaregiver(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication) (models.EscalationAttempt, *models.CaregiverNotification, error) {
	if len(patient.Caregivers) == 0 {
		s.logger.Warnf("No caregiver registered for patient %s, skipping caregiver alert for occurrence %s",
			patient.ID, occ.ID)
		return models.EscalationAttempt{}, nil, nil
	}

	cg := patient.Caregivers[0]
	late := s.Now().Sub(occ.ScheduledTime).Round(time.Minute)
	text := fmt.Sprintf("%s has not confirmed their medication.\n%s was due at %s (%s overdue). Please check on them.",
		patient.Name, doseText(occ, med), occ.ScheduledTime.Format("15:04 Jan 2"), late)
	msgID, err := s.messenger.SendText(ctx, strconv.FormatInt(cg.TelegramChatID, 10), text, nil, "")
	if err != nil {
		return models.EscalationAttempt{}, nil, fmt.Errorf("failed to alert caregiver for occurrence %s: %w", occ.ID, err)
	}

	now := s.Now()
	return models.EscalationAttempt{Channel: "caregiver", MessageID: msgID, At: now},
		&models.CaregiverNotification{CaregiverID: cg.ID, Name: cg.Name, NotifiedAt: now}, nil
}

func (s *Service) alertClinic(ctx context.Context, occ models.ScheduleOccurrence, patient models.Patient, med models.Medication) (models.EscalationAttempt, error) {
	if patient.ClinicID != "" {
		err := s.clinic.NotifyClinic(ctx, patient.ClinicID, providers.ClinicAlert{
			PatientID:    patient.ID,
			PatientName:  patient.Name,
			MedicationID: med.ID,
			Medication:   med.Name,
			OccurrenceID: occ.ID,
			ScheduledAt:  occ.ScheduledTime,
			Critical:     med.Critical,
		})
		if err != nil {
			return models.EscalationAttempt{}, fmt.Errorf("failed to signal clinic for occurrence %s: %w", occ.ID, err)
		}
		return models.EscalationAttempt{Channel: "clinic", At: s.Now()}, nil
	}

	text := fmt.Sprintf("FINAL ALERT: %s has gone unconfirmed since %s.",
		doseText(occ, med), occ.ScheduledTime.Format("15:04 Jan 2"))
	if med.Critical {
		text += "\nThis medication is marked CRITICAL. Contact your care team if you need help."
	}
	msgID, err := s.messenger.SendText(ctx, chatRecipient(patient), text, nil, "")
	if err != nil {
		return models.EscalationAttempt{}, fmt.Errorf("failed to send final alert for occurrence %s: %w", occ.ID, err)
	}
	return models.EscalationAttempt{Channel: "critical_alert", MessageID: msgID, At: s.Now()}, nil
}

// recordLevel creates the level's escalation record on first reach and
// mutates it afterwards.
func (s *Service) recordLevel(ctx context.Context, occ models.ScheduleOccurrence, level int, attempt models.EscalationAttempt, caregiver *models.CaregiverNotification, now time.Time) error {
	rec, err := s.store.GetEscalationForLevel(ctx, occ.ID, level)
	created := false
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			return err
		}
		created = true
		rec = models.Escalation{
			ID:           uuid.NewString(),
			PatientID:    occ.PatientID,
			MedicationID: occ.MedicationID,
			OccurrenceID: occ.ID,
			Level:        level,
			Type:         models.TypeForLevel(level),
			Status:       models.EscalationPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	if attempt.Channel != "" {
		rec.Attempts = append(rec.Attempts, attempt)
	}
	if caregiver != nil {
		rec.Caregiver = caregiver
	}
	rec.UpdatedAt = now

	if created {
		return s.store.CreateEscalation(ctx, rec)
	}
	return s.store.UpdateEscalation(ctx, rec)
}

// Cancel stops the chain for an occurrence: queued escalation jobs are
// removed and every pending record is marked cancelled with a resolution
// by the user.
func (s *Service) Cancel(ctx context.Context, occurrenceID string) error {
	removed, err := s.jobs.Cancel(ctx, occurrenceID)
	if err != nil {
		return err
	}
	cancelled, err := s.store.CancelPendingEscalations(ctx, occurrenceID, "user")
	if err != nil {
		return err
	}
	s.logger.Infof("Cancelled escalation for occurrence %s: %d queued jobs removed, %d records cancelled",
		occurrenceID, removed, cancelled)
	return nil
}
