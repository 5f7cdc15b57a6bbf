// Package workers holds the queue handlers: the reminder worker that
// delivers due dose notifications and the escalation worker that drives
// chain levels.
package workers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"reminder-service/internal/db"
	"reminder-service/internal/escalation"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/providers"
	"reminder-service/internal/queue"
)

// Store is the record store slice the reminder worker needs.
type Store interface {
	GetOccurrence(ctx context.Context, id string) (models.ScheduleOccurrence, error)
	UpdateOccurrence(ctx context.Context, o models.ScheduleOccurrence) error
	GetPatient(ctx context.Context, id string) (models.Patient, error)
	GetMedication(ctx context.Context, id string) (models.Medication, error)
}

// Chain is the escalation surface the reminder worker needs to start a
// follow-up chain after a successful send.
type Chain interface {
	Start(ctx context.Context, occ models.ScheduleOccurrence) error
}

// ReminderWorker consumes reminder jobs: it sends the dose notification
// with quick replies, marks the occurrence sent and starts the
// escalation chain.
type ReminderWorker struct {
	store     Store
	messenger providers.Messenger
	chain     Chain
	logger    *logging.Logger

	// Now is the clock; replaceable in tests.
	Now func() time.Time
}

// NewReminderWorker constructs the reminder handler.
func NewReminderWorker(store Store, messenger providers.Messenger, chain Chain, logger *logging.Logger) *ReminderWorker {
	return &ReminderWorker{
		store:     store,
		messenger: messenger,
		chain:     chain,
		logger:    logger,
		Now:       time.Now,
	}
}

// Register installs the worker on the reminder queue.
func (w *ReminderWorker) Register(q queue.Queue) {
	q.Register(queue.KindReminder, w.Handle)
}

// Handle delivers one due reminder. The occurrence is re-fetched first:
// a fired job whose occurrence is gone, paused or already answered is a
// no-op, not an error: the record store is the source of truth.
func (w *ReminderWorker) Handle(ctx context.Context, job queue.Job) error {
	occ, err := w.store.GetOccurrence(ctx, job.OccurrenceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			w.logger.Infof("Occurrence %s no longer exists, dropping reminder job", job.OccurrenceID)
			return nil
		}
		return err
	}

	// A plain reminder fires on pending; a snooze re-fire on snoozed.
	expected := models.OccurrencePending
	if job.SnoozeRefire {
		expected = models.OccurrenceSnoozed
	}
	if occ.Status != expected {
		w.logger.Infof("Occurrence %s is %s, reminder job expected %s, skipping", occ.ID, occ.Status, expected)
		return nil
	}

	patient, err := w.store.GetPatient(ctx, occ.PatientID)
	if err != nil {
		return err
	}
	med, err := w.store.GetMedication(ctx, occ.MedicationID)
	if err != nil {
		return err
	}

	text := reminderText(occ, med)
	recipient := strconv.FormatInt(patient.TelegramChatID, 10)
	msgID, err := w.messenger.SendText(ctx, recipient, text,
		[]string{"Taken", "Snooze 15 min", "Skip"}, "")
	if err != nil {
		return fmt.Errorf("failed to send reminder for occurrence %s: %w", occ.ID, err)
	}

	now := w.Now()
	occ.Status = models.OccurrenceSent
	occ.SentAt = &now
	occ.UpdatedAt = now
	if err := w.store.UpdateOccurrence(ctx, occ); err != nil {
		return err
	}

	if patient.EscalationEnabled {
		if err := w.chain.Start(ctx, occ); err != nil {
			return err
		}
	}

	w.logger.Infof("Reminder sent for occurrence %s (medication %s, message %s, escalation=%t)",
		occ.ID, med.Name, msgID, patient.EscalationEnabled)
	return nil
}

func reminderText(occ models.ScheduleOccurrence, med models.Medication) string {
	text := fmt.Sprintf("Time for your medication: %s\nDose: %g %s",
		med.Name, occ.Dose.Amount, occ.Dose.Unit)
	if occ.Snooze.Count > 0 {
		text = "Snoozed reminder: " + text
	}
	return text
}

// EscalationWorker consumes escalation jobs by delegating to the chain
// controller.
type EscalationWorker struct {
	chain  *escalation.Service
	logger *logging.Logger
}

// NewEscalationWorker constructs the escalation handler.
func NewEscalationWorker(chain *escalation.Service, logger *logging.Logger) *EscalationWorker {
	return &EscalationWorker{chain: chain, logger: logger}
}

// Register installs the worker on the escalation queue.
func (w *EscalationWorker) Register(q queue.Queue) {
	q.Register(queue.KindEscalation, w.Handle)
}

func (w *EscalationWorker) Handle(ctx context.Context, job queue.Job) error {
	return w.chain.HandleLevel(ctx, job.OccurrenceID, job.Level)
}
