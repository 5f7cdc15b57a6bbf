package workers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/db"
	"reminder-service/internal/logging"
	"reminder-service/internal/models"
	"reminder-service/internal/queue"
)

type fakeStore struct {
	patients    map[string]models.Patient
	medications map[string]models.Medication
	occurrences map[string]models.ScheduleOccurrence
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients:    make(map[string]models.Patient),
		medications: make(map[string]models.Medication),
		occurrences: make(map[string]models.ScheduleOccurrence),
	}
}

func (s *fakeStore) GetOccurrence(_ context.Context, id string) (models.ScheduleOccurrence, error) {
	o, ok := s.occurrences[id]
	if !ok {
		return models.ScheduleOccurrence{}, db.ErrNotFound
	}
	return o, nil
}

func (s *fakeStore) UpdateOccurrence(_ context.Context, o models.ScheduleOccurrence) error {
	if _, ok := s.occurrences[o.ID]; !ok {
		return db.ErrNotFound
	}
	s.occurrences[o.ID] = o
	return nil
}

func (s *fakeStore) GetPatient(_ context.Context, id string) (models.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return models.Patient{}, db.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) GetMedication(_ context.Context, id string) (models.Medication, error) {
	m, ok := s.medications[id]
	if !ok {
		return models.Medication{}, db.ErrNotFound
	}
	return m, nil
}

type sentText struct {
	recipient    string
	text         string
	quickReplies []string
}

type fakeMessenger struct {
	texts []sentText
	err   error
}

func (m *fakeMessenger) SendText(_ context.Context, recipient, text string, quickReplies []string, mediaURL string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.texts = append(m.texts, sentText{recipient: recipient, text: text, quickReplies: quickReplies})
	return fmt.Sprintf("msg-%d", len(m.texts)), nil
}

func (m *fakeMessenger) SendVoiceNote(_ context.Context, recipient, audioURL string) (string, error) {
	return "", errors.New("not used")
}

func (m *fakeMessenger) PlaceVoiceCall(_ context.Context, recipient, promptURL string) (string, error) {
	return "", errors.New("not used")
}

func (m *fakeMessenger) DownloadMedia(_ context.Context, url string) ([]byte, error) {
	return nil, nil
}

type fakeChain struct {
	started []string
	err     error
}

func (c *fakeChain) Start(_ context.Context, occ models.ScheduleOccurrence) error {
	if c.err != nil {
		return c.err
	}
	c.started = append(c.started, occ.ID)
	return nil
}

var baseNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newReminderFixture() (*fakeStore, *fakeMessenger, *fakeChain, *ReminderWorker) {
	store := newFakeStore()
	messenger := &fakeMessenger{}
	chain := &fakeChain{}
	w := NewReminderWorker(store, messenger, chain, logging.NewNop())
	w.Now = func() time.Time { return baseNow }

	store.patients["pat-1"] = models.Patient{
		ID: "pat-1", Name: "Ana", TelegramChatID: 1001,
		Timezone: "UTC", EscalationEnabled: true,
	}
	store.medications["med-1"] = models.Medication{
		ID: "med-1", PatientID: "pat-1", Name: "Metformin", Form: "tablet", Active: true,
	}
	store.occurrences["occ-1"] = models.ScheduleOccurrence{
		ID: "occ-1", PatientID: "pat-1", MedicationID: "med-1",
		ScheduledTime: baseNow,
		Dose:          models.Dose{Amount: 2, Unit: "tablet"},
		Status:        models.OccurrencePending,
	}
	return store, messenger, chain, w
}

func TestReminderWorkerSendsAndMarksSent(t *testing.T) {
	store, messenger, chain, w := newReminderFixture()

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "occ-1"})
	require.NoError(t, err)

	require.Len(t, messenger.texts, 1)
	msg := messenger.texts[0]
	assert.Equal(t, "1001", msg.recipient)
	assert.Contains(t, msg.text, "Metformin")
	assert.Contains(t, msg.text, "2 tablet")
	assert.Equal(t, []string{"Taken", "Snooze 15 min", "Skip"}, msg.quickReplies)

	occ := store.occurrences["occ-1"]
	assert.Equal(t, models.OccurrenceSent, occ.Status)
	require.NotNil(t, occ.SentAt)
	assert.Equal(t, baseNow, *occ.SentAt)
	assert.Equal(t, []string{"occ-1"}, chain.started)
}

func TestReminderWorkerSkipsChainWhenEscalationDisabled(t *testing.T) {
	store, messenger, chain, w := newReminderFixture()
	p := store.patients["pat-1"]
	p.EscalationEnabled = false
	store.patients["pat-1"] = p

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "occ-1"})
	require.NoError(t, err)

	assert.Len(t, messenger.texts, 1)
	assert.Equal(t, models.OccurrenceSent, store.occurrences["occ-1"].Status)
	assert.Empty(t, chain.started)
}

func TestReminderWorkerSkipsNonPendingOccurrence(t *testing.T) {
	tests := []struct {
		name   string
		status models.OccurrenceStatus
	}{
		{"already taken", models.OccurrenceTaken},
		{"paused", models.OccurrencePaused},
		{"already sent", models.OccurrenceSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, messenger, chain, w := newReminderFixture()
			occ := store.occurrences["occ-1"]
			occ.Status = tt.status
			store.occurrences["occ-1"] = occ

			err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "occ-1"})
			require.NoError(t, err)
			assert.Empty(t, messenger.texts)
			assert.Empty(t, chain.started)
			assert.Equal(t, tt.status, store.occurrences["occ-1"].Status)
		})
	}
}

func TestReminderWorkerSnoozeRefireExpectsSnoozed(t *testing.T) {
	store, messenger, _, w := newReminderFixture()
	occ := store.occurrences["occ-1"]
	occ.Status = models.OccurrenceSnoozed
	occ.Snooze.Count = 1
	store.occurrences["occ-1"] = occ

	err := w.Handle(context.Background(), queue.Job{
		Kind: queue.KindReminder, OccurrenceID: "occ-1", SnoozeRefire: true,
	})
	require.NoError(t, err)

	require.Len(t, messenger.texts, 1)
	assert.Contains(t, messenger.texts[0].text, "Snoozed reminder: ")
	assert.Equal(t, models.OccurrenceSent, store.occurrences["occ-1"].Status)
}

func TestReminderWorkerPlainJobSkipsSnoozedOccurrence(t *testing.T) {
	store, messenger, _, w := newReminderFixture()
	occ := store.occurrences["occ-1"]
	occ.Status = models.OccurrenceSnoozed
	store.occurrences["occ-1"] = occ

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "occ-1"})
	require.NoError(t, err)
	assert.Empty(t, messenger.texts)
}

func TestReminderWorkerDropsMissingOccurrence(t *testing.T) {
	_, messenger, _, w := newReminderFixture()

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, messenger.texts)
}

func TestReminderWorkerReturnsSendErrorForRetry(t *testing.T) {
	store, messenger, chain, w := newReminderFixture()
	messenger.err = errors.New("telegram down")

	err := w.Handle(context.Background(), queue.Job{Kind: queue.KindReminder, OccurrenceID: "occ-1"})
	require.Error(t, err)

	assert.Equal(t, models.OccurrencePending, store.occurrences["occ-1"].Status, "failed send leaves status untouched")
	assert.Empty(t, chain.started)
}
