package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reminder-service/internal/models"
	"reminder-service/internal/queue"
)

func seedOccurrence(store *fakeStore, id string, status models.OccurrenceStatus, at time.Time) models.ScheduleOccurrence {
	occ := models.ScheduleOccurrence{
		ID: id, PatientID: "pat-1", MedicationID: "med-1",
		ScheduledTime: at,
		Dose:          models.Dose{Amount: 1, Unit: "tablet"},
		Status:        status,
	}
	store.occurrences[id] = occ
	return occ
}

func TestSnoozeDefersOccurrence(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))

	until, err := svc.Snooze(context.Background(), "occ-1", 20)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.Equal(t, baseNow.Add(20*time.Minute), *until)

	occ := store.occurrences["occ-1"]
	assert.Equal(t, models.OccurrenceSnoozed, occ.Status)
	assert.Equal(t, 1, occ.Snooze.Count)
	require.NotNil(t, occ.Snooze.Until)
	assert.Equal(t, *until, *occ.Snooze.Until)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].SnoozeRefire)
	assert.Equal(t, *until, pending[0].RunAt)
}

func TestSnoozeDefaultsMinutes(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-time.Minute))

	until, err := svc.Snooze(context.Background(), "occ-1", 0)
	require.NoError(t, err)
	require.NotNil(t, until)
	assert.Equal(t, baseNow.Add(15*time.Minute), *until)
}

func TestSnoozeMissingOccurrenceIsNoOp(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)

	until, err := svc.Snooze(context.Background(), "ghost", 15)
	require.NoError(t, err)
	assert.Nil(t, until)
	assert.Empty(t, q.Pending())
}

func TestPauseCancelsPendingOccurrences(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)
	for _, id := range []string{"occ-1", "occ-2"} {
		occ := seedOccurrence(store, id, models.OccurrencePending, baseNow.Add(time.Hour))
		_, err := svc.AddReminder(context.Background(), occ, occ.ScheduledTime, false)
		require.NoError(t, err)
	}
	seedOccurrence(store, "occ-3", models.OccurrenceSent, baseNow.Add(-time.Hour))

	paused, err := svc.Pause(context.Background(), "med-1")
	require.NoError(t, err)
	assert.Equal(t, 2, paused)

	assert.Equal(t, models.OccurrencePaused, store.occurrences["occ-1"].Status)
	assert.Equal(t, models.OccurrencePaused, store.occurrences["occ-2"].Status)
	assert.Equal(t, models.OccurrenceSent, store.occurrences["occ-3"].Status, "sent occurrence is untouched")
	assert.Empty(t, q.Pending())
}

func TestResumeRestoresOnlyFutureOccurrences(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)
	seedOccurrence(store, "occ-past", models.OccurrencePaused, baseNow.Add(-time.Hour))
	seedOccurrence(store, "occ-future", models.OccurrencePaused, baseNow.Add(2*time.Hour))

	resumed, err := svc.Resume(context.Background(), "med-1")
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	assert.Equal(t, models.OccurrencePaused, store.occurrences["occ-past"].Status)
	assert.Equal(t, models.OccurrencePending, store.occurrences["occ-future"].Status)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "occ-future", pending[0].OccurrenceID)
	assert.Equal(t, baseNow.Add(2*time.Hour), pending[0].RunAt)
}

func TestRescheduleReplacesQueuedReminder(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)
	t1 := baseNow.Add(time.Hour)
	t2 := baseNow.Add(3 * time.Hour)
	occ := seedOccurrence(store, "occ-1", models.OccurrencePending, t1)
	_, err := svc.AddReminder(context.Background(), occ, t1, false)
	require.NoError(t, err)

	require.NoError(t, svc.Reschedule(context.Background(), "occ-1", t2))

	assert.Equal(t, t2, store.occurrences["occ-1"].ScheduledTime)
	pending := q.Pending()
	require.Len(t, pending, 1, "exactly one reminder remains after reschedule")
	assert.Equal(t, t2, pending[0].RunAt)
}

func TestRescheduleMissingOccurrenceFails(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	err := svc.Reschedule(context.Background(), "ghost", baseNow.Add(time.Hour))
	assert.Error(t, err)
}

func TestRescheduleSnoozedOccurrenceReturnsToPending(t *testing.T) {
	store := newFakeStore()
	svc, q, _ := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))
	_, err := svc.Snooze(context.Background(), "occ-1", 15)
	require.NoError(t, err)

	t2 := baseNow.Add(2 * time.Hour)
	require.NoError(t, svc.Reschedule(context.Background(), "occ-1", t2))

	occ := store.occurrences["occ-1"]
	assert.Equal(t, models.OccurrencePending, occ.Status)
	assert.Nil(t, occ.Snooze.Until)
	assert.Equal(t, 1, occ.Snooze.Count, "snooze history is kept")

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, t2, pending[0].RunAt)
	assert.False(t, pending[0].SnoozeRefire)
}

func TestRescheduleRejectsNonPendingStatuses(t *testing.T) {
	statuses := []models.OccurrenceStatus{
		models.OccurrenceSent,
		models.OccurrenceTaken,
		models.OccurrenceSkipped,
		models.OccurrenceMissed,
		models.OccurrencePaused,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			store := newFakeStore()
			svc, q, _ := newTestService(store)
			seedOccurrence(store, "occ-1", status, baseNow.Add(-time.Hour))

			err := svc.Reschedule(context.Background(), "occ-1", baseNow.Add(time.Hour))
			assert.ErrorIs(t, err, ErrNotReschedulable)
			assert.Equal(t, status, store.occurrences["occ-1"].Status)
			assert.Empty(t, q.Pending(), "no reminder is queued for a rejected reschedule")
		})
	}
}

func TestApplyResponseTaken(t *testing.T) {
	store := newFakeStore()
	svc, _, chain := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))

	require.NoError(t, svc.ApplyResponse(context.Background(), "occ-1", "taken", "telegram"))

	occ := store.occurrences["occ-1"]
	assert.Equal(t, models.OccurrenceTaken, occ.Status)
	require.NotNil(t, occ.Response)
	assert.Equal(t, "taken", occ.Response.Action)
	assert.Equal(t, "telegram", occ.Response.Channel)
	assert.Equal(t, []string{"occ-1"}, chain.cancelled)
}

func TestApplyResponseSkip(t *testing.T) {
	store := newFakeStore()
	svc, _, chain := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))

	require.NoError(t, svc.ApplyResponse(context.Background(), "occ-1", "skip", "api"))
	assert.Equal(t, models.OccurrenceSkipped, store.occurrences["occ-1"].Status)
	assert.Equal(t, []string{"occ-1"}, chain.cancelled)
}

func TestApplyResponseSnoozeQueuesRefire(t *testing.T) {
	store := newFakeStore()
	svc, q, chain := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))

	require.NoError(t, svc.ApplyResponse(context.Background(), "occ-1", "snooze", "telegram"))

	occ := store.occurrences["occ-1"]
	assert.Equal(t, models.OccurrenceSnoozed, occ.Status)
	assert.Equal(t, 1, occ.Snooze.Count)
	assert.Equal(t, []string{"occ-1"}, chain.cancelled)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].SnoozeRefire)
	assert.Equal(t, baseNow.Add(15*time.Minute), pending[0].RunAt)
}

func TestApplyResponseOnTerminalOccurrenceIsNoOp(t *testing.T) {
	store := newFakeStore()
	svc, _, chain := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceTaken, baseNow.Add(-10*time.Minute))

	require.NoError(t, svc.ApplyResponse(context.Background(), "occ-1", "skip", "api"))
	assert.Equal(t, models.OccurrenceTaken, store.occurrences["occ-1"].Status)
	assert.Empty(t, chain.cancelled)
}

func TestApplyResponseUnknownAction(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	seedOccurrence(store, "occ-1", models.OccurrenceSent, baseNow.Add(-10*time.Minute))

	err := svc.ApplyResponse(context.Background(), "occ-1", "maybe-later", "telegram")
	assert.Error(t, err)
}

var _ queue.Queue = (*queue.MemoryQueue)(nil)
