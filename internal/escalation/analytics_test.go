package escalation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsForPatientAggregates(t *testing.T) {
	f := newFixture(t)
	f.store.byLevel = map[int]int{1: 4, 2: 2, 4: 1}
	f.store.byMedication = map[string]int{"med-1": 5, "med-2": 2}
	f.store.avgResolution = 12.5
	f.store.interventions = 1

	since := baseNow.AddDate(0, 0, -30)
	stats, err := f.svc.StatsForPatient(context.Background(), "pat-1", since)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 12.5, stats.AvgResolutionMinutes)
	assert.Equal(t, 1, stats.CaregiverInterventions)
	assert.Equal(t, since, stats.Since)
}

func TestStatsFlagsFrequentSevereEscalations(t *testing.T) {
	f := newFixture(t)
	f.store.byLevel = map[int]int{4: 2, 5: 1}
	f.store.byMedication = map[string]int{}

	stats, err := f.svc.StatsForPatient(context.Background(), "pat-1", baseNow.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Contains(t, stats.Flags, "frequent_severe_escalations")
}

func TestStatsFlagsMedicationConcentration(t *testing.T) {
	f := newFixture(t)
	f.store.byLevel = map[int]int{1: 6}
	f.store.byMedication = map[string]int{"med-1": 4, "med-2": 2}

	stats, err := f.svc.StatsForPatient(context.Background(), "pat-1", baseNow.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Contains(t, stats.Flags, "escalations_concentrated_on_med-1")
	assert.NotContains(t, stats.Flags, "escalations_concentrated_on_med-2")
}

func TestStatsConcentrationNeedsMinimumSample(t *testing.T) {
	f := newFixture(t)
	f.store.byLevel = map[int]int{1: 2}
	f.store.byMedication = map[string]int{"med-1": 2}

	stats, err := f.svc.StatsForPatient(context.Background(), "pat-1", baseNow.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Empty(t, stats.Flags)
}
