package escalation

import (
	"context"
	"time"
)

// Stats summarizes a patient's escalation history over a window.
type Stats struct {
	PatientID              string         `json:"patient_id"`
	Since                  time.Time      `json:"since"`
	Total                  int            `json:"total"`
	ByLevel                map[int]int    `json:"by_level"`
	ByMedication           map[string]int `json:"by_medication"`
	AvgResolutionMinutes   float64        `json:"avg_resolution_minutes"`
	CaregiverInterventions int            `json:"caregiver_interventions"`
	Flags                  []string       `json:"flags,omitempty"`
}

// severeFlagThreshold is how many level-4+ escalations in the window
// trigger the frequent-severe flag.
const severeFlagThreshold = 3

// concentrationMinSample is the minimum escalation count before the
// single-medication concentration flag can fire.
const concentrationMinSample = 5

// StatsForPatient aggregates escalation counts, resolution timing and
// adherence warning flags for one patient since the given time.
func (s *Service) StatsForPatient(ctx context.Context, patientID string, since time.Time) (Stats, error) {
	byLevel, err := s.store.CountEscalationsByLevel(ctx, patientID, since)
	if err != nil {
		return Stats{}, err
	}
	byMed, err := s.store.CountEscalationsByMedication(ctx, patientID, since)
	if err != nil {
		return Stats{}, err
	}
	avg, err := s.store.AverageResolutionMinutes(ctx, patientID, since)
	if err != nil {
		return Stats{}, err
	}
	interventions, err := s.store.CountCaregiverInterventions(ctx, patientID, since)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		PatientID:              patientID,
		Since:                  since,
		ByLevel:                byLevel,
		ByMedication:           byMed,
		AvgResolutionMinutes:   avg,
		CaregiverInterventions: interventions,
	}
	for _, n := range byLevel {
		stats.Total += n
	}
	stats.Flags = adherenceFlags(stats)

	if len(stats.Flags) > 0 {
		s.logger.Warnf("Adherence flags raised for patient %s: %v", patientID, stats.Flags)
	}
	return stats, nil
}

// adherenceFlags derives warning flags from the aggregated counts.
func adherenceFlags(st Stats) []string {
	var flags []string

	severe := 0
	for level, n := range st.ByLevel {
		if level >= 4 {
			severe += n
		}
	}
	if severe >= severeFlagThreshold {
		flags = append(flags, "frequent_severe_escalations")
	}

	if st.Total >= concentrationMinSample {
		for medID, n := range st.ByMedication {
			if float64(n) > 0.3*float64(st.Total) {
				flags = append(flags, "escalations_concentrated_on_"+medID)
			}
		}
	}
	return flags
}
