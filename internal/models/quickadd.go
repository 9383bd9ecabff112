package models

import (
	"strings"
	"time"
)

// DefaultWard is assumed when a quick-add arrives without one.
const DefaultWard = "Cabrini"

// NewQuickAddPatient builds the minimal record a bedside quick-add produces.
// The scratchpad text, when present, becomes the first intake note. Client
// and daemon share this constructor so both creation paths emit the same
// shape.
func NewQuickAddPatient(name, scratchpad, ward string, now time.Time) PatientRecord {
	ward = strings.TrimSpace(ward)
	if ward == "" {
		ward = DefaultWard
	}

	record := PatientRecord{
		ID:             NewPatientID(),
		Name:           strings.TrimSpace(name),
		Ward:           ward,
		Status:         PatientStatusActive,
		Issues:         []Issue{},
		Investigations: []Investigation{},
		Tasks:          []Task{},
		WardEntries:    []WardEntry{},
		CreatedAt:      now,
		LastUpdatedAt:  now,
	}

	if text := strings.TrimSpace(scratchpad); text != "" {
		record.IntakeNotes = []IntakeNote{{
			ID:        NewIntakeNoteID(),
			Timestamp: now,
			Text:      text,
		}}
	}
	return record
}
