package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ID prefixes keep entity IDs self-describing in logs and payloads.
const (
	patientIDPrefix       = "patient"
	issueIDPrefix         = "issue"
	investigationIDPrefix = "inv"
	taskIDPrefix          = "task"
	wardEntryIDPrefix     = "ward"
	intakeNoteIDPrefix    = "intake"
	sessionIDPrefix       = "sess"
	clinicianIDPrefix     = "clin"
)

func newID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// NewPatientID returns a fresh patient record ID.
func NewPatientID() string { return newID(patientIDPrefix) }

// NewIssueID returns a fresh issue ID.
func NewIssueID() string { return newID(issueIDPrefix) }

// NewInvestigationID returns a fresh investigation ID.
func NewInvestigationID() string { return newID(investigationIDPrefix) }

// NewTaskID returns a fresh task ID.
func NewTaskID() string { return newID(taskIDPrefix) }

// NewWardEntryID returns a fresh ward entry ID.
func NewWardEntryID() string { return newID(wardEntryIDPrefix) }

// NewIntakeNoteID returns a fresh intake note ID.
func NewIntakeNoteID() string { return newID(intakeNoteIDPrefix) }

// NewSessionID returns a fresh persisted session ID.
func NewSessionID() string { return newID(sessionIDPrefix) }

// NewClinicianID returns a fresh clinician ID.
func NewClinicianID() string { return newID(clinicianIDPrefix) }
