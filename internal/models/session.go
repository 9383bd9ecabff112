package models

import "time"

// DictationType classifies what kind of document a dictation session was
// producing. Unknown covers payloads from older clients.
type DictationType string

const (
	DictationClinicLetter    DictationType = "clinic_letter"
	DictationProcedureReport DictationType = "procedure_report"
	DictationEchoReport      DictationType = "echo_report"
	DictationTask            DictationType = "task"
	DictationNote            DictationType = "note"
	DictationUnknown         DictationType = "unknown"
)

// Normalize maps unrecognised values to DictationUnknown.
func (d DictationType) Normalize() DictationType {
	switch d {
	case DictationClinicLetter, DictationProcedureReport, DictationEchoReport,
		DictationTask, DictationNote:
		return d
	default:
		return DictationUnknown
	}
}

// PersistedSession is the compressed projection of a working dictation
// session. Only text survives persistence; audio buffers and rendered
// artefacts are stripped before a session reaches storage.
type PersistedSession struct {
	ID            string        `json:"id"`
	PatientID     string        `json:"patientId,omitempty"`
	PatientName   string        `json:"patientName,omitempty"`
	Ward          string        `json:"ward,omitempty"`
	DictationType DictationType `json:"dictationType"`

	Transcript string `json:"transcript,omitempty"`
	NoteText   string `json:"noteText,omitempty"`

	PersistedAt    time.Time `json:"persistedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	// MarkedCompleteAt set means the clinician checked the session off; the
	// short retention clock runs from this instant.
	MarkedCompleteAt *time.Time `json:"markedCompleteAt,omitempty"`
}

// Checked reports whether the session has been marked complete.
func (s PersistedSession) Checked() bool { return s.MarkedCompleteAt != nil }

// Clone returns a deep copy of the session.
func (s PersistedSession) Clone() PersistedSession {
	cp := s
	if s.MarkedCompleteAt != nil {
		v := *s.MarkedCompleteAt
		cp.MarkedCompleteAt = &v
	}
	return cp
}

// CleanupResult summarises one expiry sweep.
type CleanupResult struct {
	DeletedCount int   `json:"deletedCount"`
	FreedBytes   int64 `json:"freedBytes"`
}

// StorageStats is a point-in-time view of session storage pressure.
type StorageStats struct {
	UsedBytes      int64   `json:"usedBytes"`
	TotalBytes     int64   `json:"totalBytes"`
	UsedPercentage float64 `json:"usedPercentage"`
	SessionCount   int     `json:"sessionCount"`
	// OldestSessionAge is the age of the oldest surviving session, zero when
	// the store is empty.
	OldestSessionAge time.Duration `json:"oldestSessionAgeNs"`
	// ExpiringCount counts sessions within one hour of their deadline.
	ExpiringCount int `json:"expiringCount"`
}
