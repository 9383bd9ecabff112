package models

import (
	"time"
)

// Patient status values
const (
	PatientStatusActive     = "active"
	PatientStatusDischarged = "discharged"
)

// Issue status values
const (
	IssueStatusOpen     = "open"
	IssueStatusResolved = "resolved"
)

// Investigation status values
const (
	InvestigationStatusOpen = "open"
	InvestigationStatusDone = "done"
)

// Task status values
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// PatientRecord is the canonical unit of merge and persistence. The JSON shape
// is shared verbatim with the rounds daemon, so every consumer sees the same
// camelCase keys.
type PatientRecord struct {
	ID       string `json:"id"`
	MRN      string `json:"mrn,omitempty"` // external medical-record number, optional
	Name     string `json:"name"`
	Bed      string `json:"bed,omitempty"`
	OneLiner string `json:"oneLiner,omitempty"`
	Ward     string `json:"ward,omitempty"`
	Status   string `json:"status"` // "active", "discharged"

	// UI ordering and flags carried through sync untouched
	RoundOrder        *int     `json:"roundOrder,omitempty"`
	HudEnabled        bool     `json:"hudEnabled"`
	MarkedForTeaching bool     `json:"markedForTeaching"`
	Tags              []string `json:"tags,omitempty"`

	IntakeNotes    []IntakeNote    `json:"intakeNotes,omitempty"`
	Issues         []Issue         `json:"issues"`
	Investigations []Investigation `json:"investigations"`
	Tasks          []Task          `json:"tasks"`
	WardEntries    []WardEntry     `json:"wardEntries"` // append-only audit history

	AssignedClinicianIDs []string `json:"assignedClinicianIds,omitempty"` // dangling IDs tolerated, filtered at read

	CreatedAt time.Time `json:"createdAt"`
	// LastUpdatedAt is the sole arbiter of "newness" during a merge. Every
	// mutation that should win a future merge must advance it.
	LastUpdatedAt      time.Time  `json:"lastUpdatedAt"`
	RoundCompletedDate *time.Time `json:"roundCompletedDate,omitempty"`
}

// Issue is an active clinical problem on a record.
type Issue struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"` // "open", "resolved"
	Subpoints []string  `json:"subpoints,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Investigation is an ordered test or result series on a record.
type Investigation struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"` // "open", "done"
	Summary   string        `json:"summary,omitempty"`
	Series    []SeriesPoint `json:"series,omitempty"` // lab values over time
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// SeriesPoint is a single dated value inside an investigation series.
type SeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
}

// Task is an actionable item on a record.
type Task struct {
	ID          string     `json:"id"`
	Text        string     `json:"text"`
	Status      string     `json:"status"` // "open", "done"
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// WardEntry captures one applied ward update for audit history.
type WardEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
	Summary    string    `json:"summary,omitempty"`
}

// IntakeNote is a free-text scratchpad note captured at quick-add time.
type IntakeNote struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Clone returns a deep copy of the record. Stores hand out clones so callers
// can never mutate cached state behind the store's back.
func (p PatientRecord) Clone() PatientRecord {
	cp := p
	if p.RoundOrder != nil {
		v := *p.RoundOrder
		cp.RoundOrder = &v
	}
	if p.RoundCompletedDate != nil {
		v := *p.RoundCompletedDate
		cp.RoundCompletedDate = &v
	}
	cp.Tags = append([]string(nil), p.Tags...)
	cp.AssignedClinicianIDs = append([]string(nil), p.AssignedClinicianIDs...)
	if p.IntakeNotes != nil {
		cp.IntakeNotes = append([]IntakeNote(nil), p.IntakeNotes...)
	}
	if p.Issues != nil {
		cp.Issues = make([]Issue, len(p.Issues))
		for i, is := range p.Issues {
			cp.Issues[i] = is.Clone()
		}
	}
	if p.Investigations != nil {
		cp.Investigations = make([]Investigation, len(p.Investigations))
		for i, inv := range p.Investigations {
			cp.Investigations[i] = inv.Clone()
		}
	}
	if p.Tasks != nil {
		cp.Tasks = make([]Task, len(p.Tasks))
		for i, t := range p.Tasks {
			cp.Tasks[i] = t.Clone()
		}
	}
	if p.WardEntries != nil {
		cp.WardEntries = append([]WardEntry(nil), p.WardEntries...)
	}
	return cp
}

// Clone returns a deep copy of the issue.
func (i Issue) Clone() Issue {
	cp := i
	cp.Subpoints = append([]string(nil), i.Subpoints...)
	return cp
}

// Clone returns a deep copy of the investigation.
func (inv Investigation) Clone() Investigation {
	cp := inv
	cp.Series = append([]SeriesPoint(nil), inv.Series...)
	return cp
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return cp
}

// CloneRecords deep-copies a whole record set.
func CloneRecords(records []PatientRecord) []PatientRecord {
	if records == nil {
		return nil
	}
	out := make([]PatientRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
