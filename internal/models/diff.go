package models

// WardUpdateDiff is the structured delta extracted from one ward-round
// dictation. It is transient: applied against exactly one record, never
// persisted. Added entries arrive without IDs; updated entries must carry the
// ID of the entity they replace.
type WardUpdateDiff struct {
	OneLiner string `json:"oneLiner,omitempty"` // replaces the record one-liner when non-empty

	IssuesAdded   []Issue `json:"issuesAdded,omitempty"`
	IssuesUpdated []Issue `json:"issuesUpdated,omitempty"`

	InvestigationsAdded   []Investigation `json:"investigationsAdded,omitempty"`
	InvestigationsUpdated []Investigation `json:"investigationsUpdated,omitempty"`

	TasksAdded   []Task `json:"tasksAdded,omitempty"`
	TasksUpdated []Task `json:"tasksUpdated,omitempty"`

	TasksCompletedByID   []string `json:"tasksCompletedById,omitempty"`
	TasksCompletedByText []string `json:"tasksCompletedByText,omitempty"`

	Summary string `json:"summary,omitempty"` // human summary recorded on the ward entry
}

// Empty reports whether the diff carries no changes at all.
func (d WardUpdateDiff) Empty() bool {
	return d.OneLiner == "" &&
		len(d.IssuesAdded) == 0 && len(d.IssuesUpdated) == 0 &&
		len(d.InvestigationsAdded) == 0 && len(d.InvestigationsUpdated) == 0 &&
		len(d.TasksAdded) == 0 && len(d.TasksUpdated) == 0 &&
		len(d.TasksCompletedByID) == 0 && len(d.TasksCompletedByText) == 0
}

// AppliedSummary reports what one ApplyWardUpdate call actually did.
type AppliedSummary struct {
	IssuesAdded           int `json:"issuesAdded"`
	IssuesUpdated         int `json:"issuesUpdated"`
	InvestigationsAdded   int `json:"investigationsAdded"`
	InvestigationsUpdated int `json:"investigationsUpdated"`
	TasksAdded            int `json:"tasksAdded"`
	TasksUpdated          int `json:"tasksUpdated"`
	TasksCompleted        int `json:"tasksCompleted"`
	UpdatesDropped        int `json:"updatesDropped"` // *Updated entries whose ID matched nothing
	OneLinerChanged       bool `json:"oneLinerChanged"`
}

// Total returns the number of effective changes in the summary.
func (s AppliedSummary) Total() int {
	n := s.IssuesAdded + s.IssuesUpdated +
		s.InvestigationsAdded + s.InvestigationsUpdated +
		s.TasksAdded + s.TasksUpdated + s.TasksCompleted
	if s.OneLinerChanged {
		n++
	}
	return n
}
