package services

import (
	"fmt"
	"log"
	"strings"
	"time"

	"rounds/internal/models"
)

// ApplyWardUpdate folds one dictated ward-round diff into a record. The input
// record is never mutated; the returned record carries every applied change,
// an appended ward entry, and a bumped lastUpdatedAt. Deterministic and
// order-preserving: existing entities stay in place, additions append in diff
// order.
func ApplyWardUpdate(record models.PatientRecord, diff models.WardUpdateDiff, transcript string, now time.Time) (models.PatientRecord, models.AppliedSummary) {
	rec := record.Clone()
	var sum models.AppliedSummary

	if diff.OneLiner != "" && diff.OneLiner != rec.OneLiner {
		rec.OneLiner = diff.OneLiner
		sum.OneLinerChanged = true
	}

	// Additions get fresh IDs so a replayed diff can never collide
	for _, add := range diff.IssuesAdded {
		issue := add.Clone()
		issue.ID = models.NewIssueID()
		if issue.Status == "" {
			issue.Status = models.IssueStatusOpen
		}
		issue.CreatedAt = now
		issue.UpdatedAt = now
		rec.Issues = append(rec.Issues, issue)
		sum.IssuesAdded++
	}

	for _, upd := range diff.IssuesUpdated {
		idx := findIssue(rec.Issues, upd.ID)
		if idx < 0 {
			log.Printf("⚠️  [WARD] Dropping update for unknown issue %s on %s", upd.ID, rec.ID)
			sum.UpdatesDropped++
			continue
		}
		existing := &rec.Issues[idx]
		existing.Title = upd.Title
		existing.Status = upd.Status
		existing.Subpoints = append([]string(nil), upd.Subpoints...)
		existing.UpdatedAt = now
		sum.IssuesUpdated++
	}

	for _, add := range diff.InvestigationsAdded {
		inv := add.Clone()
		inv.ID = models.NewInvestigationID()
		if inv.Status == "" {
			inv.Status = models.InvestigationStatusOpen
		}
		inv.CreatedAt = now
		inv.UpdatedAt = now
		rec.Investigations = append(rec.Investigations, inv)
		sum.InvestigationsAdded++
	}

	for _, upd := range diff.InvestigationsUpdated {
		idx := findInvestigation(rec.Investigations, upd.ID)
		if idx < 0 {
			log.Printf("⚠️  [WARD] Dropping update for unknown investigation %s on %s", upd.ID, rec.ID)
			sum.UpdatesDropped++
			continue
		}
		existing := &rec.Investigations[idx]
		existing.Name = upd.Name
		existing.Status = upd.Status
		existing.Summary = upd.Summary
		existing.Series = append([]models.SeriesPoint(nil), upd.Series...)
		existing.UpdatedAt = now
		sum.InvestigationsUpdated++
	}

	for _, add := range diff.TasksAdded {
		task := add.Clone()
		task.ID = models.NewTaskID()
		if task.Status == "" {
			task.Status = models.TaskStatusOpen
		}
		task.CreatedAt = now
		task.CompletedAt = nil
		rec.Tasks = append(rec.Tasks, task)
		sum.TasksAdded++
	}

	for _, upd := range diff.TasksUpdated {
		idx := findTask(rec.Tasks, upd.ID)
		if idx < 0 {
			log.Printf("⚠️  [WARD] Dropping update for unknown task %s on %s", upd.ID, rec.ID)
			sum.UpdatesDropped++
			continue
		}
		existing := &rec.Tasks[idx]
		existing.Text = upd.Text
		if upd.Status != "" && upd.Status != existing.Status {
			setTaskStatus(existing, upd.Status, now)
		}
		sum.TasksUpdated++
	}

	for _, id := range diff.TasksCompletedByID {
		idx := findTask(rec.Tasks, id)
		if idx < 0 {
			log.Printf("⚠️  [WARD] Dropping completion for unknown task %s on %s", id, rec.ID)
			sum.UpdatesDropped++
			continue
		}
		if rec.Tasks[idx].Status != models.TaskStatusDone {
			setTaskStatus(&rec.Tasks[idx], models.TaskStatusDone, now)
			sum.TasksCompleted++
		}
	}

	for _, phrase := range diff.TasksCompletedByText {
		idx := matchTaskByText(rec.Tasks, phrase)
		if idx < 0 {
			log.Printf("⚠️  [WARD] No open task matches completion text %q on %s", phrase, rec.ID)
			sum.UpdatesDropped++
			continue
		}
		setTaskStatus(&rec.Tasks[idx], models.TaskStatusDone, now)
		sum.TasksCompleted++
	}

	entry := models.WardEntry{
		ID:         models.NewWardEntryID(),
		Timestamp:  now,
		Transcript: transcript,
		Summary:    diff.Summary,
	}
	if entry.Summary == "" {
		entry.Summary = describeSummary(sum)
	}
	rec.WardEntries = append(rec.WardEntries, entry)
	rec.LastUpdatedAt = now

	return rec, sum
}

func findIssue(issues []models.Issue, id string) int {
	for i := range issues {
		if issues[i].ID == id {
			return i
		}
	}
	return -1
}

func findInvestigation(invs []models.Investigation, id string) int {
	for i := range invs {
		if invs[i].ID == id {
			return i
		}
	}
	return -1
}

func findTask(tasks []models.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func setTaskStatus(t *models.Task, status string, now time.Time) {
	t.Status = status
	if status == models.TaskStatusDone {
		done := now
		t.CompletedAt = &done
	} else {
		t.CompletedAt = nil
	}
}

// matchTaskByText finds the open task a completion phrase refers to: exact
// normalized match first, then containment either way. First match in task
// order wins.
func matchTaskByText(tasks []models.Task, phrase string) int {
	want := normalizeTaskText(phrase)
	if want == "" {
		return -1
	}
	for i := range tasks {
		if tasks[i].Status != models.TaskStatusOpen {
			continue
		}
		if normalizeTaskText(tasks[i].Text) == want {
			return i
		}
	}
	for i := range tasks {
		if tasks[i].Status != models.TaskStatusOpen {
			continue
		}
		have := normalizeTaskText(tasks[i].Text)
		if strings.Contains(have, want) || strings.Contains(want, have) {
			return i
		}
	}
	return -1
}

// normalizeTaskText lowercases and collapses whitespace so dictated phrasing
// lines up with typed task text.
func normalizeTaskText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func describeSummary(s models.AppliedSummary) string {
	var parts []string
	appendPart := func(n int, noun string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, noun))
		}
	}
	appendPart(s.IssuesAdded, "issues added")
	appendPart(s.IssuesUpdated, "issues updated")
	appendPart(s.InvestigationsAdded, "investigations added")
	appendPart(s.InvestigationsUpdated, "investigations updated")
	appendPart(s.TasksAdded, "tasks added")
	appendPart(s.TasksUpdated, "tasks updated")
	appendPart(s.TasksCompleted, "tasks completed")
	if s.OneLinerChanged {
		parts = append(parts, "one-liner updated")
	}
	if len(parts) == 0 {
		return "Ward round reviewed, no changes"
	}
	return "Ward round: " + strings.Join(parts, ", ")
}
