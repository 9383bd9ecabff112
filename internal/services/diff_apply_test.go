package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	"rounds/internal/models"
)

func wardTestRecord() models.PatientRecord {
	created := time.Date(2026, 3, 9, 7, 30, 0, 0, time.UTC)
	return models.PatientRecord{
		ID:            "patient-ward-1",
		Name:          "Marta Kovac",
		Ward:          "Cabrini",
		Status:        models.PatientStatusActive,
		OneLiner:      "68F day 3 post CABG",
		CreatedAt:     created,
		LastUpdatedAt: created,
		Issues: []models.Issue{
			{ID: "issue-1", Title: "AF with RVR", Status: models.IssueStatusOpen, CreatedAt: created, UpdatedAt: created},
		},
		Investigations: []models.Investigation{
			{ID: "inv-1", Name: "CRP", Status: models.InvestigationStatusOpen, CreatedAt: created, UpdatedAt: created},
		},
		Tasks: []models.Task{
			{ID: "task-1", Text: "Chase echo report", Status: models.TaskStatusOpen, CreatedAt: created},
			{ID: "task-2", Text: "Wean oxygen", Status: models.TaskStatusOpen, CreatedAt: created},
		},
	}
}

func TestApplyWardUpdate_EmptyDiffPreservesEverythingButAudit(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	out, sum := ApplyWardUpdate(rec, models.WardUpdateDiff{}, "nil round", now)

	if sum.Total() != 0 {
		t.Errorf("Expected no effective changes, got %+v", sum)
	}
	if !out.LastUpdatedAt.Equal(now) {
		t.Errorf("Expected lastUpdatedAt bumped to %v, got %v", now, out.LastUpdatedAt)
	}
	if len(out.WardEntries) != 1 {
		t.Fatalf("Expected 1 ward entry, got %d", len(out.WardEntries))
	}
	if out.WardEntries[0].Transcript != "nil round" {
		t.Errorf("Expected transcript on ward entry, got %q", out.WardEntries[0].Transcript)
	}

	// Everything else must be untouched
	out.WardEntries = nil
	out.LastUpdatedAt = rec.LastUpdatedAt
	if !PatientSetsEqual([]models.PatientRecord{rec}, []models.PatientRecord{out}) {
		t.Error("Expected record otherwise unchanged by empty diff")
	}
}

func TestApplyWardUpdate_DoesNotMutateInput(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	diff := models.WardUpdateDiff{
		OneLiner:    "68F day 5 post CABG, improving",
		IssuesAdded: []models.Issue{{Title: "Hospital acquired pneumonia"}},
		IssuesUpdated: []models.Issue{
			{ID: "issue-1", Title: "AF rate controlled", Status: models.IssueStatusResolved},
		},
		TasksCompletedByID: []string{"task-1"},
	}

	_, _ = ApplyWardUpdate(rec, diff, "round", now)

	if rec.OneLiner != "68F day 3 post CABG" {
		t.Errorf("Input one-liner mutated: %q", rec.OneLiner)
	}
	if len(rec.Issues) != 1 || rec.Issues[0].Title != "AF with RVR" {
		t.Errorf("Input issues mutated: %+v", rec.Issues)
	}
	if rec.Tasks[0].Status != models.TaskStatusOpen {
		t.Errorf("Input task mutated: %+v", rec.Tasks[0])
	}
	if len(rec.WardEntries) != 0 {
		t.Errorf("Input ward entries mutated: %+v", rec.WardEntries)
	}
}

func TestApplyWardUpdate_AdditionsGetFreshIDs(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	diff := models.WardUpdateDiff{
		IssuesAdded:         []models.Issue{{ID: "issue-should-be-replaced", Title: "New issue"}},
		InvestigationsAdded: []models.Investigation{{Name: "Troponin"}},
		TasksAdded:          []models.Task{{Text: "Book CT chest"}},
	}

	out, sum := ApplyWardUpdate(rec, diff, "round", now)

	if sum.IssuesAdded != 1 || sum.InvestigationsAdded != 1 || sum.TasksAdded != 1 {
		t.Fatalf("Unexpected summary: %+v", sum)
	}

	added := out.Issues[len(out.Issues)-1]
	if added.ID == "issue-should-be-replaced" || !strings.HasPrefix(added.ID, "issue-") {
		t.Errorf("Expected fresh issue ID, got %q", added.ID)
	}
	if added.Status != models.IssueStatusOpen {
		t.Errorf("Expected default open status, got %q", added.Status)
	}
	if !added.CreatedAt.Equal(now) || !added.UpdatedAt.Equal(now) {
		t.Errorf("Expected timestamps set to now, got %+v", added)
	}

	task := out.Tasks[len(out.Tasks)-1]
	if !strings.HasPrefix(task.ID, "task-") || task.Status != models.TaskStatusOpen {
		t.Errorf("Unexpected added task: %+v", task)
	}
}

func TestApplyWardUpdate_UpdatesReplaceByID(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	diff := models.WardUpdateDiff{
		IssuesUpdated: []models.Issue{
			{ID: "issue-1", Title: "AF rate controlled on amiodarone", Status: models.IssueStatusResolved, Subpoints: []string{"TSH pending"}},
		},
		InvestigationsUpdated: []models.Investigation{
			{ID: "inv-1", Name: "CRP", Status: models.InvestigationStatusDone, Summary: "Trending down 180 -> 92"},
		},
	}

	out, sum := ApplyWardUpdate(rec, diff, "round", now)

	if sum.IssuesUpdated != 1 || sum.InvestigationsUpdated != 1 || sum.UpdatesDropped != 0 {
		t.Fatalf("Unexpected summary: %+v", sum)
	}

	issue := out.Issues[0]
	if issue.Title != "AF rate controlled on amiodarone" || issue.Status != models.IssueStatusResolved {
		t.Errorf("Issue not replaced: %+v", issue)
	}
	if len(issue.Subpoints) != 1 || issue.Subpoints[0] != "TSH pending" {
		t.Errorf("Subpoints not replaced: %+v", issue.Subpoints)
	}
	if !issue.CreatedAt.Equal(rec.Issues[0].CreatedAt) {
		t.Errorf("CreatedAt must survive update, got %v", issue.CreatedAt)
	}
	if !issue.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt not bumped, got %v", issue.UpdatedAt)
	}

	inv := out.Investigations[0]
	if inv.Status != models.InvestigationStatusDone || inv.Summary != "Trending down 180 -> 92" {
		t.Errorf("Investigation not replaced: %+v", inv)
	}
}

func TestApplyWardUpdate_UnmatchedUpdatesDropped(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	diff := models.WardUpdateDiff{
		IssuesUpdated: []models.Issue{{ID: "issue-unknown", Title: "Ghost"}},
		TasksUpdated:  []models.Task{{ID: "task-unknown", Text: "Ghost"}},
	}

	out, sum := ApplyWardUpdate(rec, diff, "round", now)

	if sum.UpdatesDropped != 2 {
		t.Errorf("Expected 2 dropped updates, got %d", sum.UpdatesDropped)
	}
	// Dropped updates must never be appended as new entities
	if len(out.Issues) != len(rec.Issues) || len(out.Tasks) != len(rec.Tasks) {
		t.Errorf("Dropped update was appended: issues=%d tasks=%d", len(out.Issues), len(out.Tasks))
	}
}

func TestApplyWardUpdate_CompleteByID(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	out, sum := ApplyWardUpdate(rec, models.WardUpdateDiff{
		TasksCompletedByID: []string{"task-1"},
	}, "round", now)

	if sum.TasksCompleted != 1 {
		t.Fatalf("Expected 1 completion, got %+v", sum)
	}
	if out.Tasks[0].Status != models.TaskStatusDone {
		t.Errorf("Task not completed: %+v", out.Tasks[0])
	}
	if out.Tasks[0].CompletedAt == nil || !out.Tasks[0].CompletedAt.Equal(now) {
		t.Errorf("CompletedAt not set: %+v", out.Tasks[0])
	}

	// Completing an already-done task is a no-op, not a second completion
	again, sum2 := ApplyWardUpdate(out, models.WardUpdateDiff{
		TasksCompletedByID: []string{"task-1"},
	}, "round", now.Add(time.Hour))
	if sum2.TasksCompleted != 0 {
		t.Errorf("Expected idempotent completion, got %+v", sum2)
	}
	if !again.Tasks[0].CompletedAt.Equal(now) {
		t.Errorf("CompletedAt must not move on repeat, got %v", again.Tasks[0].CompletedAt)
	}
}

func TestApplyWardUpdate_CompleteByText(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		phrase     string
		wantTaskID string
	}{
		{"exact normalized match", "chase ECHO report", "task-1"},
		{"containment fallback", "echo report", "task-1"},
		{"task text inside phrase", "please wean oxygen overnight", "task-2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := wardTestRecord()
			out, sum := ApplyWardUpdate(rec, models.WardUpdateDiff{
				TasksCompletedByText: []string{tt.phrase},
			}, "round", now)

			if sum.TasksCompleted != 1 {
				t.Fatalf("Expected 1 completion for %q, got %+v", tt.phrase, sum)
			}
			idx := -1
			for i, task := range out.Tasks {
				if task.ID == tt.wantTaskID {
					idx = i
				}
			}
			if idx < 0 || out.Tasks[idx].Status != models.TaskStatusDone {
				t.Errorf("Expected %s completed, tasks: %+v", tt.wantTaskID, out.Tasks)
			}
		})
	}
}

func TestApplyWardUpdate_CompleteByTextPrefersExactMatch(t *testing.T) {
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	rec := wardTestRecord()
	rec.Tasks = []models.Task{
		{ID: "task-a", Text: "Chase CT report today", Status: models.TaskStatusOpen},
		{ID: "task-b", Text: "Chase CT", Status: models.TaskStatusOpen},
	}

	out, _ := ApplyWardUpdate(rec, models.WardUpdateDiff{
		TasksCompletedByText: []string{"chase ct"},
	}, "round", now)

	if out.Tasks[1].Status != models.TaskStatusDone {
		t.Errorf("Expected exact match task-b completed, tasks: %+v", out.Tasks)
	}
	if out.Tasks[0].Status != models.TaskStatusOpen {
		t.Errorf("Expected containment candidate task-a untouched, tasks: %+v", out.Tasks)
	}
}

func TestApplyWardUpdate_UnmatchedCompletionDropped(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	_, sum := ApplyWardUpdate(rec, models.WardUpdateDiff{
		TasksCompletedByID:   []string{"task-unknown"},
		TasksCompletedByText: []string{"no such task anywhere"},
	}, "round", now)

	if sum.TasksCompleted != 0 || sum.UpdatesDropped != 2 {
		t.Errorf("Expected both completions dropped, got %+v", sum)
	}
}

func TestApplyWardUpdate_WardEntrySummary(t *testing.T) {
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	// Explicit summary wins
	out, _ := ApplyWardUpdate(rec, models.WardUpdateDiff{Summary: "Quiet round"}, "t", now)
	if out.WardEntries[0].Summary != "Quiet round" {
		t.Errorf("Expected explicit summary, got %q", out.WardEntries[0].Summary)
	}

	// Composed summary mentions what happened
	out2, _ := ApplyWardUpdate(rec, models.WardUpdateDiff{
		TasksAdded: []models.Task{{Text: "Repeat CXR"}},
	}, "t", now)
	if !strings.Contains(out2.WardEntries[0].Summary, "1 tasks added") {
		t.Errorf("Expected composed summary, got %q", out2.WardEntries[0].Summary)
	}
}

func TestUndoManager_RoundTrip(t *testing.T) {
	undo := NewUndoManager()
	rec := wardTestRecord()
	now := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

	undo.Snapshot(rec)
	applied, _ := ApplyWardUpdate(rec, models.WardUpdateDiff{
		TasksCompletedByID: []string{"task-1"},
	}, "round", now)
	if applied.Tasks[0].Status != models.TaskStatusDone {
		t.Fatal("Setup: task should be completed")
	}

	restored, err := undo.Undo(rec.ID)
	if err != nil {
		t.Fatalf("Failed to undo: %v", err)
	}
	if !PatientSetsEqual([]models.PatientRecord{rec}, []models.PatientRecord{restored}) {
		t.Error("Undo must return the pre-apply record")
	}

	// One level only
	if _, err := undo.Undo(rec.ID); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo on second undo, got %v", err)
	}
}

func TestUndoManager_SnapshotIsIsolatedFromCaller(t *testing.T) {
	undo := NewUndoManager()
	rec := wardTestRecord()

	undo.Snapshot(rec)
	rec.Tasks[0].Status = models.TaskStatusDone
	rec.OneLiner = "mutated after snapshot"

	restored, err := undo.Undo(rec.ID)
	if err != nil {
		t.Fatalf("Failed to undo: %v", err)
	}
	if restored.Tasks[0].Status != models.TaskStatusOpen {
		t.Errorf("Snapshot shares task state with caller: %+v", restored.Tasks[0])
	}
	if restored.OneLiner == "mutated after snapshot" {
		t.Error("Snapshot shares one-liner with caller")
	}
}

func TestUndoManager_UnknownRecord(t *testing.T) {
	undo := NewUndoManager()
	if _, err := undo.Undo("patient-never-seen"); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("Expected ErrNothingToUndo, got %v", err)
	}
	if undo.HasSnapshot("patient-never-seen") {
		t.Error("Expected no snapshot")
	}
}
