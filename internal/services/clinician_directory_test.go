package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rounds/internal/models"
	"rounds/internal/storage"
)

func TestClinicianDirectory_UpsertAssignsIdentity(t *testing.T) {
	d := NewClinicianDirectory(storage.NewMemoryKV(0))

	c, err := d.Upsert(context.Background(), models.Clinician{Name: "  Sarah Chen ", Role: "registrar"})
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	if !strings.HasPrefix(c.ID, "clin-") {
		t.Errorf("Expected generated clinician ID, got %q", c.ID)
	}
	if c.Name != "Sarah Chen" {
		t.Errorf("Expected trimmed name, got %q", c.Name)
	}
	if c.Initials != "SC" {
		t.Errorf("Expected derived initials SC, got %q", c.Initials)
	}

	if _, err := d.Upsert(context.Background(), models.Clinician{Name: "   "}); err == nil {
		t.Error("Expected blank name rejected")
	}
}

func TestClinicianDirectory_UpsertReplacesByID(t *testing.T) {
	d := NewClinicianDirectory(storage.NewMemoryKV(0))

	c, err := d.Upsert(context.Background(), models.Clinician{Name: "Sarah Chen"})
	if err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}
	c.Role = "consultant"
	if _, err := d.Upsert(context.Background(), c); err != nil {
		t.Fatalf("Failed to re-upsert: %v", err)
	}

	roster, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("Expected 1 roster entry, got %d", len(roster))
	}
	if roster[0].Role != "consultant" {
		t.Errorf("Expected role replaced, got %q", roster[0].Role)
	}
}

func TestClinicianDirectory_RosterSurvivesRestart(t *testing.T) {
	kv := storage.NewMemoryKV(0)
	d := NewClinicianDirectory(kv)
	if _, err := d.Upsert(context.Background(), models.Clinician{Name: "Sarah Chen"}); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	reopened := NewClinicianDirectory(kv)
	roster, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("Failed to list after reopen: %v", err)
	}
	if len(roster) != 1 || roster[0].Name != "Sarah Chen" {
		t.Errorf("Expected persisted roster, got %+v", roster)
	}
}

func TestClinicianDirectory_ResolveFiltersDanglingIDs(t *testing.T) {
	d := NewClinicianDirectory(storage.NewMemoryKV(0))

	a, _ := d.Upsert(context.Background(), models.Clinician{Name: "Sarah Chen"})
	b, _ := d.Upsert(context.Background(), models.Clinician{Name: "Tom Riley"})

	resolved, err := d.Resolve(context.Background(), []string{b.ID, "clin-gone", a.ID})
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("Expected dangling ID dropped, got %d entries", len(resolved))
	}
	// Output order follows the requested IDs
	if resolved[0].ID != b.ID || resolved[1].ID != a.ID {
		t.Errorf("Expected input-ordered resolution, got %+v", resolved)
	}
}

func TestClinicianDirectory_RemoveUnknownID(t *testing.T) {
	d := NewClinicianDirectory(storage.NewMemoryKV(0))

	c, _ := d.Upsert(context.Background(), models.Clinician{Name: "Sarah Chen"})

	if err := d.Remove(context.Background(), "clin-ghost"); !errors.Is(err, ErrClinicianNotFound) {
		t.Errorf("Expected ErrClinicianNotFound, got %v", err)
	}
	if err := d.Remove(context.Background(), c.ID); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}

	roster, _ := d.List(context.Background())
	if len(roster) != 0 {
		t.Errorf("Expected empty roster, got %+v", roster)
	}
}

func TestDeriveInitials(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Sarah Chen", "SC"},
		{"sarah jane chen", "SJC"},
		{"Anna Maria Luisa del Bosco", "AML"},
		{"Plato", "P"},
	}
	for _, tc := range tests {
		if got := deriveInitials(tc.name); got != tc.want {
			t.Errorf("deriveInitials(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
