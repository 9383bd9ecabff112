package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"rounds/internal/models"
	"rounds/internal/services"
	"rounds/internal/storage"

	"github.com/gofiber/fiber/v2"
)

func setupSessionApp(t *testing.T) *fiber.App {
	t.Helper()
	store, err := services.NewSessionStore(storage.NewMemoryKV(0), services.SessionConfig{})
	if err != nil {
		t.Fatalf("Failed to create session store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	app := fiber.New()
	handler := NewSessionHandler(store)
	app.Get("/rounds/sessions", handler.List)
	app.Post("/rounds/sessions", handler.Save)
	app.Post("/rounds/sessions/:id/check", handler.MarkComplete)
	app.Post("/rounds/sessions/:id/uncheck", handler.UnmarkComplete)
	app.Delete("/rounds/sessions/:id", handler.Delete)
	app.Delete("/rounds/sessions", handler.DeleteAll)
	app.Post("/rounds/storage/cleanup", handler.Cleanup)
	app.Get("/rounds/storage/stats", handler.StorageStats)

	return app
}

func saveTestSession(t *testing.T, app *fiber.App, payload string) models.PersistedSession {
	t.Helper()
	req := httptest.NewRequest("POST", "/rounds/sessions", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Session models.PersistedSession `json:"session"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	return result.Session
}

// TestSessionHandler_SaveAndList tests the session round trip
func TestSessionHandler_SaveAndList(t *testing.T) {
	app := setupSessionApp(t)

	saved := saveTestSession(t, app, `{"patientName":"Jo Bloom","dictationType":"clinic_letter","transcript":"seen today"}`)
	if !strings.HasPrefix(saved.ID, "sess-") {
		t.Errorf("Expected generated session ID, got %q", saved.ID)
	}
	if saved.DictationType != models.DictationClinicLetter {
		t.Errorf("Expected dictation type preserved, got %q", saved.DictationType)
	}

	req := httptest.NewRequest("GET", "/rounds/sessions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Sessions []models.PersistedSession `json:"sessions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(result.Sessions) != 1 || result.Sessions[0].ID != saved.ID {
		t.Errorf("Expected the saved session back, got %+v", result.Sessions)
	}
}

// TestSessionHandler_CheckLifecycle tests mark/unmark over HTTP
func TestSessionHandler_CheckLifecycle(t *testing.T) {
	app := setupSessionApp(t)
	saved := saveTestSession(t, app, `{"patientName":"Jo Bloom","dictationType":"note"}`)

	req := httptest.NewRequest("POST", fmt.Sprintf("/rounds/sessions/%s/check", saved.ID), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	listReq := httptest.NewRequest("GET", "/rounds/sessions", nil)
	listResp, _ := app.Test(listReq)
	defer listResp.Body.Close()
	body, _ := io.ReadAll(listResp.Body)
	var result struct {
		Sessions []models.PersistedSession `json:"sessions"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(result.Sessions) != 1 || !result.Sessions[0].Checked() {
		t.Errorf("Expected session checked, got %+v", result.Sessions)
	}

	uncheckReq := httptest.NewRequest("POST", fmt.Sprintf("/rounds/sessions/%s/uncheck", saved.ID), nil)
	uncheckResp, err := app.Test(uncheckReq)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	uncheckResp.Body.Close()
	if uncheckResp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected status 200, got %d", uncheckResp.StatusCode)
	}
}

// TestSessionHandler_CheckUnknownSession tests the 404 path
func TestSessionHandler_CheckUnknownSession(t *testing.T) {
	app := setupSessionApp(t)

	req := httptest.NewRequest("POST", "/rounds/sessions/sess-ghost/check", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}

// TestSessionHandler_DeleteAll tests clearing the log
func TestSessionHandler_DeleteAll(t *testing.T) {
	app := setupSessionApp(t)
	saveTestSession(t, app, `{"patientName":"Jo Bloom"}`)
	saveTestSession(t, app, `{"patientName":"Max Orr"}`)

	req := httptest.NewRequest("DELETE", "/rounds/sessions", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if result["deleted"] != float64(2) {
		t.Errorf("Expected 2 deletions, got %v", result["deleted"])
	}
}

// TestSessionHandler_StorageStats tests the introspection endpoint shape
func TestSessionHandler_StorageStats(t *testing.T) {
	app := setupSessionApp(t)
	saveTestSession(t, app, `{"patientName":"Jo Bloom","transcript":"long dictation text"}`)

	req := httptest.NewRequest("GET", "/rounds/storage/stats", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var stats models.StorageStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if stats.SessionCount != 1 {
		t.Errorf("Expected 1 session counted, got %d", stats.SessionCount)
	}
	if stats.UsedBytes <= 0 || stats.TotalBytes <= 0 {
		t.Errorf("Expected non-zero usage figures, got %+v", stats)
	}
}

// TestClinicianHandler_RosterFlow tests upsert, resolve and removal
func TestClinicianHandler_RosterFlow(t *testing.T) {
	directory := services.NewClinicianDirectory(storage.NewMemoryKV(0))
	app := fiber.New()
	handler := NewClinicianHandler(directory)
	app.Get("/rounds/clinicians", handler.List)
	app.Post("/rounds/clinicians", handler.Upsert)
	app.Delete("/rounds/clinicians/:id", handler.Remove)
	app.Post("/rounds/clinicians/resolve", handler.Resolve)

	req := httptest.NewRequest("POST", "/rounds/clinicians", strings.NewReader(`{"name":"Sarah Chen","role":"registrar"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var upserted struct {
		Clinician models.Clinician `json:"clinician"`
	}
	if err := json.Unmarshal(body, &upserted); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if upserted.Clinician.Initials != "SC" {
		t.Errorf("Expected derived initials, got %q", upserted.Clinician.Initials)
	}

	resolveReq := httptest.NewRequest("POST", "/rounds/clinicians/resolve",
		strings.NewReader(fmt.Sprintf(`{"ids":["%s","clin-gone"]}`, upserted.Clinician.ID)))
	resolveReq.Header.Set("Content-Type", "application/json")
	resolveResp, err := app.Test(resolveReq)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	body, _ = io.ReadAll(resolveResp.Body)
	resolveResp.Body.Close()
	var resolved struct {
		Clinicians []models.Clinician `json:"clinicians"`
	}
	if err := json.Unmarshal(body, &resolved); err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(resolved.Clinicians) != 1 {
		t.Errorf("Expected dangling ID filtered, got %+v", resolved.Clinicians)
	}

	delReq := httptest.NewRequest("DELETE", "/rounds/clinicians/"+upserted.Clinician.ID, nil)
	delResp, err := app.Test(delReq)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status 200, got %d", delResp.StatusCode)
	}

	ghostReq := httptest.NewRequest("DELETE", "/rounds/clinicians/clin-ghost", nil)
	ghostResp, err := app.Test(ghostReq)
	if err != nil {
		t.Fatalf("Failed to send request: %v", err)
	}
	ghostResp.Body.Close()
	if ghostResp.StatusCode != fiber.StatusNotFound {
		t.Errorf("Expected status 404, got %d", ghostResp.StatusCode)
	}
}
