package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"rounds/internal/models"
	"rounds/internal/storage"
)

// ErrClinicianNotFound is returned when an operation targets an unknown
// clinician ID.
var ErrClinicianNotFound = errors.New("clinician not found")

// ClinicianDirectory owns the treating-team roster persisted under the
// clinicians key. Records reference clinicians by ID without referential
// integrity, so Resolve filters dangling IDs instead of failing on them.
type ClinicianDirectory struct {
	kv storage.KV

	mu         sync.Mutex
	clinicians []models.Clinician
	loaded     bool
}

// NewClinicianDirectory wires the directory to its local storage.
func NewClinicianDirectory(kv storage.KV) *ClinicianDirectory {
	return &ClinicianDirectory{kv: kv}
}

// List returns the full roster, loading it from storage on first use.
func (d *ClinicianDirectory) List(ctx context.Context) ([]models.Clinician, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]models.Clinician, len(d.clinicians))
	copy(out, d.clinicians)
	return out, nil
}

// Upsert inserts or replaces a clinician. Empty IDs get a generated one and
// empty initials are derived from the name.
func (d *ClinicianDirectory) Upsert(ctx context.Context, clinician models.Clinician) (models.Clinician, error) {
	clinician.Name = strings.TrimSpace(clinician.Name)
	if clinician.Name == "" {
		return models.Clinician{}, fmt.Errorf("upsert clinician: name is required")
	}
	if clinician.ID == "" {
		clinician.ID = models.NewClinicianID()
	}
	if clinician.Initials == "" {
		clinician.Initials = deriveInitials(clinician.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return models.Clinician{}, err
	}

	replaced := false
	for i := range d.clinicians {
		if d.clinicians[i].ID == clinician.ID {
			d.clinicians[i] = clinician
			replaced = true
			break
		}
	}
	if !replaced {
		d.clinicians = append(d.clinicians, clinician)
	}

	if err := d.storeLocked(ctx); err != nil {
		return models.Clinician{}, err
	}
	return clinician, nil
}

// Remove deletes a clinician from the roster. Record-side references to the
// removed ID become dangling and disappear from Resolve output.
func (d *ClinicianDirectory) Remove(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return err
	}

	kept := make([]models.Clinician, 0, len(d.clinicians))
	found := false
	for _, c := range d.clinicians {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return fmt.Errorf("remove %q: %w", id, ErrClinicianNotFound)
	}
	d.clinicians = kept
	return d.storeLocked(ctx)
}

// Resolve maps assigned-clinician IDs to roster entries, silently dropping
// dangling references. Output order follows the input IDs.
func (d *ClinicianDirectory) Resolve(ctx context.Context, ids []string) ([]models.Clinician, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.loadLocked(ctx); err != nil {
		return nil, err
	}

	byID := make(map[string]models.Clinician, len(d.clinicians))
	for _, c := range d.clinicians {
		byID[c.ID] = c
	}

	resolved := make([]models.Clinician, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			resolved = append(resolved, c)
		}
	}
	return resolved, nil
}

func (d *ClinicianDirectory) loadLocked(ctx context.Context) error {
	if d.loaded {
		return nil
	}

	raw, err := d.kv.Get(ctx, storage.KeyClinicians)
	if errors.Is(err, storage.ErrKeyNotFound) {
		d.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("load clinicians: %w", err)
	}

	var clinicians []models.Clinician
	if err := json.Unmarshal(raw, &clinicians); err != nil {
		// A corrupt roster is not worth blocking record work over
		log.Printf("⚠️  [CLINICIANS] Stored roster unreadable, starting empty: %v", fmt.Errorf("%w: %v", storage.ErrSerialization, err))
		d.loaded = true
		return nil
	}
	d.clinicians = clinicians
	d.loaded = true
	return nil
}

func (d *ClinicianDirectory) storeLocked(ctx context.Context) error {
	raw, err := json.Marshal(d.clinicians)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrSerialization, err)
	}
	if err := d.kv.Set(ctx, storage.KeyClinicians, raw); err != nil {
		return fmt.Errorf("store clinicians: %w", err)
	}
	return nil
}

// deriveInitials takes the first letter of up to three name parts, so
// "Sarah Chen" becomes "SC".
func deriveInitials(name string) string {
	parts := strings.Fields(name)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	var b strings.Builder
	for _, p := range parts {
		r := []rune(p)
		b.WriteRune(r[0])
	}
	return strings.ToUpper(b.String())
}
