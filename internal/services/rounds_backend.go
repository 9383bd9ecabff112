package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"rounds/internal/models"
	"rounds/internal/storage"
)

// ErrNameRequired rejects quick-adds without a patient name.
var ErrNameRequired = errors.New("name is required")

// RoundsBackendConfig controls the daemon-side record service.
type RoundsBackendConfig struct {
	DefaultWard string // ward stamped on quick-adds that omit one
}

// RoundsBackend is the daemon-side owner of the canonical record set the
// clients sync against. Unlike the client store it writes through to storage
// on every mutation; the daemon is the durability anchor.
type RoundsBackend struct {
	kv  storage.KV
	cfg RoundsBackendConfig

	mu       sync.Mutex
	patients []models.PatientRecord
	loaded   bool
}

// NewRoundsBackend wires the backend to its storage.
func NewRoundsBackend(kv storage.KV, cfg RoundsBackendConfig) *RoundsBackend {
	if cfg.DefaultWard == "" {
		cfg.DefaultWard = models.DefaultWard
	}
	return &RoundsBackend{kv: kv, cfg: cfg}
}

// ListPatients returns the canonical record set.
func (b *RoundsBackend) ListPatients(ctx context.Context) ([]models.PatientRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return nil, err
	}
	return models.CloneRecords(b.patients), nil
}

// ReplacePatients swaps the whole set for the client-provided one and writes
// it through. Records arriving without an ID get one assigned.
func (b *RoundsBackend) ReplacePatients(ctx context.Context, patients []models.PatientRecord) error {
	incoming := models.CloneRecords(patients)
	for i := range incoming {
		if incoming[i].ID == "" {
			incoming[i].ID = models.NewPatientID()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return err
	}
	b.patients = incoming
	if err := b.storeLocked(ctx); err != nil {
		return err
	}
	log.Printf("💾 [ROUNDS] Stored %d patient records", len(incoming))
	return nil
}

// QuickAdd creates a minimal record from a name plus optional scratchpad and
// ward, appends it and writes through. The scratchpad text becomes the first
// intake note.
func (b *RoundsBackend) QuickAdd(ctx context.Context, name, scratchpad, ward string) (models.PatientRecord, error) {
	if strings.TrimSpace(name) == "" {
		return models.PatientRecord{}, fmt.Errorf("quick add: %w", ErrNameRequired)
	}
	if strings.TrimSpace(ward) == "" {
		ward = b.cfg.DefaultWard
	}
	record := models.NewQuickAddPatient(name, scratchpad, ward, time.Now().UTC())

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return models.PatientRecord{}, err
	}
	b.patients = append(b.patients, record)
	if err := b.storeLocked(ctx); err != nil {
		return models.PatientRecord{}, err
	}

	log.Printf("➕ [ROUNDS] Quick-added patient %s (%s, ward %s)", record.ID, record.Name, record.Ward)
	return record.Clone(), nil
}

// PatientCount reports the size of the canonical set, for metrics.
func (b *RoundsBackend) PatientCount(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.loadLocked(ctx); err != nil {
		return 0
	}
	return len(b.patients)
}

func (b *RoundsBackend) loadLocked(ctx context.Context) error {
	if b.loaded {
		return nil
	}

	raw, err := b.kv.Get(ctx, storage.KeyPatients)
	if errors.Is(err, storage.ErrKeyNotFound) {
		b.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("load patients: %w", err)
	}

	var patients []models.PatientRecord
	if err := json.Unmarshal(raw, &patients); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrSerialization, err)
	}
	b.patients = patients
	b.loaded = true
	return nil
}

func (b *RoundsBackend) storeLocked(ctx context.Context) error {
	raw, err := json.Marshal(b.patients)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrSerialization, err)
	}
	if err := b.kv.Set(ctx, storage.KeyPatients, raw); err != nil {
		return fmt.Errorf("store patients: %w", err)
	}
	return nil
}
