package services

import (
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"rounds/internal/models"
)

const (
	// Undo is a short-horizon affordance; snapshots older than this are gone.
	undoTTL             = 1 * time.Hour
	undoJanitorInterval = 10 * time.Minute
)

// ErrNothingToUndo is returned when no snapshot exists for a record.
var ErrNothingToUndo = errors.New("nothing to undo")

// UndoManager keeps one pre-apply snapshot per record so the last ward update
// can be reverted. Snapshots expire on their own; a second undo without a new
// snapshot fails.
type UndoManager struct {
	cache *cache.Cache
}

// NewUndoManager creates an undo manager with expiring snapshots.
func NewUndoManager() *UndoManager {
	return &UndoManager{
		cache: cache.New(undoTTL, undoJanitorInterval),
	}
}

// Snapshot stores a deep copy of the record, replacing any previous snapshot
// for the same ID.
func (u *UndoManager) Snapshot(record models.PatientRecord) {
	u.cache.Set(record.ID, record.Clone(), cache.DefaultExpiration)
}

// Undo returns the stored snapshot for id and consumes it.
func (u *UndoManager) Undo(id string) (models.PatientRecord, error) {
	v, found := u.cache.Get(id)
	if !found {
		return models.PatientRecord{}, ErrNothingToUndo
	}
	u.cache.Delete(id)

	record, ok := v.(models.PatientRecord)
	if !ok {
		return models.PatientRecord{}, ErrNothingToUndo
	}
	return record, nil
}

// HasSnapshot reports whether an undo is currently possible for id.
func (u *UndoManager) HasSnapshot(id string) bool {
	_, found := u.cache.Get(id)
	return found
}
