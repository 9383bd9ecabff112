package services

import (
	"encoding/json"

	"rounds/internal/models"
)

// MergePatients reconciles the local and remote record sets after a fetch.
// Whole records win or lose on lastUpdatedAt; there is no field-level merge.
//
//   - ID only local: kept. Covers records created while offline, and means a
//     remote deletion never removes a record a clinician can still see.
//   - ID only remote: kept.
//   - Both: the newer lastUpdatedAt wins; an exact tie keeps the local copy.
//
// Output order is deterministic: local order first, then remote-only records
// in remote order.
func MergePatients(local, remote []models.PatientRecord) []models.PatientRecord {
	remoteByID := make(map[string]models.PatientRecord, len(remote))
	for _, r := range remote {
		remoteByID[r.ID] = r
	}

	merged := make([]models.PatientRecord, 0, len(local)+len(remote))
	seen := make(map[string]bool, len(local))

	for _, l := range local {
		seen[l.ID] = true
		r, ok := remoteByID[l.ID]
		if !ok {
			merged = append(merged, l)
			continue
		}
		if r.LastUpdatedAt.After(l.LastUpdatedAt) {
			merged = append(merged, r)
		} else {
			merged = append(merged, l)
		}
	}

	for _, r := range remote {
		if !seen[r.ID] {
			merged = append(merged, r)
		}
	}
	return merged
}

// PatientSetsEqual reports deep structural equality of two record sets,
// including order. Comparison runs over the serialized form so two
// time.Time values for the same instant always compare equal regardless of
// how they were produced.
func PatientSetsEqual(a, b []models.PatientRecord) bool {
	if len(a) != len(b) {
		return false
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
