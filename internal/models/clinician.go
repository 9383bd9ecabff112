package models

// Clinician is a member of the treating team. Records reference clinicians by
// ID with no referential integrity; dangling references are filtered at read
// time rather than rejected.
type Clinician struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"` // "consultant", "registrar", "resident", free text
	Initials string `json:"initials,omitempty"`
}
