package models

// Participant represents a person sharing expenses (a "friend").
//
// The balance is not part of the record: it is always recomputed from the
// contributions held by the ledger.
type Participant struct {
	// ID is the unique identifier, stable for the participant's lifetime.
	// Assigned by the backend; a local ledger assigns the next free ID.
	ID int64

	// Name is the display name. It may be changed at any time.
	Name string
}
