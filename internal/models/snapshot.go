package models

import "slices"

// Snapshot is a consistent view of the ledger at one point in time.
//
// Snapshots handed out by a ledger are never modified afterwards, so they can
// be read concurrently without locking.
type Snapshot struct {
	// Version increases by one with every committed change.
	Version uint64

	// Participants ordered by ID.
	Participants []Participant

	// Expenses and settlement entries in insertion order.
	Expenses []Expense
}

// Participant looks a participant up by ID.
func (s Snapshot) Participant(id int64) (Participant, bool) {
	i := slices.IndexFunc(s.Participants, func(p Participant) bool { return p.ID == id })
	if i < 0 {
		return Participant{}, false
	}
	return s.Participants[i], true
}

// Exists reports whether a participant with the given ID is registered.
func (s Snapshot) Exists(id int64) bool {
	_, ok := s.Participant(id)
	return ok
}

// Expense looks an expense up by ID.
func (s Snapshot) Expense(id int64) (Expense, bool) {
	i := slices.IndexFunc(s.Expenses, func(e Expense) bool { return e.ID == id })
	if i < 0 {
		return Expense{}, false
	}
	return s.Expenses[i], true
}

// NameOf returns the participant's name, or an empty string if unknown.
func (s Snapshot) NameOf(id int64) string {
	p, _ := s.Participant(id)
	return p.Name
}
