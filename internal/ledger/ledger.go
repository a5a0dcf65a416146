// Package ledger holds the participant registry and the expense ledger in memory.
//
// A Ledger has a single writer at a time: every mutation runs inside Update,
// which works on a private copy of the current snapshot and publishes it only
// if the whole function succeeds. Readers get immutable snapshots and never block.
package ledger

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/models"
)

var (
	// ErrUnknownParticipant is returned for participant IDs not in the registry.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrUnknownExpense is returned for expense IDs not in the ledger.
	ErrUnknownExpense = errors.New("unknown expense")

	// ErrDuplicateName is returned when a participant name is already taken.
	ErrDuplicateName = errors.New("participant name already exists")

	// ErrInvalidName is returned for blank participant names.
	ErrInvalidName = errors.New("participant name cannot be empty")

	// ErrDuplicateID is returned when inserting a record whose ID is taken.
	ErrDuplicateID = errors.New("id already exists")

	// ErrInvalidDescription is returned for blank expense descriptions.
	ErrInvalidDescription = errors.New("expense description cannot be empty")

	// ErrInvalidDate is returned for dates not in models.DateLayout.
	ErrInvalidDate = errors.New("invalid expense date")
)

// Observer is called with every newly committed snapshot.
type Observer func(models.Snapshot)

// Ledger owns participants and expenses.
type Ledger struct {
	writeMu sync.Mutex
	current atomic.Pointer[models.Snapshot]

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int

	now func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for default expense dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		observers: make(map[int]Observer),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.current.Store(&models.Snapshot{})
	return l
}

// Snapshot returns the current consistent view of the ledger.
func (l *Ledger) Snapshot() models.Snapshot {
	return *l.current.Load()
}

// Subscribe registers an observer for ledger updates. Observers run
// synchronously after each commit, in the committing goroutine.
// The returned function removes the observer.
func (l *Ledger) Subscribe(fn Observer) (unsubscribe func()) {
	l.obsMu.Lock()
	id := l.nextObs
	l.nextObs++
	l.observers[id] = fn
	l.obsMu.Unlock()

	return func() {
		l.obsMu.Lock()
		delete(l.observers, id)
		l.obsMu.Unlock()
	}
}

// Update runs fn against a private copy of the ledger. If fn returns nil the
// copy becomes the new snapshot and observers are notified; otherwise every
// change made through the Tx is discarded.
//
// Updates are serialized: fn may perform blocking work (e.g. remote writes)
// and no other mutation interleaves with it.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	next, err := l.commit(fn)
	if err != nil || next == nil {
		return err
	}

	slog.Debug("Ledger updated",
		"version", next.Version,
		"participants", len(next.Participants),
		"expenses", len(next.Expenses),
	)
	l.notify(*next)
	return nil
}

func (l *Ledger) commit(fn func(tx *Tx) error) (*models.Snapshot, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	base := l.current.Load()
	tx := &Tx{
		snap: models.Snapshot{
			Version:      base.Version,
			Participants: slices.Clone(base.Participants),
			Expenses:     slices.Clone(base.Expenses),
		},
		now: l.now,
	}

	if err := fn(tx); err != nil {
		slog.Debug("Ledger update discarded", "version", base.Version, "error", err)
		return nil, err
	}
	if !tx.dirty {
		return nil, nil
	}

	next := tx.snap
	next.Version = base.Version + 1
	l.current.Store(&next)
	return &next, nil
}

// Reset replaces the whole ledger, e.g. with a snapshot pulled from the backend.
// The snapshot must pass Validate.
func (l *Ledger) Reset(snap models.Snapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}
	return l.Update(func(tx *Tx) error {
		tx.snap.Participants = slices.Clone(snap.Participants)
		slices.SortFunc(tx.snap.Participants, func(a, b models.Participant) int {
			return cmp.Compare(a.ID, b.ID)
		})
		tx.snap.Expenses = make([]models.Expense, len(snap.Expenses))
		for i, e := range snap.Expenses {
			tx.snap.Expenses[i] = e.Clone()
		}
		tx.dirty = true
		return nil
	})
}

func (l *Ledger) notify(snap models.Snapshot) {
	l.obsMu.Lock()
	ids := make([]int, 0, len(l.observers))
	for id := range l.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, l.observers[id])
	}
	l.obsMu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

// Validate checks that a snapshot is internally consistent: unique IDs and
// zero-sum expenses. Historic expenses may still reference participants that
// have since been deleted with a settled balance.
func Validate(snap models.Snapshot) error {
	seen := make(map[int64]struct{}, len(snap.Participants))
	for _, p := range snap.Participants {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("participant %d: %w", p.ID, ErrDuplicateID)
		}
		seen[p.ID] = struct{}{}
	}

	expenseIDs := make(map[int64]struct{}, len(snap.Expenses))
	for _, e := range snap.Expenses {
		if _, dup := expenseIDs[e.ID]; dup {
			return fmt.Errorf("expense %d: %w", e.ID, ErrDuplicateID)
		}
		expenseIDs[e.ID] = struct{}{}
	}
	return calculator.CheckConsistency(snap.Expenses)
}

// Read-side helpers. They never block writers.

// BalanceOf returns a participant's net balance.
func (l *Ledger) BalanceOf(participantID int64) (decimal.Decimal, error) {
	snap := l.Snapshot()
	if !snap.Exists(participantID) {
		return decimal.Zero, fmt.Errorf("participant %d: %w", participantID, ErrUnknownParticipant)
	}
	return calculator.BalanceOf(snap.Expenses, participantID), nil
}

// AllBalances returns the net balance of every registered participant.
func (l *Ledger) AllBalances() map[int64]decimal.Decimal {
	snap := l.Snapshot()
	return calculator.AllBalances(snap.Participants, snap.Expenses)
}

// Totals returns credit, debit and net per participant.
func (l *Ledger) Totals() []calculator.ParticipantBalance {
	snap := l.Snapshot()
	return calculator.Totals(snap.Participants, snap.Expenses)
}

// CanDelete reports whether the participant's balance is settled.
func (l *Ledger) CanDelete(participantID int64) (bool, error) {
	snap := l.Snapshot()
	if !snap.Exists(participantID) {
		return false, fmt.Errorf("participant %d: %w", participantID, ErrUnknownParticipant)
	}
	return calculator.CanDelete(snap.Expenses, participantID), nil
}

// Write-side shortcuts, each one a single Update.

// AddParticipant registers a new participant under the next free ID.
func (l *Ledger) AddParticipant(name string) (p models.Participant, err error) {
	err = l.Update(func(tx *Tx) error {
		p, err = tx.AddParticipant(name)
		return err
	})
	return p, err
}

// RenameParticipant changes a participant's display name.
func (l *Ledger) RenameParticipant(id int64, name string) error {
	return l.Update(func(tx *Tx) error {
		return tx.RenameParticipant(id, name)
	})
}

// RemoveParticipant deletes a participant whose balance is settled.
func (l *Ledger) RemoveParticipant(id int64) error {
	return l.Update(func(tx *Tx) error {
		return tx.RemoveParticipant(id)
	})
}

// AddExpense computes contributions and records a new expense.
func (l *Ledger) AddExpense(in ExpenseInput) (e models.Expense, err error) {
	err = l.Update(func(tx *Tx) error {
		e, err = tx.AddExpense(in)
		return err
	})
	return e, err
}

// UpdateExpense recomputes an expense from scratch with new values.
func (l *Ledger) UpdateExpense(id int64, in ExpenseInput) (e models.Expense, err error) {
	err = l.Update(func(tx *Tx) error {
		e, err = tx.UpdateExpense(id, in)
		return err
	})
	return e, err
}

// RemoveExpense deletes an expense together with its contributions.
func (l *Ledger) RemoveExpense(id int64) error {
	return l.Update(func(tx *Tx) error {
		return tx.RemoveExpense(id)
	})
}

// Settle resolves a payment into settlement entries and applies all of them atomically.
func (l *Ledger) Settle(debtorID int64, payment decimal.Decimal) (entries []models.Expense, err error) {
	err = l.Update(func(tx *Tx) error {
		entries, err = tx.PlanSettlement(debtorID, payment)
		if err != nil {
			return err
		}
		entries, err = tx.ApplyEntries(entries)
		return err
	})
	return entries, err
}
