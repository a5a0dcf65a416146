package ledger

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/models"
)

// ExpenseInput is what a user provides to create or change an expense.
type ExpenseInput struct {
	Description string
	Amount      decimal.Decimal
	Date        string // models.DateLayout; empty means today
	PayerID     int64
	DebtorIDs   []int64
}

// Tx is an in-progress change to a ledger. It is only valid inside the
// function passed to Ledger.Update.
type Tx struct {
	snap  models.Snapshot
	now   func() time.Time
	dirty bool
}

// Snapshot returns the state as modified so far by this transaction.
// The returned value must not be modified.
func (tx *Tx) Snapshot() models.Snapshot {
	return tx.snap
}

// AddParticipant registers a participant under the next free ID.
func (tx *Tx) AddParticipant(name string) (models.Participant, error) {
	var next int64 = 1
	for _, p := range tx.snap.Participants {
		next = max(next, p.ID+1)
	}
	if err := tx.PutParticipant(models.Participant{ID: next, Name: name}); err != nil {
		return models.Participant{}, err
	}
	p, _ := tx.snap.Participant(next)
	return p, nil
}

// PutParticipant registers a participant with an ID assigned elsewhere (the backend).
func (tx *Tx) PutParticipant(p models.Participant) error {
	name, err := tx.CheckName(p.ID, p.Name)
	if err != nil {
		return err
	}
	if tx.snap.Exists(p.ID) {
		return fmt.Errorf("participant %d: %w", p.ID, ErrDuplicateID)
	}
	p.Name = name
	tx.snap.Participants = append(tx.snap.Participants, p)
	slices.SortFunc(tx.snap.Participants, func(a, b models.Participant) int {
		return cmp.Compare(a.ID, b.ID)
	})
	tx.dirty = true
	return nil
}

// RenameParticipant changes a participant's display name.
func (tx *Tx) RenameParticipant(id int64, name string) error {
	i := tx.participantIndex(id)
	if i < 0 {
		return fmt.Errorf("participant %d: %w", id, ErrUnknownParticipant)
	}
	name, err := tx.CheckName(id, name)
	if err != nil {
		return err
	}
	tx.snap.Participants[i].Name = name
	tx.dirty = true
	return nil
}

// RemoveParticipant deletes a participant. It fails with a
// *calculator.NonZeroBalanceError unless the balance is settled.
func (tx *Tx) RemoveParticipant(id int64) error {
	i := tx.participantIndex(id)
	if i < 0 {
		return fmt.Errorf("participant %d: %w", id, ErrUnknownParticipant)
	}
	if err := calculator.CheckDeletable(tx.snap.Expenses, id); err != nil {
		return err
	}
	tx.snap.Participants = slices.Delete(tx.snap.Participants, i, i+1)
	tx.dirty = true
	return nil
}

// PrepareExpense validates the input and computes the expense with its
// contributions, without recording it.
func (tx *Tx) PrepareExpense(in ExpenseInput) (models.Expense, error) {
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return models.Expense{}, ErrInvalidDescription
	}
	date := in.Date
	if date == "" {
		date = tx.now().Format(models.DateLayout)
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		return models.Expense{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	contributions, err := calculator.ComputeContributions(in.Amount, in.PayerID, in.DebtorIDs, tx.snap)
	if err != nil {
		return models.Expense{}, err
	}

	return models.Expense{
		Kind:          models.KindExpense,
		Description:   description,
		Amount:        in.Amount,
		Date:          date,
		PayerID:       in.PayerID,
		DebtorIDs:     slices.Clone(in.DebtorIDs),
		Contributions: contributions,
	}, nil
}

// AddExpense computes and records a new expense under the next free ID.
func (tx *Tx) AddExpense(in ExpenseInput) (models.Expense, error) {
	e, err := tx.PrepareExpense(in)
	if err != nil {
		return models.Expense{}, err
	}
	return tx.PutExpense(e)
}

// PutExpense records a fully computed expense. A zero ID is replaced by the
// next free one. The contributions must net to zero and involve registered
// participants only.
func (tx *Tx) PutExpense(e models.Expense) (models.Expense, error) {
	if err := calculator.CheckZeroSum(e.Contributions); err != nil {
		return models.Expense{}, err
	}
	for id := range e.Contributions {
		if !tx.snap.Exists(id) {
			return models.Expense{}, fmt.Errorf("expense references participant %d: %w", id, ErrUnknownParticipant)
		}
	}

	if e.ID == 0 {
		e.ID = tx.nextExpenseID()
	} else if tx.expenseIndex(e.ID) >= 0 {
		return models.Expense{}, fmt.Errorf("expense %d: %w", e.ID, ErrDuplicateID)
	}

	e = e.Clone()
	tx.snap.Expenses = append(tx.snap.Expenses, e)
	tx.dirty = true
	return e, nil
}

// UpdateExpense recomputes an expense from the new input, keeping its ID.
// The old contributions are replaced as a whole, never patched.
func (tx *Tx) UpdateExpense(id int64, in ExpenseInput) (models.Expense, error) {
	i := tx.expenseIndex(id)
	if i < 0 {
		return models.Expense{}, fmt.Errorf("expense %d: %w", id, ErrUnknownExpense)
	}
	if in.Date == "" {
		in.Date = tx.snap.Expenses[i].Date
	}
	e, err := tx.PrepareExpense(in)
	if err != nil {
		return models.Expense{}, err
	}
	e.ID = id
	e.Kind = tx.snap.Expenses[i].Kind
	e.BatchID = tx.snap.Expenses[i].BatchID
	tx.snap.Expenses[i] = e
	tx.dirty = true
	return e.Clone(), nil
}

// RemoveExpense deletes an expense and with it all of its contributions.
func (tx *Tx) RemoveExpense(id int64) error {
	i := tx.expenseIndex(id)
	if i < 0 {
		return fmt.Errorf("expense %d: %w", id, ErrUnknownExpense)
	}
	tx.snap.Expenses = slices.Delete(tx.snap.Expenses, i, i+1)
	tx.dirty = true
	return nil
}

// PlanSettlement resolves a payment into settlement entries against the
// transaction's current state. Nothing is recorded; the entries share a
// fresh batch ID and today's date.
func (tx *Tx) PlanSettlement(debtorID int64, payment decimal.Decimal) ([]models.Expense, error) {
	entries, err := calculator.ResolveSettlement(tx.snap, debtorID, payment)
	if err != nil {
		return nil, err
	}
	batchID := uuid.NewString()
	date := tx.now().Format(models.DateLayout)
	for i := range entries {
		entries[i].BatchID = batchID
		entries[i].Date = date
	}
	return entries, nil
}

// ApplyEntries records settlement entries. If any entry fails the whole
// transaction must be abandoned by returning the error from Update.
func (tx *Tx) ApplyEntries(entries []models.Expense) ([]models.Expense, error) {
	applied := make([]models.Expense, 0, len(entries))
	for _, e := range entries {
		if !e.IsSettlement() {
			return nil, fmt.Errorf("expense %d is not a settlement entry", e.ID)
		}
		stored, err := tx.PutExpense(e)
		if err != nil {
			return nil, err
		}
		applied = append(applied, stored)
	}
	return applied, nil
}

// CheckName trims name and checks it could be given to participant id: it
// must not be blank or match another participant's name, ignoring case. Pass
// id 0 for a participant that does not exist yet.
func (tx *Tx) CheckName(id int64, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	for _, p := range tx.snap.Participants {
		if p.ID != id && strings.EqualFold(p.Name, name) {
			return "", fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	return name, nil
}

func (tx *Tx) participantIndex(id int64) int {
	return slices.IndexFunc(tx.snap.Participants, func(p models.Participant) bool { return p.ID == id })
}

func (tx *Tx) expenseIndex(id int64) int {
	return slices.IndexFunc(tx.snap.Expenses, func(e models.Expense) bool { return e.ID == id })
}

func (tx *Tx) nextExpenseID() int64 {
	var next int64 = 1
	for _, e := range tx.snap.Expenses {
		next = max(next, e.ID+1)
	}
	return next
}
