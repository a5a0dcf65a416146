package models

import (
	"slices"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and display format of expense dates.
const DateLayout = "2006-01-02"

// ExpenseKind distinguishes user-entered expenses from synthetic settlement entries.
type ExpenseKind int

const (
	// KindExpense is a shared cost entered by a user.
	KindExpense ExpenseKind = iota

	// KindSettlement is a payment from a debtor (payer) to a single creditor
	// (the only debtor), produced by the settlement resolver.
	KindSettlement
)

func (k ExpenseKind) String() string {
	switch k {
	case KindSettlement:
		return "settlement"
	default:
		return "expense"
	}
}

// Expense represents a shared cost event with one payer and a set of debtors.
//
// Expenses are treated as values: once an expense is stored in a ledger its
// Contributions map is never modified in place. Changing any field means
// building a new Expense with freshly computed contributions.
type Expense struct {
	// ID is the unique identifier for the expense.
	ID int64

	// Kind tells regular expenses and settlement entries apart.
	Kind ExpenseKind

	// Description is the human-readable label (e.g., "Groceries").
	Description string

	// Amount is the positive total, in currency units.
	Amount decimal.Decimal

	// Date is the day the expense happened, formatted with DateLayout.
	Date string

	// PayerID is the participant who paid.
	PayerID int64

	// DebtorIDs are the participants sharing the cost. The payer may be one of them.
	DebtorIDs []int64

	// Contributions maps each participant to its signed share of this expense.
	// Positive = credited (owed money), negative = debited (owes money).
	// The values always sum to zero.
	Contributions map[int64]decimal.Decimal

	// BatchID groups the settlement entries emitted by one settle call.
	// Empty for regular expenses.
	BatchID string
}

// IsSettlement reports whether the expense is a synthetic settlement entry.
func (e Expense) IsSettlement() bool {
	return e.Kind == KindSettlement
}

// HasDebtor reports whether id is among the expense's debtors.
func (e Expense) HasDebtor(id int64) bool {
	return slices.Contains(e.DebtorIDs, id)
}

// Involves reports whether id has a contribution in this expense.
func (e Expense) Involves(id int64) bool {
	_, ok := e.Contributions[id]
	return ok
}

// Contribution returns the signed contribution of id, zero if not involved.
func (e Expense) Contribution(id int64) decimal.Decimal {
	return e.Contributions[id]
}

// Clone returns a deep copy of the expense.
func (e Expense) Clone() Expense {
	out := e
	out.DebtorIDs = slices.Clone(e.DebtorIDs)
	if e.Contributions != nil {
		out.Contributions = make(map[int64]decimal.Decimal, len(e.Contributions))
		for id, amount := range e.Contributions {
			out.Contributions[id] = amount
		}
	}
	return out
}

// ParticipantIDs returns the IDs of all participants holding a contribution,
// sorted ascending.
func (e Expense) ParticipantIDs() []int64 {
	ids := make([]int64, 0, len(e.Contributions))
	for id := range e.Contributions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
