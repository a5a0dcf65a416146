package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/models"
)

// ParticipantBalance represents the balance information for one participant.
type ParticipantBalance struct {
	ParticipantID int64
	Name          string
	Credit        decimal.Decimal // Sum of positive contributions
	Debit         decimal.Decimal // Sum of the magnitudes of negative contributions
	Net           decimal.Decimal // Credit - Debit. Positive = owed money, Negative = owes money
}

// Transfer is a suggested payment that moves the ledger towards zero balances.
type Transfer struct {
	From   int64 // Participant who owes
	To     int64 // Participant who is owed
	Amount decimal.Decimal
}

// BalanceOf sums a participant's contributions across all expenses and
// settlement entries. An empty ledger yields zero.
func BalanceOf(expenses []models.Expense, participantID int64) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range expenses {
		balance = balance.Add(e.Contribution(participantID))
	}
	return balance
}

// AllBalances returns the net balance of every participant. Registered
// participants without contributions are reported with a zero balance.
func AllBalances(participants []models.Participant, expenses []models.Expense) map[int64]decimal.Decimal {
	balances := make(map[int64]decimal.Decimal, len(participants))
	for _, p := range participants {
		balances[p.ID] = decimal.Zero
	}
	for _, e := range expenses {
		for id, amount := range e.Contributions {
			balances[id] = balances[id].Add(amount)
		}
	}
	return balances
}

// Totals reports credit, debit and net per registered participant, ordered by ID.
// Credit and debit mirror the credit_balance and debit_balance fields of the backend.
func Totals(participants []models.Participant, expenses []models.Expense) []ParticipantBalance {
	byID := make(map[int64]*ParticipantBalance, len(participants))
	out := make([]ParticipantBalance, len(participants))
	for i, p := range participants {
		out[i] = ParticipantBalance{ParticipantID: p.ID, Name: p.Name}
		byID[p.ID] = &out[i]
	}

	for _, e := range expenses {
		for id, amount := range e.Contributions {
			bal, ok := byID[id]
			if !ok {
				continue
			}
			if amount.IsPositive() {
				bal.Credit = bal.Credit.Add(amount)
			} else {
				bal.Debit = bal.Debit.Sub(amount)
			}
		}
	}

	for i := range out {
		out[i].Net = out[i].Credit.Sub(out[i].Debit)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// CanDelete reports whether the participant's balance is within Epsilon of zero.
func CanDelete(expenses []models.Expense, participantID int64) bool {
	return IsSettled(BalanceOf(expenses, participantID))
}

// CheckDeletable returns a *NonZeroBalanceError when the participant cannot be deleted.
func CheckDeletable(expenses []models.Expense, participantID int64) error {
	balance := BalanceOf(expenses, participantID)
	if !IsSettled(balance) {
		return &NonZeroBalanceError{ParticipantID: participantID, Balance: balance}
	}
	return nil
}

// CheckConsistency verifies that every expense nets to zero, which implies
// that all balances together sum to zero.
func CheckConsistency(expenses []models.Expense) error {
	for _, e := range expenses {
		if err := CheckZeroSum(e.Contributions); err != nil {
			return fmt.Errorf("expense %d: %w", e.ID, err)
		}
	}
	return nil
}

// SuggestTransfers proposes a short list of payments that would settle everybody.
//
// Greedy: match the largest debts with the largest credits. Ties are broken
// by participant ID so the result is reproducible.
func SuggestTransfers(balances map[int64]decimal.Decimal) []Transfer {
	type entry struct {
		id     int64
		amount decimal.Decimal
	}

	// Create lists of creditors (owed money) and debtors (owe money)
	var creditors, debtors []entry
	for id, bal := range balances {
		if bal.GreaterThan(Epsilon) {
			creditors = append(creditors, entry{id, bal})
		} else if bal.LessThan(Epsilon.Neg()) {
			debtors = append(debtors, entry{id, bal.Neg()})
		}
	}
	byAmount := func(list []entry) func(i, j int) bool {
		return func(i, j int) bool {
			if !list[i].amount.Equal(list[j].amount) {
				return list[i].amount.GreaterThan(list[j].amount)
			}
			return list[i].id < list[j].id
		}
	}
	sort.Slice(creditors, byAmount(creditors))
	sort.Slice(debtors, byAmount(debtors))

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		// Amount to settle is minimum of what debtor owes and creditor is owed
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		if amount.GreaterThan(Epsilon) {
			transfers = append(transfers, Transfer{From: debtors[i].id, To: creditors[j].id, Amount: amount})
		}

		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)

		// Move to next debtor/creditor if fully settled
		if debtors[i].amount.LessThanOrEqual(Epsilon) {
			i++
		}
		if creditors[j].amount.LessThanOrEqual(Epsilon) {
			j++
		}
	}
	return transfers
}
