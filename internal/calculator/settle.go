package calculator

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/models"
)

// Creditor is a participant a debtor owes money to, with the amount owed.
type Creditor struct {
	ParticipantID int64
	Owed          decimal.Decimal
}

// ResolveSettlement distributes a debtor's payment over its creditors and
// returns one settlement entry per creditor, ready to be applied atomically.
//
// Algorithm:
//   - The debtor's balance must be below -Epsilon and the payment may not
//     exceed the debt by more than Epsilon
//   - Creditors are traced through the expenses the debtor shares but did not
//     pay, net of earlier settlement entries to the same creditor. Without a
//     traceable creditor, every other participant with a positive balance
//     becomes a creditor weighted by that balance
//   - Creditors are ordered by amount owed descending, then by ID
//   - Each creditor gets payment × owed / total, truncated to cents. Shares of
//     Epsilon or less are not emitted; the remainder goes to the last creditor
//     so the entries sum exactly to the payment
//
// Entries carry no ID, date or batch: the ledger fills those in when applying them.
func ResolveSettlement(snap models.Snapshot, debtorID int64, payment decimal.Decimal) ([]models.Expense, error) {
	if !payment.IsPositive() || !IsMoney(payment) {
		return nil, fmt.Errorf("%w: payment %s", ErrInvalidAmount, payment)
	}
	if !snap.Exists(debtorID) {
		return nil, fmt.Errorf("%w: unknown debtor %d", ErrInvalidParticipants, debtorID)
	}

	balance := BalanceOf(snap.Expenses, debtorID)
	if balance.GreaterThanOrEqual(Epsilon.Neg()) {
		return nil, fmt.Errorf("%w: participant %d has balance %s", ErrNothingOwed, debtorID, balance.StringFixed(Places))
	}
	owed := balance.Neg()
	if payment.GreaterThan(owed.Add(Epsilon)) {
		return nil, fmt.Errorf("%w: paying %s, owed %s", ErrOverPayment, payment.StringFixed(Places), owed.StringFixed(Places))
	}

	creditors := TraceCreditors(snap, debtorID)
	if len(creditors) == 0 {
		creditors = positiveBalances(snap, debtorID)
	}
	if len(creditors) == 0 {
		return nil, fmt.Errorf("%w: participant %d owes %s but nobody is owed money", ErrInvariantViolation, debtorID, owed.StringFixed(Places))
	}

	entries := make([]models.Expense, 0, len(creditors))
	for _, alloc := range Allocate(payment, creditors) {
		contributions, err := ComputeContributions(alloc.Owed, debtorID, []int64{alloc.ParticipantID}, snap)
		if err != nil {
			return nil, fmt.Errorf("settlement entry for %d: %w", alloc.ParticipantID, err)
		}
		entries = append(entries, models.Expense{
			Kind:          models.KindSettlement,
			Description:   settlementDescription(snap, debtorID, alloc.ParticipantID),
			Amount:        alloc.Owed,
			PayerID:       debtorID,
			DebtorIDs:     []int64{alloc.ParticipantID},
			Contributions: contributions,
		})
	}
	return entries, nil
}

// TraceCreditors returns who the debtor owes money to according to the
// expenses it shares without having paid them, sorted for distribution.
// Settlement entries the debtor already paid to a creditor reduce that
// creditor's amount; creditors left with Epsilon or less are dropped.
func TraceCreditors(snap models.Snapshot, debtorID int64) []Creditor {
	owed := make(map[int64]decimal.Decimal)
	paid := make(map[int64]decimal.Decimal)
	for _, e := range snap.Expenses {
		if e.IsSettlement() {
			if e.PayerID == debtorID && len(e.DebtorIDs) == 1 {
				paid[e.DebtorIDs[0]] = paid[e.DebtorIDs[0]].Add(e.Amount)
			}
			continue
		}
		if e.PayerID == debtorID || !e.HasDebtor(debtorID) {
			continue
		}
		owed[e.PayerID] = owed[e.PayerID].Sub(e.Contribution(debtorID))
	}

	var creditors []Creditor
	for id, amount := range owed {
		net := amount.Sub(paid[id])
		if net.GreaterThan(Epsilon) && snap.Exists(id) {
			creditors = append(creditors, Creditor{ParticipantID: id, Owed: net})
		}
	}
	sortCreditors(creditors)
	return creditors
}

func positiveBalances(snap models.Snapshot, debtorID int64) []Creditor {
	var creditors []Creditor
	for id, balance := range AllBalances(snap.Participants, snap.Expenses) {
		if id != debtorID && balance.GreaterThan(Epsilon) && snap.Exists(id) {
			creditors = append(creditors, Creditor{ParticipantID: id, Owed: balance})
		}
	}
	sortCreditors(creditors)
	return creditors
}

func sortCreditors(creditors []Creditor) {
	sort.Slice(creditors, func(i, j int) bool {
		if !creditors[i].Owed.Equal(creditors[j].Owed) {
			return creditors[i].Owed.GreaterThan(creditors[j].Owed)
		}
		return creditors[i].ParticipantID < creditors[j].ParticipantID
	})
}

// Allocate splits payment over creditors in proportion to what each is owed.
// The creditors must already be in distribution order. The returned
// allocations reuse the Creditor type with Owed holding the allocated amount,
// and always sum exactly to payment.
func Allocate(payment decimal.Decimal, creditors []Creditor) []Creditor {
	if len(creditors) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, c := range creditors {
		total = total.Add(c.Owed)
	}
	if !total.IsPositive() {
		return nil
	}

	last := len(creditors) - 1
	remaining := payment
	allocations := make([]Creditor, 0, len(creditors))
	for i, c := range creditors {
		amount := remaining
		if i != last {
			amount = payment.Mul(c.Owed).Div(total).Truncate(Places)
			// dust stays in remaining and ends up with the last creditor
			if amount.LessThanOrEqual(Epsilon) {
				continue
			}
		}
		if !amount.IsPositive() {
			continue
		}
		remaining = remaining.Sub(amount)
		allocations = append(allocations, Creditor{ParticipantID: c.ParticipantID, Owed: amount})
	}
	return allocations
}

// SettlementPrefix starts the description of every settlement entry.
const SettlementPrefix = "Payment from "

func settlementDescription(snap models.Snapshot, from, to int64) string {
	fromName, toName := snap.NameOf(from), snap.NameOf(to)
	if fromName == "" || toName == "" {
		return fmt.Sprintf("%s#%d to #%d", SettlementPrefix, from, to)
	}
	return fmt.Sprintf("%s%s to %s", SettlementPrefix, fromName, toName)
}
