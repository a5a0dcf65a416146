package calculator

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Registry tells whether a participant ID is known.
// models.Snapshot satisfies it.
type Registry interface {
	Exists(id int64) bool
}

// ComputeContributions turns an expense into signed per-participant contributions.
//
// Every debtor other than the payer is debited amount/n, rounded down to
// cents. The payer is credited the sum of those debits, which absorbs any
// rounding dust and never exceeds the amount paid: when the payer is a debtor
// too, its own share is netted into the credit and never appears as a
// separate entry. An amount too small to give every debtor at least one cent
// is rejected.
//
//	100 paid by A, debtors [A B C D] -> A:+75 B:-25 C:-25 D:-25
//	100 paid by A, debtors [B C]     -> A:+100 B:-50 C:-50
//	10 paid by A, debtors [A B C]    -> A:+6.66 B:-3.33 C:-3.33
//
// A nil registry skips the participant existence check.
func ComputeContributions(amount decimal.Decimal, payerID int64, debtorIDs []int64, registry Registry) (map[int64]decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, amount)
	}
	if !IsMoney(amount) {
		return nil, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount, Places)
	}
	if err := validateParticipants(payerID, debtorIDs, registry); err != nil {
		return nil, err
	}

	n := decimal.NewFromInt(int64(len(debtorIDs)))
	share := amount.Div(n).RoundDown(Places)
	if share.IsZero() {
		return nil, fmt.Errorf("%w: %s cannot be split among %d debtors", ErrInvalidAmount, amount, len(debtorIDs))
	}

	contributions := make(map[int64]decimal.Decimal, len(debtorIDs)+1)
	credit := decimal.Zero
	for _, id := range debtorIDs {
		if id == payerID {
			continue
		}
		contributions[id] = share.Neg()
		credit = credit.Add(share)
	}
	contributions[payerID] = credit

	if err := CheckZeroSum(contributions); err != nil {
		return nil, err
	}
	return contributions, nil
}

func validateParticipants(payerID int64, debtorIDs []int64, registry Registry) error {
	if len(debtorIDs) == 0 {
		return fmt.Errorf("%w: at least one debtor is required", ErrInvalidParticipants)
	}
	if registry != nil && !registry.Exists(payerID) {
		return fmt.Errorf("%w: unknown payer %d", ErrInvalidParticipants, payerID)
	}
	seen := make(map[int64]struct{}, len(debtorIDs))
	for _, id := range debtorIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: debtor %d listed twice", ErrInvalidParticipants, id)
		}
		seen[id] = struct{}{}
		if registry != nil && !registry.Exists(id) {
			return fmt.Errorf("%w: unknown debtor %d", ErrInvalidParticipants, id)
		}
	}
	return nil
}

// CheckZeroSum verifies that one expense's contributions net to zero.
func CheckZeroSum(contributions map[int64]decimal.Decimal) error {
	if total := sum(contributions); !total.IsZero() {
		return fmt.Errorf("%w: contributions sum to %s", ErrInvariantViolation, total)
	}
	return nil
}
