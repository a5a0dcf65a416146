package calculator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for non-positive amounts or amounts finer than a cent.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidParticipants is returned when the debtor set is empty, contains
	// duplicates, or references unknown participants.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrInvariantViolation signals contributions that do not sum to zero.
	// It always indicates a bug, never bad input.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNothingOwed is returned when settling for a participant without debt.
	ErrNothingOwed = errors.New("nothing owed")

	// ErrOverPayment is returned when a payment exceeds the outstanding debt.
	ErrOverPayment = errors.New("payment exceeds amount owed")

	// ErrNonZeroBalance is matched by every *NonZeroBalanceError.
	ErrNonZeroBalance = errors.New("non-zero balance")
)

// NonZeroBalanceError refuses the deletion of a participant whose balance is not settled.
type NonZeroBalanceError struct {
	ParticipantID int64
	Balance       decimal.Decimal
}

func (e *NonZeroBalanceError) Error() string {
	return fmt.Sprintf("participant %d has non-zero balance %s", e.ParticipantID, e.Balance.StringFixed(Places))
}

// Is makes errors.Is(err, ErrNonZeroBalance) match.
func (e *NonZeroBalanceError) Is(target error) bool {
	return target == ErrNonZeroBalance
}
