// Package storage provides abstractions for the data kept by the reference
// backend: friends, expenses and the per-friend amount of every expense.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a friend, expense or attachment does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for duplicate names, duplicate attachments and
	// deleting a friend whose balance is not zero.
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned for records that fail validation.
	ErrInvalid = errors.New("invalid data")
)

// Friend is a friend as the backend reports it.
type Friend struct {
	ID            int64
	Name          string
	CreditBalance decimal.Decimal // Sum of positive expense amounts
	DebitBalance  decimal.Decimal // Sum of the magnitudes of negative expense amounts
}

// Expense is an expense header. Participants and their amounts are stored separately.
type Expense struct {
	ID          int64
	Description string
	Amount      decimal.Decimal
	Date        string
}

// Share is one friend's signed amount in one expense, split into credit and debit.
type Share struct {
	ExpenseID     int64
	FriendID      int64
	CreditBalance decimal.Decimal
	DebitBalance  decimal.Decimal
}

// FriendExpense is an expense seen from one friend, with that friend's share.
type FriendExpense struct {
	Expense
	CreditBalance decimal.Decimal
	DebitBalance  decimal.Decimal
}

// Store defines the storage operations of the reference backend.
// This abstraction allows swapping storage backends without changing the HTTP layer.
type Store interface {
	// CreateFriend persists a new friend. friend.ID is populated by the store.
	CreateFriend(ctx context.Context, friend *Friend) error

	// GetFriend returns a friend with its balances.
	GetFriend(ctx context.Context, friendID int64) (*Friend, error)

	// ListFriends returns all friends with their balances, ordered by ID.
	ListFriends(ctx context.Context) ([]*Friend, error)

	// UpdateFriend renames a friend.
	UpdateFriend(ctx context.Context, friend *Friend) error

	// DeleteFriend removes a friend. Fails with ErrConflict unless the
	// friend's net balance is within one cent of zero.
	DeleteFriend(ctx context.Context, friendID int64) error

	// CreateExpense persists a new expense header. expense.ID is populated by the store.
	CreateExpense(ctx context.Context, expense *Expense) error

	// GetExpense returns an expense header.
	GetExpense(ctx context.Context, expenseID int64) (*Expense, error)

	// ListExpenses returns all expense headers ordered by ID.
	ListExpenses(ctx context.Context) ([]*Expense, error)

	// UpdateExpense replaces an expense header.
	UpdateExpense(ctx context.Context, expense *Expense) error

	// DeleteExpense removes an expense and all its attachments.
	DeleteExpense(ctx context.Context, expenseID int64) error

	// AttachFriend adds a friend to an expense with a zero amount.
	AttachFriend(ctx context.Context, expenseID, friendID int64) error

	// DetachFriend removes a friend from an expense.
	DetachFriend(ctx context.Context, expenseID, friendID int64) error

	// ListExpenseFriends returns the IDs of the friends attached to an expense.
	ListExpenseFriends(ctx context.Context, expenseID int64) ([]int64, error)

	// GetShare returns one friend's share of an expense.
	GetShare(ctx context.Context, expenseID, friendID int64) (*Share, error)

	// SetAmount sets one friend's signed amount for an expense.
	SetAmount(ctx context.Context, expenseID, friendID int64, amount decimal.Decimal) error

	// ListFriendExpenses returns the expenses a friend is attached to, ordered by ID.
	ListFriendExpenses(ctx context.Context, friendID int64) ([]*FriendExpense, error)

	// Close releases any resources held by the store.
	Close() error
}
