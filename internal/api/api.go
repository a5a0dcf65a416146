// Package api defines the JSON documents exchanged with the expenses backend.
//
// Field names follow the backend contract exactly: friends carry
// credit_balance and debit_balance, expenses carry description, amount and date.
package api

import (
	"github.com/shopspring/decimal"
)

// Amount is a money value that is written as a bare JSON number with two
// decimals. It reads both numbers and quoted strings.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps a decimal.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// MarshalJSON writes the amount as a number, e.g. 12.50.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.StringFixed(2)), nil
}

// Friend is a participant as listed by GET /friends/.
type Friend struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	CreditBalance Amount `json:"credit_balance"`
	DebitBalance  Amount `json:"debit_balance"`
}

// Net returns credit_balance - debit_balance.
func (f Friend) Net() decimal.Decimal {
	return f.CreditBalance.Sub(f.DebitBalance.Decimal)
}

// FriendInput is the body of POST /friends/ and PUT /friends/{id}.
type FriendInput struct {
	Name string `json:"name"`
}

// Expense is an expense header. Participants are fetched separately.
type Expense struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Amount      Amount `json:"amount"`
	Date        string `json:"date"`
}

// ExpenseInput is the body of POST /expenses/ and PUT /expenses/{id}.
type ExpenseInput struct {
	Description string `json:"description"`
	Amount      Amount `json:"amount"`
	Date        string `json:"date,omitempty"`
}

// Share is one friend's part of one expense.
type Share struct {
	ExpenseID     int64  `json:"expense_id"`
	FriendID      int64  `json:"friend_id"`
	CreditBalance Amount `json:"credit_balance"`
	DebitBalance  Amount `json:"debit_balance"`
}

// Net returns credit_balance - debit_balance.
func (s Share) Net() decimal.Decimal {
	return s.CreditBalance.Sub(s.DebitBalance.Decimal)
}

// ExpenseFriend is one entry of GET /expenses/{id}/friends.
type ExpenseFriend struct {
	FriendID int64 `json:"friend_id"`
}

// FriendExpense is one entry of GET /friends/{id}/expenses.
type FriendExpense struct {
	Expense
	CreditBalance Amount `json:"credit_balance"`
	DebitBalance  Amount `json:"debit_balance"`
}

// Net is the friend's signed amount in the expense.
func (fe FriendExpense) Net() decimal.Decimal {
	return fe.CreditBalance.Sub(fe.DebitBalance.Decimal)
}

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
