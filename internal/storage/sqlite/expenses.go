package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/storage"
)

func validateExpense(expense *storage.Expense) error {
	if strings.TrimSpace(expense.Description) == "" {
		return fmt.Errorf("%w: description cannot be empty", storage.ErrInvalid)
	}
	if !expense.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", storage.ErrInvalid)
	}
	if _, err := time.Parse("2006-01-02", expense.Date); err != nil {
		return fmt.Errorf("%w: date %q", storage.ErrInvalid, expense.Date)
	}
	return nil
}

// CreateExpense persists a new expense header.
func (s *SQLiteStore) CreateExpense(ctx context.Context, expense *storage.Expense) error {
	if expense.Date == "" {
		expense.Date = time.Now().Format("2006-01-02")
	}
	if err := validateExpense(expense); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO expenses (description, amount_cents, date) VALUES (?, ?, ?)",
		expense.Description, toCents(expense.Amount), expense.Date,
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get expense id: %w", err)
	}
	expense.ID = id
	return nil
}

// GetExpense retrieves an expense header by ID.
func (s *SQLiteStore) GetExpense(ctx context.Context, expenseID int64) (*storage.Expense, error) {
	expense := &storage.Expense{}
	var cents int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, description, amount_cents, date FROM expenses WHERE id = ?",
		expenseID,
	).Scan(&expense.ID, &expense.Description, &cents, &expense.Date)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: expense %d", storage.ErrNotFound, expenseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	expense.Amount = fromCents(cents)
	return expense, nil
}

// ListExpenses retrieves all expense headers.
func (s *SQLiteStore) ListExpenses(ctx context.Context) ([]*storage.Expense, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, description, amount_cents, date FROM expenses ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*storage.Expense
	for rows.Next() {
		expense := &storage.Expense{}
		var cents int64
		if err := rows.Scan(&expense.ID, &expense.Description, &cents, &expense.Date); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expense.Amount = fromCents(cents)
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}
	return expenses, nil
}

// UpdateExpense replaces an expense header.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, expense *storage.Expense) error {
	if err := validateExpense(expense); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE expenses SET description = ?, amount_cents = ?, date = ? WHERE id = ?",
		expense.Description, toCents(expense.Amount), expense.Date, expense.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: expense %d", storage.ErrNotFound, expense.ID)
	}
	return nil
}

// DeleteExpense removes an expense; attachments go with it (ON DELETE CASCADE).
func (s *SQLiteStore) DeleteExpense(ctx context.Context, expenseID int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", expenseID)
	if err != nil {
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: expense %d", storage.ErrNotFound, expenseID)
	}
	return nil
}

// AttachFriend adds a friend to an expense with a zero amount.
func (s *SQLiteStore) AttachFriend(ctx context.Context, expenseID, friendID int64) error {
	if ok, err := s.exists(ctx, "SELECT 1 FROM expenses WHERE id = ?", expenseID); err != nil {
		return fmt.Errorf("failed to check expense existence: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: expense %d", storage.ErrNotFound, expenseID)
	}
	if ok, err := s.exists(ctx, "SELECT 1 FROM friends WHERE id = ?", friendID); err != nil {
		return fmt.Errorf("failed to check friend existence: %w", err)
	} else if !ok {
		return fmt.Errorf("%w: friend %d", storage.ErrNotFound, friendID)
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO expense_friends (expense_id, friend_id) VALUES (?, ?)",
		expenseID, friendID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: friend %d already in expense %d", storage.ErrConflict, friendID, expenseID)
	}
	if err != nil {
		return fmt.Errorf("failed to attach friend: %w", err)
	}
	return nil
}

// DetachFriend removes a friend from an expense.
func (s *SQLiteStore) DetachFriend(ctx context.Context, expenseID, friendID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM expense_friends WHERE expense_id = ? AND friend_id = ?",
		expenseID, friendID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach friend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend %d in expense %d", storage.ErrNotFound, friendID, expenseID)
	}
	return nil
}

// ListExpenseFriends returns the IDs of the friends attached to an expense.
func (s *SQLiteStore) ListExpenseFriends(ctx context.Context, expenseID int64) ([]int64, error) {
	if ok, err := s.exists(ctx, "SELECT 1 FROM expenses WHERE id = ?", expenseID); err != nil {
		return nil, fmt.Errorf("failed to check expense existence: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: expense %d", storage.ErrNotFound, expenseID)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT friend_id FROM expense_friends WHERE expense_id = ? ORDER BY friend_id",
		expenseID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expense friends: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan friend id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expense friends: %w", err)
	}
	return ids, nil
}

// GetShare returns one friend's share of an expense.
func (s *SQLiteStore) GetShare(ctx context.Context, expenseID, friendID int64) (*storage.Share, error) {
	var cents int64
	err := s.db.QueryRowContext(ctx,
		"SELECT amount_cents FROM expense_friends WHERE expense_id = ? AND friend_id = ?",
		expenseID, friendID,
	).Scan(&cents)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: friend %d in expense %d", storage.ErrNotFound, friendID, expenseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}

	credit, debit := splitCents(cents)
	return &storage.Share{
		ExpenseID:     expenseID,
		FriendID:      friendID,
		CreditBalance: credit,
		DebitBalance:  debit,
	}, nil
}

// SetAmount sets one friend's signed amount for an expense.
func (s *SQLiteStore) SetAmount(ctx context.Context, expenseID, friendID int64, amount decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE expense_friends SET amount_cents = ? WHERE expense_id = ? AND friend_id = ?",
		toCents(amount), expenseID, friendID,
	)
	if err != nil {
		return fmt.Errorf("failed to set amount: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend %d in expense %d", storage.ErrNotFound, friendID, expenseID)
	}
	return nil
}

// ListFriendExpenses returns the expenses a friend takes part in, with the friend's share.
func (s *SQLiteStore) ListFriendExpenses(ctx context.Context, friendID int64) ([]*storage.FriendExpense, error) {
	if ok, err := s.exists(ctx, "SELECT 1 FROM friends WHERE id = ?", friendID); err != nil {
		return nil, fmt.Errorf("failed to check friend existence: %w", err)
	} else if !ok {
		return nil, fmt.Errorf("%w: friend %d", storage.ErrNotFound, friendID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.description, e.amount_cents, e.date, ef.amount_cents
		FROM expenses e
		JOIN expense_friends ef ON ef.expense_id = e.id
		WHERE ef.friend_id = ?
		ORDER BY e.id`,
		friendID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friend expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*storage.FriendExpense
	for rows.Next() {
		fe := &storage.FriendExpense{}
		var amount, share int64
		if err := rows.Scan(&fe.ID, &fe.Description, &amount, &fe.Date, &share); err != nil {
			return nil, fmt.Errorf("failed to scan friend expense: %w", err)
		}
		fe.Amount = fromCents(amount)
		fe.CreditBalance, fe.DebitBalance = splitCents(share)
		expenses = append(expenses, fe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friend expenses: %w", err)
	}
	return expenses, nil
}
