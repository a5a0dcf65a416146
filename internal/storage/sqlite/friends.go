package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mmynk/splitwithme/internal/storage"
)

const friendColumns = `
	SELECT f.id, f.name,
	       COALESCE(SUM(CASE WHEN ef.amount_cents > 0 THEN ef.amount_cents ELSE 0 END), 0),
	       COALESCE(SUM(CASE WHEN ef.amount_cents < 0 THEN -ef.amount_cents ELSE 0 END), 0)
	FROM friends f
	LEFT JOIN expense_friends ef ON ef.friend_id = f.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFriend(row rowScanner) (*storage.Friend, error) {
	friend := &storage.Friend{}
	var credit, debit int64
	if err := row.Scan(&friend.ID, &friend.Name, &credit, &debit); err != nil {
		return nil, err
	}
	friend.CreditBalance = fromCents(credit)
	friend.DebitBalance = fromCents(debit)
	return friend, nil
}

// CreateFriend persists a new friend.
func (s *SQLiteStore) CreateFriend(ctx context.Context, friend *storage.Friend) error {
	name := strings.TrimSpace(friend.Name)
	if name == "" {
		return fmt.Errorf("%w: friend name cannot be empty", storage.ErrInvalid)
	}

	res, err := s.db.ExecContext(ctx, "INSERT INTO friends (name) VALUES (?)", name)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: friend %q already exists", storage.ErrConflict, name)
	}
	if err != nil {
		return fmt.Errorf("failed to insert friend: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get friend id: %w", err)
	}
	friend.ID = id
	friend.Name = name
	return nil
}

// GetFriend retrieves a friend by ID, including balances.
func (s *SQLiteStore) GetFriend(ctx context.Context, friendID int64) (*storage.Friend, error) {
	row := s.db.QueryRowContext(ctx, friendColumns+" WHERE f.id = ? GROUP BY f.id", friendID)
	friend, err := scanFriend(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: friend %d", storage.ErrNotFound, friendID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get friend: %w", err)
	}
	return friend, nil
}

// ListFriends retrieves all friends with their balances.
func (s *SQLiteStore) ListFriends(ctx context.Context) ([]*storage.Friend, error) {
	rows, err := s.db.QueryContext(ctx, friendColumns+" GROUP BY f.id ORDER BY f.id")
	if err != nil {
		return nil, fmt.Errorf("failed to list friends: %w", err)
	}
	defer rows.Close()

	var friends []*storage.Friend
	for rows.Next() {
		friend, err := scanFriend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, friend)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friends: %w", err)
	}
	return friends, nil
}

// UpdateFriend renames a friend.
func (s *SQLiteStore) UpdateFriend(ctx context.Context, friend *storage.Friend) error {
	name := strings.TrimSpace(friend.Name)
	if name == "" {
		return fmt.Errorf("%w: friend name cannot be empty", storage.ErrInvalid)
	}

	res, err := s.db.ExecContext(ctx, "UPDATE friends SET name = ? WHERE id = ?", name, friend.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: friend %q already exists", storage.ErrConflict, name)
	}
	if err != nil {
		return fmt.Errorf("failed to update friend: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: friend %d", storage.ErrNotFound, friend.ID)
	}
	friend.Name = name
	return nil
}

// DeleteFriend removes a friend whose balance is settled.
func (s *SQLiteStore) DeleteFriend(ctx context.Context, friendID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var found int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM friends WHERE id = ?", friendID).Scan(&found)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: friend %d", storage.ErrNotFound, friendID)
	}
	if err != nil {
		return fmt.Errorf("failed to check friend existence: %w", err)
	}

	var net int64
	err = tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount_cents), 0) FROM expense_friends WHERE friend_id = ?",
		friendID,
	).Scan(&net)
	if err != nil {
		return fmt.Errorf("failed to compute friend balance: %w", err)
	}
	if net > 1 || net < -1 {
		return fmt.Errorf("%w: friend %d has balance %s", storage.ErrConflict, friendID, fromCents(net).StringFixed(2))
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM friends WHERE id = ?", friendID); err != nil {
		return fmt.Errorf("failed to delete friend: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
