package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/api"
)

// ListFriends returns every friend with its balances.
func (c *Client) ListFriends(ctx context.Context) ([]api.Friend, error) {
	var friends []api.Friend
	if err := c.do(ctx, "ListFriends", http.MethodGet, "/friends/", nil, nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// GetFriend returns one friend with its balances.
func (c *Client) GetFriend(ctx context.Context, friendID int64) (api.Friend, error) {
	var friend api.Friend
	err := c.do(ctx, "GetFriend", http.MethodGet, fmt.Sprintf("/friends/%d", friendID), nil, nil, &friend)
	return friend, err
}

// CreateFriend creates a friend and returns it with its new ID.
func (c *Client) CreateFriend(ctx context.Context, name string) (api.Friend, error) {
	var friend api.Friend
	err := c.do(ctx, "CreateFriend", http.MethodPost, "/friends/", nil, api.FriendInput{Name: name}, &friend)
	return friend, err
}

// UpdateFriend renames a friend.
func (c *Client) UpdateFriend(ctx context.Context, friendID int64, name string) (api.Friend, error) {
	var friend api.Friend
	err := c.do(ctx, "UpdateFriend", http.MethodPut, fmt.Sprintf("/friends/%d", friendID), nil, api.FriendInput{Name: name}, &friend)
	return friend, err
}

// DeleteFriend deletes a friend. The backend answers 409 if the balance is not zero.
func (c *Client) DeleteFriend(ctx context.Context, friendID int64) error {
	return c.do(ctx, "DeleteFriend", http.MethodDelete, fmt.Sprintf("/friends/%d", friendID), nil, nil, nil)
}

// ListFriendExpenses returns the expenses a friend takes part in with the
// friend's credit and debit in each.
func (c *Client) ListFriendExpenses(ctx context.Context, friendID int64) ([]api.FriendExpense, error) {
	var expenses []api.FriendExpense
	err := c.do(ctx, "ListFriendExpenses", http.MethodGet, fmt.Sprintf("/friends/%d/expenses", friendID), nil, nil, &expenses)
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// ListExpenses returns every expense header.
func (c *Client) ListExpenses(ctx context.Context) ([]api.Expense, error) {
	var expenses []api.Expense
	if err := c.do(ctx, "ListExpenses", http.MethodGet, "/expenses/", nil, nil, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// CreateExpense creates an expense header. Participants are attached separately.
func (c *Client) CreateExpense(ctx context.Context, in api.ExpenseInput) (api.Expense, error) {
	var expense api.Expense
	err := c.do(ctx, "CreateExpense", http.MethodPost, "/expenses/", nil, in, &expense)
	return expense, err
}

// UpdateExpense replaces an expense header.
func (c *Client) UpdateExpense(ctx context.Context, expenseID int64, in api.ExpenseInput) (api.Expense, error) {
	var expense api.Expense
	err := c.do(ctx, "UpdateExpense", http.MethodPut, fmt.Sprintf("/expenses/%d", expenseID), nil, in, &expense)
	return expense, err
}

// DeleteExpense deletes an expense together with its participants.
func (c *Client) DeleteExpense(ctx context.Context, expenseID int64) error {
	return c.do(ctx, "DeleteExpense", http.MethodDelete, fmt.Sprintf("/expenses/%d", expenseID), nil, nil, nil)
}

// AddExpenseFriend attaches a friend to an expense with a zero amount.
func (c *Client) AddExpenseFriend(ctx context.Context, expenseID, friendID int64) error {
	query := url.Values{"friend_id": {strconv.FormatInt(friendID, 10)}}
	return c.do(ctx, "AddExpenseFriend", http.MethodPost, fmt.Sprintf("/expenses/%d/friends", expenseID), query, nil, nil)
}

// ListExpenseFriends returns the IDs of the friends attached to an expense.
// Entries may be plain IDs or objects with a friend_id or id field.
func (c *Client) ListExpenseFriends(ctx context.Context, expenseID int64) ([]int64, error) {
	const op = "ListExpenseFriends"
	var raw []json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, fmt.Sprintf("/expenses/%d/friends", expenseID), nil, nil, &raw); err != nil {
		return nil, err
	}
	ids, err := parseFriendIDs(raw)
	if err != nil {
		return nil, &Error{Op: op, Kind: KindUnexpected, StatusCode: http.StatusOK, Err: err}
	}
	return ids, nil
}

func parseFriendIDs(raw []json.RawMessage) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, item := range raw {
		var id int64
		if err := json.Unmarshal(item, &id); err == nil {
			ids = append(ids, id)
			continue
		}
		var obj struct {
			FriendID *int64 `json:"friend_id"`
			ID       *int64 `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return nil, errors.Wrapf(err, "parse participant %s", item)
		}
		switch {
		case obj.FriendID != nil:
			ids = append(ids, *obj.FriendID)
		case obj.ID != nil:
			ids = append(ids, *obj.ID)
		default:
			return nil, errors.Errorf("participant %s has no friend_id or id", item)
		}
	}
	return ids, nil
}

// GetExpenseFriend returns one friend's credit and debit in an expense.
func (c *Client) GetExpenseFriend(ctx context.Context, expenseID, friendID int64) (api.Share, error) {
	var share api.Share
	err := c.do(ctx, "GetExpenseFriend", http.MethodGet, fmt.Sprintf("/expenses/%d/friends/%d", expenseID, friendID), nil, nil, &share)
	return share, err
}

// SetExpenseFriendAmount sets a friend's signed contribution to an expense.
func (c *Client) SetExpenseFriendAmount(ctx context.Context, expenseID, friendID int64, amount decimal.Decimal) error {
	query := url.Values{"amount": {amount.StringFixed(2)}}
	return c.do(ctx, "SetExpenseFriendAmount", http.MethodPut, fmt.Sprintf("/expenses/%d/friends/%d", expenseID, friendID), query, nil, nil)
}

// RemoveExpenseFriend detaches a friend from an expense.
func (c *Client) RemoveExpenseFriend(ctx context.Context, expenseID, friendID int64) error {
	return c.do(ctx, "RemoveExpenseFriend", http.MethodDelete, fmt.Sprintf("/expenses/%d/friends/%d", expenseID, friendID), nil, nil, nil)
}
