package gateway

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/models"
)

// ErrOutOfSync reports that the backend's record of a friend differs from the
// local ledger.
var ErrOutOfSync = errors.New("out of sync with backend")

// rollbackTimeout bounds cleanup requests, which run even when the caller's
// context is already cancelled.
const rollbackTimeout = 5 * time.Second

func toExpenseInput(e models.Expense) api.ExpenseInput {
	return api.ExpenseInput{
		Description: e.Description,
		Amount:      api.NewAmount(e.Amount),
		Date:        e.Date,
	}
}

// PushExpense creates e on the backend: the header, then every participant,
// then every signed contribution. If any step fails the remote expense is
// deleted again and the original error is returned. It returns the backend ID.
func (c *Client) PushExpense(ctx context.Context, e models.Expense) (int64, error) {
	created, err := c.CreateExpense(ctx, toExpenseInput(e))
	if err != nil {
		return 0, errors.Wrapf(err, "push expense %q", e.Description)
	}

	if err := c.writeContributions(ctx, created.ID, nil, e.Contributions); err != nil {
		c.rollbackExpenses(ctx, created.ID)
		return 0, errors.Wrapf(err, "push expense %q", e.Description)
	}

	slog.Info("Expense pushed", "expense_id", created.ID, "description", e.Description, "amount", e.Amount.StringFixed(2))
	return created.ID, nil
}

// PushSettlement pushes every entry of a settlement batch. If one entry fails,
// the entries already created are deleted, so the batch is applied fully or not at all.
// It returns the backend IDs in entry order.
func (c *Client) PushSettlement(ctx context.Context, entries []models.Expense) ([]int64, error) {
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := c.PushExpense(ctx, e)
		if err != nil {
			c.rollbackExpenses(ctx, ids...)
			return nil, errors.Wrap(err, "push settlement")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ReplaceExpense overwrites the remote expense old.ID with next: header,
// participant set and contributions. On failure it tries to restore old and
// returns the original error.
func (c *Client) ReplaceExpense(ctx context.Context, old, next models.Expense) error {
	if err := c.replaceExpense(ctx, old.ID, old.Contributions, next); err != nil {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rerr := c.replaceExpense(rctx, old.ID, next.Contributions, old); rerr != nil {
			slog.Error("Failed to restore expense", "expense_id", old.ID, "error", rerr)
		}
		return errors.Wrapf(err, "replace expense %d", old.ID)
	}
	slog.Info("Expense replaced", "expense_id", old.ID, "description", next.Description)
	return nil
}

func (c *Client) replaceExpense(ctx context.Context, id int64, current map[int64]decimal.Decimal, e models.Expense) error {
	if _, err := c.UpdateExpense(ctx, id, toExpenseInput(e)); err != nil {
		return err
	}
	return c.writeContributions(ctx, id, current, e.Contributions)
}

// writeContributions moves the remote participant rows of an expense from
// current (nil for a new expense) to want.
func (c *Client) writeContributions(ctx context.Context, expenseID int64, current, want map[int64]decimal.Decimal) error {
	for _, id := range slices.Sorted(maps.Keys(current)) {
		if _, keep := want[id]; keep {
			continue
		}
		if err := c.RemoveExpenseFriend(ctx, expenseID, id); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for _, id := range slices.Sorted(maps.Keys(want)) {
		if _, attached := current[id]; !attached {
			if err := c.AddExpenseFriend(ctx, expenseID, id); err != nil && !errors.Is(err, ErrConflict) {
				return err
			}
		}
		if err := c.SetExpenseFriendAmount(ctx, expenseID, id, want[id]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) rollbackExpenses(ctx context.Context, ids ...int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	for _, id := range slices.Backward(ids) {
		if err := c.DeleteExpense(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Error("Rollback failed", "expense_id", id, "error", err)
			continue
		}
		slog.Warn("Expense rolled back", "expense_id", id)
	}
}

// CheckFriendExpenses compares the expenses friendID takes part in on the
// backend with snap. Settlement creditors are traced from these expenses, so
// a debtor whose history changed remotely must be synced before paying.
// Zero amounts are ignored on both sides.
func (c *Client) CheckFriendExpenses(ctx context.Context, friendID int64, snap models.Snapshot) error {
	remote, err := c.ListFriendExpenses(ctx, friendID)
	if err != nil {
		return err
	}

	local := make(map[int64]decimal.Decimal)
	for _, e := range snap.Expenses {
		if v, ok := e.Contributions[friendID]; ok && !v.IsZero() {
			local[e.ID] = v
		}
	}
	backend := make(map[int64]decimal.Decimal, len(remote))
	for _, fe := range remote {
		if net := fe.Net(); !net.IsZero() {
			backend[fe.ID] = net
		}
	}

	for _, id := range slices.Sorted(maps.Keys(local)) {
		got, ok := backend[id]
		if !ok {
			return errors.Wrapf(ErrOutOfSync, "friend %d: expense %d missing on backend", friendID, id)
		}
		if !got.Equal(local[id]) {
			return errors.Wrapf(ErrOutOfSync, "friend %d: expense %d is %s locally, %s on backend",
				friendID, id, local[id].StringFixed(calculator.Places), got.StringFixed(calculator.Places))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(backend)) {
		if _, ok := local[id]; !ok {
			return errors.Wrapf(ErrOutOfSync, "friend %d: expense %d only exists on backend", friendID, id)
		}
	}
	return nil
}

// PullSnapshot reads friends, expenses and every participant amount from the
// backend and rebuilds a ledger snapshot from them. Payer and debtors are
// recovered from the signed amounts. Expenses whose amounts do not net to zero
// are skipped with a warning.
func (c *Client) PullSnapshot(ctx context.Context) (models.Snapshot, error) {
	var (
		friends  []api.Friend
		expenses []api.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, err = c.ListFriends(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = c.ListExpenses(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.Snapshot{}, errors.Wrap(err, "pull snapshot")
	}

	// Each goroutine writes only its own index.
	contributions := make([]map[int64]decimal.Decimal, len(expenses))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.pullConcurrency)
	for i, e := range expenses {
		g.Go(func() error {
			amounts, err := c.fetchContributions(gctx, e.ID)
			if err != nil {
				return err
			}
			contributions[i] = amounts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Snapshot{}, errors.Wrap(err, "pull snapshot")
	}

	snap := models.Snapshot{
		Participants: make([]models.Participant, 0, len(friends)),
		Expenses:     make([]models.Expense, 0, len(expenses)),
	}
	for _, f := range friends {
		snap.Participants = append(snap.Participants, models.Participant{ID: f.ID, Name: f.Name})
	}
	for i, header := range expenses {
		e, ok := rebuildExpense(header, contributions[i])
		if !ok {
			continue
		}
		snap.Expenses = append(snap.Expenses, e)
	}

	slog.Info("Snapshot pulled", "participants", len(snap.Participants), "expenses", len(snap.Expenses))
	return snap, nil
}

func (c *Client) fetchContributions(ctx context.Context, expenseID int64) (map[int64]decimal.Decimal, error) {
	ids, err := c.ListExpenseFriends(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	amounts := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		share, err := c.GetExpenseFriend(ctx, expenseID, id)
		if err != nil {
			return nil, err
		}
		amounts[id] = share.Net()
	}
	return amounts, nil
}

// rebuildExpense recovers payer and debtors from the signed amounts. The payer
// holds the largest amount; debtors hold negative ones. Whether the payer was
// a debtor too is decided by recomputing both candidates and keeping the one
// that reproduces the stored amounts.
func rebuildExpense(header api.Expense, contributions map[int64]decimal.Decimal) (models.Expense, bool) {
	if len(contributions) == 0 {
		slog.Warn("Skipping expense without participants", "expense_id", header.ID)
		return models.Expense{}, false
	}
	if err := calculator.CheckZeroSum(contributions); err != nil {
		slog.Warn("Skipping unbalanced expense", "expense_id", header.ID, "error", err)
		return models.Expense{}, false
	}

	ids := slices.Sorted(maps.Keys(contributions))
	payerID := ids[0]
	var debtors []int64
	for _, id := range ids {
		if contributions[id].GreaterThan(contributions[payerID]) {
			payerID = id
		}
	}
	for _, id := range ids {
		if id != payerID && contributions[id].IsNegative() {
			debtors = append(debtors, id)
		}
	}

	withPayer := append(slices.Clone(debtors), payerID)
	slices.Sort(withPayer)
	switch {
	case len(debtors) > 0 && reproduces(header.Amount.Decimal, payerID, debtors, contributions):
	case reproduces(header.Amount.Decimal, payerID, withPayer, contributions):
		debtors = withPayer
	default:
		slog.Debug("Expense amounts do not match an equal split", "expense_id", header.ID)
		if contributions[payerID].LessThan(header.Amount.Decimal) {
			debtors = withPayer
		}
	}

	kind := models.KindExpense
	if strings.HasPrefix(header.Description, calculator.SettlementPrefix) {
		kind = models.KindSettlement
	}

	return models.Expense{
		ID:            header.ID,
		Kind:          kind,
		Description:   header.Description,
		Amount:        header.Amount.Decimal,
		Date:          header.Date,
		PayerID:       payerID,
		DebtorIDs:     debtors,
		Contributions: contributions,
	}, true
}

func reproduces(amount decimal.Decimal, payerID int64, debtors []int64, want map[int64]decimal.Decimal) bool {
	got, err := calculator.ComputeContributions(amount, payerID, debtors, nil)
	if err != nil || len(got) != len(want) {
		return false
	}
	for id, v := range got {
		if w, ok := want[id]; !ok || !w.Equal(v) {
			return false
		}
	}
	return true
}
