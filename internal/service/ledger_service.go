// Package service coordinates the in-memory ledger with the remote backend.
//
// Every mutation runs inside one ledger update: it is validated and computed
// against the current snapshot, pushed through the gateway, and committed
// locally only when the push succeeded. A failed push leaves both sides as
// they were.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/api"
	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/gateway"
	"github.com/mmynk/splitwithme/internal/ledger"
	"github.com/mmynk/splitwithme/internal/models"
)

// Gateway is the part of the backend client the service needs.
// *gateway.Client implements it.
type Gateway interface {
	PullSnapshot(ctx context.Context) (models.Snapshot, error)
	CreateFriend(ctx context.Context, name string) (api.Friend, error)
	UpdateFriend(ctx context.Context, friendID int64, name string) (api.Friend, error)
	DeleteFriend(ctx context.Context, friendID int64) error
	PushExpense(ctx context.Context, e models.Expense) (int64, error)
	ReplaceExpense(ctx context.Context, old, next models.Expense) error
	DeleteExpense(ctx context.Context, expenseID int64) error
	PushSettlement(ctx context.Context, entries []models.Expense) ([]int64, error)
	CheckFriendExpenses(ctx context.Context, friendID int64, snap models.Snapshot) error
}

var _ Gateway = (*gateway.Client)(nil)

// LedgerService serialises mutations of one ledger and mirrors them to the backend.
type LedgerService struct {
	ledger *ledger.Ledger
	gw     Gateway
}

// NewLedgerService creates a service over l. A nil gw keeps everything local.
func NewLedgerService(l *ledger.Ledger, gw Gateway) *LedgerService {
	return &LedgerService{ledger: l, gw: gw}
}

// Ledger returns the underlying ledger, e.g. to subscribe to updates.
func (s *LedgerService) Ledger() *ledger.Ledger {
	return s.ledger
}

func (s *LedgerService) online() bool {
	return s.gw != nil
}

// Sync replaces the local ledger with the backend's state.
func (s *LedgerService) Sync(ctx context.Context) error {
	if !s.online() {
		return nil
	}
	snap, err := s.gw.PullSnapshot(ctx)
	if err != nil {
		slog.Error("Sync failed", "error", err)
		return fmt.Errorf("sync: %w", err)
	}
	if err := s.ledger.Reset(snap); err != nil {
		slog.Error("Pulled snapshot rejected", "error", err)
		return fmt.Errorf("sync: %w", err)
	}
	slog.Info("Ledger synced", "participants", len(snap.Participants), "expenses", len(snap.Expenses))
	return nil
}

// AddFriend registers a participant. Names are unique, ignoring case.
func (s *LedgerService) AddFriend(ctx context.Context, name string) (p models.Participant, err error) {
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		if !s.online() {
			p, err = tx.AddParticipant(name)
			return err
		}
		name, err := tx.CheckName(0, name)
		if err != nil {
			return err
		}
		friend, err := s.gw.CreateFriend(ctx, name)
		if errors.Is(err, gateway.ErrConflict) {
			return fmt.Errorf("%w: %q", ledger.ErrDuplicateName, name)
		}
		if err != nil {
			return err
		}
		p = models.Participant{ID: friend.ID, Name: friend.Name}
		return tx.PutParticipant(p)
	})
	if err != nil {
		slog.Error("Failed to add friend", "name", name, "error", err)
		return models.Participant{}, err
	}
	slog.Info("Friend added", "friend_id", p.ID, "name", p.Name)
	return p, nil
}

// RenameFriend changes a participant's name.
func (s *LedgerService) RenameFriend(ctx context.Context, id int64, name string) error {
	err := s.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.RenameParticipant(id, name); err != nil {
			return err
		}
		if !s.online() {
			return nil
		}
		_, err := s.gw.UpdateFriend(ctx, id, tx.Snapshot().NameOf(id))
		if errors.Is(err, gateway.ErrConflict) {
			return fmt.Errorf("%w: %q", ledger.ErrDuplicateName, name)
		}
		return err
	})
	if err != nil {
		slog.Error("Failed to rename friend", "friend_id", id, "error", err)
		return err
	}
	slog.Info("Friend renamed", "friend_id", id, "name", name)
	return nil
}

// DeleteFriend removes a participant whose balance is settled. Otherwise it
// fails with a *calculator.NonZeroBalanceError, whether the local guard or
// the backend refused.
func (s *LedgerService) DeleteFriend(ctx context.Context, id int64) error {
	err := s.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.RemoveParticipant(id); err != nil {
			return err
		}
		if !s.online() {
			return nil
		}
		err := s.gw.DeleteFriend(ctx, id)
		if errors.Is(err, gateway.ErrConflict) {
			return &calculator.NonZeroBalanceError{
				ParticipantID: id,
				Balance:       calculator.BalanceOf(tx.Snapshot().Expenses, id),
			}
		}
		return err
	})
	if err != nil {
		slog.Error("Failed to delete friend", "friend_id", id, "error", err)
		return err
	}
	slog.Info("Friend deleted", "friend_id", id)
	return nil
}

// DeleteAllFriends tries to delete every participant. Participants with an
// unsettled balance are kept and returned; the others are deleted. Any other
// failure stops the sweep.
func (s *LedgerService) DeleteAllFriends(ctx context.Context) (deleted int, refused []*calculator.NonZeroBalanceError, err error) {
	for _, p := range s.ledger.Snapshot().Participants {
		err := s.DeleteFriend(ctx, p.ID)
		var nz *calculator.NonZeroBalanceError
		switch {
		case errors.As(err, &nz):
			refused = append(refused, nz)
		case err != nil:
			return deleted, refused, err
		default:
			deleted++
		}
	}
	slog.Info("Friends swept", "deleted", deleted, "kept", len(refused))
	return deleted, refused, nil
}

// AddExpense computes the contributions of a new expense and records it.
func (s *LedgerService) AddExpense(ctx context.Context, in ledger.ExpenseInput) (e models.Expense, err error) {
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		if !s.online() {
			e, err = tx.AddExpense(in)
			return err
		}
		prepared, err := tx.PrepareExpense(in)
		if err != nil {
			return err
		}
		prepared.ID, err = s.gw.PushExpense(ctx, prepared)
		if err != nil {
			return err
		}
		e, err = tx.PutExpense(prepared)
		if err != nil {
			s.discardRemote(ctx, prepared.ID)
		}
		return err
	})
	if err != nil {
		slog.Error("Failed to add expense", "description", in.Description, "error", err)
		return models.Expense{}, err
	}
	slog.Info("Expense added",
		"expense_id", e.ID,
		"description", e.Description,
		"amount", e.Amount.StringFixed(calculator.Places),
		"payer_id", e.PayerID,
		"debtors", len(e.DebtorIDs),
	)
	return e, nil
}

// UpdateExpense recomputes an expense from new input.
func (s *LedgerService) UpdateExpense(ctx context.Context, id int64, in ledger.ExpenseInput) (e models.Expense, err error) {
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		old, ok := tx.Snapshot().Expense(id)
		if !ok {
			return fmt.Errorf("expense %d: %w", id, ledger.ErrUnknownExpense)
		}
		e, err = tx.UpdateExpense(id, in)
		if err != nil || !s.online() {
			return err
		}
		return s.gw.ReplaceExpense(ctx, old, e)
	})
	if err != nil {
		slog.Error("Failed to update expense", "expense_id", id, "error", err)
		return models.Expense{}, err
	}
	slog.Info("Expense updated", "expense_id", id, "amount", e.Amount.StringFixed(calculator.Places))
	return e, nil
}

// DeleteExpense removes an expense and its contributions.
func (s *LedgerService) DeleteExpense(ctx context.Context, id int64) error {
	err := s.ledger.Update(func(tx *ledger.Tx) error {
		if err := tx.RemoveExpense(id); err != nil || !s.online() {
			return err
		}
		return s.gw.DeleteExpense(ctx, id)
	})
	if err != nil {
		slog.Error("Failed to delete expense", "expense_id", id, "error", err)
		return err
	}
	slog.Info("Expense deleted", "expense_id", id)
	return nil
}

// DeleteAllExpenses deletes every expense and settlement entry, one at a
// time. It stops at the first failure and reports how many were deleted.
func (s *LedgerService) DeleteAllExpenses(ctx context.Context) (int, error) {
	expenses := s.ledger.Snapshot().Expenses
	for i, e := range expenses {
		if err := s.DeleteExpense(ctx, e.ID); err != nil {
			return i, err
		}
	}
	slog.Info("Expenses swept", "deleted", len(expenses))
	return len(expenses), nil
}

// Settle records a payment by a debtor, split over its creditors. The
// entries are applied all together or not at all. Online, the debtor's
// expenses on the backend must match the local ledger first, otherwise it
// fails with gateway.ErrOutOfSync and nothing is written.
func (s *LedgerService) Settle(ctx context.Context, debtorID int64, payment decimal.Decimal) (entries []models.Expense, err error) {
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		planned, err := tx.PlanSettlement(debtorID, payment)
		if err != nil {
			return err
		}
		if s.online() {
			if err := s.gw.CheckFriendExpenses(ctx, debtorID, tx.Snapshot()); err != nil {
				return err
			}
			ids, err := s.gw.PushSettlement(ctx, planned)
			if err != nil {
				return err
			}
			for i := range planned {
				planned[i].ID = ids[i]
			}
		}
		entries, err = tx.ApplyEntries(planned)
		if err != nil && s.online() {
			for _, e := range planned {
				s.discardRemote(ctx, e.ID)
			}
		}
		return err
	})
	if err != nil {
		slog.Error("Failed to settle", "debtor_id", debtorID, "payment", payment.String(), "error", err)
		return nil, err
	}
	slog.Info("Payment settled",
		"debtor_id", debtorID,
		"payment", payment.StringFixed(calculator.Places),
		"entries", len(entries),
	)
	return entries, nil
}

// discardRemote deletes an expense that was pushed but could not be recorded locally.
func (s *LedgerService) discardRemote(ctx context.Context, id int64) {
	if err := s.gw.DeleteExpense(context.WithoutCancel(ctx), id); err != nil {
		slog.Error("Failed to discard remote expense", "expense_id", id, "error", err)
	}
}

// Balances returns credit, debit and net balance per participant.
func (s *LedgerService) Balances() []calculator.ParticipantBalance {
	return s.ledger.Totals()
}

// BalanceOf returns one participant's net balance.
func (s *LedgerService) BalanceOf(id int64) (decimal.Decimal, error) {
	return s.ledger.BalanceOf(id)
}

// CanDelete reports whether a participant's balance is settled.
func (s *LedgerService) CanDelete(id int64) (bool, error) {
	return s.ledger.CanDelete(id)
}

// PreviewSplit computes the contributions an expense would produce without recording it.
func (s *LedgerService) PreviewSplit(amount decimal.Decimal, payerID int64, debtorIDs []int64) (map[int64]decimal.Decimal, error) {
	return calculator.ComputeContributions(amount, payerID, debtorIDs, s.ledger.Snapshot())
}

// SuggestTransfers proposes payments that would settle every balance.
func (s *LedgerService) SuggestTransfers() []calculator.Transfer {
	return calculator.SuggestTransfers(s.ledger.AllBalances())
}
