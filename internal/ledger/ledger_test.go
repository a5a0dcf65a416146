package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/models"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedNow = func() time.Time { return time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC) }

// newGroup returns a ledger with Alice(1), Bob(2), Charlie(3) and Diana(4).
func newGroup(t *testing.T) *Ledger {
	t.Helper()
	l := New(WithClock(fixedNow))
	for _, name := range []string{"Alice", "Bob", "Charlie", "Diana"} {
		_, err := l.AddParticipant(name)
		require.NoError(t, err)
	}
	return l
}

func requireZeroSum(t *testing.T, l *Ledger) {
	t.Helper()
	total := decimal.Zero
	for _, bal := range l.AllBalances() {
		total = total.Add(bal)
	}
	require.True(t, total.IsZero(), "balances sum to %s", total)
}

func TestAddParticipant(t *testing.T) {
	l := New()

	alice, err := l.AddParticipant("  Alice ")
	require.NoError(t, err)
	require.Equal(t, int64(1), alice.ID)
	require.Equal(t, "Alice", alice.Name)

	bob, err := l.AddParticipant("Bob")
	require.NoError(t, err)
	require.Equal(t, int64(2), bob.ID)

	_, err = l.AddParticipant("alice")
	require.ErrorIs(t, err, ErrDuplicateName)

	_, err = l.AddParticipant("   ")
	require.ErrorIs(t, err, ErrInvalidName)

	snap := l.Snapshot()
	require.Len(t, snap.Participants, 2)
	require.Equal(t, uint64(2), snap.Version)
}

func TestRenameParticipant(t *testing.T) {
	l := newGroup(t)

	require.NoError(t, l.RenameParticipant(2, "Robert"))
	require.Equal(t, "Robert", l.Snapshot().NameOf(2))

	require.ErrorIs(t, l.RenameParticipant(2, "alice"), ErrDuplicateName)
	require.ErrorIs(t, l.RenameParticipant(42, "Zed"), ErrUnknownParticipant)

	// renaming to the same name in another case is allowed
	require.NoError(t, l.RenameParticipant(2, "ROBERT"))
}

func TestAddExpenseScenario(t *testing.T) {
	l := newGroup(t)

	e, err := l.AddExpense(ExpenseInput{
		Description: "Dinner",
		Amount:      d("100"),
		PayerID:     1,
		DebtorIDs:   []int64{1, 2, 3, 4},
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), e.ID)
	require.Equal(t, "2024-03-14", e.Date)
	require.Equal(t, models.KindExpense, e.Kind)

	balances := l.AllBalances()
	require.True(t, balances[1].Equal(d("75")))
	for _, id := range []int64{2, 3, 4} {
		require.True(t, balances[id].Equal(d("-25")), "participant %d: %s", id, balances[id])
	}
	requireZeroSum(t, l)

	ok, err := l.CanDelete(1)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = l.CanDelete(2)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddExpenseValidation(t *testing.T) {
	l := newGroup(t)
	before := l.Snapshot().Version

	tests := []struct {
		name    string
		in      ExpenseInput
		wantErr error
	}{
		{"blank description", ExpenseInput{Description: " ", Amount: d("10"), PayerID: 1, DebtorIDs: []int64{2}}, ErrInvalidDescription},
		{"bad date", ExpenseInput{Description: "x", Amount: d("10"), Date: "14/03/2024", PayerID: 1, DebtorIDs: []int64{2}}, ErrInvalidDate},
		{"negative amount", ExpenseInput{Description: "x", Amount: d("-10"), PayerID: 1, DebtorIDs: []int64{2}}, calculator.ErrInvalidAmount},
		{"no debtors", ExpenseInput{Description: "x", Amount: d("10"), PayerID: 1}, calculator.ErrInvalidParticipants},
		{"unknown payer", ExpenseInput{Description: "x", Amount: d("10"), PayerID: 9, DebtorIDs: []int64{2}}, calculator.ErrInvalidParticipants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.AddExpense(tt.in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
	require.Equal(t, before, l.Snapshot().Version, "failed operations must not change the ledger")
}

func TestUpdateExpenseRecomputes(t *testing.T) {
	l := newGroup(t)
	e, err := l.AddExpense(ExpenseInput{Description: "Taxi", Amount: d("30"), Date: "2024-01-02", PayerID: 1, DebtorIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	updated, err := l.UpdateExpense(e.ID, ExpenseInput{Description: "Taxi home", Amount: d("40"), PayerID: 2, DebtorIDs: []int64{3, 4}})
	require.NoError(t, err)
	require.Equal(t, e.ID, updated.ID)
	require.Equal(t, "2024-01-02", updated.Date, "date is kept when not given")
	require.False(t, updated.Involves(1), "old contributions must be dropped")

	balances := l.AllBalances()
	require.True(t, balances[1].IsZero())
	require.True(t, balances[2].Equal(d("40")))
	require.True(t, balances[3].Equal(d("-20")))
	require.True(t, balances[4].Equal(d("-20")))
	requireZeroSum(t, l)

	_, err = l.UpdateExpense(99, ExpenseInput{Description: "x", Amount: d("1"), PayerID: 1, DebtorIDs: []int64{2}})
	require.ErrorIs(t, err, ErrUnknownExpense)
}

func TestRemoveExpenseDropsContributions(t *testing.T) {
	l := newGroup(t)
	e, err := l.AddExpense(ExpenseInput{Description: "Cinema", Amount: d("24"), PayerID: 3, DebtorIDs: []int64{1, 2, 3}})
	require.NoError(t, err)

	require.NoError(t, l.RemoveExpense(e.ID))
	for id, bal := range l.AllBalances() {
		require.True(t, bal.IsZero(), "participant %d still has %s", id, bal)
	}
	require.ErrorIs(t, l.RemoveExpense(e.ID), ErrUnknownExpense)
}

func TestRemoveParticipantGuard(t *testing.T) {
	l := newGroup(t)
	_, err := l.AddExpense(ExpenseInput{Description: "Lunch", Amount: d("20"), PayerID: 1, DebtorIDs: []int64{2}})
	require.NoError(t, err)

	err = l.RemoveParticipant(2)
	require.ErrorIs(t, err, calculator.ErrNonZeroBalance)
	var nzb *calculator.NonZeroBalanceError
	require.True(t, errors.As(err, &nzb))
	require.Equal(t, int64(2), nzb.ParticipantID)
	require.True(t, nzb.Balance.Equal(d("-20")))

	// Charlie never took part
	require.NoError(t, l.RemoveParticipant(3))
	require.False(t, l.Snapshot().Exists(3))
	require.ErrorIs(t, l.RemoveParticipant(3), ErrUnknownParticipant)
}

func TestSettleScenario(t *testing.T) {
	l := newGroup(t)
	_, err := l.AddExpense(ExpenseInput{Description: "Dinner", Amount: d("100"), PayerID: 1, DebtorIDs: []int64{1, 2, 3, 4}})
	require.NoError(t, err)

	entries, err := l.Settle(2, d("25"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.KindSettlement, entries[0].Kind)
	require.Equal(t, int64(2), entries[0].PayerID)
	require.Equal(t, []int64{1}, entries[0].DebtorIDs)
	require.True(t, entries[0].Amount.Equal(d("25")))
	require.NotEmpty(t, entries[0].BatchID)
	require.NotZero(t, entries[0].ID)

	bal, err := l.BalanceOf(2)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
	ok, err := l.CanDelete(2)
	require.NoError(t, err)
	require.True(t, ok)
	requireZeroSum(t, l)

	_, err = l.Settle(3, d("26"))
	require.ErrorIs(t, err, calculator.ErrOverPayment)
	_, err = l.Settle(2, d("1"))
	require.ErrorIs(t, err, calculator.ErrNothingOwed)
}

func TestSettleBatchSharesBatchID(t *testing.T) {
	l := newGroup(t)
	_, err := l.AddExpense(ExpenseInput{Description: "A", Amount: d("30"), PayerID: 1, DebtorIDs: []int64{4}})
	require.NoError(t, err)
	_, err = l.AddExpense(ExpenseInput{Description: "B", Amount: d("10"), PayerID: 2, DebtorIDs: []int64{4}})
	require.NoError(t, err)

	entries, err := l.Settle(4, d("40"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, entries[0].BatchID, entries[1].BatchID)
	require.NotEqual(t, entries[0].ID, entries[1].ID)
	requireZeroSum(t, l)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	l := newGroup(t)
	before := l.Snapshot()
	boom := errors.New("remote write failed")

	err := l.Update(func(tx *Tx) error {
		_, err := tx.AddExpense(ExpenseInput{Description: "x", Amount: d("10"), PayerID: 1, DebtorIDs: []int64{2}})
		require.NoError(t, err)
		require.NoError(t, tx.RenameParticipant(1, "Alicia"))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after := l.Snapshot()
	require.Equal(t, before.Version, after.Version)
	require.Empty(t, after.Expenses)
	require.Equal(t, "Alice", after.NameOf(1))
}

func TestApplyEntriesRejectsRegularExpense(t *testing.T) {
	l := newGroup(t)
	err := l.Update(func(tx *Tx) error {
		e, err := tx.PrepareExpense(ExpenseInput{Description: "x", Amount: d("10"), PayerID: 1, DebtorIDs: []int64{2}})
		require.NoError(t, err)
		_, err = tx.ApplyEntries([]models.Expense{e})
		return err
	})
	require.Error(t, err)
	require.Empty(t, l.Snapshot().Expenses)
}

func TestPutExpenseRejectsUnbalanced(t *testing.T) {
	l := newGroup(t)
	err := l.Update(func(tx *Tx) error {
		_, err := tx.PutExpense(models.Expense{
			ID:            10,
			Description:   "broken",
			Amount:        d("10"),
			PayerID:       1,
			DebtorIDs:     []int64{2},
			Contributions: map[int64]decimal.Decimal{1: d("10"), 2: d("-9")},
		})
		return err
	})
	require.ErrorIs(t, err, calculator.ErrInvariantViolation)
}

func TestReset(t *testing.T) {
	l := New()
	snap := models.Snapshot{
		Participants: []models.Participant{{ID: 7, Name: "Grace"}, {ID: 3, Name: "Heidi"}},
		Expenses: []models.Expense{{
			ID:            11,
			Description:   "Rent",
			Amount:        d("500"),
			PayerID:       7,
			DebtorIDs:     []int64{3},
			Contributions: map[int64]decimal.Decimal{7: d("500"), 3: d("-500")},
		}},
	}
	require.NoError(t, l.Reset(snap))

	got := l.Snapshot()
	require.Equal(t, int64(3), got.Participants[0].ID, "participants are ordered by ID")
	bal, err := l.BalanceOf(3)
	require.NoError(t, err)
	require.True(t, bal.Equal(d("-500")))

	broken := snap
	broken.Expenses = []models.Expense{{ID: 1, Contributions: map[int64]decimal.Decimal{7: d("1")}}}
	require.ErrorIs(t, l.Reset(broken), calculator.ErrInvariantViolation)

	dup := snap
	dup.Participants = []models.Participant{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}}
	require.ErrorIs(t, l.Reset(dup), ErrDuplicateID)
}

func TestSubscribe(t *testing.T) {
	l := New()
	var versions []uint64
	unsubscribe := l.Subscribe(func(s models.Snapshot) {
		versions = append(versions, s.Version)
	})

	_, err := l.AddParticipant("Alice")
	require.NoError(t, err)
	_, err = l.AddParticipant("Alice") // fails, no event
	require.Error(t, err)
	_, err = l.AddParticipant("Bob")
	require.NoError(t, err)

	unsubscribe()
	_, err = l.AddParticipant("Charlie")
	require.NoError(t, err)

	require.Equal(t, []uint64{1, 2}, versions)
}

func TestSnapshotsAreStable(t *testing.T) {
	l := newGroup(t)
	old := l.Snapshot()

	require.NoError(t, l.RenameParticipant(1, "Alicia"))
	_, err := l.AddExpense(ExpenseInput{Description: "x", Amount: d("10"), PayerID: 1, DebtorIDs: []int64{2}})
	require.NoError(t, err)

	require.Equal(t, "Alice", old.NameOf(1))
	require.Empty(t, old.Expenses)
}

func TestConcurrentMutationsKeepZeroSum(t *testing.T) {
	l := newGroup(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payer := int64(i%4) + 1
			for j := 0; j < 25; j++ {
				_, err := l.AddExpense(ExpenseInput{
					Description: "round",
					Amount:      decimal.New(int64(100+i*7+j), -2),
					PayerID:     payer,
					DebtorIDs:   []int64{1, 2, 3, 4},
				})
				assert.NoError(t, err)
				_ = l.AllBalances()
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, l.Snapshot().Expenses, 200)
	requireZeroSum(t, l)
}

func TestCheckName(t *testing.T) {
	l := newGroup(t)

	tests := []struct {
		name    string
		id      int64
		in      string
		want    string
		wantErr error
	}{
		{"new name is trimmed", 0, "  Eve ", "Eve", nil},
		{"taken ignoring case", 0, "alice", "", ErrDuplicateName},
		{"own name may change case", 1, "ALICE", "ALICE", nil},
		{"another participant's name", 1, "bob", "", ErrDuplicateName},
		{"blank", 0, "   ", "", ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.Update(func(tx *Tx) error {
				got, err := tx.CheckName(tt.id, tt.in)
				if err != nil {
					return err
				}
				require.Equal(t, tt.want, got)
				return nil
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
