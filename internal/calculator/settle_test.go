package calculator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/models"
)

// apply appends settlement entries to the snapshot with sequential IDs.
func apply(snap models.Snapshot, entries []models.Expense) models.Snapshot {
	next := int64(len(snap.Expenses)) + 1
	for _, e := range entries {
		e.ID = next
		next++
		snap.Expenses = append(snap.Expenses, e)
	}
	return snap
}

func sumAmounts(entries []models.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}

func TestResolveSettlementSingleCreditor(t *testing.T) {
	snap := roster(alice, bob, charlie, diana)
	snap.Expenses = []models.Expense{expense(t, snap, 1, "100", alice, alice, bob, charlie, diana)}

	entries, err := ResolveSettlement(snap, bob, d("25"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	entry := entries[0]
	if entry.Kind != models.KindSettlement {
		t.Errorf("kind = %v, want settlement", entry.Kind)
	}
	if entry.PayerID != bob || len(entry.DebtorIDs) != 1 || entry.DebtorIDs[0] != alice {
		t.Errorf("entry payer=%d debtors=%v, want payer bob, debtors [alice]", entry.PayerID, entry.DebtorIDs)
	}
	if !entry.Amount.Equal(d("25")) {
		t.Errorf("amount = %s, want 25", entry.Amount)
	}
	if entry.Description != "Payment from Bob to Alice" {
		t.Errorf("description = %q", entry.Description)
	}

	snap = apply(snap, entries)
	if bal := BalanceOf(snap.Expenses, bob); !bal.IsZero() {
		t.Errorf("Bob's balance after settling = %s, want 0", bal)
	}
	if bal := BalanceOf(snap.Expenses, alice); !bal.Equal(d("50")) {
		t.Errorf("Alice's balance after settling = %s, want 50", bal)
	}
	if !CanDelete(snap.Expenses, bob) {
		t.Error("CanDelete(bob) = false after settling, want true")
	}
}

func TestResolveSettlementErrors(t *testing.T) {
	snap := roster(alice, bob, charlie, diana, eve)
	snap.Expenses = []models.Expense{expense(t, snap, 1, "100", alice, alice, bob, charlie, diana)}

	tests := []struct {
		name    string
		debtor  int64
		payment string
		wantErr error
	}{
		{"overpayment", bob, "26", ErrOverPayment},
		{"creditor owes nothing", alice, "10", ErrNothingOwed},
		{"uninvolved participant", eve, "1", ErrNothingOwed},
		{"zero payment", bob, "0", ErrInvalidAmount},
		{"negative payment", bob, "-5", ErrInvalidAmount},
		{"sub-cent payment", bob, "1.001", ErrInvalidAmount},
		{"unknown debtor", 99, "5", ErrInvalidParticipants},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveSettlement(snap, tt.debtor, d(tt.payment))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ResolveSettlement() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolveSettlementToleratesOneCentOver(t *testing.T) {
	snap := roster(alice, bob, charlie)
	snap.Expenses = []models.Expense{expense(t, snap, 1, "10", alice, alice, bob, charlie)}

	// Bob owes 3.33; 3.34 is within tolerance
	entries, err := ResolveSettlement(snap, bob, d("3.34"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}
	if !sumAmounts(entries).Equal(d("3.34")) {
		t.Errorf("entries sum to %s, want 3.34", sumAmounts(entries))
	}
}

func TestResolveSettlementProportional(t *testing.T) {
	snap := roster(alice, bob, charlie, diana)
	snap.Expenses = []models.Expense{
		expense(t, snap, 1, "60", alice, diana),   // Diana owes Alice 60
		expense(t, snap, 2, "30", bob, diana),     // Diana owes Bob 30
		expense(t, snap, 3, "10", charlie, diana), // Diana owes Charlie 10
	}

	entries, err := ResolveSettlement(snap, diana, d("50"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}

	want := []struct {
		creditor int64
		amount   string
	}{
		{alice, "30"},
		{bob, "15"},
		{charlie, "5"},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].DebtorIDs[0] != w.creditor || !entries[i].Amount.Equal(d(w.amount)) {
			t.Errorf("entry %d = %d:%s, want %d:%s", i, entries[i].DebtorIDs[0], entries[i].Amount, w.creditor, w.amount)
		}
	}
	if !sumAmounts(entries).Equal(d("50")) {
		t.Errorf("entries sum to %s, want 50", sumAmounts(entries))
	}
}

func TestResolveSettlementRemainderToLastCreditor(t *testing.T) {
	snap := roster(alice, bob, charlie, diana)
	snap.Expenses = []models.Expense{
		expense(t, snap, 1, "10", alice, diana),
		expense(t, snap, 2, "10", bob, diana),
		expense(t, snap, 3, "10", charlie, diana),
	}

	// 10 / 3 = 3.33 for Alice and Bob, Charlie (last by ID) gets 3.34
	entries, err := ResolveSettlement(snap, diana, d("10"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	wantOrder := []int64{alice, bob, charlie}
	wantAmount := []string{"3.33", "3.33", "3.34"}
	for i := range entries {
		if entries[i].DebtorIDs[0] != wantOrder[i] || !entries[i].Amount.Equal(d(wantAmount[i])) {
			t.Errorf("entry %d = %d:%s, want %d:%s", i, entries[i].DebtorIDs[0], entries[i].Amount, wantOrder[i], wantAmount[i])
		}
	}

	snap = apply(snap, entries)
	if !BalanceOf(snap.Expenses, diana).Equal(d("-20")) {
		t.Errorf("Diana's balance = %s, want -20", BalanceOf(snap.Expenses, diana))
	}
}

func TestResolveSettlementSkipsDust(t *testing.T) {
	snap := roster(alice, bob, charlie, diana)
	snap.Expenses = []models.Expense{
		expense(t, snap, 1, "98", alice, diana),
		expense(t, snap, 2, "1", bob, diana),
		expense(t, snap, 3, "1", charlie, diana),
	}

	// Alice gets 0.49; Bob's 0.005 truncates to zero and is not emitted;
	// Charlie, last in order, collects the remaining 0.01.
	entries, err := ResolveSettlement(snap, diana, d("0.50"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].DebtorIDs[0] != alice || !entries[0].Amount.Equal(d("0.49")) {
		t.Errorf("first entry = %d:%s, want Alice 0.49", entries[0].DebtorIDs[0], entries[0].Amount)
	}
	if entries[1].DebtorIDs[0] != charlie || !entries[1].Amount.Equal(d("0.01")) {
		t.Errorf("second entry = %d:%s, want Charlie 0.01", entries[1].DebtorIDs[0], entries[1].Amount)
	}
	if !sumAmounts(entries).Equal(d("0.50")) {
		t.Errorf("entries sum to %s, want 0.50", sumAmounts(entries))
	}
}

func TestResolveSettlementNetsEarlierPayments(t *testing.T) {
	snap := roster(alice, bob, charlie)
	snap.Expenses = []models.Expense{
		expense(t, snap, 1, "20", alice, charlie),
		expense(t, snap, 2, "20", bob, charlie),
	}

	first, err := ResolveSettlement(snap, charlie, d("20"))
	if err != nil {
		t.Fatalf("first settlement: %v", err)
	}
	snap = apply(snap, first)

	// 10 already went to each creditor; 20 remains, still split evenly
	second, err := ResolveSettlement(snap, charlie, d("20"))
	if err != nil {
		t.Fatalf("second settlement: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("got %d entries, want 2", len(second))
	}
	for _, e := range second {
		if !e.Amount.Equal(d("10")) {
			t.Errorf("entry to %d = %s, want 10", e.DebtorIDs[0], e.Amount)
		}
	}
	snap = apply(snap, second)
	if !BalanceOf(snap.Expenses, charlie).IsZero() {
		t.Errorf("Charlie's balance = %s, want 0", BalanceOf(snap.Expenses, charlie))
	}
}

func TestResolveSettlementFallsBackToPositiveBalances(t *testing.T) {
	snap := roster(alice, bob, charlie)
	// Debt without per-expense attribution: a settlement entry from Alice to Bob
	// leaves Alice credited and Bob debited.
	contributions, err := ComputeContributions(d("40"), alice, []int64{bob}, snap)
	if err != nil {
		t.Fatal(err)
	}
	snap.Expenses = []models.Expense{{
		ID:            1,
		Kind:          models.KindSettlement,
		Amount:        d("40"),
		PayerID:       alice,
		DebtorIDs:     []int64{bob},
		Contributions: contributions,
	}}

	entries, err := ResolveSettlement(snap, bob, d("40"))
	if err != nil {
		t.Fatalf("ResolveSettlement() unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].DebtorIDs[0] != alice || !entries[0].Amount.Equal(d("40")) {
		t.Fatalf("entries = %+v, want one payment of 40 to Alice", entries)
	}
}

func TestResolveSettlementConservation(t *testing.T) {
	snap := roster(alice, bob, charlie, diana, eve)
	snap.Expenses = []models.Expense{
		expense(t, snap, 1, "17.89", alice, alice, bob, charlie, diana, eve),
		expense(t, snap, 2, "42.10", bob, charlie, eve),
		expense(t, snap, 3, "7.77", diana, alice, eve),
		expense(t, snap, 4, "3.01", charlie, eve),
	}

	owed := BalanceOf(snap.Expenses, eve).Neg()
	for cents := int64(1); decimal.New(cents, -Places).LessThanOrEqual(owed); cents += 13 {
		payment := decimal.New(cents, -Places)
		entries, err := ResolveSettlement(snap, eve, payment)
		if err != nil {
			t.Fatalf("payment %s: %v", payment, err)
		}
		if !sumAmounts(entries).Equal(payment) {
			t.Fatalf("payment %s: entries sum to %s", payment, sumAmounts(entries))
		}
		for _, e := range entries {
			if err := CheckZeroSum(e.Contributions); err != nil {
				t.Fatalf("payment %s: %v", payment, err)
			}
		}
	}
}

func TestAllocate(t *testing.T) {
	if got := Allocate(d("10"), nil); got != nil {
		t.Errorf("Allocate with no creditors = %v, want nil", got)
	}

	creditors := []Creditor{
		{ParticipantID: alice, Owed: d("2")},
		{ParticipantID: bob, Owed: d("1")},
	}
	got := Allocate(d("1"), creditors)
	if len(got) != 2 {
		t.Fatalf("got %d allocations, want 2", len(got))
	}
	if !got[0].Owed.Equal(d("0.66")) || !got[1].Owed.Equal(d("0.34")) {
		t.Errorf("allocations = %s/%s, want 0.66/0.34", got[0].Owed, got[1].Owed)
	}
}
