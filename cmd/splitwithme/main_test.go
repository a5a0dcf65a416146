package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/gateway/gatewaytest"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, &out)
	return out.String(), err
}

func TestCLIWorkflow(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	t.Setenv("SPLITWITHME_API_URL", srv.URL)
	t.Setenv("SPLITWITHME_AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	for _, name := range []string{"Alice", "Bob", "Charlie", "Diana"} {
		out, err := runCLI(t, "add-friend", "-name", name)
		require.NoError(t, err)
		require.Contains(t, out, "Added "+name)
	}

	out, err := runCLI(t, "split", "-amount", "10", "-payer", "1", "-debtors", "1,2,3")
	require.NoError(t, err)
	require.Contains(t, out, "6.66")
	require.Contains(t, out, "-3.33")

	out, err = runCLI(t, "add-expense", "-description", "Dinner", "-amount", "100", "-payer", "1", "-debtors", "1,2,3,4", "-date", "2024-03-14")
	require.NoError(t, err)
	require.Contains(t, out, `"Dinner" on 2024-03-14`)

	out, err = runCLI(t, "balances")
	require.NoError(t, err)
	require.Contains(t, out, "75.00")
	require.Contains(t, out, "-25.00")

	out, err = runCLI(t, "suggest")
	require.NoError(t, err)
	require.Contains(t, out, "Bob pays Alice 25.00")

	_, err = runCLI(t, "delete-friend", "-id", "2")
	require.ErrorIs(t, err, calculator.ErrNonZeroBalance)
	require.Contains(t, describe(err), "settle it first")

	_, err = runCLI(t, "settle", "-debtor", "2", "-amount", "26")
	require.ErrorIs(t, err, calculator.ErrOverPayment)

	out, err = runCLI(t, "settle", "-debtor", "2", "-amount", "25")
	require.NoError(t, err)
	require.Contains(t, out, "Payment from Bob to Alice: 25.00")

	out, err = runCLI(t, "delete-friend", "-id", "2")
	require.NoError(t, err)
	require.Contains(t, out, "Deleted friend #2")

	out, err = runCLI(t, "balances")
	require.NoError(t, err)
	require.NotContains(t, out, "Bob")
}

func TestCLIBulkDelete(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	t.Setenv("SPLITWITHME_API_URL", srv.URL)
	t.Setenv("SPLITWITHME_AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	out, err := runCLI(t, "delete-all-expenses")
	require.NoError(t, err)
	require.Contains(t, out, "No expenses to delete")

	for _, name := range []string{"Alice", "Bob", "Charlie"} {
		_, err := runCLI(t, "add-friend", "-name", name)
		require.NoError(t, err)
	}
	_, err = runCLI(t, "add-expense", "-description", "Taxi", "-amount", "10", "-payer", "1", "-debtors", "2")
	require.NoError(t, err)

	out, err = runCLI(t, "delete-all-friends")
	require.NoError(t, err)
	require.Contains(t, out, "Deleted 1 of 3 friends")
	require.Contains(t, out, "Kept Alice (#1): balance 10.00")
	require.Contains(t, out, "Kept Bob (#2): balance -10.00")

	out, err = runCLI(t, "delete-all-expenses")
	require.NoError(t, err)
	require.Contains(t, out, "Deleted 1 expenses")

	out, err = runCLI(t, "delete-all-friends")
	require.NoError(t, err)
	require.Contains(t, out, "Deleted 2 of 2 friends")

	out, err = runCLI(t, "delete-all-friends")
	require.NoError(t, err)
	require.Contains(t, out, "No friends to delete")
}

func TestCLIErrors(t *testing.T) {
	srv := gatewaytest.NewServer(t)
	t.Setenv("SPLITWITHME_API_URL", srv.URL)
	t.Setenv("LOG_LEVEL", "error")

	_, err := runCLI(t)
	require.Error(t, err)

	_, err = runCLI(t, "frobnicate")
	require.ErrorContains(t, err, "unknown command")

	_, err = runCLI(t, "split", "-amount", "ten", "-payer", "1", "-debtors", "1")
	require.ErrorIs(t, err, calculator.ErrInvalidAmount)

	_, err = runCLI(t, "split", "-amount", "10", "-payer", "1", "-debtors", "1,x")
	require.ErrorIs(t, err, calculator.ErrInvalidParticipants)
}

func TestDescribe(t *testing.T) {
	nz := &calculator.NonZeroBalanceError{ParticipantID: 3, Balance: decimal.RequireFromString("-4.5")}
	require.True(t, strings.Contains(describe(nz), "-4.50"))
	require.Equal(t, "this friend does not owe anything", describe(calculator.ErrNothingOwed))
}
