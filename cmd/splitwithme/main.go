// Command splitwithme is a small operator CLI over the shared-expenses backend.
//
//	splitwithme [-config file] balances
//	splitwithme add-friend -name Alice
//	splitwithme split -amount 10 -payer 1 -debtors 1,2,3
//	splitwithme add-expense -description Dinner -amount 100 -payer 1 -debtors 1,2,3,4
//	splitwithme settle -debtor 2 -amount 25
//	splitwithme suggest
//	splitwithme delete-friend -id 2
//	splitwithme delete-all-expenses
//	splitwithme delete-all-friends
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/mmynk/splitwithme/internal/calculator"
	"github.com/mmynk/splitwithme/internal/config"
	"github.com/mmynk/splitwithme/internal/events"
	"github.com/mmynk/splitwithme/internal/gateway"
	"github.com/mmynk/splitwithme/internal/ledger"
	"github.com/mmynk/splitwithme/internal/service"
	"github.com/mmynk/splitwithme/pkg/logging"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	global := flag.NewFlagSet("splitwithme", flag.ContinueOnError)
	configPath := global.String("config", "", "path to YAML config")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return errors.New("missing command: balances, add-friend, split, add-expense, settle, suggest, delete-friend, delete-all-expenses, delete-all-friends")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	defer reportMetrics(ctx, reg, cfg.PushgatewayURL)

	client := gateway.New(cfg.APIURL,
		gateway.WithTimeout(cfg.Timeout),
		gateway.WithPullConcurrency(cfg.PullConcurrency),
		gateway.WithRegisterer(reg),
	)
	svc := service.NewLedgerService(ledger.New(), client)
	if err := svc.Sync(ctx); err != nil {
		return err
	}

	if cfg.AMQPURL != "" {
		publisher, err := events.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Warn("Events disabled", "error", err)
		} else {
			defer publisher.Close()
			defer publisher.Attach(svc.Ledger())()
		}
	}

	return dispatch(ctx, svc, global.Arg(0), global.Args()[1:], out)
}

func dispatch(ctx context.Context, svc *service.LedgerService, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "balances":
		if err := fs.Parse(args); err != nil {
			return err
		}
		printBalances(out, svc.Balances())
		return nil

	case "add-friend":
		name := fs.String("name", "", "friend name")
		if err := fs.Parse(args); err != nil {
			return err
		}
		p, err := svc.AddFriend(ctx, *name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added %s (#%d)\n", p.Name, p.ID)
		return nil

	case "split", "add-expense":
		description := fs.String("description", "", "expense description")
		amount := fs.String("amount", "", "total amount, e.g. 12.50")
		payer := fs.Int64("payer", 0, "payer friend id")
		debtors := fs.String("debtors", "", "comma-separated friend ids sharing the cost")
		date := fs.String("date", "", "YYYY-MM-DD, default today")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("%w: %q", calculator.ErrInvalidAmount, *amount)
		}
		ids, err := parseIDs(*debtors)
		if err != nil {
			return err
		}

		if cmd == "split" {
			contributions, err := svc.PreviewSplit(value, *payer, ids)
			if err != nil {
				return err
			}
			printContributions(out, svc, contributions)
			return nil
		}

		e, err := svc.AddExpense(ctx, ledger.ExpenseInput{
			Description: *description,
			Amount:      value,
			Date:        *date,
			PayerID:     *payer,
			DebtorIDs:   ids,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Added expense #%d %q on %s\n", e.ID, e.Description, e.Date)
		printContributions(out, svc, e.Contributions)
		return nil

	case "settle":
		debtor := fs.Int64("debtor", 0, "paying friend id")
		amount := fs.String("amount", "", "payment amount")
		if err := fs.Parse(args); err != nil {
			return err
		}
		value, err := decimal.NewFromString(*amount)
		if err != nil {
			return fmt.Errorf("%w: %q", calculator.ErrInvalidAmount, *amount)
		}
		entries, err := svc.Settle(ctx, *debtor, value)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s: %s\n", e.Description, e.Amount.StringFixed(calculator.Places))
		}
		return nil

	case "suggest":
		if err := fs.Parse(args); err != nil {
			return err
		}
		snap := svc.Ledger().Snapshot()
		transfers := svc.SuggestTransfers()
		if len(transfers) == 0 {
			fmt.Fprintln(out, "Everybody is settled up")
		}
		for _, t := range transfers {
			fmt.Fprintf(out, "%s pays %s %s\n", snap.NameOf(t.From), snap.NameOf(t.To), t.Amount.StringFixed(calculator.Places))
		}
		return nil

	case "delete-friend":
		id := fs.Int64("id", 0, "friend id")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := svc.DeleteFriend(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted friend #%d\n", *id)
		return nil

	case "delete-all-expenses":
		if err := fs.Parse(args); err != nil {
			return err
		}
		if len(svc.Ledger().Snapshot().Expenses) == 0 {
			fmt.Fprintln(out, "No expenses to delete")
			return nil
		}
		n, err := svc.DeleteAllExpenses(ctx)
		if err != nil {
			return fmt.Errorf("deleted %d expenses before failing: %w", n, err)
		}
		fmt.Fprintf(out, "Deleted %d expenses\n", n)
		return nil

	case "delete-all-friends":
		if err := fs.Parse(args); err != nil {
			return err
		}
		snap := svc.Ledger().Snapshot()
		if len(snap.Participants) == 0 {
			fmt.Fprintln(out, "No friends to delete")
			return nil
		}
		n, refused, err := svc.DeleteAllFriends(ctx)
		if err != nil {
			return fmt.Errorf("deleted %d friends before failing: %w", n, err)
		}
		fmt.Fprintf(out, "Deleted %d of %d friends\n", n, len(snap.Participants))
		for _, nz := range refused {
			fmt.Fprintf(out, "Kept %s (#%d): balance %s, settle it first\n",
				snap.NameOf(nz.ParticipantID), nz.ParticipantID, nz.Balance.StringFixed(calculator.Places))
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func parseIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad id %q", calculator.ErrInvalidParticipants, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printBalances(out io.Writer, balances []calculator.ParticipantBalance) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ID\tName\tCredit\tDebit\tNet\t")
	for _, b := range balances {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t\n", b.ParticipantID, b.Name,
			b.Credit.StringFixed(calculator.Places),
			b.Debit.StringFixed(calculator.Places),
			b.Net.StringFixed(calculator.Places))
	}
	w.Flush()
}

func printContributions(out io.Writer, svc *service.LedgerService, contributions map[int64]decimal.Decimal) {
	snap := svc.Ledger().Snapshot()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, p := range snap.Participants {
		amount, ok := contributions[p.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t\n", p.Name, amount.StringFixed(calculator.Places))
	}
	w.Flush()
}

// describe turns error kinds into messages an operator can act on.
func describe(err error) string {
	var nz *calculator.NonZeroBalanceError
	switch {
	case errors.As(err, &nz):
		return fmt.Sprintf("friend #%d still has a balance of %s; settle it first", nz.ParticipantID, nz.Balance.StringFixed(calculator.Places))
	case errors.Is(err, calculator.ErrOverPayment):
		return "the payment is larger than what is owed: " + err.Error()
	case errors.Is(err, calculator.ErrNothingOwed):
		return "this friend does not owe anything"
	case errors.Is(err, ledger.ErrDuplicateName):
		return "a friend with that name already exists"
	case errors.Is(err, gateway.ErrConnectionUnavailable):
		return "the backend is unreachable; check SPLITWITHME_API_URL"
	case errors.Is(err, gateway.ErrTimeout):
		return "the backend did not answer in time; try again or raise SPLITWITHME_TIMEOUT"
	case errors.Is(err, gateway.ErrOutOfSync):
		return "the backend changed while this command ran; run it again: " + err.Error()
	case errors.Is(err, gateway.ErrServerError):
		return "the backend failed; nothing was changed: " + err.Error()
	}
	return err.Error()
}
