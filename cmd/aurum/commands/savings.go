package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/savings"
	"github.com/teranos/aurum/sym"
)

// SavingsCmd represents the savings command
var SavingsCmd = &cobra.Command{
	Use:   "savings",
	Short: sym.Short("savings"),
	Long: sym.Savings + ` savings — Monthly payment schedules

Examples:
  aurum savings statement <subscription-id>          # Paid, current and missed months
  aurum savings statement <subscription-id> --json`,
}

var savingsStatementCmd = &cobra.Command{
	Use:   "statement <subscription-id>",
	Short: "Show a subscription's payment schedule as of today",
	Args:  cobra.ExactArgs(1),
	RunE:  runSavingsStatement,
}

func init() {
	display.AddJSONFlag(savingsStatementCmd)
	SavingsCmd.AddCommand(savingsStatementCmd)
}

func runSavingsStatement(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := savings.NewTracker(s, clock.System{}, loc, logger.Logger).Statement(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.JSON(cmd.OutOrStdout(), st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Subscription %s (user %s, plan %s)\n", sym.Savings, st.SubscriptionID, st.UserID, st.PlanID)
	fmt.Fprintf(out, "  As of %s: %d of %d months paid, %d missed\n", date(st.AsOf), st.Paid, st.TotalMonths, st.Missed)

	rows := make([][]string, 0, len(st.Rows))
	for _, r := range st.Rows {
		amount, paymentID := "-", "-"
		if r.Payment != nil {
			amount, paymentID = money(r.Payment.Amount), r.Payment.ID
		}
		rows = append(rows, []string{strconv.Itoa(r.Month), date(r.Due), string(r.State), amount, paymentID})
	}
	if err := display.Table(out, []string{"MONTH", "DUE", "STATE", "AMOUNT", "PAYMENT"}, rows); err != nil {
		return err
	}

	switch {
	case st.Bonus != nil:
		fmt.Fprintf(out, "  Bonus allocated: %s (%s)\n", money(st.Bonus.Amount), st.Bonus.ID)
	case st.Complete:
		fmt.Fprintln(out, "  All months paid; bonus not yet allocated")
	}
	return nil
}
