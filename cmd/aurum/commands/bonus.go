package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/teranos/aurum/am"
	"github.com/teranos/aurum/bonus"
	"github.com/teranos/aurum/display"
	"github.com/teranos/aurum/internal/clock"
	"github.com/teranos/aurum/logger"
	"github.com/teranos/aurum/sym"
)

// BonusCmd represents the bonus command
var BonusCmd = &cobra.Command{
	Use:   "bonus",
	Short: sym.Short("bonus"),
	Long: sym.Bonus + ` bonus — Completion bonus allocation

A subscription earns its bonus once every monthly payment of its plan has
completed. The bonus is credited to the subscriber's savings exactly once,
however many workers try.

Examples:
  aurum bonus check <subscription-id>      # Is the bonus due?
  aurum bonus allocate <subscription-id>   # Allocate it now
  aurum bonus sweep                        # Allocate every due bonus`,
}

var bonusCheckCmd = &cobra.Command{
	Use:   "check <subscription-id>",
	Short: "Report whether a subscription's bonus is due",
	Args:  cobra.ExactArgs(1),
	RunE:  runBonusCheck,
}

var bonusAllocateCmd = &cobra.Command{
	Use:   "allocate <subscription-id>",
	Short: "Allocate a subscription's completion bonus",
	Args:  cobra.ExactArgs(1),
	RunE:  runBonusAllocate,
}

var bonusSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Allocate every completion bonus that is due",
	RunE:  runBonusSweep,
}

var bonusSweepLimit int

func init() {
	for _, c := range []*cobra.Command{bonusCheckCmd, bonusAllocateCmd, bonusSweepCmd} {
		display.AddJSONFlag(c)
	}
	bonusSweepCmd.Flags().IntVar(&bonusSweepLimit, "limit", 0, "Subscriptions to inspect (default: bonus.sweep_limit, 0 = all)")

	BonusCmd.AddCommand(bonusCheckCmd)
	BonusCmd.AddCommand(bonusAllocateCmd)
	BonusCmd.AddCommand(bonusSweepCmd)
}

// withAllocator opens the store and builds an allocator from configuration
func withAllocator(fn func(cfg *am.Config, a *bonus.Allocator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	rates, err := bonus.RateSourceFor(cfg, s)
	if err != nil {
		return err
	}
	return fn(cfg, bonus.NewAllocator(s, rates, clock.System{}, cfg.TransactionTimeout(), logger.Logger))
}

func printAllocation(cmd *cobra.Command, a *bonus.Allocation) error {
	if display.ShouldOutputJSON(cmd) {
		return display.JSON(cmd.OutOrStdout(), a)
	}
	row := []string{a.SubscriptionID, a.UserID, strconv.FormatBool(a.Allocated), a.Reason, "-", "-"}
	if a.Payment != nil {
		row[4] = money(a.Payment.Amount)
		row[5] = a.Payment.ID
	}
	return display.Table(cmd.OutOrStdout(),
		[]string{"SUBSCRIPTION", "USER", "ALLOCATED", "REASON", "AMOUNT", "PAYMENT"},
		[][]string{row})
}

func runBonusCheck(cmd *cobra.Command, args []string) error {
	return withAllocator(func(_ *am.Config, a *bonus.Allocator) error {
		alloc, err := a.Check(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printAllocation(cmd, alloc)
	})
}

func runBonusAllocate(cmd *cobra.Command, args []string) error {
	return withAllocator(func(_ *am.Config, a *bonus.Allocator) error {
		alloc, err := a.Allocate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printAllocation(cmd, alloc)
	})
}

func runBonusSweep(cmd *cobra.Command, args []string) error {
	return withAllocator(func(cfg *am.Config, a *bonus.Allocator) error {
		limit := bonusSweepLimit
		if !cmd.Flags().Changed("limit") {
			limit = cfg.Bonus.SweepLimit
		}

		report, err := a.Sweep(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.JSON(cmd.OutOrStdout(), report)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Checked %d, allocated %d, skipped %d\n",
			sym.Bonus, report.Checked, report.Allocated, report.Skipped)
		if len(report.Errors) == 0 {
			return nil
		}
		rows := make([][]string, 0, len(report.Errors))
		for _, e := range report.Errors {
			rows = append(rows, []string{e.SubscriptionID, string(e.Kind), e.Message})
		}
		return display.Table(cmd.OutOrStdout(), []string{"SUBSCRIPTION", "KIND", "ERROR"}, rows)
	})
}
